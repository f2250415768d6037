// Package api exposes crawl jobs and one-shot scrapes over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/storefront-scraper/internal/database"
	"github.com/maltedev/storefront-scraper/internal/jobs"
	"github.com/maltedev/storefront-scraper/internal/models"
	"github.com/maltedev/storefront-scraper/internal/scraper"
	"github.com/maltedev/storefront-scraper/internal/sites"
)

type JobService interface {
	CreateJob(ctx context.Context, req jobs.Request) (*jobs.Job, error)
	CreateJobs(ctx context.Context, reqs []jobs.Request) ([]*jobs.Job, error)
	GetJob(ctx context.Context, id string) (*jobs.Job, error)
	ListJobs(ctx context.Context, status string, limit int) []*jobs.Job
	CancelJob(ctx context.Context, id string) error
	GetStats(ctx context.Context) *jobs.Stats
}

// Scraper runs single crawl steps synchronously. *scraper.Crawler
// implements it.
type Scraper interface {
	Search(ctx context.Context, site sites.Site, query string, maxPages int) ([]models.Preview, error)
	Product(ctx context.Context, site sites.Site, productURL string) (*models.Product, error)
	Reviews(ctx context.Context, site sites.Site, product *models.Product, maxPages int) ([]models.Review, error)
}

// ProductStore reads persisted crawl output. Nil when no database is
// configured.
type ProductStore interface {
	GetProduct(ctx context.Context, site, id string) (*models.Product, error)
	ListReviews(ctx context.Context, site, id string, limit int) ([]models.Review, error)
	CountBySite(ctx context.Context) (map[string]int, error)
}

type Backlog interface {
	Backlog(ctx context.Context) (pending, deadLetter int64, err error)
}

type Handlers struct {
	scraper  Scraper
	jobs     JobService
	products ProductStore
	backlog  Backlog
	logger   *slog.Logger
}

func NewHandlers(s Scraper, j JobService, products ProductStore, backlog Backlog, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		scraper:  s,
		jobs:     j,
		products: products,
		backlog:  backlog,
		logger:   logger.With("component", "api"),
	}
}

type SiteInfo struct {
	Name           string `json:"name"`
	MaxSearchPages int    `json:"max_search_pages"`
	MaxReviewPages int    `json:"max_review_pages"`
	StrictCap      bool   `json:"strict_review_cap"`
}

func (h *Handlers) ListSites(w http.ResponseWriter, r *http.Request) {
	names := sites.Names()
	out := make([]SiteInfo, 0, len(names))
	for _, name := range names {
		site, err := sites.Get(name)
		if err != nil {
			continue
		}
		info := SiteInfo{
			Name:           site.Name(),
			MaxSearchPages: site.MaxSearchPages(),
			MaxReviewPages: site.MaxReviewPages(),
		}
		if strict, ok := site.(sites.StrictReviewCap); ok {
			info.StrictCap = strict.StrictReviewCap()
		}
		out = append(out, info)
	}
	h.respondJSON(w, http.StatusOK, out)
}

// CreateJobRequest accepts either a single job or a batch under "jobs".
type CreateJobRequest struct {
	jobs.Request
	Jobs []jobs.Request `json:"jobs,omitempty"`
}

type CreateJobResponse struct {
	JobID   string      `json:"job_id,omitempty"`
	Status  string      `json:"status,omitempty"`
	Jobs    []*jobs.Job `json:"jobs,omitempty"`
	Message string      `json:"message"`
}

func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.Jobs) > 0 {
		created, err := h.jobs.CreateJobs(r.Context(), req.Jobs)
		if err != nil {
			h.respondErr(w, "failed to create jobs", err)
			return
		}
		h.respondJSON(w, http.StatusCreated, CreateJobResponse{
			Jobs:    created,
			Message: strconv.Itoa(len(created)) + " jobs created",
		})
		return
	}

	job, err := h.jobs.CreateJob(r.Context(), req.Request)
	if err != nil {
		h.respondErr(w, "failed to create job", err)
		return
	}
	h.respondJSON(w, http.StatusCreated, CreateJobResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Job created successfully",
	})
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		h.respondErr(w, "failed to get job", err)
		return
	}
	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	list := h.jobs.ListJobs(r.Context(), r.URL.Query().Get("status"), limit)
	if list == nil {
		list = []*jobs.Job{}
	}
	h.respondJSON(w, http.StatusOK, list)
}

func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if err := h.jobs.CancelJob(r.Context(), id); err != nil {
		h.respondErr(w, "failed to cancel job", err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "message": "cancellation requested"})
}

type StatsResponse struct {
	Jobs *jobs.Stats `json:"jobs"`
	// ProductsBySite counts stored products; omitted without a database.
	ProductsBySite map[string]int `json:"products_by_site,omitempty"`
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Jobs: h.jobs.GetStats(r.Context())}
	if h.products != nil {
		counts, err := h.products.CountBySite(r.Context())
		if err != nil {
			h.respondErr(w, "failed to count products", err)
			return
		}
		resp.ProductsBySite = counts
	}
	h.respondJSON(w, http.StatusOK, resp)
}

type ScrapeRequest struct {
	Site     string `json:"site"`
	Query    string `json:"query,omitempty"`
	URL      string `json:"url,omitempty"`
	MaxPages int    `json:"max_pages,omitempty"`
}

type ScrapeResponse struct {
	Site     string           `json:"site"`
	Previews []models.Preview `json:"previews,omitempty"`
	Product  *models.Product  `json:"product,omitempty"`
	Reviews  []models.Review  `json:"reviews,omitempty"`
	Errors   []string         `json:"errors,omitempty"`
}

func (h *Handlers) decodeScrape(w http.ResponseWriter, r *http.Request, needURL bool) (sites.Site, *ScrapeRequest, bool) {
	var req ScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return nil, nil, false
	}
	site, err := sites.Get(req.Site)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return nil, nil, false
	}
	if needURL && req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return nil, nil, false
	}
	if !needURL && req.Query == "" {
		h.respondError(w, http.StatusBadRequest, "query is required")
		return nil, nil, false
	}
	return site, &req, true
}

// ScrapeSearch runs a search crawl and returns the previews. Pages that
// failed are listed under "errors".
func (h *Handlers) ScrapeSearch(w http.ResponseWriter, r *http.Request) {
	site, req, ok := h.decodeScrape(w, r, false)
	if !ok {
		return
	}
	previews, err := h.scraper.Search(r.Context(), site, req.Query, req.MaxPages)
	if err != nil && len(previews) == 0 {
		h.respondErr(w, "search failed", err)
		return
	}
	h.respondJSON(w, http.StatusOK, ScrapeResponse{
		Site:     site.Name(),
		Previews: previews,
		Errors:   pageErrors(err),
	})
}

func (h *Handlers) ScrapeProduct(w http.ResponseWriter, r *http.Request) {
	site, req, ok := h.decodeScrape(w, r, true)
	if !ok {
		return
	}
	product, err := h.scraper.Product(r.Context(), site, req.URL)
	if err != nil {
		h.respondErr(w, "product scrape failed", err)
		return
	}
	h.respondJSON(w, http.StatusOK, ScrapeResponse{Site: site.Name(), Product: product})
}

// ScrapeReviews fetches the product page first, since review requests are
// built from the product's ID and review count.
func (h *Handlers) ScrapeReviews(w http.ResponseWriter, r *http.Request) {
	site, req, ok := h.decodeScrape(w, r, true)
	if !ok {
		return
	}
	product, err := h.scraper.Product(r.Context(), site, req.URL)
	if err != nil {
		h.respondErr(w, "product scrape failed", err)
		return
	}
	reviews, err := h.scraper.Reviews(r.Context(), site, product, req.MaxPages)
	if err != nil && len(reviews) == 0 {
		h.respondErr(w, "review scrape failed", err)
		return
	}
	h.respondJSON(w, http.StatusOK, ScrapeResponse{
		Site:    site.Name(),
		Product: product,
		Reviews: reviews,
		Errors:  pageErrors(err),
	})
}

func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	if h.products == nil {
		h.respondError(w, http.StatusNotImplemented, "no database configured")
		return
	}
	product, err := h.products.GetProduct(r.Context(), chi.URLParam(r, "site"), chi.URLParam(r, "productID"))
	if err != nil {
		h.respondErr(w, "failed to get product", err)
		return
	}
	h.respondJSON(w, http.StatusOK, product)
}

func (h *Handlers) GetProductReviews(w http.ResponseWriter, r *http.Request) {
	if h.products == nil {
		h.respondError(w, http.StatusNotImplemented, "no database configured")
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	reviews, err := h.products.ListReviews(r.Context(), chi.URLParam(r, "site"), chi.URLParam(r, "productID"), limit)
	if err != nil {
		h.respondErr(w, "failed to list reviews", err)
		return
	}
	if reviews == nil {
		reviews = []models.Review{}
	}
	h.respondJSON(w, http.StatusOK, reviews)
}

// Health reports outbox backlog when a database is configured. A large
// dead-letter count marks the service unavailable.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "ok"}
	status := http.StatusOK

	if h.backlog != nil {
		pending, dead, err := h.backlog.Backlog(r.Context())
		if err != nil {
			h.logger.Error("failed to read outbox backlog", "error", err)
			health["status"] = "error"
			health["message"] = "outbox unavailable"
			h.respondJSON(w, http.StatusServiceUnavailable, health)
			return
		}
		health["outbox"] = map[string]int64{"pending": pending, "dead_letter": dead}
		if pending > 1000 {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if dead > 100 {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}
	if h.jobs != nil {
		health["jobs"] = h.jobs.GetStats(r.Context())
	}
	h.respondJSON(w, status, health)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}

func pageErrors(err error) []string {
	var out []string
	for _, pe := range scraper.PageErrors(err) {
		out = append(out, pe.Error())
	}
	return out
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, sites.ErrUnknownSite),
		errors.Is(err, jobs.ErrInvalidQuery),
		errors.Is(err, scraper.ErrPageCapExceeded):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrJobNotFound),
		errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, scraper.ErrNoResults):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrJobFinished):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrManagerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, scraper.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, scraper.ErrBlocked), errors.Is(err, sites.ErrNoData):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondErr maps err to a status code. Server-side failures are logged
// and hidden behind msg.
func (h *Handlers) respondErr(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "error", err)
		if status == http.StatusInternalServerError {
			h.respondError(w, status, msg)
			return
		}
	}
	h.respondError(w, status, err.Error())
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
