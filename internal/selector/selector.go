// Package selector extracts values from HTML documents with CSS and XPath
// expressions over a single parsed tree.
package selector

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

type Selector struct {
	root *html.Node
	doc  *goquery.Document
}

func Parse(content string) (*Selector, error) {
	root, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return New(root), nil
}

func New(root *html.Node) *Selector {
	return &Selector{
		root: root,
		doc:  goquery.NewDocumentFromNode(root),
	}
}

func (s *Selector) Root() *html.Node {
	return s.root
}

func (s *Selector) Document() *goquery.Document {
	return s.doc
}

func (s *Selector) CSS(sel string) Selection {
	return Selection{s.doc.Find(sel)}
}

// XPath evaluates expr against the document root. Invalid expressions yield
// an empty result; use XPathErr to observe the error.
func (s *Selector) XPath(expr string) Nodes {
	nodes, _ := s.XPathErr(expr)
	return nodes
}

func (s *Selector) XPathErr(expr string) (Nodes, error) {
	return query(s.root, expr)
}

func query(top *html.Node, expr string) (Nodes, error) {
	nodes, err := htmlquery.QueryAll(top, expr)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", expr, err)
	}
	return Nodes(nodes), nil
}

// Selection wraps a goquery selection with scrapy-like accessors.
type Selection struct {
	*goquery.Selection
}

// Get returns the trimmed text of the first matched node.
func (s Selection) Get() string {
	if s.Length() == 0 {
		return ""
	}
	return strings.TrimSpace(s.First().Text())
}

func (s Selection) GetAll() []string {
	out := make([]string, 0, s.Length())
	s.Selection.Each(func(_ int, sel *goquery.Selection) {
		if text := strings.TrimSpace(sel.Text()); text != "" {
			out = append(out, text)
		}
	})
	return out
}

// Attr returns the attribute of the first matched node, or "".
func (s Selection) Attr(name string) string {
	v, _ := s.First().Attr(name)
	return strings.TrimSpace(v)
}

func (s Selection) Attrs(name string) []string {
	var out []string
	s.Selection.Each(func(_ int, sel *goquery.Selection) {
		if v, ok := sel.Attr(name); ok && strings.TrimSpace(v) != "" {
			out = append(out, strings.TrimSpace(v))
		}
	})
	return out
}

// Join concatenates all matched texts with single spaces.
func (s Selection) Join() string {
	return strings.Join(strings.Fields(strings.Join(s.GetAll(), " ")), " ")
}

func (s Selection) CSS(sel string) Selection {
	return Selection{s.Find(sel)}
}

func (s Selection) Each(fn func(int, Selection)) {
	s.Selection.Each(func(i int, sel *goquery.Selection) {
		fn(i, Selection{sel})
	})
}

// XPath evaluates expr relative to every matched node.
func (s Selection) XPath(expr string) Nodes {
	var out Nodes
	for _, n := range s.Nodes {
		found, err := query(n, expr)
		if err != nil {
			return nil
		}
		out = append(out, found...)
	}
	return out
}

// Nodes is an XPath result set. Attribute and text nodes yield their value.
type Nodes []*html.Node

func (n Nodes) Len() int { return len(n) }

func (n Nodes) Get() string {
	if len(n) == 0 {
		return ""
	}
	return strings.TrimSpace(htmlquery.InnerText(n[0]))
}

func (n Nodes) GetAll() []string {
	out := make([]string, 0, len(n))
	for _, node := range n {
		if text := strings.TrimSpace(htmlquery.InnerText(node)); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func (n Nodes) Join() string {
	return strings.Join(strings.Fields(strings.Join(n.GetAll(), " ")), " ")
}

func (n Nodes) Attr(name string) string {
	if len(n) == 0 {
		return ""
	}
	return strings.TrimSpace(htmlquery.SelectAttr(n[0], name))
}

func (n Nodes) Each(fn func(int, Nodes)) {
	for i, node := range n {
		fn(i, Nodes{node})
	}
}

// XPath evaluates expr relative to each node; use "./" or ".//" prefixes.
func (n Nodes) XPath(expr string) Nodes {
	var out Nodes
	for _, node := range n {
		found, err := query(node, expr)
		if err != nil {
			return nil
		}
		out = append(out, found...)
	}
	return out
}

func (n Nodes) CSS(sel string) Selection {
	if len(n) == 0 {
		return Selection{new(goquery.Selection)}
	}
	return Selection{goquery.NewDocumentFromNode(n[0]).Selection.Find(sel)}
}

func (n Nodes) HTML() string {
	if len(n) == 0 {
		return ""
	}
	return htmlquery.OutputHTML(n[0], true)
}

var patterns sync.Map

// ReFirst returns the first capture group of pattern in text, or the whole
// match when the pattern has no groups.
func ReFirst(text, pattern string) string {
	var re *regexp.Regexp
	if cached, ok := patterns.Load(pattern); ok {
		re = cached.(*regexp.Regexp)
	} else {
		re = regexp.MustCompile(pattern)
		patterns.Store(pattern, re)
	}
	m := re.FindStringSubmatch(text)
	switch {
	case m == nil:
		return ""
	case len(m) > 1:
		return strings.TrimSpace(m[1])
	default:
		return strings.TrimSpace(m[0])
	}
}
