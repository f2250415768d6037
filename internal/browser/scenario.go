package browser

import (
	"context"
	"fmt"

	"github.com/maltedev/storefront-scraper/internal/fetcher"
	"github.com/playwright-community/playwright-go"
)

// Actions is the subset of page interactions a JS scenario needs.
type Actions interface {
	Click(selector string, ignoreMissing bool) error
	Scroll(selector string) error
	WaitFor(selector, state string, timeoutMs int) error
	Exists(selector string) (bool, error)
	Wait(ms int)
}

// RunScenario replays steps in order. A condition step whose selector state
// matches ends the scenario early.
func RunScenario(ctx context.Context, a Actions, steps []fetcher.ScenarioStep) error {
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		switch {
		case step.Click != "":
			err = a.Click(step.Click, step.IgnoreIfMissing)
		case step.Scroll != "":
			err = a.Scroll(step.Scroll)
		case step.WaitForSelector != "":
			err = a.WaitFor(step.WaitForSelector, step.State, step.Timeout)
		case step.Condition != nil:
			stop, cerr := conditionMet(a, step.Condition)
			if cerr != nil {
				err = cerr
			} else if stop {
				return nil
			}
		case step.Wait > 0:
			a.Wait(step.Wait)
		}
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

func conditionMet(a Actions, c *fetcher.Condition) (bool, error) {
	exists, err := a.Exists(c.Selector)
	if err != nil {
		return false, err
	}
	switch c.SelectorState {
	case "not_existing":
		return !exists, nil
	case "existing":
		return exists, nil
	}
	return false, fmt.Errorf("unknown selector state %q", c.SelectorState)
}

type playwrightActions struct {
	page playwright.Page
}

func (p *playwrightActions) Click(selector string, ignoreMissing bool) error {
	loc := p.page.Locator(selector).First()
	if ignoreMissing {
		visible, err := loc.IsVisible()
		if err != nil || !visible {
			return nil
		}
	}
	return loc.Click()
}

func (p *playwrightActions) Scroll(selector string) error {
	if selector == fetcher.ScrollBottom {
		_, err := p.page.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`)
		return err
	}
	return p.page.Locator(selector).First().ScrollIntoViewIfNeeded()
}

func (p *playwrightActions) WaitFor(selector, state string, timeoutMs int) error {
	opts := playwright.LocatorWaitForOptions{State: waitState(state)}
	if timeoutMs > 0 {
		opts.Timeout = playwright.Float(float64(timeoutMs))
	}
	return p.page.Locator(selector).First().WaitFor(opts)
}

func (p *playwrightActions) Exists(selector string) (bool, error) {
	n, err := p.page.Locator(selector).Count()
	return n > 0, err
}

func (p *playwrightActions) Wait(ms int) {
	p.page.WaitForTimeout(float64(ms))
}

func waitState(state string) *playwright.WaitForSelectorState {
	switch state {
	case "attached":
		return playwright.WaitForSelectorStateAttached
	case "detached":
		return playwright.WaitForSelectorStateDetached
	case "hidden":
		return playwright.WaitForSelectorStateHidden
	default:
		return playwright.WaitForSelectorStateVisible
	}
}
