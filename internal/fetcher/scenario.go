package fetcher

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ScenarioStep is one browser action of a JS scenario. Exactly one action
// field should be set; the step encodes to the scraping API's js_scenario
// grammar and is replayed locally by the browser fetcher.
type ScenarioStep struct {
	Wait            int        `json:"-"`
	Click           string     `json:"-"`
	Scroll          string     `json:"-"`
	WaitForSelector string     `json:"-"`
	State           string     `json:"-"`
	Timeout         int        `json:"-"`
	IgnoreIfMissing bool       `json:"-"`
	Condition       *Condition `json:"-"`
}

// Condition stops the scenario (action "exit_success") when the selector is
// in the given state.
type Condition struct {
	Selector      string `json:"selector"`
	SelectorState string `json:"selector_state"`
	Action        string `json:"action"`
}

// ScrollBottom scrolls to the end of the document.
const ScrollBottom = "bottom"

func Wait(ms int) ScenarioStep { return ScenarioStep{Wait: ms} }

func Click(selector string) ScenarioStep {
	return ScenarioStep{Click: selector, IgnoreIfMissing: true}
}

func Scroll(selector string) ScenarioStep { return ScenarioStep{Scroll: selector} }

func WaitFor(selector string, timeoutMs int) ScenarioStep {
	return ScenarioStep{WaitForSelector: selector, State: "visible", Timeout: timeoutMs}
}

func ExitIfMissing(selector string) ScenarioStep {
	return ScenarioStep{Condition: &Condition{Selector: selector, SelectorState: "not_existing", Action: "exit_success"}}
}

func (s ScenarioStep) MarshalJSON() ([]byte, error) {
	var v map[string]any
	switch {
	case s.Click != "":
		v = map[string]any{"click": map[string]any{
			"selector":              s.Click,
			"ignore_if_not_visible": s.IgnoreIfMissing,
		}}
	case s.Scroll != "":
		v = map[string]any{"scroll": map[string]any{"selector": s.Scroll}}
	case s.WaitForSelector != "":
		step := map[string]any{"selector": s.WaitForSelector}
		if s.State != "" {
			step["state"] = s.State
		}
		if s.Timeout > 0 {
			step["timeout"] = s.Timeout
		}
		v = map[string]any{"wait_for_selector": step}
	case s.Condition != nil:
		v = map[string]any{"condition": s.Condition}
	case s.Wait > 0:
		v = map[string]any{"wait": s.Wait}
	default:
		return nil, fmt.Errorf("empty scenario step")
	}
	return json.Marshal(v)
}

// EncodeScenario renders steps as base64url JSON as expected by js_scenario.
func EncodeScenario(steps []ScenarioStep) (string, error) {
	data, err := json.Marshal(steps)
	if err != nil {
		return "", fmt.Errorf("failed to encode js scenario: %w", err)
	}
	return base64.URLEncoding.EncodeToString(data), nil
}
