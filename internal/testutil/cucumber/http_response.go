package cucumber

import (
	"fmt"
	"net/http"

	"github.com/cucumber/godog"
)

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^the response code should be (\d+)$`, s.responseCodeShouldBe)
		ctx.Step(`^the response should match json:$`, func(doc *godog.DocString) error {
			return s.withBody(func(body string) error { return s.JSONMustMatch(body, doc.Content) })
		})
		ctx.Step(`^the response should contain json:$`, func(doc *godog.DocString) error {
			return s.withBody(func(body string) error { return s.JSONMustContain(body, doc.Content) })
		})
		ctx.Step(`^the response should be an? "([^"]*)" error$`, s.responseShouldBeError)
		ctx.Step(`^the "([^"]*)" selection from the response should match "([^"]*)"$`, s.selectionShouldMatch)
		ctx.Step(`^the "([^"]*)" selection from the response should have (\d+) items?$`, s.selectionShouldHaveItems)
		ctx.Step(`^I store the "([^"]*)" selection from the response as \${([^}]*)}$`, s.storeSelection)
		ctx.Step(`^\${([^}]*)} is not empty$`, s.variableIsNotEmpty)
		ctx.Step(`^"([^"]*)" should match "([^"]*)"$`, s.textShouldMatch)
	})
}

// errorStatus maps each error envelope code to the HTTP status carrying it.
var errorStatus = map[string]int{
	"validation_error": http.StatusBadRequest,
	"unauthenticated":  http.StatusUnauthorized,
	"not_found":        http.StatusNotFound,
	"conflict":         http.StatusConflict,
	"rate_limited":     http.StatusTooManyRequests,
	"internal_error":   http.StatusInternalServerError,
	"gateway_failure":  http.StatusBadGateway,
}

func (s *TestScenario) withBody(fn func(body string) error) error {
	session := s.Session()
	if len(session.RespBytes) == 0 {
		return fmt.Errorf("got an empty response from server, expected a json body")
	}
	return fn(string(session.RespBytes))
}

func (s *TestScenario) responseCodeShouldBe(expected int) error {
	session := s.Session()
	if session.Resp == nil {
		return fmt.Errorf("no HTTP response available")
	}
	if actual := session.Resp.StatusCode; actual != expected {
		return fmt.Errorf("expected response code %d, got %d, body: %s", expected, actual, session.RespBytes)
	}
	return nil
}

func (s *TestScenario) responseShouldBeError(code string) error {
	status, ok := errorStatus[code]
	if !ok {
		return fmt.Errorf("unknown error code %q", code)
	}
	if err := s.responseCodeShouldBe(status); err != nil {
		return err
	}
	return s.selectionShouldMatch(".code", code)
}

func (s *TestScenario) selectFromResponse(selector string) (interface{}, error) {
	doc, err := s.Session().RespJSON()
	if err != nil {
		return nil, err
	}
	return selectJSON(doc, selector)
}

// selectionShouldMatch compares the rendered selection with the expanded
// text. A null selection matches "null".
func (s *TestScenario) selectionShouldMatch(selector, expected string) error {
	value, err := s.selectFromResponse(selector)
	if err != nil {
		return err
	}
	want, err := s.Expand(expected)
	if err != nil {
		return err
	}
	got := "null"
	if value != nil {
		if got, err = render(value); err != nil {
			return err
		}
	}
	if got != want {
		return fmt.Errorf("selection %s: expected %q, got %q", selector, want, got)
	}
	return nil
}

func (s *TestScenario) selectionShouldHaveItems(selector string, count int) error {
	value, err := s.selectFromResponse(selector)
	if err != nil {
		return err
	}
	items, ok := value.([]interface{})
	if !ok {
		return fmt.Errorf("selection %s is %T, not an array", selector, value)
	}
	if len(items) != count {
		return fmt.Errorf("selection %s has %d items, expected %d", selector, len(items), count)
	}
	return nil
}

func (s *TestScenario) storeSelection(selector, as string) error {
	value, err := s.selectFromResponse(selector)
	if err != nil {
		return err
	}
	s.Variables[as] = value
	return nil
}

func (s *TestScenario) variableIsNotEmpty(ref string) error {
	value, err := s.Resolve(ref)
	if err != nil {
		return err
	}
	if value == nil || value == "" {
		return fmt.Errorf("${%s} is empty", ref)
	}
	return nil
}

func (s *TestScenario) textShouldMatch(actual, expected string) error {
	got, err := s.Expand(actual)
	if err != nil {
		return err
	}
	want, err := s.Expand(expected)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("actual does not match expected, diff:\n%s", unifiedDiff(want, got))
	}
	return nil
}
