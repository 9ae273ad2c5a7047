package cucumber

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// JSONMustMatch fails unless actual and the expanded expected document are
// equal as JSON values. Mismatches are reported as a unified diff.
func (s *TestScenario) JSONMustMatch(actual, expected string) error {
	got, want, err := s.parsePair(actual, expected)
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(want, got) {
		return fmt.Errorf("actual does not match expected, diff:\n%s", unifiedDiff(indent(want), indent(got)))
	}
	return nil
}

// JSONMustContain fails unless every field of the expanded expected document
// is present in actual with the same value. Arrays must match in length and
// their elements are compared the same way.
func (s *TestScenario) JSONMustContain(actual, expected string) error {
	got, want, err := s.parsePair(actual, expected)
	if err != nil {
		return err
	}
	if err := jsonSubset(want, got, "$"); err != nil {
		return fmt.Errorf("actual does not contain expected: %s\nactual:\n%s", err, indent(got))
	}
	return nil
}

func (s *TestScenario) parsePair(actual, expected string) (got, want interface{}, err error) {
	if err := json.Unmarshal([]byte(actual), &got); err != nil {
		return nil, nil, fmt.Errorf("error parsing actual json: %w\njson was:\n%s", err, actual)
	}
	expanded, err := s.Expand(expected)
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(expanded) == "" {
		return nil, nil, fmt.Errorf("expected json not specified, actual json was:\n%s", indent(got))
	}
	if err := json.Unmarshal([]byte(expanded), &want); err != nil {
		return nil, nil, fmt.Errorf("error parsing expected json: %w\njson was:\n%s", err, expanded)
	}
	return got, want, nil
}

func jsonSubset(expected, actual interface{}, path string) error {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return fmt.Errorf("at %s: expected object, got %T", path, actual)
		}
		for key, v := range exp {
			av, exists := act[key]
			if !exists {
				return fmt.Errorf("at %s: missing key %q", path, key)
			}
			if err := jsonSubset(v, av, path+"."+key); err != nil {
				return err
			}
		}
		return nil
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return fmt.Errorf("at %s: expected array, got %T", path, actual)
		}
		if len(exp) != len(act) {
			return fmt.Errorf("at %s: expected %d items, got %d", path, len(exp), len(act))
		}
		for i := range exp {
			if err := jsonSubset(exp[i], act[i], fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	}
	if !reflect.DeepEqual(expected, actual) {
		return fmt.Errorf("at %s: expected %v, got %v", path, expected, actual)
	}
	return nil
}

func indent(v interface{}) string {
	data, _ := json.MarshalIndent(v, "", "  ")
	return string(data)
}

func unifiedDiff(expected, actual string) string {
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(expected),
		B:        difflib.SplitLines(actual),
		FromFile: "Expected",
		ToFile:   "Actual",
		Context:  1,
	})
	return diff
}
