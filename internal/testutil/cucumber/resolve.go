package cucumber

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/itchyny/gojq"
)

// Expand replaces every ${ref} in value with the resolved text.
func (s *TestScenario) Expand(value string) (string, error) {
	var firstErr error
	out := os.Expand(value, func(ref string) string {
		text, err := s.ResolveString(ref)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return text
	})
	return out, firstErr
}

// Resolve evaluates a reference of the form root[.path][ | pipe ...].
//
// root is "response" for the last response body, or a scenario variable.
// path is a jq path applied to it, for example "response.items[0].id" or
// "tab1.user.username". Pipes post-process the value, see Pipes.
func (s *TestScenario) Resolve(ref string) (interface{}, error) {
	parts := strings.Split(ref, "|")
	expr := strings.TrimSpace(parts[0])

	root, path := expr, ""
	if i := strings.IndexAny(expr, ".["); i > 0 {
		root, path = expr[:i], expr[i:]
	}

	var doc interface{}
	if root == "response" {
		var err error
		if doc, err = s.Session().RespJSON(); err != nil {
			return nil, err
		}
	} else {
		v, ok := s.Variables[root]
		if !ok {
			return nil, fmt.Errorf("variable ${%s} not defined yet", root)
		}
		doc = v
	}

	value := doc
	if path != "" {
		if strings.HasPrefix(path, "[") {
			path = "." + path
		}
		var err error
		if value, err = selectJSON(doc, path); err != nil {
			return nil, fmt.Errorf("${%s}: %w", expr, err)
		}
	}

	for _, name := range parts[1:] {
		pipe := Pipes[strings.TrimSpace(name)]
		if pipe == nil {
			return nil, fmt.Errorf("unknown pipe: %s", strings.TrimSpace(name))
		}
		var err error
		if value, err = pipe(value); err != nil {
			return nil, err
		}
	}
	return value, nil
}

// ResolveString resolves ref and renders it as step text. Strings and
// numbers render bare, null renders empty and anything else as JSON.
func (s *TestScenario) ResolveString(ref string) (string, error) {
	value, err := s.Resolve(ref)
	if err != nil {
		return "", err
	}
	return render(value)
}

// Pipes are the transformations available after "|" in a reference.
var Pipes = map[string]func(interface{}) (interface{}, error){
	"json": func(v interface{}) (interface{}, error) {
		data, err := json.Marshal(v)
		return string(data), err
	},
	"string": func(v interface{}) (interface{}, error) {
		return fmt.Sprintf("%v", v), nil
	},
}

// selectJSON runs a jq selector and returns its first result. doc is
// round-tripped through JSON when it holds types gojq cannot walk.
func selectJSON(doc interface{}, selector string) (interface{}, error) {
	query, err := gojq.Parse(selector)
	if err != nil {
		return nil, err
	}
	next, found := query.Run(normalizeJSON(doc)).Next()
	if !found {
		return nil, fmt.Errorf("nothing matches selector %s", selector)
	}
	if err, ok := next.(error); ok {
		return nil, fmt.Errorf("selector %s failed: %w", selector, err)
	}
	return next, nil
}

func normalizeJSON(v interface{}) interface{} {
	switch v.(type) {
	case nil, bool, int, float64, string, map[string]interface{}, []interface{}:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func render(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
