package cucumber

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cucumber/godog"
)

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^I call (GET|POST|PUT|DELETE) "([^"]*)"$`, func(method, path string) error {
			return s.Call(method, path, nil)
		})
		ctx.Step(`^I call (GET|POST|PUT|DELETE) "([^"]*)" with body:$`, func(method, path string, body *godog.DocString) error {
			return s.Call(method, path, body)
		})
		ctx.Step(`^I call (GET|POST|PUT|DELETE) "([^"]*)" without authentication$`, func(method, path string) error {
			return s.callAnonymously(method, path, nil)
		})
		ctx.Step(`^I call (GET|POST|PUT|DELETE) "([^"]*)" without authentication with body:$`, s.callAnonymously)
		ctx.Step(`^I set the "([^"]*)" header to "([^"]*)"$`, s.setHeader)
	})
}

// Call sends a request to the API as the current user and records the
// response in the user's session. path and body are expanded first.
func (s *TestScenario) Call(method, path string, body *godog.DocString) error {
	session := s.Session()
	session.Resp = nil
	session.SetRespBytes(nil)

	expandedPath, err := s.Expand(path)
	if err != nil {
		return err
	}
	var payload io.Reader = http.NoBody
	if body != nil {
		expanded, err := s.Expand(body.Content)
		if err != nil {
			return err
		}
		payload = strings.NewReader(expanded)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, s.Suite.APIURL+expandedPath, payload)
	if err != nil {
		return err
	}
	req.Header, session.Header = session.Header, http.Header{}
	if req.Header.Get("Authorization") == "" && session.TestUser != nil {
		req.Header.Set("Authorization", "Bearer "+session.TestUser.Token)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := session.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, expandedPath, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	session.Resp = resp
	session.SetRespBytes(data)
	return nil
}

// callAnonymously sends the request without the current user's token or a
// previously set Authorization header.
func (s *TestScenario) callAnonymously(method, path string, body *godog.DocString) error {
	session := s.Session()
	session.Header.Del("Authorization")
	user := session.TestUser
	session.TestUser = nil
	defer func() { session.TestUser = user }()
	return s.Call(method, path, body)
}

func (s *TestScenario) setHeader(name, value string) error {
	expanded, err := s.Expand(value)
	if err != nil {
		return err
	}
	s.Session().Header.Set(name, strings.TrimSpace(expanded))
	return nil
}
