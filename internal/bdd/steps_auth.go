package bdd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/chirino/chat-service/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		a := &authSteps{s: s}
		ctx.Step(`^I am authenticated as user "([^"]*)"$`, a.iAmAuthenticatedAsUser)
		ctx.Step(`^I authenticate as user "([^"]*)"$`, a.iAmAuthenticatedAsUser)
		ctx.Step(`^user "([^"]*)" is registered$`, a.userIsRegistered)
	})
}

type authSteps struct {
	s *cucumber.TestScenario
}

// iAmAuthenticatedAsUser switches to the named user, registering it through
// the API the first time it is used in a scenario.
func (a *authSteps) iAmAuthenticatedAsUser(name string) error {
	if err := a.userIsRegistered(name); err != nil {
		return err
	}
	return a.s.SwitchUser(name)
}

func (a *authSteps) userIsRegistered(name string) error {
	if a.s.Users[name] != nil {
		return nil
	}

	email := strings.ToLower(name) + "@example.com"
	body, err := json.Marshal(map[string]string{
		"username": name,
		"email":    email,
		"password": "password-" + name,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, a.s.Suite.APIURL+"/v1/auth/register", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("registering %s: unexpected status %d", name, resp.StatusCode)
	}
	var out struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("registering %s: %w", name, err)
	}

	a.s.AddUser(&cucumber.TestUser{Name: name, ID: out.User.ID, Email: email, Token: out.Token})
	return nil
}
