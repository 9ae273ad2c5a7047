// Package cucumber runs godog features against a live chat server.
//
// Each scenario starts with no users and no variables. Every user gets a
// session holding the last HTTP response it saw, so switching users also
// switches which response the assertions look at.
//
// Step text may reference values as ${ref}, see Resolve.
package cucumber

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/colors"
)

// TestDB reaches the store behind the server directly, for setup and
// assertions the API does not expose.
type TestDB interface {
	// ClearAll wipes all data. It runs before each scenario.
	ClearAll(ctx context.Context) error
	// ExecSQL returns rows keyed by column. Backends without SQL return nil rows.
	ExecSQL(ctx context.Context, query string) ([]map[string]interface{}, error)
	// AgeConversation moves a conversation's last update days into the past.
	AgeConversation(ctx context.Context, conversationID string, days int) error
}

// TestSuite is shared by every scenario of a run.
type TestSuite struct {
	APIURL   string
	TestingT *testing.T
	DB       TestDB
	// Extra carries server internals some steps drive directly, such as the store.
	Extra map[string]interface{}
}

func NewTestSuite(apiURL string) *TestSuite {
	return &TestSuite{APIURL: apiURL, Extra: map[string]interface{}{}}
}

// DefaultOptions runs features in random order, one scenario at a time.
func DefaultOptions() godog.Options {
	return godog.Options{
		Output:      colors.Colored(os.Stdout),
		Format:      "progress",
		Randomize:   time.Now().UTC().UnixNano(),
		Concurrency: 1,
	}
}

// ApplyReportOptions writes a junit report named after testName into
// $GODOG_REPORT_DIR when that is set. The returned func closes the report.
func ApplyReportOptions(opts *godog.Options, testName string) func() {
	dir := os.Getenv("GODOG_REPORT_DIR")
	if dir == "" {
		return func() {}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return func() {}
	}
	f, err := os.Create(filepath.Join(dir, strings.ReplaceAll(testName, "/", "-")+".xml"))
	if err != nil {
		return func() {}
	}
	opts.Output = f
	opts.Format = "junit"
	return func() { _ = f.Close() }
}

// TestUser is an account registered through the API during a scenario.
type TestUser struct {
	Name  string
	ID    string
	Email string
	Token string
}

// TestScenario is the state of one running scenario.
type TestScenario struct {
	Suite       *TestSuite
	CurrentUser string
	Users       map[string]*TestUser
	Variables   map[string]interface{}
	sessions    map[string]*TestSession
}

// AddUser records u and exposes it to steps as ${name.id}, ${name.email} and
// ${name.token}.
func (s *TestScenario) AddUser(u *TestUser) {
	s.Users[u.Name] = u
	s.Variables[u.Name] = map[string]interface{}{"id": u.ID, "email": u.Email, "token": u.Token, "username": u.Name}
}

// SwitchUser makes name the current user. Requests then carry its token.
func (s *TestScenario) SwitchUser(name string) error {
	u := s.Users[name]
	if u == nil {
		return fmt.Errorf("user %q is not registered", name)
	}
	s.CurrentUser = name
	s.Session().TestUser = u
	return nil
}

// User returns the current user, or nil before anyone is authenticated.
func (s *TestScenario) User() *TestUser {
	return s.Users[s.CurrentUser]
}

func (s *TestScenario) Session() *TestSession {
	session := s.sessions[s.CurrentUser]
	if session == nil {
		session = &TestSession{TestUser: s.User(), Client: &http.Client{}, Header: http.Header{}}
		s.sessions[s.CurrentUser] = session
	}
	return session
}

// TestSession is one user's HTTP client state.
type TestSession struct {
	TestUser  *TestUser
	Client    *http.Client
	Resp      *http.Response
	RespBytes []byte
	// Header is sent with the next request only.
	Header   http.Header
	respJSON interface{}
}

// RespJSON decodes the last response body, caching the result.
func (s *TestSession) RespJSON() (interface{}, error) {
	if s.respJSON == nil {
		if s.RespBytes == nil {
			return nil, fmt.Errorf("no response body")
		}
		if err := json.Unmarshal(s.RespBytes, &s.respJSON); err != nil {
			return nil, fmt.Errorf("error parsing response json: %w\njson was:\n%s", err, s.RespBytes)
		}
	}
	return s.respJSON, nil
}

func (s *TestSession) SetRespBytes(data []byte) {
	s.RespBytes = data
	s.respJSON = nil
}

// StepModules register steps for each new scenario. Packages append to it from init().
var StepModules []func(ctx *godog.ScenarioContext, s *TestScenario)

func (suite *TestSuite) InitializeScenario(ctx *godog.ScenarioContext) {
	s := &TestScenario{
		Suite:     suite,
		Users:     map[string]*TestUser{},
		Variables: map[string]interface{}{},
		sessions:  map[string]*TestSession{},
	}
	for _, module := range StepModules {
		module(ctx, s)
	}
}
