package cucumber

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newScenario() *TestScenario {
	return &TestScenario{
		Suite:     NewTestSuite("http://localhost"),
		Users:     map[string]*TestUser{},
		Variables: map[string]interface{}{},
		sessions:  map[string]*TestSession{},
	}
}

func TestExpandResolvesVariablesAndResponse(t *testing.T) {
	s := newScenario()
	s.AddUser(&TestUser{Name: "alice", ID: "u-1", Email: "alice@example.com", Token: "tok"})
	s.Variables["count"] = 3
	s.Session().SetRespBytes([]byte(`{"items":[{"id":"c-1","n":1.5}],"ok":true}`))

	out, err := s.Expand("${alice.id}/${alice.username}/${count}/${response.items[0].id}/${response.items[0].n}/${response.ok}")
	require.NoError(t, err)
	require.Equal(t, "u-1/alice/3/c-1/1.5/true", out)

	out, err = s.Expand(`${response.items | json}`)
	require.NoError(t, err)
	require.Equal(t, `[{"id":"c-1","n":1.5}]`, out)
}

func TestExpandReportsUnknownReferences(t *testing.T) {
	s := newScenario()
	_, err := s.Expand("${missing}")
	require.ErrorContains(t, err, "not defined")

	s.Variables["x"] = "v"
	_, err = s.Expand("${x | nope}")
	require.ErrorContains(t, err, "unknown pipe")
}

func TestJSONMustContain(t *testing.T) {
	s := newScenario()
	s.Variables["id"] = "c-1"
	actual := `{"conversationId":"c-1","message":{"role":"user","content":"hi","id":"m-1"}}`

	require.NoError(t, s.JSONMustContain(actual, `{"conversationId":"${id}","message":{"role":"user"}}`))
	require.ErrorContains(t, s.JSONMustContain(actual, `{"message":{"role":"assistant"}}`), "$.message.role")
	require.ErrorContains(t, s.JSONMustContain(actual, `{"other":1}`), `missing key "other"`)
}

func TestJSONMustMatchShowsDiff(t *testing.T) {
	s := newScenario()
	err := s.JSONMustMatch(`{"a":1}`, `{"a":2}`)
	require.ErrorContains(t, err, "Expected")
	require.NoError(t, s.JSONMustMatch(`{"a":[1,2]}`, `{"a": [1, 2]}`))
}
