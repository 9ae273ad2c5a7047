package bdd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chirino/chat-service/internal/testutil/cucumber"
	"github.com/cucumber/godog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const liveWait = 5 * time.Second

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		l := &liveSteps{s: s, conns: map[string]*liveConn{}}
		ctx.Step(`^I open a live connection "([^"]*)"$`, l.iOpenALiveConnection)
		ctx.Step(`^opening a live connection with token "([^"]*)" should fail with status (\d+)$`, l.openingWithTokenShouldFail)
		ctx.Step(`^on live connection "([^"]*)" I send "([^"]*)" with data:$`, l.iSendWithData)
		ctx.Step(`^live connection "([^"]*)" should receive "([^"]*)"$`, l.shouldReceive)
		ctx.Step(`^live connection "([^"]*)" should not have received "([^"]*)"$`, l.shouldNotHaveReceived)
		ctx.Step(`^I close live connection "([^"]*)"$`, l.iCloseLiveConnection)
		ctx.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
			l.closeAll()
			return ctx, err
		})
	})
}

type liveFrame struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type liveConn struct {
	ws      *websocket.Conn
	frames  chan liveFrame
	pending []liveFrame
	nextID  int
}

type liveSteps struct {
	s     *cucumber.TestScenario
	conns map[string]*liveConn
}

func (l *liveSteps) liveURL(token string) string {
	base := strings.Replace(l.s.Suite.APIURL, "http", "ws", 1) + "/v1/live"
	if token == "" {
		return base
	}
	return base + "?token=" + token
}

func (l *liveSteps) iOpenALiveConnection(name string) error {
	user := l.s.User()
	if user == nil {
		return fmt.Errorf("no authenticated user")
	}
	header := http.Header{"Authorization": []string{"Bearer " + user.Token}}
	ws, _, err := websocket.DefaultDialer.Dial(l.liveURL(""), header)
	if err != nil {
		return fmt.Errorf("live dial: %w", err)
	}
	c := &liveConn{ws: ws, frames: make(chan liveFrame, 64)}
	go func() {
		defer close(c.frames)
		for {
			var f liveFrame
			if err := ws.ReadJSON(&f); err != nil {
				return
			}
			c.frames <- f
		}
	}()
	l.conns[name] = c

	f, err := l.next(c)
	if err != nil {
		return err
	}
	if f.Event != "connected" {
		return fmt.Errorf("expected a connected event, got %s", f.Event)
	}
	var hello map[string]interface{}
	if err := json.Unmarshal(f.Data, &hello); err != nil {
		return err
	}
	l.s.Variables[name] = hello
	return nil
}

func (l *liveSteps) openingWithTokenShouldFail(token string, status int) error {
	expanded, err := l.s.Expand(token)
	if err != nil {
		return err
	}
	ws, resp, err := websocket.DefaultDialer.Dial(l.liveURL(expanded), nil)
	if err == nil {
		_ = ws.Close()
		return fmt.Errorf("live connection with token %q was accepted", expanded)
	}
	if resp == nil {
		return fmt.Errorf("live dial failed without a response: %w", err)
	}
	if resp.StatusCode != status {
		return fmt.Errorf("expected status %d, got %d", status, resp.StatusCode)
	}
	return nil
}

func (l *liveSteps) conn(name string) (*liveConn, error) {
	c := l.conns[name]
	if c == nil {
		return nil, fmt.Errorf("live connection %q is not open", name)
	}
	return c, nil
}

func (l *liveSteps) next(c *liveConn) (liveFrame, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return liveFrame{}, fmt.Errorf("live connection closed")
		}
		return f, nil
	case <-time.After(liveWait):
		return liveFrame{}, fmt.Errorf("no live frame within %s", liveWait)
	}
}

// call sends one frame and waits for its ack. Frames that arrive first are
// kept for later expectations.
func (l *liveSteps) call(c *liveConn, event string, data json.RawMessage) (liveFrame, error) {
	c.nextID++
	id := strconv.Itoa(c.nextID)
	if err := c.ws.WriteJSON(liveFrame{Event: event, ID: id, Data: data}); err != nil {
		return liveFrame{}, err
	}
	for {
		f, err := l.next(c)
		if err != nil {
			return liveFrame{}, err
		}
		if f.Event == "ack" && f.ID == id {
			return f, nil
		}
		c.pending = append(c.pending, f)
	}
}

func (l *liveSteps) iSendWithData(name, event string, data *godog.DocString) error {
	c, err := l.conn(name)
	if err != nil {
		return err
	}
	expanded, err := l.s.Expand(data.Content)
	if err != nil {
		return err
	}
	ack, err := l.call(c, event, json.RawMessage(expanded))
	if err != nil {
		return err
	}
	l.s.Session().SetRespBytes(ack.Data)
	return nil
}

func (l *liveSteps) shouldReceive(name, event string) error {
	c, err := l.conn(name)
	if err != nil {
		return err
	}
	for i, f := range c.pending {
		if f.Event == event {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			l.s.Session().SetRespBytes(f.Data)
			return nil
		}
	}
	for {
		f, err := l.next(c)
		if err != nil {
			return fmt.Errorf("waiting for %s: %w", event, err)
		}
		if f.Event == event {
			l.s.Session().SetRespBytes(f.Data)
			return nil
		}
		c.pending = append(c.pending, f)
	}
}

// shouldNotHaveReceived flushes everything already queued for the connection
// with an ack round trip, then checks that none of it is the named event.
func (l *liveSteps) shouldNotHaveReceived(name, event string) error {
	c, err := l.conn(name)
	if err != nil {
		return err
	}
	barrier, _ := json.Marshal(map[string]string{"conversationId": uuid.Nil.String()})
	if _, err := l.call(c, "typing_stop", barrier); err != nil {
		return err
	}
	for _, f := range c.pending {
		if f.Event == event {
			return fmt.Errorf("live connection %q received %s: %s", name, event, f.Data)
		}
	}
	return nil
}

func (l *liveSteps) iCloseLiveConnection(name string) error {
	c, err := l.conn(name)
	if err != nil {
		return err
	}
	delete(l.conns, name)
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.ws.Close()
}

func (l *liveSteps) closeAll() {
	for name, c := range l.conns {
		_ = c.ws.Close()
		delete(l.conns, name)
	}
}
