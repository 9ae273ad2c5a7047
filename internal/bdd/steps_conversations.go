package bdd

import (
	"fmt"

	"github.com/chirino/chat-service/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		c := &conversationSteps{s: s}
		ctx.Step(`^I have a conversation$`, c.iHaveAConversation)
		ctx.Step(`^I have a conversation with title "([^"]*)"$`, c.iHaveAConversationWithTitle)
		ctx.Step(`^I send the message "([^"]*)"$`, c.iSendTheMessage)
		ctx.Step(`^I list the messages$`, c.iListTheMessages)
		ctx.Step(`^I delete the conversation$`, c.iDeleteTheConversation)
		ctx.Step(`^I clear the conversation$`, c.iClearTheConversation)
	})
}

type conversationSteps struct {
	s *cucumber.TestScenario
}

func (c *conversationSteps) iHaveAConversation() error {
	if err := c.s.Call("POST", "/v1/conversations", &godog.DocString{Content: `{}`}); err != nil {
		return err
	}
	return c.storeConversationID()
}

func (c *conversationSteps) iHaveAConversationWithTitle(title string) error {
	if err := c.iHaveAConversation(); err != nil {
		return err
	}
	body := fmt.Sprintf(`{"title": %q}`, title)
	if err := c.s.Call("PUT", "/v1/conversations/${conversationId}/title", &godog.DocString{Content: body}); err != nil {
		return err
	}
	resp := c.s.Session().Resp
	if resp == nil || resp.StatusCode != 200 {
		return fmt.Errorf("renaming conversation failed: %s", c.s.Session().RespBytes)
	}
	return nil
}

func (c *conversationSteps) storeConversationID() error {
	session := c.s.Session()
	if session.Resp == nil || session.Resp.StatusCode != 201 {
		return fmt.Errorf("creating conversation failed: %s", session.RespBytes)
	}
	doc, err := session.RespJSON()
	if err != nil {
		return err
	}
	m, _ := doc.(map[string]interface{})
	conv, _ := m["conversation"].(map[string]interface{})
	id, ok := conv["id"].(string)
	if !ok {
		return fmt.Errorf("create response has no conversation id: %s", session.RespBytes)
	}
	c.s.Variables["conversationId"] = id
	return nil
}

func (c *conversationSteps) iSendTheMessage(text string) error {
	body := fmt.Sprintf(`{"conversationId": "${conversationId}", "message": %q}`, text)
	return c.s.Call("POST", "/v1/chat", &godog.DocString{Content: body})
}

func (c *conversationSteps) iListTheMessages() error {
	return c.s.Call("GET", "/v1/conversations/${conversationId}/messages", nil)
}

func (c *conversationSteps) iDeleteTheConversation() error {
	return c.s.Call("DELETE", "/v1/conversations/${conversationId}", nil)
}

func (c *conversationSteps) iClearTheConversation() error {
	return c.s.Call("DELETE", "/v1/conversations/${conversationId}/clear", nil)
}
