package bdd

import (
	"context"
	"fmt"
	"time"

	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/service"
	"github.com/chirino/chat-service/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		e := &evictionSteps{s: s}
		ctx.Step(`^the conversation was last updated (\d+) days ago$`, e.theConversationWasLastUpdatedDaysAgo)
		ctx.Step(`^eviction runs with a retention of (\d+) days$`, e.evictionRunsWithRetention)
		ctx.Step(`^(\d+) conversations? should have been evicted$`, e.conversationsShouldHaveBeenEvicted)
	})
}

type evictionSteps struct {
	s       *cucumber.TestScenario
	evicted int
}

func (e *evictionSteps) theConversationWasLastUpdatedDaysAgo(days int) error {
	if e.s.Suite.DB == nil {
		return fmt.Errorf("no TestDB configured")
	}
	convID := fmt.Sprintf("%v", e.s.Variables["conversationId"])
	return e.s.Suite.DB.AgeConversation(context.Background(), convID, days)
}

func (e *evictionSteps) evictionRunsWithRetention(days int) error {
	store, ok := e.s.Suite.Extra["store"].(registrystore.ChatStore)
	if !ok {
		return fmt.Errorf("no store configured for eviction")
	}
	svc := service.NewEvictionService(store, time.Duration(days)*24*time.Hour, time.Hour, 100)
	e.evicted = svc.RunOnce(context.Background())
	return nil
}

func (e *evictionSteps) conversationsShouldHaveBeenEvicted(count int) error {
	if e.evicted != count {
		return fmt.Errorf("expected %d evicted conversation(s), got %d", count, e.evicted)
	}
	return nil
}
