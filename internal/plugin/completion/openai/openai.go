package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registrycompletion "github.com/chirino/chat-service/internal/registry/completion"
	goopenai "github.com/sashabaranov/go-openai"
)

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registrycompletion.Register(registrycompletion.Plugin{
		Name:   "openai",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycompletion.Provider, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.CompletionAPIKey == "" {
		return nil, fmt.Errorf("openai completion: CHAT_SERVICE_COMPLETION_API_KEY is required")
	}
	clientCfg := goopenai.DefaultConfig(cfg.CompletionAPIKey)
	if base := strings.TrimRight(cfg.CompletionBaseURL, "/"); base != "" {
		clientCfg.BaseURL = base
	}
	return &Provider{
		client:      goopenai.NewClientWithConfig(clientCfg),
		model:       cfg.CompletionModel,
		temperature: float32(cfg.CompletionTemperature),
		maxTokens:   cfg.CompletionMaxOutputTokens,
	}, nil
}

// Provider calls the OpenAI chat completions API (or any compatible endpoint).
type Provider struct {
	client      *goopenai.Client
	model       string
	temperature float32
	maxTokens   int
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Complete(ctx context.Context, history []registrycompletion.Turn, prompt string) (string, error) {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(history)+1)
	for _, t := range history {
		role := goopenai.ChatMessageRoleAssistant
		if t.Role == model.RoleUser {
			role = goopenai.ChatMessageRoleUser
		}
		messages = append(messages, goopenai.ChatCompletionMessage{Role: role, Content: t.Text})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: prompt})

	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion: empty response")
	}
	choice := resp.Choices[0]
	if choice.FinishReason == goopenai.FinishReasonContentFilter {
		return "", fmt.Errorf("openai completion: %w", registrycompletion.ErrContentFiltered)
	}
	return choice.Message.Content, nil
}

func classify(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		code, _ := apiErr.Code.(string)
		switch {
		case code == "content_filter" || code == "content_policy_violation":
			return fmt.Errorf("openai completion: %s: %w", apiErr.Message, registrycompletion.ErrContentFiltered)
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests || code == "insufficient_quota":
			return fmt.Errorf("openai completion: %s: %w", apiErr.Message, registrycompletion.ErrQuotaExceeded)
		}
		return fmt.Errorf("openai completion: %w", err)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("openai completion: %w", registrycompletion.ErrQuotaExceeded)
	}
	return fmt.Errorf("openai completion: %w", err)
}
