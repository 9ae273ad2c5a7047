package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registrycompletion "github.com/chirino/chat-service/internal/registry/completion"
	"github.com/go-resty/resty/v2"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registrycompletion.Register(registrycompletion.Plugin{
		Name:   "gemini",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycompletion.Provider, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.CompletionAPIKey == "" {
		return nil, fmt.Errorf("gemini completion: CHAT_SERVICE_COMPLETION_API_KEY is required")
	}
	baseURL := strings.TrimRight(cfg.CompletionBaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("x-goog-api-key", cfg.CompletionAPIKey).
		SetHeader("Content-Type", "application/json")
	return &Provider{
		client:      client,
		model:       cfg.CompletionModel,
		temperature: cfg.CompletionTemperature,
		maxTokens:   cfg.CompletionMaxOutputTokens,
	}, nil
}

// Provider calls the Gemini generateContent REST endpoint.
type Provider struct {
	client      *resty.Client
	model       string
	temperature float64
	maxTokens   int
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (p *Provider) Name() string { return "gemini" }

// buildContents maps turns onto Gemini roles. Gemini expects the first turn
// to come from the user, so leading model turns are dropped.
func buildContents(history []registrycompletion.Turn, prompt string) []content {
	contents := make([]content, 0, len(history)+1)
	for _, t := range history {
		role := "model"
		if t.Role == model.RoleUser {
			role = "user"
		}
		if len(contents) == 0 && role != "user" {
			continue
		}
		contents = append(contents, content{Role: role, Parts: []part{{Text: t.Text}}})
	}
	return append(contents, content{Role: "user", Parts: []part{{Text: prompt}}})
}

func (p *Provider) Complete(ctx context.Context, history []registrycompletion.Turn, prompt string) (string, error) {
	var result generateResponse
	var apiErr errorResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("model", p.model).
		SetBody(generateRequest{
			Contents: buildContents(history, prompt),
			GenerationConfig: generationConfig{
				Temperature:     p.temperature,
				MaxOutputTokens: p.maxTokens,
			},
		}).
		SetResult(&result).
		SetError(&apiErr).
		Post("/models/{model}:generateContent")
	if err != nil {
		return "", fmt.Errorf("gemini completion: %w", err)
	}
	if resp.IsError() {
		switch {
		case resp.StatusCode() == http.StatusTooManyRequests || apiErr.Error.Status == "RESOURCE_EXHAUSTED":
			return "", fmt.Errorf("gemini completion: %s: %w", apiErr.Error.Message, registrycompletion.ErrQuotaExceeded)
		default:
			return "", fmt.Errorf("gemini completion: status %d: %s", resp.StatusCode(), apiErr.Error.Message)
		}
	}

	if result.PromptFeedback != nil && result.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("gemini completion: prompt blocked (%s): %w", result.PromptFeedback.BlockReason, registrycompletion.ErrContentFiltered)
	}
	if len(result.Candidates) == 0 {
		return "", fmt.Errorf("gemini completion: no candidates")
	}
	candidate := result.Candidates[0]
	if candidate.FinishReason == "SAFETY" || candidate.FinishReason == "PROHIBITED_CONTENT" {
		return "", fmt.Errorf("gemini completion: reply blocked (%s): %w", candidate.FinishReason, registrycompletion.ErrContentFiltered)
	}
	var sb strings.Builder
	for _, pt := range candidate.Content.Parts {
		sb.WriteString(pt.Text)
	}
	return sb.String(), nil
}
