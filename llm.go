package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"
const defaultOpenAIModel = "gpt-4o-mini"

type LLMUsage struct {
	InputTokens  int64
	OutputTokens int64
}

func (u LLMUsage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *LLMUsage) Add(other LLMUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Backend is the single capability the engine needs from a language model:
// one stateless completion per call.
type Backend interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, LLMUsage, error)
	Name() string
}

// NewBackend builds a backend for a provider name the way the config
// selects providers.
func NewBackend(provider, model, anthropicKey, openAIKey string) (Backend, error) {
	switch provider {
	case "anthropic":
		if model == "" {
			model = defaultAnthropicModel
		}
		return &anthropicBackend{apiKey: anthropicKey, model: model}, nil
	case "openai":
		if model == "" {
			model = defaultOpenAIModel
		}
		return &openAIBackend{apiKey: openAIKey, model: model}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider '%s'", provider)
	}
}

// BackendSet routes calls to the primary backend until an auth/billing-class
// error is seen, then permanently fails over to the secondary for the rest
// of the process lifetime. The switch is a one-way compare-and-swap so
// concurrent checklist calls race at most once on the transition.
type BackendSet struct {
	primary    Backend
	secondary  Backend
	failedOver atomic.Bool
}

func NewBackendSet(primary, secondary Backend) *BackendSet {
	return &BackendSet{primary: primary, secondary: secondary}
}

func (b *BackendSet) Active() Backend {
	if b.failedOver.Load() && b.secondary != nil {
		return b.secondary
	}
	return b.primary
}

func (b *BackendSet) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, LLMUsage, error) {
	if !b.failedOver.Load() {
		text, usage, err := b.primary.Generate(ctx, systemPrompt, userPrompt)
		if err == nil || !isAuthBillingError(err) || b.secondary == nil {
			return text, usage, err
		}
		if b.failedOver.CompareAndSwap(false, true) {
			log.Printf("llm failover primary=%s secondary=%s reason=%v", b.primary.Name(), b.secondary.Name(), err)
		}
	}
	if b.secondary == nil {
		return "", LLMUsage{}, fmt.Errorf("no secondary backend configured")
	}
	return b.secondary.Generate(ctx, systemPrompt, userPrompt)
}

// isAuthBillingError identifies the error class that justifies abandoning a
// provider: bad keys, expired credits, permission refusals. Transient
// failures (rate limits, timeouts) do not trigger failover.
func isAuthBillingError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"authentication_error",
		"invalid x-api-key",
		"invalid api key",
		"incorrect api key",
		"credit balance",
		"billing",
		"insufficient_quota",
		"permission_error",
		"401", "402", "403",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// --- Anthropic ---

type anthropicBackend struct {
	apiKey string
	model  string
}

func (a *anthropicBackend) Name() string { return "anthropic/" + a.model }

func (a *anthropicBackend) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, LLMUsage, error) {
	client := anthropic.NewClient(option.WithAPIKey(a.apiKey))

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		log.Printf("llm anthropic error: %v", err)
		return "", LLMUsage{}, fmt.Errorf("Anthropic API error: %w", err)
	}
	usage := LLMUsage{
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			return block.Text, usage, nil
		}
	}
	return "", usage, fmt.Errorf("no text content in Anthropic response")
}

// --- OpenAI ---

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type openAIBackend struct {
	apiKey string
	model  string
}

func (o *openAIBackend) Name() string { return "openai/" + o.model }

func (o *openAIBackend) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, LLMUsage, error) {
	reqBody := openAIRequest{
		Model: o.model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", LLMUsage{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", "https://api.openai.com/v1/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", LLMUsage{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("llm openai error: %v", err)
		return "", LLMUsage{}, fmt.Errorf("OpenAI API error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", LLMUsage{}, fmt.Errorf("reading response: %w", err)
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(respBody, &openAIResp); err != nil {
		return "", LLMUsage{}, fmt.Errorf("parsing OpenAI response: %w", err)
	}

	if openAIResp.Error != nil {
		log.Printf("llm openai api error: %s", openAIResp.Error.Message)
		return "", LLMUsage{}, fmt.Errorf("OpenAI API error (%s): %s", openAIResp.Error.Type, openAIResp.Error.Message)
	}

	if len(openAIResp.Choices) == 0 {
		return "", LLMUsage{}, fmt.Errorf("no choices in OpenAI response")
	}
	usage := LLMUsage{}
	if openAIResp.Usage != nil {
		usage.InputTokens = openAIResp.Usage.PromptTokens
		usage.OutputTokens = openAIResp.Usage.CompletionTokens
	}
	return openAIResp.Choices[0].Message.Content, usage, nil
}

// stripCodeFence removes a markdown code fence the model may wrap JSON in.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
