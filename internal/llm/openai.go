package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAI calls the Chat Completions API, or any compatible endpoint.
type OpenAI struct {
	client     *openai.Client
	model      string
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAI creates a new OpenAI client. A non-empty baseURL points it at a
// compatible server.
func NewOpenAI(apiKey, baseURL, model string, maxRetries int) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &OpenAI{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		maxRetries: maxRetries,
		retryDelay: time.Second,
	}
}

// Complete sends the request, retrying rate limits and server errors with
// exponential backoff until ctx expires.
func (o *OpenAI) Complete(ctx context.Context, r Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if r.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: r.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: r.Prompt})

	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		MaxTokens:   r.maxTokens(),
		Temperature: float32(r.temperature()),
	}

	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff(o.retryDelay, attempt)):
			case <-ctx.Done():
				return nil, fmt.Errorf("openai api: %w (last error: %v)", ctx.Err(), lastErr)
			}
		}

		resp, err := o.client.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = err
			if !retryable(err) {
				break
			}
			continue
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("openai api: empty choices")
		}
		return &Response{
			Content:    resp.Choices[0].Message.Content,
			Provider:   "openai",
			TokensUsed: resp.Usage.TotalTokens,
		}, nil
	}
	return nil, fmt.Errorf("openai api: %w", lastErr)
}

func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// backoff doubles base per attempt, caps at 30s and adds +/-25% jitter.
func backoff(base time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := base * time.Duration(1<<uint(attempt))
	if d > 30*time.Second || d <= 0 {
		d = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(d)/2)) - d/4
	return d + jitter
}
