// Package genai wraps the OpenAI chat completion service used for intent
// classification, reply formatting and history summarization.
//
// The service is treated as an untrusted oracle: callers validate structured
// output before use, and natural-language output is never interpreted as a
// claim that a state-mutating operation occurred.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"
)

// Defaults for completion calls.
const (
	DefaultModel               = openai.ChatModelGPT4oMini
	DefaultTemperature         = 0.2
	DefaultMaxCompletionTokens = 1024
	// DefaultRequestTimeout bounds every completion call so a slow upstream
	// can never block a turn indefinitely.
	DefaultRequestTimeout = 30 * time.Second
	// DefaultRequestsPerSecond caps the completion call rate per process.
	DefaultRequestsPerSecond = 5
)

// ErrNoChoicesReturned indicates the completion response carried no choices.
var ErrNoChoicesReturned = errors.New("no choices returned")

// chatService defines the minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openaiChatService adapts the OpenAI SDK client to chatService.
type openaiChatService struct {
	client openai.Client
}

func (s openaiChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey              string
	Model               openai.ChatModel
	Temperature         float64
	MaxCompletionTokens int64
	RequestTimeout      time.Duration
	RequestsPerSecond   float64
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key explicitly.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the completion model.
func WithModel(model openai.ChatModel) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxCompletionTokens overrides the completion token cap.
func WithMaxCompletionTokens(n int64) Option {
	return func(o *Opts) { o.MaxCompletionTokens = n }
}

// WithRequestTimeout overrides the per-call timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Opts) { o.RequestTimeout = d }
}

// ClientInterface defines the GenAI operations consumed by other packages,
// allowing tests to substitute mocks.
type ClientInterface interface {
	GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
	GenerateJSON(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, out any) error
}

// Client wraps the OpenAI ChatCompletion service.
type Client struct {
	chat                chatService
	model               openai.ChatModel
	temperature         float64
	maxCompletionTokens int64
	requestTimeout      time.Duration
	limiter             *rate.Limiter
}

// NewClient initializes a GenAI client. The API key is taken from options or
// the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:               DefaultModel,
		Temperature:         DefaultTemperature,
		MaxCompletionTokens: DefaultMaxCompletionTokens,
		RequestTimeout:      DefaultRequestTimeout,
		RequestsPerSecond:   DefaultRequestsPerSecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	cli := openai.NewClient(option.WithAPIKey(apiKey))
	slog.Debug("genai.NewClient: client initialized", "model", cfg.Model, "timeout", cfg.RequestTimeout)
	return &Client{
		chat:                openaiChatService{client: cli},
		model:               cfg.Model,
		temperature:         cfg.Temperature,
		maxCompletionTokens: cfg.MaxCompletionTokens,
		requestTimeout:      cfg.RequestTimeout,
		limiter:             rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}, nil
}

// GeneratePrompt generates a response from a system and user prompt pair.
func (c *Client) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userPrompt),
	}
	return c.GenerateWithMessages(ctx, messages)
}

// GenerateWithMessages generates a response from a full message sequence.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := c.create(ctx, openai.ChatCompletionNewParams{
		Model:               c.model,
		Messages:            messages,
		Temperature:         openai.Float(c.temperature),
		MaxCompletionTokens: openai.Int(c.maxCompletionTokens),
	})
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateJSON requests a strict JSON object response and unmarshals it into
// out. Callers must still validate the decoded values.
func (c *Client) GenerateJSON(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, out any) error {
	resp, err := c.create(ctx, openai.ChatCompletionNewParams{
		Model:               c.model,
		Messages:            messages,
		Temperature:         openai.Float(c.temperature),
		MaxCompletionTokens: openai.Int(c.maxCompletionTokens),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return err
	}
	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), out); err != nil {
		slog.Debug("genai.GenerateJSON: response was not valid JSON", "error", err, "contentLength", len(content))
		return fmt.Errorf("failed to decode structured response: %w", err)
	}
	return nil
}

// create applies the rate limit and per-call timeout around one completion.
func (c *Client) create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return openai.ChatCompletion{}, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	callCtx := ctx
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	resp, err := c.chat.Create(callCtx, params)
	if err != nil {
		slog.Error("genai completion call failed", "error", err, "model", c.model)
		return openai.ChatCompletion{}, err
	}
	if len(resp.Choices) == 0 {
		slog.Error("genai completion returned no choices", "model", c.model)
		return openai.ChatCompletion{}, ErrNoChoicesReturned
	}
	return resp, nil
}
