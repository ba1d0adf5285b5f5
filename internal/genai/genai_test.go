package genai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"golang.org/x/time/rate"
)

// mockChatService records the last request and returns a scripted response.
type mockChatService struct {
	content    string
	err        error
	noChoices  bool
	lastParams openai.ChatCompletionNewParams
	calls      int
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.calls++
	m.lastParams = params
	if m.err != nil {
		return openai.ChatCompletion{}, m.err
	}
	if m.noChoices {
		return openai.ChatCompletion{}, nil
	}
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: m.content}},
		},
	}, nil
}

func newTestClient(chat chatService) *Client {
	return &Client{
		chat:                chat,
		model:               DefaultModel,
		temperature:         DefaultTemperature,
		maxCompletionTokens: DefaultMaxCompletionTokens,
		requestTimeout:      DefaultRequestTimeout,
		limiter:             rate.NewLimiter(rate.Inf, 1),
	}
}

func TestGeneratePrompt(t *testing.T) {
	mock := &mockChatService{content: "hola"}
	client := newTestClient(mock)

	got, err := client.GeneratePrompt(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("GeneratePrompt failed: %v", err)
	}
	if got != "hola" {
		t.Errorf("response = %q, want %q", got, "hola")
	}
	if len(mock.lastParams.Messages) != 2 {
		t.Errorf("message count = %d, want 2", len(mock.lastParams.Messages))
	}
}

func TestGenerateWithMessagesPropagatesError(t *testing.T) {
	wantErr := errors.New("upstream down")
	client := newTestClient(&mockChatService{err: wantErr})

	_, err := client.GenerateWithMessages(context.Background(), []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage("hola"),
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want %v", err, wantErr)
	}
}

func TestEmptyChoicesReturnsSentinel(t *testing.T) {
	client := newTestClient(&mockChatService{noChoices: true})

	_, err := client.GeneratePrompt(context.Background(), "system", "user")
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("error = %v, want ErrNoChoicesReturned", err)
	}
}

func TestGenerateJSONDecodesResponse(t *testing.T) {
	mock := &mockChatService{content: `{"kind":"add_service","index":2}`}
	client := newTestClient(mock)

	var out struct {
		Kind  string `json:"kind"`
		Index int    `json:"index"`
	}
	err := client.GenerateJSON(context.Background(), []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage("quiero mechas"),
	}, &out)
	if err != nil {
		t.Fatalf("GenerateJSON failed: %v", err)
	}
	if out.Kind != "add_service" || out.Index != 2 {
		t.Errorf("decoded = %+v", out)
	}
	if mock.lastParams.ResponseFormat.OfJSONObject == nil {
		t.Error("request did not ask for a JSON object response")
	}
}

func TestGenerateJSONRejectsMalformedResponse(t *testing.T) {
	client := newTestClient(&mockChatService{content: "sure, booked it!"})

	var out map[string]any
	err := client.GenerateJSON(context.Background(), []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage("hola"),
	}, &out)
	if err == nil {
		t.Fatal("GenerateJSON accepted a non-JSON response")
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Fatal("NewClient succeeded without an API key")
	}
}

func TestNewClientAppliesOptions(t *testing.T) {
	client, err := NewClient(
		WithAPIKey("test-key"),
		WithModel(openai.ChatModelGPT4o),
		WithTemperature(0.7),
		WithMaxCompletionTokens(256),
		WithRequestTimeout(5*time.Second),
	)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.model != openai.ChatModelGPT4o {
		t.Errorf("model = %v", client.model)
	}
	if client.temperature != 0.7 {
		t.Errorf("temperature = %v", client.temperature)
	}
	if client.maxCompletionTokens != 256 {
		t.Errorf("maxCompletionTokens = %d", client.maxCompletionTokens)
	}
	if client.requestTimeout != 5*time.Second {
		t.Errorf("requestTimeout = %v", client.requestTimeout)
	}
}
