// Package llm provides the outbound model API boundary and its providers.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/capitalize-ai/gemini-relay/internal/model"
)

var (
	// ErrTimeout is reported when the provider call exceeds its deadline.
	ErrTimeout = errors.New("model call timed out")

	// ErrEmptyResponse is reported when the provider returns no text.
	ErrEmptyResponse = errors.New("model returned an empty response")

	// ErrImageUnsupported is reported by providers that cannot take images.
	ErrImageUnsupported = errors.New("provider does not accept images")
)

// Outcome is the closed set of results a provider call can end in.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeBlocked
	OutcomeFailure
)

// String returns the metric label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Request is one turn: prior history plus the new user message.
type Request struct {
	History []model.Message
	Message model.Message
}

// Result is the outcome of a provider call. Exactly one of Text,
// BlockReason or Err is meaningful, selected by Outcome.
type Result struct {
	Outcome     Outcome
	Text        string
	BlockReason string
	Err         error

	Model     string
	TokensIn  int
	TokensOut int
	LatencyMs int64
}

// Success builds a successful result.
func Success(text string) *Result {
	return &Result{Outcome: OutcomeSuccess, Text: text}
}

// Blocked builds a safety-blocked result.
func Blocked(reason string) *Result {
	return &Result{Outcome: OutcomeBlocked, BlockReason: reason}
}

// Failure builds a failed result, translating deadline errors to ErrTimeout.
func Failure(err error) *Result {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return &Result{Outcome: OutcomeFailure, Err: err}
}

// Client is the interface for model providers.
type Client interface {
	// Generate sends the history and the new message and classifies the reply.
	// It never returns nil.
	Generate(ctx context.Context, req *Request) *Result

	// Name returns the provider name.
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Settings configure generation for every provider.
type Settings struct {
	Model           string
	Temperature     float64
	TopP            float64
	TopK            int
	MaxOutputTokens int
	SafetyThreshold string
}

// NewClient creates a new LLM client based on provider.
func NewClient(ctx context.Context, provider Provider, apiKey string, settings Settings) (Client, error) {
	switch provider {
	case ProviderGemini:
		return NewGeminiClient(ctx, apiKey, settings)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey, settings)
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey, settings)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}
