package llm

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/capitalize-ai/gemini-relay/internal/model"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-3-5-haiku-20241022"

var _ Client = (*AnthropicClient)(nil)

// AnthropicClient is the Anthropic LLM client. It accepts text only.
type AnthropicClient struct {
	client   *anthropic.Client
	settings Settings
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string, settings Settings) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	settings.Model = modelOrDefault(settings.Model, DefaultAnthropicModel)

	return &AnthropicClient{
		client:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		settings: settings,
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return string(ProviderAnthropic)
}

// Generate sends a messages request.
func (c *AnthropicClient) Generate(ctx context.Context, req *Request) *Result {
	start := time.Now()

	if req.Message.HasImage() {
		return Failure(ErrImageUnsupported)
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.F(c.settings.Model),
		MaxTokens:   anthropic.F(int64(c.settings.MaxOutputTokens)),
		Temperature: anthropic.F(c.settings.Temperature),
		Messages:    anthropic.F(anthropicMessages(req)),
	})
	if err != nil {
		return Failure(err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content += block.Text
		}
	}

	res := Success(content)
	if content == "" {
		res = Failure(ErrEmptyResponse)
	}
	res.Model = resp.Model
	res.TokensIn = int(resp.Usage.InputTokens)
	res.TokensOut = int(resp.Usage.OutputTokens)
	res.LatencyMs = time.Since(start).Milliseconds()
	return res
}

// anthropicMessages converts history to Anthropic format. Image parts of
// earlier turns are dropped; only their text is sent.
func anthropicMessages(req *Request) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, m := range req.History {
		messages = append(messages, anthropicMessage(m))
	}
	return append(messages, anthropicMessage(req.Message))
}

func anthropicMessage(m model.Message) anthropic.MessageParam {
	role := anthropic.MessageParamRoleUser
	if m.Role == model.RoleModel {
		role = anthropic.MessageParamRoleAssistant
	}
	return anthropic.MessageParam{
		Role: anthropic.F(role),
		Content: anthropic.F([]anthropic.ContentBlockParamUnion{
			anthropic.TextBlockParam{
				Type: anthropic.F(anthropic.TextBlockParamTypeText),
				Text: anthropic.F(m.Text()),
			},
		}),
	}
}
