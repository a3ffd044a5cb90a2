package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/capitalize-ai/gemini-relay/internal/model"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

var _ Client = (*OpenAIClient)(nil)

// OpenAIClient is the OpenAI LLM client.
type OpenAIClient struct {
	client   *openai.Client
	settings Settings
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey string, settings Settings) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	settings.Model = modelOrDefault(settings.Model, DefaultOpenAIModel)

	return &OpenAIClient{
		client:   openai.NewClient(apiKey),
		settings: settings,
	}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return string(ProviderOpenAI)
}

// Generate sends a chat completion request.
func (c *OpenAIClient) Generate(ctx context.Context, req *Request) *Result {
	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.settings.Model,
		Messages:    openAIMessages(req),
		MaxTokens:   c.settings.MaxOutputTokens,
		Temperature: float32(c.settings.Temperature),
		TopP:        float32(c.settings.TopP),
	})
	if err != nil {
		return Failure(err)
	}

	res := classifyOpenAI(resp)
	res.LatencyMs = time.Since(start).Milliseconds()
	return res
}

func openAIMessages(req *Request) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+1)
	for _, m := range req.History {
		messages = append(messages, openAIMessage(m))
	}
	return append(messages, openAIMessage(req.Message))
}

func openAIMessage(m model.Message) openai.ChatCompletionMessage {
	role := openai.ChatMessageRoleUser
	if m.Role == model.RoleModel {
		role = openai.ChatMessageRoleAssistant
	}

	if !m.HasImage() {
		return openai.ChatCompletionMessage{Role: role, Content: m.Text()}
	}

	parts := make([]openai.ChatMessagePart, 0, len(m.Parts))
	for _, p := range m.Parts {
		if p.Text != "" {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: p.Text,
			})
		}
		if p.Image != nil {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: dataURL(p.Image),
				},
			})
		}
	}
	return openai.ChatCompletionMessage{Role: role, MultiContent: parts}
}

func classifyOpenAI(resp openai.ChatCompletionResponse) *Result {
	if len(resp.Choices) == 0 {
		return Failure(ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	var res *Result
	switch {
	case choice.FinishReason == openai.FinishReasonContentFilter:
		res = Blocked(string(choice.FinishReason))
	case choice.Message.Content == "":
		res = Failure(ErrEmptyResponse)
	default:
		res = Success(choice.Message.Content)
	}

	res.Model = resp.Model
	res.TokensIn = resp.Usage.PromptTokens
	res.TokensOut = resp.Usage.CompletionTokens
	return res
}

func dataURL(img *model.Image) string {
	return "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
