package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/capitalize-ai/gemini-relay/internal/model"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

var geminiHarmCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

var _ Client = (*GeminiClient)(nil)

// GeminiClient is the Google Gemini client.
type GeminiClient struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// NewGeminiClient creates a Gemini client using the official SDK.
func NewGeminiClient(ctx context.Context, apiKey string, settings Settings) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("Gemini API key is required")
	}

	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}

	return &GeminiClient{
		client: c,
		model:  modelOrDefault(settings.Model, DefaultGeminiModel),
		config: geminiConfig(settings),
	}, nil
}

// Name returns the provider name.
func (c *GeminiClient) Name() string {
	return string(ProviderGemini)
}

// Generate sends the conversation to Gemini.
func (c *GeminiClient) Generate(ctx context.Context, req *Request) *Result {
	start := time.Now()

	resp, err := c.client.Models.GenerateContent(ctx, c.model, geminiContents(req), c.config)
	if err != nil {
		return Failure(err)
	}

	res := classifyGemini(resp)
	res.Model = c.model
	res.LatencyMs = time.Since(start).Milliseconds()
	return res
}

func geminiConfig(settings Settings) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(settings.Temperature)),
		TopP:            genai.Ptr(float32(settings.TopP)),
		MaxOutputTokens: int32(settings.MaxOutputTokens),
	}
	if settings.TopK > 0 {
		cfg.TopK = genai.Ptr(float32(settings.TopK))
	}

	if settings.SafetyThreshold != "" {
		threshold := genai.HarmBlockThreshold(strings.ToUpper(settings.SafetyThreshold))
		for _, category := range geminiHarmCategories {
			cfg.SafetySettings = append(cfg.SafetySettings, &genai.SafetySetting{
				Category:  category,
				Threshold: threshold,
			})
		}
	}
	return cfg
}

func geminiContents(req *Request) []*genai.Content {
	out := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		out = append(out, geminiContent(m))
	}
	return append(out, geminiContent(req.Message))
}

func geminiContent(m model.Message) *genai.Content {
	role := genai.RoleUser
	if m.Role == model.RoleModel {
		role = genai.RoleModel
	}

	parts := make([]*genai.Part, 0, len(m.Parts))
	for _, p := range m.Parts {
		if p.Text != "" {
			parts = append(parts, &genai.Part{Text: p.Text})
		}
		if p.Image != nil {
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{
				MIMEType: p.Image.MIMEType,
				Data:     p.Image.Data,
			}})
		}
	}
	return &genai.Content{Role: role, Parts: parts}
}

func classifyGemini(resp *genai.GenerateContentResponse) *Result {
	if resp == nil {
		return Failure(ErrEmptyResponse)
	}

	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		reason := string(fb.BlockReason)
		if fb.BlockReasonMessage != "" {
			reason += ": " + fb.BlockReasonMessage
		}
		return withGeminiUsage(Blocked(reason), resp)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return withGeminiUsage(Failure(ErrEmptyResponse), resp)
	}

	cand := resp.Candidates[0]
	switch cand.FinishReason {
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent,
		genai.FinishReasonBlocklist, genai.FinishReasonSPII:
		return withGeminiUsage(Blocked(string(cand.FinishReason)), resp)
	}
	if cand.Content == nil {
		return withGeminiUsage(Failure(ErrEmptyResponse), resp)
	}

	var b strings.Builder
	for _, p := range cand.Content.Parts {
		if p != nil && !p.Thought {
			b.WriteString(p.Text)
		}
	}
	if b.Len() == 0 {
		return withGeminiUsage(Failure(ErrEmptyResponse), resp)
	}
	return withGeminiUsage(Success(b.String()), resp)
}

func withGeminiUsage(res *Result, resp *genai.GenerateContentResponse) *Result {
	if resp.UsageMetadata != nil {
		res.TokensIn = int(resp.UsageMetadata.PromptTokenCount)
		res.TokensOut = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return res
}

func modelOrDefault(model, def string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return def
}
