package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/gemini-relay/internal/llm"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MAX_HISTORY", "10")
	t.Setenv("GOOGLE_AI_API_KEY", "key-1234")

	cfg := Load()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10, cfg.MaxHistory)
	assert.Equal(t, 7*24*time.Hour, cfg.SessionIdleTimeout)
	assert.Equal(t, time.Hour, cfg.ReapInterval)
	assert.Equal(t, llm.ProviderGemini, cfg.LLMProvider)
	assert.Equal(t, "user_token", cfg.TokenCookieName)
	assert.Equal(t, "key-1234", cfg.APIKey())
	assert.Equal(t, 512, cfg.LLMSettings().MaxOutputTokens)
	assert.InDelta(t, 0.9, cfg.LLMSettings().Temperature, 1e-9)
}

func TestMaxHistoryZeroIsValid(t *testing.T) {
	t.Setenv("MAX_HISTORY", "0")
	t.Setenv("GOOGLE_AI_API_KEY", "key")

	cfg := Load()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 0, cfg.MaxHistory)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "missing max history", env: map[string]string{"GOOGLE_AI_API_KEY": "k"}, want: "MAX_HISTORY is not set"},
		{name: "odd max history", env: map[string]string{"MAX_HISTORY": "3", "GOOGLE_AI_API_KEY": "k"}, want: "even"},
		{name: "signed max history", env: map[string]string{"MAX_HISTORY": "-2", "GOOGLE_AI_API_KEY": "k"}, want: "digits"},
		{name: "non numeric max history", env: map[string]string{"MAX_HISTORY": "ten", "GOOGLE_AI_API_KEY": "k"}, want: "digits"},
		{name: "missing api key", env: map[string]string{"MAX_HISTORY": "2"}, want: "GOOGLE_AI_API_KEY is not set"},
		{name: "openai key", env: map[string]string{"MAX_HISTORY": "2", "LLM_PROVIDER": "openai"}, want: "OPENAI_API_KEY is not set"},
		{name: "unknown provider", env: map[string]string{"MAX_HISTORY": "2", "LLM_PROVIDER": "llama"}, want: "LLM_PROVIDER"},
		{name: "negative cap", env: map[string]string{"MAX_HISTORY": "2", "GOOGLE_AI_API_KEY": "k", "MAX_SESSIONS": "-1"}, want: "MAX_SESSIONS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MAX_HISTORY", "")
			t.Setenv("GOOGLE_AI_API_KEY", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			err := Load().Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAllowedOriginsList(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://chat.example.com, https://cdn.example.com,")
	cfg := Load()
	assert.Equal(t, []string{"https://chat.example.com", "https://cdn.example.com"}, cfg.AllowedOrigins)
}
