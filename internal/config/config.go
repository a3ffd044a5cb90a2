// Package config provides environment configuration for the API server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/capitalize-ai/gemini-relay/internal/llm"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Session settings
	MaxHistory         int
	SessionIdleTimeout time.Duration
	ReapInterval       time.Duration
	MaxSessions        int
	TokenCookieName    string
	TokenCookieMaxAge  time.Duration
	CookieSecure       bool

	// LLM settings
	LLMProvider     llm.Provider
	GoogleAPIKey    string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	LLMModel        string
	LLMTimeout      time.Duration
	Temperature     float64
	TopP            float64
	TopK            int
	MaxOutputTokens int
	SafetyThreshold string
	MaxImageBytes   int64

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration
	AllowedOrigins    []string

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool

	// parse errors collected by Load and reported by Validate
	errs []error
}

// Load reads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// Sessions
		SessionIdleTimeout: getDurationEnv("SESSION_IDLE_TIMEOUT", 7*24*time.Hour),
		ReapInterval:       getDurationEnv("REAP_INTERVAL", time.Hour),
		MaxSessions:        getIntEnv("MAX_SESSIONS", 0),
		TokenCookieName:    getEnv("TOKEN_COOKIE_NAME", "user_token"),
		TokenCookieMaxAge:  getDurationEnv("TOKEN_COOKIE_MAX_AGE", 7*24*time.Hour),
		CookieSecure:       getBoolEnv("COOKIE_SECURE", false),

		// LLM
		LLMProvider:     llm.Provider(strings.ToLower(getEnv("LLM_PROVIDER", string(llm.ProviderGemini)))),
		GoogleAPIKey:    getEnv("GOOGLE_AI_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		LLMModel:        getEnv("LLM_MODEL", ""),
		LLMTimeout:      getDurationEnv("LLM_TIMEOUT", 60*time.Second),
		Temperature:     getFloatEnv("LLM_TEMPERATURE", 0.9),
		TopP:            getFloatEnv("LLM_TOP_P", 1),
		TopK:            getIntEnv("LLM_TOP_K", 1),
		MaxOutputTokens: getIntEnv("LLM_MAX_OUTPUT_TOKENS", 512),
		SafetyThreshold: getEnv("SAFETY_THRESHOLD", "BLOCK_MEDIUM_AND_ABOVE"),
		MaxImageBytes:   int64(getIntEnv("MAX_IMAGE_BYTES", 4<<20)),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		AllowedOrigins:    getListEnv("ALLOWED_ORIGINS", []string{"https://*", "http://*"}),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}

	// MAX_HISTORY has no default and must be digits only.
	raw, ok := os.LookupEnv("MAX_HISTORY")
	switch {
	case !ok || raw == "":
		cfg.errs = append(cfg.errs, errors.New("MAX_HISTORY is not set"))
	default:
		n, err := strconv.Atoi(raw)
		if err != nil || strings.ContainsAny(raw, "+-") {
			cfg.errs = append(cfg.errs, fmt.Errorf("MAX_HISTORY must contain only the digits 0-9, got %q", raw))
		} else {
			cfg.MaxHistory = n
		}
	}

	return cfg
}

// Validate reports every configuration problem. Any error is fatal.
func (c *Config) Validate() error {
	errs := append([]error(nil), c.errs...)

	if c.MaxHistory < 0 || c.MaxHistory%2 != 0 {
		errs = append(errs, fmt.Errorf("MAX_HISTORY must be an even number, got %d: it records the user's message and the model's response", c.MaxHistory))
	}
	if c.SessionIdleTimeout <= 0 {
		errs = append(errs, errors.New("SESSION_IDLE_TIMEOUT must be positive"))
	}
	if c.ReapInterval <= 0 {
		errs = append(errs, errors.New("REAP_INTERVAL must be positive"))
	}
	if c.MaxSessions < 0 {
		errs = append(errs, errors.New("MAX_SESSIONS must not be negative"))
	}
	if c.TokenCookieName == "" {
		errs = append(errs, errors.New("TOKEN_COOKIE_NAME must not be empty"))
	}
	if c.LLMTimeout <= 0 {
		errs = append(errs, errors.New("LLM_TIMEOUT must be positive"))
	}
	if c.MaxOutputTokens <= 0 {
		errs = append(errs, errors.New("LLM_MAX_OUTPUT_TOKENS must be positive"))
	}
	if c.MaxImageBytes <= 0 {
		errs = append(errs, errors.New("MAX_IMAGE_BYTES must be positive"))
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive"))
	}

	switch c.LLMProvider {
	case llm.ProviderGemini, llm.ProviderOpenAI, llm.ProviderAnthropic:
		if c.APIKey() == "" {
			errs = append(errs, fmt.Errorf("%s is not set", c.APIKeyVar()))
		}
	default:
		errs = append(errs, fmt.Errorf("LLM_PROVIDER %q is not one of gemini, openai, anthropic", c.LLMProvider))
	}

	return errors.Join(errs...)
}

// APIKey returns the key for the selected provider.
func (c *Config) APIKey() string {
	switch c.LLMProvider {
	case llm.ProviderOpenAI:
		return c.OpenAIAPIKey
	case llm.ProviderAnthropic:
		return c.AnthropicAPIKey
	default:
		return c.GoogleAPIKey
	}
}

// APIKeyVar returns the environment variable holding the provider key.
func (c *Config) APIKeyVar() string {
	switch c.LLMProvider {
	case llm.ProviderOpenAI:
		return "OPENAI_API_KEY"
	case llm.ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	default:
		return "GOOGLE_AI_API_KEY"
	}
}

// LLMSettings returns the generation settings for the provider.
func (c *Config) LLMSettings() llm.Settings {
	return llm.Settings{
		Model:           c.LLMModel,
		Temperature:     c.Temperature,
		TopP:            c.TopP,
		TopK:            c.TopK,
		MaxOutputTokens: c.MaxOutputTokens,
		SafetyThreshold: c.SafetyThreshold,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
