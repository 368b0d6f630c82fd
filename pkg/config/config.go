package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// ConfigFile is the optional YAML file read from the working directory.
const ConfigFile = "config.yaml"

// Supported LLM providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Config holds all configuration for ekaya-datachat.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (API keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8000"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// CORSOriginsStr is a comma-separated list of allowed browser origins.
	CORSOriginsStr string   `yaml:"cors_origins" env:"CORS_ORIGINS" env-default:"*"`
	CORSOrigins    []string `yaml:"-"`

	LLM       LLMConfig       `yaml:"llm"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Cache     CacheConfig     `yaml:"cache"`
	Files     FilesConfig     `yaml:"files"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Weather   WeatherConfig   `yaml:"weather"`
	Search    SearchConfig    `yaml:"search"`
}

// LLMConfig selects the providers used for chat and for the analytical pipeline.
type LLMConfig struct {
	// ChatProvider drives the streaming chat turn (openai or gemini).
	ChatProvider string `yaml:"chat_provider" env:"LLM_CHAT_PROVIDER" env-default:"gemini"`
	// AnalysisProvider generates SQL and synthesizes answers (openai, anthropic or gemini).
	AnalysisProvider string `yaml:"analysis_provider" env:"LLM_ANALYSIS_PROVIDER" env-default:"gemini"`

	OpenAI    OpenAIConfig    `yaml:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Gemini    GeminiConfig    `yaml:"gemini"`

	// Circuit breaker applied to every analysis-provider call.
	BreakerThreshold  int `yaml:"breaker_threshold" env:"LLM_BREAKER_THRESHOLD" env-default:"5"`
	BreakerResetAfter int `yaml:"breaker_reset_seconds" env:"LLM_BREAKER_RESET_SECONDS" env-default:"30"`
}

// OpenAIConfig configures any OpenAI-compatible endpoint.
type OpenAIConfig struct {
	Endpoint string `yaml:"endpoint" env:"OPENAI_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model    string `yaml:"model" env:"OPENAI_MODEL" env-default:"gpt-4o-mini"`
	APIKey   string `yaml:"-" env:"OPENAI_API_KEY"` // Secret - not in YAML
}

// AnthropicConfig configures the Anthropic messages API.
type AnthropicConfig struct {
	Model  string `yaml:"model" env:"ANTHROPIC_MODEL" env-default:"claude-3-5-haiku-latest"`
	APIKey string `yaml:"-" env:"ANTHROPIC_API_KEY"` // Secret - not in YAML
}

// GeminiConfig configures the Gemini API.
type GeminiConfig struct {
	Model  string `yaml:"model" env:"GEMINI_MODEL" env-default:"gemini-2.5-flash-lite"`
	APIKey string `yaml:"-" env:"GEMINI_API_KEY"` // Secret - not in YAML
}

// SessionsConfig bounds the set of live database sessions.
type SessionsConfig struct {
	MaxSessions           int `yaml:"max_sessions" env:"SESSIONS_MAX" env-default:"100"`
	TTLSeconds            int `yaml:"ttl_seconds" env:"SESSIONS_TTL_SECONDS" env-default:"3600"`
	RetryCount            int `yaml:"retry_count" env:"SESSIONS_RETRY_COUNT" env-default:"3"`
	RetryDelayMs          int `yaml:"retry_delay_ms" env:"SESSIONS_RETRY_DELAY_MS" env-default:"500"`
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds" env:"SESSIONS_CONNECT_TIMEOUT_SECONDS" env-default:"30"`
}

// TTL returns the idle lifetime of a session.
func (c *SessionsConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// RetryDelay returns the base backoff step between connection attempts.
func (c *SessionsConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// ConnectTimeout bounds a single connection attempt.
func (c *SessionsConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// CacheConfig bounds the analytical answer cache.
type CacheConfig struct {
	MaxSize    int `yaml:"max_size" env:"CACHE_MAX_SIZE" env-default:"1000"`
	TTLSeconds int `yaml:"ttl_seconds" env:"CACHE_TTL_SECONDS" env-default:"3600"`
}

// TTL returns the lifetime of a cached answer.
func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// FilesConfig controls uploads and the file registry.
type FilesConfig struct {
	MaxFiles       int    `yaml:"max_files" env:"FILES_MAX" env-default:"50"`
	TTLSeconds     int    `yaml:"ttl_seconds" env:"FILES_TTL_SECONDS" env-default:"7200"`
	UploadDir      string `yaml:"upload_dir" env:"FILES_UPLOAD_DIR" env-default:""` // Defaults to <tmp>/ekaya-datachat-uploads
	MaxUploadBytes int64  `yaml:"max_upload_bytes" env:"FILES_MAX_UPLOAD_BYTES" env-default:"104857600"`

	// AllowedExtensionsStr is a comma-separated extension allow-list.
	AllowedExtensionsStr string   `yaml:"allowed_extensions" env:"FILES_ALLOWED_EXTENSIONS" env-default:".duckdb,.db"`
	AllowedExtensions    []string `yaml:"-"`
}

// TTL returns the idle lifetime of a registered file.
func (c *FilesConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// AnalyticsConfig toggles optional parts of the analytical pipeline.
type AnalyticsConfig struct {
	InsightsEnabled bool `yaml:"insights_enabled" env:"ANALYTICS_INSIGHTS_ENABLED" env-default:"false"`
}

// WeatherConfig configures the weather tool.
type WeatherConfig struct {
	BaseURL        string `yaml:"base_url" env:"WEATHER_BASE_URL" env-default:"https://api.open-meteo.com/v1/forecast"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"WEATHER_TIMEOUT_SECONDS" env-default:"10"`
}

// SearchConfig configures the optional web search tool.
type SearchConfig struct {
	BaseURL    string `yaml:"base_url" env:"TAVILY_BASE_URL" env-default:"https://api.tavily.com/search"`
	MaxResults int    `yaml:"max_results" env:"SEARCH_MAX_RESULTS" env-default:"5"`
	APIKey     string `yaml:"-" env:"TAVILY_API_KEY"` // Secret - not in YAML
}

// IsAvailable returns true if web search is configured.
func (c *SearchConfig) IsAvailable() bool {
	return c.APIKey != ""
}

// Load reads configuration from config.yaml (when present) with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(ConfigFile); err == nil {
		if err := cleanenv.ReadConfig(ConfigFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", ConfigFile, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", ConfigFile, err)
	}

	cfg.parseComplexFields()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}
	if cfg.Files.UploadDir == "" {
		cfg.Files.UploadDir = filepath.Join(os.TempDir(), "ekaya-datachat-uploads")
	}
	cfg.LLM.OpenAI.Endpoint = ResolveEndpointForDocker(cfg.LLM.OpenAI.Endpoint)

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() {
	c.CORSOrigins = splitList(c.CORSOriginsStr)
	c.Files.AllowedExtensions = nil
	for _, ext := range splitList(c.Files.AllowedExtensionsStr) {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Files.AllowedExtensions = append(c.Files.AllowedExtensions, ext)
	}
}

func (c *Config) validate() error {
	switch c.LLM.ChatProvider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unsupported chat_provider %q (want openai or gemini)", c.LLM.ChatProvider)
	}
	switch c.LLM.AnalysisProvider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini:
	default:
		return fmt.Errorf("unsupported analysis_provider %q (want openai, anthropic or gemini)", c.LLM.AnalysisProvider)
	}

	limits := []struct {
		name  string
		value int
	}{
		{"sessions.max_sessions", c.Sessions.MaxSessions},
		{"sessions.ttl_seconds", c.Sessions.TTLSeconds},
		{"sessions.retry_count", c.Sessions.RetryCount},
		{"sessions.connect_timeout_seconds", c.Sessions.ConnectTimeoutSeconds},
		{"cache.max_size", c.Cache.MaxSize},
		{"cache.ttl_seconds", c.Cache.TTLSeconds},
		{"files.max_files", c.Files.MaxFiles},
		{"files.ttl_seconds", c.Files.TTLSeconds},
	}
	for _, l := range limits {
		if l.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", l.name, l.value)
		}
	}
	if c.Sessions.RetryDelayMs < 0 {
		return fmt.Errorf("sessions.retry_delay_ms must not be negative, got %d", c.Sessions.RetryDelayMs)
	}
	if c.Files.MaxUploadBytes <= 0 {
		return fmt.Errorf("files.max_upload_bytes must be positive, got %d", c.Files.MaxUploadBytes)
	}
	if len(c.Files.AllowedExtensions) == 0 {
		return fmt.Errorf("files.allowed_extensions must list at least one extension")
	}
	return nil
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return c.BindAddr + ":" + c.Port
}

// RedactedYAML renders the effective configuration with secrets masked.
func (c *Config) RedactedYAML() (string, error) {
	view := struct {
		Config  `yaml:",inline"`
		Secrets map[string]string `yaml:"secrets"`
	}{
		Config: *c,
		Secrets: map[string]string{
			"OPENAI_API_KEY":    mask(c.LLM.OpenAI.APIKey),
			"ANTHROPIC_API_KEY": mask(c.LLM.Anthropic.APIKey),
			"GEMINI_API_KEY":    mask(c.LLM.Gemini.APIKey),
			"TAVILY_API_KEY":    mask(c.Search.APIKey),
		},
	}
	out, err := yaml.Marshal(view)
	if err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	return string(out), nil
}

func mask(secret string) string {
	if secret == "" {
		return "<unset>"
	}
	return "<set>"
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
