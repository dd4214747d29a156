package config

import (
	"sync"
	"time"
)

// DuplicatePolicy decides what the orchestrator does when the model echoes the existing alt text
type DuplicatePolicy string

const (
	DuplicateNextStrategy DuplicatePolicy = "next_strategy" // Move on to the next image strategy
	DuplicateRegenerate   DuplicatePolicy = "regenerate"    // Ask the same strategy again, once, for different wording
)

// GenerationConfig is the immutable snapshot handed to each orchestration call
type GenerationConfig struct {
	APIKey              string          `yaml:"api_key,omitempty"`
	BaseURL             string          `yaml:"base_url,omitempty" validate:"omitempty,url"`
	Model               string          `yaml:"model,omitempty"`
	ReviewModel         string          `yaml:"review_model,omitempty"`   // Defaults to Model
	ReviewEnabled       *bool           `yaml:"review_enabled,omitempty"` // nil = enabled
	Language            string          `yaml:"language,omitempty"`
	Tone                string          `yaml:"tone,omitempty"`
	MaxWords            int             `yaml:"max_words,omitempty" validate:"omitempty,min=4,max=60"`
	CustomPrompt        string          `yaml:"custom_prompt,omitempty"` // Prepended to the base instruction
	DryRun              bool            `yaml:"dry_run,omitempty"`
	IncludeImage        *bool           `yaml:"include_image,omitempty"` // nil = enabled
	Temperature         *float32        `yaml:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"` // nil = DefaultTemperature; 0 is honored
	MaxTokens           int             `yaml:"max_tokens,omitempty" validate:"omitempty,min=1"`
	QualityThreshold    int             `yaml:"quality_threshold,omitempty" validate:"omitempty,min=0,max=100"`
	UsageAlertThreshold int64           `yaml:"usage_alert_threshold,omitempty" validate:"omitempty,min=0"`
	DuplicatePolicy     DuplicatePolicy `yaml:"duplicate_policy,omitempty" validate:"omitempty,oneof=next_strategy regenerate"`
	EnableOnUpload      *bool           `yaml:"enable_on_upload,omitempty"` // nil = enabled
	ForceOverwrite      bool            `yaml:"force_overwrite,omitempty"`
	MaxRetries          int             `yaml:"max_retries,omitempty" validate:"omitempty,min=0,max=10"` // 429 retries per request
}

// ReviewIsEnabled reports whether the model-based reviewer runs
func (g GenerationConfig) ReviewIsEnabled() bool {
	return g.ReviewEnabled == nil || *g.ReviewEnabled
}

// ImageIsIncluded reports whether image payload strategies are attempted
func (g GenerationConfig) ImageIsIncluded() bool {
	return g.IncludeImage == nil || *g.IncludeImage
}

// OnUploadIsEnabled reports whether newly uploaded images are described automatically
func (g GenerationConfig) OnUploadIsEnabled() bool {
	return g.EnableOnUpload == nil || *g.EnableOnUpload
}

// EffectiveTemperature returns Temperature, falling back to DefaultTemperature
func (g GenerationConfig) EffectiveTemperature() float32 {
	if g.Temperature == nil {
		return DefaultTemperature
	}
	return *g.Temperature
}

// EffectiveReviewModel returns ReviewModel, falling back to Model
func (g GenerationConfig) EffectiveReviewModel() string {
	if g.ReviewModel != "" {
		return g.ReviewModel
	}
	return g.Model
}

// PayloadConfig controls how image bytes and references are produced
type PayloadConfig struct {
	MaxImageBytes      int64         `yaml:"max_image_bytes,omitempty" validate:"omitempty,min=1"`
	DownscaleOversize  bool          `yaml:"downscale_oversize,omitempty"`
	DownscaleMaxPixels int           `yaml:"downscale_max_pixels,omitempty"` // Longest edge after downscale
	UserAgent          string        `yaml:"user_agent,omitempty"`
	DelayPerHost       time.Duration `yaml:"delay_per_host,omitempty"`
	SocketTimeout      time.Duration `yaml:"socket_timeout,omitempty"`
	RespectRobots      *bool         `yaml:"respect_robots,omitempty"` // nil = enabled
	ProviderAgent      string        `yaml:"provider_agent,omitempty"` // Agent the provider fetches remote URLs as
	ImageErrorPatterns []string      `yaml:"image_error_patterns,omitempty"`
}

// RobotsAreRespected reports whether remote URLs are checked against robots.txt
func (p PayloadConfig) RobotsAreRespected() bool {
	return p.RespectRobots == nil || *p.RespectRobots
}

// QueueConfig controls the background queue and its watchdog
type QueueConfig struct {
	BatchSize        int           `yaml:"batch_size,omitempty"`
	TickInterval     time.Duration `yaml:"tick_interval,omitempty"`  // Delay between successful ticks
	PollInterval     time.Duration `yaml:"poll_interval,omitempty"`  // How often the runner checks NextRunAt
	WatchdogInterval time.Duration `yaml:"watchdog_interval,omitempty"`
	StallAfter       time.Duration `yaml:"stall_after,omitempty"`    // Watchdog forces a tick after this much silence
	MaxRetries       int           `yaml:"max_retries,omitempty"`    // Consecutive API-error reschedules before halting
}

// NotifyConfig selects notification sinks. The log sink is always on.
type NotifyConfig struct {
	WebhookURL     string `yaml:"webhook_url,omitempty" validate:"omitempty,url"`
	TelegramToken  string `yaml:"telegram_token,omitempty"`
	TelegramChatID int64  `yaml:"telegram_chat_id,omitempty"`
}

// RedisConfig is used when state_backend is "redis"
type RedisConfig struct {
	Addr      string `yaml:"addr,omitempty"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db,omitempty"`
	KeyPrefix string `yaml:"key_prefix,omitempty"`
}

// ServerConfig configures the HTTP surface started by `serve`
type ServerConfig struct {
	Addr            string        `yaml:"addr,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	LogLevel           string           `yaml:"log_level,omitempty"`
	StateDir           string           `yaml:"state_dir"`
	StateBackend       string           `yaml:"state_backend,omitempty" validate:"omitempty,oneof=badger redis"`
	Redis              RedisConfig      `yaml:"redis,omitempty"`
	Generation         GenerationConfig `yaml:"generation"`
	Payload            PayloadConfig    `yaml:"payload,omitempty"`
	Queue              QueueConfig      `yaml:"queue,omitempty"`
	Notify             NotifyConfig     `yaml:"notify,omitempty"`
	Server             ServerConfig     `yaml:"server,omitempty"`
	InitialRetryDelay  time.Duration    `yaml:"initial_retry_delay,omitempty"` // Base of the 429 exponential backoff
	MaxRetryDelay      time.Duration    `yaml:"max_retry_delay,omitempty"`
	RequestsPerMinute  int              `yaml:"requests_per_minute,omitempty"` // 0 = unlimited
	RedactPatterns     []string         `yaml:"redact_patterns,omitempty"`
	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// Source is the read-only view of the generation settings
type Source interface {
	Current() GenerationConfig
}

// Static is a Source over an in-memory snapshot. Update swaps the snapshot atomically.
type Static struct {
	mu  sync.RWMutex
	cfg GenerationConfig
}

// NewStatic creates a Static source
func NewStatic(cfg GenerationConfig) *Static {
	return &Static{cfg: cfg}
}

// Current returns the active snapshot
func (s *Static) Current() GenerationConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update replaces the active snapshot
func (s *Static) Update(cfg GenerationConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}
