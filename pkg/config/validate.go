package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

// Defaults carried over from the original plugin settings screen
const (
	DefaultModel            = "gpt-4o-mini"
	DefaultBaseURL          = "https://api.openai.com/v1"
	DefaultLanguage         = "en"
	DefaultTone             = "professional, accessible"
	DefaultMaxWords         = 16
	MinMaxWords             = 4
	DefaultTemperature      = 0.3
	DefaultMaxTokens        = 80
	DefaultQualityThreshold = 70
	DefaultMaxImageBytes    = 2 << 20 // 2 MiB
	DefaultBatchSize        = 5
	MinBatchSize            = 1
	MaxBatchSize            = 20
	DefaultUserAgent        = "alt-text-gen/1.0 (+accessibility alt text generator)"
	DefaultProviderAgent    = "ChatGPT-User"

	// APIKeyEnv overrides generation.api_key when set
	APIKeyEnv = "ALT_TEXT_API_KEY"
)

var validate = validator.New()

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if err := validate.Struct(c); err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrConfigValidation, err)
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './alt_text_state'")
		c.StateDir = "./alt_text_state"
	}

	// StateBackend
	if c.StateBackend == "" {
		c.StateBackend = "badger"
	}
	if c.StateBackend == "redis" && c.Redis.Addr == "" {
		warnings = append(warnings, "state_backend is 'redis' but redis.addr is empty, defaulting to 'localhost:6379'")
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "alttext:"
	}

	// Generation settings
	warnings = append(warnings, c.Generation.applyDefaults()...)

	// Retry delays
	if c.InitialRetryDelay <= 0 {
		c.InitialRetryDelay = 1 * time.Second
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 60 * time.Second
	}
	if c.InitialRetryDelay > c.MaxRetryDelay {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}
	if c.RequestsPerMinute < 0 {
		warnings = append(warnings, "requests_per_minute cannot be negative, disabling client-side pacing")
		c.RequestsPerMinute = 0
	}

	// Redaction patterns compile up front so a bad pattern fails at load time
	if _, err := utils.CompileRegexPatterns(c.RedactPatterns); err != nil {
		return warnings, err
	}

	c.validatePayload()
	if _, err := utils.CompileRegexPatterns(c.Payload.ImageErrorPatterns); err != nil {
		return warnings, err
	}
	warnings = append(warnings, c.validateQueue()...)
	c.validateHTTPClientSettings()

	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == 0) {
		warnings = append(warnings, "telegram notifications need both telegram_token and telegram_chat_id; disabling")
		c.Notify.TelegramToken = ""
		c.Notify.TelegramChatID = 0
	}

	return warnings, nil
}

// applyDefaults fills unset generation settings. Returns warnings for values it had to correct.
func (g *GenerationConfig) applyDefaults() (warnings []string) {
	if g.Model == "" {
		g.Model = DefaultModel
	}
	if g.BaseURL == "" {
		g.BaseURL = DefaultBaseURL
	}
	g.BaseURL = strings.TrimRight(g.BaseURL, "/")
	if g.Language == "" {
		g.Language = DefaultLanguage
	}
	if g.Tone == "" {
		g.Tone = DefaultTone
	}
	if g.MaxWords == 0 {
		g.MaxWords = DefaultMaxWords
	}
	if g.Temperature == nil {
		t := float32(DefaultTemperature)
		g.Temperature = &t
	}
	if g.MaxTokens == 0 {
		g.MaxTokens = DefaultMaxTokens
	}
	if g.QualityThreshold == 0 {
		g.QualityThreshold = DefaultQualityThreshold
	}
	if g.DuplicatePolicy == "" {
		g.DuplicatePolicy = DuplicateNextStrategy
	}
	if g.MaxRetries == 0 {
		g.MaxRetries = 3
	}
	if strings.TrimSpace(g.APIKey) == "" && !g.DryRun {
		warnings = append(warnings, fmt.Sprintf("generation.api_key is empty (and %s unset); generation will fail with missing_credential", APIKeyEnv))
	}
	return warnings
}

// validatePayload applies defaults to image payload settings.
func (c *AppConfig) validatePayload() {
	p := &c.Payload
	if p.MaxImageBytes <= 0 {
		p.MaxImageBytes = DefaultMaxImageBytes
	}
	if p.DownscaleMaxPixels <= 0 {
		p.DownscaleMaxPixels = 1024
	}
	if p.UserAgent == "" {
		p.UserAgent = DefaultUserAgent
	}
	if p.ProviderAgent == "" {
		p.ProviderAgent = DefaultProviderAgent
	}
	if p.SocketTimeout <= 0 {
		p.SocketTimeout = 15 * time.Second
	}
	if p.DelayPerHost < 0 {
		p.DelayPerHost = 0
	}
}

// validateQueue applies defaults to queue settings.
func (c *AppConfig) validateQueue() (warnings []string) {
	q := &c.Queue
	if q.BatchSize == 0 {
		q.BatchSize = DefaultBatchSize
	}
	if clamped := ClampBatchSize(q.BatchSize); clamped != q.BatchSize {
		warnings = append(warnings, fmt.Sprintf("queue.batch_size %d out of range [%d, %d], using %d",
			q.BatchSize, MinBatchSize, MaxBatchSize, clamped))
		q.BatchSize = clamped
	}
	if q.TickInterval <= 0 {
		q.TickInterval = 2 * time.Second
	}
	if q.PollInterval <= 0 {
		q.PollInterval = 1 * time.Second
	}
	if q.WatchdogInterval <= 0 {
		q.WatchdogInterval = 30 * time.Second
	}
	if q.StallAfter <= 0 {
		q.StallAfter = 90 * time.Second
	}
	if q.MaxRetries <= 0 {
		q.MaxRetries = 3
	}
	return warnings
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 30 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 4
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// ClampBatchSize forces n into [MinBatchSize, MaxBatchSize]; non-positive values become the default.
func ClampBatchSize(n int) int {
	switch {
	case n <= 0:
		return DefaultBatchSize
	case n < MinBatchSize:
		return MinBatchSize
	case n > MaxBatchSize:
		return MaxBatchSize
	}
	return n
}

// ApplyEnv overlays environment variables onto the config. Call before Validate.
func (c *AppConfig) ApplyEnv() {
	if key := strings.TrimSpace(os.Getenv(APIKeyEnv)); key != "" {
		c.Generation.APIKey = key
	}
}
