package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

func containsWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestAppConfig_Validate_Defaults(t *testing.T) {
	cfg := AppConfig{} // Zero value
	warnings, err := cfg.Validate()

	require.NoError(t, err)

	assert.Equal(t, "./alt_text_state", cfg.StateDir)
	assert.Equal(t, "badger", cfg.StateBackend)

	g := cfg.Generation
	assert.Equal(t, "gpt-4o-mini", g.Model)
	assert.Equal(t, "https://api.openai.com/v1", g.BaseURL)
	assert.Equal(t, "en", g.Language)
	assert.Equal(t, "professional, accessible", g.Tone)
	assert.Equal(t, 16, g.MaxWords)
	assert.InDelta(t, 0.3, g.EffectiveTemperature(), 0.0001)
	assert.Equal(t, 80, g.MaxTokens)
	assert.Equal(t, 70, g.QualityThreshold)
	assert.Equal(t, DuplicateNextStrategy, g.DuplicatePolicy)
	assert.Equal(t, 3, g.MaxRetries)

	assert.Equal(t, int64(2*1024*1024), cfg.Payload.MaxImageBytes)
	assert.Equal(t, DefaultUserAgent, cfg.Payload.UserAgent)
	assert.Equal(t, "ChatGPT-User", cfg.Payload.ProviderAgent)

	assert.Equal(t, 5, cfg.Queue.BatchSize)
	assert.Equal(t, 90*time.Second, cfg.Queue.StallAfter)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)

	assert.Equal(t, 1*time.Second, cfg.InitialRetryDelay)
	assert.Equal(t, 30*time.Second, cfg.HTTPClientSettings.Timeout)
	assert.Equal(t, ":8080", cfg.Server.Addr)

	assert.True(t, containsWarning(warnings, "state_dir is empty"))
	assert.True(t, containsWarning(warnings, "api_key is empty"))
}

func TestAppConfig_Validate_KeepsExplicitValues(t *testing.T) {
	cfg := AppConfig{
		StateDir: "/state",
		Generation: GenerationConfig{
			APIKey:          "sk-test",
			BaseURL:         "http://localhost:9999/v1/",
			Model:           "gpt-4o",
			MaxWords:        12,
			DuplicatePolicy: DuplicateRegenerate,
		},
		Queue: QueueConfig{BatchSize: 10},
	}
	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "http://localhost:9999/v1", cfg.Generation.BaseURL, "trailing slash trimmed")
	assert.Equal(t, "gpt-4o", cfg.Generation.Model)
	assert.Equal(t, 12, cfg.Generation.MaxWords)
	assert.Equal(t, DuplicateRegenerate, cfg.Generation.DuplicatePolicy)
	assert.Equal(t, 10, cfg.Queue.BatchSize)
}

func TestAppConfig_Validate_ZeroTemperatureIsKept(t *testing.T) {
	var cfg AppConfig
	require.NoError(t, yaml.Unmarshal([]byte("generation:\n  api_key: sk-test\n  temperature: 0\n"), &cfg))
	_, err := cfg.Validate()

	require.NoError(t, err)
	require.NotNil(t, cfg.Generation.Temperature)
	assert.Zero(t, cfg.Generation.EffectiveTemperature())
}

func TestAppConfig_Validate_HardErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  AppConfig
	}{
		{"max words below minimum", AppConfig{Generation: GenerationConfig{MaxWords: 2}}},
		{"unknown duplicate policy", AppConfig{Generation: GenerationConfig{DuplicatePolicy: "shuffle"}}},
		{"threshold over 100", AppConfig{Generation: GenerationConfig{QualityThreshold: 101}}},
		{"unknown backend", AppConfig{StateBackend: "sqlite"}},
		{"bad redact pattern", AppConfig{RedactPatterns: []string{"[unclosed"}}},
		{"bad image error pattern", AppConfig{Payload: PayloadConfig{ImageErrorPatterns: []string{"(oops"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, utils.ErrConfigValidation)
		})
	}
}

func TestAppConfig_Validate_BatchClamp(t *testing.T) {
	cfg := AppConfig{Queue: QueueConfig{BatchSize: 50}}
	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Queue.BatchSize)
	assert.True(t, containsWarning(warnings, "queue.batch_size 50 out of range"))
}

func TestAppConfig_Validate_RetryDelayOrder(t *testing.T) {
	cfg := AppConfig{InitialRetryDelay: 2 * time.Minute, MaxRetryDelay: 10 * time.Second}
	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.InitialRetryDelay)
	assert.True(t, containsWarning(warnings, "initial_retry_delay"))
}

func TestAppConfig_Validate_TelegramNeedsBothFields(t *testing.T) {
	cfg := AppConfig{Notify: NotifyConfig{TelegramToken: "123:abc"}}
	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.Empty(t, cfg.Notify.TelegramToken)
	assert.True(t, containsWarning(warnings, "telegram"))
}

func TestClampBatchSize(t *testing.T) {
	tests := []struct{ in, want int }{
		{-3, 5}, {0, 5}, {1, 1}, {7, 7}, {20, 20}, {21, 20}, {500, 20},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampBatchSize(tt.in), "ClampBatchSize(%d)", tt.in)
	}
}

func TestAppConfig_ApplyEnv(t *testing.T) {
	t.Setenv(APIKeyEnv, "  sk-from-env  ")
	cfg := AppConfig{Generation: GenerationConfig{APIKey: "sk-from-yaml"}}

	cfg.ApplyEnv()

	assert.Equal(t, "sk-from-env", cfg.Generation.APIKey)
}
