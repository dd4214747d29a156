package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func boolPtr(b bool) *bool {
	return &b
}

func TestGenerationConfig_Toggles(t *testing.T) {
	tests := []struct {
		name        string
		cfg         GenerationConfig
		wantReview  bool
		wantImage   bool
		wantUpload  bool
	}{
		{
			name:       "nil pointers mean enabled",
			cfg:        GenerationConfig{},
			wantReview: true, wantImage: true, wantUpload: true,
		},
		{
			name: "explicit false disables",
			cfg: GenerationConfig{
				ReviewEnabled:  boolPtr(false),
				IncludeImage:   boolPtr(false),
				EnableOnUpload: boolPtr(false),
			},
		},
		{
			name: "explicit true enables",
			cfg: GenerationConfig{
				ReviewEnabled:  boolPtr(true),
				IncludeImage:   boolPtr(true),
				EnableOnUpload: boolPtr(true),
			},
			wantReview: true, wantImage: true, wantUpload: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantReview, tt.cfg.ReviewIsEnabled())
			assert.Equal(t, tt.wantImage, tt.cfg.ImageIsIncluded())
			assert.Equal(t, tt.wantUpload, tt.cfg.OnUploadIsEnabled())
		})
	}
}

func TestGenerationConfig_EffectiveReviewModel(t *testing.T) {
	assert.Equal(t, "gpt-4o-mini", GenerationConfig{Model: "gpt-4o-mini"}.EffectiveReviewModel())
	assert.Equal(t, "gpt-4o", GenerationConfig{Model: "gpt-4o-mini", ReviewModel: "gpt-4o"}.EffectiveReviewModel())
}

func TestPayloadConfig_RobotsAreRespected(t *testing.T) {
	assert.True(t, PayloadConfig{}.RobotsAreRespected())
	assert.False(t, PayloadConfig{RespectRobots: boolPtr(false)}.RobotsAreRespected())
}

func TestStatic_UpdateSwapsSnapshot(t *testing.T) {
	src := NewStatic(GenerationConfig{UsageAlertThreshold: 100})
	snap := src.Current()

	src.Update(GenerationConfig{UsageAlertThreshold: 500})

	assert.Equal(t, int64(100), snap.UsageAlertThreshold, "earlier snapshot must not change")
	assert.Equal(t, int64(500), src.Current().UsageAlertThreshold)
}
