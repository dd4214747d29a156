package review

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/alt-text-gen/pkg/config"
	"github.com/Sriram-PR/alt-text-gen/pkg/models"
	"github.com/Sriram-PR/alt-text-gen/pkg/provider"
	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// fakeChat returns canned replies and records inputs
type fakeChat struct {
	content string
	usage   models.Usage
	err     error
	inputs  []provider.ChatInput
}

func (f *fakeChat) Chat(_ context.Context, in provider.ChatInput, _ int) (*provider.ChatOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &provider.ChatOutput{Content: f.content, Usage: f.usage}, nil
}

func TestParseReview(t *testing.T) {
	tests := []struct {
		name    string
		content string
		score   int
		status  models.QualityStatus
		issues  []string
	}{
		{
			name:    "plain json",
			content: `{"score": 92, "verdict": "excellent", "summary": "Accurate and concise.", "issues": []}`,
			score:   92, status: models.QualityGreat,
		},
		{
			name:    "fenced with language tag",
			content: "```json\n{\"score\": 80, \"verdict\": \"good\", \"summary\": \"Fine.\", \"issues\": [\"Could name the street\"]}\n```",
			score:   80, status: models.QualityGood, issues: []string{"Could name the street"},
		},
		{
			name:    "prose around object and braces inside strings",
			content: `Here is my review: {"score": "65", "verdict": "needs review", "summary": "Uses {placeholder} style", "issues": "Too vague"} Thanks!`,
			score:   65, status: models.QualityReview, issues: []string{"Too vague"},
		},
		{
			name:    "verdict worse than score",
			content: `{"score": 95, "verdict": "poor", "summary": "Wrong subject"}`,
			score:   95, status: models.QualityCritical,
		},
		{
			name:    "unknown verdict falls back to score",
			content: `{"score": 77.6, "verdict": "meh"}`,
			score:   78, status: models.QualityGood,
		},
		{
			name:    "score clamped",
			content: `{"score": 140, "verdict": "great"}`,
			score:   100, status: models.QualityGreat,
		},
		{
			name:    "score as fraction string",
			content: `{"score": "88/100"}`,
			score:   88, status: models.QualityGood,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseReview(tt.content)
			require.NoError(t, err)
			assert.Equal(t, tt.score, r.Score)
			assert.Equal(t, tt.status, r.Status)
			if tt.issues != nil {
				assert.Equal(t, tt.issues, r.Issues)
			}
		})
	}
}

func TestParseReview_Failures(t *testing.T) {
	for _, content := range []string{
		"",
		"I think it is fine.",
		`{"score": "high"}`,
		`{"verdict": "good"}`,
		`{"score": 80`,
	} {
		_, err := ParseReview(content)
		assert.ErrorIs(t, err, utils.ErrReviewParse, content)
	}
}

func TestFirstJSONObject(t *testing.T) {
	assert.Equal(t, `{"a":{"b":"}"}}`, firstJSONObject(`x {"a":{"b":"}"}} {"c":1}`))
	assert.Equal(t, `{"q":"say \"{hi}\""}`, firstJSONObject(`{"q":"say \"{hi}\""} tail`))
	assert.Equal(t, "", firstJSONObject("no braces"))
}

func TestModelReviewer_Review(t *testing.T) {
	api := &fakeChat{
		content: `{"score": 92, "verdict": "excellent", "summary": "Accurate.", "issues": []}`,
		usage:   models.Usage{PromptTokens: 90, CompletionTokens: 20, TotalTokens: 110},
	}
	m := NewModelReviewer(api, testLogger())
	cfg := config.GenerationConfig{APIKey: "sk-test", Model: "gpt-4o-mini", ReviewModel: "gpt-4o", MaxWords: 16}

	r, err := m.Review(context.Background(), &models.ImageAsset{ID: 1}, cfg, "A red bicycle.", "https://cdn.example.org/bike.jpg")

	require.NoError(t, err)
	assert.Equal(t, 92, r.Score)
	assert.Equal(t, "gpt-4o", r.Model)
	assert.Equal(t, 110, r.Usage.TotalTokens)
	require.Len(t, api.inputs, 1)
	assert.True(t, api.inputs[0].JSONMode)
	assert.Equal(t, "gpt-4o", api.inputs[0].Model)
	assert.Equal(t, "https://cdn.example.org/bike.jpg", api.inputs[0].ImageURL)
	assert.Contains(t, api.inputs[0].Prompt, "ALT text: A red bicycle.")
}

func TestModelReviewer_ParseFailureKeepsUsage(t *testing.T) {
	api := &fakeChat{content: "Looks fine to me", usage: models.Usage{TotalTokens: 30}}
	m := NewModelReviewer(api, testLogger())

	r, err := m.Review(context.Background(), &models.ImageAsset{}, config.GenerationConfig{APIKey: "k"}, "text", "")

	assert.ErrorIs(t, err, utils.ErrReviewParse)
	require.NotNil(t, r)
	assert.Equal(t, 30, r.Usage.TotalTokens)
}

func TestModelReviewer_APIError(t *testing.T) {
	api := &fakeChat{err: errors.New("boom")}
	m := NewModelReviewer(api, testLogger())

	r, err := m.Review(context.Background(), &models.ImageAsset{}, config.GenerationConfig{APIKey: "k"}, "text", "")
	assert.Nil(t, r)
	assert.Error(t, err)
}

func TestVerdictStatus(t *testing.T) {
	s, ok := VerdictStatus("  Needs Review ")
	assert.True(t, ok)
	assert.Equal(t, models.QualityReview, s)

	_, ok = VerdictStatus("whatever")
	assert.False(t, ok)
}
