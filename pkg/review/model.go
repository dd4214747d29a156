package review

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/alt-text-gen/pkg/config"
	"github.com/Sriram-PR/alt-text-gen/pkg/models"
	"github.com/Sriram-PR/alt-text-gen/pkg/prompt"
	"github.com/Sriram-PR/alt-text-gen/pkg/provider"
	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

const (
	reviewTemperature = 0
	reviewMaxTokens   = 300
)

// ModelReviewer asks the generation model to critique a candidate
type ModelReviewer struct {
	api provider.ChatAPI
	log *logrus.Entry
}

// NewModelReviewer creates a ModelReviewer
func NewModelReviewer(api provider.ChatAPI, log *logrus.Entry) *ModelReviewer {
	return &ModelReviewer{api: api, log: log}
}

// Review sends text and the same image payload used for generation and parses the JSON verdict.
// The returned review carries the token usage of the call even when parsing fails.
func (m *ModelReviewer) Review(ctx context.Context, asset *models.ImageAsset, cfg config.GenerationConfig, text, imagePayload string) (*models.ModelReview, error) {
	instruction, err := prompt.BuildReview(asset, cfg, text)
	if err != nil {
		return nil, err
	}
	model := cfg.EffectiveReviewModel()
	out, err := m.api.Chat(ctx, provider.ChatInput{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       model,
		System:      prompt.ReviewSystemPrompt,
		Prompt:      instruction,
		ImageURL:    imagePayload,
		Temperature: reviewTemperature,
		MaxTokens:   reviewMaxTokens,
		JSONMode:    true,
	}, cfg.MaxRetries)
	if err != nil {
		return nil, err
	}

	review, err := ParseReview(out.Content)
	if err != nil {
		m.log.WithField("asset_id", asset.ID).Debugf("Unparseable review: %q", utils.SanitizePlainText(out.Content))
		return &models.ModelReview{Model: model, Usage: out.Usage}, err
	}
	review.Model = model
	review.Usage = out.Usage
	return review, nil
}

type rawReview struct {
	Score   json.RawMessage `json:"score"`
	Verdict string          `json:"verdict"`
	Summary string          `json:"summary"`
	Issues  json.RawMessage `json:"issues"`
}

// ParseReview extracts {score, verdict, summary, issues} from a model reply that may be wrapped
// in code fences or prose. Score may be a number or a numeric string and is clamped to 0..100.
func ParseReview(content string) (*models.ModelReview, error) {
	block := firstJSONObject(stripFences(content))
	if block == "" {
		return nil, utils.NewGenError(utils.KindReviewParse, "no JSON object in review response")
	}

	var raw rawReview
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return nil, utils.NewGenError(utils.KindReviewParse, "invalid review JSON: %v", err)
	}
	score, ok := parseScore(raw.Score)
	if !ok {
		return nil, utils.NewGenError(utils.KindReviewParse, "review JSON has no usable score")
	}

	status := models.StatusForScore(score)
	if vs, known := VerdictStatus(raw.Verdict); known {
		status = models.WorseStatus(status, vs)
	}
	return &models.ModelReview{
		Score:   score,
		Status:  status,
		Verdict: strings.TrimSpace(raw.Verdict),
		Summary: utils.SanitizePlainText(raw.Summary),
		Issues:  parseIssues(raw.Issues),
	}, nil
}

// VerdictStatus maps a free-form verdict onto the status vocabulary
func VerdictStatus(verdict string) (models.QualityStatus, bool) {
	v := strings.ToLower(strings.TrimSpace(verdict))
	switch v {
	case "excellent", "great", "pass", "passed", "perfect":
		return models.QualityGreat, true
	case "good", "strong", "acceptable", "solid":
		return models.QualityGood, true
	case "needs review", "needs_review", "review", "fair", "ok", "okay", "needs improvement", "needs work", "mediocre":
		return models.QualityReview, true
	case "poor", "bad", "fail", "failed", "critical", "unacceptable", "inaccurate":
		return models.QualityCritical, true
	}
	return "", false
}

func parseScore(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "/100"))
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	}
	score := int(f + 0.5)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, true
}

// parseIssues accepts an array of strings or a single string
func parseIssues(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		var single string
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil
		}
		list = []string{single}
	}
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = utils.SanitizePlainText(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// stripFences removes a surrounding markdown code fence, with or without a language tag
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// firstJSONObject returns the first balanced {...} block, skipping braces inside strings
func firstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
