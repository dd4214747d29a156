package models

import (
	"path"
	"strings"
	"time"
)

// ImageAsset is a media item owned by the CMS. The pipeline only ever writes AltText back.
type ImageAsset struct {
	ID          int64     `json:"id" yaml:"id"`
	MIMEType    string    `json:"mime_type" yaml:"mime_type"`
	FilePath    string    `json:"file_path,omitempty" yaml:"file_path,omitempty"` // Local byte source
	URL         string    `json:"url,omitempty" yaml:"url,omitempty"`             // Public URL
	Title       string    `json:"title,omitempty" yaml:"title,omitempty"`
	Caption     string    `json:"caption,omitempty" yaml:"caption,omitempty"`
	ParentTitle string    `json:"parent_title,omitempty" yaml:"parent_title,omitempty"` // Title of the post the image is attached to
	Filename    string    `json:"filename,omitempty" yaml:"filename,omitempty"`
	AltText     string    `json:"alt_text,omitempty" yaml:"alt_text,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at" yaml:"uploaded_at"`
}

// IsImage reports whether the asset's MIME type is image/*
func (a *ImageAsset) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(a.MIMEType)), "image/")
}

// DisplayFilename returns Filename, falling back to the base name of FilePath or URL.
func (a *ImageAsset) DisplayFilename() string {
	if a.Filename != "" {
		return a.Filename
	}
	if a.FilePath != "" {
		return path.Base(strings.ReplaceAll(a.FilePath, "\\", "/"))
	}
	if a.URL != "" {
		u := a.URL
		if i := strings.IndexAny(u, "?#"); i >= 0 {
			u = u[:i]
		}
		return path.Base(u)
	}
	return ""
}

// HasAlt reports whether the asset already carries non-blank alt text
func (a *ImageAsset) HasAlt() bool {
	return strings.TrimSpace(a.AltText) != ""
}

// Usage is the token accounting reported by the provider for one request
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// IsZero reports whether every counter is zero
func (u Usage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// Add returns the element-wise sum of two usages
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// GenerationResult is the output of one successful orchestrator call
type GenerationResult struct {
	AltText      string
	Usage        Usage
	Strategy     StrategyKind
	Model        string
	Prompt       string
	ImagePayload string // URL or data URI sent with the request; empty when omitted
}

// GenerationMeta is persisted alongside the alt text
type GenerationMeta struct {
	Source      Source       `json:"source"`
	Model       string       `json:"model"`
	Strategy    StrategyKind `json:"strategy"`
	Usage       Usage        `json:"usage"`
	Attempts    int          `json:"attempts"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// ModelReview is the model-based critique of a candidate alt text
type ModelReview struct {
	Score   int           `json:"score"`
	Status  QualityStatus `json:"status"`
	Verdict string        `json:"verdict,omitempty"`
	Summary string        `json:"summary,omitempty"`
	Issues  []string      `json:"issues,omitempty"`
	Model   string        `json:"model"`
	Usage   Usage         `json:"usage"`
}

// QualityAssessment is the combined heuristic + model review verdict for one alt text
type QualityAssessment struct {
	Score          int           `json:"score"`
	Status         QualityStatus `json:"status"`
	Grade          string        `json:"grade"`
	Summary        string        `json:"summary,omitempty"`
	Issues         []string      `json:"issues,omitempty"`
	HeuristicScore int           `json:"heuristic_score"`
	Review         *ModelReview  `json:"review,omitempty"`
	ReviewError    string        `json:"review_error,omitempty"` // Why the model review is missing, if it is
	ContentHash    string        `json:"content_hash"`
	ReviewedAt     time.Time     `json:"reviewed_at"`
}

// UsageLedger is the cumulative token ledger
type UsageLedger struct {
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	Requests         int64     `json:"requests"`
	LastRequestAt    time.Time `json:"last_request_at,omitempty"`
	AlertThreshold   int64     `json:"alert_threshold"`
	AlertSent        bool      `json:"alert_sent"`
}

// MediaStats summarises alt-text coverage across the image library
type MediaStats struct {
	Total     int     `json:"total"`
	WithAlt   int     `json:"with_alt"`
	Missing   int     `json:"missing"`
	Generated int     `json:"generated"`
	Coverage  float64 `json:"coverage"` // Percentage 0..100, one decimal
}
