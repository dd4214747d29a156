package review

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/alt-text-gen/pkg/config"
	"github.com/Sriram-PR/alt-text-gen/pkg/models"
	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

// UsageRecorder receives the token usage of review calls
type UsageRecorder interface {
	Record(u models.Usage) error
}

// ModelReviewAPI is implemented by ModelReviewer and test fakes
type ModelReviewAPI interface {
	Review(ctx context.Context, asset *models.ImageAsset, cfg config.GenerationConfig, text, imagePayload string) (*models.ModelReview, error)
}

// AssessInput is one candidate to assess
type AssessInput struct {
	Asset        *models.ImageAsset
	Config       config.GenerationConfig
	Text         string
	ImagePayload string
	Previous     *models.QualityAssessment // Reused only if its ContentHash matches Text
}

// Reviewer combines the heuristic and model scores
type Reviewer struct {
	model  ModelReviewAPI // nil disables model review
	ledger UsageRecorder  // nil skips usage accounting
	now    func() time.Time
	log    *logrus.Entry
}

// NewReviewer creates a Reviewer
func NewReviewer(model ModelReviewAPI, ledger UsageRecorder, log *logrus.Entry) *Reviewer {
	return &Reviewer{model: model, ledger: ledger, now: time.Now, log: log.WithField("component", "reviewer")}
}

// Assess scores in.Text. It never fails: a model review error is recorded on the assessment
// and the heuristic score stands alone.
func (r *Reviewer) Assess(ctx context.Context, in AssessInput) *models.QualityAssessment {
	h := HeuristicScore(in.Text, in.Asset)
	hash := utils.AltContentHash(in.Text)

	qa := &models.QualityAssessment{
		Score:          h.Score,
		Status:         h.Status,
		HeuristicScore: h.Score,
		ContentHash:    hash,
		ReviewedAt:     r.now(),
	}

	review, reviewErr := r.modelReview(ctx, in, hash)
	if reviewErr != "" {
		qa.ReviewError = reviewErr
	}
	if review != nil {
		qa.Review = review
		if review.Score < qa.Score {
			qa.Score = review.Score
		}
		qa.Status = models.WorseStatus(h.Status, review.Status)
		qa.Summary = review.Summary
	}

	var issues []string
	if qa.Summary != "" {
		issues = append(issues, qa.Summary)
	}
	if review != nil {
		issues = append(issues, review.Issues...)
	}
	issues = append(issues, h.Issues...)
	qa.Issues = dedupe(issues)

	if qa.Summary == "" {
		qa.Summary = heuristicSummary(h)
	}
	qa.Grade = qa.Status.Grade()
	return qa
}

// modelReview returns a reusable or fresh review, or the reason there is none
func (r *Reviewer) modelReview(ctx context.Context, in AssessInput, hash string) (*models.ModelReview, string) {
	if r.model == nil || !in.Config.ReviewIsEnabled() || strings.TrimSpace(in.Text) == "" {
		return nil, ""
	}
	if prev := in.Previous; prev != nil && prev.Review != nil && prev.ContentHash == hash {
		return prev.Review, ""
	}

	review, err := r.model.Review(ctx, in.Asset, in.Config, in.Text, in.ImagePayload)
	if review != nil && r.ledger != nil {
		if recErr := r.ledger.Record(review.Usage); recErr != nil {
			r.log.Warnf("Recording review usage failed: %v", recErr)
		}
	}
	if err != nil {
		msg := utils.RedactError(err)
		r.log.WithFields(logrus.Fields{"asset_id": assetID(in.Asset), "error_category": utils.CategorizeError(err)}).
			Warnf("Model review unavailable, using heuristic score: %s", msg)
		return nil, msg
	}
	return review, ""
}

func heuristicSummary(h Heuristic) string {
	if len(h.Issues) == 0 {
		return "Heuristic checks passed."
	}
	return h.Issues[0]
}

// dedupe drops blanks and case-insensitive repeats, keeping first occurrences in order
func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		key := strings.ToLower(it)
		if it == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	return out
}

func assetID(a *models.ImageAsset) int64 {
	if a == nil {
		return 0
	}
	return a.ID
}
