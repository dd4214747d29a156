// Package pipeline runs generate, review and at most one feedback retry for an asset,
// then writes the best candidate back to the asset store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/alt-text-gen/pkg/config"
	"github.com/Sriram-PR/alt-text-gen/pkg/generate"
	"github.com/Sriram-PR/alt-text-gen/pkg/metrics"
	"github.com/Sriram-PR/alt-text-gen/pkg/models"
	"github.com/Sriram-PR/alt-text-gen/pkg/review"
	"github.com/Sriram-PR/alt-text-gen/pkg/storage"
	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

// maxRetry is the number of feedback retries after the first attempt
const maxRetry = 1

// ErrSkipped is returned by GenerateOnUpload when the asset is left alone
var ErrSkipped = errors.New("generation skipped")

// Generator is implemented by *generate.Orchestrator
type Generator interface {
	Generate(ctx context.Context, req generate.Request) (*models.GenerationResult, error)
}

// Assessor is implemented by *review.Reviewer
type Assessor interface {
	Assess(ctx context.Context, in review.AssessInput) *models.QualityAssessment
}

// Outcome is what GenerateAndReview persisted
type Outcome struct {
	AssetID    int64
	AltText    string
	Result     *models.GenerationResult
	Assessment *models.QualityAssessment
	Meta       models.GenerationMeta
	Retried    bool
}

// Pipeline ties the orchestrator and reviewer to the asset store
type Pipeline struct {
	assets   storage.AssetStore
	gen      Generator
	reviewer Assessor
	cfg      config.Source
	now      func() time.Time
	log      *logrus.Entry
}

// New creates a Pipeline
func New(assets storage.AssetStore, gen Generator, reviewer Assessor, cfg config.Source, log *logrus.Entry) *Pipeline {
	return &Pipeline{
		assets:   assets,
		gen:      gen,
		reviewer: reviewer,
		cfg:      cfg,
		now:      time.Now,
		log:      log.WithField("component", "pipeline"),
	}
}

type candidate struct {
	result     *models.GenerationResult
	assessment *models.QualityAssessment
}

// GenerateAndReview generates alt text for assetID, reviews it, retries once with the
// reviewer's feedback when the score is under the threshold, and persists the best candidate.
// A dry run is reported through the error channel; check utils.IsDryRun.
func (p *Pipeline) GenerateAndReview(ctx context.Context, assetID int64, source models.Source) (*Outcome, error) {
	cfg := p.cfg.Current()
	threshold := cfg.QualityThreshold
	if threshold <= 0 {
		threshold = config.DefaultQualityThreshold
	}
	runLog := p.log.WithFields(logrus.Fields{"asset_id": assetID, "source": source})

	asset, err := p.assets.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}

	previous, err := p.currentAssessment(ctx, asset)
	if err != nil {
		return nil, err
	}

	var (
		best     *candidate
		feedback []string
		total    models.Usage
		attempts int
	)
	for retry := 0; retry <= maxRetry; retry++ {
		res, err := p.gen.Generate(ctx, generate.Request{
			Asset:      asset,
			Config:     cfg,
			Source:     source,
			RetryCount: retry,
			Feedback:   feedback,
		})
		if err != nil {
			if utils.IsDryRun(err) || best == nil {
				return nil, err
			}
			runLog.Warnf("Retry failed, keeping first attempt: %s", utils.RedactError(err))
			break
		}
		attempts++
		total = total.Add(res.Usage)

		assessment := p.reviewer.Assess(ctx, review.AssessInput{
			Asset:        asset,
			Config:       cfg,
			Text:         res.AltText,
			ImagePayload: res.ImagePayload,
			Previous:     previous,
		})
		metrics.ObserveAssessment(string(assessment.Status), assessment.Score, assessment.ReviewError != "")
		runLog.WithFields(logrus.Fields{"attempt": retry + 1, "score": assessment.Score, "status": assessment.Status}).
			Debugf("Candidate reviewed: %q", res.AltText)

		// A retry that repeats the text reuses this review by content hash
		if assessment.Review != nil {
			previous = assessment
		}

		if best == nil || assessment.Score > best.assessment.Score {
			best = &candidate{result: res, assessment: assessment}
		}
		if assessment.Score >= threshold {
			break
		}
		feedback = Feedback(assessment, res.AltText)
	}

	meta := models.GenerationMeta{
		Source:      source,
		Model:       best.result.Model,
		Strategy:    best.result.Strategy,
		Usage:       total,
		Attempts:    attempts,
		GeneratedAt: p.now().UTC(),
	}
	if err := p.persist(ctx, assetID, best, meta); err != nil {
		return nil, err
	}

	runLog.WithFields(logrus.Fields{"score": best.assessment.Score, "attempts": attempts, "strategy": meta.Strategy}).
		Info("Alt text saved")
	return &Outcome{
		AssetID:    assetID,
		AltText:    best.result.AltText,
		Result:     best.result,
		Assessment: best.assessment,
		Meta:       meta,
		Retried:    attempts > 1,
	}, nil
}

// currentAssessment returns the stored assessment if it still describes the asset's alt text,
// purging it otherwise.
func (p *Pipeline) currentAssessment(ctx context.Context, asset *models.ImageAsset) (*models.QualityAssessment, error) {
	prev, err := p.assets.GetAssessment(ctx, asset.ID)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, nil
	}
	if prev.ContentHash != utils.AltContentHash(asset.AltText) {
		p.log.WithField("asset_id", asset.ID).Debug("Purging stale assessment")
		if err := p.assets.ClearAssessment(ctx, asset.ID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return prev, nil
}

func (p *Pipeline) persist(ctx context.Context, id int64, c *candidate, meta models.GenerationMeta) error {
	if err := p.assets.SetAltText(ctx, id, c.result.AltText); err != nil {
		return fmt.Errorf("saving alt text: %w", err)
	}
	if err := p.assets.SetGenerationMetadata(ctx, id, meta); err != nil {
		return fmt.Errorf("saving generation metadata: %w", err)
	}
	if err := p.assets.SetAssessment(ctx, id, c.assessment); err != nil {
		return fmt.Errorf("saving assessment: %w", err)
	}
	return nil
}

// Feedback builds the retry feedback: the reviewer summary, each issue, and the rejected text
func Feedback(a *models.QualityAssessment, previousText string) []string {
	var out []string
	if s := strings.TrimSpace(a.Summary); s != "" {
		out = append(out, s)
	}
	for _, issue := range a.Issues {
		if issue = strings.TrimSpace(issue); issue != "" && !strings.EqualFold(issue, a.Summary) {
			out = append(out, issue)
		}
	}
	return append(out, "previous attempt produced: "+previousText)
}

// GenerateOnUpload describes a newly uploaded asset unless it is not an image, already has
// alt text (and force_overwrite is off), or on-upload generation is disabled.
func (p *Pipeline) GenerateOnUpload(ctx context.Context, assetID int64) (*Outcome, error) {
	cfg := p.cfg.Current()
	if !cfg.OnUploadIsEnabled() {
		return nil, fmt.Errorf("%w: on-upload generation disabled", ErrSkipped)
	}
	asset, err := p.assets.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if !asset.IsImage() {
		return nil, fmt.Errorf("%w: %s is not an image", ErrSkipped, asset.MIMEType)
	}
	if asset.HasAlt() && !cfg.ForceOverwrite {
		return nil, fmt.Errorf("%w: asset already has alt text", ErrSkipped)
	}
	return p.GenerateAndReview(ctx, assetID, models.SourceAuto)
}

// BulkItem is the per-asset result of GenerateBulk
type BulkItem struct {
	AssetID int64
	Outcome *Outcome
	Err     error
}

// GenerateBulk runs GenerateAndReview for each id in order. It stops early on a fatal error
// or cancellation; ids after that point are absent from the result.
func (p *Pipeline) GenerateBulk(ctx context.Context, ids []int64, source models.Source) []BulkItem {
	items := make([]BulkItem, 0, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		out, err := p.GenerateAndReview(ctx, id, source)
		items = append(items, BulkItem{AssetID: id, Outcome: out, Err: err})
		if ge, ok := utils.AsGenError(err); ok && ge.Fatal() {
			p.log.Errorf("Bulk run stopped: %s", utils.RedactError(err))
			break
		}
	}
	return items
}
