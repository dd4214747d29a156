// Package generate produces candidate alt text for one asset by walking the image
// payload strategies until the provider returns a usable, non-duplicate description.
package generate

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/alt-text-gen/pkg/config"
	"github.com/Sriram-PR/alt-text-gen/pkg/metrics"
	"github.com/Sriram-PR/alt-text-gen/pkg/models"
	"github.com/Sriram-PR/alt-text-gen/pkg/payload"
	"github.com/Sriram-PR/alt-text-gen/pkg/prompt"
	"github.com/Sriram-PR/alt-text-gen/pkg/provider"
	"github.com/Sriram-PR/alt-text-gen/pkg/tokens"
	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

// maxPasses bounds how many times the strategy list is walked when every result is a duplicate
const maxPasses = 2

// regenerateFeedback is added when the same strategy is asked again for different wording
const regenerateFeedback = "The previous answer repeated the existing alt text word for word; write a different description."

// StrategySource is implemented by payload.Resolver
type StrategySource interface {
	Strategies(asset *models.ImageAsset, cfg config.GenerationConfig) []payload.Attempt
	IsImageAccessFailure(err error) bool
}

// UsageRecorder receives the usage of every billable response
type UsageRecorder interface {
	Record(u models.Usage) error
}

// Request is one generation call
type Request struct {
	Asset      *models.ImageAsset
	Config     config.GenerationConfig
	Source     models.Source
	RetryCount int      // >0 marks a feedback retry
	Feedback   []string // Reviewer feedback, used only on retry
}

// Orchestrator turns an asset into a GenerationResult
type Orchestrator struct {
	api       provider.ChatAPI
	resolver  StrategySource
	ledger    UsageRecorder
	estimator *tokens.Estimator
	log       *logrus.Entry
}

// NewOrchestrator creates an Orchestrator. ledger may be nil.
func NewOrchestrator(api provider.ChatAPI, resolver StrategySource, ledger UsageRecorder, estimator *tokens.Estimator, log *logrus.Entry) *Orchestrator {
	if estimator == nil {
		estimator = tokens.NewEstimator()
	}
	return &Orchestrator{
		api:       api,
		resolver:  resolver,
		ledger:    ledger,
		estimator: estimator,
		log:       log.WithField("component", "orchestrator"),
	}
}

type resolved struct {
	payload string
	err     error
}

// Generate produces alt text for req.Asset. A dry run returns a *utils.GenError of kind DryRun
// carrying the prompt; callers must check utils.IsDryRun before treating it as a failure.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*models.GenerationResult, error) {
	asset, cfg := req.Asset, req.Config
	genLog := o.log.WithFields(logrus.Fields{"asset_id": asset.ID, "source": req.Source, "retry": req.RetryCount})

	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, utils.NewGenError(utils.KindMissingCredential, "API key missing")
	}
	if !asset.IsImage() {
		return nil, utils.NewGenError(utils.KindNotAnImage, "asset %d is %q, not an image", asset.ID, asset.MIMEType)
	}

	promptText, err := prompt.Build(prompt.Input{
		Asset:       asset,
		Config:      cfg,
		ExistingAlt: asset.AltText,
		IsRetry:     req.RetryCount > 0,
		Feedback:    req.Feedback,
	})
	if err != nil {
		return nil, err
	}

	if cfg.DryRun {
		estimate := o.estimator.Count(cfg.Model, prompt.SystemPrompt) + o.estimator.Count(cfg.Model, promptText)
		genLog.WithFields(logrus.Fields{"model": cfg.Model, "estimated_prompt_tokens": estimate}).
			Infof("Dry run, request not sent. Prompt:\n%s", promptText)
		return nil, &utils.GenError{Kind: utils.KindDryRun, Message: "prompt built, no request sent", Prompt: promptText}
	}

	strategies := o.resolver.Strategies(asset, cfg)
	cache := make(map[models.StrategyKind]resolved, len(strategies))
	var lastErr error
	duplicates := 0

	for pass := 0; pass < maxPasses; pass++ {
		for _, attempt := range strategies {
			stratLog := genLog.WithFields(logrus.Fields{"strategy": attempt.Kind, "pass": pass + 1})

			r, ok := cache[attempt.Kind]
			if !ok {
				p, resolveErr := attempt.Resolve(ctx)
				r = resolved{payload: p, err: resolveErr}
				cache[attempt.Kind] = r
			}
			if r.err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				stratLog.Infof("Strategy unusable: %s", utils.RedactError(r.err))
				lastErr = r.err
				continue
			}

			result, err := o.call(ctx, req, promptText, attempt.Kind, r.payload)
			if err != nil {
				if attempt.Kind != models.StrategyOmitted && o.resolver.IsImageAccessFailure(err) {
					stratLog.Warnf("Provider could not use the image, trying next strategy: %s", utils.RedactError(err))
					lastErr = err
					continue
				}
				return nil, err
			}
			if !sameAlt(result.AltText, asset.AltText) {
				return result, nil
			}

			duplicates++
			stratLog.Info("Result repeats the existing alt text")
			if cfg.DuplicatePolicy == config.DuplicateRegenerate {
				retry, err := o.regenerate(ctx, req, attempt.Kind, r.payload)
				switch {
				case err != nil && o.resolver.IsImageAccessFailure(err):
					lastErr = err
				case err != nil:
					return nil, err
				case !sameAlt(retry.AltText, asset.AltText):
					return retry, nil
				default:
					duplicates++
				}
			}
		}
		if duplicates == 0 {
			break
		}
	}

	if duplicates > 0 {
		return nil, utils.NewGenError(utils.KindDuplicateAlt, "provider returned the existing alt text %d time(s)", duplicates)
	}
	return nil, &utils.GenError{Kind: utils.KindImageUnavailable, Message: "no image strategy produced a result", Err: lastErr}
}

// regenerate asks the same strategy again with an explicit instruction to differ
func (o *Orchestrator) regenerate(ctx context.Context, req Request, kind models.StrategyKind, payloadRef string) (*models.GenerationResult, error) {
	feedback := append(append([]string{}, req.Feedback...), regenerateFeedback)
	promptText, err := prompt.Build(prompt.Input{
		Asset:       req.Asset,
		Config:      req.Config,
		ExistingAlt: req.Asset.AltText,
		IsRetry:     true,
		Feedback:    feedback,
	})
	if err != nil {
		return nil, err
	}
	return o.call(ctx, req, promptText, kind, payloadRef)
}

// call sends one completion request and records its usage
func (o *Orchestrator) call(ctx context.Context, req Request, promptText string, kind models.StrategyKind, payloadRef string) (*models.GenerationResult, error) {
	cfg := req.Config
	start := time.Now()
	out, err := o.api.Chat(ctx, provider.ChatInput{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		System:      prompt.SystemPrompt,
		Prompt:      promptText,
		ImageURL:    payloadRef,
		Temperature: cfg.EffectiveTemperature(),
		MaxTokens:   cfg.MaxTokens,
	}, cfg.MaxRetries)
	if err != nil {
		metrics.ObserveGeneration(string(kind), utils.CategorizeError(err), 0, cfg.Model)
		return nil, err
	}
	metrics.ObserveGeneration(string(kind), "ok", time.Since(start), cfg.Model)

	usage := out.Usage
	if usage.IsZero() {
		usage = o.estimator.EstimateUsage(cfg.Model, prompt.SystemPrompt, promptText, out.Content, payloadRef != "")
	}
	if o.ledger != nil {
		if err := o.ledger.Record(usage); err != nil {
			o.log.WithField("asset_id", req.Asset.ID).Warnf("Recording usage failed: %v", err)
		}
	}

	alt := CleanAltText(out.Content)
	if alt == "" {
		return nil, utils.NewGenError(utils.KindAPIError, "provider returned an empty description")
	}
	return &models.GenerationResult{
		AltText:      alt,
		Usage:        usage,
		Strategy:     kind,
		Model:        cfg.Model,
		Prompt:       promptText,
		ImagePayload: payloadRef,
	}, nil
}
