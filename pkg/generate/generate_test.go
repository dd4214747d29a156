package generate

import (
	"context"
	"errors"
	"io"
	"regexp"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/alt-text-gen/pkg/config"
	"github.com/Sriram-PR/alt-text-gen/pkg/models"
	"github.com/Sriram-PR/alt-text-gen/pkg/payload"
	"github.com/Sriram-PR/alt-text-gen/pkg/provider"
	"github.com/Sriram-PR/alt-text-gen/pkg/tokens"
	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

type reply struct {
	content string
	usage   models.Usage
	err     error
}

// scriptedChat plays replies in order; the last one repeats
type scriptedChat struct {
	replies []reply
	inputs  []provider.ChatInput
}

func (s *scriptedChat) Chat(_ context.Context, in provider.ChatInput, _ int) (*provider.ChatOutput, error) {
	s.inputs = append(s.inputs, in)
	r := s.replies[len(s.replies)-1]
	if len(s.inputs) <= len(s.replies) {
		r = s.replies[len(s.inputs)-1]
	}
	if r.err != nil {
		return nil, r.err
	}
	return &provider.ChatOutput{Content: r.content, Usage: r.usage}, nil
}

type fixedStrategy struct {
	kind    models.StrategyKind
	payload string
	err     error
}

// fakeStrategies hands out fixed payloads and counts resolutions
type fakeStrategies struct {
	list     []fixedStrategy
	resolved map[models.StrategyKind]int
}

var imageAccess = regexp.MustCompile(`(?i)download|invalid image`)

func (f *fakeStrategies) Strategies(*models.ImageAsset, config.GenerationConfig) []payload.Attempt {
	if f.resolved == nil {
		f.resolved = map[models.StrategyKind]int{}
	}
	var out []payload.Attempt
	for _, s := range f.list {
		s := s
		out = append(out, payload.Attempt{Kind: s.kind, Resolve: func(context.Context) (string, error) {
			f.resolved[s.kind]++
			return s.payload, s.err
		}})
	}
	return out
}

func (f *fakeStrategies) IsImageAccessFailure(err error) bool {
	ge, ok := utils.AsGenError(err)
	return ok && ge.Kind == utils.KindAPIError && imageAccess.MatchString(ge.Message)
}

type ledgerSink struct{ recorded []models.Usage }

func (l *ledgerSink) Record(u models.Usage) error {
	l.recorded = append(l.recorded, u)
	return nil
}

func allStrategies() *fakeStrategies {
	return &fakeStrategies{list: []fixedStrategy{
		{kind: models.StrategyRemoteURL, payload: "https://cdn.example.com/dog.jpg"},
		{kind: models.StrategyInlineBase64, payload: "data:image/jpeg;base64,AAAA"},
		{kind: models.StrategyOmitted},
	}}
}

func testAsset() *models.ImageAsset {
	return &models.ImageAsset{
		ID:       7,
		MIMEType: "image/jpeg",
		URL:      "https://cdn.example.com/dog.jpg",
		Filename: "dog.jpg",
		Title:    "Rex at the park",
	}
}

func testConfig() config.GenerationConfig {
	return config.GenerationConfig{
		APIKey:          "sk-test-0000000000000000000000",
		BaseURL:         config.DefaultBaseURL,
		Model:           config.DefaultModel,
		MaxWords:        16,
		DuplicatePolicy: config.DuplicateNextStrategy,
	}
}

func newTestOrchestrator(chat provider.ChatAPI, strategies StrategySource, ledger UsageRecorder) *Orchestrator {
	return NewOrchestrator(chat, strategies, ledger, tokens.NewEstimator(), testLogger())
}

func TestGenerate_Preconditions(t *testing.T) {
	t.Run("missing credential", func(t *testing.T) {
		chat := &scriptedChat{replies: []reply{{content: "A dog"}}}
		cfg := testConfig()
		cfg.APIKey = "  "
		cfg.DryRun = true

		_, err := newTestOrchestrator(chat, allStrategies(), nil).Generate(context.Background(), Request{Asset: testAsset(), Config: cfg})
		require.Error(t, err)
		assert.ErrorIs(t, err, utils.ErrMissingCredential)
		assert.Empty(t, chat.inputs)
	})

	t.Run("not an image", func(t *testing.T) {
		chat := &scriptedChat{replies: []reply{{content: "A dog"}}}
		asset := testAsset()
		asset.MIMEType = "application/pdf"

		_, err := newTestOrchestrator(chat, allStrategies(), nil).Generate(context.Background(), Request{Asset: asset, Config: testConfig()})
		assert.ErrorIs(t, err, utils.ErrNotAnImage)
		assert.Empty(t, chat.inputs)
	})

	t.Run("dry run carries prompt", func(t *testing.T) {
		chat := &scriptedChat{replies: []reply{{content: "A dog"}}}
		ledger := &ledgerSink{}
		strategies := allStrategies()
		cfg := testConfig()
		cfg.DryRun = true
		asset := testAsset()

		res, err := newTestOrchestrator(chat, strategies, ledger).Generate(context.Background(), Request{Asset: asset, Config: cfg})
		assert.Nil(t, res)
		require.True(t, utils.IsDryRun(err))
		ge, ok := utils.AsGenError(err)
		require.True(t, ok)
		assert.Contains(t, ge.Prompt, "Filename: dog.jpg")
		assert.Contains(t, ge.Prompt, "Title: Rex at the park")
		assert.Empty(t, chat.inputs)
		assert.Empty(t, ledger.recorded)
		assert.Empty(t, strategies.resolved)
		assert.Empty(t, asset.AltText)
	})
}

func TestGenerate_FirstStrategySucceeds(t *testing.T) {
	chat := &scriptedChat{replies: []reply{{content: "\"A golden retriever catching a frisbee.\"", usage: models.Usage{PromptTokens: 120, CompletionTokens: 12, TotalTokens: 132}}}}
	ledger := &ledgerSink{}

	res, err := newTestOrchestrator(chat, allStrategies(), ledger).Generate(context.Background(), Request{Asset: testAsset(), Config: testConfig(), Source: models.SourceManual})
	require.NoError(t, err)
	assert.Equal(t, "A golden retriever catching a frisbee.", res.AltText)
	assert.Equal(t, models.StrategyRemoteURL, res.Strategy)
	assert.Equal(t, "https://cdn.example.com/dog.jpg", res.ImagePayload)
	assert.Equal(t, config.DefaultModel, res.Model)
	assert.Equal(t, 132, res.Usage.TotalTokens)
	assert.Equal(t, []models.Usage{{PromptTokens: 120, CompletionTokens: 12, TotalTokens: 132}}, ledger.recorded)

	require.Len(t, chat.inputs, 1)
	in := chat.inputs[0]
	assert.Equal(t, "https://cdn.example.com/dog.jpg", in.ImageURL)
	assert.Equal(t, res.Prompt, in.Prompt)
	assert.NotEmpty(t, in.System)
}

func TestGenerate_ImageAccessFailureFallsThrough(t *testing.T) {
	chat := &scriptedChat{replies: []reply{
		{err: utils.NewGenError(utils.KindAPIError, "Error while downloading https://cdn.example.com/dog.jpg")},
		{content: "A dog asleep on a blue sofa"},
	}}
	ledger := &ledgerSink{}

	res, err := newTestOrchestrator(chat, allStrategies(), ledger).Generate(context.Background(), Request{Asset: testAsset(), Config: testConfig()})
	require.NoError(t, err)
	assert.Equal(t, models.StrategyInlineBase64, res.Strategy)
	assert.Equal(t, "data:image/jpeg;base64,AAAA", res.ImagePayload)
	require.Len(t, chat.inputs, 2)
	assert.Equal(t, "https://cdn.example.com/dog.jpg", chat.inputs[0].ImageURL)
	assert.Equal(t, "data:image/jpeg;base64,AAAA", chat.inputs[1].ImageURL)
	assert.Len(t, ledger.recorded, 1, "failed requests are not billed")
}

func TestGenerate_OtherAPIErrorReturns(t *testing.T) {
	apiErr := &utils.GenError{Kind: utils.KindAPIError, Status: 401, Message: "Incorrect API key provided"}
	chat := &scriptedChat{replies: []reply{{err: apiErr}}}

	_, err := newTestOrchestrator(chat, allStrategies(), nil).Generate(context.Background(), Request{Asset: testAsset(), Config: testConfig()})
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrAPI)
	assert.Len(t, chat.inputs, 1)
}

func TestGenerate_RateLimitedReturns(t *testing.T) {
	chat := &scriptedChat{replies: []reply{{err: &utils.GenError{Kind: utils.KindRateLimited, Status: 429}}}}

	_, err := newTestOrchestrator(chat, allStrategies(), nil).Generate(context.Background(), Request{Asset: testAsset(), Config: testConfig()})
	assert.ErrorIs(t, err, utils.ErrRateLimited)
	assert.Len(t, chat.inputs, 1)
}

func TestGenerate_UnusableStrategySkipped(t *testing.T) {
	strategies := &fakeStrategies{list: []fixedStrategy{
		{kind: models.StrategyRemoteURL, err: utils.NewGenError(utils.KindImageUnavailable, "host is private")},
		{kind: models.StrategyInlineBase64, err: utils.NewGenError(utils.KindImageTooLarge, "3 MiB over cap")},
		{kind: models.StrategyOmitted},
	}}
	chat := &scriptedChat{replies: []reply{{content: "A dog on a lawn with a red ball"}}}

	res, err := newTestOrchestrator(chat, strategies, nil).Generate(context.Background(), Request{Asset: testAsset(), Config: testConfig()})
	require.NoError(t, err)
	assert.Equal(t, models.StrategyOmitted, res.Strategy)
	assert.Empty(t, res.ImagePayload)
	require.Len(t, chat.inputs, 1)
	assert.Empty(t, chat.inputs[0].ImageURL)
}

func TestGenerate_EstimatesMissingUsage(t *testing.T) {
	chat := &scriptedChat{replies: []reply{{content: "A dog on a lawn with a red ball"}}}
	ledger := &ledgerSink{}

	res, err := newTestOrchestrator(chat, allStrategies(), ledger).Generate(context.Background(), Request{Asset: testAsset(), Config: testConfig()})
	require.NoError(t, err)
	assert.Greater(t, res.Usage.PromptTokens, tokens.LowDetailImageTokens)
	assert.Greater(t, res.Usage.CompletionTokens, 0)
	assert.Equal(t, res.Usage.PromptTokens+res.Usage.CompletionTokens, res.Usage.TotalTokens)
	require.Len(t, ledger.recorded, 1)
	assert.Equal(t, res.Usage, ledger.recorded[0])
}

func TestGenerate_EmptyCompletion(t *testing.T) {
	chat := &scriptedChat{replies: []reply{{content: `  ""  `, usage: models.Usage{PromptTokens: 10, CompletionTokens: 1, TotalTokens: 11}}}}
	ledger := &ledgerSink{}

	_, err := newTestOrchestrator(chat, allStrategies(), ledger).Generate(context.Background(), Request{Asset: testAsset(), Config: testConfig()})
	assert.ErrorIs(t, err, utils.ErrAPI)
	assert.Len(t, ledger.recorded, 1, "empty completions are still billed")
}

func TestGenerate_DuplicatePolicy(t *testing.T) {
	existing := "A brown dog on green grass"

	t.Run("next strategy", func(t *testing.T) {
		chat := &scriptedChat{replies: []reply{
			{content: "a brown dog on green grass "},
			{content: "A brown dog chasing a ball across a lawn"},
		}}
		asset := testAsset()
		asset.AltText = existing

		res, err := newTestOrchestrator(chat, allStrategies(), nil).Generate(context.Background(), Request{Asset: asset, Config: testConfig()})
		require.NoError(t, err)
		assert.Equal(t, models.StrategyInlineBase64, res.Strategy)
		assert.Len(t, chat.inputs, 2)
	})

	t.Run("regenerate same strategy", func(t *testing.T) {
		chat := &scriptedChat{replies: []reply{
			{content: "A brown dog on green grass"},
			{content: "A brown dog chasing a ball across a lawn"},
		}}
		asset := testAsset()
		asset.AltText = existing
		cfg := testConfig()
		cfg.DuplicatePolicy = config.DuplicateRegenerate

		res, err := newTestOrchestrator(chat, allStrategies(), nil).Generate(context.Background(), Request{Asset: asset, Config: cfg})
		require.NoError(t, err)
		assert.Equal(t, models.StrategyRemoteURL, res.Strategy)
		require.Len(t, chat.inputs, 2)
		assert.Equal(t, chat.inputs[0].ImageURL, chat.inputs[1].ImageURL)
		assert.NotContains(t, chat.inputs[0].Prompt, regenerateFeedback)
		assert.Contains(t, chat.inputs[1].Prompt, regenerateFeedback)
	})

	t.Run("next strategy is capped at two passes", func(t *testing.T) {
		chat := &scriptedChat{replies: []reply{{content: existing}}}
		strategies := allStrategies()
		asset := testAsset()
		asset.AltText = existing

		_, err := newTestOrchestrator(chat, strategies, nil).Generate(context.Background(), Request{Asset: asset, Config: testConfig()})
		require.Error(t, err)
		assert.ErrorIs(t, err, utils.ErrDuplicateAlt)
		assert.Len(t, chat.inputs, 6)
		assert.Equal(t, 1, strategies.resolved[models.StrategyRemoteURL], "payloads resolve once per call")
	})

	t.Run("regenerate is capped at two passes", func(t *testing.T) {
		chat := &scriptedChat{replies: []reply{{content: existing}}}
		strategies := &fakeStrategies{list: []fixedStrategy{{kind: models.StrategyOmitted}}}
		asset := testAsset()
		asset.AltText = existing
		cfg := testConfig()
		cfg.DuplicatePolicy = config.DuplicateRegenerate

		_, err := newTestOrchestrator(chat, strategies, nil).Generate(context.Background(), Request{Asset: asset, Config: cfg})
		assert.ErrorIs(t, err, utils.ErrDuplicateAlt)
		assert.Len(t, chat.inputs, 4)
	})
}

func TestGenerate_RetryCarriesFeedback(t *testing.T) {
	chat := &scriptedChat{replies: []reply{{content: "A golden retriever mid-leap catching a red frisbee"}}}

	_, err := newTestOrchestrator(chat, allStrategies(), nil).Generate(context.Background(), Request{
		Asset:      testAsset(),
		Config:     testConfig(),
		RetryCount: 1,
		Feedback:   []string{"Too vague.", "previous attempt produced: A dog"},
	})
	require.NoError(t, err)
	require.Len(t, chat.inputs, 1)
	assert.Contains(t, chat.inputs[0].Prompt, "- Too vague.")
	assert.Contains(t, chat.inputs[0].Prompt, "- previous attempt produced: A dog")
}

func TestGenerate_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	chat := &scriptedChat{replies: []reply{{err: context.Canceled}}}

	_, err := newTestOrchestrator(chat, allStrategies(), nil).Generate(ctx, Request{Asset: testAsset(), Config: testConfig()})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCleanAltText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "A red bicycle leaning on a wall.", "A red bicycle leaning on a wall."},
		{"surrounding quotes", "  \"A red bicycle leaning on a wall.\"  ", "A red bicycle leaning on a wall."},
		{"curly quotes", "“Sunset over the bay”", "Sunset over the bay"},
		{"label prefix", "Alt text: A red bicycle", "A red bicycle"},
		{"short label", "ALT: A red bicycle", "A red bicycle"},
		{"label then quotes", "Alt text: \"A red bicycle\"", "A red bicycle"},
		{"markdown emphasis", "**A red bicycle** leaning on a _brick_ wall", "A red bicycle leaning on a brick wall"},
		{"markdown heading", "# A red bicycle\n\nleaning on a wall", "A red bicycle leaning on a wall"},
		{"html tags", "A <b>red</b> bicycle", "A red bicycle"},
		{"newlines collapse", "A red bicycle\n  leaning\ton a wall", "A red bicycle leaning on a wall"},
		{"label word kept mid sentence", "Alternative rock band on stage", "Alternative rock band on stage"},
		{"only quotes", `""`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanAltText(tt.in))
		})
	}
}
