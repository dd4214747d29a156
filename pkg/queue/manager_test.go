package queue

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/alt-text-gen/pkg/config"
	"github.com/Sriram-PR/alt-text-gen/pkg/models"
	"github.com/Sriram-PR/alt-text-gen/pkg/pipeline"
	"github.com/Sriram-PR/alt-text-gen/pkg/storage"
	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

var t0 = time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
}

func (r *recordingNotifier) Notify(_ context.Context, subject, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	return nil
}

func (r *recordingNotifier) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.subjects...)
}

// fakeProcessor writes alt text for successful ids and fails the ones listed in errs
type fakeProcessor struct {
	mu     sync.Mutex
	store  storage.AssetStore
	errs   map[int64]error
	seen   []int64
	before func(id int64)
}

func (f *fakeProcessor) GenerateAndReview(ctx context.Context, id int64, _ models.Source) (*pipeline.Outcome, error) {
	if f.before != nil {
		f.before(id)
	}
	f.mu.Lock()
	f.seen = append(f.seen, id)
	err := f.errs[id]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	text := fmt.Sprintf("Generated description for image %d", id)
	if err := f.store.SetAltText(ctx, id, text); err != nil {
		return nil, err
	}
	return &pipeline.Outcome{AssetID: id, AltText: text}, nil
}

func (f *fakeProcessor) ids() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.seen...)
}

type fixture struct {
	store    *storage.BadgerStore
	proc     *fakeProcessor
	notifier *recordingNotifier
	manager  *Manager
	clock    time.Time
}

func newFixture(t *testing.T, images int, withAlt ...int64) *fixture {
	t.Helper()
	store, err := storage.NewBadgerStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	hasAlt := map[int64]bool{}
	for _, id := range withAlt {
		hasAlt[id] = true
	}
	ctx := context.Background()
	for i := 1; i <= images; i++ {
		a := &models.ImageAsset{ID: int64(i), MIMEType: "image/jpeg", UploadedAt: t0.Add(time.Duration(i) * time.Minute)}
		if hasAlt[a.ID] {
			a.AltText = "Existing description"
		}
		require.NoError(t, store.PutAsset(ctx, a))
	}

	f := &fixture{
		store:    store,
		proc:     &fakeProcessor{store: store, errs: map[int64]error{}},
		notifier: &recordingNotifier{},
		clock:    t0,
	}
	cfg := config.QueueConfig{BatchSize: 5, TickInterval: 2 * time.Second, PollInterval: 10 * time.Millisecond, WatchdogInterval: 10 * time.Millisecond, StallAfter: 90 * time.Second}
	f.manager = NewManager(store, store, f.proc, f.notifier, cfg, testLogger())
	f.manager.now = func() time.Time { return f.clock }
	return f
}

func TestStart_MissingScopeCompletesInOneTick(t *testing.T) {
	f := newFixture(t, 5, 1, 2) // three images lack alt text
	ctx := context.Background()

	state, err := f.manager.Start(ctx, models.ScopeMissing, 5)
	require.NoError(t, err)

	assert.Equal(t, 3, state.Processed)
	assert.Equal(t, 3, state.Total)
	assert.Equal(t, models.QueueCompleted, state.Status)
	assert.False(t, state.Active)
	assert.Equal(t, []int64{5, 4, 3}, f.proc.ids())
	assert.Equal(t, []string{"Alt text queue completed"}, f.notifier.all())

	persisted, err := f.manager.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.QueueCompleted, persisted.Status)
	assert.LessOrEqual(t, len(persisted.Messages), models.MaxQueueMessages)

	// A finished run stays visible but inert
	again, err := f.manager.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.QueueCompleted, again.Status)
	assert.Len(t, f.proc.ids(), 3)
}

func TestStart_ClampsBatchAndRejectsScope(t *testing.T) {
	f := newFixture(t, 30)
	ctx := context.Background()

	_, err := f.manager.Start(ctx, models.QueueScope("everything"), 5)
	assert.ErrorIs(t, err, ErrInvalidScope)

	state, err := f.manager.Start(ctx, models.ScopeMissing, 500)
	require.NoError(t, err)
	assert.Equal(t, config.MaxBatchSize, state.BatchSize)
	assert.Len(t, f.proc.ids(), config.MaxBatchSize)
	assert.True(t, state.Active)
	assert.Equal(t, t0.Add(2*time.Second), state.NextRunAt)
}

func TestStart_ReplacesActiveRun(t *testing.T) {
	f := newFixture(t, 30)
	ctx := context.Background()

	first, err := f.manager.Start(ctx, models.ScopeMissing, 5)
	require.NoError(t, err)
	require.True(t, first.Active)

	second, err := f.manager.Start(ctx, models.ScopeAll, 5)
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, models.ScopeAll, second.Scope)
}

func TestTick_ResumesFromPersistedCursor(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	require.NoError(t, f.store.SaveQueueState(ctx, &models.QueueState{
		RunID: "before-restart", Scope: models.ScopeAll, BatchSize: 5, Cursor: 40, Total: 50,
		Active: true, Status: models.QueueRunning, StartedAt: t0,
	}))

	// A fresh manager stands in for a restarted process
	m := NewManager(f.store, f.store, f.proc, f.notifier, config.QueueConfig{TickInterval: time.Second}, testLogger())
	m.now = func() time.Time { return t0 }

	state, err := m.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 9, 8, 7, 6}, f.proc.ids(), "offset 40 of 50 images, newest upload first")
	assert.Equal(t, 45, state.Cursor)
	assert.True(t, state.Active)
	assert.Equal(t, t0.Add(time.Second), state.NextRunAt)
}

func TestTick_AllScopeCompletesAtCursorEnd(t *testing.T) {
	f := newFixture(t, 7)
	ctx := context.Background()

	state, err := f.manager.Start(ctx, models.ScopeAll, 5)
	require.NoError(t, err)
	require.True(t, state.Active)
	assert.Equal(t, 5, state.Cursor)

	state, err = f.manager.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, state.Cursor)
	assert.Equal(t, models.QueueCompleted, state.Status)
	assert.Equal(t, 7, state.Processed)
}

func TestTick_APIErrorReschedulesThenHalts(t *testing.T) {
	f := newFixture(t, 2)
	f.proc.errs[2] = &utils.GenError{Kind: utils.KindAPIError, Status: 503, Message: "upstream overloaded"}
	ctx := context.Background()

	state, err := f.manager.Start(ctx, models.ScopeMissing, 5)
	require.NoError(t, err)
	assert.True(t, state.Active)
	assert.Equal(t, 1, state.RetryCount)
	assert.Equal(t, t0.Add(5*time.Second), state.NextRunAt)
	assert.Contains(t, state.Messages[len(state.Messages)-2], "ID 2: api_error (status 503)")

	state, err = f.manager.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, state.RetryCount)
	assert.Equal(t, t0.Add(10*time.Second), state.NextRunAt)

	state, err = f.manager.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, state.RetryCount)
	assert.Equal(t, t0.Add(15*time.Second), state.NextRunAt)

	state, err = f.manager.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.QueueHalted, state.Status)
	assert.False(t, state.Active)
	assert.Equal(t, []string{"Alt text queue halted"}, f.notifier.all())
	assert.Equal(t, []int64{2, 2, 2, 2}, f.proc.ids(), "the same batch is retried, never skipped")
}

func TestTick_MissingCredentialHalts(t *testing.T) {
	f := newFixture(t, 3)
	f.proc.errs[3] = utils.NewGenError(utils.KindMissingCredential, "API key missing")

	state, err := f.manager.Start(context.Background(), models.ScopeMissing, 5)
	require.NoError(t, err)
	assert.Equal(t, models.QueueHalted, state.Status)
	assert.Equal(t, []int64{3}, f.proc.ids())
	assert.Equal(t, []string{"Alt text queue halted"}, f.notifier.all())
}

func TestTick_ItemErrorIsSkippedAndRunCompletes(t *testing.T) {
	f := newFixture(t, 12)
	f.proc.errs[12] = utils.NewGenError(utils.KindImageTooLarge, "image exceeds 2097152 bytes")
	ctx := context.Background()

	state, err := f.manager.Start(ctx, models.ScopeMissing, 5)
	require.NoError(t, err)
	assert.Equal(t, 4, state.Processed)
	assert.Equal(t, 1, state.Errors)
	assert.True(t, state.Active)

	for i := 0; i < 5 && state.Active; i++ {
		state, err = f.manager.Tick(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, models.QueueCompleted, state.Status)
	assert.Equal(t, 11, state.Processed)
	assert.Equal(t, 1, state.Errors)

	attempts := 0
	for _, id := range f.proc.ids() {
		if id == 12 {
			attempts++
		}
	}
	assert.Equal(t, 1, attempts, "a failed item is not picked again in the same run")
	assert.Equal(t, []string{"Alt text queue completed"}, f.notifier.all())
}

func TestTick_HaltsWhenWholeBatchFails(t *testing.T) {
	f := newFixture(t, 6)
	f.proc.errs[6] = utils.NewGenError(utils.KindDuplicateAlt, "provider returned the existing alt text 2 time(s)")
	f.proc.errs[5] = utils.NewGenError(utils.KindNotAnImage, "unsupported")

	state, err := f.manager.Start(context.Background(), models.ScopeMissing, 2)
	require.NoError(t, err)
	assert.Equal(t, models.QueueHalted, state.Status, "a batch where everything failed halts while work remains")
	assert.Equal(t, 2, state.Errors)
	assert.Equal(t, []int64{6, 5}, f.proc.ids())
}

func TestTick_DryRunCountsAsProcessed(t *testing.T) {
	f := newFixture(t, 1)
	f.proc.errs[1] = &utils.GenError{Kind: utils.KindDryRun, Prompt: "..."}

	state, err := f.manager.Start(context.Background(), models.ScopeAll, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Processed)
	assert.Equal(t, models.QueueCompleted, state.Status)
}

func TestTick_DryRunMissingScopeFinishes(t *testing.T) {
	f := newFixture(t, 3)
	for id := int64(1); id <= 3; id++ {
		f.proc.errs[id] = &utils.GenError{Kind: utils.KindDryRun, Prompt: "..."}
	}
	ctx := context.Background()

	state, err := f.manager.Start(ctx, models.ScopeMissing, 2)
	require.NoError(t, err)
	assert.True(t, state.Active)

	for i := 0; i < 10 && state.Active; i++ {
		state, err = f.manager.Tick(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, models.QueueCompleted, state.Status)
	assert.Equal(t, 3, state.Processed)
	assert.Equal(t, 3, state.Total)
	assert.Equal(t, []int64{3, 2, 1}, f.proc.ids(), "each image is described once even though nothing is saved")
}

func TestTick_IdleAndReentrancy(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	state, err := f.manager.Tick(ctx)
	require.NoError(t, err)
	assert.Nil(t, state)

	f.manager.tickMu.Lock()
	_, err = f.manager.Tick(ctx)
	f.manager.tickMu.Unlock()
	assert.ErrorIs(t, err, ErrTickInProgress)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, 30)
	ctx := context.Background()

	_, err := f.manager.Start(ctx, models.ScopeMissing, 5)
	require.NoError(t, err)
	require.NoError(t, f.manager.Cancel(ctx))

	state, err := f.manager.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.QueueIdle, state.Status)
	assert.False(t, state.Active)
	assert.Equal(t, []string{"Alt text queue cancelled"}, f.notifier.all())

	// Cancelling an idle queue is quiet
	require.NoError(t, f.manager.Cancel(ctx))
	assert.Len(t, f.notifier.all(), 1)
}

func TestCancel_MidBatchStopsAfterCurrentItem(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	f.proc.before = func(id int64) {
		if id == 9 {
			require.NoError(t, f.manager.Cancel(ctx))
		}
	}

	state, err := f.manager.Start(ctx, models.ScopeMissing, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 9}, f.proc.ids(), "item 9 finishes, item 8 never starts")
	assert.False(t, state.Active)

	persisted, err := f.store.LoadQueueState(ctx)
	require.NoError(t, err)
	assert.Nil(t, persisted, "the cancelled run is not written back")
}

func TestWatchdog_ForcesTickWhenStalled(t *testing.T) {
	f := newFixture(t, 30)
	ctx := context.Background()
	_, err := f.manager.Start(ctx, models.ScopeMissing, 5)
	require.NoError(t, err)
	require.Len(t, f.proc.ids(), 5)

	w := NewWatchdog(f.manager)

	f.clock = t0.Add(60 * time.Second)
	assert.False(t, w.Check(ctx), "60s of silence is not a stall")
	assert.Len(t, f.proc.ids(), 5)

	f.clock = t0.Add(95 * time.Second)
	assert.True(t, w.Check(ctx))
	assert.Len(t, f.proc.ids(), 10)
}

func TestWatchdog_IgnoresInactiveQueue(t *testing.T) {
	f := newFixture(t, 1)
	f.clock = t0.Add(time.Hour)
	assert.False(t, NewWatchdog(f.manager).Check(context.Background()))
}

func TestRunner_TicksWhenDueAndStops(t *testing.T) {
	f := newFixture(t, 30)
	ctx := context.Background()
	_, err := f.manager.Start(ctx, models.ScopeMissing, 5)
	require.NoError(t, err)

	f.clock = t0.Add(3 * time.Second) // past NextRunAt
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- NewRunner(f.manager).Run(runCtx) }()

	assert.Eventually(t, func() bool { return len(f.proc.ids()) >= 10 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 5*time.Second, RetryDelay(0))
	assert.Equal(t, 5*time.Second, RetryDelay(1))
	assert.Equal(t, 10*time.Second, RetryDelay(2))
	assert.Equal(t, 15*time.Second, RetryDelay(3))
}

func TestFormatInterval(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{5 * time.Second, "5s"},
		{90 * time.Second, "1m30s"},
		{5 * time.Minute, "5m"},
		{time.Hour, "1h"},
		{90 * time.Minute, "1h30m"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatInterval(tt.input))
		})
	}
	assert.Equal(t, "due now", Until(t0, t0.Add(time.Second)))
	assert.Equal(t, "in 5s", Until(t0.Add(5*time.Second), t0))
	assert.Equal(t, "not scheduled", Until(time.Time{}, t0))
}
