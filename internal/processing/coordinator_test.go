package processing

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"nodevideo/internal/broadcast"
	"nodevideo/internal/models"
	"nodevideo/internal/repository"
	"nodevideo/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingStore struct {
	*repository.MemoryVideoStore
	updates atomic.Int64
}

func (s *countingStore) Update(ctx context.Context, id string, patch models.VideoPatch) error {
	s.updates.Add(1)
	return s.MemoryVideoStore.Update(ctx, id, patch)
}

type recorder struct {
	mu        sync.Mutex
	events    []broadcast.Event
	onPublish func(broadcast.Event)
}

func (r *recorder) Publish(_ context.Context, event broadcast.Event) {
	if r.onPublish != nil {
		r.onPublish(event)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) snapshot() []broadcast.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]broadcast.Event(nil), r.events...)
}

// scriptedAnalyzer reports the given progress values and then returns the
// verdict or error. before runs ahead of each report.
type scriptedAnalyzer struct {
	steps   []int
	verdict Verdict
	err     error
	before  func(step int)
	calls   atomic.Int64
}

func (a *scriptedAnalyzer) Analyze(ctx context.Context, _ models.Video, report ProgressFunc) (Verdict, error) {
	a.calls.Add(1)
	for i, p := range a.steps {
		if a.before != nil {
			a.before(i)
		}
		if err := report(ctx, p, StageLabel(p)); err != nil {
			return Verdict{}, err
		}
	}
	if a.err != nil {
		return Verdict{}, a.err
	}
	return a.verdict, nil
}

// gateAnalyzer blocks until release is closed or ctx ends.
type gateAnalyzer struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int64
}

func newGateAnalyzer() *gateAnalyzer {
	return &gateAnalyzer{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (a *gateAnalyzer) Analyze(ctx context.Context, _ models.Video, _ ProgressFunc) (Verdict, error) {
	a.calls.Add(1)
	a.started <- struct{}{}
	select {
	case <-a.release:
		return Verdict{Sensitivity: models.SensitivitySafe, Score: 0.2, Details: "ok"}, nil
	case <-ctx.Done():
		return Verdict{}, ctx.Err()
	}
}

type panicAnalyzer struct{}

func (panicAnalyzer) Analyze(context.Context, models.Video, ProgressFunc) (Verdict, error) {
	panic("decoder exploded")
}

func seedVideo(t *testing.T, store repository.VideoStore, id string, status models.VideoStatus, path string) {
	t.Helper()
	video := models.Video{
		ID:       id,
		OwnerID:  "u1",
		FilePath: path,
		Size:     1000,
		MimeType: "video/mp4",
		Status:   models.VideoStatusUploaded,
	}
	require.NoError(t, store.Create(context.Background(), video))
	if status != models.VideoStatusUploaded {
		require.NoError(t, store.Update(context.Background(), id, models.VideoPatch{Status: &status}))
	}
}

func getVideo(t *testing.T, store repository.VideoStore, id string) models.Video {
	t.Helper()
	video, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	return video
}

func newCoordinator(store RecordStore, analyzer Analyzer, events broadcast.Publisher, allowResubmit bool) *Coordinator {
	return NewCoordinator(store, analyzer, events, Options{AllowResubmitFailed: allowResubmit}, zerolog.Nop())
}

func fastMockConfig(steps int) MockConfig {
	cfg := DefaultMockConfig()
	cfg.Steps = steps
	cfg.BaseDuration = time.Duration(steps) * 2 * time.Millisecond
	cfg.SizeStep = 0
	return cfg
}

func writeMedia(t *testing.T, local *storage.LocalStore, name string, size int) string {
	t.Helper()
	path := filepath.Join(local.Root(), name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func TestSubmitCompletesWithMonotonicProgress(t *testing.T) {
	local, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	store := repository.NewMemoryVideoStore()
	seedVideo(t, store, "v1", models.VideoStatusUploaded, writeMedia(t, local, "v1.mp4", 1000))

	hub := broadcast.NewHub(64, zerolog.Nop())
	sub := hub.Subscribe()
	defer sub.Close()

	analyzer := NewMockAnalyzer(fastMockConfig(20), local, WithRand(rand.New(rand.NewPCG(1, 2))))
	c := newCoordinator(store, analyzer, hub, false)

	require.NoError(t, c.Submit(context.Background(), "v1"))
	c.Wait()

	var events []broadcast.Event
	for len(events) < 22 {
		select {
		case ev := <-sub.C():
			events = append(events, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("expected 22 events, got %d", len(events))
		}
	}

	assert.Equal(t, 0, events[0].Progress)
	assert.Equal(t, "starting analysis", events[0].Message)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Progress, events[i-1].Progress, "event %d regressed", i)
		assert.Equal(t, "v1", events[i].VideoID)
		assert.False(t, events[i].Timestamp.IsZero())
	}
	assert.Equal(t, 95, events[20].Progress)
	assert.Equal(t, "finalizing", events[20].Message)

	last := events[21]
	assert.Equal(t, 100, last.Progress)
	assert.Equal(t, "processing completed", last.Message)
	assert.Contains(t, []string{"safe", "flagged"}, last.Sensitivity)
	assert.NotEmpty(t, last.Details)

	video := getVideo(t, store, "v1")
	assert.Equal(t, models.VideoStatusCompleted, video.Status)
	assert.Equal(t, 100, video.Progress)
	assert.Contains(t, []models.Sensitivity{models.SensitivitySafe, models.SensitivityFlagged}, video.Sensitivity)
	require.NotNil(t, video.SensitivityScore)
	assert.GreaterOrEqual(t, *video.SensitivityScore, 0.0)
	assert.LessOrEqual(t, *video.SensitivityScore, 1.0)
	assert.Equal(t, last.Details, video.SensitivityDetails)
	assert.False(t, c.InFlight("v1"))
	assert.Equal(t, 0, c.Active())
}

func TestConcurrentSubmitRunsSingleJob(t *testing.T) {
	store := &countingStore{MemoryVideoStore: repository.NewMemoryVideoStore()}
	seedVideo(t, store, "v1", models.VideoStatusUploaded, "/media/v1.mp4")
	store.updates.Store(0)

	analyzer := newGateAnalyzer()
	c := newCoordinator(store, analyzer, nil, false)

	require.NoError(t, c.Submit(context.Background(), "v1"))
	<-analyzer.started
	writesBefore := store.updates.Load()
	require.Equal(t, int64(1), writesBefore, "only the processing transition so far")

	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
		dupes    atomic.Int64
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.Submit(context.Background(), "v1")
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, ErrAlreadyInFlight):
				dupes.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), accepted.Load())
	assert.Equal(t, int64(16), dupes.Load())
	assert.Equal(t, writesBefore, store.updates.Load(), "duplicates must not write")

	close(analyzer.release)
	c.Wait()
	assert.Equal(t, int64(1), analyzer.calls.Load())
	assert.Equal(t, models.VideoStatusCompleted, getVideo(t, store, "v1").Status)
}

func TestConcurrentFirstSubmitsRace(t *testing.T) {
	store := repository.NewMemoryVideoStore()
	seedVideo(t, store, "v1", models.VideoStatusUploaded, "/media/v1.mp4")

	analyzer := newGateAnalyzer()
	c := newCoordinator(store, analyzer, nil, false)

	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
		start    = make(chan struct{})
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if c.Submit(context.Background(), "v1") == nil {
				accepted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	close(analyzer.release)
	c.Wait()
	assert.Equal(t, int64(1), accepted.Load())
	assert.Equal(t, int64(1), analyzer.calls.Load())
}

func TestSubmitRejections(t *testing.T) {
	store := repository.NewMemoryVideoStore()
	seedVideo(t, store, "done", models.VideoStatusCompleted, "/m/done.mp4")
	seedVideo(t, store, "busy", models.VideoStatusProcessing, "/m/busy.mp4")
	seedVideo(t, store, "broken", models.VideoStatusFailed, "/m/broken.mp4")

	analyzer := &scriptedAnalyzer{verdict: Verdict{Sensitivity: models.SensitivitySafe, Score: 0.1, Details: "ok"}}
	strict := newCoordinator(store, analyzer, nil, false)

	require.ErrorIs(t, strict.Submit(context.Background(), "missing"), ErrNotFound)
	require.ErrorIs(t, strict.Submit(context.Background(), "done"), ErrInvalidState)
	require.ErrorIs(t, strict.Submit(context.Background(), "busy"), ErrInvalidState)
	require.ErrorIs(t, strict.Submit(context.Background(), "broken"), ErrInvalidState)
	assert.Equal(t, 0, strict.Active(), "rejected submits release the slot")
	assert.Equal(t, int64(0), analyzer.calls.Load())

	lenient := newCoordinator(store, analyzer, nil, true)
	require.NoError(t, lenient.Submit(context.Background(), "broken"))
	lenient.Wait()

	video := getVideo(t, store, "broken")
	assert.Equal(t, models.VideoStatusCompleted, video.Status)
	assert.Equal(t, "ok", video.SensitivityDetails)
}

func TestDeletedMediaFailsAndReleasesGuard(t *testing.T) {
	local, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	store := repository.NewMemoryVideoStore()
	path := writeMedia(t, local, "v1.mp4", 1000)
	seedVideo(t, store, "v1", models.VideoStatusUploaded, path)

	cfg := fastMockConfig(10)
	cfg.BaseDuration = 200 * time.Millisecond
	events := &recorder{}
	c := newCoordinator(store, NewMockAnalyzer(cfg, local), events, true)

	require.NoError(t, c.Submit(context.Background(), "v1"))
	require.NoError(t, os.Remove(path))
	c.Wait()

	video := getVideo(t, store, "v1")
	assert.Equal(t, models.VideoStatusFailed, video.Status)
	assert.Contains(t, video.SensitivityDetails, "media file unavailable")
	assert.Equal(t, models.SensitivityUnknown, video.Sensitivity)
	assert.False(t, c.InFlight("v1"))

	got := events.snapshot()
	require.NotEmpty(t, got)
	assert.NotEmpty(t, got[len(got)-1].Error)

	require.NoError(t, c.Submit(context.Background(), "v1"), "re-submission must be accepted")
	c.Wait()
	assert.Equal(t, models.VideoStatusFailed, getVideo(t, store, "v1").Status)
}

func TestRecordVanishedMidJob(t *testing.T) {
	store := repository.NewMemoryVideoStore()
	seedVideo(t, store, "v1", models.VideoStatusUploaded, "/m/v1.mp4")

	analyzer := &scriptedAnalyzer{
		steps: []int{10, 20, 30},
		before: func(step int) {
			if step == 1 {
				_ = store.Delete(context.Background(), "v1")
			}
		},
	}
	events := &recorder{}
	c := newCoordinator(store, analyzer, events, true)

	require.NoError(t, c.Submit(context.Background(), "v1"))
	c.Wait()

	assert.False(t, c.InFlight("v1"))
	got := events.snapshot()
	require.Len(t, got, 3, "start, one progress step, failure")
	failure := got[2]
	assert.Equal(t, 10, failure.Progress)
	assert.Contains(t, failure.Error, "video not found")

	require.ErrorIs(t, c.Submit(context.Background(), "v1"), ErrNotFound)
}

// staleReadStore serves a snapshot taken before another process settled the
// video.
type staleReadStore struct {
	*repository.MemoryVideoStore
	snapshot models.Video
}

func (s *staleReadStore) Get(context.Context, string) (models.Video, error) {
	return s.snapshot, nil
}

func TestStaleReadCannotReopenSettledVideo(t *testing.T) {
	mem := repository.NewMemoryVideoStore()
	seedVideo(t, mem, "v1", models.VideoStatusUploaded, "/m/v1.mp4")
	snapshot := getVideo(t, mem, "v1")

	completed := models.VideoStatusCompleted
	safe := models.SensitivitySafe
	require.NoError(t, mem.Update(context.Background(), "v1", models.VideoPatch{Status: &completed, Sensitivity: &safe}))

	events := &recorder{}
	c := newCoordinator(&staleReadStore{MemoryVideoStore: mem, snapshot: snapshot}, &scriptedAnalyzer{steps: []int{50}}, events, true)

	require.NoError(t, c.Submit(context.Background(), "v1"))
	c.Wait()

	assert.False(t, c.InFlight("v1"))
	assert.Empty(t, events.snapshot())
	video := getVideo(t, mem, "v1")
	assert.Equal(t, models.VideoStatusCompleted, video.Status)
	assert.Equal(t, models.SensitivitySafe, video.Sensitivity)
	assert.Empty(t, video.SensitivityDetails)
}

func TestVideoSettledElsewhereMidJob(t *testing.T) {
	store := repository.NewMemoryVideoStore()
	seedVideo(t, store, "v1", models.VideoStatusUploaded, "/m/v1.mp4")

	processing := models.VideoStatusProcessing
	failed := models.VideoStatusFailed
	interrupted := "processing interrupted"
	analyzer := &scriptedAnalyzer{
		steps: []int{10, 20, 30},
		before: func(step int) {
			if step == 1 {
				_ = store.Update(context.Background(), "v1", models.VideoPatch{
					ExpectStatus:       &processing,
					Status:             &failed,
					SensitivityDetails: &interrupted,
				})
			}
		},
	}
	events := &recorder{}
	c := newCoordinator(store, analyzer, events, true)

	require.NoError(t, c.Submit(context.Background(), "v1"))
	c.Wait()

	assert.False(t, c.InFlight("v1"))
	got := events.snapshot()
	require.Len(t, got, 2, "start and one progress step, no second failure")
	assert.Equal(t, 10, got[1].Progress)

	video := getVideo(t, store, "v1")
	assert.Equal(t, models.VideoStatusFailed, video.Status)
	assert.Equal(t, interrupted, video.SensitivityDetails)
	assert.Equal(t, 10, video.Progress)
}

func TestAnalyzerErrorKeepsProgress(t *testing.T) {
	store := repository.NewMemoryVideoStore()
	seedVideo(t, store, "v1", models.VideoStatusUploaded, "/m/v1.mp4")

	analyzer := &scriptedAnalyzer{steps: []int{20, 40}, err: errors.New("codec not supported")}
	events := &recorder{}
	c := newCoordinator(store, analyzer, events, false)

	require.NoError(t, c.Submit(context.Background(), "v1"))
	c.Wait()

	video := getVideo(t, store, "v1")
	assert.Equal(t, models.VideoStatusFailed, video.Status)
	assert.Equal(t, 40, video.Progress)
	assert.Equal(t, "analysis failed: codec not supported", video.SensitivityDetails)

	got := events.snapshot()
	last := got[len(got)-1]
	assert.Equal(t, 40, last.Progress)
	assert.Equal(t, "processing failed", last.Message)
	assert.Equal(t, video.SensitivityDetails, last.Error)
}

func TestProgressRegressionsAndOvershootAreGuarded(t *testing.T) {
	store := repository.NewMemoryVideoStore()
	seedVideo(t, store, "v1", models.VideoStatusUploaded, "/m/v1.mp4")

	analyzer := &scriptedAnalyzer{
		steps:   []int{30, 10, 99},
		verdict: Verdict{Sensitivity: models.SensitivityFlagged, Score: 0.9, Details: "flagged"},
	}
	events := &recorder{}
	c := newCoordinator(store, analyzer, events, false)

	require.NoError(t, c.Submit(context.Background(), "v1"))
	c.Wait()

	var progress []int
	for _, ev := range events.snapshot() {
		progress = append(progress, ev.Progress)
	}
	assert.Equal(t, []int{0, 30, 95, 100}, progress)
}

func TestInvalidVerdictFails(t *testing.T) {
	store := repository.NewMemoryVideoStore()
	seedVideo(t, store, "v1", models.VideoStatusUploaded, "/m/v1.mp4")

	c := newCoordinator(store, &scriptedAnalyzer{verdict: Verdict{Sensitivity: models.SensitivitySafe, Score: 1.5}}, nil, false)
	require.NoError(t, c.Submit(context.Background(), "v1"))
	c.Wait()

	video := getVideo(t, store, "v1")
	assert.Equal(t, models.VideoStatusFailed, video.Status)
	assert.Contains(t, video.SensitivityDetails, "outside [0,1]")
	assert.Nil(t, video.SensitivityScore)
}

func TestAnalyzerPanicReleasesGuard(t *testing.T) {
	store := repository.NewMemoryVideoStore()
	seedVideo(t, store, "v1", models.VideoStatusUploaded, "/m/v1.mp4")

	c := newCoordinator(store, panicAnalyzer{}, nil, true)
	require.NoError(t, c.Submit(context.Background(), "v1"))
	c.Wait()

	video := getVideo(t, store, "v1")
	assert.Equal(t, models.VideoStatusFailed, video.Status)
	assert.Contains(t, video.SensitivityDetails, "decoder exploded")
	assert.False(t, c.InFlight("v1"))
}

func TestStoreWritesPrecedeEvents(t *testing.T) {
	store := repository.NewMemoryVideoStore()
	seedVideo(t, store, "v1", models.VideoStatusUploaded, "/m/v1.mp4")

	var mismatches atomic.Int64
	events := &recorder{onPublish: func(ev broadcast.Event) {
		video, err := store.Get(context.Background(), ev.VideoID)
		if err != nil || video.Progress != ev.Progress || string(video.Status) != ev.Status {
			mismatches.Add(1)
		}
	}}

	analyzer := &scriptedAnalyzer{
		steps:   []int{5, 25, 50, 75, 95},
		verdict: Verdict{Sensitivity: models.SensitivitySafe, Score: 0.3, Details: "ok"},
	}
	c := newCoordinator(store, analyzer, events, false)
	require.NoError(t, c.Submit(context.Background(), "v1"))
	c.Wait()

	assert.Len(t, events.snapshot(), 7)
	assert.Zero(t, mismatches.Load())
}

func TestParallelVideosProcessIndependently(t *testing.T) {
	store := repository.NewMemoryVideoStore()
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		seedVideo(t, store, id, models.VideoStatusUploaded, "/m/"+id+".mp4")
	}

	analyzer := newGateAnalyzer()
	c := newCoordinator(store, analyzer, nil, false)
	for _, id := range ids {
		require.NoError(t, c.Submit(context.Background(), id))
	}
	for range ids {
		<-analyzer.started
	}
	assert.Equal(t, len(ids), c.Active())

	close(analyzer.release)
	c.Wait()
	for _, id := range ids {
		assert.Equal(t, models.VideoStatusCompleted, getVideo(t, store, id).Status)
	}
}

func TestShutdownInterruptsRunningJobs(t *testing.T) {
	store := repository.NewMemoryVideoStore()
	seedVideo(t, store, "v1", models.VideoStatusUploaded, "/m/v1.mp4")
	seedVideo(t, store, "v2", models.VideoStatusUploaded, "/m/v2.mp4")

	analyzer := newGateAnalyzer()
	c := newCoordinator(store, analyzer, nil, false)
	require.NoError(t, c.Submit(context.Background(), "v1"))
	<-analyzer.started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, c.Shutdown(ctx), context.Canceled)

	video := getVideo(t, store, "v1")
	assert.Equal(t, models.VideoStatusFailed, video.Status)
	assert.Contains(t, video.SensitivityDetails, "processing interrupted")
	assert.Equal(t, 0, c.Active())

	require.ErrorIs(t, c.Submit(context.Background(), "v2"), ErrShuttingDown)
}

func TestShutdownWaitsForJobs(t *testing.T) {
	store := repository.NewMemoryVideoStore()
	seedVideo(t, store, "v1", models.VideoStatusUploaded, "/m/v1.mp4")

	analyzer := newGateAnalyzer()
	c := newCoordinator(store, analyzer, nil, false)
	require.NoError(t, c.Submit(context.Background(), "v1"))
	<-analyzer.started

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(analyzer.release)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
	assert.Equal(t, models.VideoStatusCompleted, getVideo(t, store, "v1").Status)
}
