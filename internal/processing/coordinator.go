package processing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nodevideo/internal/broadcast"
	"nodevideo/internal/metrics"
	"nodevideo/internal/models"
	"nodevideo/internal/repository"
)

const (
	messageStarted   = "starting analysis"
	messageCompleted = "processing completed"
	messageFailed    = "processing failed"

	defaultWriteTimeout = 5 * time.Second
)

// RecordStore is the part of the record store the coordinator writes to.
type RecordStore interface {
	Get(ctx context.Context, id string) (models.Video, error)
	Update(ctx context.Context, id string, patch models.VideoPatch) error
}

type Options struct {
	// AllowResubmitFailed lets failed videos be submitted again.
	AllowResubmitFailed bool
	// WriteTimeout bounds the failure write issued after a job context ends.
	WriteTimeout time.Duration
}

// Coordinator runs review jobs, at most one per video ID at a time.
type Coordinator struct {
	store    RecordStore
	analyzer Analyzer
	events   broadcast.Publisher
	opts     Options
	log      zerolog.Logger
	now      func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	inFlight map[string]struct{}
	closed   bool
	wg       sync.WaitGroup
}

func NewCoordinator(store RecordStore, analyzer Analyzer, events broadcast.Publisher, opts Options, log zerolog.Logger) *Coordinator {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:    store,
		analyzer: analyzer,
		events:   events,
		opts:     opts,
		log:      log.With().Str("component", "coordinator").Logger(),
		now:      time.Now,
		baseCtx:  ctx,
		cancel:   cancel,
		inFlight: make(map[string]struct{}),
	}
}

// Submit starts a review job for id and returns without waiting for it.
// Completion is only observable through the event publisher or the record.
func (c *Coordinator) Submit(ctx context.Context, id string) error {
	if err := c.acquire(id); err != nil {
		reason := "shutting_down"
		if errors.Is(err, ErrAlreadyInFlight) {
			reason = "already_in_flight"
			c.log.Debug().Str("video_id", id).Msg("duplicate submit ignored")
		}
		metrics.SubmitRejectedTotal.WithLabelValues(reason).Inc()
		return err
	}

	// The record is read after acquiring the slot so a job that just
	// finished is always observed in its terminal state.
	video, err := c.store.Get(ctx, id)
	if err != nil {
		c.abandon(id)
		if errors.Is(err, repository.ErrVideoNotFound) {
			metrics.SubmitRejectedTotal.WithLabelValues("not_found").Inc()
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		metrics.SubmitRejectedTotal.WithLabelValues("store_error").Inc()
		return fmt.Errorf("%w: %v", ErrStore, err)
	}

	if !Eligible(video.Status, c.opts.AllowResubmitFailed) {
		c.abandon(id)
		metrics.SubmitRejectedTotal.WithLabelValues("invalid_state").Inc()
		return fmt.Errorf("%w: status %s", ErrInvalidState, video.Status)
	}

	metrics.JobsStartedTotal.Inc()
	go c.run(id, video)
	return nil
}

// InFlight reports whether a job for id is currently running.
func (c *Coordinator) InFlight(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[id]
	return ok
}

// Active returns the number of running jobs.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}

// Wait blocks until every started job has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Shutdown stops accepting jobs and waits for running ones. When ctx ends
// first the remaining jobs are cancelled and recorded as failed.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		<-done
		return ctx.Err()
	}
}

// Eligible reports whether a video in status may start a review.
func Eligible(status models.VideoStatus, allowResubmitFailed bool) bool {
	switch status {
	case models.VideoStatusUploaded:
		return true
	case models.VideoStatusFailed:
		return allowResubmitFailed
	}
	return false
}

// acquire inserts id into the in-flight set. The membership check and the
// insert happen under one lock.
func (c *Coordinator) acquire(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrShuttingDown
	}
	if _, ok := c.inFlight[id]; ok {
		return ErrAlreadyInFlight
	}
	c.inFlight[id] = struct{}{}
	c.wg.Add(1)
	metrics.JobsInFlight.Inc()
	return nil
}

func (c *Coordinator) release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.inFlight[id]; !ok {
		return
	}
	delete(c.inFlight, id)
	metrics.JobsInFlight.Dec()
}

// abandon undoes acquire for a job that never started.
func (c *Coordinator) abandon(id string) {
	c.release(id)
	c.wg.Done()
}

type job struct {
	id       string
	progress int
}

func (c *Coordinator) run(id string, video models.Video) {
	j := &job{id: id}
	log := c.log.With().Str("video_id", id).Logger()

	defer c.wg.Done()
	defer c.release(id)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("review job panicked")
			c.fail(j, fmt.Errorf("%w: internal error: %v", ErrAnalysis, r))
		}
	}()

	ctx := c.baseCtx
	log.Info().Int64("size", video.Size).Msg("review job started")

	processing := models.VideoStatusProcessing
	from := video.Status
	zero := 0
	empty := ""
	if err := c.store.Update(ctx, id, models.VideoPatch{
		ExpectStatus:       &from,
		Status:             &processing,
		Progress:           &zero,
		SensitivityDetails: &empty,
	}); err != nil {
		c.fail(j, storeError(err))
		return
	}
	c.emit(ctx, broadcast.Event{
		VideoID:  id,
		Progress: 0,
		Message:  messageStarted,
		Status:   string(processing),
	})

	verdict, err := c.analyzer.Analyze(ctx, video, func(ctx context.Context, percent int, stage string) error {
		return c.report(ctx, j, percent, stage)
	})
	if err != nil {
		c.fail(j, analysisError(err))
		return
	}
	if err := verdict.Validate(); err != nil {
		c.fail(j, fmt.Errorf("%w: %v", ErrAnalysis, err))
		return
	}

	completed := models.VideoStatusCompleted
	full := 100
	score := verdict.Score
	if err := c.store.Update(ctx, id, models.VideoPatch{
		ExpectStatus:       &processing,
		Status:             &completed,
		Progress:           &full,
		Sensitivity:        &verdict.Sensitivity,
		SensitivityScore:   &score,
		SensitivityDetails: &verdict.Details,
	}); err != nil {
		c.fail(j, storeError(err))
		return
	}
	j.progress = full
	c.emit(ctx, broadcast.Event{
		VideoID:     id,
		Progress:    full,
		Message:     messageCompleted,
		Status:      string(completed),
		Sensitivity: string(verdict.Sensitivity),
		Details:     verdict.Details,
	})

	metrics.JobsFinishedTotal.WithLabelValues(string(completed)).Inc()
	metrics.VerdictsTotal.WithLabelValues(string(verdict.Sensitivity)).Inc()
	log.Info().
		Str("sensitivity", string(verdict.Sensitivity)).
		Float64("score", verdict.Score).
		Msg("review job completed")
}

// report persists one progress step and then announces it. Regressions are
// dropped and values are capped at 95 until the verdict arrives.
func (c *Coordinator) report(ctx context.Context, j *job, percent int, stage string) error {
	if percent > maxActiveProgress {
		percent = maxActiveProgress
	}
	if percent < j.progress {
		c.log.Debug().Str("video_id", j.id).Int("progress", percent).Int("last", j.progress).Msg("ignoring progress regression")
		return nil
	}

	processing := models.VideoStatusProcessing
	if err := c.store.Update(ctx, j.id, models.VideoPatch{ExpectStatus: &processing, Progress: &percent}); err != nil {
		return storeError(err)
	}
	j.progress = percent
	c.emit(ctx, broadcast.Event{
		VideoID:  j.id,
		Progress: percent,
		Message:  stage,
		Status:   string(models.VideoStatusProcessing),
	})
	return nil
}

// fail records the failed transition, leaving progress untouched, and
// announces it. A vanished record is logged, never retried. A record that
// already left processing is not ours to fail and gets no event.
func (c *Coordinator) fail(j *job, cause error) {
	log := c.log.With().Str("video_id", j.id).Logger()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.baseCtx), c.opts.WriteTimeout)
	defer cancel()

	processing := models.VideoStatusProcessing
	failed := models.VideoStatusFailed
	details := cause.Error()
	err := c.store.Update(ctx, j.id, models.VideoPatch{
		ExpectStatus:       &processing,
		Status:             &failed,
		SensitivityDetails: &details,
	})
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrStatusConflict):
		c.settled(ctx, j.id, cause)
		return
	case errors.Is(err, repository.ErrVideoNotFound):
		log.Warn().Err(cause).Msg("video record vanished during review")
	default:
		log.Error().Err(err).AnErr("cause", cause).Msg("failed to record review failure")
	}

	c.emit(ctx, broadcast.Event{
		VideoID:  j.id,
		Progress: j.progress,
		Message:  messageFailed,
		Status:   string(failed),
		Error:    details,
	})

	metrics.JobsFinishedTotal.WithLabelValues(string(failed)).Inc()
	log.Warn().Err(cause).Int("progress", j.progress).Msg("review job failed")
}

// settled logs a job whose record was moved out of processing by someone
// else, typically the stale sweeper or a job in another process.
func (c *Coordinator) settled(ctx context.Context, id string, cause error) {
	metrics.JobsFinishedTotal.WithLabelValues("superseded").Inc()
	level, status := zerolog.WarnLevel, "unknown"
	if video, err := c.store.Get(ctx, id); err == nil {
		status = string(video.Status)
		if video.Status.IsTerminal() {
			level = zerolog.InfoLevel
		}
	}
	c.log.WithLevel(level).
		Str("video_id", id).
		Str("status", status).
		AnErr("cause", cause).
		Msg("review result discarded, video left processing")
}

func (c *Coordinator) emit(ctx context.Context, event broadcast.Event) {
	if c.events == nil {
		return
	}
	event.Timestamp = c.now().UTC()
	c.events.Publish(ctx, event)
}

func storeError(err error) error {
	if errors.Is(err, ErrStore) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStore, err)
}

func analysisError(err error) error {
	switch {
	case errors.Is(err, ErrStore), errors.Is(err, ErrAnalysis):
		return err
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: processing interrupted", ErrAnalysis)
	}
	return fmt.Errorf("%w: %v", ErrAnalysis, err)
}
