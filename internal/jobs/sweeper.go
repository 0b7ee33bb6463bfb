package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"nodevideo/internal/broadcast"
	"nodevideo/internal/metrics"
	"nodevideo/internal/models"
	"nodevideo/internal/repository"
)

const (
	sweepBatch        = 200
	interruptedReason = "processing interrupted"
)

// InFlightChecker reports whether this process is running a job for a video.
type InFlightChecker interface {
	InFlight(id string) bool
}

type SweepStore interface {
	List(ctx context.Context, filter models.VideoFilter) ([]models.Video, error)
	Update(ctx context.Context, id string, patch models.VideoPatch) error
}

// StaleSweeper fails videos stuck in processing whose job died with its
// process. Videos with a local job are left alone.
type StaleSweeper struct {
	store      SweepStore
	jobs       InFlightChecker
	events     broadcast.Publisher
	staleAfter time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

func NewStaleSweeper(store SweepStore, jobs InFlightChecker, events broadcast.Publisher, staleAfter time.Duration, log zerolog.Logger) *StaleSweeper {
	return &StaleSweeper{
		store:      store,
		jobs:       jobs,
		events:     events,
		staleAfter: staleAfter,
		log:        log.With().Str("component", "stale_sweeper").Logger(),
		now:        time.Now,
	}
}

// Sweep runs one pass and returns how many videos it moved to failed.
func (s *StaleSweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleAfter)
	stale, err := s.store.List(ctx, models.VideoFilter{
		Status:        models.VideoStatusProcessing,
		UpdatedBefore: &cutoff,
		Limit:         sweepBatch,
	})
	if err != nil {
		return 0, fmt.Errorf("list stale videos: %w", err)
	}

	processing := models.VideoStatusProcessing
	failed := models.VideoStatusFailed
	reason := interruptedReason
	swept := 0
	for _, video := range stale {
		if s.jobs != nil && s.jobs.InFlight(video.ID) {
			continue
		}
		err := s.store.Update(ctx, video.ID, models.VideoPatch{
			ExpectStatus:       &processing,
			Status:             &failed,
			SensitivityDetails: &reason,
		})
		if errors.Is(err, repository.ErrVideoNotFound) {
			continue
		}
		if errors.Is(err, repository.ErrStatusConflict) {
			s.log.Debug().Str("video_id", video.ID).Msg("video left processing before sweep")
			continue
		}
		if err != nil {
			return swept, fmt.Errorf("fail stale video %s: %w", video.ID, err)
		}

		swept++
		metrics.StaleSweptTotal.Inc()
		s.log.Warn().Str("video_id", video.ID).Time("updated_at", video.UpdatedAt).Msg("stale processing video failed")
		if s.events != nil {
			s.events.Publish(ctx, broadcast.Event{
				VideoID:   video.ID,
				Progress:  video.Progress,
				Message:   "processing failed",
				Timestamp: s.now().UTC(),
				Status:    string(failed),
				Error:     reason,
			})
		}
	}
	return swept, nil
}
