package service

import (
	"context"
	"errors"
	"fmt"

	"nodevideo/internal/models"
	"nodevideo/internal/processing"
	"nodevideo/internal/repository"
)

type Submitter interface {
	Submit(ctx context.Context, id string) error
}

// InlineReviews runs reviews on this process's coordinator.
type InlineReviews struct {
	Coordinator Submitter
}

func (r InlineReviews) RequestReview(ctx context.Context, videoID string) error {
	err := r.Coordinator.Submit(ctx, videoID)
	if errors.Is(err, processing.ErrAlreadyInFlight) {
		return nil
	}
	return err
}

type Enqueuer interface {
	EnqueueReview(ctx context.Context, videoID string) (string, error)
}

// QueuedReviews hands reviews to the worker fleet.
type QueuedReviews struct {
	Queue Enqueuer
}

func (r QueuedReviews) RequestReview(ctx context.Context, videoID string) error {
	_, err := r.Queue.EnqueueReview(ctx, videoID)
	return err
}

// QueuedSubmitter validates a submission against the record and hands it to
// the worker fleet. It is used when this process runs no coordinator.
type QueuedSubmitter struct {
	Videos              repository.VideoStore
	Queue               Enqueuer
	AllowResubmitFailed bool
}

func (s QueuedSubmitter) Submit(ctx context.Context, id string) error {
	video, err := s.Videos.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrVideoNotFound) {
			return fmt.Errorf("%w: %s", processing.ErrNotFound, id)
		}
		return fmt.Errorf("%w: %v", processing.ErrStore, err)
	}
	if video.Status == models.VideoStatusProcessing {
		return processing.ErrAlreadyInFlight
	}
	if !processing.Eligible(video.Status, s.AllowResubmitFailed) {
		return fmt.Errorf("%w: status %s", processing.ErrInvalidState, video.Status)
	}
	if _, err := s.Queue.EnqueueReview(ctx, id); err != nil {
		return err
	}
	return nil
}
