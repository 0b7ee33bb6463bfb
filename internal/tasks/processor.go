package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"nodevideo/internal/processing"
	"nodevideo/internal/queue"
)

// Submitter starts review jobs.
type Submitter interface {
	Submit(ctx context.Context, id string) error
}

type Processor struct {
	reviews Submitter
	logger  zerolog.Logger
}

type TaskPayload struct {
	Type    string `json:"type"`
	VideoID string `json:"videoId"`
}

func NewProcessor(reviews Submitter, logger zerolog.Logger) *Processor {
	return &Processor{
		reviews: reviews,
		logger:  logger.With().Str("component", "tasks").Logger(),
	}
}

// Handle dispatches one stream entry. Returning nil acks the entry; an error
// leaves it pending for a later claim.
func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	var payload TaskPayload
	if err := decodePayload(msg.Values, &payload); err != nil {
		p.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("dropping undecodable task")
		return nil
	}

	switch payload.Type {
	case queue.TaskReview:
		return p.handleReview(ctx, msg.ID, payload)
	default:
		p.logger.Warn().Str("type", payload.Type).Str("message_id", msg.ID).Msg("unknown task type")
		return nil
	}
}

func decodePayload(values map[string]interface{}, out *TaskPayload) error {
	bytes, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, out)
}

func (p *Processor) handleReview(ctx context.Context, messageID string, payload TaskPayload) error {
	log := p.logger.With().Str("video_id", payload.VideoID).Str("message_id", messageID).Logger()
	if payload.VideoID == "" {
		log.Warn().Msg("review task without video id")
		return nil
	}

	err := p.reviews.Submit(ctx, payload.VideoID)
	switch {
	case err == nil:
		log.Info().Msg("review submitted")
		return nil
	case errors.Is(err, processing.ErrAlreadyInFlight):
		log.Debug().Msg("review already running")
		return nil
	case errors.Is(err, processing.ErrNotFound), errors.Is(err, processing.ErrInvalidState):
		log.Warn().Err(err).Msg("review task discarded")
		return nil
	}
	return fmt.Errorf("submit review %s: %w", payload.VideoID, err)
}
