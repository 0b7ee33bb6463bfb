package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const TaskReview = "review"

// Producer appends review tasks to the intake stream.
type Producer struct {
	client *redis.Client
	stream string
}

func NewProducer(client *redis.Client, stream string) *Producer {
	return &Producer{client: client, stream: stream}
}

// EnqueueReview asks a worker to run the review job for videoID. It returns
// the stream entry ID.
func (p *Producer) EnqueueReview(ctx context.Context, videoID string) (string, error) {
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"type":    TaskReview,
			"videoId": videoID,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue review %s: %w", videoID, err)
	}
	return id, nil
}
