package broadcast

import (
	"context"
	"time"
)

// Event is a progress or terminal notification for one video. Optional
// fields are omitted from the wire form when empty.
type Event struct {
	VideoID     string    `json:"videoId"`
	Progress    int       `json:"progress"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status,omitempty"`
	Sensitivity string    `json:"sensitivity,omitempty"`
	Details     string    `json:"details,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Publisher delivers events to live observers. Implementations never block
// on slow observers and never report delivery failures to the caller.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}
