package handlers

import (
	"errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"nodevideo/internal/broadcast"
	"nodevideo/internal/models"
	"nodevideo/internal/repository"
)

const (
	progressEvent     = "video:progress"
	keepaliveInterval = 15 * time.Second
)

// Events streams progress events as server-sent events. Observers only see
// videos they may read; videoId narrows the stream to one video. Nothing is
// replayed: events published before the connection are never delivered.
func (h *HandlerSet) Events(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}
	only := c.Query("videoId")

	sub := h.events.Subscribe()
	defer sub.Close()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	visible := make(map[string]bool)
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	ctx := c.Request.Context()
	c.SSEvent("ready", gin.H{"subscribers": h.events.Subscribers()})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-sub.C():
			if !ok {
				return false
			}
			if only != "" && ev.VideoID != only {
				return true
			}
			if !h.canSee(c, caller, ev, visible) {
				return true
			}
			c.SSEvent(progressEvent, ev)
			return true
		case <-keepalive.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
}

func (h *HandlerSet) canSee(c *gin.Context, caller models.Identity, ev broadcast.Event, cache map[string]bool) bool {
	if caller.IsAdmin() {
		return true
	}
	if ok, seen := cache[ev.VideoID]; seen {
		return ok
	}
	_, err := h.videos.Get(c.Request.Context(), caller, ev.VideoID)
	switch {
	case err == nil:
		cache[ev.VideoID] = true
		return true
	case errors.Is(err, repository.ErrVideoNotFound):
		cache[ev.VideoID] = false
	default:
		h.log.Warn().Err(err).Str("video_id", ev.VideoID).Msg("event visibility check failed")
	}
	return false
}
