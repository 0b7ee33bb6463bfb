package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"nodevideo/internal/models"
	"nodevideo/internal/processing"
)

func (h *HandlerSet) GetVideo(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}

	video, err := h.videos.Get(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toVideoResponse(video))
}

func (h *HandlerSet) ListVideos(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}
	filter, ok := listFilter(c)
	if !ok {
		return
	}

	videos, err := h.videos.List(c.Request.Context(), caller, filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeVideoList(c, videos)
}

// ProcessVideo submits a review. The response does not wait for the job;
// progress arrives over /events.
func (h *HandlerSet) ProcessVideo(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if _, err := h.videos.Get(c.Request.Context(), caller, id); err != nil {
		h.writeError(c, err)
		return
	}

	err := h.reviews.Submit(c.Request.Context(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "accepted"})
	case errors.Is(err, processing.ErrAlreadyInFlight):
		c.JSON(http.StatusOK, gin.H{"id": id, "status": "already_in_flight"})
	default:
		h.writeError(c, err)
	}
}

func listFilter(c *gin.Context) (models.VideoFilter, bool) {
	var filter models.VideoFilter
	if status := c.Query("status"); status != "" {
		filter.Status = models.VideoStatus(status)
		if !filter.Status.Valid() {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
			return filter, false
		}
	}

	filter.Limit = 50
	if perPage := c.Query("perPage"); perPage != "" {
		if v, err := strconv.Atoi(perPage); err == nil && v > 0 && v <= 200 {
			filter.Limit = v
		}
	}
	if page := c.Query("page"); page != "" {
		if v, err := strconv.Atoi(page); err == nil && v > 1 {
			filter.Offset = (v - 1) * filter.Limit
		}
	}
	return filter, true
}

func writeVideoList(c *gin.Context, videos []models.Video) {
	items := make([]videoResponse, 0, len(videos))
	for _, v := range videos {
		items = append(items, toVideoResponse(v))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
