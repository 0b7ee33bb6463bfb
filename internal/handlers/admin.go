package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminListVideos lists every owner's videos, optionally narrowed to one
// owner with ownerId.
func (h *HandlerSet) AdminListVideos(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}
	filter, ok := listFilter(c)
	if !ok {
		return
	}
	filter.OwnerID = c.Query("ownerId")

	videos, err := h.videos.List(c.Request.Context(), caller, filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeVideoList(c, videos)
}

func (h *HandlerSet) DeleteVideo(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}

	if err := h.videos.Delete(c.Request.Context(), caller, c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
