package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"nodevideo/internal/delivery"
	"nodevideo/internal/media/sniffer"
	"nodevideo/internal/service"
)

// multipartSlack covers form fields and boundaries around the file part.
const multipartSlack = 1 << 20

func (h *HandlerSet) UploadVideo(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}

	if limit := h.cfg.Upload.MaxBytes; limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartSlack)
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(c, service.ErrFileTooLarge)
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "file_required"})
		return
	}
	defer file.Close()

	video, err := h.uploads.Upload(c.Request.Context(), service.UploadInput{
		Owner:        caller,
		Title:        c.PostForm("title"),
		Description:  c.PostForm("description"),
		File:         file,
		Size:         header.Size,
		DeclaredType: sniffer.MimeTypeFromHTTP(http.Header(header.Header)),
	})
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", caller.UserID).Str("filename", header.Filename).Msg("upload failed")
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toVideoResponse(video))
}

type streamURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *HandlerSet) StreamURL(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}

	url, expires, err := h.videos.StreamURL(c.Request.Context(), caller, c.Param("id"), h.videosPath)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, streamURLResponse{URL: url, ExpiresAt: expires})
}

// StreamVideo serves the media with single-range support. Unusable Range
// headers get the full body; ranges past the end get 416.
func (h *HandlerSet) StreamVideo(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if _, err := h.videos.Get(c.Request.Context(), caller, id); err != nil {
		h.writeError(c, err)
		return
	}

	d, err := h.delivery.Deliver(c.Request.Context(), id, c.GetHeader("Range"))
	if err != nil {
		var rangeErr *delivery.RangeError
		if errors.As(err, &rangeErr) {
			c.Header("Content-Range", delivery.UnsatisfiedRange(rangeErr.Size))
			c.Header("Accept-Ranges", "bytes")
		}
		h.writeError(c, err)
		return
	}
	defer d.Body.Close()

	extra := make(map[string]string, len(d.Header))
	for k := range d.Header {
		extra[k] = d.Header.Get(k)
	}
	c.DataFromReader(d.Status, d.ContentLength, d.ContentType, d.Body, extra)
}
