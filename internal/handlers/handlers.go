package handlers

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"nodevideo/internal/broadcast"
	"nodevideo/internal/config"
	"nodevideo/internal/delivery"
	"nodevideo/internal/middleware"
	"nodevideo/internal/models"
	"nodevideo/internal/processing"
	"nodevideo/internal/repository"
	"nodevideo/internal/service"
)

// Submitter starts a review for a video; the coordinator in inline mode or a
// queue-backed submitter otherwise.
type Submitter interface {
	Submit(ctx context.Context, id string) error
}

// HealthCheck is one dependency checked by /healthz.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

type Deps struct {
	Log      zerolog.Logger
	Config   *config.AppConfig
	Uploads  *service.UploadService
	Videos   *service.VideoService
	Reviews  Submitter
	Delivery *delivery.Server
	Events   *broadcast.Hub
	Checks   []HealthCheck
}

type HandlerSet struct {
	log         zerolog.Logger
	cfg         *config.AppConfig
	uploads     *service.UploadService
	videos      *service.VideoService
	reviews     Submitter
	delivery    *delivery.Server
	events      *broadcast.Hub
	checks      []HealthCheck
	uploadLimit *middleware.RateLimiter
	videosPath  string
}

func NewHandlerSet(deps Deps) *HandlerSet {
	return &HandlerSet{
		log:         deps.Log.With().Str("component", "http").Logger(),
		cfg:         deps.Config,
		uploads:     deps.Uploads,
		videos:      deps.Videos,
		reviews:     deps.Reviews,
		delivery:    deps.Delivery,
		events:      deps.Events,
		checks:      deps.Checks,
		uploadLimit: middleware.NewRateLimiter("upload", deps.Config.Upload.RatePerSecond, deps.Config.Upload.Burst),
	}
}

func (h *HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	secret := h.cfg.Security.JWTAccessSecret
	v1 := router.Group("/v1")
	h.videosPath = v1.BasePath() + "/videos"

	videos := v1.Group("/videos")
	videos.GET("/:id/stream", middleware.StreamAuth(secret, h.cfg.Security.StreamSecret), h.StreamVideo)

	authed := videos.Group("")
	authed.Use(middleware.Auth(secret))
	authed.GET("", h.ListVideos)
	authed.GET("/:id", h.GetVideo)
	authed.GET("/:id/stream-url", h.StreamURL)
	authed.POST("",
		middleware.RequireRoles(models.UserRoleEditor, models.UserRoleAdmin),
		h.uploadLimit.Middleware(),
		h.UploadVideo,
	)
	authed.POST("/:id/process",
		middleware.RequireRoles(models.UserRoleEditor, models.UserRoleAdmin),
		h.ProcessVideo,
	)
	authed.DELETE("/:id", middleware.RequireRoles(models.UserRoleAdmin), h.DeleteVideo)

	v1.GET("/events", middleware.Auth(secret), h.Events)

	admin := v1.Group("/admin")
	admin.Use(middleware.Auth(secret), middleware.RequireRoles(models.UserRoleAdmin))
	admin.GET("/videos", h.AdminListVideos)
}

type videoResponse struct {
	ID                 string    `json:"id"`
	OwnerID            string    `json:"ownerId"`
	Title              string    `json:"title"`
	Description        string    `json:"description,omitempty"`
	MimeType           string    `json:"mimeType"`
	Size               int64     `json:"size"`
	Checksum           string    `json:"checksum,omitempty"`
	Status             string    `json:"status"`
	Progress           int       `json:"progress"`
	Sensitivity        string    `json:"sensitivity"`
	SensitivityScore   *float64  `json:"sensitivityScore,omitempty"`
	SensitivityDetails string    `json:"sensitivityDetails,omitempty"`
	Views              int64     `json:"views"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func toVideoResponse(v models.Video) videoResponse {
	resp := videoResponse{
		ID:                 v.ID,
		OwnerID:            v.OwnerID,
		Title:              v.Title,
		Description:        v.Description,
		MimeType:           v.MimeType,
		Size:               v.Size,
		Status:             string(v.Status),
		Progress:           v.Progress,
		Sensitivity:        string(v.Sensitivity),
		SensitivityScore:   v.SensitivityScore,
		SensitivityDetails: v.SensitivityDetails,
		Views:              v.Views,
		CreatedAt:          v.CreatedAt,
		UpdatedAt:          v.UpdatedAt,
	}
	if len(v.Checksum) > 0 {
		resp.Checksum = hex.EncodeToString(v.Checksum)
	}
	return resp
}

// identity returns the caller or aborts with 401.
func identity(c *gin.Context) (models.Identity, bool) {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	return id, ok
}

// writeError maps domain errors onto status codes and error codes.
func (h *HandlerSet) writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, repository.ErrVideoNotFound),
		errors.Is(err, processing.ErrNotFound),
		errors.Is(err, delivery.ErrNotFound):
		status, code = http.StatusNotFound, "video_not_found"
	case errors.Is(err, processing.ErrInvalidState):
		status, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, delivery.ErrNotReady):
		status, code = http.StatusConflict, "video_not_ready"
	case errors.Is(err, delivery.ErrRangeNotSatisfiable):
		status, code = http.StatusRequestedRangeNotSatisfiable, "range_not_satisfiable"
	case errors.Is(err, service.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, service.ErrUnsupportedMedia):
		status, code = http.StatusUnsupportedMediaType, "unsupported_media_type"
	case errors.Is(err, service.ErrTypeMismatch):
		status, code = http.StatusBadRequest, "content_type_mismatch"
	case errors.Is(err, service.ErrFileTooLarge):
		status, code = http.StatusRequestEntityTooLarge, "file_too_large"
	case errors.Is(err, service.ErrInvalidUpload):
		status, code = http.StatusBadRequest, "invalid_upload"
	case errors.Is(err, processing.ErrShuttingDown):
		status, code = http.StatusServiceUnavailable, "shutting_down"
	}

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": code})
}
