package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/rs/zerolog"

	"nodevideo/internal/ids"
	"nodevideo/internal/media/sniffer"
	"nodevideo/internal/models"
	"nodevideo/internal/repository"
	"nodevideo/internal/security"
	"nodevideo/internal/storage"
)

var (
	ErrInvalidUpload    = errors.New("invalid upload")
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrTypeMismatch     = errors.New("content type mismatch")
	ErrFileTooLarge     = errors.New("file too large")
)

type UploadInput struct {
	Owner        models.Identity
	Title        string
	Description  string
	File         io.Reader
	Size         int64
	DeclaredType string
}

// ReviewRequester starts the review of a freshly stored video, either in
// process or through the intake stream.
type ReviewRequester interface {
	RequestReview(ctx context.Context, videoID string) error
}

type UploadService struct {
	videos   repository.VideoStore
	store    storage.Store
	reviews  ReviewRequester
	maxBytes int64
	log      zerolog.Logger
	now      func() time.Time
}

func NewUploadService(videos repository.VideoStore, store storage.Store, reviews ReviewRequester, maxBytes int64, log zerolog.Logger) *UploadService {
	return &UploadService{
		videos:   videos,
		store:    store,
		reviews:  reviews,
		maxBytes: maxBytes,
		log:      log.With().Str("component", "upload").Logger(),
		now:      time.Now,
	}
}

// Upload stores the media, creates the uploaded record and requests its
// review. A failed review request is logged; the video can be submitted
// again later.
func (s *UploadService) Upload(ctx context.Context, input UploadInput) (models.Video, error) {
	if input.File == nil || input.Owner.UserID == "" {
		return models.Video{}, ErrInvalidUpload
	}
	if s.maxBytes > 0 && input.Size > s.maxBytes {
		return models.Video{}, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, input.Size)
	}

	result, head, err := sniffer.Detect(input.File)
	if err != nil {
		if errors.Is(err, sniffer.ErrUnknownType) {
			return models.Video{}, ErrUnsupportedMedia
		}
		return models.Video{}, fmt.Errorf("read head: %w", err)
	}
	if !sniffer.Compatible(input.DeclaredType, result) {
		return models.Video{}, fmt.Errorf("%w: declared %s, actual %s", ErrTypeMismatch, input.DeclaredType, result.MIME)
	}

	videoID := ids.New()
	key := s.buildKey(videoID, string(result.Type))

	checksum := security.NewChecksum()
	var body io.Reader = io.MultiReader(bytes.NewReader(head), input.File)
	if s.maxBytes > 0 {
		body = io.LimitReader(body, s.maxBytes+1)
	}

	filePath, written, err := s.store.Save(ctx, key, checksum.Reader(body), input.Size, result.MIME)
	if err != nil {
		return models.Video{}, fmt.Errorf("store media: %w", err)
	}
	if s.maxBytes > 0 && written > s.maxBytes {
		s.discard(ctx, filePath)
		return models.Video{}, fmt.Errorf("%w: over %d bytes", ErrFileTooLarge, s.maxBytes)
	}

	video := models.Video{
		ID:          videoID,
		OwnerID:     input.Owner.UserID,
		Title:       input.Title,
		Description: input.Description,
		FilePath:    filePath,
		Size:        written,
		MimeType:    result.MIME,
		Checksum:    checksum.Sum(),
		Status:      models.VideoStatusUploaded,
		Sensitivity: models.SensitivityUnknown,
	}
	if video.Title == "" {
		video.Title = videoID
	}
	if err := video.Validate(); err != nil {
		s.discard(ctx, filePath)
		return models.Video{}, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}
	if err := s.videos.Create(ctx, video); err != nil {
		s.discard(ctx, filePath)
		return models.Video{}, fmt.Errorf("save metadata: %w", err)
	}

	created, err := s.videos.Get(ctx, videoID)
	if err != nil {
		return models.Video{}, fmt.Errorf("reload video: %w", err)
	}

	log := s.log.With().Str("video_id", videoID).Str("owner_id", video.OwnerID).Logger()
	log.Info().Int64("size", written).Str("mime", result.MIME).Msg("video uploaded")

	if s.reviews != nil {
		if err := s.reviews.RequestReview(ctx, videoID); err != nil {
			log.Warn().Err(err).Msg("request review failed")
		}
	}
	return created, nil
}

func (s *UploadService) buildKey(videoID string, ext string) string {
	datePrefix := s.now().UTC().Format("2006/01/02")
	return path.Join(datePrefix, fmt.Sprintf("%s.%s", videoID, ext))
}

func (s *UploadService) discard(ctx context.Context, filePath string) {
	if err := s.store.Remove(context.WithoutCancel(ctx), filePath); err != nil && !errors.Is(err, storage.ErrBlobNotFound) {
		s.log.Warn().Err(err).Str("path", filePath).Msg("remove orphaned media failed")
	}
}
