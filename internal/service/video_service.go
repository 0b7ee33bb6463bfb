package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"nodevideo/internal/models"
	"nodevideo/internal/repository"
	"nodevideo/internal/security"
	"nodevideo/internal/storage"
)

var ErrForbidden = errors.New("forbidden")

// VideoService serves record reads and deletion with per-owner access.
// Admins see every video; everyone else only their own.
type VideoService struct {
	videos       repository.VideoStore
	blobs        storage.Blobs
	streamSecret string
	streamTTL    time.Duration
	log          zerolog.Logger
	now          func() time.Time
}

func NewVideoService(videos repository.VideoStore, blobs storage.Blobs, streamSecret string, streamTTL time.Duration, log zerolog.Logger) *VideoService {
	return &VideoService{
		videos:       videos,
		blobs:        blobs,
		streamSecret: streamSecret,
		streamTTL:    streamTTL,
		log:          log.With().Str("component", "videos").Logger(),
		now:          time.Now,
	}
}

// Get returns the video when the caller may see it. Videos owned by someone
// else are reported as missing.
func (s *VideoService) Get(ctx context.Context, caller models.Identity, id string) (models.Video, error) {
	video, err := s.videos.Get(ctx, id)
	if err != nil {
		return models.Video{}, err
	}
	if !caller.IsAdmin() && video.OwnerID != caller.UserID {
		return models.Video{}, repository.ErrVideoNotFound
	}
	return video, nil
}

func (s *VideoService) List(ctx context.Context, caller models.Identity, filter models.VideoFilter) ([]models.Video, error) {
	if !caller.IsAdmin() {
		filter.OwnerID = caller.UserID
	}
	return s.videos.List(ctx, filter)
}

// Delete removes the record and then its media. A review running for the
// video fails on its next write.
func (s *VideoService) Delete(ctx context.Context, caller models.Identity, id string) error {
	if !caller.IsAdmin() {
		return ErrForbidden
	}
	video, err := s.videos.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.videos.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.blobs.Remove(ctx, video.FilePath); err != nil && !errors.Is(err, storage.ErrBlobNotFound) {
		s.log.Warn().Err(err).Str("video_id", id).Str("path", video.FilePath).Msg("remove media failed")
	}
	s.log.Info().Str("video_id", id).Str("by", caller.UserID).Msg("video deleted")
	return nil
}

// StreamURL returns a signed, expiring stream path for a video the caller
// may see.
func (s *VideoService) StreamURL(ctx context.Context, caller models.Identity, id, basePath string) (string, time.Time, error) {
	if _, err := s.Get(ctx, caller, id); err != nil {
		return "", time.Time{}, err
	}
	expires := s.now().Add(s.streamTTL).Truncate(time.Second)
	q := security.StreamQuery(s.streamSecret, id, caller, expires)
	return fmt.Sprintf("%s/%s/stream?%s", basePath, url.PathEscape(id), q.Encode()), expires, nil
}
