package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"nodevideo/internal/models"
)

// MemoryVideoStore keeps records in process memory. It backs tests and
// single-node development runs without Postgres.
type MemoryVideoStore struct {
	mu     sync.RWMutex
	videos map[string]models.Video
	now    func() time.Time
}

func NewMemoryVideoStore() *MemoryVideoStore {
	return &MemoryVideoStore{
		videos: make(map[string]models.Video),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the timestamp source.
func (s *MemoryVideoStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryVideoStore) Create(ctx context.Context, video models.Video) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.videos[video.ID]; ok {
		return ErrVideoExists
	}
	if video.Sensitivity == "" {
		video.Sensitivity = models.SensitivityUnknown
	}
	now := s.now()
	video.CreatedAt = now
	video.UpdatedAt = now
	video.Views = 0
	s.videos[video.ID] = cloneVideo(video)
	return nil
}

func (s *MemoryVideoStore) Get(ctx context.Context, id string) (models.Video, error) {
	if err := ctx.Err(); err != nil {
		return models.Video{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	video, ok := s.videos[id]
	if !ok {
		return models.Video{}, ErrVideoNotFound
	}
	return cloneVideo(video), nil
}

func (s *MemoryVideoStore) Update(ctx context.Context, id string, patch models.VideoPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if patch.Empty() {
		return ErrEmptyPatch
	}
	if err := patch.CheckTransition(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	video, ok := s.videos[id]
	if !ok {
		return ErrVideoNotFound
	}
	if patch.ExpectStatus != nil && video.Status != *patch.ExpectStatus {
		return fmt.Errorf("%w: %s is %s", ErrStatusConflict, id, video.Status)
	}
	patch.Apply(&video)
	video.UpdatedAt = s.now()
	s.videos[id] = video
	return nil
}

func (s *MemoryVideoStore) IncrementViews(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	video, ok := s.videos[id]
	if !ok {
		return ErrVideoNotFound
	}
	video.Views++
	s.videos[id] = video
	return nil
}

func (s *MemoryVideoStore) List(ctx context.Context, filter models.VideoFilter) ([]models.Video, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	matched := make([]models.Video, 0, len(s.videos))
	for _, video := range s.videos {
		if filter.OwnerID != "" && video.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && video.Status != filter.Status {
			continue
		}
		if filter.UpdatedBefore != nil && !video.UpdatedAt.Before(*filter.UpdatedBefore) {
			continue
		}
		matched = append(matched, cloneVideo(video))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + normalizeLimit(filter.Limit)
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (s *MemoryVideoStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.videos[id]; !ok {
		return ErrVideoNotFound
	}
	delete(s.videos, id)
	return nil
}

func cloneVideo(v models.Video) models.Video {
	if v.Checksum != nil {
		v.Checksum = append([]byte(nil), v.Checksum...)
	}
	if v.SensitivityScore != nil {
		score := *v.SensitivityScore
		v.SensitivityScore = &score
	}
	return v
}

var _ VideoStore = (*MemoryVideoStore)(nil)
