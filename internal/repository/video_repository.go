package repository

import (
	"context"
	"errors"

	"nodevideo/internal/models"
)

var (
	ErrVideoNotFound = errors.New("video not found")
	ErrVideoExists   = errors.New("video already exists")
	ErrEmptyPatch    = errors.New("empty video patch")
	// ErrStatusConflict is returned when a guarded patch finds the record in
	// a different status than expected.
	ErrStatusConflict = errors.New("video status changed")
)

// VideoStore is the record store used by intake, the review coordinator and
// the delivery server. Update applies a partial patch as a single write; a
// patch with ExpectStatus is applied only while the record still has that
// status.
type VideoStore interface {
	Create(ctx context.Context, video models.Video) error
	Get(ctx context.Context, id string) (models.Video, error)
	Update(ctx context.Context, id string, patch models.VideoPatch) error
	IncrementViews(ctx context.Context, id string) error
	List(ctx context.Context, filter models.VideoFilter) ([]models.Video, error)
	Delete(ctx context.Context, id string) error
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
