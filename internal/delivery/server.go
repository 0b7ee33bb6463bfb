package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nodevideo/internal/metrics"
	"nodevideo/internal/models"
	"nodevideo/internal/repository"
	"nodevideo/internal/storage"
)

var (
	ErrNotFound   = errors.New("video not found")
	ErrNotReady   = errors.New("video not ready for delivery")
	ErrDeliveryIO = errors.New("media read failed")
)

const defaultViewTimeout = 5 * time.Second

// RangeError reports an unsatisfiable range together with the file size the
// 416 response has to advertise.
type RangeError struct {
	Size int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: size %d", ErrRangeNotSatisfiable, e.Size)
}

func (e *RangeError) Is(target error) bool {
	return target == ErrRangeNotSatisfiable
}

// Records is the part of the record store delivery reads and counts views on.
type Records interface {
	Get(ctx context.Context, id string) (models.Video, error)
	IncrementViews(ctx context.Context, id string) error
}

// Delivery is a ready-to-write response. The caller must close Body.
type Delivery struct {
	Status        int
	Header        http.Header
	ContentLength int64
	ContentType   string
	Body          io.ReadCloser
}

type Server struct {
	records     Records
	blobs       storage.Blobs
	log         zerolog.Logger
	viewTimeout time.Duration

	views sync.WaitGroup
}

func NewServer(records Records, blobs storage.Blobs, log zerolog.Logger) *Server {
	return &Server{
		records:     records,
		blobs:       blobs,
		log:         log.With().Str("component", "delivery").Logger(),
		viewTimeout: defaultViewTimeout,
	}
}

// Deliver opens the media of a completed video and prepares a full or ranged
// response. Each call gets its own read cursor over the blob.
func (s *Server) Deliver(ctx context.Context, id, rangeHeader string) (*Delivery, error) {
	d, err := s.deliver(ctx, id, rangeHeader)
	if err != nil {
		metrics.DeliveryRequestsTotal.WithLabelValues(statusLabel(err)).Inc()
		return nil, err
	}
	metrics.DeliveryRequestsTotal.WithLabelValues(strconv.Itoa(d.Status)).Inc()
	s.countView(ctx, id)
	return d, nil
}

func (s *Server) deliver(ctx context.Context, id, rangeHeader string) (*Delivery, error) {
	video, err := s.records.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrVideoNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("load video: %w", err)
	}
	if video.Status != models.VideoStatusCompleted {
		return nil, fmt.Errorf("%w: status %s", ErrNotReady, video.Status)
	}

	blob, err := s.blobs.Open(ctx, video.FilePath)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) || errors.Is(err, storage.ErrInvalidPath) {
			return nil, fmt.Errorf("%w: media for %s: %v", ErrNotFound, id, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrDeliveryIO, err)
	}
	size := blob.Size()
	if size != video.Size {
		_ = blob.Close()
		s.log.Warn().Str("video_id", id).Int64("recorded", video.Size).Int64("actual", size).Msg("media size mismatch")
		return nil, fmt.Errorf("%w: media for %s has size %d, recorded %d", ErrNotFound, id, size, video.Size)
	}

	header := http.Header{}
	header.Set("Accept-Ranges", "bytes")

	window := Range{Start: 0, End: size - 1}
	status := http.StatusOK
	if rangeHeader != "" {
		r, err := ParseRange(rangeHeader, size)
		switch {
		case err == nil:
			window = r
			status = http.StatusPartialContent
			header.Set("Content-Range", ContentRange(r, size))
		case errors.Is(err, ErrRangeNotSatisfiable):
			_ = blob.Close()
			return nil, &RangeError{Size: size}
		default:
			s.log.Debug().Str("video_id", id).Str("range", rangeHeader).Err(err).Msg("ignoring range header")
		}
	}

	length := window.Length()
	if size == 0 {
		length = 0
	}
	return &Delivery{
		Status:        status,
		Header:        header,
		ContentLength: length,
		ContentType:   video.MimeType,
		Body: &body{
			r:    io.NewSectionReader(blob, window.Start, length),
			blob: blob,
		},
	}, nil
}

// countView increments the view counter in the background. Failures are
// logged and never reach the caller.
func (s *Server) countView(ctx context.Context, id string) {
	s.views.Add(1)
	go func() {
		defer s.views.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.viewTimeout)
		defer cancel()
		if err := s.records.IncrementViews(ctx, id); err != nil {
			metrics.ViewIncrementFailuresTotal.Inc()
			s.log.Error().Err(err).Str("video_id", id).Msg("view increment failed")
		}
	}()
}

// Wait blocks until pending view increments have finished.
func (s *Server) Wait() {
	s.views.Wait()
}

func statusLabel(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return strconv.Itoa(http.StatusNotFound)
	case errors.Is(err, ErrNotReady):
		return strconv.Itoa(http.StatusConflict)
	case errors.Is(err, ErrRangeNotSatisfiable):
		return strconv.Itoa(http.StatusRequestedRangeNotSatisfiable)
	}
	return strconv.Itoa(http.StatusInternalServerError)
}

type body struct {
	r    *io.SectionReader
	blob storage.Blob
}

func (b *body) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if n > 0 {
		metrics.DeliveryBytesTotal.Add(float64(n))
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("%w: %v", ErrDeliveryIO, err)
	}
	return n, err
}

func (b *body) Close() error {
	return b.blob.Close()
}
