package processing

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"nodevideo/internal/models"
	"nodevideo/internal/storage"
)

const maxActiveProgress = 95

type MockConfig struct {
	Steps            int
	BaseDuration     time.Duration
	SizeStep         time.Duration
	SizeUnit         int64
	MaxSizeFactor    float64
	FlaggedThreshold float64
}

func DefaultMockConfig() MockConfig {
	return MockConfig{
		Steps:            20,
		BaseDuration:     10 * time.Second,
		SizeStep:         5 * time.Second,
		SizeUnit:         100 * 1024 * 1024,
		MaxSizeFactor:    2,
		FlaggedThreshold: 0.8,
	}
}

var flaggedReasons = []string{
	"Potentially sensitive visual content detected",
	"Content requires manual review",
	"Automated flagging for quality assurance",
}

// MockAnalyzer simulates a review engine: a fixed number of timed steps
// whose total duration grows with file size, then a random verdict. Each
// step checks that the media blob is still readable.
type MockAnalyzer struct {
	cfg   MockConfig
	blobs storage.Blobs

	mu  sync.Mutex
	rnd *rand.Rand
}

type MockOption func(*MockAnalyzer)

// WithRand sets the random source used for scores and flag reasons.
func WithRand(r *rand.Rand) MockOption {
	return func(m *MockAnalyzer) {
		m.rnd = r
	}
}

func NewMockAnalyzer(cfg MockConfig, blobs storage.Blobs, opts ...MockOption) *MockAnalyzer {
	if cfg.Steps <= 0 {
		cfg.Steps = 1
	}
	if cfg.SizeUnit <= 0 {
		cfg.SizeUnit = 1
	}
	m := &MockAnalyzer{
		cfg:   cfg,
		blobs: blobs,
		rnd:   rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Duration is the simulated analysis time for a file of the given size.
func (m *MockAnalyzer) Duration(size int64) time.Duration {
	factor := math.Min(float64(size)/float64(m.cfg.SizeUnit), m.cfg.MaxSizeFactor)
	if factor < 0 {
		factor = 0
	}
	return m.cfg.BaseDuration + time.Duration(factor*float64(m.cfg.SizeStep))
}

func (m *MockAnalyzer) Analyze(ctx context.Context, video models.Video, report ProgressFunc) (Verdict, error) {
	if err := m.checkMedia(ctx, video); err != nil {
		return Verdict{}, err
	}

	step := m.Duration(video.Size) / time.Duration(m.cfg.Steps)
	for i := 1; i <= m.cfg.Steps; i++ {
		if err := sleep(ctx, step); err != nil {
			return Verdict{}, err
		}
		if err := m.checkMedia(ctx, video); err != nil {
			return Verdict{}, err
		}

		progress := i * maxActiveProgress / m.cfg.Steps
		if err := report(ctx, progress, StageLabel(progress)); err != nil {
			return Verdict{}, err
		}
	}

	return m.verdict(), nil
}

func (m *MockAnalyzer) checkMedia(ctx context.Context, video models.Video) error {
	if m.blobs == nil {
		return nil
	}
	if _, err := m.blobs.Stat(ctx, video.FilePath); err != nil {
		return fmt.Errorf("media file unavailable: %w", err)
	}
	return nil
}

func (m *MockAnalyzer) verdict() Verdict {
	m.mu.Lock()
	score := m.rnd.Float64()
	reason := flaggedReasons[m.rnd.IntN(len(flaggedReasons))]
	m.mu.Unlock()

	if score < m.cfg.FlaggedThreshold {
		return Verdict{
			Sensitivity: models.SensitivitySafe,
			Score:       score,
			Details: fmt.Sprintf("Content analysis completed. Video passed all safety checks with confidence score %.1f%%. No sensitive content detected.",
				score*100),
		}
	}
	return Verdict{
		Sensitivity: models.SensitivityFlagged,
		Score:       score,
		Details:     fmt.Sprintf("%s. Confidence score: %.1f%%. Please review before publishing.", reason, score*100),
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ Analyzer = (*MockAnalyzer)(nil)
