package processing

import (
	"context"
	"fmt"

	"nodevideo/internal/models"
)

// ProgressFunc receives intermediate progress from an analyzer. A non-nil
// error means the job can no longer be tracked and the analyzer must stop
// and return it.
type ProgressFunc func(ctx context.Context, percent int, stage string) error

type Verdict struct {
	Sensitivity models.Sensitivity
	Score       float64
	Details     string
}

func (v Verdict) Validate() error {
	if v.Sensitivity != models.SensitivitySafe && v.Sensitivity != models.SensitivityFlagged {
		return fmt.Errorf("invalid sensitivity %q", v.Sensitivity)
	}
	if v.Score < 0 || v.Score > 1 {
		return fmt.Errorf("score %v outside [0,1]", v.Score)
	}
	return nil
}

// Analyzer is the content-analysis engine. It reports progress in [0,95]
// and finishes with exactly one verdict or an error.
type Analyzer interface {
	Analyze(ctx context.Context, video models.Video, report ProgressFunc) (Verdict, error)
}

// StageLabel names the analysis stage for a progress value.
func StageLabel(progress int) string {
	switch {
	case progress < 20:
		return "extracting frames"
	case progress < 40:
		return "analyzing visual content"
	case progress < 60:
		return "detecting sensitive elements"
	case progress < 80:
		return "running analysis"
	default:
		return "finalizing"
	}
}
