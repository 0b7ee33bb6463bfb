package models

import (
	"errors"
	"fmt"
	"time"
)

type VideoStatus string

const (
	VideoStatusUploaded   VideoStatus = "uploaded"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusCompleted  VideoStatus = "completed"
	VideoStatusFailed     VideoStatus = "failed"
)

func (s VideoStatus) Valid() bool {
	switch s {
	case VideoStatusUploaded, VideoStatusProcessing, VideoStatusCompleted, VideoStatusFailed:
		return true
	}
	return false
}

func (s VideoStatus) IsTerminal() bool {
	return s == VideoStatusCompleted || s == VideoStatusFailed
}

type Sensitivity string

const (
	SensitivityUnknown Sensitivity = "unknown"
	SensitivitySafe    Sensitivity = "safe"
	SensitivityFlagged Sensitivity = "flagged"
)

func (s Sensitivity) Valid() bool {
	switch s {
	case SensitivityUnknown, SensitivitySafe, SensitivityFlagged:
		return true
	}
	return false
}

// transitions lists the allowed status edges. Re-submission of failed videos
// (failed -> processing) is a policy decision taken by the coordinator.
var transitions = map[VideoStatus][]VideoStatus{
	VideoStatusUploaded:   {VideoStatusProcessing},
	VideoStatusProcessing: {VideoStatusProcessing, VideoStatusCompleted, VideoStatusFailed},
	VideoStatusFailed:     {VideoStatusProcessing},
}

func CanTransition(from, to VideoStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Video struct {
	ID                 string
	OwnerID            string
	Title              string
	Description        string
	FilePath           string
	Size               int64
	MimeType           string
	Checksum           []byte
	Status             VideoStatus
	Progress           int
	Sensitivity        Sensitivity
	SensitivityScore   *float64
	SensitivityDetails string
	Views              int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

var (
	ErrInvalidVideoID   = errors.New("video id required")
	ErrInvalidFilePath  = errors.New("file path required")
	ErrInvalidSize      = errors.New("size must be positive")
	ErrInvalidMimeType  = errors.New("mime type required")
	ErrInvalidNewStatus = errors.New("new videos must be uploaded")

	ErrInvalidTransition = errors.New("invalid status transition")
)

// Validate checks the invariants of a freshly created record.
func (v Video) Validate() error {
	switch {
	case v.ID == "":
		return ErrInvalidVideoID
	case v.FilePath == "":
		return ErrInvalidFilePath
	case v.Size <= 0:
		return ErrInvalidSize
	case v.MimeType == "":
		return ErrInvalidMimeType
	case v.Status != VideoStatusUploaded || (v.Sensitivity != "" && v.Sensitivity != SensitivityUnknown):
		return ErrInvalidNewStatus
	}
	return nil
}

// VideoPatch carries the fields of a partial update. Nil fields are left
// untouched by the store. When ExpectStatus is set the store applies the
// patch only while the record is still in that status.
type VideoPatch struct {
	ExpectStatus *VideoStatus

	Status             *VideoStatus
	Progress           *int
	Sensitivity        *Sensitivity
	SensitivityScore   *float64
	SensitivityDetails *string
}

func (p VideoPatch) Empty() bool {
	return p.Status == nil &&
		p.Progress == nil &&
		p.Sensitivity == nil &&
		p.SensitivityScore == nil &&
		p.SensitivityDetails == nil
}

// CheckTransition rejects a guarded patch whose status change is not an
// edge of the state machine.
func (p VideoPatch) CheckTransition() error {
	if p.ExpectStatus == nil || p.Status == nil {
		return nil
	}
	if !CanTransition(*p.ExpectStatus, *p.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, *p.ExpectStatus, *p.Status)
	}
	return nil
}

// Apply copies the non-nil patch fields onto v.
func (p VideoPatch) Apply(v *Video) {
	if p.Status != nil {
		v.Status = *p.Status
	}
	if p.Progress != nil {
		v.Progress = *p.Progress
	}
	if p.Sensitivity != nil {
		v.Sensitivity = *p.Sensitivity
	}
	if p.SensitivityScore != nil {
		score := *p.SensitivityScore
		v.SensitivityScore = &score
	}
	if p.SensitivityDetails != nil {
		v.SensitivityDetails = *p.SensitivityDetails
	}
}

type VideoFilter struct {
	OwnerID       string
	Status        VideoStatus
	UpdatedBefore *time.Time
	Limit         int
	Offset        int
}
