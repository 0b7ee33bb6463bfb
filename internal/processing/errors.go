package processing

import "errors"

var (
	ErrNotFound        = errors.New("video not found")
	ErrAlreadyInFlight = errors.New("review already in flight")
	ErrInvalidState    = errors.New("video not eligible for review")
	ErrStore           = errors.New("record store failure")
	ErrAnalysis        = errors.New("analysis failed")
	ErrShuttingDown    = errors.New("coordinator shutting down")
)
