package core

import "errors"

// Store errors.
var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrTerminalStatus    = errors.New("document status is terminal")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Status store errors.
var (
	ErrJobNotFound        = errors.New("job status not found")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrStageRegression    = errors.New("job stage cannot move backwards")
	ErrJobTerminal        = errors.New("job already finished")
)
