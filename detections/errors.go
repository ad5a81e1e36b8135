package detections

import (
	"errors"
	"fmt"
)

var (
	ErrImageRead          = errors.New("image read failed")
	ErrImageEmpty         = errors.New("image is empty")
	ErrInference          = errors.New("inference failed")
	ErrShape              = errors.New("unexpected output shape")
	ErrSessionUnavailable = errors.New("inference session unavailable")
	ErrNoImage            = errors.New("no image supplied")
)

// Stage names the pipeline step an error came from.
type Stage string

const (
	StagePreprocess Stage = "preprocess"
	StageInference  Stage = "inference"
	StageDecode     Stage = "decode"
)

// ProcessingError carries one of the sentinel kinds above plus the
// underlying cause. errors.Is matches both.
type ProcessingError struct {
	Kind    error
	Stage   Stage
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ProcessingError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func newError(kind error, stage Stage, cause error, format string, args ...any) *ProcessingError {
	return &ProcessingError{
		Kind:    kind,
		Stage:   stage,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// stageOf reports the stage recorded on err, or "unknown".
func stageOf(err error) Stage {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return "unknown"
}
