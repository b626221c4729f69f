package content

import (
	"errors"
	"fmt"
)

var (
	// ErrGeneration matches every GenerationError via errors.Is.
	ErrGeneration   = errors.New("content generation failed")
	ErrInvalidTopic = errors.New("invalid topic")
)

// GenerationError reports why no usable lesson was produced.
type GenerationError struct {
	Reason string // invalid_topic | model_error | timeout | empty | malformed
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("content generation failed: %s", e.Reason)
	}
	return fmt.Sprintf("content generation failed: %s: %v", e.Reason, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }

func genErr(reason string, err error) error {
	return &GenerationError{Reason: reason, Err: err}
}
