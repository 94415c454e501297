package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies generation failures so callers never inspect error text.
type ErrorKind string

const (
	KindRateLimited   ErrorKind = "rate_limited"
	KindTransport     ErrorKind = "transport"
	KindContentPolicy ErrorKind = "content_policy"
	KindUnknown       ErrorKind = "unknown"
)

// GenerationError is returned by every generation adapter.
type GenerationError struct {
	Kind  ErrorKind
	Level CapabilityLevel
	Err   error
}

func (e *GenerationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("generation: %s at %s level", e.Kind, e.Level)
	}
	return fmt.Sprintf("generation: %s at %s level: %v", e.Kind, e.Level, e.Err)
}

func (e *GenerationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf extracts the ErrorKind of err, or KindUnknown when err carries none.
func KindOf(err error) ErrorKind {
	var genErr *GenerationError
	if errors.As(err, &genErr) && genErr.Kind != "" {
		return genErr.Kind
	}
	return KindUnknown
}
