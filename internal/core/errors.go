package core

import "errors"

var (
	// ErrModelUnavailable indicates that a model could not be constructed or its
	// backend is unreachable. It is a service-level condition, not a recognition result.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrNoConfidentMatch indicates that the classifier ran but no component cleared
	// the acceptance policy.
	ErrNoConfidentMatch = errors.New("no confident match")
	// ErrInvalidInput indicates malformed input rejected before any collaborator ran.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPartialSynthesis indicates that some sentences of a streamed synthesis failed.
	ErrPartialSynthesis = errors.New("partial synthesis failure")
)
