package service

import (
	"context"
	"errors"

	"github.com/ZanzyTHEbar/companion-graph/companion/checkpoint"
	"github.com/ZanzyTHEbar/companion-graph/companion/workflow"
)

var (
	ErrValidation       = errors.New("invalid turn request")
	ErrUnknownCharacter = errors.New("unknown character")
	ErrConversationBusy = errors.New("conversation has a turn in flight")
)

// ErrorKind classifies a failure for clients and logs.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindRetrieval  ErrorKind = "retrieval"
	KindCompletion ErrorKind = "completion"
	KindImage      ErrorKind = "image"
	KindSideEffect ErrorKind = "side_effect"
	KindConflict   ErrorKind = "conflict"
	KindInternal   ErrorKind = "internal"
)

// Classify maps an error returned by the service to its kind.
func Classify(err error) ErrorKind {
	var stepErr *workflow.StepError
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUnknownCharacter):
		return KindValidation
	case errors.Is(err, ErrConversationBusy), errors.Is(err, checkpoint.ErrVersionConflict):
		return KindConflict
	case errors.As(err, &stepErr), errors.Is(err, context.DeadlineExceeded):
		// retrieval and image failures degrade inside their steps, so a failed
		// step means the completion service could not answer
		return KindCompletion
	}
	return KindInternal
}
