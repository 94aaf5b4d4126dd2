package main

import (
	"errors"

	"github.com/rendis/bookforge/pkg/schema"
)

// Exit codes. 3 and 4 tell a caller whether resuming later makes sense.
const (
	ExitSuccess   = 0
	ExitGeneral   = 1 // failed; the checkpoint is kept and the run can be resumed
	ExitUsage     = 2 // invalid flags or config
	ExitCancelled = 3 // cancelled; the checkpoint is kept
	ExitExternal  = 4 // an external render service is unavailable
)

func exitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if errors.Is(err, ErrConfigInvalid) || errors.Is(err, ErrConfigParse) {
		return ExitUsage
	}
	switch schema.Classify(err) {
	case schema.FailureCancelled:
		return ExitCancelled
	case schema.FailureExternalUnavailable:
		return ExitExternal
	default:
		return ExitGeneral
	}
}
