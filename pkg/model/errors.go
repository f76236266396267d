package model

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrTransientTool marks tool failures eligible for retry: network
	// errors, timeouts, rate limits.
	ErrTransientTool = goerr.New("transient tool error")

	// ErrPermanentTool marks tool failures that retrying cannot fix: bad
	// input, not found.
	ErrPermanentTool = goerr.New("permanent tool error")

	// ErrStageExhausted means every planned call in a stage failed.
	ErrStageExhausted = goerr.New("every call in stage failed")

	// ErrBudgetExceeded means a time or cost cap was hit. It triggers
	// graceful degradation to synthesis, not a pipeline failure.
	ErrBudgetExceeded = goerr.New("budget exceeded")

	// ErrMergeConflict means two canonical entities claim incompatible
	// identities. Both are kept separate and flagged.
	ErrMergeConflict = goerr.New("canonical entity merge conflict")

	// ErrToolNotFound means no adapter is registered under the requested
	// tool name.
	ErrToolNotFound = goerr.New("tool not found")

	// ErrPipelineNotFound means no active or archived run matches the ID.
	ErrPipelineNotFound = goerr.New("pipeline not found")

	// ErrSessionNotFound means no conversation session matches the ID.
	ErrSessionNotFound = goerr.New("session not found")
)

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientTool)
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanentTool)
}

// IsBudgetExceeded reports whether err is a time or cost cap.
func IsBudgetExceeded(err error) bool {
	return errors.Is(err, ErrBudgetExceeded)
}

// IsStageExhausted reports whether err means a whole stage failed.
func IsStageExhausted(err error) bool {
	return errors.Is(err, ErrStageExhausted)
}

// IsMergeConflict reports whether err is an entity identity conflict.
func IsMergeConflict(err error) bool {
	return errors.Is(err, ErrMergeConflict)
}

// IsPipelineNotFound reports whether err means an unknown pipeline run.
func IsPipelineNotFound(err error) bool {
	return errors.Is(err, ErrPipelineNotFound)
}

// IsSessionNotFound reports whether err means an unknown conversation session.
func IsSessionNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}

// ClassifyToolError wraps a raw tool failure with the transient/permanent
// sentinel. Context deadline and cancellation, and retryable gRPC statuses
// from Google API clients, count as transient; everything already classified
// passes through unchanged.
func ClassifyToolError(err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) || IsPermanent(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return goerr.Wrap(ErrTransientTool, "call timed out", goerr.V("cause", err.Error()))
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return goerr.Wrap(ErrTransientTool, "retryable API error", goerr.V("code", st.Code().String()))
		case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied:
			return goerr.Wrap(ErrPermanentTool, "non-retryable API error", goerr.V("code", st.Code().String()))
		}
	}
	// Unknown failures default to transient so one flaky response does not
	// permanently exclude a source.
	return goerr.Wrap(ErrTransientTool, "unclassified tool error", goerr.V("cause", err.Error()))
}
