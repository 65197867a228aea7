package types

import "errors"

// Error taxonomy (spec §7). Callers should compare with errors.Is; the
// orchestrator always returns one of these or a *VerificationResult, never
// an unstructured exception.
var (
	ErrValidation                = errors.New("validation error")
	ErrInsufficientSubmissions   = errors.New("insufficient submissions")
	ErrInsufficientEligible      = errors.New("insufficient eligible workers")
	ErrUnanimousNotReached       = errors.New("unanimous consensus not reached")
	ErrAuctionClosed             = errors.New("auction closed")
	ErrAuctionNotFound           = errors.New("auction not found")
	ErrSuspiciousActivity        = errors.New("suspicious activity detected")
	ErrStorageUnavailable        = errors.New("storage unavailable")
	ErrExternalProviderFailure   = errors.New("external provider failure")
	ErrTimeout                   = errors.New("timeout")
	ErrWorkerNotFound            = errors.New("worker not found")
	ErrInvalidSubmission         = errors.New("invalid submission")
	ErrTaskNotFound              = errors.New("task not found")
	ErrWorkerSuspended           = errors.New("worker suspended by circuit breaker")
	ErrInvalidAccessToken        = errors.New("invalid task access token")
)
