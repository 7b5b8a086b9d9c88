package bot

import (
	"errors"
	"fmt"
	"time"

	twitterutil "github.com/monkebot/monkebot/twitter"
)

/*
TwitterAPIError is the fatal class at the action boundary: either an
authorization failure, or a retryable failure that exhausted its retries.
The scheduler stops on it instead of hammering a broken credential state.
*/
type TwitterAPIError struct {
	Op  string
	Err error
}

func (e *TwitterAPIError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TwitterAPIError) Unwrap() error {
	return e.Err
}

// retryableError marks a failure from an opaque collaborator (content
// generation, image download) as retryable for the current attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func retryable(err error) error {
	return &retryableError{err: err}
}

type attemptOutcome int

const (
	outcomeRetry attemptOutcome = iota
	outcomeFatal
)

// attemptFailure is the explicit classification of one failed attempt; the
// retry loop interprets the tag instead of re-inspecting error types.
type attemptFailure struct {
	outcome attemptOutcome
	wait    time.Duration // sleep before the next attempt, when retrying
	err     error         // the error to surface, when fatal
}

/*
classifyFailure sorts a failed attempt into the retry taxonomy:

  - 429: retry after the server-advised reset, falling back to the
    action's base delay when the response carried none;
  - 401/403: fatal immediately, wrapped so the scheduler stops;
  - other API errors and wrapped-retryable collaborator failures: retry
    with exponential backoff plus a fixed buffer;
  - anything else: fatal, propagated raw without wrapping.
*/
func classifyFailure(op string, err error, attempt int, base time.Duration, now time.Time) attemptFailure {
	var retryErr *retryableError

	switch {
	case twitterutil.IsRateLimited(err):
		wait, ok := twitterutil.ResetWait(err, now)
		if !ok {
			wait = base
		}
		return attemptFailure{outcome: outcomeRetry, wait: wait}

	case twitterutil.IsPermissionDenied(err):
		return attemptFailure{outcome: outcomeFatal, err: &TwitterAPIError{Op: op, Err: err}}

	case twitterutil.IsAPIError(err), errors.As(err, &retryErr):
		wait := base*time.Duration(1<<attempt) + retryBuffer
		return attemptFailure{outcome: outcomeRetry, wait: wait}

	default:
		return attemptFailure{outcome: outcomeFatal, err: err}
	}
}
