package twitter

import (
	"errors"
	"net/http"
	"time"

	gotwitter "github.com/g8rswimmer/go-twitter/v2"
)

// IsRateLimited reports whether the error is the API telling us to back
// off (HTTP 429).
func IsRateLimited(err error) bool {
	var apiError *gotwitter.ErrorResponse
	return errors.As(err, &apiError) && apiError.StatusCode == http.StatusTooManyRequests
}

// IsPermissionDenied reports whether the error is an authorization failure
// (HTTP 401/403). These don't heal with retries; the credentials or app
// permissions are wrong.
func IsPermissionDenied(err error) bool {
	var apiError *gotwitter.ErrorResponse
	if !errors.As(err, &apiError) {
		return false
	}
	return apiError.StatusCode == http.StatusForbidden || apiError.StatusCode == http.StatusUnauthorized
}

// IsAPIError reports whether the error came back from the API at all, as
// opposed to transport or local failures.
func IsAPIError(err error) bool {
	var apiError *gotwitter.ErrorResponse
	return errors.As(err, &apiError)
}

// ResetWait extracts the server-advised wait from a rate limited error.
// Returns false when the error carried no usable reset time.
func ResetWait(err error, now time.Time) (time.Duration, bool) {
	rateLimit, ok := gotwitter.RateLimitFromError(err)
	if !ok || rateLimit == nil {
		return 0, false
	}
	wait := rateLimit.Reset.Time().Sub(now)
	if wait <= 0 {
		return 0, false
	}
	return wait, true
}
