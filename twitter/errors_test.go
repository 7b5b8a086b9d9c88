package twitter

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	gotwitter "github.com/g8rswimmer/go-twitter/v2"
	"github.com/stretchr/testify/assert"
)

func TestIsRateLimited(t *testing.T) {
	t.Run("recognizes a 429 response", func(t *testing.T) {
		err := &gotwitter.ErrorResponse{StatusCode: http.StatusTooManyRequests, Title: "Too Many Requests"}
		assert.True(t, IsRateLimited(err))
	})

	t.Run("recognizes a wrapped 429 response", func(t *testing.T) {
		err := fmt.Errorf("create tweet: %w", &gotwitter.ErrorResponse{StatusCode: http.StatusTooManyRequests})
		assert.True(t, IsRateLimited(err))
	})

	t.Run("rejects other API errors", func(t *testing.T) {
		err := &gotwitter.ErrorResponse{StatusCode: http.StatusInternalServerError}
		assert.False(t, IsRateLimited(err))
	})

	t.Run("rejects plain errors", func(t *testing.T) {
		assert.False(t, IsRateLimited(errors.New("connection reset")))
	})
}

func TestIsPermissionDenied(t *testing.T) {
	t.Run("recognizes forbidden", func(t *testing.T) {
		err := &gotwitter.ErrorResponse{StatusCode: http.StatusForbidden, Title: "Forbidden"}
		assert.True(t, IsPermissionDenied(err))
	})

	t.Run("recognizes unauthorized", func(t *testing.T) {
		err := &gotwitter.ErrorResponse{StatusCode: http.StatusUnauthorized}
		assert.True(t, IsPermissionDenied(err))
	})

	t.Run("rejects rate limit errors", func(t *testing.T) {
		err := &gotwitter.ErrorResponse{StatusCode: http.StatusTooManyRequests}
		assert.False(t, IsPermissionDenied(err))
	})

	t.Run("rejects plain errors", func(t *testing.T) {
		assert.False(t, IsPermissionDenied(errors.New("boom")))
	})
}

func TestResetWait(t *testing.T) {
	now := time.Now()

	t.Run("returns the time until the advised reset", func(t *testing.T) {
		reset := gotwitter.Epoch(now.Add(90 * time.Second).Unix())
		err := &gotwitter.ErrorResponse{
			StatusCode: http.StatusTooManyRequests,
			RateLimit:  &gotwitter.RateLimit{Limit: 50, Remaining: 0, Reset: reset},
		}
		wait, ok := ResetWait(err, now)
		assert.True(t, ok)
		assert.InDelta(t, (90 * time.Second).Seconds(), wait.Seconds(), 1)
	})

	t.Run("reports no wait when the reset already passed", func(t *testing.T) {
		reset := gotwitter.Epoch(now.Add(-time.Minute).Unix())
		err := &gotwitter.ErrorResponse{
			StatusCode: http.StatusTooManyRequests,
			RateLimit:  &gotwitter.RateLimit{Reset: reset},
		}
		_, ok := ResetWait(err, now)
		assert.False(t, ok)
	})

	t.Run("reports no wait when the error has no rate limit data", func(t *testing.T) {
		_, ok := ResetWait(errors.New("boom"), now)
		assert.False(t, ok)
	})
}
