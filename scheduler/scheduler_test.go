package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/monkebot/monkebot/bot"

	"github.com/stretchr/testify/assert"
)

// scriptedPoster returns its errors in order, then succeeds forever.
type scriptedPoster struct {
	script []error
	calls  int
}

func (p *scriptedPoster) CreatePost(context.Context) error {
	p.calls++
	if p.calls <= len(p.script) {
		return p.script[p.calls-1]
	}
	return nil
}

func newTestScheduler(poster Poster) (*Scheduler, *[]time.Duration) {
	scheduler := NewScheduler(poster, 4*time.Hour)
	var waits []time.Duration
	scheduler.wait = func(ctx context.Context, d time.Duration) bool {
		waits = append(waits, d)
		return true
	}
	return scheduler, &waits
}

func errs(err error, n int) []error {
	script := make([]error, n)
	for i := range script {
		script[i] = err
	}
	return script
}

func TestRun(t *testing.T) {
	t.Run("five consecutive non-fatal failures terminate the loop", func(t *testing.T) {
		boom := errors.New("flaky network")
		poster := &scriptedPoster{script: errs(boom, 5)}
		scheduler, waits := newTestScheduler(poster)

		err := scheduler.Run(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 5, poster.calls)
		// Delays double from the base and cap at an hour; the fifth
		// failure terminates without sleeping.
		assert.Equal(t, []time.Duration{
			10 * time.Minute,
			20 * time.Minute,
			40 * time.Minute,
			time.Hour,
		}, *waits)
	})

	t.Run("a success resets the consecutive error counter", func(t *testing.T) {
		boom := errors.New("flaky network")
		script := append(errs(boom, 4), nil)
		script = append(script, errs(boom, 5)...)
		poster := &scriptedPoster{script: script}
		scheduler, _ := newTestScheduler(poster)

		err := scheduler.Run(context.Background())
		assert.ErrorIs(t, err, boom)
		// 4 failures + 1 success + 5 more failures before termination:
		// the failure right after the success starts a fresh count.
		assert.Equal(t, 10, poster.calls)
	})

	t.Run("a fatal API error stops the loop immediately", func(t *testing.T) {
		fatal := &bot.TwitterAPIError{Op: "create post", Err: errors.New("forbidden")}
		poster := &scriptedPoster{script: []error{fatal}}
		scheduler, waits := newTestScheduler(poster)

		err := scheduler.Run(context.Background())
		var apiErr *bot.TwitterAPIError
		assert.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 1, poster.calls)
		assert.Empty(t, *waits)
	})

	t.Run("successful cycles sleep the post interval", func(t *testing.T) {
		poster := &scriptedPoster{}
		scheduler := NewScheduler(poster, 4*time.Hour)
		var waits []time.Duration
		scheduler.wait = func(ctx context.Context, d time.Duration) bool {
			waits = append(waits, d)
			return len(waits) < 3 // stop after three cycles
		}

		err := scheduler.Run(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 3, poster.calls)
		assert.Equal(t, []time.Duration{4 * time.Hour, 4 * time.Hour, 4 * time.Hour}, waits)
	})

	t.Run("exits cleanly when the context closes", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		poster := &scriptedPoster{}
		scheduler, _ := newTestScheduler(poster)

		err := scheduler.Run(ctx)
		assert.NoError(t, err)
		assert.Zero(t, poster.calls)
	})
}
