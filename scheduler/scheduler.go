package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/monkebot/monkebot/bot"

	log "github.com/sirupsen/logrus"
)

const (
	maxConsecutiveErrors = 5

	errorBaseDelay = 5 * time.Minute
	maxErrorDelay  = time.Hour
)

type Poster interface {
	CreatePost(ctx context.Context) error
}

/*
Scheduler drives periodic post creation and supervises the process. It is
the outer tier of the two-tier backoff: the executor retries within one
action, the scheduler backs off across whole cycles. Fatal API errors
terminate the loop outright; a dead authorization state is not something
to retry into.
*/
type Scheduler struct {
	poster       Poster
	postInterval time.Duration

	// wait reports false when the context closed during the sleep.
	wait func(ctx context.Context, d time.Duration) bool
}

func NewScheduler(poster Poster, postInterval time.Duration) *Scheduler {
	return &Scheduler{
		poster:       poster,
		postInterval: postInterval,
		wait:         contextWait,
	}
}

func (s *Scheduler) Run(ctx context.Context) error {
	consecutiveErrors := 0
	for {
		if ctx.Err() != nil {
			log.Debug("exiting scheduler by closing channel")
			return nil
		}

		err := s.poster.CreatePost(ctx)

		var apiErr *bot.TwitterAPIError
		switch {
		case err == nil:
			consecutiveErrors = 0
			log.Info("successfully created scheduled post")
			if !s.wait(ctx, s.postInterval) {
				return nil
			}

		case errors.As(err, &apiErr):
			log.Errorf("fatal API error: %v", err)
			log.Error("stopping scheduler; the API refused us in a way retries won't fix")
			return err

		default:
			consecutiveErrors++
			delay := min(errorBaseDelay*time.Duration(1<<consecutiveErrors), maxErrorDelay)
			log.Errorf("error in posting loop (consecutive failure %d): %v", consecutiveErrors, err)

			if consecutiveErrors >= maxConsecutiveErrors {
				log.Errorf("scheduler stopped after %d consecutive errors", consecutiveErrors)
				return err
			}

			log.Infof("waiting %s before retry", delay)
			if !s.wait(ctx, delay) {
				return nil
			}
		}
	}
}

func contextWait(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
