package watcher

import (
	"context"
	"time"

	"github.com/g8rswimmer/go-twitter/v2"
	twitterutil "github.com/monkebot/monkebot/twitter"

	log "github.com/sirupsen/logrus"
)

// Mentions arrive slowly and the timeline endpoint has a low rate limit,
// so five minutes between polls is plenty.
const pollInterval = 5 * time.Minute

type MentionSource interface {
	MentionsSince(ctx context.Context, sinceID string) ([]*twitter.TweetDictionary, *twitter.RateLimit, error)
}

type MentionHandler interface {
	HandleMention(ctx context.Context, postID, authorHandle, content string) error
}

type Gate interface {
	Allow(endpoint string) bool
	WaitTime(endpoint string) time.Duration
	Update(endpoint string, remaining int, reset time.Time)
}

/*
Watcher polls the mention timeline and pushes every new mention onto the
task queue via the handler. It holds an in-memory since-ID watermark;
after a restart the first poll re-reads recent mentions, which is fine
because processing is at-least-once anyway.
*/
type Watcher struct {
	twitterService MentionSource
	handler        MentionHandler
	gate           Gate

	sinceID string
}

func NewWatcher(twitterService MentionSource, handler MentionHandler, gate Gate) *Watcher {
	return &Watcher{
		twitterService: twitterService,
		handler:        handler,
		gate:           gate,
	}
}

func (w *Watcher) Watch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			log.Debug("exiting watcher by closing channel")
			return nil
		case <-time.After(pollInterval):
			if !w.gate.Allow(twitterutil.EndpointMentionTimeline) {
				// Wait out the next tick instead of sleeping; the
				// watermark means nothing is lost by skipping a poll.
				log.Infof("mention timeline gated, skipping poll (advisory wait %s)", w.gate.WaitTime(twitterutil.EndpointMentionTimeline))
				continue
			}

			tweets, rateLimit, err := w.twitterService.MentionsSince(ctx, w.sinceID)
			if rateLimit != nil {
				w.gate.Update(twitterutil.EndpointMentionTimeline, rateLimit.Remaining, rateLimit.Reset.Time())
			}
			if err != nil {
				if rateLimit, ok := twitter.RateLimitFromError(err); ok {
					// If we hit the rate limit, sleep until it resets and try again
					log.WithField("limit", rateLimit.Limit).WithField("remaining", rateLimit.Remaining).Warnf("X rate limit encountered, sleeping for %fs", time.Until(rateLimit.Reset.Time()).Seconds())
					time.Sleep(time.Until(rateLimit.Reset.Time()))
					continue
				}
				return err
			}

			for _, tweet := range tweets {
				authorHandle := ""
				if tweet.Author != nil {
					authorHandle = tweet.Author.UserName
				}
				log.WithField("postID", tweet.Tweet.ID).WithField("author", authorHandle).Info("found new mention")
				if err := w.handler.HandleMention(ctx, tweet.Tweet.ID, authorHandle, tweet.Tweet.Text); err != nil {
					log.Errorf("error queueing mention: %v", err)
					// Context canceled errors are expected if the program is terminating, so stop the loop in that case
					if ctx.Err() == context.Canceled {
						return err
					}
					continue
				}
				// Posts arrive oldest-first, so the last ID seen is the watermark.
				w.sinceID = tweet.Tweet.ID
			}
		}
	}
}
