package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/monkebot/monkebot/config"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	taskList = "monkebot:mentions"

	pingAttempts   = 3
	maxPingBackoff = 10 * time.Second

	// popTimeout bounds each blocking pop so the consumer notices context
	// cancellation promptly.
	popTimeout = 5 * time.Second
)

// MentionTask is the deferred unit of work for answering a mention.
type MentionTask struct {
	PostID       string `json:"post_id"`
	AuthorHandle string `json:"author_handle"`
	Content      string `json:"content"`
}

/*
Queue is a redis-list-backed task queue for mention processing. Delivery is
at-least-once: a consumer crash between pop and completion loses nothing
upstream because mentions reappear on the next timeline poll, and a retried
task at worst produces a duplicate reply.
*/
type Queue struct {
	client *redis.Client
}

func NewQueue(cfg config.RedisConfig) *Queue {
	return &Queue{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr(),
			Password: cfg.Password,
		}),
	}
}

// Connect verifies the redis server is reachable, retrying with
// exponential backoff capped at ten seconds.
func (q *Queue) Connect(ctx context.Context) error {
	var err error
	for attempt := 0; attempt < pingAttempts; attempt++ {
		log.Infof("testing redis connection (attempt %d/%d)", attempt+1, pingAttempts)
		if err = q.client.Ping(ctx).Err(); err == nil {
			log.Info("successfully connected to redis")
			return nil
		}
		if attempt < pingAttempts-1 {
			delay := min(time.Duration(1<<attempt)*time.Second, maxPingBackoff)
			log.Warnf("redis connection attempt %d failed, retrying in %s: %v", attempt+1, delay, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) Enqueue(ctx context.Context, task MentionTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, taskList, payload).Err(); err != nil {
		return err
	}
	log.WithField("postID", task.PostID).Info("queued mention for processing")
	return nil
}

/*
Consume pops tasks and runs the handler until the context closes. Handler
failures are logged and the loop keeps going; a broken mention must not
starve the ones behind it.
*/
func (q *Queue) Consume(ctx context.Context, handler func(ctx context.Context, task MentionTask) error) error {
	for {
		select {
		case <-ctx.Done():
			log.Debug("exiting queue consumer by closing channel")
			return nil
		default:
		}

		result, err := q.client.BRPop(ctx, popTimeout, taskList).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // pop timed out with nothing queued
			}
			if ctx.Err() != nil {
				return nil
			}
			log.Errorf("error popping task: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		// BRPop returns [key, value]
		var task MentionTask
		if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
			log.Errorf("discarding malformed task payload: %v", err)
			continue
		}

		if err := handler(ctx, task); err != nil {
			log.WithField("postID", task.PostID).Errorf("error processing mention task: %v", err)
		}
	}
}
