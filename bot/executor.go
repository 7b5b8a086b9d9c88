package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/g8rswimmer/go-twitter/v2"
	"github.com/lucsky/cuid"
	"github.com/monkebot/monkebot/model"
	"github.com/monkebot/monkebot/openai"
	"github.com/monkebot/monkebot/queue"
	twitterutil "github.com/monkebot/monkebot/twitter"

	log "github.com/sirupsen/logrus"
)

const (
	maxRetries = 3

	// Backoff bases differ by action; posting is the expensive endpoint.
	postRetryBase   = 15 * time.Minute
	verifyRetryBase = 10 * time.Minute
	retryBuffer     = 5 * time.Minute

	// Interactions fetched as conversational context for generation.
	contextWindow = 100

	replyImageCaption   = "Here's what I visualized:"
	mentionImageCaption = "Here's what I created:"
)

type SocialClient interface {
	Me(ctx context.Context) (*twitter.UserLookupResponse, error)
	CreatePost(ctx context.Context, text string) (*twitter.CreateTweetResponse, error)
	Reply(ctx context.Context, replyToID string, text string, mediaIDs []string) (*twitter.CreateTweetResponse, error)
	UploadMedia(ctx context.Context, filename string, data []byte) (string, error)
}

type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	AnalyzeContent(ctx context.Context, prompt string) (*openai.ContentAnalysis, error)
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
	Download(ctx context.Context, imageURL string) ([]byte, error)
}

type InteractionStore interface {
	RecordInteraction(ctx context.Context, interaction model.Interaction) error
	RecentInteractions(ctx context.Context, limit int) ([]model.Interaction, error)
}

type TaskQueue interface {
	Enqueue(ctx context.Context, task queue.MentionTask) error
}

// RateGate is the request governor every outbound call goes through.
type RateGate interface {
	Allow(endpoint string) bool
	WaitTime(endpoint string) time.Duration
	Update(endpoint string, remaining int, reset time.Time)
}

/*
Executor runs the externally-visible actions: creating scheduled posts and
answering replies and mentions. Every action follows the same shape --
rate gate, content generation, API call, atomic persistence -- wrapped in
a bounded retry loop that classifies failures into retryable and fatal.
*/
type Executor struct {
	twitterService SocialClient
	textService    TextGenerator
	imageService   ImageGenerator
	db             InteractionStore
	queue          TaskQueue
	gate           RateGate
	policy         RespondPolicy

	userName        string
	testModeEnabled bool

	sleep func(time.Duration)
	now   func() time.Time
}

func NewExecutor(twitterService SocialClient, textService TextGenerator, imageService ImageGenerator, db InteractionStore, taskQueue TaskQueue, gate RateGate, isTestMode bool) *Executor {
	return &Executor{
		twitterService:  twitterService,
		textService:     textService,
		imageService:    imageService,
		db:              db,
		queue:           taskQueue,
		gate:            gate,
		policy:          AlwaysRespond{},
		testModeEnabled: isTestMode,
		sleep:           time.Sleep,
		now:             time.Now,
	}
}

// SetPolicy swaps the respond policy. Call before the executor starts
// serving; the field is not synchronized.
func (e *Executor) SetPolicy(policy RespondPolicy) {
	e.policy = policy
}

// VerifyCredentials proves the configured credentials work and caches the
// bot's own handle for attributing its posts.
func (e *Executor) VerifyCredentials(ctx context.Context) error {
	return e.withRetry(ctx, "verify credentials", twitterutil.EndpointUsersMe, verifyRetryBase, func(ctx context.Context) error {
		me, err := e.twitterService.Me(ctx)
		if err != nil {
			return err
		}
		e.updateLimits(twitterutil.EndpointUsersMe, me.RateLimit)
		e.userName = me.Raw.Users[0].UserName
		log.Infof("successfully authenticated as @%s", e.userName)
		return nil
	})
}

// CreatePost generates and publishes one scheduled post, recording the
// interaction and metrics in the same commit.
func (e *Executor) CreatePost(ctx context.Context) error {
	return e.withRetry(ctx, "create post", twitterutil.EndpointTweets, postRetryBase, func(ctx context.Context) error {
		content, err := e.textService.GenerateText(ctx, postPrompt)
		if err != nil {
			return retryable(fmt.Errorf("generating post content: %w", err))
		}

		postID, err := e.publishPost(ctx, content)
		if err != nil {
			return err
		}

		log.WithField("postID", postID).Info("successfully created post")
		return e.db.RecordInteraction(ctx, model.Interaction{
			Type:            model.InteractionTypePost,
			ExternalPostID:  postID,
			AuthorHandle:    e.userName,
			ResponseKind:    model.ResponseKindText,
			ResponseContent: content,
		})
	})
}

// HandleReply answers a reply to one of the bot's posts.
func (e *Executor) HandleReply(ctx context.Context, postID, authorHandle, content string) error {
	return e.respond(ctx, model.InteractionTypeReply, postID, authorHandle, content)
}

// HandleMention defers mention processing to the task queue; the consumer
// runs ProcessMention at least once per enqueued task.
func (e *Executor) HandleMention(ctx context.Context, postID, authorHandle, content string) error {
	return e.queue.Enqueue(ctx, queue.MentionTask{
		PostID:       postID,
		AuthorHandle: authorHandle,
		Content:      content,
	})
}

// ProcessMention is the queue-consumer side of HandleMention.
func (e *Executor) ProcessMention(ctx context.Context, task queue.MentionTask) error {
	return e.respond(ctx, model.InteractionTypeMention, task.PostID, task.AuthorHandle, task.Content)
}

func (e *Executor) respond(ctx context.Context, interactionType model.InteractionType, postID, authorHandle, content string) error {
	history := e.recentContext(ctx)

	if !e.policy.ShouldRespond(content, history) {
		log.WithField("postID", postID).Info("respond policy declined this interaction")
		return nil
	}

	op := fmt.Sprintf("respond to %s", interactionType)
	return e.withRetry(ctx, op, twitterutil.EndpointTweets, postRetryBase, func(ctx context.Context) error {
		responseKind := e.responseKind(ctx, content)

		var responseText string
		var mediaIDs []string
		switch responseKind {
		case model.ResponseKindImage:
			mediaID, err := e.generateResponseImage(ctx, content)
			if err != nil {
				return err
			}
			mediaIDs = []string{mediaID}
			responseText = replyImageCaption
			if interactionType == model.InteractionTypeMention {
				responseText = mentionImageCaption
			}
		default:
			generated, err := e.generateResponseText(ctx, interactionType, content, history)
			if err != nil {
				return err
			}
			responseText = generated
		}

		replyID, err := e.publishReply(ctx, postID, responseText, mediaIDs)
		if err != nil {
			return err
		}

		log.WithField("postID", postID).WithField("replyID", replyID).Infof("successfully processed %s", interactionType)
		return e.db.RecordInteraction(ctx, model.Interaction{
			Type:            interactionType,
			ExternalPostID:  postID,
			AuthorHandle:    authorHandle,
			InputContent:    content,
			ResponseKind:    responseKind,
			ResponseContent: responseText,
		})
	})
}

func (e *Executor) generateResponseText(ctx context.Context, interactionType model.InteractionType, content string, history []model.Interaction) (string, error) {
	prompt := replyPrompt(content, history)
	if interactionType == model.InteractionTypeMention {
		prompt = mentionPrompt(content, history)
	}
	generated, err := e.textService.GenerateText(ctx, prompt)
	if err != nil {
		return "", retryable(fmt.Errorf("generating response text: %w", err))
	}
	return generated, nil
}

func (e *Executor) generateResponseImage(ctx context.Context, content string) (string, error) {
	imageURL, err := e.imageService.GenerateImage(ctx, imagePromptPrefix+content)
	if err != nil {
		return "", retryable(fmt.Errorf("generating image: %w", err))
	}
	imageData, err := e.imageService.Download(ctx, imageURL)
	if err != nil {
		return "", retryable(fmt.Errorf("downloading image: %w", err))
	}
	e.gateRequest(twitterutil.EndpointMediaUpload)
	mediaID, err := e.twitterService.UploadMedia(ctx, "response.png", imageData)
	if err != nil {
		return "", err
	}
	return mediaID, nil
}

func (e *Executor) publishPost(ctx context.Context, content string) (string, error) {
	if e.testModeEnabled {
		postID := cuid.New()
		log.WithField("content", content).Infof("simulating post with ID %s", postID)
		return postID, nil
	}
	resp, err := e.twitterService.CreatePost(ctx, content)
	if err != nil {
		return "", err
	}
	e.updateLimits(twitterutil.EndpointTweets, resp.RateLimit)
	return resp.Tweet.ID, nil
}

func (e *Executor) publishReply(ctx context.Context, replyToID, text string, mediaIDs []string) (string, error) {
	if e.testModeEnabled {
		replyID := cuid.New()
		log.WithField("replyToID", replyToID).WithField("text", text).Infof("simulating reply with ID %s", replyID)
		return replyID, nil
	}
	resp, err := e.twitterService.Reply(ctx, replyToID, text, mediaIDs)
	if err != nil {
		return "", err
	}
	e.updateLimits(twitterutil.EndpointTweets, resp.RateLimit)
	return resp.Tweet.ID, nil
}

// responseKind asks the model whether the content wants an image or text
// answer. Classification failures degrade to text rather than aborting.
func (e *Executor) responseKind(ctx context.Context, content string) model.ResponseKind {
	analysis, err := e.textService.AnalyzeContent(ctx, analyzePrompt(content))
	if err != nil {
		log.Errorf("error determining response type, defaulting to text: %v", err)
		return model.ResponseKindText
	}
	if analysis.Type == string(model.ResponseKindImage) {
		return model.ResponseKindImage
	}
	return model.ResponseKindText
}

// recentContext fetches conversational history. Unavailable history never
// blocks a response; it degrades to empty.
func (e *Executor) recentContext(ctx context.Context) []model.Interaction {
	history, err := e.db.RecentInteractions(ctx, contextWindow)
	if err != nil {
		log.Errorf("error retrieving context: %v", err)
		return nil
	}
	return history
}

/*
withRetry is the shared attempt loop: gate the endpoint, run the attempt,
classify the failure, sleep, repeat up to maxRetries. Exhausting retries
converts the last error into the fatal class.
*/
func (e *Executor) withRetry(ctx context.Context, op string, endpoint string, base time.Duration, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		e.gateRequest(endpoint)

		err := fn(ctx)
		if err == nil {
			return nil
		}

		failure := classifyFailure(op, err, attempt, base, e.now())
		if failure.outcome == outcomeFatal {
			log.Errorf("%s failed fatally: %v", op, err)
			return failure.err
		}

		lastErr = err
		log.Errorf("%s failed (attempt %d/%d): %v", op, attempt+1, maxRetries, err)
		if attempt < maxRetries-1 {
			log.Infof("retrying %s in %s", op, failure.wait)
			e.sleep(failure.wait)
		}
	}
	return &TwitterAPIError{Op: fmt.Sprintf("%s after %d attempts", op, maxRetries), Err: lastErr}
}

/*
gateRequest asks the governor for a slot. A denial sleeps the advisory
wait and then proceeds: the wait was computed to clear the gate, so this
is a single retry of the check, not a loop. The second Allow call records
the request when the gate has in fact cleared.
*/
func (e *Executor) gateRequest(endpoint string) {
	if e.gate.Allow(endpoint) {
		return
	}
	wait := e.gate.WaitTime(endpoint)
	log.Infof("rate limit active for %s, waiting %s", endpoint, wait)
	e.sleep(wait)
	e.gate.Allow(endpoint)
}

func (e *Executor) updateLimits(endpoint string, rateLimit *twitter.RateLimit) {
	if rateLimit == nil {
		return
	}
	e.gate.Update(endpoint, rateLimit.Remaining, rateLimit.Reset.Time())
}
