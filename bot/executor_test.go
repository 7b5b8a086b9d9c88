package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	twitter "github.com/g8rswimmer/go-twitter/v2"
	"github.com/monkebot/monkebot/model"
	"github.com/monkebot/monkebot/openai"
	"github.com/monkebot/monkebot/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockSocialClient struct {
	mock.Mock
}

func (m *MockSocialClient) Me(ctx context.Context) (*twitter.UserLookupResponse, error) {
	args := m.Called(ctx)
	return args.Get(0).(*twitter.UserLookupResponse), args.Error(1)
}

func (m *MockSocialClient) CreatePost(ctx context.Context, text string) (*twitter.CreateTweetResponse, error) {
	args := m.Called(ctx, text)
	return args.Get(0).(*twitter.CreateTweetResponse), args.Error(1)
}

func (m *MockSocialClient) Reply(ctx context.Context, replyToID string, text string, mediaIDs []string) (*twitter.CreateTweetResponse, error) {
	args := m.Called(ctx, replyToID, text, mediaIDs)
	return args.Get(0).(*twitter.CreateTweetResponse), args.Error(1)
}

func (m *MockSocialClient) UploadMedia(ctx context.Context, filename string, data []byte) (string, error) {
	args := m.Called(ctx, filename, data)
	return args.Get(0).(string), args.Error(1)
}

type MockTextGenerator struct {
	mock.Mock
}

func (m *MockTextGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.Get(0).(string), args.Error(1)
}

func (m *MockTextGenerator) AnalyzeContent(ctx context.Context, prompt string) (*openai.ContentAnalysis, error) {
	args := m.Called(ctx, prompt)
	return args.Get(0).(*openai.ContentAnalysis), args.Error(1)
}

type MockImageGenerator struct {
	mock.Mock
}

func (m *MockImageGenerator) GenerateImage(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.Get(0).(string), args.Error(1)
}

func (m *MockImageGenerator) Download(ctx context.Context, imageURL string) ([]byte, error) {
	args := m.Called(ctx, imageURL)
	return args.Get(0).([]byte), args.Error(1)
}

type MockInteractionStore struct {
	mock.Mock
}

func (m *MockInteractionStore) RecordInteraction(ctx context.Context, interaction model.Interaction) error {
	args := m.Called(ctx, interaction)
	return args.Error(0)
}

func (m *MockInteractionStore) RecentInteractions(ctx context.Context, limit int) ([]model.Interaction, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]model.Interaction), args.Error(1)
}

type MockTaskQueue struct {
	mock.Mock
}

func (m *MockTaskQueue) Enqueue(ctx context.Context, task queue.MentionTask) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

// openGate always allows and records nothing; tests for gating behavior
// use deniedGate instead.
type openGate struct{}

func (openGate) Allow(string) bool             { return true }
func (openGate) WaitTime(string) time.Duration { return 0 }
func (openGate) Update(string, int, time.Time) {}

type deniedGate struct {
	wait       time.Duration
	allowCalls int
}

func (g *deniedGate) Allow(string) bool             { g.allowCalls++; return false }
func (g *deniedGate) WaitTime(string) time.Duration { return g.wait }
func (g *deniedGate) Update(string, int, time.Time) {}

type executorFixture struct {
	social *MockSocialClient
	text   *MockTextGenerator
	image  *MockImageGenerator
	store  *MockInteractionStore
	queue  *MockTaskQueue
	sleeps []time.Duration
}

func newTestExecutor(gate RateGate) (*Executor, *executorFixture) {
	fixture := &executorFixture{
		social: new(MockSocialClient),
		text:   new(MockTextGenerator),
		image:  new(MockImageGenerator),
		store:  new(MockInteractionStore),
		queue:  new(MockTaskQueue),
	}
	executor := NewExecutor(fixture.social, fixture.text, fixture.image, fixture.store, fixture.queue, gate, false)
	executor.sleep = func(d time.Duration) { fixture.sleeps = append(fixture.sleeps, d) }
	executor.now = func() time.Time { return time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC) }
	return executor, fixture
}

func TestCreatePost(t *testing.T) {
	t.Run("posts generated content and records the interaction", func(t *testing.T) {
		executor, fixture := newTestExecutor(openGate{})
		fixture.text.On("GenerateText", mock.Anything, postPrompt).Return("a witty post", nil)
		fixture.social.On("CreatePost", mock.Anything, "a witty post").Return(&twitter.CreateTweetResponse{Tweet: &twitter.CreateTweetData{ID: "111"}}, nil)
		fixture.store.On("RecordInteraction", mock.Anything, mock.MatchedBy(func(i model.Interaction) bool {
			return i.Type == model.InteractionTypePost && i.ExternalPostID == "111" && i.ResponseKind == model.ResponseKindText && i.ResponseContent == "a witty post"
		})).Return(nil)

		err := executor.CreatePost(context.TODO())
		assert.NoError(t, err)
		fixture.social.AssertNumberOfCalls(t, "CreatePost", 1)
		fixture.store.AssertNumberOfCalls(t, "RecordInteraction", 1)
	})

	t.Run("rate limited on every attempt performs exactly three attempts then fails fatally", func(t *testing.T) {
		executor, fixture := newTestExecutor(openGate{})
		fixture.text.On("GenerateText", mock.Anything, postPrompt).Return("a witty post", nil)
		fixture.social.On("CreatePost", mock.Anything, "a witty post").Return(
			(*twitter.CreateTweetResponse)(nil),
			&twitter.ErrorResponse{StatusCode: http.StatusTooManyRequests, Title: "Too Many Requests"},
		)

		err := executor.CreatePost(context.TODO())
		var apiErr *TwitterAPIError
		assert.ErrorAs(t, err, &apiErr)
		fixture.social.AssertNumberOfCalls(t, "CreatePost", 3)
		fixture.store.AssertNumberOfCalls(t, "RecordInteraction", 0)
		// Two inter-attempt sleeps, no reset hint, so the post base delay.
		assert.Equal(t, []time.Duration{postRetryBase, postRetryBase}, fixture.sleeps)
	})

	t.Run("rate limited sleeps the server-advised reset when present", func(t *testing.T) {
		executor, fixture := newTestExecutor(openGate{})
		reset := twitter.Epoch(executor.now().Add(2 * time.Minute).Unix())
		fixture.text.On("GenerateText", mock.Anything, postPrompt).Return("a witty post", nil)
		fixture.social.On("CreatePost", mock.Anything, "a witty post").Return(
			(*twitter.CreateTweetResponse)(nil),
			&twitter.ErrorResponse{
				StatusCode: http.StatusTooManyRequests,
				RateLimit:  &twitter.RateLimit{Remaining: 0, Reset: reset},
			},
		)

		err := executor.CreatePost(context.TODO())
		assert.Error(t, err)
		assert.Len(t, fixture.sleeps, 2)
		assert.InDelta(t, (2 * time.Minute).Seconds(), fixture.sleeps[0].Seconds(), 1)
	})

	t.Run("forbidden never retries", func(t *testing.T) {
		executor, fixture := newTestExecutor(openGate{})
		fixture.text.On("GenerateText", mock.Anything, postPrompt).Return("a witty post", nil)
		fixture.social.On("CreatePost", mock.Anything, "a witty post").Return(
			(*twitter.CreateTweetResponse)(nil),
			&twitter.ErrorResponse{StatusCode: http.StatusForbidden, Title: "Forbidden"},
		)

		err := executor.CreatePost(context.TODO())
		var apiErr *TwitterAPIError
		assert.ErrorAs(t, err, &apiErr)
		fixture.social.AssertNumberOfCalls(t, "CreatePost", 1)
		assert.Empty(t, fixture.sleeps)
	})

	t.Run("transient API errors back off exponentially with the buffer", func(t *testing.T) {
		executor, fixture := newTestExecutor(openGate{})
		fixture.text.On("GenerateText", mock.Anything, postPrompt).Return("a witty post", nil)
		fixture.social.On("CreatePost", mock.Anything, "a witty post").Return(
			(*twitter.CreateTweetResponse)(nil),
			&twitter.ErrorResponse{StatusCode: http.StatusInternalServerError},
		)

		err := executor.CreatePost(context.TODO())
		assert.Error(t, err)
		assert.Equal(t, []time.Duration{
			postRetryBase + retryBuffer,
			2*postRetryBase + retryBuffer,
		}, fixture.sleeps)
	})

	t.Run("unexpected errors propagate raw without retry", func(t *testing.T) {
		executor, fixture := newTestExecutor(openGate{})
		boom := errors.New("connection reset")
		fixture.text.On("GenerateText", mock.Anything, postPrompt).Return("a witty post", nil)
		fixture.social.On("CreatePost", mock.Anything, "a witty post").Return((*twitter.CreateTweetResponse)(nil), boom)

		err := executor.CreatePost(context.TODO())
		assert.ErrorIs(t, err, boom)
		var apiErr *TwitterAPIError
		assert.False(t, errors.As(err, &apiErr), "unexpected errors should not be wrapped as fatal API errors")
		fixture.social.AssertNumberOfCalls(t, "CreatePost", 1)
	})

	t.Run("generation failures are retried as transient", func(t *testing.T) {
		executor, fixture := newTestExecutor(openGate{})
		fixture.text.On("GenerateText", mock.Anything, postPrompt).Return("", fmt.Errorf("model unavailable"))

		err := executor.CreatePost(context.TODO())
		var apiErr *TwitterAPIError
		assert.ErrorAs(t, err, &apiErr)
		fixture.text.AssertNumberOfCalls(t, "GenerateText", 3)
		fixture.social.AssertNumberOfCalls(t, "CreatePost", 0)
	})

	t.Run("persistence failures propagate after the post is made", func(t *testing.T) {
		executor, fixture := newTestExecutor(openGate{})
		dbErr := errors.New("connection refused")
		fixture.text.On("GenerateText", mock.Anything, postPrompt).Return("a witty post", nil)
		fixture.social.On("CreatePost", mock.Anything, "a witty post").Return(&twitter.CreateTweetResponse{Tweet: &twitter.CreateTweetData{ID: "111"}}, nil)
		fixture.store.On("RecordInteraction", mock.Anything, mock.Anything).Return(dbErr)

		err := executor.CreatePost(context.TODO())
		assert.ErrorIs(t, err, dbErr)
		fixture.social.AssertNumberOfCalls(t, "CreatePost", 1)
	})

	t.Run("simulates posting in test mode", func(t *testing.T) {
		executor, fixture := newTestExecutor(openGate{})
		executor.testModeEnabled = true
		fixture.text.On("GenerateText", mock.Anything, postPrompt).Return("a witty post", nil)
		fixture.store.On("RecordInteraction", mock.Anything, mock.Anything).Return(nil)

		err := executor.CreatePost(context.TODO())
		assert.NoError(t, err)
		fixture.social.AssertNumberOfCalls(t, "CreatePost", 0)
		fixture.store.AssertNumberOfCalls(t, "RecordInteraction", 1)
	})
}

func TestGateRequest(t *testing.T) {
	t.Run("denied gate sleeps the advisory wait then proceeds", func(t *testing.T) {
		gate := &deniedGate{wait: 42 * time.Minute}
		executor, fixture := newTestExecutor(gate)
		fixture.text.On("GenerateText", mock.Anything, postPrompt).Return("a witty post", nil)
		fixture.social.On("CreatePost", mock.Anything, "a witty post").Return(&twitter.CreateTweetResponse{Tweet: &twitter.CreateTweetData{ID: "111"}}, nil)
		fixture.store.On("RecordInteraction", mock.Anything, mock.Anything).Return(nil)

		err := executor.CreatePost(context.TODO())
		assert.NoError(t, err)
		assert.Equal(t, []time.Duration{42 * time.Minute}, fixture.sleeps)
		// One denied check plus the single post-sleep recheck.
		assert.Equal(t, 2, gate.allowCalls)
		// A still-denied gate after the sleep must not block the attempt.
		fixture.social.AssertNumberOfCalls(t, "CreatePost", 1)
	})
}

func TestRespond(t *testing.T) {
	historyCall := func(fixture *executorFixture) {
		fixture.store.On("RecentInteractions", mock.Anything, contextWindow).Return([]model.Interaction{}, nil)
	}

	t.Run("text response posts a generated reply and records it", func(t *testing.T) {
		executor, fixture := newTestExecutor(openGate{})
		historyCall(fixture)
		fixture.text.On("AnalyzeContent", mock.Anything, mock.Anything).Return(&openai.ContentAnalysis{Type: "text"}, nil)
		fixture.text.On("GenerateText", mock.Anything, mock.Anything).Return("thanks for the kind words", nil)
		fixture.social.On("Reply", mock.Anything, "123456", "thanks for the kind words", []string(nil)).Return(&twitter.CreateTweetResponse{Tweet: &twitter.CreateTweetData{ID: "222"}}, nil)
		fixture.store.On("RecordInteraction", mock.Anything, mock.MatchedBy(func(i model.Interaction) bool {
			return i.Type == model.InteractionTypeReply && i.ResponseKind == model.ResponseKindText && i.AuthorHandle == "somefan"
		})).Return(nil)

		err := executor.HandleReply(context.TODO(), "123456", "somefan", "nice post!")
		assert.NoError(t, err)
		fixture.store.AssertNumberOfCalls(t, "RecordInteraction", 1)
	})

	t.Run("image response generates, downloads, uploads and attaches media", func(t *testing.T) {
		executor, fixture := newTestExecutor(openGate{})
		historyCall(fixture)
		imageBytes := []byte{0x89, 0x50, 0x4e, 0x47}
		fixture.text.On("AnalyzeContent", mock.Anything, mock.Anything).Return(&openai.ContentAnalysis{Type: "image"}, nil)
		fixture.image.On("GenerateImage", mock.Anything, imagePromptPrefix+"draw me a sunset").Return("https://img.example/out.png", nil)
		fixture.image.On("Download", mock.Anything, "https://img.example/out.png").Return(imageBytes, nil)
		fixture.social.On("UploadMedia", mock.Anything, "response.png", imageBytes).Return("media-1", nil)
		fixture.social.On("Reply", mock.Anything, "123456", mentionImageCaption, []string{"media-1"}).Return(&twitter.CreateTweetResponse{Tweet: &twitter.CreateTweetData{ID: "222"}}, nil)
		fixture.store.On("RecordInteraction", mock.Anything, mock.MatchedBy(func(i model.Interaction) bool {
			return i.Type == model.InteractionTypeMention && i.ResponseKind == model.ResponseKindImage
		})).Return(nil)

		err := executor.ProcessMention(context.TODO(), queue.MentionTask{PostID: "123456", AuthorHandle: "somefan", Content: "draw me a sunset"})
		assert.NoError(t, err)
		fixture.social.AssertNumberOfCalls(t, "UploadMedia", 1)
		fixture.store.AssertNumberOfCalls(t, "RecordInteraction", 1)
	})

	t.Run("classification failure degrades to a text response", func(t *testing.T) {
		executor, fixture := newTestExecutor(openGate{})
		historyCall(fixture)
		fixture.text.On("AnalyzeContent", mock.Anything, mock.Anything).Return((*openai.ContentAnalysis)(nil), fmt.Errorf("model unavailable"))
		fixture.text.On("GenerateText", mock.Anything, mock.Anything).Return("a text answer", nil)
		fixture.social.On("Reply", mock.Anything, "123456", "a text answer", []string(nil)).Return(&twitter.CreateTweetResponse{Tweet: &twitter.CreateTweetData{ID: "222"}}, nil)
		fixture.store.On("RecordInteraction", mock.Anything, mock.Anything).Return(nil)

		err := executor.HandleReply(context.TODO(), "123456", "somefan", "what do you think?")
		assert.NoError(t, err)
		fixture.image.AssertNumberOfCalls(t, "GenerateImage", 0)
	})

	t.Run("history unavailability never blocks the response", func(t *testing.T) {
		executor, fixture := newTestExecutor(openGate{})
		fixture.store.On("RecentInteractions", mock.Anything, contextWindow).Return([]model.Interaction(nil), fmt.Errorf("connection refused"))
		fixture.text.On("AnalyzeContent", mock.Anything, mock.Anything).Return(&openai.ContentAnalysis{Type: "text"}, nil)
		fixture.text.On("GenerateText", mock.Anything, mock.Anything).Return("an answer", nil)
		fixture.social.On("Reply", mock.Anything, "123456", "an answer", []string(nil)).Return(&twitter.CreateTweetResponse{Tweet: &twitter.CreateTweetData{ID: "222"}}, nil)
		fixture.store.On("RecordInteraction", mock.Anything, mock.Anything).Return(nil)

		err := executor.HandleReply(context.TODO(), "123456", "somefan", "hello")
		assert.NoError(t, err)
		fixture.social.AssertNumberOfCalls(t, "Reply", 1)
	})

	t.Run("declined by policy does nothing", func(t *testing.T) {
		executor, fixture := newTestExecutor(openGate{})
		historyCall(fixture)
		executor.SetPolicy(neverRespond{})

		err := executor.HandleReply(context.TODO(), "123456", "somefan", "spam spam spam")
		assert.NoError(t, err)
		fixture.social.AssertNumberOfCalls(t, "Reply", 0)
		fixture.store.AssertNumberOfCalls(t, "RecordInteraction", 0)
	})
}

type neverRespond struct{}

func (neverRespond) ShouldRespond(string, []model.Interaction) bool { return false }

func TestHandleMention(t *testing.T) {
	t.Run("enqueues the mention payload", func(t *testing.T) {
		executor, fixture := newTestExecutor(openGate{})
		want := queue.MentionTask{PostID: "123456", AuthorHandle: "somefan", Content: "hello bot"}
		fixture.queue.On("Enqueue", mock.Anything, want).Return(nil)

		err := executor.HandleMention(context.TODO(), "123456", "somefan", "hello bot")
		assert.NoError(t, err)
		fixture.queue.AssertNumberOfCalls(t, "Enqueue", 1)
	})
}
