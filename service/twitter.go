package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"

	"github.com/dghubble/oauth1"
	"github.com/monkebot/monkebot/config"
	"golang.org/x/exp/maps"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/g8rswimmer/go-twitter/v2"
	log "github.com/sirupsen/logrus"
)

const mediaUploadURL = "https://upload.twitter.com/1.1/media/upload.json"

type TwitterService struct {
	userID   string
	userName string

	apiClient   *twitter.Client
	oauthClient *twitter.Client
	// oauth1-signed plain HTTP client, needed for the v1.1 media upload
	// endpoint which the v2 client doesn't cover
	uploadClient *http.Client

	timelinePageSize int
}

type authorize struct {
	Token string
}

func (a authorize) Add(req *http.Request) {
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", a.Token))
}

func NewTwitterService(ctx context.Context, cfg config.Config, secretsManagerClient *secretsmanager.Client) *TwitterService {
	twitterSecrets := cfg.Twitter.Secrets
	if cfg.Twitter.SecretPath != "" {
		// Get the X secrets from AWS Secrets Manager
		result, err := secretsManagerClient.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(cfg.Twitter.SecretPath)})
		if err != nil {
			log.Fatal(err.Error())
		}
		err = json.Unmarshal([]byte(*result.SecretString), &twitterSecrets)
		if err != nil {
			log.Panicf("twitter secrets read error: %v", err)
		}
	}

	// Initialize the API Client (used for app-context API calls)
	apiClient := &twitter.Client{
		Authorizer: authorize{
			Token: twitterSecrets.BearerToken,
		},
		Client: http.DefaultClient,
		Host:   "https://api.twitter.com",
	}

	// Initialize the OAuth Client (used for making OAuth-authenticated API calls)
	oauthConfig := oauth1.NewConfig(twitterSecrets.ConsumerKey, twitterSecrets.ConsumerSecret)
	oauthToken := oauth1.NewToken(twitterSecrets.AccessToken, twitterSecrets.AccessTokenSecret)
	oauthHTTPClient := oauthConfig.Client(ctx, oauthToken)
	oauthClient := &twitter.Client{
		Authorizer: &authorize{},
		Client:     oauthHTTPClient,
		Host:       "https://api.twitter.com",
	}

	return &TwitterService{
		userName:         cfg.Twitter.BotUserName,
		apiClient:        apiClient,
		oauthClient:      oauthClient,
		uploadClient:     oauthHTTPClient,
		timelinePageSize: cfg.Twitter.TimelinePageSize,
	}
}

/*
Me looks up the authenticated user and caches its ID for timeline calls.
This is the credential check: a working response proves both the OAuth
user context and the app credentials.
*/
func (s *TwitterService) Me(ctx context.Context) (*twitter.UserLookupResponse, error) {
	me, err := s.oauthClient.AuthUserLookup(ctx, twitter.UserLookupOpts{})
	if err != nil {
		return nil, err
	}
	if me.Raw == nil || len(me.Raw.Users) == 0 {
		return nil, fmt.Errorf("auth user lookup returned no user")
	}
	s.userID = me.Raw.Users[0].ID
	s.userName = me.Raw.Users[0].UserName
	log.WithField("userID", s.userID).WithField("userName", s.userName).Info("authenticated with X API")
	return me, nil
}

func (s *TwitterService) CreatePost(ctx context.Context, text string) (*twitter.CreateTweetResponse, error) {
	return s.oauthClient.CreateTweet(ctx, twitter.CreateTweetRequest{
		Text: text,
	})
}

// Reply posts a reply to an existing post, optionally attaching uploaded
// media.
func (s *TwitterService) Reply(ctx context.Context, replyToID string, text string, mediaIDs []string) (*twitter.CreateTweetResponse, error) {
	req := twitter.CreateTweetRequest{
		Text: text,
		Reply: &twitter.CreateTweetReply{
			InReplyToTweetID: replyToID,
		},
	}
	if len(mediaIDs) > 0 {
		req.Media = &twitter.CreateTweetMedia{
			IDs: mediaIDs,
		}
	}
	return s.oauthClient.CreateTweet(ctx, req)
}

// UploadMedia pushes image bytes through the v1.1 media upload endpoint
// and returns the media ID to attach to a post.
func (s *TwitterService) UploadMedia(ctx context.Context, filename string, data []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("media", filename)
	if err != nil {
		return "", err
	}
	if _, err = part.Write(data); err != nil {
		return "", err
	}
	if err = writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, mediaUploadURL, &body)
	if err != nil {
		return "", err
	}
	req.Header.Add("Content-Type", writer.FormDataContentType())

	resp, err := s.uploadClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("media upload failed with status %d: %s", resp.StatusCode, respBody)
	}

	var uploaded struct {
		MediaIDString string `json:"media_id_string"`
	}
	if err = json.Unmarshal(respBody, &uploaded); err != nil {
		return "", err
	}
	if uploaded.MediaIDString == "" {
		return "", fmt.Errorf("media upload returned no media ID")
	}
	return uploaded.MediaIDString, nil
}

/*
MentionsSince gets all mentions of the bot since a given post ID. If
sinceID is empty, returns all available mentions. This can span multiple
requests and may take some time to return. Returned posts are re-sorted
oldest-first so processing always starts with the oldest. The most recent
rate limit metadata is returned alongside for the caller's tracker.
*/
func (s *TwitterService) MentionsSince(ctx context.Context, sinceID string) ([]*twitter.TweetDictionary, *twitter.RateLimit, error) {
	paginationToken := ""
	var rateLimit *twitter.RateLimit
	tweets := map[string]*twitter.TweetDictionary{}
	for ok := true; ok; ok = (paginationToken != "") {
		apiOpts := twitter.UserMentionTimelineOpts{
			TweetFields:     []twitter.TweetField{twitter.TweetFieldAuthorID, twitter.TweetFieldConversationID},
			UserFields:      []twitter.UserField{twitter.UserFieldUserName},
			Expansions:      []twitter.Expansion{twitter.ExpansionAuthorID},
			MaxResults:      s.timelinePageSize,
			PaginationToken: paginationToken,
			SinceID:         sinceID,
		}

		log.WithField("sinceID", sinceID).WithField("paginationToken", paginationToken).WithField("userID", s.userID).Debug("requesting timeline mentions")
		timeline, err := s.apiClient.UserMentionTimeline(ctx, s.userID, apiOpts)
		if err != nil {
			return nil, rateLimit, err
		}
		paginationToken = timeline.Meta.NextToken
		if timeline.RateLimit != nil {
			rateLimit = timeline.RateLimit
			log.WithField("limit", rateLimit.Limit).WithField("remaining", rateLimit.Remaining).WithField("reset", rateLimit.Reset).Debug("rate limit data for timeline mentions")
		}
		for key, value := range timeline.Raw.TweetDictionaries() {
			// Shouldn't have to worry about collisions since these IDs are unique
			if tweets[key] != nil {
				log.Warnf("duplicate post found while getting mentions: %v", key)
			}
			tweets[key] = value
		}
	}
	// Sort the posts from oldest to newest (ascending ID)
	tweetSlice := maps.Values(tweets)
	sort.Slice(tweetSlice, func(i, j int) bool {
		return tweetSlice[i].Tweet.ID < tweetSlice[j].Tweet.ID
	})
	return tweetSlice, rateLimit, nil
}

func (s *TwitterService) UserID() string {
	return s.userID
}

func (s *TwitterService) UserName() string {
	return s.userName
}
