package twitter

// Endpoint is a logical API route tracked independently for rate limit
// purposes. Keys mirror the route paths so tracker logs read like the
// X API docs.
type Endpoint = string

const (
	EndpointTweets          Endpoint = "/2/tweets"
	EndpointUsersMe         Endpoint = "/2/users/me"
	EndpointMentionTimeline Endpoint = "/2/users/:id/mentions"
	EndpointMediaUpload     Endpoint = "/1.1/media/upload"
)
