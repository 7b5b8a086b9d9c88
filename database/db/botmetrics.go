package db

import "time"

// BotMetrics follows an append-pattern singleton: the row with the highest
// id is the current set of counters.
type BotMetrics struct {
	ID                 string    `db:"id"`
	PostCount          int       `db:"post_count"`
	ReplyCount         int       `db:"reply_count"`
	MentionCount       int       `db:"mention_count"`
	ImageResponseCount int       `db:"image_response_count"`
	TextResponseCount  int       `db:"text_response_count"`
	UpdatedAt          time.Time `db:"updated_at"`
}
