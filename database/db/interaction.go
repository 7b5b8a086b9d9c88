package db

import "time"

type Interaction struct {
	ID              string    `db:"id"`
	Type            string    `db:"type"`
	ExternalPostID  string    `db:"external_post_id"`
	AuthorHandle    string    `db:"author_handle"`
	InputContent    string    `db:"input_content"`
	ResponseKind    string    `db:"response_kind"`
	ResponseContent string    `db:"response_content"`
	CreatedAt       time.Time `db:"created_at"`
}
