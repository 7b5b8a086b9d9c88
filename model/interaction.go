package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/monkebot/monkebot/database/db"
)

type InteractionType string

const (
	InteractionTypePost    InteractionType = "post"
	InteractionTypeReply   InteractionType = "reply"
	InteractionTypeMention InteractionType = "mention"
)

func ParseInteractionType(s string) (InteractionType, error) {
	switch strings.ToLower(s) {
	case string(InteractionTypePost):
		return InteractionTypePost, nil
	case string(InteractionTypeReply):
		return InteractionTypeReply, nil
	case string(InteractionTypeMention):
		return InteractionTypeMention, nil
	default:
		return "", fmt.Errorf("unknown interaction type: %s", s)
	}
}

// ResponseKind is what the bot answered with. Plain posts carry their
// generated text as a text response so the response counters stay honest.
type ResponseKind string

const (
	ResponseKindText  ResponseKind = "text"
	ResponseKindImage ResponseKind = "image"
	ResponseKindNone  ResponseKind = "none"
)

func ParseResponseKind(s string) (ResponseKind, error) {
	switch strings.ToLower(s) {
	case string(ResponseKindText):
		return ResponseKindText, nil
	case string(ResponseKindImage):
		return ResponseKindImage, nil
	case string(ResponseKindNone), "":
		return ResponseKindNone, nil
	default:
		return "", fmt.Errorf("unknown response kind: %s", s)
	}
}

// Interaction is one completed post, reply, or mention response. Rows are
// insert-only; history doubles as conversational context for generation.
type Interaction struct {
	ID              string
	Type            InteractionType
	ExternalPostID  string
	AuthorHandle    string
	InputContent    string
	ResponseKind    ResponseKind
	ResponseContent string
	CreatedAt       time.Time
}

func InteractionFromRow(row db.Interaction) (*Interaction, error) {
	interactionType, err := ParseInteractionType(row.Type)
	if err != nil {
		return nil, err
	}
	responseKind, err := ParseResponseKind(row.ResponseKind)
	if err != nil {
		return nil, err
	}
	return &Interaction{
		ID:              row.ID,
		Type:            interactionType,
		ExternalPostID:  row.ExternalPostID,
		AuthorHandle:    row.AuthorHandle,
		InputContent:    row.InputContent,
		ResponseKind:    responseKind,
		ResponseContent: row.ResponseContent,
		CreatedAt:       row.CreatedAt,
	}, nil
}
