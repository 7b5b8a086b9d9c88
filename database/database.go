package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lucsky/cuid"
	"github.com/monkebot/monkebot/database/db"
	"github.com/monkebot/monkebot/model"
)

// connectTimeout bounds the startup reachability check so a dead database
// fails the process fast instead of hanging it.
const connectTimeout = 10 * time.Second

type Database struct {
	connString string
	pool       *pgxpool.Pool
}

func NewDatabase(connString string) *Database {
	return &Database{
		connString: connString,
	}
}

func (d *Database) Connect(ctx context.Context) error {
	var err error
	d.pool, err = pgxpool.New(ctx, d.connString)
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	return d.pool.Ping(pingCtx)
}

func (d *Database) Disconnect() {
	d.pool.Close()
}

/*
RecordInteraction inserts the interaction and bumps the matching metrics
counters in one transaction: exactly one type counter (post/reply/mention)
and exactly one response-kind counter (image/text). A fresh metrics row is
created only when none exists yet; otherwise the latest row is locked and
updated in place.

On any failure the transaction rolls back and the error propagates. The
external post has already been made at that point; an unrecorded post is
the accepted inconsistency, not something to compensate for.
*/
func (d *Database) RecordInteraction(ctx context.Context, interaction model.Interaction) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
	INSERT INTO interaction (id, type, external_post_id, author_handle, input_content, response_kind, response_content, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		cuid.New(),
		interaction.Type,
		interaction.ExternalPostID,
		interaction.AuthorHandle,
		interaction.InputContent,
		interaction.ResponseKind,
		interaction.ResponseContent,
		time.Now().UTC(), // the DB stores timezones and assumes UTC
	)
	if err != nil {
		return err
	}

	var metricsID string
	err = tx.QueryRow(ctx, `
	SELECT id FROM bot_metrics ORDER BY id DESC LIMIT 1 FOR UPDATE`).Scan(&metricsID)
	if err == pgx.ErrNoRows {
		metricsID = cuid.New()
		_, err = tx.Exec(ctx, `
		INSERT INTO bot_metrics (id, post_count, reply_count, mention_count, image_response_count, text_response_count, updated_at)
		VALUES ($1, 0, 0, 0, 0, 0, $2)`,
			metricsID,
			time.Now().UTC(),
		)
	}
	if err != nil {
		return err
	}

	typeColumn, err := metricsTypeColumn(interaction.Type)
	if err != nil {
		return err
	}
	kindColumn := "text_response_count"
	if interaction.ResponseKind == model.ResponseKindImage {
		kindColumn = "image_response_count"
	}

	// Column names come from the two switches above, never from input.
	_, err = tx.Exec(ctx, `
	UPDATE bot_metrics SET `+typeColumn+` = `+typeColumn+` + 1, `+kindColumn+` = `+kindColumn+` + 1, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(),
		metricsID,
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// RecentInteractions returns the newest interactions first, for use as
// conversational context during generation.
func (d *Database) RecentInteractions(ctx context.Context, limit int) ([]model.Interaction, error) {
	rows, err := d.pool.Query(ctx, `
	SELECT
		id,
		type,
		external_post_id,
		author_handle,
		input_content,
		response_kind,
		response_content,
		created_at
	FROM interaction
	ORDER BY created_at DESC
	LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}

	raws, err := pgx.CollectRows(rows, pgx.RowToStructByName[db.Interaction])
	if err != nil {
		return nil, err
	}

	var interactions []model.Interaction
	for _, raw := range raws {
		interaction, err := model.InteractionFromRow(raw)
		if err != nil {
			return nil, err
		}
		interactions = append(interactions, *interaction)
	}
	return interactions, nil
}

// Stats returns the current counters. A missing metrics row is not an
// error; the bot just hasn't done anything yet.
func (d *Database) Stats(ctx context.Context) (db.BotMetrics, error) {
	rows, err := d.pool.Query(ctx, `
	SELECT
		id,
		post_count,
		reply_count,
		mention_count,
		image_response_count,
		text_response_count,
		updated_at
	FROM bot_metrics
	ORDER BY id DESC
	LIMIT 1`)
	if err != nil {
		return db.BotMetrics{}, err
	}

	metrics, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[db.BotMetrics])
	if err == pgx.ErrNoRows {
		return db.BotMetrics{}, nil
	}
	if err != nil {
		return db.BotMetrics{}, err
	}
	return metrics, nil
}

func metricsTypeColumn(interactionType model.InteractionType) (string, error) {
	switch interactionType {
	case model.InteractionTypePost:
		return "post_count", nil
	case model.InteractionTypeReply:
		return "reply_count", nil
	case model.InteractionTypeMention:
		return "mention_count", nil
	default:
		return "", fmt.Errorf("unknown interaction type: %s", interactionType)
	}
}
