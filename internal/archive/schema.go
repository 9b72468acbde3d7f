package archive

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS message_deletes (
		id          UUID PRIMARY KEY,
		message_id  BIGINT NOT NULL,
		channel_id  BIGINT NOT NULL,
		guild_id    BIGINT,
		author_id   BIGINT,
		author_name TEXT,
		content     TEXT,
		sent_at     TEXT,
		attachments TEXT[] NOT NULL DEFAULT '{}',
		deleted_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS message_deletes_channel_idx
		ON message_deletes (channel_id, deleted_at DESC)`,
	`CREATE TABLE IF NOT EXISTS message_edits (
		id             UUID PRIMARY KEY,
		message_id     BIGINT NOT NULL,
		channel_id     BIGINT NOT NULL,
		guild_id       BIGINT,
		author_id      BIGINT,
		author_name    TEXT,
		before_content TEXT,
		after_content  TEXT,
		edited_at      TEXT,
		attachments    TEXT[] NOT NULL DEFAULT '{}',
		observed_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS message_edits_channel_idx
		ON message_edits (channel_id, observed_at DESC)`,
}

// EnsureSchema creates the archive tables if they do not exist.
func EnsureSchema(ctx context.Context, db DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
