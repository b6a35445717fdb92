package store

import (
	"strings"

	"github.com/jmoiron/sqlx"
)

// migration is a single schema migration step. Steps are additive and
// non-destructive; all pending steps run inside one transaction on open.
type migration struct {
	version int
	apply   func(tx *sqlx.Tx) error
}

// execMigration runs a plain SQL script migration.
func execMigration(sql string) func(tx *sqlx.Tx) error {
	return func(tx *sqlx.Tx) error {
		_, err := tx.Exec(sql)
		return err
	}
}

// migrations is the ordered list of schema migrations. Versions are
// sequential starting from 1.
var migrations = []migration{
	{version: 1, apply: execMigration(schemaV1)},
	{version: 2, apply: execMigration(schemaV2)},
	{version: 3, apply: execMigration(schemaV3)},
	{version: 4, apply: applyFullTextIndex},
}

// schemaV1 creates the base layout: the version table, messages, and the
// per-folder sync bookmark.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	folder_id       TEXT NOT NULL,
	subject         TEXT NOT NULL DEFAULT '',
	sender_name     TEXT NOT NULL DEFAULT '',
	sender_address  TEXT NOT NULL DEFAULT '',
	received_at     DATETIME,
	is_read         INTEGER NOT NULL DEFAULT 0,
	has_attachments INTEGER NOT NULL DEFAULT 0,
	preview         TEXT NOT NULL DEFAULT '',
	importance      TEXT NOT NULL DEFAULT 'normal',
	company_label   TEXT NOT NULL DEFAULT '',
	cached_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_state (
	folder_id    TEXT PRIMARY KEY,
	delta_link   TEXT,
	last_sync_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_messages_folder ON messages(folder_id);
CREATE INDEX IF NOT EXISTS idx_messages_received ON messages(received_at);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_address);
CREATE INDEX IF NOT EXISTS idx_messages_company ON messages(company_label);
`

// schemaV2 adds lazily fetched bodies and attachment metadata. This is the
// historical shape: no referential integrity yet.
const schemaV2 = `
CREATE TABLE IF NOT EXISTS message_bodies (
	message_id   TEXT PRIMARY KEY,
	content_type TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS attachments (
	id           TEXT NOT NULL,
	message_id   TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	size         INTEGER NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (id, message_id)
);

CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_id);
`

// schemaV3 adds normalized recipients and retrofits ON DELETE CASCADE onto
// bodies and attachments by rebuilding those tables. Rows whose parent
// message still exists are carried over unchanged.
const schemaV3 = `
CREATE TABLE IF NOT EXISTS recipients (
	message_id   TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	role         TEXT NOT NULL CHECK(role IN ('to', 'cc')),
	address      TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (message_id, role, address)
);

CREATE INDEX IF NOT EXISTS idx_recipients_address ON recipients(address);

CREATE TABLE message_bodies_new (
	message_id   TEXT PRIMARY KEY REFERENCES messages(id) ON DELETE CASCADE,
	content_type TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL DEFAULT ''
);
INSERT INTO message_bodies_new (message_id, content_type, content)
	SELECT message_id, content_type, content FROM message_bodies
	WHERE message_id IN (SELECT id FROM messages);
DROP TABLE message_bodies;
ALTER TABLE message_bodies_new RENAME TO message_bodies;

CREATE TABLE attachments_new (
	id           TEXT NOT NULL,
	message_id   TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	name         TEXT NOT NULL DEFAULT '',
	size         INTEGER NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (id, message_id)
);
INSERT INTO attachments_new (id, message_id, name, size, content_type)
	SELECT id, message_id, name, size, content_type FROM attachments
	WHERE message_id IN (SELECT id FROM messages);
DROP TABLE attachments;
ALTER TABLE attachments_new RENAME TO attachments;

CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_id);
`

// createFTSTable is the indexed full-text backend. The fts5 module is an
// optional build feature of the SQLite library, so creation may fail.
const createFTSTable = `
CREATE VIRTUAL TABLE messages_fts USING fts5(
	message_id UNINDEXED,
	subject,
	preview,
	sender_name,
	sender_address,
	body
);
`

// ftsTriggers keeps messages_fts in step with messages and message_bodies.
const ftsTriggers = `
CREATE TRIGGER messages_fts_ai AFTER INSERT ON messages BEGIN
	INSERT INTO messages_fts (message_id, subject, preview, sender_name, sender_address, body)
	VALUES (new.id, new.subject, new.preview, new.sender_name, new.sender_address, '');
END;

CREATE TRIGGER messages_fts_au AFTER UPDATE ON messages BEGIN
	UPDATE messages_fts SET
		subject = new.subject,
		preview = new.preview,
		sender_name = new.sender_name,
		sender_address = new.sender_address
	WHERE message_id = new.id;
END;

CREATE TRIGGER messages_fts_ad AFTER DELETE ON messages BEGIN
	DELETE FROM messages_fts WHERE message_id = old.id;
END;

CREATE TRIGGER message_bodies_fts_ai AFTER INSERT ON message_bodies BEGIN
	UPDATE messages_fts SET body = new.content WHERE message_id = new.message_id;
END;

CREATE TRIGGER message_bodies_fts_au AFTER UPDATE ON message_bodies BEGIN
	UPDATE messages_fts SET body = new.content WHERE message_id = new.message_id;
END;
`

// backfillFTS indexes rows that predate the full-text table.
const backfillFTS = `
INSERT INTO messages_fts (message_id, subject, preview, sender_name, sender_address, body)
	SELECT m.id, m.subject, m.preview, m.sender_name, m.sender_address, COALESCE(b.content, '')
	FROM messages m
	LEFT JOIN message_bodies b ON b.message_id = m.id;
`

// applyFullTextIndex creates the fts5 table, its triggers, and the backfill.
// When the SQLite build lacks the fts5 module the step is skipped: search
// falls back to pattern matching at query time, and the version still
// advances so the store keeps opening.
func applyFullTextIndex(tx *sqlx.Tx) error {
	if _, err := tx.Exec(createFTSTable); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "fts5") ||
			strings.Contains(strings.ToLower(err.Error()), "no such module") {
			return nil
		}
		return err
	}
	if _, err := tx.Exec(ftsTriggers); err != nil {
		return err
	}
	if _, err := tx.Exec(backfillFTS); err != nil {
		return err
	}
	return nil
}
