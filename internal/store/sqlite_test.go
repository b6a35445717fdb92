package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvu/mailcache/internal/store"
	"github.com/tvu/mailcache/tests/testutil"
)

// legacySchema is the on-disk layout of a store last written at schema
// version 2: no recipients table and no foreign keys on bodies or
// attachments.
const legacySchema = `
CREATE TABLE schema_version (version INTEGER NOT NULL);
INSERT INTO schema_version (version) VALUES (1);
INSERT INTO schema_version (version) VALUES (2);

CREATE TABLE messages (
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

CREATE TABLE sync_state (
	folder_id    TEXT PRIMARY KEY,
	delta_link   TEXT,
	last_sync_at DATETIME
);

CREATE TABLE message_bodies (
	message_id   TEXT PRIMARY KEY,
	content_type TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE attachments (
	id           TEXT NOT NULL,
	message_id   TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	size         INTEGER NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (id, message_id)
);

INSERT INTO messages (id, folder_id, subject, sender_address, cached_at)
	VALUES ('m1', 'inbox', 'old subject', 'old@example.com', '2023-01-01 00:00:00');
INSERT INTO message_bodies (message_id, content_type, content)
	VALUES ('m1', 'text/plain', 'old body');
INSERT INTO attachments (id, message_id, name, size, content_type)
	VALUES ('a1', 'm1', 'plan.pdf', 1024, 'application/pdf');

-- dependents of a message that no longer exists
INSERT INTO message_bodies (message_id, content_type, content)
	VALUES ('ghost', 'text/plain', 'orphan body');
INSERT INTO attachments (id, message_id, name, size, content_type)
	VALUES ('a2', 'ghost', 'orphan.pdf', 2048, 'application/pdf');
`

func TestMigrateLegacyStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "legacy.db")

	raw, err := sqlx.Open("sqlite", path)
	require.NoError(t, err)
	_, err = raw.Exec(legacySchema)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	s, err := store.New(path)
	require.NoError(t, err)
	defer s.Close()

	// Previously stored rows survive the migration pass.
	m, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "old subject", m.Subject)

	body, err := s.GetMessageBody(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, body)
	assert.Equal(t, "old body", body.Content)

	atts, err := s.ListAttachments(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "plan.pdf", atts[0].Name)

	// Orphaned dependents of the ghost message were dropped by the
	// foreign-key retrofit.
	ghostBody, err := s.GetMessageBody(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, ghostBody)

	// Deleting the message now cascades.
	require.NoError(t, s.DeleteMessages(ctx, []string{"m1"}))

	body, err = s.GetMessageBody(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, body)

	atts, err = s.ListAttachments(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, atts)
}

func TestMigrateLegacyStoreIsOneShot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	raw, err := sqlx.Open("sqlite", path)
	require.NoError(t, err)
	_, err = raw.Exec(legacySchema)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	s, err := store.New(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// A second open finds the chain already applied.
	s, err = store.New(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestNewerSchemaRefused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.db")

	raw, err := sqlx.Open("sqlite", path)
	require.NoError(t, err)
	_, err = raw.Exec(`
		CREATE TABLE schema_version (version INTEGER NOT NULL);
		INSERT INTO schema_version (version) VALUES (99);`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	_, err = store.New(path)
	require.Error(t, err)
	assert.True(t, store.IsStorageError(err))
	assert.Contains(t, err.Error(), "newer")
}

func TestCloseIsIdempotentAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mail.db")

	s, err := store.New(path)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	s2, err := store.New(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestDeltaLinksAreFolderScoped(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	link, err := s.GetDeltaLink(ctx, "inbox")
	require.NoError(t, err)
	assert.Empty(t, link, "fresh folder has no baseline")

	require.NoError(t, s.SaveDeltaLink(ctx, "inbox", "cursor-inbox"))
	require.NoError(t, s.SaveDeltaLink(ctx, "sent", "cursor-sent"))

	require.NoError(t, s.ClearDeltaLink(ctx, "inbox"))

	link, err = s.GetDeltaLink(ctx, "inbox")
	require.NoError(t, err)
	assert.Empty(t, link)

	link, err = s.GetDeltaLink(ctx, "sent")
	require.NoError(t, err)
	assert.Equal(t, "cursor-sent", link, "clearing one folder must not touch another")

	state, err := s.GetSyncState(ctx, "sent")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "cursor-sent", state.DeltaLink)
	assert.False(t, state.LastSyncAt.IsZero())
}
