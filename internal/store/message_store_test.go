package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvu/mailcache/internal/model"
	"github.com/tvu/mailcache/internal/store"
	"github.com/tvu/mailcache/tests/testutil"
)

func testMessage(id, folder, subject string) model.Message {
	return model.Message{
		ID:            id,
		FolderID:      folder,
		Subject:       subject,
		SenderName:    "Dana Estimator",
		SenderAddress: "dana@buildco.com",
		ReceivedAt:    time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC),
		Preview:       "quote attached",
		Importance:    "normal",
		To:            []model.Recipient{{Name: "Pat", Address: "Pat@Example.COM"}},
		CC:            []model.Recipient{{Name: "Sam", Address: "sam@example.com"}},
	}
}

func TestUpsertMessagesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	batch := []model.Message{
		testMessage("m1", "inbox", "first"),
		testMessage("m2", "inbox", "second"),
	}

	require.NoError(t, s.UpsertMessages(ctx, "inbox", batch))
	require.NoError(t, s.UpsertMessages(ctx, "inbox", batch))

	msgs, err := s.ListMessages(ctx, store.ListOptions{FolderID: "inbox"})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	m, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "first", m.Subject)
	require.Len(t, m.To, 1, "recipient rows are replaced, not accumulated")
	require.Len(t, m.CC, 1)
	assert.Equal(t, "pat@example.com", m.To[0].Address, "addresses are lower-cased")
}

func TestUpsertOverwritesAllFieldsButCompanyLabel(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	require.NoError(t, s.UpsertMessages(ctx, "inbox",
		[]model.Message{testMessage("m1", "inbox", "original")}))
	require.NoError(t, s.SetCompanyLabel(ctx, "m1", "BuildCo"))

	// A fresh fetch of the same id carries no label.
	updated := testMessage("m1", "inbox", "updated subject")
	updated.IsRead = true
	require.NoError(t, s.UpsertMessages(ctx, "inbox", []model.Message{updated}))

	m, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "updated subject", m.Subject)
	assert.True(t, m.IsRead)
	assert.Equal(t, "BuildCo", m.CompanyLabel, "label survives resync")

	// Explicit clearing works.
	require.NoError(t, s.SetCompanyLabel(ctx, "m1", ""))
	m, err = s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, m.CompanyLabel)
}

func TestDeleteMessagesChunksLargeBatches(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	// Larger than the statement parameter chunk size.
	const n = 1200
	batch := make([]model.Message, 0, n)
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("m%04d", i)
		batch = append(batch, testMessage(id, "inbox", "bulk"))
		ids = append(ids, id)
	}
	require.NoError(t, s.UpsertMessages(ctx, "inbox", batch))

	// Listing the whole folder loads recipients for more ids than fit in
	// one statement's parameter list.
	msgs, err := s.ListMessages(ctx, store.ListOptions{FolderID: "inbox"})
	require.NoError(t, err)
	require.Len(t, msgs, n)
	assert.Len(t, msgs[0].To, 1)

	require.NoError(t, s.SaveMessageBody(ctx, model.MessageBody{
		MessageID: "m0000", ContentType: "text/plain", Content: "hello",
	}))

	require.NoError(t, s.DeleteMessages(ctx, ids))

	msgs, err = s.ListMessages(ctx, store.ListOptions{FolderID: "inbox"})
	require.NoError(t, err)
	assert.Empty(t, msgs)

	body, err := s.GetMessageBody(ctx, "m0000")
	require.NoError(t, err)
	assert.Nil(t, body, "cascade removes dependent rows")
}

func TestMessageBodyRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	require.NoError(t, s.UpsertMessages(ctx, "inbox",
		[]model.Message{testMessage("m1", "inbox", "with body")}))

	body, err := s.GetMessageBody(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, body, "body is absent until fetched lazily")

	require.NoError(t, s.SaveMessageBody(ctx, model.MessageBody{
		MessageID: "m1", ContentType: "text/html", Content: "<p>full content</p>",
	}))
	require.NoError(t, s.SaveMessageBody(ctx, model.MessageBody{
		MessageID: "m1", ContentType: "text/html", Content: "<p>newer content</p>",
	}))

	body, err = s.GetMessageBody(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, body)
	assert.Equal(t, "<p>newer content</p>", body.Content)
}

func TestSaveAttachmentsReplaces(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	require.NoError(t, s.UpsertMessages(ctx, "inbox",
		[]model.Message{testMessage("m1", "inbox", "attached")}))

	require.NoError(t, s.SaveAttachments(ctx, "m1", []model.Attachment{
		{ID: "a1", Name: "old.pdf", Size: 10, ContentType: "application/pdf"},
	}))
	require.NoError(t, s.SaveAttachments(ctx, "m1", []model.Attachment{
		{ID: "a2", Name: "new.pdf", Size: 20, ContentType: "application/pdf"},
		{ID: "a3", Name: "specs.xlsx", Size: 30, ContentType: "application/vnd.ms-excel"},
	}))

	atts, err := s.ListAttachments(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, atts, 2)
	assert.Equal(t, "new.pdf", atts[0].Name)
}

func TestListMessagesFilters(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	read := testMessage("m1", "inbox", "read one")
	read.IsRead = true
	unread := testMessage("m2", "inbox", "unread one")
	unread.ReceivedAt = read.ReceivedAt.Add(time.Hour)
	other := testMessage("m3", "sent", "other folder")

	require.NoError(t, s.UpsertMessages(ctx, "", []model.Message{read, unread, other}))

	msgs, err := s.ListMessages(ctx, store.ListOptions{FolderID: "inbox"})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[0].ID, "newest first")

	msgs, err = s.ListMessages(ctx, store.ListOptions{FolderID: "inbox", UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m2", msgs[0].ID)

	msgs, err = s.ListMessages(ctx, store.ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestMarkMessageRead(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	require.NoError(t, s.UpsertMessages(ctx, "inbox",
		[]model.Message{testMessage("m1", "inbox", "to read")}))

	require.NoError(t, s.MarkMessageRead(ctx, "m1", true))

	m, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, m.IsRead)
}
