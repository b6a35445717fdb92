package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tvu/mailcache/internal/model"
)

// idChunkSize keeps id IN (...) lists under the SQLite bound-parameter
// ceiling.
const idChunkSize = 500

// messageColumns is the select list for message queries, aliased to m.
const messageColumns = `m.id, m.folder_id, m.subject, m.sender_name, m.sender_address,
	m.received_at, m.is_read, m.has_attachments, m.preview, m.importance,
	m.company_label, m.cached_at`

// messageRow mirrors one messages table row for sqlx scanning.
type messageRow struct {
	ID             string       `db:"id"`
	FolderID       string       `db:"folder_id"`
	Subject        string       `db:"subject"`
	SenderName     string       `db:"sender_name"`
	SenderAddress  string       `db:"sender_address"`
	ReceivedAt     sql.NullTime `db:"received_at"`
	IsRead         int          `db:"is_read"`
	HasAttachments int          `db:"has_attachments"`
	Preview        string       `db:"preview"`
	Importance     string       `db:"importance"`
	CompanyLabel   string       `db:"company_label"`
	CachedAt       time.Time    `db:"cached_at"`
}

func (r messageRow) toModel() model.Message {
	return model.Message{
		ID:             r.ID,
		FolderID:       r.FolderID,
		Subject:        r.Subject,
		SenderName:     r.SenderName,
		SenderAddress:  r.SenderAddress,
		ReceivedAt:     r.ReceivedAt.Time,
		IsRead:         r.IsRead != 0,
		HasAttachments: r.HasAttachments != 0,
		Preview:        r.Preview,
		Importance:     r.Importance,
		CompanyLabel:   r.CompanyLabel,
		CachedAt:       r.CachedAt,
	}
}

// UpsertMessages inserts or replaces a batch of messages for one folder in
// a single transaction. An existing row's company label survives the
// rewrite; recipient rows are replaced wholesale.
func (s *SQLiteStore) UpsertMessages(
	ctx context.Context,
	folderID string,
	msgs []model.Message,
) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr("beginning upsert transaction", err)
	}
	defer tx.Rollback()

	const upsert = `
		INSERT INTO messages (
			id, folder_id, subject, sender_name, sender_address,
			received_at, is_read, has_attachments, preview, importance,
			company_label, cached_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?)
		ON CONFLICT(id) DO UPDATE SET
			folder_id = excluded.folder_id,
			subject = excluded.subject,
			sender_name = excluded.sender_name,
			sender_address = excluded.sender_address,
			received_at = excluded.received_at,
			is_read = excluded.is_read,
			has_attachments = excluded.has_attachments,
			preview = excluded.preview,
			importance = excluded.importance,
			cached_at = excluded.cached_at`

	stmt, err := tx.PreparexContext(ctx, upsert)
	if err != nil {
		return storageErr("preparing upsert statement", err)
	}
	defer stmt.Close()

	delRecipients, err := tx.PreparexContext(ctx,
		"DELETE FROM recipients WHERE message_id = ?")
	if err != nil {
		return storageErr("preparing recipient delete", err)
	}
	defer delRecipients.Close()

	insRecipient, err := tx.PreparexContext(ctx, `
		INSERT OR IGNORE INTO recipients (message_id, role, address, display_name)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return storageErr("preparing recipient insert", err)
	}
	defer insRecipient.Close()

	for _, m := range msgs {
		folder := m.FolderID
		if folder == "" {
			folder = folderID
		}
		cachedAt := m.CachedAt
		if cachedAt.IsZero() {
			cachedAt = time.Now().UTC()
		}

		_, err = stmt.ExecContext(ctx,
			m.ID, folder, m.Subject, m.SenderName, m.SenderAddress,
			m.ReceivedAt.UTC(), boolToInt(m.IsRead), boolToInt(m.HasAttachments),
			m.Preview, m.Importance, cachedAt.UTC(),
		)
		if err != nil {
			return storageErr(fmt.Sprintf("upserting message %s", m.ID), err)
		}

		if _, err := delRecipients.ExecContext(ctx, m.ID); err != nil {
			return storageErr(fmt.Sprintf("clearing recipients for message %s", m.ID), err)
		}
		for _, r := range m.To {
			if err := insertRecipient(ctx, insRecipient, m.ID, model.RoleTo, r); err != nil {
				return err
			}
		}
		for _, r := range m.CC {
			if err := insertRecipient(ctx, insRecipient, m.ID, model.RoleCC, r); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("committing upsert", err)
	}
	return nil
}

// insertRecipient writes one recipient row with its address lower-cased for
// matching.
func insertRecipient(
	ctx context.Context,
	stmt *sqlx.Stmt,
	messageID string,
	role model.RecipientRole,
	r model.Recipient,
) error {
	addr := strings.ToLower(strings.TrimSpace(r.Address))
	if addr == "" {
		return nil
	}
	if _, err := stmt.ExecContext(ctx, messageID, string(role), addr, r.Name); err != nil {
		return storageErr(fmt.Sprintf("inserting recipient for message %s", messageID), err)
	}
	return nil
}

// GetMessage retrieves a single message with its recipients, or nil when
// the id is not cached.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+messageColumns+" FROM messages m WHERE m.id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(fmt.Sprintf("getting message %s", id), err)
	}

	m := row.toModel()
	if err := s.attachRecipients(ctx, []*model.Message{&m}); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages retrieves cached messages matching the options, newest
// first.
func (s *SQLiteStore) ListMessages(ctx context.Context, opts ListOptions) ([]model.Message, error) {
	var conditions []string
	var args []interface{}

	if opts.FolderID != "" {
		conditions = append(conditions, "m.folder_id = ?")
		args = append(args, opts.FolderID)
	}
	if opts.UnreadOnly {
		conditions = append(conditions, "m.is_read = 0")
	}

	query := "SELECT " + messageColumns + " FROM messages m"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY m.received_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	return s.queryMessages(ctx, "listing messages", query, args...)
}

// DeleteMessages removes the given ids and, via cascade, their recipients,
// bodies, and attachment rows. Large batches are chunked to stay under the
// bound-parameter ceiling while remaining one transaction.
func (s *SQLiteStore) DeleteMessages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr("beginning delete transaction", err)
	}
	defer tx.Rollback()

	for start := 0; start < len(ids); start += idChunkSize {
		end := start + idChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		query, args, err := sqlx.In("DELETE FROM messages WHERE id IN (?)", chunk)
		if err != nil {
			return storageErr("building delete query", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return storageErr("deleting messages", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("committing delete", err)
	}
	return nil
}

// SetCompanyLabel assigns (or, with an empty label, clears) the
// user-assigned company grouping for a message.
func (s *SQLiteStore) SetCompanyLabel(ctx context.Context, id string, label string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE messages SET company_label = ? WHERE id = ?", label, id)
	if err != nil {
		return storageErr(fmt.Sprintf("setting company label on message %s", id), err)
	}
	return nil
}

// MarkMessageRead mirrors the remote read flag locally.
func (s *SQLiteStore) MarkMessageRead(ctx context.Context, id string, read bool) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE messages SET is_read = ? WHERE id = ?", boolToInt(read), id)
	if err != nil {
		return storageErr(fmt.Sprintf("marking message %s read", id), err)
	}
	return nil
}

// SaveMessageBody stores the full body content fetched for one message.
func (s *SQLiteStore) SaveMessageBody(ctx context.Context, body model.MessageBody) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_bodies (message_id, content_type, content)
		VALUES (?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			content_type = excluded.content_type,
			content = excluded.content`,
		body.MessageID, body.ContentType, body.Content,
	)
	if err != nil {
		return storageErr(fmt.Sprintf("saving body for message %s", body.MessageID), err)
	}
	return nil
}

// GetMessageBody returns the cached body for a message, or nil when the
// body has not been fetched yet.
func (s *SQLiteStore) GetMessageBody(ctx context.Context, messageID string) (*model.MessageBody, error) {
	var body model.MessageBody
	row := s.db.QueryRowxContext(ctx,
		"SELECT message_id, content_type, content FROM message_bodies WHERE message_id = ?",
		messageID)
	err := row.Scan(&body.MessageID, &body.ContentType, &body.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(fmt.Sprintf("getting body for message %s", messageID), err)
	}
	return &body, nil
}

// SaveAttachments replaces the attachment metadata rows for one message.
// Content bytes are never persisted.
func (s *SQLiteStore) SaveAttachments(
	ctx context.Context,
	messageID string,
	atts []model.Attachment,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr("beginning attachment transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM attachments WHERE message_id = ?", messageID); err != nil {
		return storageErr(fmt.Sprintf("clearing attachments for message %s", messageID), err)
	}

	for _, a := range atts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attachments (id, message_id, name, size, content_type)
			VALUES (?, ?, ?, ?, ?)`,
			a.ID, messageID, a.Name, a.Size, a.ContentType,
		)
		if err != nil {
			return storageErr(fmt.Sprintf("inserting attachment %s", a.ID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("committing attachments", err)
	}
	return nil
}

// ListAttachments returns the attachment metadata cached for a message.
func (s *SQLiteStore) ListAttachments(ctx context.Context, messageID string) ([]model.Attachment, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, message_id, name, size, content_type
		FROM attachments WHERE message_id = ? ORDER BY name`,
		messageID)
	if err != nil {
		return nil, storageErr(fmt.Sprintf("listing attachments for message %s", messageID), err)
	}
	defer rows.Close()

	var atts []model.Attachment
	for rows.Next() {
		var a model.Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.Name, &a.Size, &a.ContentType); err != nil {
			return nil, storageErr("scanning attachment row", err)
		}
		atts = append(atts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("reading attachment rows", err)
	}
	return atts, nil
}

// queryMessages runs a message select and attaches recipients to the
// results.
func (s *SQLiteStore) queryMessages(
	ctx context.Context,
	op string,
	query string,
	args ...interface{},
) ([]model.Message, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var row messageRow
		if err := rows.StructScan(&row); err != nil {
			return nil, storageErr("scanning message row", err)
		}
		msgs = append(msgs, row.toModel())
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}

	ptrs := make([]*model.Message, len(msgs))
	for i := range msgs {
		ptrs[i] = &msgs[i]
	}
	if err := s.attachRecipients(ctx, ptrs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// attachRecipients loads recipient rows for the given messages and
// distributes them onto the To/CC lists. Unbounded result sets (company
// search) can exceed the bound-parameter ceiling, so the id list is chunked.
func (s *SQLiteStore) attachRecipients(ctx context.Context, msgs []*model.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	ids := make([]string, 0, len(msgs))
	byID := make(map[string]*model.Message, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
		byID[m.ID] = m
	}

	for start := 0; start < len(ids); start += idChunkSize {
		end := start + idChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := s.loadRecipientChunk(ctx, ids[start:end], byID); err != nil {
			return err
		}
	}
	return nil
}

// loadRecipientChunk runs one recipients query for a bounded id list.
func (s *SQLiteStore) loadRecipientChunk(
	ctx context.Context,
	ids []string,
	byID map[string]*model.Message,
) error {
	query, args, err := sqlx.In(`
		SELECT message_id, role, address, display_name
		FROM recipients WHERE message_id IN (?)`, ids)
	if err != nil {
		return storageErr("building recipient query", err)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return storageErr("loading recipients", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			messageID string
			role      string
			address   string
			name      string
		)
		if err := rows.Scan(&messageID, &role, &address, &name); err != nil {
			return storageErr("scanning recipient row", err)
		}
		m, ok := byID[messageID]
		if !ok {
			continue
		}
		r := model.Recipient{Name: name, Address: address}
		if role == string(model.RoleCC) {
			m.CC = append(m.CC, r)
		} else {
			m.To = append(m.To, r)
		}
	}
	if err := rows.Err(); err != nil {
		return storageErr("reading recipient rows", err)
	}
	return nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
