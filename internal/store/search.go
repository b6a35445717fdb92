package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/tvu/mailcache/internal/model"
)

// companyQueryKind classifies a company search query.
type companyQueryKind int

const (
	// queryExactAddress matches sender/recipient address exactly.
	queryExactAddress companyQueryKind = iota
	// queryDomain matches addresses ending in @<domain>.
	queryDomain
	// queryFreeText substring-matches names and addresses.
	queryFreeText
)

// classifyCompanyQuery decides how a company search term should match: an
// exact address (contains "@", no spaces), a bare domain (contains ".", no
// "@" or spaces), or free text.
func classifyCompanyQuery(q string) companyQueryKind {
	if strings.ContainsAny(q, " \t") {
		return queryFreeText
	}
	if strings.Contains(q, "@") {
		return queryExactAddress
	}
	if strings.Contains(q, ".") {
		return queryDomain
	}
	return queryFreeText
}

// SearchMessages finds cached messages matching the query across subject,
// preview, sender name/address, recipient address, and any cached body
// content. The indexed full-text backend is used when available; otherwise
// an equivalent pattern-match scan runs. Results are newest first.
func (s *SQLiteStore) SearchMessages(
	ctx context.Context,
	query string,
	folderID string,
	limit int,
) ([]model.Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	cond, args := s.textSearchCondition(ctx, query)

	sqlQuery := "SELECT " + messageColumns + " FROM messages m WHERE " + cond
	if folderID != "" {
		sqlQuery += " AND m.folder_id = ?"
		args = append(args, folderID)
	}
	sqlQuery += fmt.Sprintf(" ORDER BY m.received_at DESC LIMIT %d", limit)

	return s.queryMessages(ctx, "searching messages", sqlQuery, args...)
}

// SearchCompanyMessages finds messages for a company query: an exact
// address, an address-domain suffix, or a name/address substring. An
// optional searchText narrows the result with a full-text (or fallback)
// match. The result set is not truncated; callers needing bounds should
// use SearchMessages.
func (s *SQLiteStore) SearchCompanyMessages(
	ctx context.Context,
	query string,
	searchText string,
) ([]model.Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	lower := strings.ToLower(query)

	var (
		cond string
		args []interface{}
	)

	switch classifyCompanyQuery(query) {
	case queryExactAddress:
		cond = `(LOWER(m.sender_address) = ?
			OR EXISTS (SELECT 1 FROM recipients r
				WHERE r.message_id = m.id AND r.address = ?))`
		args = append(args, lower, lower)

	case queryDomain:
		suffix := "%@" + lower
		cond = `(LOWER(m.sender_address) LIKE ?
			OR EXISTS (SELECT 1 FROM recipients r
				WHERE r.message_id = m.id AND r.address LIKE ?))`
		args = append(args, suffix, suffix)

	default:
		like := "%" + lower + "%"
		cond = `(m.sender_name LIKE ? OR m.sender_address LIKE ?
			OR EXISTS (SELECT 1 FROM recipients r
				WHERE r.message_id = m.id
				AND (r.address LIKE ? OR r.display_name LIKE ?)))`
		args = append(args, like, like, like, like)
	}

	sqlQuery := "SELECT " + messageColumns + " FROM messages m WHERE " + cond

	if text := strings.TrimSpace(searchText); text != "" {
		textCond, textArgs := s.textSearchCondition(ctx, text)
		sqlQuery += " AND " + textCond
		args = append(args, textArgs...)
	}

	sqlQuery += " ORDER BY m.received_at DESC"

	return s.queryMessages(ctx, "searching company messages", sqlQuery, args...)
}

// textSearchCondition builds the full-text match condition for a query,
// preferring the fts5 index and falling back to LIKE scans over the same
// fields. Both paths produce the same matches; only ranking may differ.
func (s *SQLiteStore) textSearchCondition(
	ctx context.Context,
	text string,
) (string, []interface{}) {
	like := "%" + text + "%"

	if s.ftsAvailable(ctx) {
		cond := `m.id IN (
			SELECT message_id FROM messages_fts WHERE messages_fts MATCH ?
			UNION
			SELECT message_id FROM recipients WHERE address LIKE ?)`
		return cond, []interface{}{ftsMatchExpr(text), like}
	}

	cond := `(m.subject LIKE ? OR m.preview LIKE ?
		OR m.sender_name LIKE ? OR m.sender_address LIKE ?
		OR EXISTS (SELECT 1 FROM recipients r
			WHERE r.message_id = m.id AND r.address LIKE ?)
		OR EXISTS (SELECT 1 FROM message_bodies b
			WHERE b.message_id = m.id AND b.content LIKE ?))`
	return cond, []interface{}{like, like, like, like, like, like}
}

// ftsMatchExpr converts free text into an fts5 MATCH expression, quoting
// each term so punctuation cannot be misread as query syntax.
func ftsMatchExpr(text string) string {
	terms := strings.Fields(text)
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.ReplaceAll(term, `"`, `""`)
		quoted = append(quoted, `"`+term+`"`)
	}
	return strings.Join(quoted, " ")
}
