package mailapi

import (
	"strings"
	"time"

	"github.com/tvu/mailcache/internal/model"
)

// wireRecipient is one entry of a message's to/cc lists.
type wireRecipient struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// wireRemoved annotates a delta entry whose item was deleted remotely.
type wireRemoved struct {
	Reason string `json:"reason"`
}

// wireMessage is a single mail item as the remote API serializes it. In a
// delta stream, deleted items carry only an id and a removed annotation.
type wireMessage struct {
	ID             string          `json:"id"`
	FolderID       string          `json:"folderId"`
	Subject        string          `json:"subject"`
	From           *wireRecipient  `json:"from"`
	ToRecipients   []wireRecipient `json:"toRecipients"`
	CcRecipients   []wireRecipient `json:"ccRecipients"`
	ReceivedAt     string          `json:"receivedAt"`
	IsRead         bool            `json:"isRead"`
	HasAttachments bool            `json:"hasAttachments"`
	Preview        string          `json:"preview"`
	Importance     string          `json:"importance"`
	Removed        *wireRemoved    `json:"removed,omitempty"`
}

// listResponse is one page of a listing or delta call. NextLink points at
// the next page; DeltaLink appears only on the final page of a delta stream.
type listResponse struct {
	Value     []wireMessage `json:"value"`
	NextLink  string        `json:"nextLink,omitempty"`
	DeltaLink string        `json:"deltaLink,omitempty"`
}

// bodyResponse is the full body content of one message.
type bodyResponse struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// wireAttachment is attachment metadata; content is a separate endpoint.
type wireAttachment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

// attachmentListResponse wraps the attachment metadata list.
type attachmentListResponse struct {
	Value []wireAttachment `json:"value"`
}

// errorResponse is the remote API's error envelope.
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// DeltaResult is the outcome of one delta fetch: added/updated messages,
// remotely deleted ids, and the cursor to present next time.
type DeltaResult struct {
	Messages   []model.Message
	DeletedIDs []string
	Cursor     string
}

// ListOptions controls a listing call.
type ListOptions struct {
	// Top bounds the total number of items returned; zero means the
	// configured page size times the page ceiling.
	Top int

	// Search is an optional server-side filter expression.
	Search string
}

// OutgoingMessage describes a message to send.
type OutgoingMessage struct {
	FromName    string
	FromAddress string
	To          []string
	Cc          []string
	Subject     string
	Body        string
	ContentType string // "text/plain" or "text/html"; defaults to text/plain
}

// messageToModel converts a wire message into the cached domain form,
// normalizing the received timestamp and recipient lists.
func messageToModel(w wireMessage, now time.Time) model.Message {
	m := model.Message{
		ID:             w.ID,
		FolderID:       w.FolderID,
		Subject:        w.Subject,
		ReceivedAt:     parseTimestamp(w.ReceivedAt),
		IsRead:         w.IsRead,
		HasAttachments: w.HasAttachments,
		Preview:        w.Preview,
		Importance:     w.Importance,
		CachedAt:       now,
	}
	if m.Importance == "" {
		m.Importance = "normal"
	}
	if w.From != nil {
		m.SenderName = w.From.Name
		m.SenderAddress = w.From.Address
	}
	for _, r := range w.ToRecipients {
		m.To = append(m.To, model.Recipient{Name: r.Name, Address: r.Address})
	}
	for _, r := range w.CcRecipients {
		m.CC = append(m.CC, model.Recipient{Name: r.Name, Address: r.Address})
	}
	return m
}

// parseTimestamp parses an ISO-8601 timestamp, tolerating a missing zone
// offset. Unparseable values come back as the zero time rather than failing
// the whole page.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// isDeleted reports whether a delta entry represents a remote deletion.
func (w wireMessage) isDeleted() bool {
	return w.Removed != nil && !strings.EqualFold(w.Removed.Reason, "changed")
}
