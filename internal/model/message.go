package model

import "time"

// RecipientRole distinguishes the addressing line a recipient appeared on.
type RecipientRole string

const (
	RoleTo RecipientRole = "to"
	RoleCC RecipientRole = "cc"
)

// Recipient is a single (address, display name) pair from a message's
// to/cc lists. Addresses are lower-cased by the store at write time.
type Recipient struct {
	Name    string
	Address string
}

// Message is the cached form of one remote mail item. The remote id is the
// primary key; re-saving the same id overwrites every field except
// CompanyLabel, which is user-assigned and survives resyncs.
type Message struct {
	ID             string
	FolderID       string
	Subject        string
	SenderName     string
	SenderAddress  string
	ReceivedAt     time.Time
	IsRead         bool
	HasAttachments bool
	Preview        string
	Importance     string
	CompanyLabel   string
	CachedAt       time.Time

	To []Recipient
	CC []Recipient
}

// MessageBody is the full body content for one message, fetched lazily when
// the message is opened. The short preview lives on Message instead.
type MessageBody struct {
	MessageID   string
	ContentType string
	Content     string
}

// Attachment holds attachment metadata only; content bytes are fetched on
// demand and never persisted.
type Attachment struct {
	ID          string
	MessageID   string
	Name        string
	Size        int64
	ContentType string
}

// SyncState is the per-folder synchronization bookmark. An empty DeltaLink
// means no incremental baseline exists and a full fetch is required.
type SyncState struct {
	FolderID   string
	DeltaLink  string
	LastSyncAt time.Time
}
