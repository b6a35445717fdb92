package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/tvu/mailcache/internal/model"
)

// StorageError wraps any persistence failure surfaced by the store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err (or any error in its chain) is a
// StorageError.
func IsStorageError(err error) bool {
	var sErr *StorageError
	return errors.As(err, &sErr)
}

// storageErr wraps err as a StorageError for operation op.
func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// ListOptions controls filtering and pagination for message listing.
type ListOptions struct {
	FolderID   string
	UnreadOnly bool
	Limit      int
	Offset     int
}

// Store defines the persistence interface for the mail cache: messages with
// their recipients, lazily fetched bodies, attachment metadata, per-folder
// delta cursors, and search.
type Store interface {
	// Messages

	UpsertMessages(ctx context.Context, folderID string, msgs []model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	ListMessages(ctx context.Context, opts ListOptions) ([]model.Message, error)
	DeleteMessages(ctx context.Context, ids []string) error
	SetCompanyLabel(ctx context.Context, id string, label string) error
	MarkMessageRead(ctx context.Context, id string, read bool) error

	// Bodies and attachments

	SaveMessageBody(ctx context.Context, body model.MessageBody) error
	GetMessageBody(ctx context.Context, messageID string) (*model.MessageBody, error)
	SaveAttachments(ctx context.Context, messageID string, atts []model.Attachment) error
	ListAttachments(ctx context.Context, messageID string) ([]model.Attachment, error)

	// Search

	SearchMessages(ctx context.Context, query string, folderID string, limit int) ([]model.Message, error)
	SearchCompanyMessages(ctx context.Context, query string, searchText string) ([]model.Message, error)

	// Delta cursors, scoped strictly to one folder each

	GetDeltaLink(ctx context.Context, folderID string) (string, error)
	SaveDeltaLink(ctx context.Context, folderID string, link string) error
	ClearDeltaLink(ctx context.Context, folderID string) error
	GetSyncState(ctx context.Context, folderID string) (*model.SyncState, error)

	// Lifecycle

	Close() error
}
