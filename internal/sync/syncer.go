package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tvu/mailcache/internal/mailapi"
	"github.com/tvu/mailcache/internal/model"
)

// defaultFallbackCount bounds a full fetch when the caller passes no count.
const defaultFallbackCount = 100

// ErrNoFolders is returned when a multi-folder operation receives an empty
// folder set. This is a programmer error, not a sync failure.
var ErrNoFolders = errors.New("sync: no folders given")

// Client is the slice of the protocol client the orchestrator needs.
type Client interface {
	FetchDelta(ctx context.Context, folderID string, cursor string) (*mailapi.DeltaResult, error)
	ListMessages(ctx context.Context, folderID string, opts mailapi.ListOptions) ([]model.Message, error)
	GetMessageBody(ctx context.Context, id string) (*model.MessageBody, error)
	MarkRead(ctx context.Context, id string, read bool) error
}

// Store is the slice of the cache store the orchestrator writes through.
type Store interface {
	UpsertMessages(ctx context.Context, folderID string, msgs []model.Message) error
	DeleteMessages(ctx context.Context, ids []string) error
	SaveMessageBody(ctx context.Context, body model.MessageBody) error
	MarkMessageRead(ctx context.Context, id string, read bool) error
	GetDeltaLink(ctx context.Context, folderID string) (string, error)
	SaveDeltaLink(ctx context.Context, folderID string, link string) error
	ClearDeltaLink(ctx context.Context, folderID string) error
}

// FolderResult is the outcome of one folder's sync cycle.
type FolderResult struct {
	FolderID   string
	Messages   []model.Message
	DeletedIDs []string
}

// FolderError records which folder a multi-folder failure belongs to.
type FolderError struct {
	FolderID string
	Err      error
}

func (e *FolderError) Error() string {
	return fmt.Sprintf("folder %s: %v", e.FolderID, e.Err)
}

func (e *FolderError) Unwrap() error { return e.Err }

// MultiFolderResult aggregates a fan-out sync: a flat combined view for
// cross-folder new-mail detection plus a per-folder breakdown. Errors holds
// the folders that failed; their siblings' results are still present.
type MultiFolderResult struct {
	Messages   []model.Message
	DeletedIDs []string
	PerFolder  map[string]*FolderResult
	Errors     []*FolderError
}

// Syncer reconciles local cache state with remote state, one folder at a
// time. Callers must serialize cycles per folder; concurrent reads against
// the store while a cycle runs are safe.
type Syncer struct {
	client Client
	store  Store
	logger *slog.Logger
}

// New creates a Syncer. A nil logger falls back to slog.Default().
func New(client Client, store Store, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{client: client, store: store, logger: logger}
}

// InitializeDeltaToken establishes a folder's delta baseline. If a cursor
// is already stored this is a no-op; otherwise one no-cursor delta fetch
// runs and its cursor is persisted. The baseline's items are discarded; the
// first real sync re-fetches them.
func (s *Syncer) InitializeDeltaToken(ctx context.Context, folderID string) error {
	link, err := s.store.GetDeltaLink(ctx, folderID)
	if err != nil {
		return err
	}
	if link != "" {
		return nil
	}

	res, err := s.client.FetchDelta(ctx, folderID, "")
	if err != nil {
		return fmt.Errorf("establishing delta baseline for folder %s: %w", folderID, err)
	}

	s.logger.Info("delta baseline established", "folder", folderID)
	return s.store.SaveDeltaLink(ctx, folderID, res.Cursor)
}

// SyncDeltaOnce runs one sync cycle for a folder. With a stored cursor it
// performs a delta fetch, writes additions through the cache, removes
// reported deletions, and only then advances the cursor. Without a cursor
// it falls back to a bounded full fetch. An expired cursor triggers the
// fallback plus a fresh baseline inside the same call, so the folder always
// ends with a valid cursor when one existed before.
func (s *Syncer) SyncDeltaOnce(
	ctx context.Context,
	folderID string,
	fallbackCount int,
) (*FolderResult, error) {
	if fallbackCount <= 0 {
		fallbackCount = defaultFallbackCount
	}

	link, err := s.store.GetDeltaLink(ctx, folderID)
	if err != nil {
		return nil, err
	}

	if link == "" {
		return s.fullFetch(ctx, folderID, fallbackCount)
	}

	res, err := s.client.FetchDelta(ctx, folderID, link)
	if err != nil {
		if mailapi.IsDeltaExpired(err) {
			return s.recoverExpiredCursor(ctx, folderID, fallbackCount)
		}
		return nil, err
	}

	if err := s.store.UpsertMessages(ctx, folderID, res.Messages); err != nil {
		return nil, err
	}
	if err := s.store.DeleteMessages(ctx, res.DeletedIDs); err != nil {
		return nil, err
	}
	// Cursor advances only after its data is committed.
	if err := s.store.SaveDeltaLink(ctx, folderID, res.Cursor); err != nil {
		return nil, err
	}

	s.logger.Debug("delta sync complete",
		"folder", folderID,
		"messages", len(res.Messages),
		"deleted", len(res.DeletedIDs))

	return &FolderResult{
		FolderID:   folderID,
		Messages:   res.Messages,
		DeletedIDs: res.DeletedIDs,
	}, nil
}

// fullFetch pulls the most recent fallbackCount messages and writes them
// through. No deletions are reported on this path.
func (s *Syncer) fullFetch(
	ctx context.Context,
	folderID string,
	fallbackCount int,
) (*FolderResult, error) {
	msgs, err := s.client.ListMessages(ctx, folderID, mailapi.ListOptions{Top: fallbackCount})
	if err != nil {
		return nil, err
	}
	if err := s.store.UpsertMessages(ctx, folderID, msgs); err != nil {
		return nil, err
	}

	s.logger.Debug("full fetch complete", "folder", folderID, "messages", len(msgs))
	return &FolderResult{FolderID: folderID, Messages: msgs}, nil
}

// recoverExpiredCursor handles the server discarding a folder's cursor: the
// stale cursor is cleared, a bounded full fetch repopulates the cache, and
// one no-cursor delta call re-establishes a fresh baseline. The expiry
// itself never surfaces to the caller.
func (s *Syncer) recoverExpiredCursor(
	ctx context.Context,
	folderID string,
	fallbackCount int,
) (*FolderResult, error) {
	s.logger.Info("delta cursor expired, falling back to full fetch", "folder", folderID)

	if err := s.store.ClearDeltaLink(ctx, folderID); err != nil {
		return nil, err
	}

	result, err := s.fullFetch(ctx, folderID, fallbackCount)
	if err != nil {
		return nil, err
	}

	baseline, err := s.client.FetchDelta(ctx, folderID, "")
	if err != nil {
		return nil, fmt.Errorf("re-establishing delta baseline for folder %s: %w", folderID, err)
	}
	if err := s.store.SaveDeltaLink(ctx, folderID, baseline.Cursor); err != nil {
		return nil, err
	}

	return result, nil
}

// InitializeDeltaTokens establishes baselines for an ordered, de-duplicated
// folder set with the primary folder first. One folder's failure does not
// stop its siblings; failures come back as FolderError entries.
func (s *Syncer) InitializeDeltaTokens(
	ctx context.Context,
	folders []string,
	primary string,
) ([]*FolderError, error) {
	ordered := orderFolders(folders, primary)
	if len(ordered) == 0 {
		return nil, ErrNoFolders
	}

	var errs []*FolderError
	for _, folderID := range ordered {
		if err := s.InitializeDeltaToken(ctx, folderID); err != nil {
			errs = append(errs, &FolderError{FolderID: folderID, Err: err})
		}
	}
	return errs, nil
}

// SyncDeltaForFolders runs one sync cycle for every folder in the set,
// primary first, collecting per-folder results and errors independently.
func (s *Syncer) SyncDeltaForFolders(
	ctx context.Context,
	folders []string,
	primary string,
	fallbackCount int,
) (*MultiFolderResult, error) {
	ordered := orderFolders(folders, primary)
	if len(ordered) == 0 {
		return nil, ErrNoFolders
	}

	result := &MultiFolderResult{
		PerFolder: make(map[string]*FolderResult, len(ordered)),
	}

	for _, folderID := range ordered {
		fr, err := s.SyncDeltaOnce(ctx, folderID, fallbackCount)
		if err != nil {
			s.logger.Warn("folder sync failed", "folder", folderID, "error", err)
			result.Errors = append(result.Errors, &FolderError{FolderID: folderID, Err: err})
			continue
		}
		result.PerFolder[folderID] = fr
		result.Messages = append(result.Messages, fr.Messages...)
		result.DeletedIDs = append(result.DeletedIDs, fr.DeletedIDs...)
	}

	return result, nil
}

// FetchBody lazily fetches a message's full body and writes it through the
// cache before returning it.
func (s *Syncer) FetchBody(ctx context.Context, messageID string) (*model.MessageBody, error) {
	body, err := s.client.GetMessageBody(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveMessageBody(ctx, *body); err != nil {
		return nil, err
	}
	return body, nil
}

// MarkRead flips a message's read flag remotely, then mirrors it locally.
func (s *Syncer) MarkRead(ctx context.Context, messageID string, read bool) error {
	if err := s.client.MarkRead(ctx, messageID, read); err != nil {
		return err
	}
	return s.store.MarkMessageRead(ctx, messageID, read)
}

// orderFolders returns the folder set de-duplicated and ordered with the
// primary folder first. Empty ids are dropped.
func orderFolders(folders []string, primary string) []string {
	seen := make(map[string]bool, len(folders)+1)
	ordered := make([]string, 0, len(folders)+1)

	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		ordered = append(ordered, id)
	}

	add(primary)
	for _, id := range folders {
		add(id)
	}
	return ordered
}
