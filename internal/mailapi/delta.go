package mailapi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// followPages walks a paginated response chain starting at first, invoking
// handle for each page. It fails fast on a repeated next-page pointer (a
// pagination cycle) and on exceeding the configured page ceiling. handle
// returns false to stop early.
func (c *Client) followPages(
	ctx context.Context,
	first string,
	handle func(page listResponse) (bool, error),
) error {
	visited := map[string]bool{first: true}
	next := first

	for pages := 0; ; pages++ {
		if pages >= c.opts.MaxPages {
			return &ProtocolError{Message: fmt.Sprintf(
				"page ceiling (%d) exceeded following %s", c.opts.MaxPages, first)}
		}

		var page listResponse
		if err := c.do(ctx, "GET", next, nil, &page, true); err != nil {
			return err
		}

		cont, err := handle(page)
		if err != nil {
			return err
		}
		if !cont || page.NextLink == "" {
			return nil
		}

		if visited[page.NextLink] {
			return &ProtocolError{Message: fmt.Sprintf(
				"pagination cycle detected at %s", page.NextLink)}
		}
		visited[page.NextLink] = true
		next = page.NextLink
	}
}

// FetchDelta performs one delta fetch for a folder. An empty cursor asks the
// server for a full baseline; otherwise cursor is the opaque delta link from
// a previous call. The result carries added/updated messages, remotely
// deleted ids, and the new cursor issued at end-of-stream. A server that has
// discarded the cursor yields a DeltaExpiredError so the caller can fall
// back to a full fetch.
func (c *Client) FetchDelta(
	ctx context.Context,
	folderID string,
	cursor string,
) (*DeltaResult, error) {
	first := cursor
	if first == "" {
		q := url.Values{}
		q.Set("top", fmt.Sprintf("%d", c.opts.PageSize))
		first = fmt.Sprintf("%s/folders/%s/messages/delta?%s",
			c.baseURL, url.PathEscape(folderID), q.Encode())
	}

	now := time.Now().UTC()
	result := &DeltaResult{}

	err := c.followPages(ctx, first, func(page listResponse) (bool, error) {
		for _, w := range page.Value {
			if w.ID == "" {
				return false, &ProtocolError{Message: fmt.Sprintf(
					"delta stream for folder %s returned an item without an id", folderID)}
			}
			if w.isDeleted() {
				result.DeletedIDs = append(result.DeletedIDs, w.ID)
				continue
			}
			result.Messages = append(result.Messages, messageToModel(w, now))
		}
		if page.DeltaLink != "" {
			result.Cursor = page.DeltaLink
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		if errors.Is(err, errGone) {
			c.logger.Info("delta cursor expired", "folder", folderID)
			return nil, &DeltaExpiredError{FolderID: folderID}
		}
		return nil, err
	}

	if result.Cursor == "" {
		return nil, &ProtocolError{Message: fmt.Sprintf(
			"delta stream for folder %s ended without a new cursor", folderID)}
	}

	return result, nil
}
