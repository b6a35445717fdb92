package mailapi

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/tvu/mailcache/internal/model"
)

// ListMessages retrieves up to opts.Top messages for a folder, newest first,
// following server pagination. A zero Top fetches one page ceiling's worth.
func (c *Client) ListMessages(
	ctx context.Context,
	folderID string,
	opts ListOptions,
) ([]model.Message, error) {
	top := opts.Top
	if top <= 0 {
		top = c.opts.PageSize * c.opts.MaxPages
	}

	pageSize := c.opts.PageSize
	if top < pageSize {
		pageSize = top
	}

	q := url.Values{}
	q.Set("top", fmt.Sprintf("%d", pageSize))
	q.Set("orderBy", "receivedAt desc")
	if opts.Search != "" {
		q.Set("search", opts.Search)
	}
	first := fmt.Sprintf("%s/folders/%s/messages?%s",
		c.baseURL, url.PathEscape(folderID), q.Encode())

	now := time.Now().UTC()
	var messages []model.Message

	err := c.followPages(ctx, first, func(page listResponse) (bool, error) {
		for _, w := range page.Value {
			if w.ID == "" {
				return false, &ProtocolError{Message: fmt.Sprintf(
					"listing for folder %s returned an item without an id", folderID)}
			}
			messages = append(messages, messageToModel(w, now))
			if len(messages) >= top {
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	return messages, nil
}

// GetMessage fetches a single message by id.
func (c *Client) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var w wireMessage
	u := fmt.Sprintf("%s/messages/%s", c.baseURL, url.PathEscape(id))
	if err := c.do(ctx, "GET", u, nil, &w, true); err != nil {
		return nil, fmt.Errorf("fetching message %s: %w", id, err)
	}
	if w.ID == "" {
		return nil, &ProtocolError{Message: fmt.Sprintf(
			"message %s returned without an id", id)}
	}
	m := messageToModel(w, time.Now().UTC())
	return &m, nil
}

// GetMessageBody fetches the full body content for a message. Bodies are
// requested lazily, only when a message is opened.
func (c *Client) GetMessageBody(ctx context.Context, id string) (*model.MessageBody, error) {
	var resp bodyResponse
	u := fmt.Sprintf("%s/messages/%s/body", c.baseURL, url.PathEscape(id))
	if err := c.do(ctx, "GET", u, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("fetching body for message %s: %w", id, err)
	}
	return &model.MessageBody{
		MessageID:   id,
		ContentType: resp.ContentType,
		Content:     resp.Content,
	}, nil
}

// ListAttachments fetches attachment metadata for a message. Content bytes
// are a separate on-demand call.
func (c *Client) ListAttachments(ctx context.Context, messageID string) ([]model.Attachment, error) {
	var resp attachmentListResponse
	u := fmt.Sprintf("%s/messages/%s/attachments", c.baseURL, url.PathEscape(messageID))
	if err := c.do(ctx, "GET", u, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("listing attachments for message %s: %w", messageID, err)
	}

	attachments := make([]model.Attachment, 0, len(resp.Value))
	for _, a := range resp.Value {
		attachments = append(attachments, model.Attachment{
			ID:          a.ID,
			MessageID:   messageID,
			Name:        a.Name,
			Size:        a.Size,
			ContentType: a.ContentType,
		})
	}
	return attachments, nil
}

// GetAttachmentContent fetches the raw content bytes of one attachment.
func (c *Client) GetAttachmentContent(
	ctx context.Context,
	messageID string,
	attachmentID string,
) ([]byte, error) {
	var content []byte
	u := fmt.Sprintf("%s/messages/%s/attachments/%s/content",
		c.baseURL, url.PathEscape(messageID), url.PathEscape(attachmentID))
	if err := c.do(ctx, "GET", u, nil, &content, true); err != nil {
		return nil, fmt.Errorf("fetching attachment %s content: %w", attachmentID, err)
	}
	return content, nil
}

// MarkRead flips the read flag on a message. Mutations are never retried on
// transport failure.
func (c *Client) MarkRead(ctx context.Context, id string, read bool) error {
	body := []byte(fmt.Sprintf(`{"isRead":%t}`, read))
	u := fmt.Sprintf("%s/messages/%s", c.baseURL, url.PathEscape(id))
	if err := c.do(ctx, "PATCH", u, body, nil, false); err != nil {
		return fmt.Errorf("marking message %s read=%t: %w", id, read, err)
	}
	return nil
}
