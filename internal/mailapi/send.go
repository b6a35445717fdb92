package mailapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
)

// SendMail composes msg as an RFC 5322 message and posts it to the API's
// raw-send endpoint as base64. Send is a mutation and is never retried.
func (c *Client) SendMail(ctx context.Context, msg OutgoingMessage) error {
	if len(msg.To) == 0 {
		return &ProtocolError{Message: "outgoing message has no recipients"}
	}

	raw, err := composeMIME(msg)
	if err != nil {
		return fmt.Errorf("composing outgoing message: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(raw)
	u := c.baseURL + "/sendMail"
	if err := c.do(ctx, "POST", u, []byte(encoded), nil, false); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}

	return nil
}

// composeMIME renders an OutgoingMessage into RFC 5322 bytes.
func composeMIME(msg OutgoingMessage) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetSubject(msg.Subject)
	h.SetAddressList("From", []*mail.Address{
		{Name: msg.FromName, Address: msg.FromAddress},
	})
	h.SetAddressList("To", toAddressList(msg.To))
	if len(msg.Cc) > 0 {
		h.SetAddressList("Cc", toAddressList(msg.Cc))
	}

	contentType := msg.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		w.Close()
		return nil, fmt.Errorf("writing message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing message: %w", err)
	}

	return buf.Bytes(), nil
}

// toAddressList converts bare addresses into a mail address list.
func toAddressList(addrs []string) []*mail.Address {
	list := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		list = append(list, &mail.Address{Address: a})
	}
	return list
}
