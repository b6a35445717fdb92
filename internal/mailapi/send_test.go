package mailapi_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvu/mailcache/internal/mailapi"
)

func TestSendMailPostsEncodedMessage(t *testing.T) {
	var posted []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/sendMail", r.URL.Path)
		var err error
		posted, err = io.ReadAll(r.Body)
		require.NoError(t, err)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := mailapi.NewClient(srv.URL, &fakeTokens{current: "tok"}, fastOptions(), nil)

	err := c.SendMail(context.Background(), mailapi.OutgoingMessage{
		FromName:    "Pat Lee",
		FromAddress: "pat@ourfirm.com",
		To:          []string{"dana@buildco.com"},
		Cc:          []string{"sam@ourfirm.com"},
		Subject:     "Revised quote",
		Body:        "Numbers attached in the follow-up.\n",
	})
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(string(posted))
	require.NoError(t, err, "payload is base64 of the raw message")

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)

	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Revised quote", subject)

	from, err := mr.Header.AddressList("From")
	require.NoError(t, err)
	require.Len(t, from, 1)
	assert.Equal(t, "pat@ourfirm.com", from[0].Address)
	assert.Equal(t, "Pat Lee", from[0].Name)

	to, err := mr.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, "dana@buildco.com", to[0].Address)

	cc, err := mr.Header.AddressList("Cc")
	require.NoError(t, err)
	require.Len(t, cc, 1)
	assert.Equal(t, "sam@ourfirm.com", cc[0].Address)

	part, err := mr.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(part.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Numbers attached")
}

func TestSendMailRequiresRecipients(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	c := mailapi.NewClient(srv.URL, &fakeTokens{current: "tok"}, fastOptions(), nil)

	err := c.SendMail(context.Background(), mailapi.OutgoingMessage{
		FromAddress: "pat@ourfirm.com",
		Subject:     "no one to read this",
	})
	require.Error(t, err)
	assert.True(t, mailapi.IsProtocolError(err))
}
