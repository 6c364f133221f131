package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestTelegramNotify(t *testing.T) {
	var got sendMessageRequest
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	t.Cleanup(srv.Close)

	n := NewTelegram(TelegramConfig{Token: "123:abc", ChatID: "42", APIBase: srv.URL}, zaptest.NewLogger(t))
	require.NoError(t, n.Notify(context.Background(), slotFound()))

	assert.Equal(t, "/bot123:abc/sendMessage", path)
	assert.Equal(t, "42", got.ChatID)
	assert.True(t, got.DisableWebPagePreview)
	assert.Contains(t, got.Text, "Earlier appointment found")
}

func TestTelegramAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	t.Cleanup(srv.Close)

	n := NewTelegram(TelegramConfig{Token: "123:abc", ChatID: "42", APIBase: srv.URL}, zaptest.NewLogger(t))
	err := n.Notify(context.Background(), slotFound())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
	assert.NotContains(t, err.Error(), "123:abc")
}

func TestTelegramRedactsTokenOnTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	n := NewTelegram(TelegramConfig{Token: "123:abc", ChatID: "42", APIBase: base}, zaptest.NewLogger(t))
	n.client.RetryMax = 0

	err := n.Notify(context.Background(), slotFound())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "123:abc")
}
