package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/straye-as/merchant-ledger/internal/config"
	"github.com/straye-as/merchant-ledger/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWhatsAppNotifier_Send(t *testing.T) {
	var got map[string]interface{}
	var gotAuth, gotPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	defer server.Close()

	n := notify.NewWhatsAppNotifier(server.URL, "12345", "token-abc", time.Second, zap.NewNop())
	err := n.Send(context.Background(), notify.Message{To: "+919876543210", Body: "Invoice INV-2025-0001"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer token-abc", gotAuth)
	assert.Equal(t, "/12345/messages", gotPath)
	assert.Equal(t, "whatsapp", got["messaging_product"])
	assert.Equal(t, "919876543210", got["to"])
	assert.Equal(t, "text", got["type"])
	assert.Equal(t, map[string]interface{}{"body": "Invoice INV-2025-0001"}, got["text"])
}

func TestWhatsAppNotifier_ErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid parameter","type":"OAuthException","code":100}}`))
	}))
	defer server.Close()

	n := notify.NewWhatsAppNotifier(server.URL, "12345", "token", time.Second, zap.NewNop())
	err := n.Send(context.Background(), notify.Message{To: "+919876543210", Body: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid parameter")
	assert.Contains(t, err.Error(), "400")
}

func TestNotifier_NoRecipient(t *testing.T) {
	tests := []struct {
		name     string
		notifier notify.Notifier
	}{
		{name: "log", notifier: notify.NewLogNotifier(zap.NewNop())},
		{name: "whatsapp", notifier: notify.NewWhatsAppNotifier("http://127.0.0.1:1", "1", "t", time.Second, zap.NewNop())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.notifier.Send(context.Background(), notify.Message{Body: "hi"})
			assert.ErrorIs(t, err, notify.ErrNoRecipient)
		})
	}
}

func TestNewNotifier(t *testing.T) {
	n, err := notify.NewNotifier(&config.NotificationsConfig{Provider: "log"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &notify.LogNotifier{}, n)

	_, err = notify.NewNotifier(&config.NotificationsConfig{Provider: "whatsapp"}, zap.NewNop())
	assert.Error(t, err)

	n, err = notify.NewNotifier(&config.NotificationsConfig{Provider: "whatsapp", AccessToken: "t", PhoneNumberID: "1"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &notify.WhatsAppNotifier{}, n)

	_, err = notify.NewNotifier(&config.NotificationsConfig{Provider: "sms"}, zap.NewNop())
	assert.Error(t, err)
}
