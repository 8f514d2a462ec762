package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warranty-reminder/internal/config"
	"warranty-reminder/internal/errs"
)

func TestSMSNotifierSend(t *testing.T) {
	var (
		payload   smsPayload
		auth      string
		timestamp string
		sign      string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		timestamp = r.URL.Query().Get("timestamp")
		sign = r.URL.Query().Get("sign")
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	notifier, err := NewSMSNotifier(&config.SMSConfig{
		Enabled:    true,
		GatewayURL: server.URL + "/messages",
		APIKey:     "key-123",
		Secret:     "s3cret",
		Sender:     "WARRANTY",
	})
	require.NoError(t, err)
	notifier.now = func() time.Time { return time.UnixMilli(1735689600000) }

	require.NoError(t, notifier.Send(context.Background(), "+15550102030", "TV warranty expires in 7 day(s) on 2025-01-01."))

	assert.Equal(t, "Bearer key-123", auth)
	assert.Equal(t, smsPayload{To: "+15550102030", From: "WARRANTY", Body: "TV warranty expires in 7 day(s) on 2025-01-01."}, payload)
	assert.Equal(t, "1735689600000", timestamp)
	assert.Equal(t, generateSign("1735689600000", "s3cret"), sign)
}

func TestSMSNotifierClassifiesStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
		contains  string
	}{
		{name: "server error", status: http.StatusBadGateway, retryable: true, contains: "502"},
		{name: "rate limited", status: http.StatusTooManyRequests, retryable: true, contains: "429"},
		{name: "bad number", status: http.StatusBadRequest, body: `{"error":"invalid number"}`, retryable: false, contains: "invalid number"},
		{name: "unauthorized", status: http.StatusUnauthorized, retryable: false, contains: "401"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			notifier, err := NewSMSNotifier(&config.SMSConfig{Enabled: true, GatewayURL: server.URL})
			require.NoError(t, err)

			err = notifier.Send(context.Background(), "+15550102030", "hello")
			require.Error(t, err)

			var te *errs.TransportError
			require.True(t, errs.As(err, &te))
			assert.Equal(t, ChannelSMS, te.Channel)
			assert.Equal(t, tt.retryable, te.Retryable)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestSMSNotifierCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier, err := NewSMSNotifier(&config.SMSConfig{Enabled: true, GatewayURL: server.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = notifier.Send(ctx, "+15550102030", "hello")
	require.Error(t, err)
	assert.True(t, errs.IsRetryable(err))
}

func TestSMSNotifierWithProxy(t *testing.T) {
	notifier, err := NewSMSNotifier(&config.SMSConfig{Enabled: true, GatewayURL: "http://gateway.invalid", Proxy: "127.0.0.1:1080"})
	require.NoError(t, err)

	transport, ok := notifier.client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.NotNil(t, transport.DialContext)
}

func TestGenerateSign(t *testing.T) {
	assert.Equal(t, generateSign("1", "secret"), generateSign("1", "secret"))
	assert.NotEqual(t, generateSign("1", "secret"), generateSign("2", "secret"))
	assert.NotEqual(t, generateSign("1", "secret"), generateSign("1", "other"))
}
