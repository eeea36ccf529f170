package graph

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oes-events/webhooks/internal/email"
	"github.com/oes-events/webhooks/internal/mimemsg"
	"github.com/oes-events/webhooks/internal/parser"
)

func newTokenServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "test-client", r.PostForm.Get("client_id"))
		assert.Equal(t, "test-secret", r.PostForm.Get("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "test-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig() Config {
	return Config{
		TenantID:     "test-tenant",
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		Sender:       "sender@example.com",
		Timeout:      5 * time.Second,
	}
}

func testMessage(t *testing.T) (*mimemsg.Message, *email.Email) {
	t.Helper()

	e := &email.Email{From: "sender@example.com", To: "user@example.com", Subject: "Test", Text: "Body"}
	msg, err := mimemsg.Assemble(e)
	require.NoError(t, err)
	return msg, e
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "graph", New(testConfig(), nil).Name())
}

func TestSendSuccess(t *testing.T) {
	t.Parallel()

	var tokenCalls atomic.Int32
	tokenServer := newTokenServer(t, &tokenCalls)

	var sendCalls atomic.Int32
	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendCalls.Add(1)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		raw, err := base64.StdEncoding.DecodeString(string(body))
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		parsed, err := parser.Parse(raw)
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "Test", parsed.Subject)
		assert.Equal(t, []string{"user@example.com"}, parsed.To)

		w.WriteHeader(http.StatusAccepted)
	}))
	defer graphServer.Close()

	p := newWithOverrides(testConfig(), graphServer.URL, tokenServer.URL, discardLogger())

	msg, e := testMessage(t)
	require.NoError(t, p.Send(context.Background(), msg, e))
	require.NoError(t, p.Send(context.Background(), msg, e))

	assert.Equal(t, int32(2), sendCalls.Load())
	assert.Equal(t, int32(1), tokenCalls.Load(), "token must be cached between sends")
}

func TestSendErrorResponses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{
			name:    "graph error document",
			status:  http.StatusBadRequest,
			body:    `{"error":{"code":"ErrorInvalidRecipients","message":"Invalid recipient"}}`,
			wantMsg: "ErrorInvalidRecipients: Invalid recipient",
		},
		{
			name:    "plain body",
			status:  http.StatusServiceUnavailable,
			body:    "try later",
			wantMsg: "try later",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var tokenCalls, sendCalls atomic.Int32
			tokenServer := newTokenServer(t, &tokenCalls)
			graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				sendCalls.Add(1)
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer graphServer.Close()

			p := newWithOverrides(testConfig(), graphServer.URL, tokenServer.URL, discardLogger())
			msg, e := testMessage(t)
			err := p.Send(context.Background(), msg, e)

			require.Error(t, err)
			assert.ErrorIs(t, err, email.ErrDeliveryFailed)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Equal(t, int32(1), sendCalls.Load(), "transport must not retry")
		})
	}
}

func TestSendTokenFailure(t *testing.T) {
	t.Parallel()

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":"invalid_client"}`)
	}))
	defer tokenServer.Close()

	var sendCalls atomic.Int32
	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendCalls.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer graphServer.Close()

	p := newWithOverrides(testConfig(), graphServer.URL, tokenServer.URL, discardLogger())
	msg, e := testMessage(t)
	err := p.Send(context.Background(), msg, e)

	assert.ErrorIs(t, err, email.ErrDeliveryFailed)
	assert.Zero(t, sendCalls.Load())
}

func TestSendContextCanceled(t *testing.T) {
	t.Parallel()

	var tokenCalls atomic.Int32
	tokenServer := newTokenServer(t, &tokenCalls)
	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer graphServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newWithOverrides(testConfig(), graphServer.URL, tokenServer.URL, discardLogger())
	msg, e := testMessage(t)
	err := p.Send(ctx, msg, e)

	assert.ErrorIs(t, err, context.Canceled)
}
