package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oes-events/webhooks/internal/email"
	"github.com/oes-events/webhooks/internal/mailer"
	"github.com/oes-events/webhooks/internal/sheets"
	"github.com/oes-events/webhooks/internal/template"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEmail struct {
	mu      sync.Mutex
	enabled bool
	err     error
	names   []string
	bodies  []map[string]any
}

func (f *fakeEmail) Enabled() bool { return f.enabled }

func (f *fakeEmail) Send(_ context.Context, name string, body map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	f.bodies = append(f.bodies, body)
	return f.err
}

type fakeReceipts struct {
	err    error
	bodies []map[string]any
}

func (f *fakeReceipts) Forward(_ context.Context, body map[string]any) error {
	f.bodies = append(f.bodies, body)
	return f.err
}

type fakeSheets struct {
	hooks map[string]bool
	rows  []map[string]any
	err   error
}

func (f *fakeSheets) Append(_ context.Context, hookID string, data map[string]any) error {
	if !f.hooks[hookID] {
		return fmt.Errorf("%w: %s", sheets.ErrHookNotFound, hookID)
	}
	f.rows = append(f.rows, data)
	return f.err
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()

	h := New(Config{}, Handlers{}, discardLogger()).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestSendEmail(t *testing.T) {
	t.Parallel()

	em := &fakeEmail{enabled: true}
	h := New(Config{}, Handlers{Email: em}, discardLogger()).Handler()

	rec := post(t, h, "/email/events/welcome", `{"to":"a@b.com","count":3,"ratio":0.5}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	require.Len(t, em.names, 1)
	assert.Equal(t, "events/welcome", em.names[0])
	assert.Equal(t, "a@b.com", em.bodies[0]["to"])
	assert.Equal(t, int64(3), em.bodies[0]["count"])
	assert.Equal(t, 0.5, em.bodies[0]["ratio"])
}

func TestSendEmailStatuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		enabled bool
		err     error
		path    string
		body    string
		want    int
	}{
		{name: "disabled", enabled: false, path: "/email/welcome", body: `{}`, want: http.StatusNotFound},
		{name: "invalid json", enabled: true, path: "/email/welcome", body: `{"to":`, want: http.StatusUnprocessableEntity},
		{name: "not an object", enabled: true, path: "/email/welcome", body: `["a@b.com"]`, want: http.StatusUnprocessableEntity},
		{name: "null body", enabled: true, path: "/email/welcome", body: `null`, want: http.StatusUnprocessableEntity},
		{name: "validation", enabled: true, err: fmt.Errorf("%w: to is required", mailer.ErrValidation), path: "/email/welcome", body: `{}`, want: http.StatusUnprocessableEntity},
		{name: "template not found", enabled: true, err: fmt.Errorf("%w: nope.txt", template.ErrTemplateNotFound), path: "/email/nope", body: `{}`, want: http.StatusNotFound},
		{name: "email disabled by sender", enabled: true, err: mailer.ErrDisabled, path: "/email/welcome", body: `{}`, want: http.StatusNotFound},
		{name: "delivery failure", enabled: true, err: errors.Join(email.ErrDeliveryFailed, errors.New("smtp down")), path: "/email/welcome", body: `{}`, want: http.StatusInternalServerError},
		{name: "attachment outside root", enabled: true, err: template.ErrPathViolation, path: "/email/welcome", body: `{}`, want: http.StatusInternalServerError},
		{name: "traversal in name", enabled: true, path: "/email/a/../../secret", body: `{}`, want: http.StatusNotFound},
		{name: "empty name", enabled: true, path: "/email/", body: `{}`, want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := New(Config{}, Handlers{Email: &fakeEmail{enabled: tt.enabled, err: tt.err}}, discardLogger()).Handler()
			rec := post(t, h, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestValidTemplateName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want bool
	}{
		{name: "welcome", want: true},
		{name: "events/welcome", want: true},
		{name: ""},
		{name: ".."},
		{name: "../secret"},
		{name: "a/../b"},
		{name: "./welcome"},
		{name: "/etc/passwd"},
		{name: `a\b`},
		{name: "a//b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, validTemplateName(tt.name))
		})
	}
}

func TestReceipt(t *testing.T) {
	t.Parallel()

	rc := &fakeReceipts{}
	h := New(Config{}, Handlers{Receipts: rc}, discardLogger()).Handler()

	rec := post(t, h, "/receipt", `{"cart_data":{"registrations":[]}}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, rc.bodies, 1)

	rc.err = fmt.Errorf("failed to send receipt: %w", mailer.ErrDisabled)
	assert.Equal(t, http.StatusNotFound, post(t, h, "/receipt", `{}`).Code)

	assert.Equal(t, http.StatusNotFound, post(t, New(Config{}, Handlers{}, discardLogger()).Handler(), "/receipt", `{}`).Code)
}

func TestSheets(t *testing.T) {
	t.Parallel()

	sh := &fakeSheets{hooks: map[string]bool{"registrations": true}}
	h := New(Config{}, Handlers{Sheets: sh}, discardLogger()).Handler()

	assert.Equal(t, http.StatusNoContent, post(t, h, "/sheets/registrations", `{"name":"Alice"}`).Code)
	require.Len(t, sh.rows, 1)
	assert.Equal(t, "Alice", sh.rows[0]["name"])

	assert.Equal(t, http.StatusNotFound, post(t, h, "/sheets/unknown", `{}`).Code)

	sh.err = errors.New("quota exceeded")
	assert.Equal(t, http.StatusInternalServerError, post(t, h, "/sheets/registrations", `{}`).Code)

	noClient := New(Config{}, Handlers{}, discardLogger()).Handler()
	assert.Equal(t, http.StatusNotFound, post(t, noClient, "/sheets/registrations", `{}`).Code)
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	h := New(Config{}, Handlers{Email: &fakeEmail{enabled: true}}, discardLogger()).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/email/welcome", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPrivateOnly(t *testing.T) {
	t.Parallel()

	h := New(Config{PrivateOnly: true}, Handlers{}, discardLogger()).Handler()

	tests := []struct {
		remote string
		want   int
	}{
		{remote: "127.0.0.1:5555", want: http.StatusOK},
		{remote: "10.1.2.3:80", want: http.StatusOK},
		{remote: "172.20.0.5:80", want: http.StatusOK},
		{remote: "192.168.1.10:80", want: http.StatusOK},
		{remote: "[::1]:80", want: http.StatusOK},
		{remote: "[fd12::1]:80", want: http.StatusOK},
		{remote: "[::ffff:10.0.0.1]:80", want: http.StatusOK},
		{remote: "8.8.8.8:53", want: http.StatusForbidden},
		{remote: "172.32.0.1:80", want: http.StatusForbidden},
		{remote: "[2001:db8::1]:80", want: http.StatusForbidden},
		{remote: "garbage", want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			req.RemoteAddr = tt.remote
			req.Header.Set("X-Forwarded-For", "10.0.0.1")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestListenAndServe(t *testing.T) {
	t.Parallel()

	srv := New(Config{Addr: "127.0.0.1:0"}, Handlers{}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	addr := srv.Addr()
	require.NotNil(t, addr)

	resp, err := http.Get("http://" + addr.String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestListenAndServeBindError(t *testing.T) {
	t.Parallel()

	srv := New(Config{Addr: "256.0.0.1:0"}, Handlers{}, discardLogger())
	assert.Error(t, srv.ListenAndServe(context.Background()))
	assert.Nil(t, srv.Addr())
}
