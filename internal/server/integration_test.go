package server

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oes-events/webhooks/internal/config"
	"github.com/oes-events/webhooks/internal/htmlproc"
	"github.com/oes-events/webhooks/internal/mailer"
	"github.com/oes-events/webhooks/internal/provider/mock"
	"github.com/oes-events/webhooks/internal/receipt"
	"github.com/oes-events/webhooks/internal/template"
)

func TestEmailEndToEnd(t *testing.T) {
	t.Parallel()

	engine, err := template.New("testdata")
	require.NoError(t, err)
	defer engine.Close()

	p := mock.NewRecorder(discardLogger())
	svc := mailer.New(context.Background(),
		config.EmailConfig{Use: "mock", From: "events@example.com"},
		engine, htmlproc.New(engine.FS()),
		mailer.WithProvider(p),
		mailer.WithLogger(discardLogger()),
	)

	h := New(Config{}, Handlers{Email: svc, Receipts: receipt.New(svc, discardLogger())}, discardLogger()).Handler()

	rec := post(t, h, "/email/tickets", `{"to":"alice@example.com","name":"Alice","count":2}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	sent := p.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Hello", sent[0].Subject)
	assert.Equal(t, "Hi Alice, you have 2 tickets.\r\n", string(sent[0].Root.Content))

	assert.Equal(t, http.StatusUnprocessableEntity, post(t, h, "/email/tickets", `{"name":"Alice"}`).Code)
	assert.Equal(t, http.StatusNotFound, post(t, h, "/email/missing", `{"to":"alice@example.com"}`).Code)

	// No receipt template exists, so a forwarded receipt is a 404.
	body := `{"cart_data":{"registrations":[{"new_data":{"email":"bob@example.com"},"line_items":[{"price":1500}]}]}}`
	assert.Equal(t, http.StatusNotFound, post(t, h, "/receipt", body).Code)
	assert.Len(t, p.Sent(), 1)
}
