package smtptest

import (
	"encoding/base64"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func dial(t *testing.T, srv *Server) *textproto.Conn {
	t.Helper()

	conn, err := textproto.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, _, err = conn.ReadResponse(220)
	require.NoError(t, err)
	return conn
}

// cmd sends a command and expects the given reply code.
func cmd(t *testing.T, conn *textproto.Conn, code int, format string, args ...any) string {
	t.Helper()

	id, err := conn.Cmd(format, args...)
	require.NoError(t, err)
	conn.StartResponse(id)
	defer conn.EndResponse(id)

	_, msg, err := conn.ReadResponse(code)
	require.NoError(t, err, "command %q", format)
	return msg
}

func TestAuthenticator(t *testing.T) {
	t.Parallel()

	auth := &authenticator{username: "user", password: "pass"}

	tests := []struct {
		name    string
		verify  func() error
		wantErr bool
	}{
		{name: "plain", verify: func() error { return auth.verifyPlain(b64("\x00user\x00pass")) }},
		{name: "plain with authzid", verify: func() error { return auth.verifyPlain(b64("admin\x00user\x00pass")) }},
		{name: "plain wrong password", verify: func() error { return auth.verifyPlain(b64("\x00user\x00nope")) }, wantErr: true},
		{name: "plain missing separator", verify: func() error { return auth.verifyPlain(b64("userpass")) }, wantErr: true},
		{name: "plain invalid base64", verify: func() error { return auth.verifyPlain("!!!") }, wantErr: true},
		{name: "login", verify: func() error { return auth.verifyLogin(b64("user"), b64("pass")) }},
		{name: "login wrong user", verify: func() error { return auth.verifyLogin(b64("other"), b64("pass")) }, wantErr: true},
		{name: "login invalid base64", verify: func() error { return auth.verifyLogin("!!!", b64("pass")) }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.verify()
			if tt.wantErr {
				assert.ErrorIs(t, err, errAuthFailed)
				return
			}
			assert.NoError(t, err)
		})
	}

	assert.False(t, (&authenticator{username: "user"}).enabled())
}

func TestSessionRecordsMessage(t *testing.T) {
	t.Parallel()

	srv, err := NewServer(Config{})
	require.NoError(t, err)
	defer srv.Close()

	conn := dial(t, srv)
	cmd(t, conn, 250, "EHLO client")
	cmd(t, conn, 250, "MAIL FROM:<sender@example.com> BODY=7BIT")
	cmd(t, conn, 250, "RCPT TO:<alice@example.com>")
	cmd(t, conn, 354, "DATA")

	w := conn.DotWriter()
	_, err = w.Write([]byte("Subject: hi\r\n\r\n.dotted\r\nbody\r\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	_, _, err = conn.ReadResponse(250)
	require.NoError(t, err)

	cmd(t, conn, 221, "QUIT")

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "sender@example.com", msgs[0].From)
	assert.Equal(t, []string{"alice@example.com"}, msgs[0].To)
	assert.Equal(t, "Subject: hi\r\n\r\n.dotted\r\nbody\r\n", string(msgs[0].Data))
	assert.False(t, msgs[0].TLS)
	assert.Equal(t, 1, srv.PeakConcurrentTransactions())
}

func TestSessionRequiresAuth(t *testing.T) {
	t.Parallel()

	srv, err := NewServer(Config{Username: "user", Password: "pass"})
	require.NoError(t, err)
	defer srv.Close()

	conn := dial(t, srv)
	ehlo := cmd(t, conn, 250, "EHLO client")
	assert.Contains(t, ehlo, "AUTH PLAIN LOGIN")
	assert.NotContains(t, ehlo, "STARTTLS")

	cmd(t, conn, 530, "MAIL FROM:<sender@example.com>")
	cmd(t, conn, 535, "AUTH PLAIN %s", b64("\x00user\x00wrong"))

	cmd(t, conn, 334, "AUTH LOGIN")
	cmd(t, conn, 334, "%s", b64("user"))
	cmd(t, conn, 235, "%s", b64("pass"))

	cmd(t, conn, 250, "MAIL FROM:<sender@example.com>")
	cmd(t, conn, 250, "RSET")
	cmd(t, conn, 503, "RCPT TO:<alice@example.com>")
}

func TestSessionOrdering(t *testing.T) {
	t.Parallel()

	srv, err := NewServer(Config{})
	require.NoError(t, err)
	defer srv.Close()

	conn := dial(t, srv)
	cmd(t, conn, 503, "MAIL FROM:<sender@example.com>")
	cmd(t, conn, 501, "EHLO")
	cmd(t, conn, 250, "HELO client")
	cmd(t, conn, 503, "DATA")
	cmd(t, conn, 454, "STARTTLS")
	cmd(t, conn, 500, "VRFY alice")
	cmd(t, conn, 250, "NOOP")
}

func TestSessionRejectData(t *testing.T) {
	t.Parallel()

	srv, err := NewServer(Config{RejectData: true})
	require.NoError(t, err)
	defer srv.Close()

	conn := dial(t, srv)
	cmd(t, conn, 250, "EHLO client")
	cmd(t, conn, 250, "MAIL FROM:<sender@example.com>")
	cmd(t, conn, 250, "RCPT TO:<alice@example.com>")
	cmd(t, conn, 354, "DATA")

	w := conn.DotWriter()
	_, err = w.Write([]byte("Subject: hi\r\n\r\nbody\r\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	_, _, err = conn.ReadResponse(554)
	require.NoError(t, err)

	assert.Empty(t, srv.Messages())
}

func TestNewServerImplicitRequiresTLS(t *testing.T) {
	t.Parallel()

	_, err := NewServer(Config{Implicit: true})
	assert.Error(t, err)
}
