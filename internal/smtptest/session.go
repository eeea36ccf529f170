package smtptest

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

const (
	stateConnected = iota
	stateGreeted
	stateAuthOK
	stateMailFrom
	stateRcptTo
)

const idleTimeout = 10 * time.Second

type session struct {
	server *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	state  int

	tlsActive bool
	authed    bool

	mailFrom string
	rcptTo   []string
	open     bool
}

func newSession(s *Server, conn net.Conn) *session {
	_, implicit := conn.(*tls.Conn)
	return &session{
		server:    s,
		conn:      conn,
		reader:    bufio.NewReader(conn),
		writer:    bufio.NewWriter(conn),
		tlsActive: implicit,
	}
}

func (s *session) handle() {
	defer s.conn.Close()
	defer s.endTransaction()

	s.writeLine("220 localhost ESMTP smtptest")

	for {
		if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			return
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				s.server.log.Debug("read error", "error", err)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		cmd, arg := parseCommand(line)
		if s.dispatch(cmd, arg) {
			return
		}
	}
}

// dispatch handles one command and reports whether the session is over.
func (s *session) dispatch(cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleHello(cmd, arg)
	case "STARTTLS":
		return s.handleStartTLS()
	case "AUTH":
		s.handleAuth(arg)
	case "MAIL":
		s.handleMail(arg)
	case "RCPT":
		s.handleRcpt(arg)
	case "DATA":
		return s.handleData()
	case "RSET":
		s.reset()
		s.writeLine("250 OK")
	case "NOOP":
		s.writeLine("250 OK")
	case "QUIT":
		s.writeLine("221 Bye")
		return true
	default:
		s.writeLine("500 Unrecognized command")
	}
	return false
}

func (s *session) handleHello(cmd, arg string) {
	if arg == "" {
		s.writeLine("501 Syntax: %s hostname", cmd)
		return
	}

	s.reset()
	s.state = stateGreeted
	if s.authed {
		s.state = stateAuthOK
	}

	if cmd == "HELO" {
		s.writeLine("250 localhost Hello %s", arg)
		return
	}

	s.writeLine("250-localhost Hello %s", arg)
	if s.server.config.TLSConfig != nil && !s.tlsActive {
		s.writeLine("250-STARTTLS")
	}
	if s.server.auth.enabled() {
		s.writeLine("250-AUTH PLAIN LOGIN")
	}
	s.writeLine("250 8BITMIME")
}

func (s *session) handleStartTLS() bool {
	if s.server.config.TLSConfig == nil || s.tlsActive {
		s.writeLine("454 TLS not available")
		return false
	}

	s.writeLine("220 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.server.config.TLSConfig)
	if err := tlsConn.Handshake(); err != nil {
		s.server.log.Debug("TLS handshake failed", "error", err)
		return true
	}

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.authed = false
	s.state = stateConnected
	return false
}

func (s *session) handleAuth(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if !s.server.auth.enabled() {
		s.writeLine("503 AUTH not available")
		return
	}

	mechanism, initial, _ := strings.Cut(arg, " ")
	var err error
	switch strings.ToUpper(mechanism) {
	case "PLAIN":
		if initial == "" {
			if initial, err = s.challenge(""); err != nil {
				return
			}
		}
		err = s.server.auth.verifyPlain(initial)
	case "LOGIN":
		var user, pass string
		if user, err = s.challenge("VXNlcm5hbWU6"); err != nil {
			return
		}
		if pass, err = s.challenge("UGFzc3dvcmQ6"); err != nil {
			return
		}
		err = s.server.auth.verifyLogin(user, pass)
	default:
		s.writeLine("504 Unrecognized authentication type")
		return
	}

	if err != nil {
		s.writeLine("535 Authentication failed")
		return
	}
	s.authed = true
	s.state = stateAuthOK
	s.writeLine("235 Authentication successful")
}

// challenge sends a 334 prompt and returns the client's reply.
func (s *session) challenge(prompt string) (string, error) {
	if prompt == "" {
		s.writeLine("334 ")
	} else {
		s.writeLine("334 %s", prompt)
	}
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (s *session) handleMail(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if s.server.auth.enabled() && !s.authed {
		s.writeLine("530 Authentication required")
		return
	}
	if !strings.HasPrefix(strings.ToUpper(arg), "FROM:") {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	s.reset()
	s.mailFrom = extractAddress(arg[5:])
	s.state = stateMailFrom
	s.open = true
	s.server.beginTransaction()
	s.writeLine("250 OK")
}

func (s *session) handleRcpt(arg string) {
	if s.state < stateMailFrom {
		s.writeLine("503 Send MAIL FROM first")
		return
	}
	if !strings.HasPrefix(strings.ToUpper(arg), "TO:") {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	addr := extractAddress(arg[3:])
	if addr == "" {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = stateRcptTo
	s.writeLine("250 OK")
}

// handleData reads the message up to the terminating dot line and
// reverses dot-stuffing.
func (s *session) handleData() bool {
	if s.state < stateRcptTo {
		s.writeLine("503 Send RCPT TO first")
		return false
	}

	s.writeLine("354 Start mail input; end with <CRLF>.<CRLF>")

	var data strings.Builder
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return true
		}
		if strings.TrimRight(line, "\r\n") == "." {
			break
		}
		if strings.HasPrefix(line, ".") {
			line = line[1:]
		}
		data.WriteString(line)
	}

	if s.server.config.Delay > 0 {
		time.Sleep(s.server.config.Delay)
	}

	if s.server.config.RejectData {
		s.writeLine("554 Transaction failed")
		s.reset()
		return false
	}

	s.server.record(Received{
		From: s.mailFrom,
		To:   append([]string(nil), s.rcptTo...),
		Data: []byte(data.String()),
		TLS:  s.tlsActive,
		Auth: s.authed,
	})
	s.writeLine("250 OK message accepted")
	s.reset()
	return false
}

// reset clears the mail transaction, keeping greeting and auth state.
func (s *session) reset() {
	s.endTransaction()
	s.mailFrom = ""
	s.rcptTo = nil
	if s.state > stateAuthOK {
		s.state = stateGreeted
		if s.authed {
			s.state = stateAuthOK
		}
	}
}

func (s *session) endTransaction() {
	if s.open {
		s.open = false
		s.server.endTransaction()
	}
}

func (s *session) writeLine(format string, args ...any) {
	if _, err := fmt.Fprintf(s.writer, format+"\r\n", args...); err != nil {
		return
	}
	_ = s.writer.Flush()
}

func parseCommand(line string) (string, string) {
	cmd, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(cmd), arg
}

// extractAddress returns the address inside angle brackets, dropping any
// ESMTP parameters that follow.
func extractAddress(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return ""
		}
		return s[1:end]
	}
	addr, _, _ := strings.Cut(s, " ")
	return addr
}
