// Package smtptest provides an in-process SMTP server that records the
// messages it receives. It supports STARTTLS, implicit TLS and AUTH
// PLAIN/LOGIN so transport code can be tested end to end.
package smtptest

import (
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Config configures a Server.
type Config struct {
	// TLSConfig enables STARTTLS, or implicit TLS when Implicit is set.
	TLSConfig *tls.Config
	Implicit  bool

	// Username and Password require AUTH before MAIL when both are set.
	Username string
	Password string

	// RejectData makes the server answer every DATA with a permanent error.
	RejectData bool

	// Delay is applied before each DATA reply.
	Delay time.Duration
}

// Received is one accepted message.
type Received struct {
	From string
	To   []string
	Data []byte
	TLS  bool
	Auth bool
}

// Server is an SMTP sink listening on a loopback port.
type Server struct {
	config   Config
	auth     *authenticator
	listener net.Listener
	log      *slog.Logger

	// wg tracks in-flight session goroutines.
	wg sync.WaitGroup

	mu       sync.Mutex
	messages []Received
	active   int
	peak     int
}

// NewServer starts a server on 127.0.0.1 with a random port.
func NewServer(cfg Config) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	if cfg.Implicit {
		if cfg.TLSConfig == nil {
			ln.Close()
			return nil, errors.New("implicit TLS requires a TLS config")
		}
		ln = tls.NewListener(ln, cfg.TLSConfig)
	}

	s := &Server{
		config:   cfg,
		auth:     &authenticator{username: cfg.Username, password: cfg.Password},
		listener: ln,
		log:      slog.Default().With(slog.String("component", "smtptest")),
	}

	s.wg.Add(1)
	go s.serve()
	return s, nil
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Debug("accept error", "error", err)
			}
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			newSession(s, conn).handle()
		}()
	}
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host and Port split Addr for transport configuration.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Close stops accepting connections and waits for open sessions.
func (s *Server) Close() error {
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

// Messages returns the messages received so far, oldest first.
func (s *Server) Messages() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Received, len(s.messages))
	copy(out, s.messages)
	return out
}

// PeakConcurrentTransactions returns the largest number of mail
// transactions that were open at the same time.
func (s *Server) PeakConcurrentTransactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

func (s *Server) record(r Received) {
	s.mu.Lock()
	s.messages = append(s.messages, r)
	s.mu.Unlock()
}

func (s *Server) beginTransaction() {
	s.mu.Lock()
	s.active++
	s.peak = max(s.peak, s.active)
	s.mu.Unlock()
}

func (s *Server) endTransaction() {
	s.mu.Lock()
	s.active--
	s.mu.Unlock()
}
