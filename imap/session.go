package imap

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/mkeller/imapfetch/model"
)

// Credentials authenticate one account. Shared read-only by every worker and
// never logged.
type Credentials struct {
	User string
	Pass string
}

// Tags are the client-chosen command tags. They are scoped to one connection's
// exchange; reusing the same values on independent connections is deliberate.
type Tags struct {
	Login  string
	Select string
	Fetch  string
	Logout string
}

// DefaultTags mirrors the fixed tags the tool has always used.
func DefaultTags() Tags {
	return Tags{Login: "A001", Select: "A002", Fetch: "A003", Logout: "A999"}
}

// Session drives the tagged command/response exchanges on one connection.
// Commands are strictly sequential: each one is written and flushed before any
// response byte is read, no pipelining.
type Session struct {
	conn    net.Conn
	timeout time.Duration
	tags    Tags
	logger  *slog.Logger
	buf     []byte
}

// NewSession wraps an established connection. timeout, when positive, is
// applied as a deadline to every read and write so an unresponsive server
// surfaces as an error instead of a stalled worker.
func NewSession(conn net.Conn, timeout time.Duration, logger *slog.Logger) *Session {
	return &Session{
		conn:    conn,
		timeout: timeout,
		tags:    DefaultTags(),
		logger:  logger,
		buf:     make([]byte, 4096),
	}
}

// SetTags overrides the default command tags.
func (s *Session) SetTags(tags Tags) { s.tags = tags }

func (s *Session) Close() error { return s.conn.Close() }

// Greeting reads and discards the server's initial untagged greeting line.
func (s *Session) Greeting() error {
	var line []byte
	for {
		if err := s.setReadDeadline(); err != nil {
			return err
		}
		n, err := s.conn.Read(s.buf)
		if n > 0 {
			line = append(line, s.buf[:n]...)
			if bytes.IndexByte(line, '\n') >= 0 {
				if s.logger != nil {
					s.logger.Debug("server greeting", "line", strings.TrimSpace(string(line)))
				}
				return nil
			}
		}
		if err != nil {
			return s.readErr(err)
		}
	}
}

// Login authenticates. Any tagged completion without the OK marker is an
// authentication failure.
func (s *Session) Login(creds Credentials) error {
	d := NewDecoder("LOGIN", s.tags.Login, true)
	cmd := fmt.Sprintf("%s LOGIN %s %s\r\n", s.tags.Login, creds.User, creds.Pass)
	if err := s.exchange(cmd, d); err != nil {
		var srv *ServerError
		if errors.As(err, &srv) {
			return &AuthError{Response: srv.Response}
		}
		return err
	}
	return nil
}

// Select selects the mailbox and returns its current message count, parsed
// from the untagged EXISTS line. Malformed EXISTS lines are ignored; the last
// well-formed value wins.
func (s *Session) Select(mailbox string) (uint32, error) {
	var count uint32
	d := NewDecoder("SELECT", s.tags.Select, true)
	d.OnLine(func(line string) {
		if !strings.Contains(line, "EXISTS") {
			return
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			return
		}
		n, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return
		}
		count = uint32(n)
	})

	cmd := fmt.Sprintf("%s SELECT %s\r\n", s.tags.Select, mailbox)
	if err := s.exchange(cmd, d); err != nil {
		return 0, err
	}
	return count, nil
}

// Fetch requests the full raw body of every message in [start, end] and hands
// each literal to sink as it completes. It returns once the server's tagged
// completion line confirms the command.
func (s *Session) Fetch(start, end uint32, sink func(model.Message) error) error {
	d := NewDecoder("FETCH", s.tags.Fetch, false)
	d.OnMessage(sink)
	cmd := fmt.Sprintf("%s FETCH %d:%d (BODY[])\r\n", s.tags.Fetch, start, end)
	return s.exchange(cmd, d)
}

// Logout sends LOGOUT without waiting for the response. Callers treat it as
// best effort.
func (s *Session) Logout() error {
	return s.write(fmt.Sprintf("%s LOGOUT\r\n", s.tags.Logout))
}

// exchange writes one command and feeds the response stream to d until the
// tagged completion line. End of stream before completion is an error.
func (s *Session) exchange(cmd string, d *Decoder) error {
	if err := s.write(cmd); err != nil {
		return err
	}
	for {
		if err := s.setReadDeadline(); err != nil {
			return err
		}
		n, err := s.conn.Read(s.buf)
		if n > 0 {
			done, derr := d.Feed(s.buf[:n])
			if derr != nil {
				return derr
			}
			if done {
				return nil
			}
		}
		if err != nil {
			return s.readErr(err)
		}
	}
}

func (s *Session) write(cmd string) error {
	if s.timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
			return &ConnectError{Address: s.remote(), Err: err}
		}
	}
	if _, err := io.WriteString(s.conn, cmd); err != nil {
		return &ConnectError{Address: s.remote(), Err: err}
	}
	return nil
}

func (s *Session) setReadDeadline() error {
	if s.timeout <= 0 {
		return nil
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return &ConnectError{Address: s.remote(), Err: err}
	}
	return nil
}

func (s *Session) readErr(err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return &ConnectError{Address: s.remote(), Err: err}
}

func (s *Session) remote() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
