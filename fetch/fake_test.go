package fetch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// fakeServer speaks just enough IMAP for a worker's login/select/fetch/logout
// sequence, generating message bodies on demand.
type fakeServer struct {
	exists     uint32
	body       func(seq uint32) []byte
	failLogin  func(connID int) bool
	fetchDelay time.Duration
}

func defaultBody(seq uint32) []byte {
	return []byte(fmt.Sprintf("Subject: message %d\r\n\r\nbody of message %d\r\n", seq, seq))
}

func (s *fakeServer) serve(conn net.Conn, connID int) {
	defer conn.Close()
	if _, err := io.WriteString(conn, "* OK fake server ready\r\n"); err != nil {
		return
	}

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 2 {
			return
		}
		tag, verb := fields[0], fields[1]

		switch verb {
		case "LOGIN":
			if s.failLogin != nil && s.failLogin(connID) {
				fmt.Fprintf(conn, "%s NO [AUTHENTICATIONFAILED] Invalid credentials\r\n", tag)
				return
			}
			fmt.Fprintf(conn, "%s OK authenticated\r\n", tag)
		case "SELECT":
			fmt.Fprintf(conn, "* %d EXISTS\r\n%s OK [READ-WRITE] selected\r\n", s.exists, tag)
		case "FETCH":
			if s.fetchDelay > 0 {
				time.Sleep(s.fetchDelay)
			}
			start, end, ok := parseSet(fields[2])
			if !ok {
				fmt.Fprintf(conn, "%s BAD invalid set\r\n", tag)
				continue
			}
			body := s.body
			if body == nil {
				body = defaultBody
			}
			for seq := start; seq <= end; seq++ {
				raw := body(seq)
				fmt.Fprintf(conn, "* %d FETCH (BODY[] {%d}\r\n", seq, len(raw))
				if _, err := conn.Write(raw); err != nil {
					return
				}
				io.WriteString(conn, ")\r\n")
			}
			fmt.Fprintf(conn, "%s OK Success\r\n", tag)
		case "LOGOUT":
			fmt.Fprintf(conn, "* BYE\r\n%s OK bye\r\n", tag)
			return
		default:
			fmt.Fprintf(conn, "%s BAD unknown command\r\n", tag)
		}
	}
}

func parseSet(set string) (uint32, uint32, bool) {
	parts := strings.SplitN(set, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, err1 := strconv.ParseUint(parts[0], 10, 32)
	end, err2 := strconv.ParseUint(parts[1], 10, 32)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return uint32(start), uint32(end), true
}

// countingDialer is the instrumented transport: it counts total dials and
// tracks how many connections are live at once.
type countingDialer struct {
	srv *fakeServer

	mu      sync.Mutex
	dials   int
	live    int
	maxLive int
}

func (d *countingDialer) Dial(ctx context.Context) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.dials++
	connID := d.dials
	d.live++
	if d.live > d.maxLive {
		d.maxLive = d.live
	}
	d.mu.Unlock()

	client, server := net.Pipe()
	go d.srv.serve(server, connID)

	return &trackedConn{Conn: client, release: d.release}, nil
}

func (d *countingDialer) release() {
	d.mu.Lock()
	d.live--
	d.mu.Unlock()
}

func (d *countingDialer) stats() (dials, maxLive int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials, d.maxLive
}

type trackedConn struct {
	net.Conn
	once    sync.Once
	release func()
}

func (c *trackedConn) Close() error {
	c.once.Do(c.release)
	return c.Conn.Close()
}
