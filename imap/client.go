package imap

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"
)

const (
	// DefaultHost is the server contacted when no host is configured.
	DefaultHost = "imap.gmail.com"
	// DefaultPort is the implicit-TLS IMAP port.
	DefaultPort = 993
)

// Dialer opens one connection to the server. Implementations must return a
// stream that is ready for the server greeting.
type Dialer interface {
	Dial(ctx context.Context) (net.Conn, error)
}

// TLSDialer connects over TCP and upgrades to TLS using the system trust
// roots. TCP and TLS failures are reported as distinct error types. A single
// attempt per call, no retries.
type TLSDialer struct {
	Host    string
	Port    int
	Timeout time.Duration
}

func (d *TLSDialer) address() string {
	host := d.Host
	if host == "" {
		host = DefaultHost
	}
	port := d.Port
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (d *TLSDialer) Dial(ctx context.Context) (net.Conn, error) {
	address := d.address()

	dialer := net.Dialer{Timeout: d.Timeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &ConnectError{Address: address, Err: err}
	}

	host, _, _ := net.SplitHostPort(address)
	tlsConn := tls.Client(tcpConn, &tls.Config{ServerName: host})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = tcpConn.Close()
		return nil, &TLSError{Address: address, Err: err}
	}

	return tlsConn, nil
}
