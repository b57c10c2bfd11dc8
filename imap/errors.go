package imap

import "fmt"

// ConnectError is a TCP-level failure reaching the server.
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TLSError is a failure negotiating or validating the TLS session.
type TLSError struct {
	Address string
	Err     error
}

func (e *TLSError) Error() string {
	return fmt.Sprintf("tls handshake %s: %v", e.Address, e.Err)
}

func (e *TLSError) Unwrap() error { return e.Err }

// AuthError means the server rejected the LOGIN command.
type AuthError struct {
	Response string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Response)
}

// ServerError is any other tagged NO/BAD completion, e.g. a rejected SELECT
// or FETCH.
type ServerError struct {
	Cmd      string
	Response string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Cmd, e.Response)
}

// DecodeError means a FETCH response announced a literal the decoder could not
// make sense of. The literal boundary is unknowable at that point, so the
// whole exchange is abandoned.
type DecodeError struct {
	Line string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed fetch response: %q", e.Line)
}
