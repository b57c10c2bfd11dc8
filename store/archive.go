package store

import (
	"bytes"
	"fmt"
	"net/mail"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-mbox"

	"github.com/mkeller/imapfetch/model"
)

// Archive additionally collects every fetched message into a single mbox
// file. Workers append concurrently, so writes are serialized by a mutex.
type Archive struct {
	mu   sync.Mutex
	file *os.File
	w    *mbox.Writer
}

// NewArchive truncates or creates the mbox file at path.
func NewArchive(path string) (*Archive, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create mbox archive: %w", err)
	}
	return &Archive{file: file, w: mbox.NewWriter(file)}, nil
}

// Append writes one message to the archive. The From_ separator line is built
// from the message's own From and Date headers when they parse, with neutral
// fallbacks otherwise.
func (a *Archive) Append(msg model.Message) error {
	from, date := envelopeInfo(msg.Raw)

	a.mu.Lock()
	defer a.mu.Unlock()

	mw, err := a.w.CreateMessage(from, date)
	if err != nil {
		return fmt.Errorf("mbox message %d: %w", msg.SeqNum, err)
	}
	if _, err := mw.Write(msg.Raw); err != nil {
		return fmt.Errorf("mbox message %d: %w", msg.SeqNum, err)
	}
	return nil
}

// Close flushes the final separator and closes the file.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var firstErr error
	if err := a.w.Close(); err != nil {
		firstErr = fmt.Errorf("close mbox writer: %w", err)
	}
	if err := a.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close mbox archive: %w", err)
	}
	return firstErr
}

func envelopeInfo(raw []byte) (string, time.Time) {
	from := "MAILER-DAEMON"
	date := time.Now()

	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return from, date
	}

	if addr, err := mail.ParseAddress(msg.Header.Get("From")); err == nil {
		from = addr.Address
	} else if hdr := strings.TrimSpace(msg.Header.Get("From")); hdr != "" {
		from = hdr
	}
	if t, err := mail.ParseDate(msg.Header.Get("Date")); err == nil {
		date = t
	}
	return from, date
}
