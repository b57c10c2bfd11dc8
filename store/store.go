package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mkeller/imapfetch/model"
)

// Dir saves each message as <dir>/email_XXXXX.eml, the sequence number
// zero-padded to five digits. Saving the same sequence number again overwrites
// the existing file, so re-running a fetch is idempotent.
//
// Concurrent workers target disjoint sequence numbers, so writes never race.
type Dir struct {
	path string
}

// NewDir creates the destination directory if it does not exist.
func NewDir(path string) (*Dir, error) {
	if path == "" {
		return nil, fmt.Errorf("destination directory is empty")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create destination directory: %w", err)
	}
	return &Dir{path: path}, nil
}

// Path returns the destination directory.
func (d *Dir) Path() string { return d.path }

// Save writes the message's raw bytes exactly as delivered, with no
// transformation.
func (d *Dir) Save(msg model.Message) error {
	name := d.Filename(msg.SeqNum)
	if err := os.WriteFile(name, msg.Raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Filename returns the target path for a sequence number.
func (d *Dir) Filename(seqNum uint32) string {
	return filepath.Join(d.path, fmt.Sprintf("email_%05d.eml", seqNum))
}
