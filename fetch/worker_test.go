package fetch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkeller/imapfetch/filter"
	"github.com/mkeller/imapfetch/imap"
	"github.com/mkeller/imapfetch/model"
	"github.com/mkeller/imapfetch/store"
)

func testWorker(t *testing.T, dialer imap.Dialer, sink Sink) *Worker {
	t.Helper()
	return &Worker{
		Dialer:  dialer,
		Creds:   imap.Credentials{User: "user@example.com", Pass: "secret"},
		Timeout: 5 * time.Second,
		Store:   sink,
	}
}

func TestWorkerSavesRange(t *testing.T) {
	dialer := &countingDialer{srv: &fakeServer{exists: 25}}
	dir, err := store.NewDir(t.TempDir())
	require.NoError(t, err)

	w := testWorker(t, dialer, dir)
	saved, err := w.Run(context.Background(), Range{Start: 3, End: 7})
	require.NoError(t, err)
	assert.Equal(t, 5, saved)

	for seq := uint32(3); seq <= 7; seq++ {
		raw, err := os.ReadFile(dir.Filename(seq))
		require.NoError(t, err)
		assert.Equal(t, defaultBody(seq), raw)
	}

	entries, err := os.ReadDir(dir.Path())
	require.NoError(t, err)
	assert.Len(t, entries, 5, "no stray files")
}

func TestWorkerIdempotentRerun(t *testing.T) {
	dialer := &countingDialer{srv: &fakeServer{exists: 25}}
	dir, err := store.NewDir(t.TempDir())
	require.NoError(t, err)

	w := testWorker(t, dialer, dir)
	for run := 0; run < 2; run++ {
		saved, err := w.Run(context.Background(), Range{Start: 1, End: 2})
		require.NoError(t, err)
		require.Equal(t, 2, saved)
	}

	entries, err := os.ReadDir(dir.Path())
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	raw, err := os.ReadFile(filepath.Join(dir.Path(), "email_00001.eml"))
	require.NoError(t, err)
	assert.Equal(t, defaultBody(1), raw)
}

func TestWorkerAuthFailure(t *testing.T) {
	dialer := &countingDialer{srv: &fakeServer{
		exists:    25,
		failLogin: func(int) bool { return true },
	}}
	dir, err := store.NewDir(t.TempDir())
	require.NoError(t, err)

	w := testWorker(t, dialer, dir)
	saved, err := w.Run(context.Background(), Range{Start: 1, End: 10})

	var authErr *imap.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Zero(t, saved)

	entries, err := os.ReadDir(dir.Path())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWorkerFilterSkipsMessages(t *testing.T) {
	dialer := &countingDialer{srv: &fakeServer{exists: 25}}
	dir, err := store.NewDir(t.TempDir())
	require.NoError(t, err)

	f, err := filter.New(filter.Options{ExcludeHeader: []string{"Subject: message [13]"}})
	require.NoError(t, err)

	w := testWorker(t, dialer, dir)
	w.Filter = f
	saved, err := w.Run(context.Background(), Range{Start: 1, End: 4})
	require.NoError(t, err)
	assert.Equal(t, 2, saved)

	assert.NoFileExists(t, dir.Filename(1))
	assert.FileExists(t, dir.Filename(2))
	assert.NoFileExists(t, dir.Filename(3))
	assert.FileExists(t, dir.Filename(4))
}

type errSink struct{ err error }

func (s errSink) Save(model.Message) error { return s.err }

func TestWorkerSinkErrorFailsBatch(t *testing.T) {
	dialer := &countingDialer{srv: &fakeServer{exists: 25}}

	w := testWorker(t, dialer, errSink{err: os.ErrPermission})
	saved, err := w.Run(context.Background(), Range{Start: 1, End: 3})
	require.ErrorIs(t, err, os.ErrPermission)
	assert.Zero(t, saved)
}
