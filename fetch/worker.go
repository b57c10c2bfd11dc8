package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkeller/imapfetch/filter"
	"github.com/mkeller/imapfetch/imap"
	"github.com/mkeller/imapfetch/model"
	"github.com/mkeller/imapfetch/stats"
	"github.com/mkeller/imapfetch/store"
)

// Sink receives each message a worker fetches. *store.Dir is the production
// implementation.
type Sink interface {
	Save(msg model.Message) error
}

// Worker fetches one range of messages over its own dedicated connection.
// Nothing is shared with concurrent workers except the read-only credentials
// and the destination, so workers never race each other.
type Worker struct {
	Dialer  imap.Dialer
	Creds   imap.Credentials
	Mailbox string
	Timeout time.Duration
	Tags    imap.Tags

	Store   Sink
	Archive *store.Archive
	Filter  *filter.Filter

	Logger *slog.Logger
	Emit   func(stats.Event)
}

// Run performs the full sequence for one range: connect, login, select,
// fetch, logout. It returns how many messages it saved; the first error at
// any step fails the batch. Logout is best effort and cannot fail the batch.
func (w *Worker) Run(ctx context.Context, r Range) (int, error) {
	conn, err := w.Dialer.Dial(ctx)
	if err != nil {
		return 0, err
	}

	sess := imap.NewSession(conn, w.Timeout, w.Logger)
	defer sess.Close()
	if w.Tags != (imap.Tags{}) {
		sess.SetTags(w.Tags)
	}

	if err := sess.Greeting(); err != nil {
		return 0, err
	}
	if err := sess.Login(w.Creds); err != nil {
		return 0, err
	}
	if _, err := sess.Select(w.mailbox()); err != nil {
		return 0, err
	}

	saved := 0
	err = sess.Fetch(r.Start, r.End, func(msg model.Message) error {
		if w.Filter != nil && !w.Filter.Allows(msg.Raw) {
			w.emit(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeFiltered, SeqNum: msg.SeqNum, Batch: r.String()})
			if w.Logger != nil {
				w.Logger.Debug("message filtered", "seqNum", msg.SeqNum, "size", msg.Size)
			}
			return nil
		}

		if err := w.Store.Save(msg); err != nil {
			return fmt.Errorf("save message %d: %w", msg.SeqNum, err)
		}
		if w.Archive != nil {
			if err := w.Archive.Append(msg); err != nil {
				return fmt.Errorf("archive message %d: %w", msg.SeqNum, err)
			}
		}

		saved++
		w.emit(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeSaved, SeqNum: msg.SeqNum, Batch: r.String()})
		if w.Logger != nil {
			w.Logger.Debug("saved message", "seqNum", msg.SeqNum, "size", msg.Size)
		}
		return nil
	})
	if err != nil {
		return saved, err
	}

	if err := sess.Logout(); err != nil && w.Logger != nil {
		w.Logger.Debug("logout failed", "range", r.String(), "err", err)
	}

	return saved, nil
}

func (w *Worker) mailbox() string {
	if w.Mailbox == "" {
		return "INBOX"
	}
	return w.Mailbox
}

func (w *Worker) emit(evt stats.Event) {
	if w.Emit != nil {
		w.Emit(evt)
	}
}
