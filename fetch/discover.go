package fetch

import (
	"context"
	"log/slog"
	"time"

	"github.com/mkeller/imapfetch/imap"
)

// Discover opens a dedicated connection solely to learn the mailbox's current
// message count. A failure here is fatal to the whole run: no batches are
// attempted when the count cannot be obtained.
func Discover(ctx context.Context, dialer imap.Dialer, creds imap.Credentials, mailbox string, timeout time.Duration, logger *slog.Logger) (uint32, error) {
	conn, err := dialer.Dial(ctx)
	if err != nil {
		return 0, err
	}

	sess := imap.NewSession(conn, timeout, logger)
	defer sess.Close()

	if err := sess.Greeting(); err != nil {
		return 0, err
	}
	if err := sess.Login(creds); err != nil {
		return 0, err
	}
	if mailbox == "" {
		mailbox = "INBOX"
	}
	count, err := sess.Select(mailbox)
	if err != nil {
		return 0, err
	}
	if err := sess.Logout(); err != nil && logger != nil {
		logger.Debug("logout failed after discovery", "err", err)
	}

	if logger != nil {
		logger.Info("mailbox discovered", "mailbox", mailbox, "messages", count)
	}
	return count, nil
}
