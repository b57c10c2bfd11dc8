package progress

import (
	"context"
	"sync"

	"github.com/pterm/pterm"

	"github.com/mkeller/imapfetch/stats"
)

// Bar renders a progress bar across the total message count of the run.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	mu      sync.Mutex
	enabled bool
}

// New creates a progress bar if logLevel is "info"; at other levels terminal
// output is left to the logger alone.
func New(total int, logLevel string) *Bar {
	enabled := logLevel == "info" && total > 0

	bar := &Bar{total: total, enabled: enabled}
	if enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Fetching messages").
			Start()
		bar.pb = pb
	}
	return bar
}

// Update advances the bar based on the event type.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeSaved, stats.EventTypeFiltered:
		b.pb.Increment()
	case stats.EventTypeBatchFailed:
		// A failed batch's messages will never arrive; skip past them so
		// the bar still completes.
		if evt.Count > 0 {
			b.pb.Add(evt.Count)
		}
		if evt.Err != nil {
			pterm.Error.Printf("Batch %s failed: %v\n", evt.Batch, evt.Err)
		}
	}
}

// Stop finalizes the bar.
func (b *Bar) Stop(summary stats.Summary) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	_, _ = b.pb.Stop()
	if summary.BatchesFailed > 0 {
		pterm.Warning.Printf("Saved %d messages, %d batches failed\n", summary.Saved, summary.BatchesFailed)
		return
	}
	pterm.Success.Printf("Saved %d messages\n", summary.Saved)
}

// Subscriber adapts the bar to the orchestrator's event stream.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}
