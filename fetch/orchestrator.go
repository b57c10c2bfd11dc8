package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mkeller/imapfetch/filter"
	"github.com/mkeller/imapfetch/imap"
	"github.com/mkeller/imapfetch/stats"
	"github.com/mkeller/imapfetch/store"
)

const (
	// DefaultMaxConcurrent caps simultaneous connections.
	DefaultMaxConcurrent = 5
	// DefaultLaunchDelay separates successive worker launches so connection
	// attempts do not burst.
	DefaultLaunchDelay = 50 * time.Millisecond
)

// Options configures a run.
type Options struct {
	Dialer  imap.Dialer
	Creds   imap.Credentials
	Mailbox string
	Timeout time.Duration
	Tags    imap.Tags

	BatchSize     uint32
	MaxConcurrent int
	LaunchDelay   time.Duration

	Store   Sink
	Archive *store.Archive
	Filter  *filter.Filter
}

// BatchError records which range failed and why.
type BatchError struct {
	Range Range
	Err   error
}

func (e BatchError) Error() string {
	return fmt.Sprintf("batch %s: %v", e.Range, e.Err)
}

func (e BatchError) Unwrap() error { return e.Err }

// Summary is the final outcome of a run. A run with failed batches is still a
// completed run; the caller decides how to present the failures.
type Summary struct {
	Saved    int
	Errored  int
	Failures []BatchError
}

// Orchestrator partitions the mailbox into ranges and runs one worker per
// range under a concurrency limit. One range's failure never cancels or
// delays another.
type Orchestrator struct {
	opts   Options
	logger *slog.Logger

	subscribers []*subscriber
	statsWG     sync.WaitGroup
	closeOnce   sync.Once
}

// Every subscriber owns its own channel so each one sees the full event
// stream, not a share of it.
type subscriber struct {
	name string
	fn   func(context.Context, <-chan stats.Event) error
	ch   chan stats.Event
}

// New validates the options and applies defaults.
func New(opts Options, logger *slog.Logger) (*Orchestrator, error) {
	if opts.Dialer == nil {
		return nil, fmt.Errorf("dialer must not be nil")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store must not be nil")
	}
	if opts.MaxConcurrent < 0 {
		return nil, fmt.Errorf("max concurrent must be positive")
	}
	if opts.MaxConcurrent == 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.LaunchDelay == 0 {
		opts.LaunchDelay = DefaultLaunchDelay
	}

	return &Orchestrator{
		opts:   opts,
		logger: logger,
	}, nil
}

// Subscribe registers a consumer of the run's event stream. Subscribers start
// when Run starts and drain the stream until it closes.
func (o *Orchestrator) Subscribe(name string, fn func(context.Context, <-chan stats.Event) error) {
	o.subscribers = append(o.subscribers, &subscriber{
		name: name,
		fn:   fn,
		ch:   make(chan stats.Event, 128),
	})
}

// Run fetches all total messages and returns the aggregated summary. With
// total == 0 it returns immediately and opens no connections. Batch failures
// are counted, not propagated; Run itself only fails on cancellation before
// any work could be recorded.
func (o *Orchestrator) Run(ctx context.Context, total uint32) (Summary, error) {
	if total == 0 {
		if o.logger != nil {
			o.logger.Info("mailbox is empty, nothing to fetch")
		}
		return Summary{}, nil
	}

	ranges := Partition(total, o.opts.BatchSize)
	if o.logger != nil {
		o.logger.Info("fetching in batches",
			"total", total,
			"batches", len(ranges),
			"batchSize", o.opts.BatchSize,
			"maxConcurrent", o.opts.MaxConcurrent)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.startSubscribers(subCtx)

	var (
		mu      sync.Mutex
		summary Summary
		wg      sync.WaitGroup
	)
	sem := make(chan struct{}, o.opts.MaxConcurrent)

	record := func(r Range, saved int, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			summary.Errored++
			summary.Failures = append(summary.Failures, BatchError{Range: r, Err: err})
			return
		}
		summary.Saved += saved
	}

launch:
	for i, r := range ranges {
		if i > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(o.opts.LaunchDelay):
			}
		}

		select {
		case <-ctx.Done():
			// Stop admitting work; ranges never launched count as failed.
			for _, rest := range ranges[i:] {
				record(rest, 0, ctx.Err())
				o.emit(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeBatchFailed, Batch: rest.String(), Count: rest.Len(), Err: ctx.Err()})
			}
			break launch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(r Range) {
			defer wg.Done()
			defer func() { <-sem }()
			o.runBatch(ctx, r, record)
		}(r)
	}

	wg.Wait()
	o.closeEvents()
	o.statsWG.Wait()

	if o.logger != nil {
		o.logger.Info("fetch run completed", "saved", summary.Saved, "errored", summary.Errored)
	}
	return summary, nil
}

func (o *Orchestrator) runBatch(ctx context.Context, r Range, record func(Range, int, error)) {
	o.emit(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeBatchStarted, Batch: r.String()})

	// The worker runs in this goroutine, so delivered needs no locking.
	delivered := 0
	worker := &Worker{
		Dialer:  o.opts.Dialer,
		Creds:   o.opts.Creds,
		Mailbox: o.opts.Mailbox,
		Timeout: o.opts.Timeout,
		Tags:    o.opts.Tags,
		Store:   o.opts.Store,
		Archive: o.opts.Archive,
		Filter:  o.opts.Filter,
		Logger:  o.logger,
		Emit: func(evt stats.Event) {
			if evt.Type == stats.EventTypeSaved || evt.Type == stats.EventTypeFiltered {
				delivered++
			}
			o.emit(evt)
		},
	}

	saved, err := worker.Run(ctx, r)
	record(r, saved, err)

	if err != nil {
		// Saved and filtered messages already produced their own events;
		// Count covers only what the failure left behind.
		o.emit(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeBatchFailed, Batch: r.String(), Count: r.Len() - delivered, Err: err})
		if o.logger != nil {
			o.logger.Error("batch failed", "range", r.String(), "saved", saved, "err", err)
		}
		return
	}

	o.emit(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeBatchDone, Batch: r.String()})
	if o.logger != nil {
		o.logger.Info("batch done", "range", r.String(), "saved", saved)
	}
}

func (o *Orchestrator) startSubscribers(ctx context.Context) {
	for _, sub := range o.subscribers {
		sub := sub
		o.statsWG.Add(1)
		go func() {
			defer o.statsWG.Done()
			if err := sub.fn(ctx, sub.ch); err != nil && !errors.Is(err, context.Canceled) {
				if o.logger != nil {
					o.logger.Warn("stats subscriber failed", "name", sub.name, "err", err)
				}
			}
		}()
	}
}

func (o *Orchestrator) emit(evt stats.Event) {
	for _, sub := range o.subscribers {
		sub.ch <- evt
	}
}

func (o *Orchestrator) closeEvents() {
	o.closeOnce.Do(func() {
		for _, sub := range o.subscribers {
			close(sub.ch)
		}
	})
}
