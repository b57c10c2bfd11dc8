package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Stage string

const (
	StageDiscover Stage = "discover"
	StageFetch    Stage = "fetch"
	StageStore    Stage = "store"
)

type EventType string

const (
	EventTypeBatchStarted EventType = "batch_started"
	EventTypeSaved        EventType = "saved"
	EventTypeFiltered     EventType = "filtered"
	EventTypeBatchDone    EventType = "batch_done"
	EventTypeBatchFailed  EventType = "batch_failed"
)

type Event struct {
	Stage  Stage
	Type   EventType
	SeqNum uint32
	Batch  string
	// Count is the number of messages a failed batch leaves unfetched.
	// Only set on EventTypeBatchFailed.
	Count int
	Err   error
}

type Summary struct {
	BatchesStarted int
	BatchesDone    int
	BatchesFailed  int
	Saved          int
	Filtered       int
	LastError      error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"batches", s.BatchesStarted,
		"batchesDone", s.BatchesDone,
		"batchesFailed", s.BatchesFailed,
		"saved", s.Saved,
		"filtered", s.Filtered,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeBatchStarted:
		c.summary.BatchesStarted++
	case EventTypeSaved:
		c.summary.Saved++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeBatchDone:
		c.summary.BatchesDone++
	case EventTypeBatchFailed:
		c.summary.BatchesFailed++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

// EventStream is implemented by the orchestrator; subscribers receive every
// event emitted during a run.
type EventStream interface {
	Subscribe(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.Subscribe("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}
