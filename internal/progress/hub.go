package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config tunes the Hub. Zero values fall back to the defaults below.
type Config struct {
	// BufferSize is the capacity of the Emit queue. Events beyond it are dropped.
	BufferSize int
	// MaxBatchEvents flushes a batch as soon as it holds this many events.
	MaxBatchEvents int
	// MaxBatchWait bounds how long the first event of a batch waits for company.
	MaxBatchWait time.Duration
	// SinkTimeout bounds each Consume call.
	SinkTimeout time.Duration
	// BaseContext parents every sink call.
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub collects progress events from extraction passes and hands them to sinks
// in batches. Emit is safe for concurrent use and never blocks the caller.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	logger *zap.Logger

	dropLog      rate.Sometimes
	dropped      atomic.Int64
	droppedSince atomic.Int64
	closed       atomic.Bool

	stop      chan context.Context
	done      chan struct{}
	closeOnce sync.Once
}

// NewHub starts the batching goroutine and returns a Hub ready for Emit.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	live := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   live,
		events:  make(chan Event, cfg.BufferSize),
		logger:  cfg.Logger,
		dropLog: rate.Sometimes{Interval: dropLogInterval},
		stop:    make(chan context.Context, 1),
		done:    make(chan struct{}),
	}
	go h.loop()
	return h
}

// Emit queues evt for the next batch. Invalid events and events emitted after
// Close are discarded. When the queue is full the event is counted as dropped.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event",
			zap.String("stage", string(evt.Stage)), zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
		return
	default:
	}
	h.dropped.Add(1)
	h.droppedSince.Add(1)
	h.dropLog.Do(func() {
		h.logger.Warn("progress queue full, events dropped",
			zap.Int64("dropped", h.droppedSince.Swap(0)),
			zap.Int64("dropped_total", h.dropped.Load()),
		)
	})
}

// Dropped reports how many events were discarded because the queue was full.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Close stops intake, delivers whatever is still queued, closes the sinks and
// waits for the batching goroutine. Only the first call's ctx is handed to the
// sinks; later calls just wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.stop <- ctx
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// loop owns the pending batch. The deadline starts with the first event of a
// batch, so no event waits longer than MaxBatchWait under light traffic.
func (h *Hub) loop() {
	defer close(h.done)

	var (
		pending  = h.newBatch()
		timer    *time.Timer
		deadline <-chan time.Time
	)
	disarm := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, deadline = nil, nil
	}
	deliver := func() {
		disarm()
		if len(pending) == 0 {
			return
		}
		h.deliver(pending)
		pending = h.newBatch()
	}

	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			switch {
			case len(pending) >= h.cfg.MaxBatchEvents:
				deliver()
			case timer == nil:
				timer = time.NewTimer(h.cfg.MaxBatchWait)
				deadline = timer.C
			}
		case <-deadline:
			deliver()
		case closeCtx := <-h.stop:
			disarm()
			pending = h.drain(pending)
			deliver()
			h.closeSinks(closeCtx)
			return
		}
	}
}

// drain moves everything still queued into pending, delivering full batches.
func (h *Hub) drain(pending []Event) []Event {
	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				h.deliver(pending)
				pending = h.newBatch()
			}
		default:
			return pending
		}
	}
}

func (h *Hub) newBatch() []Event {
	return make([]Event, 0, min(h.cfg.MaxBatchEvents, 64))
}

// deliver hands batch to every sink. The batch is not reused afterwards, so
// sinks may keep it.
func (h *Hub) deliver(batch []Event) {
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		err := sink.Consume(ctx, batch)
		cancel()
		if err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Int("events", len(batch)),
				zap.Error(err),
			)
		}
	}
}

func (h *Hub) closeSinks(ctx context.Context) {
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed",
				zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
		}
	}
}
