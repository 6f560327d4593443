package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ffwd/internal/model"
	"ffwd/internal/stats"
)

const (
	defaultFlushInterval     = 10 * time.Second
	defaultBatchSizeLimit    = 10000
	defaultMaxPendingFlushes = 1000
	defaultMaxQueuedBatches  = 1000
)

// ErrQueueFull marks a batch discarded because every flush slot and queue slot was taken.
var ErrQueueFull = errors.New("flush queue full")

// Overflow selects what happens to a batch when the flush queue is full.
type Overflow string

const (
	OverflowDrop  Overflow = "drop"
	OverflowBlock Overflow = "block"
)

// FlushConfig bounds batching and in-flight flushes; zero fields take defaults.
type FlushConfig struct {
	Interval          time.Duration
	BatchSizeLimit    int
	MaxPendingFlushes int
	MaxQueuedBatches  int
	Overflow          Overflow
}

// withDefaults fills zero fields.
// Params: none.
// Returns: config copy with defaults applied.
func (c FlushConfig) withDefaults() FlushConfig {
	if c.Interval <= 0 {
		c.Interval = defaultFlushInterval
	}
	if c.BatchSizeLimit <= 0 {
		c.BatchSizeLimit = defaultBatchSizeLimit
	}
	if c.MaxPendingFlushes <= 0 {
		c.MaxPendingFlushes = defaultMaxPendingFlushes
	}
	if c.MaxQueuedBatches < 0 {
		c.MaxQueuedBatches = 0
	} else if c.MaxQueuedBatches == 0 {
		c.MaxQueuedBatches = defaultMaxQueuedBatches
	}
	switch Overflow(strings.ToLower(string(c.Overflow))) {
	case OverflowBlock:
		c.Overflow = OverflowBlock
	default:
		c.Overflow = OverflowDrop
	}
	return c
}

type batch struct {
	metrics []model.Metric
	events  []model.Event
}

func (b *batch) size() int {
	return len(b.metrics) + len(b.events)
}

// FlushingSink accumulates records and hands full or aged batches to a BatchSink.
// Params: wrapped batch sink, flush config, stats, and logger.
// Returns: sink that bounds in-flight flushes and queues or drops overflow.
type FlushingSink struct {
	name   string
	cfg    FlushConfig
	sink   BatchSink
	stats  *stats.Stats
	logger *slog.Logger

	batchMu sync.Mutex
	current *batch

	dispatchMu sync.Mutex
	slotFreed  *sync.Cond
	inFlight   int
	queue      []*batch
	closed     bool

	flushCtx    context.Context
	cancelFlush context.CancelFunc
	flushers    sync.WaitGroup

	stopTicker chan struct{}
	tickerDone chan struct{}
}

// NewFlushingSink wraps sink with batching.
// Params: name sink id for logs/stats; sink delivery target; cfg flush bounds; st optional stats; logger.
// Returns: flushing sink accepting records until Stop.
func NewFlushingSink(name string, sink BatchSink, cfg FlushConfig, st *stats.Stats, logger *slog.Logger) *FlushingSink {
	cfg = cfg.withDefaults()
	flushCtx, cancel := context.WithCancel(context.Background())
	out := &FlushingSink{
		name:        name,
		cfg:         cfg,
		sink:        sink,
		stats:       st,
		logger:      logger.With(slog.String("sink", name)),
		current:     newBatch(cfg.BatchSizeLimit),
		flushCtx:    flushCtx,
		cancelFlush: cancel,
	}
	out.slotFreed = sync.NewCond(&out.dispatchMu)
	return out
}

func newBatch(limit int) *batch {
	capacity := limit
	if capacity > 1024 {
		capacity = 1024
	}
	return &batch{metrics: make([]model.Metric, 0, capacity)}
}

// Name returns the configured sink id.
func (s *FlushingSink) Name() string {
	return s.name
}

// Start starts the wrapped sink and arms the flush ticker.
// Params: ctx bounds wrapped sink start.
// Returns: wrapped sink start error.
func (s *FlushingSink) Start(ctx context.Context) error {
	if err := s.sink.Start(ctx); err != nil {
		return err
	}

	s.batchMu.Lock()
	if s.stopTicker != nil {
		s.batchMu.Unlock()
		return nil
	}
	s.stopTicker = make(chan struct{})
	s.tickerDone = make(chan struct{})
	stop, done := s.stopTicker, s.tickerDone
	s.batchMu.Unlock()

	go s.tickLoop(stop, done)
	return nil
}

func (s *FlushingSink) tickLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.flushCurrent()
		}
	}
}

// IsReady delegates to the wrapped sink.
func (s *FlushingSink) IsReady() bool {
	return s.sink.IsReady()
}

// SendMetric appends metric to the current batch; dropped after Stop.
func (s *FlushingSink) SendMetric(metric model.Metric) {
	s.batchMu.Lock()
	if s.current == nil {
		s.batchMu.Unlock()
		return
	}
	s.current.metrics = append(s.current.metrics, metric)
	full := s.swapIfFull()
	s.batchMu.Unlock()

	if full != nil {
		s.dispatch(full)
	}
}

// SendEvent appends event to the current batch; dropped after Stop.
func (s *FlushingSink) SendEvent(event model.Event) {
	s.batchMu.Lock()
	if s.current == nil {
		s.batchMu.Unlock()
		return
	}
	s.current.events = append(s.current.events, event)
	full := s.swapIfFull()
	s.batchMu.Unlock()

	if full != nil {
		s.dispatch(full)
	}
}

// swapIfFull replaces a batch that reached the size limit; caller holds batchMu.
func (s *FlushingSink) swapIfFull() *batch {
	if s.current.size() < s.cfg.BatchSizeLimit {
		return nil
	}
	full := s.current
	s.current = newBatch(s.cfg.BatchSizeLimit)
	return full
}

// flushCurrent dispatches the current batch when it is not empty; only the ticker calls it.
func (s *FlushingSink) flushCurrent() {
	s.batchMu.Lock()
	if s.current == nil || s.current.size() == 0 {
		s.batchMu.Unlock()
		return
	}
	full := s.current
	s.current = newBatch(s.cfg.BatchSizeLimit)
	s.batchMu.Unlock()

	s.dispatchBatch(full, true)
}

// Pending reports batches in flight plus batches waiting in the queue.
func (s *FlushingSink) Pending() int {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	return s.inFlight + len(s.queue)
}

// dispatch hands a producer's batch to the flush pipeline.
// Params: b batch detached from the accumulator.
// Returns: ErrQueueFull when the batch was discarded.
func (s *FlushingSink) dispatch(b *batch) error {
	return s.dispatchBatch(b, false)
}

// dispatchBatch starts a flush, queues the batch, or applies the overflow policy.
// Once closed, only joined callers (the ticker and Stop itself, both finished
// before Stop waits on flushers) may start a flusher; everyone else may only
// queue behind a running one, and nobody waits for a slot.
// Params: b detached batch; joined reports whether Stop waits for the caller.
// Returns: ErrQueueFull when the batch was discarded.
func (s *FlushingSink) dispatchBatch(b *batch, joined bool) error {
	s.dispatchMu.Lock()
	for {
		if (joined || !s.closed) && s.inFlight < s.cfg.MaxPendingFlushes {
			s.inFlight++
			s.flushers.Add(1)
			s.reportPendingLocked()
			s.dispatchMu.Unlock()
			go s.flushLoop(b)
			return nil
		}
		if (!s.closed || s.inFlight > 0) && len(s.queue) < s.cfg.MaxQueuedBatches {
			s.queue = append(s.queue, b)
			s.reportPendingLocked()
			s.dispatchMu.Unlock()
			return nil
		}
		if s.cfg.Overflow == OverflowDrop || s.closed {
			s.dispatchMu.Unlock()
			s.stats.BatchDropped(s.name, b.size())
			s.logger.Warn(
				"dropping batch",
				slog.Int("records", b.size()),
				slog.String("error", ErrQueueFull.Error()),
			)
			return ErrQueueFull
		}
		s.slotFreed.Wait()
	}
}

// flushLoop delivers b, then keeps draining the queue in FIFO order while it has entries.
func (s *FlushingSink) flushLoop(b *batch) {
	defer s.flushers.Done()

	for b != nil {
		s.deliver(b)

		s.dispatchMu.Lock()
		if len(s.queue) > 0 {
			b = s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
		} else {
			b = nil
			s.inFlight--
		}
		s.reportPendingLocked()
		s.slotFreed.Broadcast()
		s.dispatchMu.Unlock()
	}
}

func (s *FlushingSink) deliver(b *batch) {
	var errs []error
	if len(b.metrics) > 0 {
		if err := s.sink.SendMetrics(s.flushCtx, b.metrics); err != nil {
			errs = append(errs, fmt.Errorf("send %d metrics: %w", len(b.metrics), err))
		}
	}
	if len(b.events) > 0 {
		if err := s.sink.SendEvents(s.flushCtx, b.events); err != nil {
			errs = append(errs, fmt.Errorf("send %d events: %w", len(b.events), err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		s.stats.FlushFailed(s.name)
		s.logger.Error("flush failed", slog.String("error", err.Error()))
		return
	}
	s.stats.FlushCompleted(s.name)
}

func (s *FlushingSink) reportPendingLocked() {
	s.stats.SetPending(s.name, s.inFlight+len(s.queue))
}

// Stop flushes the last batch, waits for in-flight flushes, and stops the wrapped sink.
// Blocked producers are released first; with every slot taken the last batch is dropped.
// Params: ctx bounds the wait for outstanding flushes.
// Returns: ctx error when flushes did not finish in time, joined with wrapped sink stop error.
func (s *FlushingSink) Stop(ctx context.Context) error {
	s.dispatchMu.Lock()
	s.closed = true
	s.slotFreed.Broadcast()
	s.dispatchMu.Unlock()

	s.batchMu.Lock()
	last := s.current
	s.current = nil
	stop, done := s.stopTicker, s.tickerDone
	s.stopTicker = nil
	s.batchMu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	if last != nil && last.size() > 0 {
		_ = s.dispatchBatch(last, true)
	}

	var waitErr error
	flushed := make(chan struct{})
	go func() {
		s.flushers.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-ctx.Done():
		waitErr = fmt.Errorf("wait for %d pending flushes: %w", s.Pending(), ctx.Err())
		s.cancelFlush()
	}

	stopErr := s.sink.Stop(ctx)
	if waitErr == nil {
		s.cancelFlush()
	}
	return errors.Join(waitErr, stopErr)
}
