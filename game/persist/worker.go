package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wricardo/mcp-training/gamehub/game/history"
)

const DefaultQueueSize = 32

var (
	ErrPersistence  = errors.New("persistence failed")
	ErrWorkerClosed = errors.New("persistence worker closed")
)

// Worker saves one session's checkpoints in the order they were enqueued.
type Worker struct {
	sessionID string
	store     SessionStore
	logger    zerolog.Logger
	tracer    trace.Tracer
	timeout   time.Duration

	jobs   chan history.Checkpoint
	done   chan struct{}
	mu     sync.Mutex
	closed bool

	onSaved func(history.Checkpoint)
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithSaveTimeout bounds each store call.
func WithSaveTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.timeout = d
	}
}

// WithOnSaved registers a callback invoked on the worker goroutine after a
// checkpoint has been written.
func WithOnSaved(fn func(history.Checkpoint)) WorkerOption {
	return func(w *Worker) {
		w.onSaved = fn
	}
}

// NewWorker starts a worker goroutine for sessionID. queueSize <= 0 uses
// DefaultQueueSize.
func NewWorker(sessionID string, store SessionStore, queueSize int, logger zerolog.Logger, opts ...WorkerOption) *Worker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	w := &Worker{
		sessionID: sessionID,
		store:     store,
		logger:    logger.With().Str("component", "persist").Str("session_id", sessionID).Logger(),
		tracer:    otel.Tracer("gamehub/persist"),
		timeout:   10 * time.Second,
		jobs:      make(chan history.Checkpoint, queueSize),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.run()
	return w
}

// Enqueue schedules a checkpoint without blocking. If the queue is full the
// oldest pending checkpoint is dropped to make room.
func (w *Worker) Enqueue(cp history.Checkpoint) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		w.logger.Warn().Uint64("seq", cp.Seq).Err(ErrWorkerClosed).Msg("checkpoint discarded")
		return
	}

	for {
		select {
		case w.jobs <- cp:
			return
		default:
		}

		select {
		case old := <-w.jobs:
			jobsDroppedTotal.Inc()
			w.logger.Warn().
				Uint64("dropped_seq", old.Seq).
				Uint64("seq", cp.Seq).
				Msg("persistence queue full, dropping oldest checkpoint")
		default:
		}
	}
}

// Pending returns the number of queued checkpoints.
func (w *Worker) Pending() int {
	return len(w.jobs)
}

// Close stops accepting checkpoints, saves whatever is queued and waits for
// the worker goroutine to exit. It is safe to call more than once.
func (w *Worker) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()
	<-w.done
}

func (w *Worker) run() {
	defer close(w.done)
	for cp := range w.jobs {
		if err := w.persist(cp); err != nil {
			w.logger.Error().Err(err).Uint64("seq", cp.Seq).Msg("failed to persist checkpoint")
			continue
		}
		if w.onSaved != nil {
			w.onSaved(cp)
		}
	}
}

func (w *Worker) persist(cp history.Checkpoint) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	ctx, span := w.tracer.Start(ctx, "persist.Save", trace.WithAttributes(
		attribute.String("session.id", w.sessionID),
		attribute.Int64("session.seq", int64(cp.Seq)),
	))
	defer span.End()

	start := time.Now()
	blob, stats, err := Encode(cp)
	if err != nil {
		jobsFailedTotal.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode")
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	span.SetAttributes(
		attribute.Int("blob.raw_bytes", stats.RawBytes),
		attribute.Int("blob.compressed_bytes", stats.CompressedBytes),
	)

	if err := w.store.Save(ctx, w.sessionID, blob); err != nil {
		jobsFailedTotal.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "save")
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	saveDuration.Observe(time.Since(start).Seconds())
	compressedBytes.Observe(float64(stats.CompressedBytes))
	jobsSavedTotal.Inc()
	w.logger.Debug().
		Uint64("seq", cp.Seq).
		Int("raw_bytes", stats.RawBytes).
		Int("compressed_bytes", stats.CompressedBytes).
		Msg("checkpoint saved")
	return nil
}
