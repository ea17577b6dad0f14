package auth

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lockboxhq/lockbox/backend/internal/metrics"
	"github.com/lockboxhq/lockbox/backend/internal/repository"
)

// AuditSink receives audit events. Implementations must tolerate failure;
// the emitter never propagates sink errors to the triggering operation.
type AuditSink interface {
	Write(ctx context.Context, event *repository.AuditEvent) error
}

// RepositorySink persists audit events through the audit repository
type RepositorySink struct {
	repo    *repository.AuditRepository
	timeout time.Duration
}

// NewRepositorySink creates a sink backed by the audit repository
func NewRepositorySink(repo *repository.AuditRepository, timeout time.Duration) *RepositorySink {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &RepositorySink{repo: repo, timeout: timeout}
}

// Write inserts the event with a bounded deadline
func (s *RepositorySink) Write(ctx context.Context, event *repository.AuditEvent) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.Insert(ctx, event)
}

// AuditEmitterConfig holds audit emitter configuration
type AuditEmitterConfig struct {
	BufferSize int
	DropIfFull bool
}

// AuditEmitter is a best-effort, fire-and-forget event sink. Events are
// queued on a buffered channel and written by a single worker; a full buffer
// drops the event (when configured) rather than blocking the triggering
// operation. Close drains whatever is still queued.
type AuditEmitter struct {
	cfg       AuditEmitterConfig
	sink      AuditSink
	logger    *slog.Logger
	ch        chan *repository.AuditEvent
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewAuditEmitter creates and starts an audit emitter
func NewAuditEmitter(cfg AuditEmitterConfig, sink AuditSink, logger *slog.Logger) *AuditEmitter {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &AuditEmitter{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		ch:     make(chan *repository.AuditEvent, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	e.wg.Add(1)
	go e.run()

	return e
}

func (e *AuditEmitter) run() {
	defer e.wg.Done()

	for {
		select {
		case event := <-e.ch:
			e.write(event)
		case <-e.done:
			for {
				select {
				case event := <-e.ch:
					e.write(event)
				default:
					return
				}
			}
		}
	}
}

func (e *AuditEmitter) write(event *repository.AuditEvent) {
	if err := e.sink.Write(context.Background(), event); err != nil {
		// A failed write is logged and forgotten; audit emission never
		// fails the operation that produced the event.
		e.logger.Warn("audit event write failed",
			"action", event.Action,
			"category", event.Category,
			"error", err,
		)
		metrics.AuditWriteFailures.Inc()
	}
}

// Emit queues an event for persistence. Safe to call on a nil emitter.
func (e *AuditEmitter) Emit(ctx context.Context, event *repository.AuditEvent) {
	if e == nil || e.closed.Load() {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	if e.cfg.DropIfFull {
		select {
		case e.ch <- event:
		case <-e.done:
		default:
			e.dropped.Add(1)
			metrics.AuditEventsDropped.Inc()
		}
		return
	}

	select {
	case e.ch <- event:
	case <-ctx.Done():
	case <-e.done:
	}
}

// Close stops the emitter and drains queued events
func (e *AuditEmitter) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
		e.wg.Wait()
	})
}

// Dropped returns the number of events discarded because the buffer was full
func (e *AuditEmitter) Dropped() uint64 {
	if e == nil {
		return 0
	}
	return e.dropped.Load()
}

// event is a small builder used by the lifecycle manager so every outcome
// branch emits with the same shape.
func auditEvent(category repository.AuditCategory, action string, status repository.AuditStatus, accountID *uuid.UUID, device DeviceInfo) *repository.AuditEvent {
	return &repository.AuditEvent{
		AccountID: accountID,
		Category:  category,
		Action:    action,
		Status:    status,
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
		CreatedAt: time.Now().UTC(),
	}
}
