package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lockboxhq/lockbox/backend/internal/repository"
)

// blockingSink holds writes until released, to fill the emitter buffer
type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	written int
}

func newBlockingSink() *blockingSink {
	return &blockingSink{release: make(chan struct{})}
}

func (s *blockingSink) Write(ctx context.Context, event *repository.AuditEvent) error {
	<-s.release
	s.mu.Lock()
	s.written++
	s.mu.Unlock()
	return nil
}

func (s *blockingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func testEvent(action string) *repository.AuditEvent {
	return auditEvent(repository.AuditAuth, action, repository.AuditSuccess, nil, DeviceInfo{})
}

func TestEmitterDeliversEvents(t *testing.T) {
	sink := &recordingSink{}
	emitter := NewAuditEmitter(AuditEmitterConfig{BufferSize: 16, DropIfFull: true}, sink, nil)

	for i := 0; i < 5; i++ {
		emitter.Emit(context.Background(), testEvent("login"))
	}
	emitter.Close()

	if got := len(sink.byAction("login")); got != 5 {
		t.Errorf("expected 5 events delivered, got %d", got)
	}
	if emitter.Dropped() != 0 {
		t.Errorf("expected no drops, got %d", emitter.Dropped())
	}
}

func TestEmitterDropsWhenFull(t *testing.T) {
	sink := newBlockingSink()
	emitter := NewAuditEmitter(AuditEmitterConfig{BufferSize: 2, DropIfFull: true}, sink, nil)

	// The worker blocks on the first write; the buffer holds two more.
	// Everything past that must drop without blocking this goroutine.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			emitter.Emit(context.Background(), testEvent("login"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked with a full buffer despite DropIfFull")
	}

	if emitter.Dropped() == 0 {
		t.Error("expected dropped events with a full buffer")
	}

	close(sink.release)
	emitter.Close()
}

func TestEmitterDrainsOnClose(t *testing.T) {
	sink := &recordingSink{}
	emitter := NewAuditEmitter(AuditEmitterConfig{BufferSize: 64, DropIfFull: true}, sink, nil)

	for i := 0; i < 20; i++ {
		emitter.Emit(context.Background(), testEvent("refresh"))
	}
	emitter.Close()

	if got := len(sink.byAction("refresh")); got != 20 {
		t.Errorf("expected all 20 queued events drained on close, got %d", got)
	}
}

func TestEmitterCloseIsIdempotent(t *testing.T) {
	emitter := NewAuditEmitter(AuditEmitterConfig{BufferSize: 4, DropIfFull: true}, &recordingSink{}, nil)
	emitter.Close()
	emitter.Close()

	// Emitting after close is a silent no-op
	emitter.Emit(context.Background(), testEvent("login"))
}

func TestNilEmitterIsSafe(t *testing.T) {
	var emitter *AuditEmitter
	emitter.Emit(context.Background(), testEvent("login"))
	emitter.Close()
	if emitter.Dropped() != 0 {
		t.Error("nil emitter should report zero drops")
	}
}

// failingSink always errors
type failingSink struct {
	mu    sync.Mutex
	calls int
}

func (s *failingSink) Write(ctx context.Context, event *repository.AuditEvent) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return errors.New("sink unavailable")
}

func TestEmitterToleratesSinkFailure(t *testing.T) {
	sink := &failingSink{}
	emitter := NewAuditEmitter(AuditEmitterConfig{BufferSize: 8, DropIfFull: true}, sink, nil)

	for i := 0; i < 3; i++ {
		emitter.Emit(context.Background(), testEvent("login"))
	}
	emitter.Close()

	sink.mu.Lock()
	calls := sink.calls
	sink.mu.Unlock()
	if calls != 3 {
		t.Errorf("expected 3 write attempts, got %d", calls)
	}
}
