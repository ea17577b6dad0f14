package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/lockboxhq/lockbox/backend/internal/repository"
)

// fakeEventSource serves a fixed, cursor-ordered slice with the same strict
// (created_at, id) filtering as the audit repository.
type fakeEventSource struct {
	events []*repository.AuditEvent
}

func (f *fakeEventSource) ListSince(ctx context.Context, since time.Time, sinceID uuid.UUID, limit int) ([]*repository.AuditEvent, error) {
	var out []*repository.AuditEvent
	for _, event := range f.events {
		if event.CreatedAt.Before(since) {
			continue
		}
		if event.CreatedAt.Equal(since) && bytes.Compare(event.ID[:], sinceID[:]) <= 0 {
			continue
		}
		out = append(out, event)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeUploader struct {
	fail    bool
	uploads []string
}

func (f *fakeUploader) PutObject(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.fail {
		return nil, errors.New("bucket unavailable")
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.uploads = append(f.uploads, string(body))
	return &s3.PutObjectOutput{}, nil
}

func newTestArchiver(source EventSource, uploader objectUploader, start time.Time, batchSize int) *Archiver {
	return &Archiver{
		client:    uploader,
		source:    source,
		bucket:    "audit-test",
		batchSize: batchSize,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		watermark: start,
		done:      make(chan struct{}),
	}
}

// sortedEvents builds n events sharing one timestamp, in cursor order.
func sortedEvents(at time.Time, n int) []*repository.AuditEvent {
	events := make([]*repository.AuditEvent, n)
	for i := range events {
		var id uuid.UUID
		id[15] = byte(i + 1)
		events[i] = &repository.AuditEvent{
			ID:        id,
			Category:  repository.AuditAuth,
			Action:    "login",
			Status:    repository.AuditSuccess,
			CreatedAt: at,
		}
	}
	return events
}

func TestArchiveAdvancesPastSharedTimestamps(t *testing.T) {
	at := time.Now().UTC().Truncate(time.Second)
	source := &fakeEventSource{events: sortedEvents(at, 3)}
	uploader := &fakeUploader{}
	archiver := newTestArchiver(source, uploader, at.Add(-time.Hour), 1000)

	if err := archiver.archiveOnce(context.Background()); err != nil {
		t.Fatalf("archiveOnce failed: %v", err)
	}
	if len(uploader.uploads) != 1 {
		t.Fatalf("expected 1 upload, got %d", len(uploader.uploads))
	}
	if got := bytes.Count([]byte(uploader.uploads[0]), []byte("\n")); got != 3 {
		t.Errorf("expected 3 NDJSON lines, got %d", got)
	}

	// A second drain must not re-upload rows at the watermark timestamp.
	if err := archiver.archiveOnce(context.Background()); err != nil {
		t.Fatalf("archiveOnce failed: %v", err)
	}
	if len(uploader.uploads) != 1 {
		t.Errorf("events at the cursor timestamp were uploaded again: %d uploads", len(uploader.uploads))
	}
}

func TestArchiveDrainsOversizedSameTimestampBatch(t *testing.T) {
	at := time.Now().UTC().Truncate(time.Second)
	source := &fakeEventSource{events: sortedEvents(at, 5)}
	uploader := &fakeUploader{}
	archiver := newTestArchiver(source, uploader, at.Add(-time.Hour), 2)

	if err := archiver.archiveOnce(context.Background()); err != nil {
		t.Fatalf("archiveOnce failed: %v", err)
	}
	if len(uploader.uploads) != 3 {
		t.Fatalf("expected 3 batches of at most 2, got %d", len(uploader.uploads))
	}

	var total int
	for _, upload := range uploader.uploads {
		total += bytes.Count([]byte(upload), []byte("\n"))
	}
	if total != 5 {
		t.Errorf("expected every event archived exactly once, got %d lines", total)
	}
}

func TestArchiveKeepsWatermarkOnUploadFailure(t *testing.T) {
	at := time.Now().UTC().Truncate(time.Second)
	source := &fakeEventSource{events: sortedEvents(at, 2)}
	uploader := &fakeUploader{fail: true}
	archiver := newTestArchiver(source, uploader, at.Add(-time.Hour), 1000)

	if err := archiver.archiveOnce(context.Background()); err == nil {
		t.Fatal("expected an error from the failing upload")
	}

	uploader.fail = false
	if err := archiver.archiveOnce(context.Background()); err != nil {
		t.Fatalf("archiveOnce failed: %v", err)
	}
	if len(uploader.uploads) != 1 {
		t.Fatalf("expected the failed batch to be retried once, got %d uploads", len(uploader.uploads))
	}
	if got := bytes.Count([]byte(uploader.uploads[0]), []byte("\n")); got != 2 {
		t.Errorf("expected both events in the retried batch, got %d lines", got)
	}
}
