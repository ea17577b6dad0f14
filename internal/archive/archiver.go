// Package archive drains audit events to S3-compatible object storage on a
// fixed interval. Archival is best effort: a failed upload is logged and
// retried with the next batch, and the hot path never waits on it.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/lockboxhq/lockbox/backend/internal/config"
	"github.com/lockboxhq/lockbox/backend/internal/repository"
)

// EventSource lists audit events strictly after a (created_at, id) cursor,
// ordered by that cursor. The id tie-breaker lets the drain advance through
// events sharing a timestamp without re-reading or skipping any.
type EventSource interface {
	ListSince(ctx context.Context, since time.Time, sinceID uuid.UUID, limit int) ([]*repository.AuditEvent, error)
}

type objectUploader interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver periodically uploads audit-event batches as JSON-lines objects.
// The cursor advances only after a successful upload, so a failed batch is
// re-read next tick.
type Archiver struct {
	client    objectUploader
	source    EventSource
	bucket    string
	interval  time.Duration
	batchSize int
	logger    *slog.Logger

	mu          sync.Mutex
	watermark   time.Time
	watermarkID uuid.UUID

	done chan struct{}
	wg   sync.WaitGroup
}

// NewArchiver creates an Archiver from the S3 archive configuration
func NewArchiver(cfg *config.ArchiveConfig, source EventSource, logger *slog.Logger) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var endpointURL string
	if strings.HasPrefix(cfg.Endpoint, "http://") || strings.HasPrefix(cfg.Endpoint, "https://") {
		endpointURL = cfg.Endpoint
	} else if cfg.Endpoint != "" {
		protocol := "http"
		if cfg.UseSSL {
			protocol = "https"
		}
		endpointURL = protocol + "://" + cfg.Endpoint
	}

	options := s3.Options{
		Region: cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
	}
	if endpointURL != "" {
		options.BaseEndpoint = aws.String(endpointURL)
		// Path-style addressing for MinIO compatibility
		options.UsePathStyle = true
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = 5 * time.Minute
	}

	return &Archiver{
		client:    s3.New(options),
		source:    source,
		bucket:    cfg.Bucket,
		interval:  interval,
		batchSize: 1000,
		logger:    logger,
		watermark: time.Now().UTC(),
		done:      make(chan struct{}),
	}, nil
}

// Start launches the background archival loop
func (a *Archiver) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := a.archiveOnce(context.Background()); err != nil {
					a.logger.Warn("audit archive upload failed",
						slog.String("error", err.Error()))
				}
			case <-a.done:
				return
			}
		}
	}()
}

// Stop halts the loop and runs one final drain so shutdown does not lose the
// tail of the stream.
func (a *Archiver) Stop(ctx context.Context) {
	close(a.done)
	a.wg.Wait()

	if err := a.archiveOnce(ctx); err != nil {
		a.logger.Warn("final audit archive drain failed",
			slog.String("error", err.Error()))
	}
}

// archiveOnce drains all events past the cursor, one uploaded batch at a
// time. Each batch commits the cursor to its last event, so events sharing a
// timestamp cannot stall it or be uploaded twice.
func (a *Archiver) archiveOnce(ctx context.Context) error {
	for {
		a.mu.Lock()
		since, sinceID := a.watermark, a.watermarkID
		a.mu.Unlock()

		events, err := a.source.ListSince(ctx, since, sinceID, a.batchSize)
		if err != nil {
			return fmt.Errorf("listing audit events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}

		var buf bytes.Buffer
		encoder := json.NewEncoder(&buf)
		for _, event := range events {
			if err := encoder.Encode(event); err != nil {
				return fmt.Errorf("encoding audit event: %w", err)
			}
		}

		// Events arrive cursor-ordered, so the last one is the new cursor.
		last := events[len(events)-1]

		key := objectKey(since, last.CreatedAt, len(events))
		_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(buf.Bytes()),
			ContentType: aws.String("application/x-ndjson"),
		})
		if err != nil {
			return fmt.Errorf("uploading audit batch: %w", err)
		}

		a.mu.Lock()
		a.watermark, a.watermarkID = last.CreatedAt, last.ID
		a.mu.Unlock()

		a.logger.Info("archived audit events",
			slog.Int("count", len(events)),
			slog.String("key", key))

		if len(events) < a.batchSize {
			return nil
		}
	}
}

// objectKey builds a date-partitioned key for the batch
func objectKey(from, to time.Time, count int) string {
	return fmt.Sprintf("audit/%s/%s_%s_%d.ndjson",
		to.UTC().Format("2006/01/02"),
		from.UTC().Format("150405"),
		to.UTC().Format("150405"),
		count)
}
