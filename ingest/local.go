package ingest

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/GoCodeAlone/forgedocs/record"
)

const defaultLocalQueueSize = 64

// LocalQueue stands in for the S3 to SQS notification path when records
// live in a MemoryStore. Notify is registered as the store's put hook and
// Run feeds the queued writes to the Handler.
type LocalQueue struct {
	handler *Handler
	events  chan S3Event
	logger  *slog.Logger
}

// NewLocalQueue creates a LocalQueue buffering up to size notifications.
// A nil logger uses slog.Default.
func NewLocalQueue(handler *Handler, size int, logger *slog.Logger) *LocalQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = defaultLocalQueueSize
	}
	return &LocalQueue{
		handler: handler,
		events:  make(chan S3Event, size),
		logger:  logger,
	}
}

// Notify queues an ObjectCreated event for writes that leave a record
// pending. Completed writes are ignored. It never blocks: when the buffer
// is full the notification is dropped and the record stays pending until
// the next lookup re-creates the request.
func (q *LocalQueue) Notify(bucket, key string, tags map[string]string) {
	if record.StateFromTags(tags) != record.StatePending {
		return
	}
	ev := S3Event{Records: []S3EventRecord{{
		EventName: "ObjectCreated:Put",
		S3: S3Entity{
			Bucket: S3Bucket{Name: bucket},
			Object: S3Object{Key: url.QueryEscape(key)},
		},
	}}}
	select {
	case q.events <- ev:
	default:
		q.logger.Warn("Local notification queue full, dropping event", "bucket", bucket, "key", key)
	}
}

// Run delivers queued events until ctx is cancelled.
func (q *LocalQueue) Run(ctx context.Context) error {
	q.logger.Info("Local notification queue started")
	defer q.logger.Info("Local notification queue stopped")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-q.events:
			for _, outcome := range q.handler.IngestEvent(ctx, ev) {
				q.logger.Info(outcome)
			}
		}
	}
}
