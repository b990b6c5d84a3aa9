// Package ingest completes pending extraction requests announced by S3
// upload notifications.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/GoCodeAlone/forgedocs/extract"
	"github.com/GoCodeAlone/forgedocs/record"
	"github.com/GoCodeAlone/forgedocs/store"
)

// Outcome labels reported to the Recorder.
const (
	OutcomeExtracted        = "extracted"
	OutcomeNotCreateRequest = "not_create_request"
	OutcomeSkipped          = "skipped"
)

// Extractor produces module documentation for an identity.
type Extractor interface {
	Extract(ctx context.Context, id record.Identity) (*extract.ModuleMetadata, error)
}

// Recorder counts per-record outcomes.
type Recorder interface {
	ObserveIngest(outcome string)
}

// Handler turns pending records into completed ones. Every record is
// handled independently: a failure is logged, reported in the outcome list
// and never stops the rest of the batch.
type Handler struct {
	store                 store.ObjectStore
	extractor             Extractor
	logger                *slog.Logger
	recorder              Recorder
	tracer                trace.Tracer
	editorServicesVersion string
	now                   func() time.Time
}

// NewHandler creates a Handler. A nil logger uses slog.Default.
func NewHandler(st store.ObjectStore, ex Extractor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:     st,
		extractor: ex,
		logger:    logger,
		tracer:    otel.GetTracerProvider().Tracer("forgedocs/ingest"),
		now:       time.Now,
	}
}

// SetRecorder attaches an outcome recorder.
func (h *Handler) SetRecorder(r Recorder) { h.recorder = r }

// SetEditorServicesVersion sets the marker stamped into completed records.
func (h *Handler) SetEditorServicesVersion(v string) { h.editorServicesVersion = v }

// Ingest processes every event record of every message in the batch and
// returns one outcome line per record.
func (h *Handler) Ingest(ctx context.Context, batch Batch) []string {
	var outcomes []string
	for _, env := range batch.Records {
		ev, err := ParseEvent([]byte(env.Body))
		if err != nil {
			h.logger.Warn("Unreadable notification", "message_id", env.MessageID, "error", err)
			h.observe(OutcomeSkipped)
			outcomes = append(outcomes, fmt.Sprintf("%s skipped: %v", env.MessageID, err))
			continue
		}
		outcomes = append(outcomes, h.IngestEvent(ctx, ev)...)
	}
	return outcomes
}

// IngestEvent processes a bare S3 notification.
func (h *Handler) IngestEvent(ctx context.Context, ev S3Event) []string {
	if len(ev.Records) == 0 {
		if ev.Event != "" {
			h.logger.Debug("Ignoring notification without records", "event", ev.Event)
		}
		return nil
	}
	outcomes := make([]string, 0, len(ev.Records))
	for _, rec := range ev.Records {
		outcomes = append(outcomes, h.processRecord(ctx, rec.S3.Bucket.Name, rec.ObjectKey()))
	}
	return outcomes
}

func (h *Handler) processRecord(ctx context.Context, bucket, key string) string {
	ctx, span := h.tracer.Start(ctx, "ingest.record", trace.WithAttributes(
		attribute.String("s3.bucket", bucket),
		attribute.String("s3.key", key),
	))
	defer span.End()

	logger := h.logger.With("bucket", bucket, "key", key)

	skip := func(reason string, err error) string {
		logger.Warn("Skipping record", "reason", reason, "error", err)
		span.SetStatus(codes.Error, reason)
		span.SetAttributes(attribute.String("ingest.outcome", OutcomeSkipped))
		h.observe(OutcomeSkipped)
		return fmt.Sprintf("%s skipped: %s: %v", key, reason, err)
	}

	tags, err := h.store.GetTags(ctx, bucket, key)
	if err != nil {
		return skip("fetch tags", err)
	}
	if record.StateFromTags(tags) != record.StatePending {
		logger.Info("Not a create request")
		span.SetAttributes(attribute.String("ingest.outcome", OutcomeNotCreateRequest))
		h.observe(OutcomeNotCreateRequest)
		return key + " is not a create request"
	}

	body, err := h.store.Get(ctx, bucket, key)
	if err != nil {
		return skip("fetch object", err)
	}
	rec, err := record.Parse(body)
	if err != nil {
		return skip("parse record", err)
	}
	id := rec.Metadata.Identity
	if err := id.Validate(); err != nil {
		return skip("read identity", err)
	}

	md, err := h.extractor.Extract(ctx, id)
	if err != nil {
		return skip("extract", err)
	}

	rec.Metadata.ExtractedTimestamp = record.Timestamp(h.now())
	if h.editorServicesVersion != "" {
		rec.Metadata.EditorServicesVersion = h.editorServicesVersion
	}
	rec.Content = md.Content()

	data, err := rec.Marshal()
	if err != nil {
		return skip("encode record", err)
	}
	// No tags: overwriting without the pending tag completes the record.
	if err := h.store.Put(ctx, bucket, key, data, nil, store.PutOptions{}); err != nil {
		return skip("write record", err)
	}

	logger.Info("Record completed",
		"module", id.Key(),
		"downloaded", md.Downloaded,
		"request_id", rec.Metadata.RequestID,
	)
	span.SetAttributes(attribute.String("ingest.outcome", OutcomeExtracted))
	h.observe(OutcomeExtracted)
	return key + " extracted"
}

func (h *Handler) observe(outcome string) {
	if h.recorder != nil {
		h.recorder.ObserveIngest(outcome)
	}
}
