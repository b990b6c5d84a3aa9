// Package lookup serves stored module documentation and files extraction
// requests for modules that have none yet.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/GoCodeAlone/forgedocs/record"
	"github.com/GoCodeAlone/forgedocs/store"
)

// ErrValidation is wrapped by Query.Validate.
var ErrValidation = errors.New("missing required query parameter")

// AlreadySubmittedBody is returned while a record is pending.
var AlreadySubmittedBody = []byte(`"Already submitted for extraction"`)

// Query names the module being looked up.
type Query struct {
	Author  string
	Name    string
	Version string
}

// Identity returns the module identity the query names.
func (q Query) Identity() record.Identity {
	return record.Identity{Author: q.Author, Name: q.Name, Version: q.Version}
}

// Validate reports a missing parameter.
func (q Query) Validate() error {
	if err := q.Identity().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

// Response is the answer to a lookup. Body is nil for 400.
type Response struct {
	StatusCode int
	Body       []byte
}

// Cache holds completed record bodies by key. Any Get error is a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Recorder counts lookup responses.
type Recorder interface {
	ObserveLookup(statusCode int)
}

// Handler answers lookups against one bucket.
type Handler struct {
	store             store.ObjectStore
	bucket            string
	conditionalCreate bool
	cache             Cache
	recorder          Recorder
	logger            *slog.Logger
	tracer            trace.Tracer
	now               func() time.Time
	newRequestID      func() string
}

// NewHandler creates a Handler. A nil logger uses slog.Default.
func NewHandler(st store.ObjectStore, bucket string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:        st,
		bucket:       bucket,
		logger:       logger,
		tracer:       otel.GetTracerProvider().Tracer("forgedocs/lookup"),
		now:          time.Now,
		newRequestID: uuid.NewString,
	}
}

// SetCache attaches a cache of completed bodies.
func (h *Handler) SetCache(c Cache) { h.cache = c }

// SetRecorder attaches a response recorder.
func (h *Handler) SetRecorder(r Recorder) { h.recorder = r }

// SetConditionalCreate makes pending records be written only if no object
// exists yet, so that two concurrent first lookups file a single request.
// The loser answers as if the record was already pending.
func (h *Handler) SetConditionalCreate(on bool) { h.conditionalCreate = on }

// Lookup returns the stored record for q, or files an extraction request
// when none exists. Only storage failures other than a missing object are
// returned as errors.
func (h *Handler) Lookup(ctx context.Context, q Query) (Response, error) {
	ctx, span := h.tracer.Start(ctx, "lookup.Lookup")
	defer span.End()

	resp, err := h.lookup(ctx, q, span)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		h.observe(http.StatusInternalServerError)
		return Response{}, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	h.observe(resp.StatusCode)
	return resp, nil
}

func (h *Handler) lookup(ctx context.Context, q Query, span trace.Span) (Response, error) {
	if err := q.Validate(); err != nil {
		h.logger.Debug("Rejecting lookup", "error", err)
		return Response{StatusCode: http.StatusBadRequest}, nil
	}

	id := q.Identity()
	key := id.Key()
	span.SetAttributes(attribute.String("module.key", key))

	if body, ok := h.cached(ctx, key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return Response{StatusCode: http.StatusOK, Body: body}, nil
	}

	body, err := h.store.Get(ctx, h.bucket, key)
	if errors.Is(err, store.ErrNotFound) {
		return h.create(ctx, id)
	}
	if err != nil {
		return Response{}, fmt.Errorf("lookup %s: %w", key, err)
	}

	tags, err := h.store.GetTags(ctx, h.bucket, key)
	if errors.Is(err, store.ErrNotFound) {
		return h.create(ctx, id)
	}
	if err != nil {
		return Response{}, fmt.Errorf("lookup %s: tags: %w", key, err)
	}

	if record.StateFromTags(tags) == record.StatePending {
		return Response{StatusCode: http.StatusAccepted, Body: AlreadySubmittedBody}, nil
	}

	h.remember(ctx, key, body)
	return Response{StatusCode: http.StatusOK, Body: body}, nil
}

// create writes a pending record and answers 202 with its body.
func (h *Handler) create(ctx context.Context, id record.Identity) (Response, error) {
	rec := record.NewPendingRecord(id, h.now())
	rec.Metadata.RequestID = h.newRequestID()
	data, err := rec.Marshal()
	if err != nil {
		return Response{}, fmt.Errorf("lookup %s: %w", id.Key(), err)
	}

	opts := store.PutOptions{IfAbsent: h.conditionalCreate}
	err = h.store.Put(ctx, h.bucket, id.Key(), data, record.PendingTags(), opts)
	if errors.Is(err, store.ErrConflict) {
		h.logger.Info("Extraction already requested concurrently", "module", id.Key())
		return Response{StatusCode: http.StatusAccepted, Body: AlreadySubmittedBody}, nil
	}
	if err != nil {
		return Response{}, fmt.Errorf("lookup %s: create request: %w", id.Key(), err)
	}

	h.logger.Info("Extraction requested", "module", id.Key(), "request_id", rec.Metadata.RequestID)
	return Response{StatusCode: http.StatusAccepted, Body: data}, nil
}

func (h *Handler) cached(ctx context.Context, key string) ([]byte, bool) {
	if h.cache == nil {
		return nil, false
	}
	body, err := h.cache.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	return body, true
}

func (h *Handler) remember(ctx context.Context, key string, body []byte) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Set(ctx, key, body); err != nil {
		h.logger.Warn("Caching record failed", "key", key, "error", err)
	}
}

func (h *Handler) observe(status int) {
	if h.recorder != nil {
		h.recorder.ObserveLookup(status)
	}
}
