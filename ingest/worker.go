package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"golang.org/x/sync/semaphore"
)

// SQSAPI defines the SQS operations used by the worker.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// WorkerConfig controls queue polling.
type WorkerConfig struct {
	QueueURL          string
	WaitSeconds       int32
	MaxMessages       int32
	VisibilityTimeout int32
	// Concurrency bounds how many messages are ingested at once.
	Concurrency int
}

// DefaultWorkerConfig returns long-polling defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		WaitSeconds:       20,
		MaxMessages:       10,
		VisibilityTimeout: 900,
		Concurrency:       2,
	}
}

// NewSQSClient builds an SQS client from an AWS config, optionally against a
// custom endpoint.
func NewSQSClient(cfg aws.Config, endpoint string) *sqs.Client {
	var opts []func(*sqs.Options)
	if endpoint != "" {
		ep := endpoint
		opts = append(opts, func(o *sqs.Options) { o.BaseEndpoint = &ep })
	}
	return sqs.NewFromConfig(cfg, opts...)
}

// QueueWorker feeds upload notifications from an SQS queue to a Handler.
// Messages are deleted once handled, whatever the per-record outcome;
// a new lookup is the only retry.
type QueueWorker struct {
	client  SQSAPI
	handler *Handler
	cfg     WorkerConfig
	logger  *slog.Logger
	sem     *semaphore.Weighted

	errorBackoff time.Duration
}

// NewQueueWorker creates a QueueWorker. Unset concurrency and batch size
// take their DefaultWorkerConfig values; a zero wait keeps short polling.
// A nil logger uses slog.Default.
func NewQueueWorker(client SQSAPI, handler *Handler, cfg WorkerConfig, logger *slog.Logger) *QueueWorker {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultWorkerConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxMessages <= 0 || cfg.MaxMessages > 10 {
		cfg.MaxMessages = def.MaxMessages
	}
	return &QueueWorker{
		client:       client,
		handler:      handler,
		cfg:          cfg,
		logger:       logger,
		sem:          semaphore.NewWeighted(int64(cfg.Concurrency)),
		errorBackoff: 5 * time.Second,
	}
}

// Run polls until ctx is cancelled. Receive errors are logged and retried
// after a pause.
func (w *QueueWorker) Run(ctx context.Context) error {
	w.logger.Info("Queue worker started", "queue", w.cfg.QueueURL, "concurrency", w.cfg.Concurrency)
	defer w.logger.Info("Queue worker stopped", "queue", w.cfg.QueueURL)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := w.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("Receiving messages failed", "queue", w.cfg.QueueURL, "error", err)
			t := time.NewTimer(w.errorBackoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
		}
	}
}

// Poll receives one batch of messages, ingests them and deletes them. It
// returns the number of messages received.
func (w *QueueWorker) Poll(ctx context.Context) (int, error) {
	out, err := w.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(w.cfg.QueueURL),
		MaxNumberOfMessages: w.cfg.MaxMessages,
		WaitTimeSeconds:     w.cfg.WaitSeconds,
		VisibilityTimeout:   w.cfg.VisibilityTimeout,
	})
	if err != nil {
		return 0, fmt.Errorf("sqs: receive from %q: %w", w.cfg.QueueURL, err)
	}

	var wg sync.WaitGroup
	for _, msg := range out.Messages {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			// Unprocessed messages become visible again after the timeout.
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer w.sem.Release(1)
			w.handle(ctx, msg)
		}()
	}
	wg.Wait()
	return len(out.Messages), nil
}

func (w *QueueWorker) handle(ctx context.Context, msg sqstypes.Message) {
	env := Envelope{
		MessageID:     aws.ToString(msg.MessageId),
		ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		Body:          aws.ToString(msg.Body),
	}
	for _, outcome := range w.handler.Ingest(ctx, Batch{Records: []Envelope{env}}) {
		w.logger.Info(outcome, "message_id", env.MessageID)
	}

	// Delete even if ctx was cancelled mid-ingest; the work is done.
	delCtx := context.WithoutCancel(ctx)
	_, err := w.client.DeleteMessage(delCtx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(w.cfg.QueueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		var invalid *sqstypes.ReceiptHandleIsInvalid
		if errors.As(err, &invalid) {
			w.logger.Warn("Receipt handle expired before delete", "message_id", env.MessageID)
			return
		}
		w.logger.Error("Deleting message failed", "message_id", env.MessageID, "error", err)
	}
}
