package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/GoCodeAlone/forgedocs/extract"
	"github.com/GoCodeAlone/forgedocs/record"
	"github.com/GoCodeAlone/forgedocs/store"
)

type mockSQSClient struct {
	receiveFn func(ctx context.Context, params *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error)
	deleteFn  func(ctx context.Context, params *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error)

	mu      sync.Mutex
	deleted []string
}

func (m *mockSQSClient) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return m.receiveFn(ctx, params)
}

func (m *mockSQSClient) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.mu.Lock()
	m.deleted = append(m.deleted, aws.ToString(params.ReceiptHandle))
	m.mu.Unlock()
	if m.deleteFn != nil {
		return m.deleteFn(ctx, params)
	}
	return &sqs.DeleteMessageOutput{}, nil
}

func message(id, body string) sqstypes.Message {
	return sqstypes.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String("rh-" + id),
		Body:          aws.String(body),
	}
}

func TestQueueWorkerPollIngestsAndDeletes(t *testing.T) {
	st := store.NewMemoryStore()
	putPending(t, st, stdlib)
	ex := &stubExtractor{result: extractedMetadata()}
	h := newTestHandler(st, ex)

	var gotInput *sqs.ReceiveMessageInput
	client := &mockSQSClient{
		receiveFn: func(_ context.Context, params *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
			gotInput = params
			return &sqs.ReceiveMessageOutput{Messages: []sqstypes.Message{
				message("1", eventBody(t, stdlib.Key())),
				message("2", "garbage"),
			}}, nil
		},
	}
	cfg := DefaultWorkerConfig()
	cfg.QueueURL = "https://sqs.eu-west-2.amazonaws.com/123456789012/forge-docs"
	w := NewQueueWorker(client, h, cfg, nil)

	n, err := w.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 messages, got %d", n)
	}
	if aws.ToString(gotInput.QueueUrl) != cfg.QueueURL {
		t.Errorf("unexpected queue url %q", aws.ToString(gotInput.QueueUrl))
	}
	if gotInput.WaitTimeSeconds != 20 || gotInput.MaxNumberOfMessages != 10 {
		t.Errorf("unexpected polling parameters %+v", gotInput)
	}
	if len(client.deleted) != 2 {
		t.Errorf("expected both messages deleted, got %v", client.deleted)
	}
	if len(ex.calls) != 1 {
		t.Errorf("expected one extraction, got %d", len(ex.calls))
	}
}

func TestQueueWorkerPollReceiveError(t *testing.T) {
	client := &mockSQSClient{
		receiveFn: func(context.Context, *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
			return nil, errors.New("AccessDenied")
		},
	}
	w := NewQueueWorker(client, newTestHandler(store.NewMemoryStore(), &stubExtractor{}), DefaultWorkerConfig(), nil)

	if _, err := w.Poll(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
}

func TestQueueWorkerFillsUnsetSettings(t *testing.T) {
	var gotInput *sqs.ReceiveMessageInput
	client := &mockSQSClient{
		receiveFn: func(_ context.Context, params *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
			gotInput = params
			return &sqs.ReceiveMessageOutput{}, nil
		},
	}
	w := NewQueueWorker(client, newTestHandler(store.NewMemoryStore(), &stubExtractor{}), WorkerConfig{QueueURL: "q"}, nil)

	if w.cfg.Concurrency != DefaultWorkerConfig().Concurrency {
		t.Errorf("expected default concurrency, got %d", w.cfg.Concurrency)
	}
	if _, err := w.Poll(context.Background()); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if gotInput.MaxNumberOfMessages != 10 {
		t.Errorf("expected batch size 10, got %d", gotInput.MaxNumberOfMessages)
	}
	if gotInput.WaitTimeSeconds != 0 {
		t.Errorf("a zero wait must stay short polling, got %d", gotInput.WaitTimeSeconds)
	}
}

func TestQueueWorkerDeleteFailureIsLogged(t *testing.T) {
	client := &mockSQSClient{
		receiveFn: func(context.Context, *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
			return &sqs.ReceiveMessageOutput{Messages: []sqstypes.Message{message("1", `{"Records":[]}`)}}, nil
		},
		deleteFn: func(context.Context, *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error) {
			return nil, &sqstypes.ReceiptHandleIsInvalid{Message: aws.String("expired")}
		},
	}
	w := NewQueueWorker(client, newTestHandler(store.NewMemoryStore(), &stubExtractor{}), DefaultWorkerConfig(), nil)

	if _, err := w.Poll(context.Background()); err != nil {
		t.Fatalf("a failed delete must not fail the poll: %v", err)
	}
}

func TestQueueWorkerBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	ex := &blockingExtractor{
		enter: func() {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
		},
	}

	st := store.NewMemoryStore()
	var msgs []sqstypes.Message
	for i, name := range []string{"a", "b", "c", "d", "e"} {
		id := stdlib
		id.Name = name
		putPending(t, st, id)
		msgs = append(msgs, message(string(rune('1'+i)), eventBody(t, id.Key())))
	}
	client := &mockSQSClient{
		receiveFn: func(context.Context, *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
			return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
		},
	}
	cfg := DefaultWorkerConfig()
	cfg.Concurrency = 2
	w := NewQueueWorker(client, newTestHandler(st, ex), cfg, nil)

	if _, err := w.Poll(context.Background()); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if peak.Load() > 2 {
		t.Errorf("expected at most 2 concurrent extractions, saw %d", peak.Load())
	}
	if len(client.deleted) != 5 {
		t.Errorf("expected 5 deletes, got %d", len(client.deleted))
	}
}

func TestQueueWorkerRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var polls atomic.Int32
	client := &mockSQSClient{
		receiveFn: func(ctx context.Context, _ *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
			if polls.Add(1) == 3 {
				cancel()
			}
			if polls.Load() == 1 {
				return nil, errors.New("temporary")
			}
			return &sqs.ReceiveMessageOutput{}, nil
		},
	}
	w := NewQueueWorker(client, newTestHandler(store.NewMemoryStore(), &stubExtractor{}), DefaultWorkerConfig(), nil)
	w.errorBackoff = time.Millisecond

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if polls.Load() < 3 {
		t.Errorf("expected polling to continue after an error, got %d polls", polls.Load())
	}
}

type blockingExtractor struct {
	enter func()
}

func (b *blockingExtractor) Extract(context.Context, record.Identity) (*extract.ModuleMetadata, error) {
	b.enter()
	return extractedMetadata(), nil
}
