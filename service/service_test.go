package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/GoCodeAlone/forgedocs/config"
	"github.com/GoCodeAlone/forgedocs/extract"
	"github.com/GoCodeAlone/forgedocs/record"
	"github.com/GoCodeAlone/forgedocs/store"
)

type cannedRunner struct{}

func (cannedRunner) Run(context.Context, string, ...string) (extract.RunResult, error) {
	return extract.RunResult{ExitCode: 1, Stderr: []byte("offline")}, nil
}

type idleSQS struct{ polls atomic.Int32 }

func (q *idleSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	q.polls.Add(1)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return &sqs.ReceiveMessageOutput{}, nil
	}
}

func (q *idleSQS) DeleteMessage(context.Context, *sqs.DeleteMessageInput, ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	return &sqs.DeleteMessageOutput{}, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Storage.Bucket = "forge-docs"
	cfg.HTTP.Address = "127.0.0.1:0"
	cfg.Tools.WorkDir = ""
	return cfg
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func startService(t *testing.T, cfg *config.Config, opts Options) *Service {
	t.Helper()
	svc, err := New(context.Background(), cfg, nil, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svc.Stop(ctx); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	})
	return svc
}

func TestServiceServesLookupHealthAndMetrics(t *testing.T) {
	cfg := testConfig()
	cfg.Queue.URL = "http://localhost:4566/000000000000/forge-docs"
	mem := store.NewMemoryStore()
	queue := &idleSQS{}

	svc := startService(t, cfg, Options{Store: mem, Queue: queue, Runner: cannedRunner{}})
	base := "http://" + svc.HTTP.Addr()

	code, body := get(t, base+"/module?author=puppetlabs&name=stdlib&version=5.0.2")
	if code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", code)
	}
	if !strings.Contains(body, `"module_name":"stdlib"`) {
		t.Errorf("expected the placeholder record, got %s", body)
	}

	tags, err := mem.GetTags(context.Background(), "forge-docs", "puppetlabs-stdlib-5.0.2")
	if err != nil {
		t.Fatalf("GetTags: %v", err)
	}
	if record.StateFromTags(tags) != record.StatePending {
		t.Errorf("expected a pending record, got tags %v", tags)
	}

	if code, _ = get(t, base+"/api/module?author=puppetlabs&name=stdlib"); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}

	code, body = get(t, base+"/healthz")
	if code != http.StatusOK {
		t.Errorf("expected healthy, got %d", code)
	}
	if !strings.Contains(body, "ingest.worker") {
		t.Errorf("expected the queue worker in health, got %s", body)
	}

	code, body = get(t, base+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("expected 200 from metrics, got %d", code)
	}
	for _, line := range []string{
		`forgedocs_lookups_total{status_code="202"} 1`,
		`forgedocs_lookups_total{status_code="400"} 1`,
		`forgedocs_cache_capacity 1000`,
		`forgedocs_cache_misses_total 1`,
	} {
		if !strings.Contains(body, line+"\n") {
			t.Errorf("expected %q in metrics:\n%s", line, body)
		}
	}

	eventually(t, func() bool { return queue.polls.Load() > 0 }, "queue was never polled")
}

func TestServiceLocalMode(t *testing.T) {
	cfg := testConfig()
	cfg.Queue.URL = "http://localhost:4566/000000000000/forge-docs"
	cfg.Metrics.Enabled = false

	svc := startService(t, cfg, Options{Local: true, Runner: cannedRunner{}})
	if _, ok := svc.Store.(*store.MemoryStore); !ok {
		t.Errorf("expected a MemoryStore, got %T", svc.Store)
	}
	if svc.Worker != nil {
		t.Error("local mode runs no queue worker")
	}
	if svc.LocalQueue == nil {
		t.Error("local mode needs a local notification queue")
	}

	code, _ := get(t, "http://"+svc.HTTP.Addr()+"/metrics")
	if code != http.StatusNotFound {
		t.Errorf("expected metrics disabled, got %d", code)
	}
}

func TestServiceLocalModeCompletesLookup(t *testing.T) {
	svc := startService(t, testConfig(), Options{Local: true, Runner: cannedRunner{}})
	url := "http://" + svc.HTTP.Addr() + "/module?author=puppetlabs&name=stdlib&version=5.0.2"

	if code, _ := get(t, url); code != http.StatusAccepted {
		t.Fatalf("expected 202 for a new request, got %d", code)
	}

	var body string
	eventually(t, func() bool {
		var code int
		code, body = get(t, url)
		return code == http.StatusOK
	}, "lookup never completed in local mode")
	if !strings.Contains(body, `"extracted_timestamp"`) {
		t.Errorf("expected an extracted record, got %s", body)
	}

	code, health := get(t, "http://"+svc.HTTP.Addr()+"/healthz")
	if code != http.StatusOK || !strings.Contains(health, "ingest.local") {
		t.Errorf("expected healthy local queue, got %d %s", code, health)
	}
}

func TestServiceIngestCompletesLookup(t *testing.T) {
	cfg := testConfig()
	svc, err := New(context.Background(), cfg, nil, Options{Local: true, Runner: cannedRunner{}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := context.Background()
	resp, err := svc.Lookup.Lookup(ctx, lookupQuery())
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	body := `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"forge-docs"},"object":{"key":"puppetlabs-stdlib-5.0.2"}}}]}`
	outcomes := svc.Ingest.IngestEvent(ctx, mustEvent(t, body))
	if len(outcomes) != 1 || !strings.HasSuffix(outcomes[0], "extracted") {
		t.Fatalf("unexpected outcomes %v", outcomes)
	}

	resp, err = svc.Lookup.Lookup(ctx, lookupQuery())
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(resp.Body), `"extracted_timestamp"`) {
		t.Errorf("expected an extracted record, got %s", resp.Body)
	}
}

type downStore struct{ store.MemoryStore }

func (*downStore) Get(context.Context, string, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func TestServiceRateLimitAndStoreBreaker(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.RateLimit = 2
	cfg.Storage.Breaker.FailureThreshold = 1
	cfg.Storage.Breaker.Cooldown = time.Hour

	svc := startService(t, cfg, Options{Store: &downStore{}, Runner: cannedRunner{}})
	if svc.Breaker == nil {
		t.Fatal("expected a store breaker")
	}

	base := "http://" + svc.HTTP.Addr()
	query := "/module?author=puppetlabs&name=stdlib&version=5.0.2"

	if code, _ := get(t, base+query); code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", code)
	}
	if st := svc.Breaker.State(); st != store.BreakerOpen {
		t.Errorf("expected open breaker, got %s", st)
	}

	if code, _ := get(t, base+query); code != http.StatusInternalServerError {
		t.Errorf("open breaker still answers 500, got %d", code)
	}

	code, body := get(t, base+query)
	if code != http.StatusTooManyRequests || !strings.Contains(body, "rate limit exceeded") {
		t.Errorf("expected rate limit rejection, got %d %s", code, body)
	}

	code, body = get(t, base+"/healthz")
	if code != http.StatusOK {
		t.Errorf("health is not rate limited, got %d", code)
	}
	if !strings.Contains(body, "breaker open") {
		t.Errorf("expected degraded store in health, got %s", body)
	}
}
