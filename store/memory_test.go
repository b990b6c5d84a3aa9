package store

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	if _, err := m.Get(ctx, "b", "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Get, got %v", err)
	}
	if _, err := m.GetTags(ctx, "b", "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from GetTags, got %v", err)
	}

	if err := m.Put(ctx, "b", "k", []byte("one"), map[string]string{"createrequest": "true"}, PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	body, err := m.Get(ctx, "b", "k")
	if err != nil || string(body) != "one" {
		t.Fatalf("Get = %q, %v", body, err)
	}
	tags, err := m.GetTags(ctx, "b", "k")
	if err != nil {
		t.Fatalf("GetTags: %v", err)
	}
	if len(tags) != 1 || tags["createrequest"] != "true" {
		t.Errorf("unexpected tags %v", tags)
	}

	if err := m.Put(ctx, "b", "k", []byte("two"), nil, PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	tags, err = m.GetTags(ctx, "b", "k")
	if err != nil {
		t.Fatalf("GetTags: %v", err)
	}
	if len(tags) != 0 {
		t.Errorf("overwrite with no tags must clear the tag set, got %v", tags)
	}
	if m.PutCount() != 2 {
		t.Errorf("expected 2 puts, got %d", m.PutCount())
	}
}

func TestMemoryStoreIfAbsent(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	if err := m.Put(ctx, "b", "k", []byte("first"), nil, PutOptions{IfAbsent: true}); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if err := m.Put(ctx, "b", "k", []byte("second"), nil, PutOptions{IfAbsent: true}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	body, err := m.Get(ctx, "b", "k")
	if err != nil || string(body) != "first" {
		t.Errorf("Get = %q, %v", body, err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	src := []byte("abc")
	if err := m.Put(ctx, "b", "k", src, map[string]string{"x": "1"}, PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	src[0] = 'z'

	body, _ := m.Get(ctx, "b", "k")
	body[1] = 'z'
	tags, _ := m.GetTags(ctx, "b", "k")
	tags["x"] = "2"

	if again, _ := m.Get(ctx, "b", "k"); string(again) != "abc" {
		t.Errorf("stored body changed to %q", again)
	}
	if againTags, _ := m.GetTags(ctx, "b", "k"); againTags["x"] != "1" {
		t.Errorf("stored tags changed to %v", againTags)
	}
}

func TestMemoryStoreNotifiesSuccessfulWrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	var mu sync.Mutex
	var seen []string
	var pending []bool
	m.SetNotifier(func(bucket, key string, tags map[string]string) {
		// Reading back from inside the notifier must not deadlock.
		if _, err := m.GetTags(ctx, bucket, key); err != nil {
			t.Errorf("GetTags from notifier: %v", err)
		}
		mu.Lock()
		seen = append(seen, bucket+"/"+key)
		pending = append(pending, tags["createrequest"] == "true")
		mu.Unlock()
	})

	_ = m.Put(ctx, "b", "k", []byte("1"), map[string]string{"createrequest": "true"}, PutOptions{})
	_ = m.Put(ctx, "b", "k", []byte("2"), nil, PutOptions{IfAbsent: true})
	_ = m.Put(ctx, "b", "k", []byte("3"), nil, PutOptions{})

	if len(seen) != 2 || seen[0] != "b/k" || seen[1] != "b/k" {
		t.Errorf("expected two notifications, got %v", seen)
	}
	if len(pending) == 2 && (!pending[0] || pending[1]) {
		t.Errorf("notifier saw wrong tags: %v", pending)
	}

	m.SetNotifier(nil)
	_ = m.Put(ctx, "b", "other", nil, nil, PutOptions{})
	if len(seen) != 2 {
		t.Errorf("expected no notification after clearing, got %v", seen)
	}
}
