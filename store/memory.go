package store

import (
	"context"
	"fmt"
	"sync"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/GoCodeAlone/forgedocs/record"
)

type memoryObject struct {
	body   []byte
	tagSet []s3types.Tag
}

// PutNotifier is called after every successful write with the tags that were
// stored, the way S3 emits an ObjectCreated notification. It runs without the
// store lock held.
type PutNotifier func(bucket, key string, tags map[string]string)

// MemoryStore is an in-process ObjectStore used for local runs and tests.
// Tags are kept as an S3 tag set and go through the same codec as S3Store.
type MemoryStore struct {
	mu       sync.RWMutex
	buckets  map[string]map[string]memoryObject
	puts     int
	notifier PutNotifier
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]map[string]memoryObject)}
}

// SetNotifier registers fn to hear about writes. A nil fn disables it.
func (m *MemoryStore) SetNotifier(fn PutNotifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = fn
}

func (m *MemoryStore) lookup(bucket, key string) (memoryObject, error) {
	obj, ok := m.buckets[bucket][key]
	if !ok {
		return memoryObject{}, fmt.Errorf("memory store: %s/%s: %w", bucket, key, ErrNotFound)
	}
	return obj, nil
}

// Get returns a copy of the stored body.
func (m *MemoryStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, err := m.lookup(bucket, key)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), obj.body...), nil
}

// GetTags decodes the stored tag set into a fresh map.
func (m *MemoryStore) GetTags(_ context.Context, bucket, key string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, err := m.lookup(bucket, key)
	if err != nil {
		return nil, err
	}
	return record.DecodeTags(obj.tagSet), nil
}

// Put stores the body and replaces the tag set.
func (m *MemoryStore) Put(_ context.Context, bucket, key string, body []byte, tags map[string]string, opts PutOptions) error {
	m.mu.Lock()
	objects, ok := m.buckets[bucket]
	if !ok {
		objects = make(map[string]memoryObject)
		m.buckets[bucket] = objects
	}
	if _, exists := objects[key]; exists && opts.IfAbsent {
		m.mu.Unlock()
		return fmt.Errorf("memory store: %s/%s: %w", bucket, key, ErrConflict)
	}
	tagSet := record.EncodeTags(tags)
	objects[key] = memoryObject{
		body:   append([]byte(nil), body...),
		tagSet: tagSet,
	}
	m.puts++
	notify := m.notifier
	m.mu.Unlock()

	if notify != nil {
		notify(bucket, key, record.DecodeTags(tagSet))
	}
	return nil
}

// PutCount reports how many writes succeeded.
func (m *MemoryStore) PutCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}
