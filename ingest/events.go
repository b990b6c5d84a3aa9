package ingest

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// Batch is a group of queue messages as the queue delivers them. Each
// envelope body is the JSON text of an S3Event.
type Batch struct {
	Records []Envelope `json:"Records"`
}

// Envelope is one queue message.
type Envelope struct {
	MessageID     string `json:"messageId"`
	ReceiptHandle string `json:"receiptHandle,omitempty"`
	Body          string `json:"body"`
}

// S3Event is an S3 event notification. Only the bucket name and object key
// of each record are used.
type S3Event struct {
	Records []S3EventRecord `json:"Records"`
	// Event is set on the s3:TestEvent sent when notifications are
	// configured; such events carry no records.
	Event string `json:"Event,omitempty"`
}

// S3EventRecord identifies one affected object.
type S3EventRecord struct {
	EventName string   `json:"eventName"`
	S3        S3Entity `json:"s3"`
}

type S3Entity struct {
	Bucket S3Bucket `json:"bucket"`
	Object S3Object `json:"object"`
}

type S3Bucket struct {
	Name string `json:"name"`
}

type S3Object struct {
	Key  string `json:"key"`
	Size int64  `json:"size,omitempty"`
}

// ObjectKey returns the decoded object key. S3 notifications query-escape
// keys; a key that fails to decode is returned as received.
func (r S3EventRecord) ObjectKey() string {
	key, err := url.QueryUnescape(r.S3.Object.Key)
	if err != nil {
		return r.S3.Object.Key
	}
	return key
}

// ParseBatch decodes a saved batch of queue messages.
func ParseBatch(data []byte) (Batch, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return Batch{}, fmt.Errorf("ingest: parse batch: %w", err)
	}
	return b, nil
}

// ParseEvent decodes an S3 event notification.
func ParseEvent(body []byte) (S3Event, error) {
	var ev S3Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return S3Event{}, fmt.Errorf("ingest: parse event: %w", err)
	}
	return ev, nil
}
