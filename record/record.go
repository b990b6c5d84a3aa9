// Package record defines the stored module metadata document, the module
// identity used to key it, and the object tags that mark its state.
package record

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the format of request and extraction timestamps.
const TimestampLayout = "2006-01-02 15:04:05 UTC"

// Item is a single entry produced by the extraction tool. Its keys are
// opaque to this service apart from the ones the sanitizer strips.
type Item map[string]any

// Metadata describes the request a record answers.
type Metadata struct {
	RequestTimestamp   string `json:"request_timestamp,omitempty"`
	ExtractedTimestamp string `json:"extracted_timestamp,omitempty"`
	Identity
	EditorServicesVersion string `json:"editor_services_version,omitempty"`
	RequestID             string `json:"request_id,omitempty"`

	// extra holds metadata keys written by other producers. They are
	// written back unchanged.
	extra map[string]json.RawMessage
}

var metadataKeys = []string{
	"request_timestamp", "extracted_timestamp",
	"module_author", "module_name", "module_version",
	"editor_services_version", "request_id",
}

type metadataFields Metadata

func (m *Metadata) UnmarshalJSON(data []byte) error {
	var f metadataFields
	extra, err := splitExtra(data, &f, metadataKeys...)
	if err != nil {
		return err
	}
	*m = Metadata(f)
	m.extra = extra
	return nil
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	return joinExtra(metadataFields(m), m.extra)
}

// Content holds the extracted module documentation.
type Content struct {
	Readme       string          `json:"readme"`
	MetadataJSON json.RawMessage `json:"metadata_json"`
	Functions    []Item          `json:"functions"`
	Classes      []Item          `json:"classes"`
	Types        []Item          `json:"types"`
}

// Record is the JSON document stored under Identity.Key(). Top-level keys
// other than metadata and content survive a Parse and Marshal round trip.
type Record struct {
	Metadata Metadata `json:"metadata"`
	Content  Content  `json:"content"`

	extra map[string]json.RawMessage
}

type recordFields Record

func (r *Record) UnmarshalJSON(data []byte) error {
	var f recordFields
	extra, err := splitExtra(data, &f, "metadata", "content")
	if err != nil {
		return err
	}
	*r = Record(f)
	r.extra = extra
	return nil
}

func (r Record) MarshalJSON() ([]byte, error) {
	return joinExtra(recordFields(r), r.extra)
}

// splitExtra decodes data into v and returns the object keys v does not
// model, or nil when there are none.
func splitExtra(data []byte, v any, known ...string) (map[string]json.RawMessage, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// joinExtra encodes v and adds the extra keys it does not already carry.
func joinExtra(v any, extra map[string]json.RawMessage) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return data, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for k, raw := range extra {
		if _, ok := all[k]; !ok {
			all[k] = raw
		}
	}
	return json.Marshal(all)
}

// Timestamp formats t the way records store it.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// NewPendingRecord returns the placeholder written when extraction is
// requested for id.
func NewPendingRecord(id Identity, now time.Time) *Record {
	return &Record{
		Metadata: Metadata{
			RequestTimestamp: Timestamp(now),
			Identity:         id,
		},
		Content: Content{
			MetadataJSON: json.RawMessage(`{}`),
			Functions:    []Item{},
			Classes:      []Item{},
			Types:        []Item{},
		},
	}
}

// Parse decodes a stored record body.
func Parse(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("record: parse: %w", err)
	}
	return &rec, nil
}

// Marshal encodes the record, writing empty lists rather than null.
func (r *Record) Marshal() ([]byte, error) {
	out := *r
	out.Content.Functions = nonNil(out.Content.Functions)
	out.Content.Classes = nonNil(out.Content.Classes)
	out.Content.Types = nonNil(out.Content.Types)
	data, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("record: marshal: %w", err)
	}
	return data, nil
}

func nonNil(items []Item) []Item {
	if items == nil {
		return []Item{}
	}
	return items
}
