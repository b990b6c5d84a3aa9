package record

import (
	"net/url"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Tag names and values understood by the pipeline.
const (
	TagCreateRequest = "createrequest"
	TagValueTrue     = "true"
)

// State is the lifecycle position of a stored record.
type State int

const (
	// StateCompleted records hold extraction output (possibly empty).
	StateCompleted State = iota
	// StatePending records are placeholders waiting for extraction.
	StatePending
)

func (s State) String() string {
	if s == StatePending {
		return "pending"
	}
	return "completed"
}

// StateFromTags derives the record state. Only createrequest=true means
// pending; any other value, or no tag, means completed.
func StateFromTags(tags map[string]string) State {
	if tags[TagCreateRequest] == TagValueTrue {
		return StatePending
	}
	return StateCompleted
}

// PendingTags returns the tag set written with a new extraction request.
func PendingTags() map[string]string {
	return map[string]string{TagCreateRequest: TagValueTrue}
}

// DecodeTags converts an S3 tag set into a map. When a key repeats, the last
// occurrence wins.
func DecodeTags(tagSet []s3types.Tag) map[string]string {
	out := make(map[string]string, len(tagSet))
	for _, t := range tagSet {
		out[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return out
}

// EncodeTags converts a map back into an S3 tag set ordered by key.
func EncodeTags(tags map[string]string) []s3types.Tag {
	keys := sortedKeys(tags)
	out := make([]s3types.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, s3types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}

// TaggingHeader renders tags in the URL query form PutObject expects.
// An empty map yields "", which stores the object with no tags.
func TaggingHeader(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	v := url.Values{}
	for _, k := range sortedKeys(tags) {
		v.Set(k, tags[k])
	}
	return v.Encode()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
