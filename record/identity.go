package record

import (
	"errors"
	"fmt"
	"strings"
)

// KeySeparator joins the identity fields into a storage key.
//
// The fields are not escaped, so an author, name or version containing a
// hyphen can produce the same key as a different identity. Existing buckets
// are keyed this way, so the scheme is kept as is.
const KeySeparator = "-"

// ErrIncompleteIdentity is returned by Validate when a field is empty.
var ErrIncompleteIdentity = errors.New("incomplete module identity")

// Identity names one released version of a module.
type Identity struct {
	Author  string `json:"module_author"`
	Name    string `json:"module_name"`
	Version string `json:"module_version"`
}

// Key returns the object key for the identity: author-name-version.
func (id Identity) Key() string {
	return id.Author + KeySeparator + id.Name + KeySeparator + id.Version
}

// Slug returns author-name, the form the download tool expects.
func (id Identity) Slug() string {
	return id.Author + KeySeparator + id.Name
}

// Validate reports which fields are missing.
func (id Identity) Validate() error {
	var missing []string
	if id.Author == "" {
		missing = append(missing, "author")
	}
	if id.Name == "" {
		missing = append(missing, "name")
	}
	if id.Version == "" {
		missing = append(missing, "version")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompleteIdentity, strings.Join(missing, ", "))
	}
	return nil
}

func (id Identity) String() string { return id.Key() }
