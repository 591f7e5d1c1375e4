// Package docstore defines the key-path document store the front desk runs on.
//
// Documents live at slash-separated paths such as "appointments/{id}" or
// "queue/{date}/{id}". A collection is the parent path of its documents.
// Values are JSON objects; Update merges top-level fields.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"reflect"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrInvalidPath = errors.New("docstore: invalid path")
	ErrNoFeed      = errors.New("docstore: change feed not configured")
	// ErrPreconditionFailed means a write's Expect fields no longer hold.
	// Nothing from the batch was written.
	ErrPreconditionFailed = errors.New("docstore: precondition failed")
)

type Document struct {
	ID   string          `json:"id"`
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
}

// Decode unmarshals the document body into dst.
func (d Document) Decode(dst interface{}) error {
	return json.Unmarshal(d.Data, dst)
}

// Write is one element of an atomic multi-path write. Value replaces the
// document when set; otherwise Fields are merged into it. When Expect is set
// the whole batch is applied only if the stored document holds those field
// values at commit time; a missing field compares equal to nil.
type Write struct {
	Path   string
	Value  interface{}
	Fields map[string]interface{}
	Expect map[string]interface{}
}

type Store interface {
	NewID() string
	Create(ctx context.Context, collection string, value interface{}) (string, error)
	Read(ctx context.Context, docPath string, dst interface{}) (bool, error)
	List(ctx context.Context, collection string) ([]Document, error)
	ChildKeys(ctx context.Context, collection string) ([]string, error)
	Update(ctx context.Context, docPath string, fields map[string]interface{}) error
	Apply(ctx context.Context, writes ...Write) error
	Delete(ctx context.Context, docPath string) error
	Increment(ctx context.Context, counterPath string) (int64, error)
	Subscribe(ctx context.Context, collection string, fn func([]Document)) (func(), error)
}

// ChangeFeed carries "collection changed" notifications between writers and
// subscribers. Payloads are re-read from the store by the subscriber.
type ChangeFeed interface {
	Publish(ctx context.Context, collection string) error
	Subscribe(ctx context.Context, collection string, notify func()) (func(), error)
}

// Matches reports whether the JSON object data carries every expected field
// value. Values are compared after a JSON round trip so an expected bool or
// string matches its stored encoding. A missing document matches only
// expectations of nil.
func Matches(data json.RawMessage, expect map[string]interface{}) (bool, error) {
	stored := map[string]interface{}{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &stored); err != nil {
			return false, err
		}
	}
	for field, want := range expect {
		encoded, err := json.Marshal(want)
		if err != nil {
			return false, err
		}
		var normalized interface{}
		if err := json.Unmarshal(encoded, &normalized); err != nil {
			return false, err
		}
		if !reflect.DeepEqual(stored[field], normalized) {
			return false, nil
		}
	}
	return true, nil
}

// NewID returns a time-ordered unique key, so lexical order of IDs within a
// collection follows creation order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func Join(parts ...string) string {
	return strings.Join(parts, "/")
}

// Split returns the collection and final key of a document path.
func Split(docPath string) (string, string, error) {
	clean, err := Clean(docPath)
	if err != nil {
		return "", "", err
	}
	idx := strings.LastIndex(clean, "/")
	if idx <= 0 {
		return "", "", ErrInvalidPath
	}
	return clean[:idx], clean[idx+1:], nil
}

func Clean(raw string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return "", ErrInvalidPath
	}
	cleaned := path.Clean(trimmed)
	if cleaned != trimmed || strings.Contains(cleaned, "..") {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

// Collections returns every ancestor collection of a document path, nearest
// first. A write to "queue/2024-01-02/abc" changes both "queue/2024-01-02" and "queue".
func Collections(docPath string) []string {
	var out []string
	current := docPath
	for {
		idx := strings.LastIndex(current, "/")
		if idx <= 0 {
			return out
		}
		current = current[:idx]
		out = append(out, current)
	}
}
