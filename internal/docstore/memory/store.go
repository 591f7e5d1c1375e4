// Package memory is an in-process docstore.Store used for local development
// and as the backing store in tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"qms/frontdesk-service/internal/docstore"
)

type Store struct {
	mu       sync.RWMutex
	docs     map[string]json.RawMessage
	counters map[string]int64
	feed     docstore.ChangeFeed
	failures map[string]error
}

func New() *Store {
	return &Store{
		docs:     make(map[string]json.RawMessage),
		counters: make(map[string]int64),
		feed:     docstore.NewLocalFeed(),
		failures: make(map[string]error),
	}
}

// FailWrites makes every write touching docPath fail with err until cleared
// with a nil error.
func (s *Store) FailWrites(docPath string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, docPath)
		return
	}
	s.failures[docPath] = err
}

func (s *Store) NewID() string {
	return docstore.NewID()
}

func (s *Store) Create(ctx context.Context, collection string, value interface{}) (string, error) {
	id := s.NewID()
	if err := s.Apply(ctx, docstore.Write{Path: docstore.Join(collection, id), Value: value}); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Read(_ context.Context, docPath string, dst interface{}) (bool, error) {
	clean, err := docstore.Clean(docPath)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	raw, ok := s.docs[clean]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if dst == nil {
		return true, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (s *Store) List(_ context.Context, collection string) ([]docstore.Document, error) {
	clean, err := docstore.Clean(collection)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(clean), nil
}

func (s *Store) listLocked(collection string) []docstore.Document {
	prefix := collection + "/"
	var docs []docstore.Document
	for key, raw := range s.docs {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		id := strings.TrimPrefix(key, prefix)
		if strings.Contains(id, "/") {
			continue
		}
		docs = append(docs, docstore.Document{ID: id, Path: key, Data: append(json.RawMessage(nil), raw...)})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}

func (s *Store) ChildKeys(_ context.Context, collection string) ([]string, error) {
	clean, err := docstore.Clean(collection)
	if err != nil {
		return nil, err
	}
	prefix := clean + "/"
	seen := make(map[string]struct{})
	s.mu.RLock()
	for key := range s.docs {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		idx := strings.Index(rest, "/")
		if idx <= 0 {
			continue
		}
		seen[rest[:idx]] = struct{}{}
	}
	s.mu.RUnlock()
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Update(ctx context.Context, docPath string, fields map[string]interface{}) error {
	return s.Apply(ctx, docstore.Write{Path: docPath, Fields: fields})
}

// Apply validates, checks and encodes every write before touching the map,
// so a failing write or unmet expectation leaves the store unchanged.
func (s *Store) Apply(ctx context.Context, writes ...docstore.Write) error {
	if len(writes) == 0 {
		return nil
	}
	s.mu.Lock()
	staged := make(map[string]json.RawMessage, len(writes))
	for _, w := range writes {
		clean, err := docstore.Clean(w.Path)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		if failure, ok := s.failures[clean]; ok {
			s.mu.Unlock()
			return failure
		}
		current, ok := staged[clean]
		if !ok {
			current = s.docs[clean]
		}
		if len(w.Expect) > 0 {
			match, err := docstore.Matches(current, w.Expect)
			if err != nil {
				s.mu.Unlock()
				return fmt.Errorf("check %s: %w", clean, err)
			}
			if !match {
				s.mu.Unlock()
				return fmt.Errorf("%s: %w", clean, docstore.ErrPreconditionFailed)
			}
		}
		next, err := encodeWrite(current, w)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("encode %s: %w", clean, err)
		}
		staged[clean] = next
	}
	changed := make(map[string]struct{})
	for key, raw := range staged {
		s.docs[key] = raw
		for _, collection := range docstore.Collections(key) {
			changed[collection] = struct{}{}
		}
	}
	s.mu.Unlock()

	s.publish(ctx, changed)
	return nil
}

func (s *Store) Delete(ctx context.Context, docPath string) error {
	clean, err := docstore.Clean(docPath)
	if err != nil {
		return err
	}
	changed := make(map[string]struct{})
	s.mu.Lock()
	for key := range s.docs {
		if key == clean || strings.HasPrefix(key, clean+"/") {
			delete(s.docs, key)
			for _, collection := range docstore.Collections(key) {
				changed[collection] = struct{}{}
			}
		}
	}
	s.mu.Unlock()
	s.publish(ctx, changed)
	return nil
}

func (s *Store) Increment(_ context.Context, counterPath string) (int64, error) {
	clean, err := docstore.Clean(counterPath)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[clean]++
	return s.counters[clean], nil
}

func (s *Store) Subscribe(ctx context.Context, collection string, fn func([]docstore.Document)) (func(), error) {
	clean, err := docstore.Clean(collection)
	if err != nil {
		return nil, err
	}
	deliver := func() {
		s.mu.RLock()
		docs := s.listLocked(clean)
		s.mu.RUnlock()
		fn(docs)
	}
	cancel, err := s.feed.Subscribe(ctx, clean, deliver)
	if err != nil {
		return nil, err
	}
	deliver()
	return cancel, nil
}

func (s *Store) publish(ctx context.Context, changed map[string]struct{}) {
	for collection := range changed {
		_ = s.feed.Publish(ctx, collection)
	}
}

func encodeWrite(current json.RawMessage, w docstore.Write) (json.RawMessage, error) {
	if w.Value != nil {
		return json.Marshal(w.Value)
	}
	merged := map[string]interface{}{}
	if len(current) > 0 {
		if err := json.Unmarshal(current, &merged); err != nil {
			return nil, err
		}
	}
	for key, value := range w.Fields {
		merged[key] = value
	}
	return json.Marshal(merged)
}
