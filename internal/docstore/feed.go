package docstore

import (
	"context"
	"sync"
)

// LocalFeed is an in-process ChangeFeed for single-instance deployments and tests.
type LocalFeed struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func()
}

func NewLocalFeed() *LocalFeed {
	return &LocalFeed{subs: make(map[string]map[int]func())}
}

func (f *LocalFeed) Publish(_ context.Context, collection string) error {
	f.mu.RLock()
	listeners := make([]func(), 0, len(f.subs[collection]))
	for _, fn := range f.subs[collection] {
		listeners = append(listeners, fn)
	}
	f.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
	return nil
}

func (f *LocalFeed) Subscribe(ctx context.Context, collection string, notify func()) (func(), error) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	if f.subs[collection] == nil {
		f.subs[collection] = make(map[int]func())
	}
	f.subs[collection][id] = notify
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs[collection], id)
			if len(f.subs[collection]) == 0 {
				delete(f.subs, collection)
			}
		})
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			cancel()
		}()
	}
	return cancel, nil
}
