// Package redisfeed fans docstore change notifications out across instances
// over Redis Pub/Sub.
package redisfeed

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const defaultPrefix = "docstore:"

type Feed struct {
	client *redis.Client
	prefix string
}

func New(client *redis.Client, prefix string) *Feed {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Feed{client: client, prefix: prefix}
}

func (f *Feed) channel(collection string) string {
	return f.prefix + collection
}

func (f *Feed) Publish(ctx context.Context, collection string) error {
	if err := f.client.Publish(ctx, f.channel(collection), collection).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", collection, err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed before returning, so
// a Publish issued after Subscribe returns is never missed.
func (f *Feed) Subscribe(ctx context.Context, collection string, notify func()) (func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	pubsub := f.client.Subscribe(subCtx, f.channel(collection))
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", collection, err)
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			_ = pubsub.Close()
		})
	}

	go func() {
		defer stop()
		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					log.Debug().Str("collection", collection).Msg("change feed channel closed")
					return
				}
				notify()
			}
		}
	}()
	return stop, nil
}
