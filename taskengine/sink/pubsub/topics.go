package pubsub

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	gcpubsub "gocloud.dev/pubsub"
)

// topicCache lazily opens and memoizes one gocloud.dev/pubsub.Topic per
// logical topic name, so repeated Send calls against the same topic reuse
// its underlying connection instead of reopening it each time.
type topicCache struct {
	dsnFor func(topic string) string

	mu     sync.Mutex
	topics map[string]*gcpubsub.Topic
}

func newTopicCache(dsnFor func(topic string) string) *topicCache {
	return &topicCache{dsnFor: dsnFor, topics: make(map[string]*gcpubsub.Topic)}
}

func (c *topicCache) get(ctx context.Context, topic string) (*gcpubsub.Topic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.topics[topic]; ok {
		return t, nil
	}

	t, err := gcpubsub.OpenTopic(ctx, c.dsnFor(topic))
	if err != nil {
		return nil, fmt.Errorf("open topic %q: %w", topic, err)
	}
	c.topics[topic] = t
	return t, nil
}

func (c *topicCache) closeAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for name, t := range c.topics {
		if shutdownErr := t.Shutdown(ctx); shutdownErr != nil {
			err = multierr.Append(err, fmt.Errorf("shutdown topic %q: %w", name, shutdownErr))
		}
	}
	c.topics = make(map[string]*gcpubsub.Topic)
	return err
}
