package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/getmockd/gqlsubs/pkg/subscriptions"
)

// Publisher delivers a published event for one subscription name.
type Publisher interface {
	Publish(ctx context.Context, name string, payload interface{}) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, name string, payload interface{}) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, name string, payload interface{}) error {
	return f(ctx, name, payload)
}

// Source is a long-running event feed that publishes into a Publisher.
type Source interface {
	// Run consumes events until ctx is cancelled. It returns nil on
	// cancellation and an error when the feed cannot be established.
	Run(ctx context.Context) error
}

// RegistryPublisher publishes into a local registry.
type RegistryPublisher struct {
	registry *subscriptions.Registry
}

// NewRegistryPublisher returns a Publisher backed by registry.
func NewRegistryPublisher(registry *subscriptions.Registry) *RegistryPublisher {
	return &RegistryPublisher{registry: registry}
}

// Publish fans payload out through the registry. Per-registration failures
// are reported to their clients, so Publish itself never fails.
func (p *RegistryPublisher) Publish(ctx context.Context, name string, payload interface{}) error {
	p.registry.Publish(ctx, name, payload)
	return nil
}

// PublishWithResult is Publish returning the fan-out summary.
func (p *RegistryPublisher) PublishWithResult(ctx context.Context, name string, payload interface{}) subscriptions.PublishResult {
	return p.registry.Publish(ctx, name, payload)
}

// RunAll runs every source until ctx is cancelled or one of them fails.
func RunAll(ctx context.Context, sources ...Source) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range sources {
		if s == nil {
			continue
		}
		s := s
		g.Go(func() error {
			return s.Run(ctx)
		})
	}
	return g.Wait()
}

// decodePayload decodes a JSON event body. Bodies that are not JSON are
// delivered as a plain string.
func decodePayload(data []byte) interface{} {
	if len(data) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	return v
}

func encodePayload(payload interface{}) ([]byte, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}
