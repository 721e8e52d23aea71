package broker

import "context"

// IntakeBroker decouples task submission from the database: perception
// adapters publish task envelopes, a consumer drains them into the
// queue store.
type IntakeBroker interface {
	Publish(queue string, message []byte) error
	Consume(ctx context.Context, queue string) (<-chan []byte, error)
	Close() error
}
