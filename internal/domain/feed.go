package domain

import "context"

// Subscription delivers live messages until closed. C is closed when the
// subscription ends.
type Subscription interface {
	C() <-chan Message
	Close() error
}

// MessageFeed fans newly stored messages out to live subscribers.
type MessageFeed interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}
