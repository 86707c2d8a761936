package bus

import "context"

// Bus is the subset of Client's behavior that downstream services depend
// on, letting tests substitute Fake without touching a real NATS server.
type Bus interface {
	Publish(subject string, payload any) error
	Subscribe(subject string, handler Handler) error
	Request(ctx context.Context, subject string, payload any, out any) error
	IsConnected() bool
	Close() error
}

var (
	_ Bus = (*Client)(nil)
	_ Bus = (*Fake)(nil)
)
