package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Fake is an in-process stand-in for Client used by service-level tests
// that need publish/subscribe/request semantics without a running NATS
// server. It is not safe to mix with a real Client in the same process.
type Fake struct {
	mu       sync.Mutex
	handlers map[string][]Handler
}

// NewFake returns an empty Fake bus.
func NewFake() *Fake {
	return &Fake{handlers: make(map[string][]Handler)}
}

func (f *Fake) Subscribe(subject string, handler Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[subject] = append(f.handlers[subject], handler)
	return nil
}

func (f *Fake) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal publish payload for %s: %w", subject, err)
	}
	f.mu.Lock()
	handlers := append([]Handler(nil), f.handlers[subject]...)
	f.mu.Unlock()
	for _, h := range handlers {
		_, _ = h(context.Background(), subject, data)
	}
	return nil
}

func (f *Fake) Request(ctx context.Context, subject string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request payload for %s: %w", subject, err)
	}
	f.mu.Lock()
	handlers := append([]Handler(nil), f.handlers[subject]...)
	f.mu.Unlock()
	if len(handlers) == 0 {
		return fmt.Errorf("request to %s: no subscriber registered", subject)
	}
	result, err := handlers[0](ctx, subject, data)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	reencoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal fake reply for %s: %w", subject, err)
	}
	return json.Unmarshal(reencoded, out)
}

func (f *Fake) IsConnected() bool { return true }
func (f *Fake) Close() error      { return nil }
