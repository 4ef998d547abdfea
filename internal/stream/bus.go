package stream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/footybrain/footyd/internal/domain"
)

// Handler processes one delivered note. Handlers on the same
// subscription are invoked sequentially in publish order.
type Handler func(ctx context.Context, note domain.Note)

// Subscription is one live topic registration.
type Subscription interface {
	Unsubscribe() error
}

// Bus moves change notes between the write path and the fan-out bridge.
// Delivery is at-most-once; a missed note is recoverable through the
// bridge's catch-up path, never through the bus itself.
type Bus interface {
	Publish(ctx context.Context, note domain.Note) error
	Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error)

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health() HealthStatus
}

// HealthStatus is the bus half of the health probe.
type HealthStatus struct {
	Healthy     bool      `json:"healthy"`
	Backend     string    `json:"backend"`
	Subscribers int       `json:"subscribers"`
	Errors      []string  `json:"errors,omitempty"`
	LastCheck   time.Time `json:"last_check"`
}

var (
	ErrBusNotStarted     = errors.New("bus not started")
	ErrUnsupportedScheme = errors.New("unsupported bus scheme")
)

// New selects a backend by DSN scheme: mem:// (in-process, the
// default), redis:// (channel per fixture), nats:// (subject per
// fixture). The DSN is handed to the backend's client untouched.
func New(dsn string) (Bus, error) {
	if dsn == "" {
		return NewMemoryBus(), nil
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bus DSN: %w", err)
	}
	switch u.Scheme {
	case "", "mem", "memory":
		return NewMemoryBus(), nil
	case "redis", "rediss":
		return NewRedisBus(dsn)
	case "nats":
		return NewNATSBus(dsn), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}
