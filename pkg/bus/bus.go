// Package bus carries relay traffic between viewer sessions, content bridges
// and host pages. It supports publish/subscribe and request/reply. The NATS
// implementation lets several viewer processes share sessions; the in-memory
// one serves single-process deployments and tests.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/odvcencio/scormview/pkg/config"
)

var (
	// ErrTimeout is returned when a request times out waiting for a response.
	ErrTimeout = errors.New("request timeout")

	// ErrNoResponders is returned when no subscribers are available to handle a request.
	ErrNoResponders = errors.New("no responders available")

	// ErrClosed is returned when operating on a closed bus or subscription.
	ErrClosed = errors.New("bus or subscription closed")
)

// MessageBus is the transport between session participants.
// Implementations must be safe for concurrent use.
type MessageBus interface {
	// Publish sends a message to all subscribers of the given subject.
	// Returns immediately; does not wait for message delivery.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// Supports wildcards: "scormview.session.*.host" matches every host.
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a single response.
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// MessageHandler processes incoming messages.
// For request/reply, return data to send as response; return nil for no response.
type MessageHandler func(msg *Message) []byte

// Message represents an incoming message from the bus.
type Message struct {
	Subject string
	Data    []byte
	ReplyTo string // Set if sender expects a response
}

// Subscription represents an active subscription that can be cancelled.
type Subscription interface {
	// Unsubscribe stops receiving messages and cleans up resources.
	Unsubscribe() error

	// Subject returns the subject pattern this subscription is for.
	Subject() string
}

// Config holds configuration for creating a MessageBus.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	// Ignored for in-memory bus.
	URL string

	// Name is a client identifier for debugging/monitoring.
	Name string

	// Timeout is the default timeout for operations.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:     "nats://localhost:4222",
		Name:    "scormview",
		Timeout: 30 * time.Second,
	}
}

// New creates the bus selected by cfg.Kind.
func New(cfg config.BusConfig) (MessageBus, error) {
	switch cfg.Kind {
	case "", config.BusMemory:
		return NewMemoryBus(), nil
	case config.BusNATS:
		c := DefaultConfig()
		if cfg.URL != "" {
			c.URL = cfg.URL
		}
		if cfg.Name != "" {
			c.Name = cfg.Name
		}
		return NewNATSBus(c)
	default:
		return nil, fmt.Errorf("unknown bus kind %q", cfg.Kind)
	}
}

// Participant roles within a session.
const (
	RoleContent = "content"
	RoleHost    = "host"
)

const subjectPrefix = "scormview.session."

// SessionSubject is where messages for role in session id are published.
func SessionSubject(id, role string) string {
	return subjectPrefix + id + "." + role
}

// CommandSubject carries host commands that expect a content ack.
func CommandSubject(id string) string {
	return subjectPrefix + id + ".cmd"
}

// InboundSubject carries content actions and life signals to the controller.
func InboundSubject(id string) string {
	return subjectPrefix + id + ".inbound"
}

// SnapshotSubject carries runtime commit snapshots.
func SnapshotSubject(id string) string {
	return subjectPrefix + id + ".snapshot"
}

// AllSnapshots matches the snapshot subject of every session.
const AllSnapshots = subjectPrefix + "*.snapshot"

// PublishJSON marshals v and publishes it.
func PublishJSON(ctx context.Context, b MessageBus, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	return b.Publish(ctx, subject, data)
}
