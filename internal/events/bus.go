package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// Publisher publishes JSON payloads on a subject
type Publisher interface {
	Publish(subject string, data interface{}) error
}

// Bus is a NATS client connection, plus the embedded server when this
// process owns the bus
type Bus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger

	subs   map[string][]*nats.Subscription
	subsMu sync.RWMutex
}

// BusConfig configures the embedded server
type BusConfig struct {
	// Host defaults to 127.0.0.1
	Host string
	// Port of the NATS listener; 0 or -1 picks a random free port
	Port int
}

// NewBus starts the embedded server and connects to it
func NewBus(cfg BusConfig) (*Bus, error) {
	logger := slog.Default().With("component", "eventbus")

	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = server.RANDOM_PORT
	}

	ns, err := server.NewServer(&server.Options{
		Host:   cfg.Host,
		Port:   cfg.Port,
		NoSigs: true,
		NoLog:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready after 2 seconds")
	}

	nc, err := nats.Connect(ns.ClientURL(), nats.Name("ppeguard"))
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	logger.Info("Event bus started", "url", ns.ClientURL())

	return &Bus{
		server: ns,
		conn:   nc,
		logger: logger,
		subs:   make(map[string][]*nats.Subscription),
	}, nil
}

// Connect joins a bus embedded by another process without starting a server
func Connect(url string) (*Bus, error) {
	logger := slog.Default().With("component", "eventbus")

	nc, err := nats.Connect(url,
		nats.Name("ppeguard-client"),
		nats.Timeout(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to event bus at %s: %w", url, err)
	}

	logger.Info("Connected to event bus", "url", nc.ConnectedUrl())

	return &Bus{
		conn:   nc,
		logger: logger,
		subs:   make(map[string][]*nats.Subscription),
	}, nil
}

// ClientURL returns the NATS client URL
func (b *Bus) ClientURL() string {
	if b.server == nil {
		return b.conn.ConnectedUrl()
	}
	return b.server.ClientURL()
}

// Publish marshals data as JSON and publishes it
func (b *Bus) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return b.conn.Publish(subject, payload)
}

// Subscribe delivers raw messages for subject, which may contain wildcards
func (b *Bus) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	sub, err := b.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}

	b.subsMu.Lock()
	b.subs[subject] = append(b.subs[subject], sub)
	b.subsMu.Unlock()

	return sub, nil
}

// SubscribeEvents decodes each message as an Event
func (b *Bus) SubscribeEvents(subject string, handler func(subject string, ev Event)) (*nats.Subscription, error) {
	return b.Subscribe(subject, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.logger.Error("Failed to unmarshal event", "subject", msg.Subject, "error", err)
			return
		}
		handler(msg.Subject, ev)
	})
}

// Unsubscribe removes all subscriptions for a subject
func (b *Bus) Unsubscribe(subject string) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	for _, sub := range b.subs[subject] {
		_ = sub.Unsubscribe()
	}
	delete(b.subs, subject)
}

// Flush waits until the server has processed everything published so far
func (b *Bus) Flush() error {
	return b.conn.Flush()
}

// HealthCheck verifies the client connection
func (b *Bus) HealthCheck(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return errors.New("NATS connection not active")
	}
	return b.conn.FlushWithContext(ctx)
}

// Stop drains the connection and shuts down the embedded server, if any
func (b *Bus) Stop() {
	_ = b.conn.Drain()
	if b.server != nil {
		b.server.Shutdown()
	}
	b.logger.Info("Event bus stopped")
}
