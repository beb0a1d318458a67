// Package messaging provides a NATS client wrapper for the moderation
// service. It handles connection lifecycle, subject-based subscriptions,
// request/reply for the admin channel and convenience methods for each
// moderation subject.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects used by the moderation service.
const (
	SubjectModerationCheck   = "moderation.check"
	SubjectModerationResult  = "moderation.result"  // + .<author>
	SubjectModerationCommand = "moderation.command" // + .<author>
	SubjectModerationAdmin   = "moderation.admin"   // request/reply
	SubjectModerationReset   = "moderation.reset"
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn   *nats.Conn
	logger *slog.Logger
	mu     sync.Mutex
	subs   map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
	Logger        *slog.Logger
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "chatfilter",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats")

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	logger.Info("connected", "url", nc.ConnectedUrl())

	return &NATSClient{
		conn:   nc,
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// Request sends data to subject and waits for a single reply until ctx is done.
func (c *NATSClient) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("nats request %s: %w", subject, err)
	}
	return msg.Data, nil
}

// SubscribeModerationCheck subscribes to moderation check requests.
func (c *NATSClient) SubscribeModerationCheck(handler func(data []byte)) error {
	return c.Subscribe(SubjectModerationCheck, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishModerationRequest publishes a moderation check request.
func (c *NATSClient) PublishModerationRequest(data []byte) error {
	return c.Publish(SubjectModerationCheck, data)
}

// PublishModerationResult publishes a moderation result for a specific author.
func (c *NATSClient) PublishModerationResult(author string, data []byte) error {
	if err := checkToken(author); err != nil {
		return err
	}
	return c.Publish(SubjectModerationResult+"."+author, data)
}

// SubscribeModerationResult subscribes to moderation results for an author.
// Use "*" to receive results for everyone.
func (c *NATSClient) SubscribeModerationResult(author string, handler func(data []byte)) error {
	return c.Subscribe(SubjectModerationResult+"."+author, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishCommand forwards a rendered punishment command that the moderator
// does not execute itself.
func (c *NATSClient) PublishCommand(author string, data []byte) error {
	if err := checkToken(author); err != nil {
		return err
	}
	return c.Publish(SubjectModerationCommand+"."+author, data)
}

// checkToken rejects an author that would not be exactly one literal
// subject token.
func checkToken(author string) error {
	if author == "" || strings.ContainsAny(author, ".*> \t\r\n") {
		return fmt.Errorf("nats: %q is not a valid subject token", author)
	}
	return nil
}

// PublishReset announces a violation reset (manual or daily).
func (c *NATSClient) PublishReset(data []byte) error {
	return c.Publish(SubjectModerationReset, data)
}

// ServeAdmin answers admin requests with the handler's return value.
func (c *NATSClient) ServeAdmin(handler func(data []byte) []byte) error {
	return c.Subscribe(SubjectModerationAdmin, func(msg *nats.Msg) {
		reply := handler(msg.Data)
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(reply); err != nil {
			c.logger.Warn("admin respond failed", "err", err)
		}
	})
}

// AdminRequest sends an admin request and waits for the reply.
func (c *NATSClient) AdminRequest(ctx context.Context, data []byte) ([]byte, error) {
	return c.Request(ctx, SubjectModerationAdmin, data)
}

// Unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) Unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn("drain failed", "subject", subject, "err", err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("connection drain failed", "err", err)
	}

	c.logger.Info("client closed")
}
