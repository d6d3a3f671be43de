// Package events mirrors the events delivered to a caller onto NATS so other
// services can follow a request as it runs.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"

	"github.com/memtensor/deepresearch/pkg/config"
	"github.com/memtensor/deepresearch/pkg/interfaces"
	"github.com/memtensor/deepresearch/pkg/types"
)

// conn is the part of *nats.Conn the publisher needs
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes every event as JSON on <prefix>.<request_id>
type NATSPublisher struct {
	conn   conn
	prefix string
	logger interfaces.Logger
}

// NewNATSPublisher connects to cfg.URL, retrying with exponential backoff
// for at most cfg.ConnectWait
func NewNATSPublisher(ctx context.Context, cfg config.EventsConfig, logger interfaces.Logger) (*NATSPublisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("events url is required")
	}

	opts := []nats.Option{
		nats.Name("deepresearch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil && logger != nil {
				logger.Warn("NATS disconnected", map[string]interface{}{"error": err.Error()})
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			if logger != nil {
				logger.Info("NATS reconnected", map[string]interface{}{"url": nc.ConnectedUrl()})
			}
		}),
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = cfg.ConnectWait
	if policy.MaxElapsedTime <= 0 {
		policy.MaxElapsedTime = 10 * time.Second
	}

	var nc *nats.Conn
	operation := func() error {
		var err error
		nc, err = nats.Connect(cfg.URL, opts...)
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	if logger != nil {
		logger.Info("NATS connection established", map[string]interface{}{
			"url":            nc.ConnectedUrl(),
			"subject_prefix": cfg.SubjectPrefix,
		})
	}
	return newNATSPublisher(nc, cfg.SubjectPrefix, logger), nil
}

func newNATSPublisher(c conn, prefix string, logger interfaces.Logger) *NATSPublisher {
	return &NATSPublisher{conn: c, prefix: prefix, logger: logger}
}

// Subject returns the subject events of requestID are published on
func Subject(prefix, requestID string) string {
	if prefix == "" {
		return requestID
	}
	return prefix + "." + requestID
}

// Publish sends event on the request's subject
func (p *NATSPublisher) Publish(ctx context.Context, requestID string, event *types.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := p.conn.Publish(Subject(p.prefix, requestID), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close drains pending messages and closes the connection
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// NoopPublisher discards every event
type NoopPublisher struct{}

// Publish does nothing
func (NoopPublisher) Publish(ctx context.Context, requestID string, event *types.Event) error {
	return nil
}

// Close does nothing
func (NoopPublisher) Close() error { return nil }

// NewPublisher returns a NATS publisher when events are enabled and a
// NoopPublisher otherwise
func NewPublisher(ctx context.Context, cfg config.EventsConfig, logger interfaces.Logger) (interfaces.EventPublisher, error) {
	if !cfg.Enabled {
		return NoopPublisher{}, nil
	}
	return NewNATSPublisher(ctx, cfg, logger)
}
