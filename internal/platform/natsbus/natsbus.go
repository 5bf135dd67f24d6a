// Package natsbus is a thin JetStream publisher used for workflow notifications.
package natsbus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Config configures the connection and the stream notifications land in.
type Config struct {
	URL        string
	Name       string
	Stream     string
	Subjects   []string
	MaxAge     time.Duration
	ConnectTTL time.Duration
}

// Client publishes messages to a JetStream stream.
type Client struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect dials NATS and makes sure the stream exists.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ConnectTTL == 0 {
		cfg.ConnectTTL = 5 * time.Second
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTTL),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	if cfg.Stream != "" {
		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     cfg.Stream,
			Subjects: cfg.Subjects,
			MaxAge:   cfg.MaxAge,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
		}
	}

	return &Client{nc: nc, js: js}, nil
}

// Publish sends data to subject and waits for the stream acknowledgement.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := c.js.Publish(ctx, subject, data)
	return err
}

// Close drains the connection.
func (c *Client) Close() error {
	return c.nc.Drain()
}
