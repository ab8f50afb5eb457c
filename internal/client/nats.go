package client

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSClient wraps a JetStream connection for publishing engine events.
type NATSClient struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewNATSClient connects to the NATS server and opens a JetStream context.
func NewNATSClient(url string) (*NATSClient, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open JetStream context: %w", err)
	}

	return &NATSClient{conn: conn, js: js}, nil
}

// Publish sends a message to the given subject.
func (c *NATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := c.js.Publish(subject, data, nats.Context(ctx))
	return err
}

// Close drains and closes the connection.
func (c *NATSClient) Close() {
	if c.conn != nil {
		_ = c.conn.Drain()
	}
}
