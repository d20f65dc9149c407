package logprep

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSOutputConfig configures a NATS output.
type NATSOutputConfig struct {
	// URL is the NATS server address (required).
	URL string
	// Subject events are published to (required).
	Subject string
	// Name identifies this client to the server.
	// Default is "logprep".
	Name string
	// ConnectOptions are additional NATS connection options.
	ConnectOptions []nats.Option
}

// NATSOutputOption configures a NATSOutput.
type NATSOutputOption func(*NATSOutputConfig)

// WithNATSName sets the client name reported to the server.
func WithNATSName(name string) NATSOutputOption {
	return func(c *NATSOutputConfig) {
		c.Name = name
	}
}

// WithNATSConnectOptions sets additional NATS connection options.
func WithNATSConnectOptions(opts ...nats.Option) NATSOutputOption {
	return func(c *NATSOutputConfig) {
		c.ConnectOptions = append(c.ConnectOptions, opts...)
	}
}

// NATSOutput publishes events as JSON to a NATS subject.
type NATSOutput struct {
	config NATSOutputConfig
	conn   *nats.Conn
}

var _ Output = &NATSOutput{}

// NewNATSOutput connects to the NATS server and returns the output.
func NewNATSOutput(url, subject string, opts ...NATSOutputOption) (*NATSOutput, error) {
	config := NATSOutputConfig{
		URL:     url,
		Subject: subject,
		Name:    "logprep",
	}
	for _, opt := range opts {
		opt(&config)
	}

	connectOpts := []nats.Option{
		nats.Name(config.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}
	connectOpts = append(connectOpts, config.ConnectOptions...)

	conn, err := nats.Connect(config.URL, connectOpts...)
	if err != nil {
		return nil, WrapError(ErrConnector, "", "connecting to nats", err)
	}

	return &NATSOutput{config: config, conn: conn}, nil
}

// Store publishes one event.
func (o *NATSOutput) Store(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return WrapError(ErrConnector, "", "encoding event", err)
	}
	if err := o.conn.Publish(o.config.Subject, data); err != nil {
		return WrapError(ErrConnector, "", "publishing event", err)
	}
	return nil
}

// Close drains buffered messages and closes the connection.
func (o *NATSOutput) Close() error {
	if err := o.conn.Drain(); err != nil {
		return WrapError(ErrConnector, "", "draining nats connection", err)
	}
	return nil
}
