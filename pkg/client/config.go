package client

import (
	"errors"
	"time"
)

// Config holds the network engine's timing settings.
type Config struct {
	// Port is the server protocol port dialed when the caller supplies a
	// bare host.
	Port int `json:"port"`

	// ConnectTimeout bounds the dial of a new connection.
	ConnectTimeout time.Duration `json:"connect_timeout"`

	// HandshakeTimeout bounds each synchronous read inside a transfer:
	// the handshake line and every payload chunk.
	HandshakeTimeout time.Duration `json:"handshake_timeout"`

	// PollInterval is the read deadline the background listener uses per
	// attempt, so it can yield the socket to a starting transfer quickly.
	PollInterval time.Duration `json:"poll_interval"`

	// EventBufferSize sizes the channel messages are delivered on.
	EventBufferSize int `json:"event_buffer_size"`
}

// DefaultConfig mirrors the original client's timing: 5 s connect, 10 s
// transfer handshake, 100 ms listener cadence.
func DefaultConfig() Config {
	return Config{
		Port:             5555,
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		PollInterval:     100 * time.Millisecond,
		EventBufferSize:  100,
	}
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("port must be in 1..65535")
	}
	if c.ConnectTimeout <= 0 {
		return errors.New("connect_timeout must be positive")
	}
	if c.HandshakeTimeout <= 0 {
		return errors.New("handshake_timeout must be positive")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll_interval must be positive")
	}
	if c.EventBufferSize <= 0 {
		return errors.New("event_buffer_size must be positive")
	}
	return nil
}
