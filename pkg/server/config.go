package server

import (
	"errors"
	"time"
)

// Config holds the server-side settings for the protocol listener and the
// storage root it serves.
type Config struct {
	// Addr is the TCP address of the protocol listener.
	Addr string `json:"addr"`

	// Root is the storage directory every command is confined to. It is
	// created on startup if absent.
	Root string `json:"root"`

	// IdleTimeout closes a session after this much connection inactivity.
	// It covers the whole connection, not a single command.
	IdleTimeout time.Duration `json:"idle_timeout"`

	// EventBufferSize sizes the activity-feed channel.
	EventBufferSize int `json:"event_buffer_size"`
}

// DefaultConfig returns the settings the original deployment used: port
// 5555, a "storage" directory next to the binary, 300 s idle timeout.
func DefaultConfig() Config {
	return Config{
		Addr:            ":5555",
		Root:            "storage",
		IdleTimeout:     300 * time.Second,
		EventBufferSize: 100,
	}
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr must not be empty")
	}
	if c.Root == "" {
		return errors.New("root must not be empty")
	}
	if c.IdleTimeout <= 0 {
		return errors.New("idle_timeout must be positive")
	}
	if c.EventBufferSize <= 0 {
		return errors.New("event_buffer_size must be positive")
	}
	return nil
}
