package natsclient

import (
	"log/slog"
	"time"

	"github.com/c360/flowcanvas/scheduler"
)

// ClientOption configures a Client
type ClientOption func(*Client) error

// WithLogger sets the client logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger.With("component", "natsclient")
		}
		return nil
	}
}

// WithClock sets the clock driving circuit backoff
func WithClock(clock scheduler.Clock) ClientOption {
	return func(c *Client) error {
		c.clock = scheduler.OrReal(clock)
		return nil
	}
}

// WithName sets the connection name reported to the server
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.name = name
		return nil
	}
}

// WithTimeout sets the dial timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.timeout = d
		return nil
	}
}

// WithMaxReconnects sets reconnect attempts; -1 retries forever
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the pause between reconnect attempts
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.reconnectWait = d
		return nil
	}
}

// WithDrainTimeout bounds how long Close waits for pending messages
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.drainTimeout = d
		return nil
	}
}

// WithCircuitBreaker sets the failures that open the circuit and the
// longest backoff it waits before accepting calls again
func WithCircuitBreaker(threshold int, maxBackoff time.Duration) ClientOption {
	return func(c *Client) error {
		if threshold > 0 {
			c.threshold = int32(threshold)
		}
		if maxBackoff > 0 {
			c.maxBackoff = maxBackoff
		}
		return nil
	}
}

// WithCredentials sets user and password authentication
func WithCredentials(user, password string) ClientOption {
	return func(c *Client) error {
		c.user, c.password = user, password
		return nil
	}
}

// WithToken sets token authentication
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithHealthChange registers fn for connection up/down transitions
func WithHealthChange(fn func(healthy bool)) ClientOption {
	return func(c *Client) error {
		c.onHealth = fn
		return nil
	}
}
