package gateway

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	GatewayURL     = "wss://gateway.discord.gg"
	GatewayQuery   = "v=10&encoding=json"
	ReconnectDelay = 2 * time.Second
	ConnectTimeout = 10 * time.Second
)

// SessionStorage persists the resumable session between process runs.
// Load returns ErrNoSession when nothing is stored.
type SessionStorage interface {
	Save(*SessionData) error
	Load() (*SessionData, error)
	Clear() error
}

func WithGatewayURL(url string) ClientOption {
	return func(c *Client) error {
		if url == "" {
			return errors.New("gateway url is empty")
		}
		c.gatewayURL = url
		return nil
	}
}

func WithProperties(props ClientProperties) ClientOption {
	return func(c *Client) error {
		c.identity.Properties = props
		return nil
	}
}

func WithCapabilities(caps Capability) ClientOption {
	return func(c *Client) error {
		c.identity.Capabilities = caps
		return nil
	}
}

func WithEventHandler(h EventHandler) ClientOption {
	return func(c *Client) error {
		c.handler = h
		return nil
	}
}

func WithSessionStorage(s SessionStorage) ClientOption {
	return func(c *Client) error {
		c.storage = s
		return nil
	}
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithRegisterer registers the gateway metrics with reg.
func WithRegisterer(reg prometheus.Registerer) ClientOption {
	return func(c *Client) error {
		c.registerer = reg
		return nil
	}
}

// WithBackOff replaces the fixed reconnect delay.
func WithBackOff(b backoff.BackOff) ClientOption {
	return func(c *Client) error {
		if b == nil {
			return errors.New("backoff is nil")
		}
		c.backoff = b
		return nil
	}
}

func WithReconnectDelay(d time.Duration) ClientOption {
	return WithBackOff(backoff.NewConstantBackOff(d))
}

func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return errors.Errorf("invalid connect timeout %s", d)
		}
		c.connectTimeout = d
		return nil
	}
}

func WithRateLimiter(rl *RateLimiter) ClientOption {
	return func(c *Client) error {
		c.limiter = rl
		return nil
	}
}
