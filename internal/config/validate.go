package config

import (
	"fmt"
	"strings"

	"github.com/charliek/logtap/internal/domain"
)

// Validate checks the configuration and reports every problem at once
func Validate(config *Config) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if config.API.Port < 0 || config.API.Port > 65535 {
		add("api.port: must be between 0 and 65535, got %d", config.API.Port)
	}

	if strings.ContainsAny(config.Bridge.Path, "\n\t") {
		add("bridge.path: must not contain control characters")
	}
	if config.Bridge.KillGrace < 0 {
		add("bridge.kill_grace: must be non-negative")
	}

	if config.Remote.DefaultPort < 1 || config.Remote.DefaultPort > 65535 {
		add("remote.default_port: must be between 1 and 65535, got %d", config.Remote.DefaultPort)
	}
	if config.Remote.SettleDelay < 0 {
		add("remote.settle_delay: must be non-negative")
	}
	if config.Remote.ConnectTimeout <= 0 {
		add("remote.connect_timeout: must be positive")
	}

	if config.Logs.BufferSize <= 0 {
		add("logs.buffer_size: must be positive, got %d", config.Logs.BufferSize)
	}
	if config.Logs.SubscriptionBuffer <= 0 {
		add("logs.subscription_buffer: must be positive, got %d", config.Logs.SubscriptionBuffer)
	}

	if config.Client.Rate <= 0 {
		add("client.rate: must be positive")
	}
	if config.Client.Burst < 1 {
		add("client.burst: must be at least 1, got %d", config.Client.Burst)
	}
	if config.Client.SendBuffer <= 0 {
		add("client.send_buffer: must be positive, got %d", config.Client.SendBuffer)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}
