package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charliek/logtap/internal/domain"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults pass", func(*Config) {}, ""},
		{"port zero allowed", func(c *Config) { c.API.Port = 0 }, ""},
		{"port too large", func(c *Config) { c.API.Port = 99999 }, "api.port"},
		{"negative port", func(c *Config) { c.API.Port = -1 }, "api.port"},
		{"negative kill grace", func(c *Config) { c.Bridge.KillGrace = -1 }, "bridge.kill_grace"},
		{"bridge path with newline", func(c *Config) { c.Bridge.Path = "sdb\nrm" }, "bridge.path"},
		{"ssh port zero", func(c *Config) { c.Remote.DefaultPort = 0 }, "remote.default_port"},
		{"zero settle delay allowed", func(c *Config) { c.Remote.SettleDelay = 0 }, ""},
		{"negative settle delay", func(c *Config) { c.Remote.SettleDelay = -1 }, "remote.settle_delay"},
		{"zero connect timeout", func(c *Config) { c.Remote.ConnectTimeout = 0 }, "remote.connect_timeout"},
		{"zero subscription buffer", func(c *Config) { c.Logs.SubscriptionBuffer = 0 }, "logs.subscription_buffer"},
		{"zero rate", func(c *Config) { c.Client.Rate = 0 }, "client.rate"},
		{"zero burst", func(c *Config) { c.Client.Burst = 0 }, "client.burst"},
		{"zero send buffer", func(c *Config) { c.Client.SendBuffer = 0 }, "client.send_buffer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
