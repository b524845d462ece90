package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/charliek/logtap/internal/constants"
	"github.com/charliek/logtap/internal/domain"
)

func configsDir() string {
	return filepath.Join("..", "..", "testdata", "configs")
}

func TestLoad_Minimal(t *testing.T) {
	cfg, err := Load(filepath.Join(configsDir(), "minimal.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.API.Port)
	assert.Equal(t, constants.DefaultAPIHost, cfg.API.Host)
	assert.Nil(t, cfg.API.Auth)
	assert.Equal(t, constants.DefaultBridgePath, cfg.Bridge.Path)
	assert.Equal(t, constants.DefaultSettleDelay, cfg.Remote.SettleDelay.Std())
	assert.Equal(t, constants.DefaultSSHPort, cfg.Remote.DefaultPort)
	assert.Equal(t, constants.DefaultLocalCommand, cfg.Commands.Local)
	assert.Equal(t, constants.DefaultLogBufferSize, cfg.Logs.BufferSize)
}

func TestLoad_Full(t *testing.T) {
	cfg, err := Load(filepath.Join(configsDir(), "full.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.API.Host)
	assert.Equal(t, 7000, cfg.API.Port)
	require.NotNil(t, cfg.API.Auth)
	assert.True(t, *cfg.API.Auth)

	assert.Equal(t, "/opt/tizen-studio/tools/sdb", cfg.Bridge.Path)
	assert.Equal(t, 500*time.Millisecond, cfg.Bridge.KillGrace.Std())
	assert.Equal(t, "info", cfg.Bridge.Env["SDB_LOG_LEVEL"])

	assert.Equal(t, "dlogutil -v threadtime $(TAGS)", cfg.Commands.Local)
	assert.Equal(t, "dlogutil -v time $(TAGS) | grep -v DEBUG", cfg.Commands.Remote)

	assert.Equal(t, 2222, cfg.Remote.DefaultPort)
	assert.Equal(t, 250*time.Millisecond, cfg.Remote.SettleDelay.Std())
	assert.Equal(t, 5*time.Second, cfg.Remote.ConnectTimeout.Std())
	assert.Equal(t, "~/.ssh/known_hosts", cfg.Remote.KnownHosts)

	assert.Equal(t, 200, cfg.Logs.BufferSize)
	assert.Equal(t, 10, cfg.Logs.SubscriptionBuffer)
	assert.Equal(t, 5.0, cfg.Client.Rate)
	assert.Equal(t, 2, cfg.Client.Burst)
	assert.Equal(t, 64, cfg.Client.SendBuffer)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "logtap.yaml"))
		assert.ErrorIs(t, err, domain.ErrConfigNotFound)
	})

	t.Run("every validation problem is reported", func(t *testing.T) {
		_, err := Load(filepath.Join(configsDir(), "invalid.yaml"))
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidConfig)
		assert.Contains(t, err.Error(), "api.port")
		assert.Contains(t, err.Error(), "remote.connect_timeout")
		assert.Contains(t, err.Error(), "logs.buffer_size")
	})

	t.Run("bad duration", func(t *testing.T) {
		_, err := Load(filepath.Join(configsDir(), "bad_duration.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "soon")
	})

	t.Run("world writable", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logtap.yaml")
		require.NoError(t, os.WriteFile(path, []byte("api:\n  port: 6000\n"), 0644))
		require.NoError(t, os.Chmod(path, 0666))

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "world-writable")
	})
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = LoadOrDefault(filepath.Join(configsDir(), "invalid.yaml"))
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestParse_EmptyTemplatesFallBack(t *testing.T) {
	cfg, err := Parse([]byte("commands:\n  local: \"\"\n"))
	require.NoError(t, err)
	assert.Equal(t, constants.DefaultLocalCommand, cfg.Commands.Local)
}

func TestConfig_CommandTemplates(t *testing.T) {
	cfg, err := Parse([]byte("commands:\n  remote: top -n 1 $(TAGS)\n"))
	require.NoError(t, err)

	templates := cfg.CommandTemplates()
	assert.Equal(t, "top -n 1 -d 2", templates.Resolve("", []string{"-d", "2"}, domain.TransportRemote))
	assert.Equal(t, "dlogutil -v kerneltime ", templates.Resolve("", nil, domain.TransportLocal))
}

func TestConfig_BridgeEnv(t *testing.T) {
	cfg, err := Load(filepath.Join(configsDir(), "full.yaml"))
	require.NoError(t, err)

	env, err := cfg.BridgeEnv(configsDir())
	require.NoError(t, err)
	assert.Equal(t, "26099", env["SDB_SERVER_PORT"])
	// bridge.env wins over the env file
	assert.Equal(t, "info", env["SDB_LOG_LEVEL"])

	cfg.Bridge.EnvFile = "missing.env"
	_, err = cfg.BridgeEnv(configsDir())
	assert.Error(t, err)

	env, err = Default().BridgeEnv("")
	require.NoError(t, err)
	assert.Empty(t, env)
}

func TestDuration_YAML(t *testing.T) {
	var v struct {
		D Duration `yaml:"d"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("d: 1m30s\n"), &v))
	assert.Equal(t, 90*time.Second, v.D.Std())

	out, err := yaml.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, "d: 1m30s\n", string(out))

	assert.Error(t, yaml.Unmarshal([]byte("d: [1, 2]\n"), &v))
}
