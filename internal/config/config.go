package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/charliek/logtap/internal/command"
	"github.com/charliek/logtap/internal/constants"
	"github.com/charliek/logtap/internal/domain"
)

// Config represents the top-level logtap configuration
type Config struct {
	API      APIConfig      `yaml:"api"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Commands CommandsConfig `yaml:"commands"`
	Remote   RemoteConfig   `yaml:"remote"`
	Logs     LogsConfig     `yaml:"logs"`
	Client   ClientConfig   `yaml:"client"`
}

// APIConfig defines the HTTP API configuration
type APIConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
	Auth *bool  `yaml:"auth,omitempty"` // nil = auto-determine based on host
}

// BridgeConfig defines how the local device bridge is launched
type BridgeConfig struct {
	Path      string            `yaml:"path"`
	Env       map[string]string `yaml:"env"`
	EnvFile   string            `yaml:"env_file"`
	KillGrace Duration          `yaml:"kill_grace"`
}

// CommandsConfig overrides the default command template per transport
type CommandsConfig struct {
	Local  string `yaml:"local"`
	Remote string `yaml:"remote"`
}

// RemoteConfig defines SSH capture behaviour
type RemoteConfig struct {
	DefaultPort    int      `yaml:"default_port"`
	SettleDelay    Duration `yaml:"settle_delay"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	KnownHosts     string   `yaml:"known_hosts"` // empty = accept any host key
}

// LogsConfig sizes the capture history
type LogsConfig struct {
	BufferSize         int `yaml:"buffer_size"`
	SubscriptionBuffer int `yaml:"subscription_buffer"`
}

// ClientConfig limits each websocket client
type ClientConfig struct {
	Rate       float64 `yaml:"rate"`  // inbound events per second
	Burst      int     `yaml:"burst"` // inbound burst allowance
	SendBuffer int     `yaml:"send_buffer"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		API: APIConfig{
			Port: constants.DefaultAPIPort,
			Host: constants.DefaultAPIHost,
		},
		Bridge: BridgeConfig{
			Path:      constants.DefaultBridgePath,
			KillGrace: Duration(constants.DefaultKillGrace),
		},
		Commands: CommandsConfig{
			Local:  constants.DefaultLocalCommand,
			Remote: constants.DefaultRemoteCommand,
		},
		Remote: RemoteConfig{
			DefaultPort:    constants.DefaultSSHPort,
			SettleDelay:    Duration(constants.DefaultSettleDelay),
			ConnectTimeout: Duration(constants.DefaultConnectTimeout),
		},
		Logs: LogsConfig{
			BufferSize:         constants.DefaultLogBufferSize,
			SubscriptionBuffer: constants.DefaultSubscriptionBuffer,
		},
		Client: ClientConfig{
			Rate:       constants.DefaultClientRate,
			Burst:      constants.DefaultClientBurst,
			SendBuffer: constants.DefaultClientSendBuffer,
		},
	}
}

// Load reads and parses a configuration file
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("checking config file: %w", err)
	}

	if err := CheckFilePermissions(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// LoadOrDefault behaves like Load but returns the defaults when the file does not exist
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, domain.ErrConfigNotFound) {
		return Default(), nil
	}
	return cfg, err
}

// Parse parses configuration from YAML bytes. Keys that are absent keep their defaults.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}

	// An explicitly empty template means "use the built-in one"
	if config.Commands.Local == "" {
		config.Commands.Local = constants.DefaultLocalCommand
	}
	if config.Commands.Remote == "" {
		config.Commands.Remote = constants.DefaultRemoteCommand
	}
	if config.Bridge.Path == "" {
		config.Bridge.Path = constants.DefaultBridgePath
	}

	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// CommandTemplates returns the command resolver for the configured defaults
func (c *Config) CommandTemplates() *command.Templates {
	return &command.Templates{
		Defaults: map[domain.TransportKind]string{
			domain.TransportLocal:  c.Commands.Local,
			domain.TransportRemote: c.Commands.Remote,
		},
	}
}

// BridgeEnv returns the environment for the device bridge. Variables from
// bridge.env override those read from bridge.env_file, which is resolved
// relative to configDir.
func (c *Config) BridgeEnv(configDir string) (map[string]string, error) {
	var fileEnv map[string]string
	if c.Bridge.EnvFile != "" {
		var err error
		fileEnv, err = readEnvFile(relativeTo(c.Bridge.EnvFile, configDir))
		if err != nil {
			return nil, fmt.Errorf("loading bridge env file: %w", err)
		}
	}
	return overlayEnv(fileEnv, c.Bridge.Env), nil
}

// Duration is a time.Duration written as a Go duration string in YAML
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String returns the duration in Go notation
func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalYAML accepts strings such as "1s" or "250ms"
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a string like \"1s\"", value.Line)
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration as a string
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}
