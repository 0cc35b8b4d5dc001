package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AaronLay10/StateSpace/internal/engine"
	"github.com/AaronLay10/StateSpace/internal/mqtt"
	"github.com/AaronLay10/StateSpace/internal/storage/postgres"
)

// RuntimeConfig is the runtime.yaml of one instance.
type RuntimeConfig struct {
	Version  int `yaml:"version"`
	Instance struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"instance"`
	Engine struct {
		Path string   `yaml:"path"`
		Args []string `yaml:"args"`
		Dir  string   `yaml:"dir"`
		// Connect reaches an engine that is already running instead of
		// starting one.
		Connect        string   `yaml:"connect"`
		StartTimeoutMs int      `yaml:"start_timeout_ms"`
		Setup          []string `yaml:"setup"`
	} `yaml:"engine"`
	Network struct {
		APIPort int `yaml:"api_port"`
	} `yaml:"network"`
	MQTT struct {
		Enabled  bool   `yaml:"enabled"`
		URL      string `yaml:"url"`
		ClientID string `yaml:"client_id"`
		Username string `yaml:"username"`
		Prefix   string `yaml:"prefix"`
		Optional bool   `yaml:"optional"`
	} `yaml:"mqtt"`
	Postgres struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		User     string `yaml:"user"`
		Database string `yaml:"database"`
		SSLMode  string `yaml:"sslmode"`
		Optional bool   `yaml:"optional"`
	} `yaml:"postgres"`
	ModelCheck struct {
		StepTimeoutMs int `yaml:"step_timeout_ms"`
	} `yaml:"modelcheck"`
	Replay struct {
		Lookahead   *int     `yaml:"lookahead"`
		MaxBranches int      `yaml:"max_branches"`
		Ignore      []string `yaml:"ignore"`
		Blacklist   []string `yaml:"blacklist"`
		// Operations overrides what is compared for steps of one operation.
		Operations map[string]ReplayOperation `yaml:"operations"`
	} `yaml:"replay"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// ReplayOperation lists the categories and identifiers not compared for
// one operation, on top of the global replay settings.
type ReplayOperation struct {
	Ignore    []string `yaml:"ignore"`
	Blacklist []string `yaml:"blacklist"`
}

// InstanceID returns the configured id, defaulting to the hostname.
func (c *RuntimeConfig) InstanceID() string {
	if c.Instance.ID != "" {
		return c.Instance.ID
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "statespace"
}

// APIPort returns the configured API port, defaulting to 8080 if not set.
func (c *RuntimeConfig) APIPort() int {
	if c.Network.APIPort == 0 {
		return 8080
	}
	return c.Network.APIPort
}

// StepTimeout returns the model-check step bound, or zero for the default.
func (c *RuntimeConfig) StepTimeout() time.Duration {
	return time.Duration(c.ModelCheck.StepTimeoutMs) * time.Millisecond
}

// Lookahead returns the replay search depth and whether it was set.
func (c *RuntimeConfig) Lookahead() (int, bool) {
	if c.Replay.Lookahead == nil {
		return 0, false
	}
	return *c.Replay.Lookahead, true
}

// MQTTClientID defaults to "statespace-" plus the instance id.
func (c *RuntimeConfig) MQTTClientID() string {
	if c.MQTT.ClientID != "" {
		return c.MQTT.ClientID
	}
	return "statespace-" + c.InstanceID()
}

// MQTTOptions returns the broker settings. The password is read from
// STATESPACE_MQTT_PASSWORD or its _FILE variant.
func (c *RuntimeConfig) MQTTOptions() (mqtt.Options, error) {
	password, err := ResolveSecret("STATESPACE_MQTT_PASSWORD")
	if err != nil {
		return mqtt.Options{}, err
	}
	return mqtt.Options{
		Broker:   c.MQTT.URL,
		ClientID: c.MQTTClientID(),
		Username: c.MQTT.Username,
		Password: password,
	}, nil
}

// ProcessConfig returns how to start the engine.
func (c *RuntimeConfig) ProcessConfig() engine.ProcessConfig {
	return engine.ProcessConfig{
		Path:         c.Engine.Path,
		Args:         c.Engine.Args,
		Dir:          c.Engine.Dir,
		StartTimeout: time.Duration(c.Engine.StartTimeoutMs) * time.Millisecond,
	}
}

// PostgresOptions returns the connection settings. The password is read
// from STATESPACE_PG_PASSWORD, then PGPASSWORD, each with a _FILE variant.
func (c *RuntimeConfig) PostgresOptions() (postgres.Options, error) {
	password, err := ResolveSecret("STATESPACE_PG_PASSWORD", "PGPASSWORD")
	if err != nil {
		return postgres.Options{}, err
	}
	return postgres.Options{
		Host:     c.Postgres.Host,
		Port:     c.Postgres.Port,
		User:     c.Postgres.User,
		Database: c.Postgres.Database,
		Password: password,
		SSLMode:  c.Postgres.SSLMode,
	}, nil
}

// Default returns the configuration used when no file is given.
func Default() *RuntimeConfig {
	cfg := &RuntimeConfig{Version: 1}
	cfg.Engine.Path = "probcli"
	cfg.Engine.Args = []string{"-sf"}
	cfg.MQTT.Optional = true
	cfg.Postgres.Optional = true
	return cfg
}

func LoadRuntimeConfig(path string) (*RuntimeConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported runtime.yaml version: %d", cfg.Version)
	}
	if cfg.Engine.Path == "" && cfg.Engine.Connect == "" {
		return nil, fmt.Errorf("runtime.yaml: engine.path or engine.connect is required")
	}

	return cfg, nil
}
