package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runtime.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadRuntimeConfig(t *testing.T) {
	path := writeConfig(t, `
version: 1
instance:
  id: lab-1
engine:
  path: /opt/prob/probcli
  args: ["-sf"]
  setup:
    - "load_machine('M.mch')"
network:
  api_port: 9090
mqtt:
  enabled: true
  prefix: lab
modelcheck:
  step_timeout_ms: 250
replay:
  lookahead: 0
  max_branches: 4
  blacklist: [counter]
  operations:
    inc:
      ignore: [output]
      blacklist: [y]
`)

	cfg, err := LoadRuntimeConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.InstanceID() != "lab-1" {
		t.Errorf("InstanceID = %q", cfg.InstanceID())
	}
	if cfg.APIPort() != 9090 {
		t.Errorf("APIPort = %d", cfg.APIPort())
	}
	if cfg.StepTimeout() != 250*time.Millisecond {
		t.Errorf("StepTimeout = %v", cfg.StepTimeout())
	}
	if n, ok := cfg.Lookahead(); !ok || n != 0 {
		t.Errorf("Lookahead = %d, %v; want explicit 0", n, ok)
	}
	if op, ok := cfg.Replay.Operations["inc"]; !ok || len(op.Ignore) != 1 || op.Ignore[0] != "output" || len(op.Blacklist) != 1 {
		t.Errorf("replay operations = %+v", cfg.Replay.Operations)
	}
	if len(cfg.Replay.Blacklist) != 1 || cfg.Replay.Blacklist[0] != "counter" {
		t.Errorf("replay blacklist = %v", cfg.Replay.Blacklist)
	}
	if cfg.MQTTClientID() != "statespace-lab-1" {
		t.Errorf("MQTTClientID = %q", cfg.MQTTClientID())
	}
	if len(cfg.Engine.Setup) != 1 {
		t.Errorf("expected one setup query, got %v", cfg.Engine.Setup)
	}
	if !cfg.MQTT.Optional {
		t.Error("expected mqtt to stay optional by default")
	}
	if pc := cfg.ProcessConfig(); pc.Path != "/opt/prob/probcli" || len(pc.Args) != 1 {
		t.Errorf("unexpected process config %+v", pc)
	}
}

func TestLoadRuntimeConfigDefaults(t *testing.T) {
	cfg, err := LoadRuntimeConfig(writeConfig(t, "version: 1\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIPort() != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.APIPort())
	}
	if cfg.Engine.Path != "probcli" {
		t.Errorf("expected default engine path, got %q", cfg.Engine.Path)
	}
	if _, ok := cfg.Lookahead(); ok {
		t.Error("lookahead should be unset")
	}
	if cfg.StepTimeout() != 0 {
		t.Errorf("expected zero step timeout, got %v", cfg.StepTimeout())
	}
}

func TestLoadRuntimeConfigRejectsVersion(t *testing.T) {
	if _, err := LoadRuntimeConfig(writeConfig(t, "version: 2\n")); err == nil {
		t.Error("expected error for unsupported version")
	}
}

func TestLoadRuntimeConfigRequiresEngine(t *testing.T) {
	if _, err := LoadRuntimeConfig(writeConfig(t, "version: 1\nengine:\n  path: \"\"\n")); err == nil {
		t.Error("expected error without engine path or connect address")
	}
}

func TestLoadRuntimeConfigMissingFile(t *testing.T) {
	if _, err := LoadRuntimeConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPostgresOptionsReadsPasswordFile(t *testing.T) {
	secret := filepath.Join(t.TempDir(), "pg")
	if err := os.WriteFile(secret, []byte("s3cret\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STATESPACE_PG_PASSWORD_FILE", secret)

	cfg := Default()
	cfg.Postgres.Host = "db"
	opts, err := cfg.PostgresOptions()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Password != "s3cret" || opts.Host != "db" {
		t.Errorf("unexpected options %+v", opts)
	}
}

func TestMQTTOptions(t *testing.T) {
	t.Setenv("STATESPACE_MQTT_PASSWORD", "broker-pass")
	t.Setenv("STATESPACE_MQTT_PASSWORD_FILE", "")

	cfg := Default()
	cfg.Instance.ID = "lab-2"
	cfg.MQTT.URL = "tcp://broker:1883"
	cfg.MQTT.Username = "checker"
	opts, err := cfg.MQTTOptions()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Broker != "tcp://broker:1883" || opts.ClientID != "statespace-lab-2" {
		t.Errorf("unexpected options %+v", opts)
	}
	if opts.Username != "checker" || opts.Password != "broker-pass" {
		t.Errorf("credentials not carried: %+v", opts)
	}
}
