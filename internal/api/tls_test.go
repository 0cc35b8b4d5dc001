package api

import "testing"

func TestTLSFromEnvNoVars(t *testing.T) {
	t.Setenv("STATESPACE_TLS_CERT", "")
	t.Setenv("STATESPACE_TLS_KEY", "")

	cfg := TLSFromEnv()
	if cfg.Enabled() {
		t.Error("TLS should not be enabled when env vars are not set")
	}
}

func TestTLSFromEnvOnlyCert(t *testing.T) {
	t.Setenv("STATESPACE_TLS_CERT", "/path/to/cert.pem")
	t.Setenv("STATESPACE_TLS_KEY", "")

	if TLSFromEnv().Enabled() {
		t.Error("TLS should not be enabled when only cert is set")
	}
}

func TestTLSFromEnvBothSet(t *testing.T) {
	t.Setenv("STATESPACE_TLS_CERT", "/path/to/cert.pem")
	t.Setenv("STATESPACE_TLS_KEY", "/path/to/key.pem")

	cfg := TLSFromEnv()
	if !cfg.Enabled() {
		t.Fatal("TLS should be enabled when both cert and key are set")
	}
	if cfg.CertFile != "/path/to/cert.pem" {
		t.Errorf("CertFile = %q, want %q", cfg.CertFile, "/path/to/cert.pem")
	}
	if cfg.KeyFile != "/path/to/key.pem" {
		t.Errorf("KeyFile = %q, want %q", cfg.KeyFile, "/path/to/key.pem")
	}
}

func TestTLSLoadNotEnabled(t *testing.T) {
	var cfg *TLSConfig
	if _, err := cfg.Load(); err == nil {
		t.Error("Load should fail when TLS is not configured")
	}
}

func TestTLSLoadInvalidFiles(t *testing.T) {
	cfg := &TLSConfig{
		CertFile: "/nonexistent/cert.pem",
		KeyFile:  "/nonexistent/key.pem",
	}
	if _, err := cfg.Load(); err == nil {
		t.Error("Load should fail when cert files don't exist")
	}
}
