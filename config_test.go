package main

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := defaultConfig()
	if err := validateConfig(cfg); err != nil {
		t.Fatalf("defaultConfig() should validate, got: %v", err)
	}
}

func TestValidateConfigRejectsBadAcceptedVersions(t *testing.T) {
	cfg := defaultConfig()
	cfg.AcceptedProxyProtocolVersions = "v3"
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("expected error for invalid accepted_proxy_protocol_versions")
	}
}

func TestValidateConfigRequiresCertAndKeyTogether(t *testing.T) {
	cfg := defaultConfig()
	cfg.CertificatePath = "cert.hex"
	cfg.SecretKeyPath = ""
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("expected error when certificate_path set without secret_key_path")
	}
}

func TestLoadConfigWritesDefaultThenReloads(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	secretsPath := filepath.Join(dir, "secrets.toml")

	first := loadConfig(configPath, secretsPath)
	if first.ListenAddr != defaultListenAddr {
		t.Fatalf("ListenAddr = %q, want %q", first.ListenAddr, defaultListenAddr)
	}

	second := loadConfig(configPath, secretsPath)
	if second.ListenAddr != first.ListenAddr || second.UpstreamAddr != first.UpstreamAddr {
		t.Fatalf("reloaded config diverged from written default: %+v vs %+v", second, first)
	}
}

func TestApplyFileConfigOverridesOnlySetFields(t *testing.T) {
	cfg := defaultConfig()
	original := cfg.MaxConcurrentDials

	fc := fileConfig{ListenAddr: ":9999"}
	applyFileConfig(&cfg, fc)

	if cfg.ListenAddr != ":9999" {
		t.Fatalf("ListenAddr = %q, want :9999", cfg.ListenAddr)
	}
	if cfg.MaxConcurrentDials != original {
		t.Fatalf("MaxConcurrentDials changed to %d despite absent override, want %d", cfg.MaxConcurrentDials, original)
	}
}
