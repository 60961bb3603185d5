package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hako/durafmt"
	"github.com/pelletier/go-toml"
)

const (
	defaultListenAddr        = ":34255"
	defaultUpstreamAddr      = "127.0.0.1:3333"
	defaultDialTimeout       = 60 * time.Second
	defaultDownstreamTimeout = 60 * time.Second
	defaultTranslationQueue  = 10
	defaultMaxFramePayload   = 16 << 20
	defaultDataDir           = "data"
)

// proxyConfig is the runtime-resolved configuration for the whole process:
// listener address, upstream pool, Noise identity paths, PROXY-protocol
// behavior, and the knobs that shape session concurrency.
type proxyConfig struct {
	ListenAddr   string
	UpstreamAddr string

	// CertificatePath/SecretKeyPath being present enables Noise on the
	// downstream listener; being absent disables it (spec.md §6).
	CertificatePath string
	SecretKeyPath   string
	// NoiseSecretKeyHex, when set from secrets.toml, overrides SecretKeyPath
	// so the private key never has to live in a plaintext file.
	NoiseSecretKeyHex string

	AcceptProxyProtocol           bool
	ProxyProtocolOptional         bool
	AcceptedProxyProtocolVersions string // "v1" | "v2" | "both"
	PassProxyProtocol             string // "" | "v1" | "v2"

	UpstreamDialTimeout time.Duration
	DownstreamTimeout   time.Duration
	TranslationQueueCap int
	MaxFramePayload     int

	ReconnectThreshold   int
	ReconnectWindow      time.Duration
	ReconnectBanDuration time.Duration

	MaxConcurrentDials int

	SHA256SIMD bool

	LogDir    string
	LogDebug  bool
	StdoutLog bool
}

// effectiveProxyConfig is a redacted view of proxyConfig safe to log: all
// fields here are non-sensitive, so nothing needs masking before it's
// rendered.
type effectiveProxyConfig struct {
	ListenAddr                    string `toml:"listen_addr"`
	UpstreamAddr                  string `toml:"v1_upstream_addr"`
	NoiseEnabled                  bool   `toml:"noise_enabled"`
	AcceptProxyProtocol           bool   `toml:"accept_proxy_protocol"`
	ProxyProtocolOptional         bool   `toml:"proxy_protocol_optional"`
	AcceptedProxyProtocolVersions string `toml:"accepted_proxy_protocol_versions"`
	PassProxyProtocol             string `toml:"pass_proxy_protocol"`
	UpstreamDialTimeout           string `toml:"v1_upstream_timeout"`
	DownstreamTimeout             string `toml:"v2_downstream_timeout"`
	TranslationQueueCap           int    `toml:"translation_channel_size"`
	MaxFramePayload               int    `toml:"max_frame_payload_bytes"`
	ReconnectThreshold            int    `toml:"reconnect_ban_threshold"`
	MaxConcurrentDials            int    `toml:"max_concurrent_dials"`
	SHA256SIMD                    bool   `toml:"sha256_simd"`
}

// fileConfig mirrors config.toml. Pointer fields distinguish "absent from
// the file" (use the built-in default) from "explicitly set to zero",
// the same overlay idiom the teacher's pool config uses.
type fileConfig struct {
	ListenAddr                    string `toml:"listen_addr"`
	UpstreamAddr                  string `toml:"v1_upstream_addr"`
	CertificatePath               string `toml:"certificate_path"`
	SecretKeyPath                 string `toml:"secret_key_path"`
	AcceptProxyProtocol           *bool  `toml:"accept_proxy_protocol"`
	ProxyProtocolOptional         *bool  `toml:"proxy_protocol_optional"`
	AcceptedProxyProtocolVersions string `toml:"accepted_proxy_protocol_versions"`
	PassProxyProtocol             string `toml:"pass_proxy_protocol"`
	UpstreamDialTimeoutSec        *int   `toml:"v1_upstream_timeout_seconds"`
	DownstreamTimeoutSec          *int   `toml:"v2_downstream_timeout_seconds"`
	TranslationChannelSize        *int   `toml:"translation_channel_size"`
	MaxFramePayloadBytes          *int   `toml:"max_frame_payload_bytes"`
	ReconnectBanThreshold         *int   `toml:"reconnect_ban_threshold"`
	ReconnectBanWindowSec         *int   `toml:"reconnect_ban_window_seconds"`
	ReconnectBanDurationSec       *int   `toml:"reconnect_ban_duration_seconds"`
	MaxConcurrentDials            *int   `toml:"max_concurrent_dials"`
	SHA256SIMD                    *bool  `toml:"sha256_simd"`
	LogDir                        string `toml:"log_dir"`
	LogDebug                      *bool  `toml:"log_debug"`
	StdoutLog                     *bool  `toml:"stdout_log"`
}

// secretsConfig holds the Noise static key material separately from the
// main config file, the same split the teacher uses for RPC credentials.
type secretsConfig struct {
	NoiseSecretKeyHex string `toml:"noise_secret_key_hex"`
}

func defaultConfig() proxyConfig {
	return proxyConfig{
		ListenAddr:                    defaultListenAddr,
		UpstreamAddr:                  defaultUpstreamAddr,
		AcceptedProxyProtocolVersions: "both",
		PassProxyProtocol:             "",
		UpstreamDialTimeout:           defaultDialTimeout,
		DownstreamTimeout:             defaultDownstreamTimeout,
		TranslationQueueCap:           defaultTranslationQueue,
		MaxFramePayload:               defaultMaxFramePayload,
		ReconnectWindow:               0,
		ReconnectBanDuration:          0,
		MaxConcurrentDials:            256,
		SHA256SIMD:                    true,
	}
}

func loadConfig(configPath, secretsPath string) proxyConfig {
	cfg := defaultConfig()

	if configPath == "" {
		configPath = filepath.Join(defaultDataDir, "config.toml")
	}

	if fc, ok, err := loadConfigFile(configPath); err != nil {
		fatal("config file", err, "path", configPath)
	} else if ok {
		applyFileConfig(&cfg, *fc)
	} else {
		if err := rewriteConfigFile(configPath, cfg); err != nil {
			fatal("write default config", err, "path", configPath)
		}
		logger.Info("created default config file", "path", configPath)
	}

	if secretsPath == "" {
		secretsPath = filepath.Join(filepath.Dir(configPath), "secrets.toml")
	}
	if sc, ok, err := loadSecretsFile(secretsPath); err != nil {
		fatal("secrets file", err, "path", secretsPath)
	} else if ok && sc.NoiseSecretKeyHex != "" {
		cfg.NoiseSecretKeyHex = sc.NoiseSecretKeyHex
		if cfg.SecretKeyPath == "" {
			cfg.SecretKeyPath = secretsPath // presence alone still enables Noise
		}
	}

	return cfg
}

func loadConfigFile(path string) (*fileConfig, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return nil, true, fmt.Errorf("parse %s: %w", path, err)
	}
	return &fc, true, nil
}

func loadSecretsFile(path string) (*secretsConfig, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}
	var sc secretsConfig
	if err := toml.Unmarshal(data, &sc); err != nil {
		return nil, true, fmt.Errorf("parse %s: %w", path, err)
	}
	return &sc, true, nil
}

func rewriteConfigFile(path string, cfg proxyConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	boolPtr := func(v bool) *bool { return &v }
	intPtr := func(v int) *int { return &v }

	fc := fileConfig{
		ListenAddr:                    cfg.ListenAddr,
		UpstreamAddr:                  cfg.UpstreamAddr,
		CertificatePath:               cfg.CertificatePath,
		SecretKeyPath:                 cfg.SecretKeyPath,
		AcceptProxyProtocol:           boolPtr(cfg.AcceptProxyProtocol),
		ProxyProtocolOptional:         boolPtr(cfg.ProxyProtocolOptional),
		AcceptedProxyProtocolVersions: cfg.AcceptedProxyProtocolVersions,
		PassProxyProtocol:             cfg.PassProxyProtocol,
		UpstreamDialTimeoutSec:        intPtr(int(cfg.UpstreamDialTimeout / time.Second)),
		DownstreamTimeoutSec:          intPtr(int(cfg.DownstreamTimeout / time.Second)),
		TranslationChannelSize:        intPtr(cfg.TranslationQueueCap),
		MaxFramePayloadBytes:          intPtr(cfg.MaxFramePayload),
		ReconnectBanThreshold:         intPtr(cfg.ReconnectThreshold),
		ReconnectBanWindowSec:         intPtr(int(cfg.ReconnectWindow / time.Second)),
		ReconnectBanDurationSec:       intPtr(int(cfg.ReconnectBanDuration / time.Second)),
		MaxConcurrentDials:            intPtr(cfg.MaxConcurrentDials),
		SHA256SIMD:                    boolPtr(cfg.SHA256SIMD),
		LogDir:                        cfg.LogDir,
		LogDebug:                      boolPtr(cfg.LogDebug),
		StdoutLog:                     boolPtr(cfg.StdoutLog),
	}

	data, err := toml.Marshal(fc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmpFile.Name()
	removeTemp := true
	defer func() {
		if tmpFile != nil {
			_ = tmpFile.Close()
		}
		if removeTemp {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	tmpFile = nil

	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}

	bakPath := path + ".bak"
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(bakPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", bakPath, err)
		}
		if err := os.Rename(path, bakPath); err != nil {
			return fmt.Errorf("rename %s to %s: %w", path, bakPath, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tmpName, path, err)
	}
	removeTemp = false
	return nil
}

func applyFileConfig(cfg *proxyConfig, fc fileConfig) {
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.UpstreamAddr != "" {
		cfg.UpstreamAddr = fc.UpstreamAddr
	}
	if fc.CertificatePath != "" {
		cfg.CertificatePath = fc.CertificatePath
	}
	if fc.SecretKeyPath != "" {
		cfg.SecretKeyPath = fc.SecretKeyPath
	}
	if fc.AcceptProxyProtocol != nil {
		cfg.AcceptProxyProtocol = *fc.AcceptProxyProtocol
	}
	if fc.ProxyProtocolOptional != nil {
		cfg.ProxyProtocolOptional = *fc.ProxyProtocolOptional
	}
	if fc.AcceptedProxyProtocolVersions != "" {
		cfg.AcceptedProxyProtocolVersions = strings.ToLower(strings.TrimSpace(fc.AcceptedProxyProtocolVersions))
	}
	if fc.PassProxyProtocol != "" {
		cfg.PassProxyProtocol = strings.ToLower(strings.TrimSpace(fc.PassProxyProtocol))
	}
	if fc.UpstreamDialTimeoutSec != nil && *fc.UpstreamDialTimeoutSec > 0 {
		cfg.UpstreamDialTimeout = time.Duration(*fc.UpstreamDialTimeoutSec) * time.Second
	}
	if fc.DownstreamTimeoutSec != nil && *fc.DownstreamTimeoutSec > 0 {
		cfg.DownstreamTimeout = time.Duration(*fc.DownstreamTimeoutSec) * time.Second
	}
	if fc.TranslationChannelSize != nil && *fc.TranslationChannelSize > 0 {
		cfg.TranslationQueueCap = *fc.TranslationChannelSize
	}
	if fc.MaxFramePayloadBytes != nil && *fc.MaxFramePayloadBytes > 0 {
		cfg.MaxFramePayload = *fc.MaxFramePayloadBytes
	}
	if fc.ReconnectBanThreshold != nil && *fc.ReconnectBanThreshold >= 0 {
		cfg.ReconnectThreshold = *fc.ReconnectBanThreshold
	}
	if fc.ReconnectBanWindowSec != nil && *fc.ReconnectBanWindowSec > 0 {
		cfg.ReconnectWindow = time.Duration(*fc.ReconnectBanWindowSec) * time.Second
	}
	if fc.ReconnectBanDurationSec != nil && *fc.ReconnectBanDurationSec > 0 {
		cfg.ReconnectBanDuration = time.Duration(*fc.ReconnectBanDurationSec) * time.Second
	}
	if fc.MaxConcurrentDials != nil && *fc.MaxConcurrentDials > 0 {
		cfg.MaxConcurrentDials = *fc.MaxConcurrentDials
	}
	if fc.SHA256SIMD != nil {
		cfg.SHA256SIMD = *fc.SHA256SIMD
	}
	if fc.LogDir != "" {
		cfg.LogDir = fc.LogDir
	}
	if fc.LogDebug != nil {
		cfg.LogDebug = *fc.LogDebug
	}
	if fc.StdoutLog != nil {
		cfg.StdoutLog = *fc.StdoutLog
	}
}

func (cfg proxyConfig) Effective() effectiveProxyConfig {
	return effectiveProxyConfig{
		ListenAddr:                    cfg.ListenAddr,
		UpstreamAddr:                  cfg.UpstreamAddr,
		NoiseEnabled:                  cfg.CertificatePath != "" || cfg.SecretKeyPath != "",
		AcceptProxyProtocol:           cfg.AcceptProxyProtocol,
		ProxyProtocolOptional:         cfg.ProxyProtocolOptional,
		AcceptedProxyProtocolVersions: cfg.AcceptedProxyProtocolVersions,
		PassProxyProtocol:             cfg.PassProxyProtocol,
		UpstreamDialTimeout:           durafmt.Parse(cfg.UpstreamDialTimeout).String(),
		DownstreamTimeout:             durafmt.Parse(cfg.DownstreamTimeout).String(),
		TranslationQueueCap:           cfg.TranslationQueueCap,
		MaxFramePayload:               cfg.MaxFramePayload,
		ReconnectThreshold:            cfg.ReconnectThreshold,
		MaxConcurrentDials:            cfg.MaxConcurrentDials,
		SHA256SIMD:                    cfg.SHA256SIMD,
	}
}

func validateConfig(cfg proxyConfig) error {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if strings.TrimSpace(cfg.UpstreamAddr) == "" {
		return fmt.Errorf("v1_upstream_addr is required")
	}
	switch cfg.AcceptedProxyProtocolVersions {
	case "v1", "v2", "both":
	default:
		return fmt.Errorf("accepted_proxy_protocol_versions must be v1, v2, or both, got %q", cfg.AcceptedProxyProtocolVersions)
	}
	switch cfg.PassProxyProtocol {
	case "", "v1", "v2":
	default:
		return fmt.Errorf("pass_proxy_protocol must be empty, v1, or v2, got %q", cfg.PassProxyProtocol)
	}
	if cfg.UpstreamDialTimeout <= 0 {
		return fmt.Errorf("v1_upstream_timeout_seconds must be > 0")
	}
	if cfg.DownstreamTimeout <= 0 {
		return fmt.Errorf("v2_downstream_timeout_seconds must be > 0")
	}
	if cfg.TranslationQueueCap <= 0 {
		return fmt.Errorf("translation_channel_size must be > 0")
	}
	if cfg.MaxFramePayload <= 0 {
		return fmt.Errorf("max_frame_payload_bytes must be > 0")
	}
	if cfg.ReconnectThreshold < 0 {
		return fmt.Errorf("reconnect_ban_threshold cannot be negative")
	}
	if cfg.MaxConcurrentDials <= 0 {
		return fmt.Errorf("max_concurrent_dials must be > 0")
	}
	if (cfg.CertificatePath != "") != (cfg.SecretKeyPath != "") {
		return fmt.Errorf("certificate_path and secret_key_path must be set together")
	}
	return nil
}
