package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	debugpkg "runtime/debug"
	"strings"
	"syscall"
	"time"
)

const poolSoftwareName = "sv2proxy"

func main() {
	// Top-level panic handler: ensure any unexpected panic is captured to
	// panic.log with a stack trace so operators can inspect it.
	defer func() {
		if r := recover(); r != nil {
			path := "panic.log"
			if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				defer f.Close()
				ts := time.Now().UTC().Format(time.RFC3339)
				fmt.Fprintf(f, "[%s] panic: %v\n%s\n\n", ts, r, debugpkg.Stack())
			}
		}
	}()

	configFlag := flag.String("config", "", "path to config.toml")
	secretsFlag := flag.String("secrets", "", "path to secrets.toml")
	listenFlag := flag.String("listen", "", "override listen address (e.g. :34255)")
	upstreamFlag := flag.String("upstream", "", "override V1 upstream pool address")
	certFlag := flag.String("certificate", "", "override noise certificate path")
	keyFlag := flag.String("secret-key", "", "override noise secret key path")
	debugFlag := flag.Bool("debug", false, "enable debug logging")
	stdoutLogFlag := flag.Bool("stdout", false, "mirror logs to stdout")
	logDirFlag := flag.String("log-dir", "", "override log directory")
	flag.Parse()

	cfg := loadConfig(*configFlag, *secretsFlag)

	if *listenFlag != "" {
		cfg.ListenAddr = *listenFlag
	}
	if *upstreamFlag != "" {
		cfg.UpstreamAddr = *upstreamFlag
	}
	if *certFlag != "" {
		cfg.CertificatePath = *certFlag
	}
	if *keyFlag != "" {
		cfg.SecretKeyPath = *keyFlag
	}
	if *debugFlag {
		cfg.LogDebug = true
	}
	if *stdoutLogFlag {
		cfg.StdoutLog = true
	}
	if *logDirFlag != "" {
		cfg.LogDir = *logDirFlag
	}

	if err := validateConfig(cfg); err != nil {
		fatal("invalid config", err)
	}
	setSha256Implementation(cfg.SHA256SIMD)

	logDir := strings.TrimSpace(cfg.LogDir)
	if logDir == "" {
		logDir = filepath.Join(defaultDataDir, "logs")
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		fatal("create log directory", err, "dir", logDir)
	}
	level := logLevelInfo
	if cfg.LogDebug {
		level = logLevelDebug
	}
	setLogLevel(level)
	configureFileLogging(
		filepath.Join(logDir, "proxy.log"),
		filepath.Join(logDir, "error.log"),
		filepath.Join(logDir, "debug.log"),
		cfg.StdoutLog,
	)
	defer logger.Stop()

	logger.Info("starting", "config", cfg.Effective())

	metrics := newProxyMetrics()
	l, err := newListener(&cfg, metrics)
	if err != nil {
		fatal("init listener", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		l.Stop()
	}()

	go logMetricsPeriodically(metrics, l.quit)

	if err := l.Run(); err != nil {
		fatal("listener exited", err)
	}
	logger.Info("stopped")
}
