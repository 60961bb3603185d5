package main

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/remeh/sizedwaitgroup"
)

// listener binds the downstream TCP socket and spawns one session per
// accepted connection (spec.md §4.6). It owns the shared immutable
// security context and hands each connection off to its own goroutine;
// per-connection errors never reach the listener's own error path
// (spec.md §7 "The listener survives every session error").
type listener struct {
	addr         string
	upstreamAddr string
	security     *sv2SecurityContext // nil disables Noise
	proxyCfg     proxyProtoConfig
	reconnects   *reconnectTracker
	dialTimeout  time.Duration
	maxConns     int
	metrics      *proxyMetrics

	maxFramePayload int
	queueCap        int
	sessionTimeout  time.Duration

	quit    chan struct{}
	closing atomic.Bool
	wg      sync.WaitGroup
}

func newListener(cfg *proxyConfig, metrics *proxyMetrics) (*listener, error) {
	sec, err := buildSecurityContext(cfg)
	if err != nil {
		return nil, err
	}
	proxyVersions, err := parseProxyProtoVersion(cfg.AcceptedProxyProtocolVersions)
	if err != nil {
		return nil, err
	}
	passVersion, err := parseProxyProtoVersion(cfg.PassProxyProtocol)
	if err != nil {
		return nil, err
	}
	return &listener{
		addr:         cfg.ListenAddr,
		upstreamAddr: cfg.UpstreamAddr,
		security:     sec,
		proxyCfg: proxyProtoConfig{
			acceptProxyProtocol:   cfg.AcceptProxyProtocol,
			proxyProtocolOptional: cfg.ProxyProtocolOptional,
			acceptedVersions:      proxyVersions,
			passProxyProtocol:     passVersion,
		},
		reconnects:      newReconnectTracker(cfg.ReconnectThreshold, cfg.ReconnectWindow, cfg.ReconnectBanDuration),
		dialTimeout:     cfg.UpstreamDialTimeout,
		maxConns:        cfg.MaxConcurrentDials,
		metrics:         metrics,
		maxFramePayload: cfg.MaxFramePayload,
		queueCap:        cfg.TranslationQueueCap,
		sessionTimeout:  cfg.DownstreamTimeout,
		quit:            make(chan struct{}),
	}, nil
}

func buildSecurityContext(cfg *proxyConfig) (*sv2SecurityContext, error) {
	if cfg.CertificatePath == "" && cfg.SecretKeyPath == "" {
		return nil, nil // Noise disabled (spec.md §6)
	}
	staticPriv, staticEnc, signatureMsg, err := loadNoiseIdentity(cfg.SecretKeyPath, cfg.CertificatePath, cfg.NoiseSecretKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: load noise identity: %v", ErrConfigInvalid, err)
	}
	return newSV2SecurityContext(staticPriv, staticEnc, signatureMsg), nil
}

// Run binds the listen address and accepts connections until quit is
// closed. Each accepted connection runs in its own goroutine and holds one
// of maxConns slots for its whole lifetime (upstream dial, handshake and
// session), not only while dialing; when every slot is taken, the accept
// loop waits until a session ends.
func (l *listener) Run() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("%w: listen %s: %v", ErrConfigInvalid, l.addr, err)
	}
	defer ln.Close()

	logger.Info("listening", "addr", l.addr, "noise", l.security != nil)

	go func() {
		<-l.quit
		ln.Close()
	}()

	swg := sizedwaitgroup.New(maxInt(l.maxConns, 1))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.closing.Load() {
				break
			}
			logger.Warn("accept error", "err", err)
			continue
		}
		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		if l.reconnects != nil && !l.reconnects.allow(host, time.Now()) {
			logger.Warn("rejecting connection: reconnect rate exceeded", "peer", host)
			if l.metrics != nil {
				l.metrics.incReconnectBanned()
			}
			conn.Close()
			continue
		}
		l.wg.Add(1)
		swg.Add()
		go func() {
			defer l.wg.Done()
			defer swg.Done()
			l.handleConn(conn)
		}()
	}
	l.wg.Wait()
	return nil
}

// Stop signals graceful shutdown: no further accepts, but in-flight
// sessions run to completion or their own timeouts (spec.md §5).
func (l *listener) Stop() {
	l.closing.Store(true)
	close(l.quit)
}

func (l *listener) handleConn(downstream net.Conn) {
	sessionID := uuid.NewString()
	defer downstream.Close()

	r, proxyInfo, err := acceptProxyPreface(downstream, l.proxyCfg)
	if err != nil {
		logger.Warn("proxy preface error", "session", sessionID, "peer", downstream.RemoteAddr(), "err", err)
		return
	}

	upstream, err := dialV1Upstream(l.upstreamAddr, l.dialTimeout, &l.proxyCfg, proxyInfo.originalSrc, proxyInfo.originalDst)
	if err != nil {
		logger.Warn("upstream dial failed", "session", sessionID, "err", err)
		if l.metrics != nil {
			l.metrics.incUpstreamDialFailures()
		}
		return
	}
	defer upstream.Close()

	var v2 v2FrameTransport
	if l.security != nil {
		noiseT := newSV2NoiseFrameTransport(l.security, r, downstream)
		if err := noiseT.ensureHandshake(); err != nil {
			logger.Warn("noise handshake failed", "session", sessionID, "err", err)
			if l.metrics != nil {
				l.metrics.incHandshake(false)
			}
			return
		}
		if l.metrics != nil {
			l.metrics.incHandshake(true)
		}
		v2 = noiseT
	} else {
		v2 = newPlainV2Transport(r, downstream)
	}

	if l.metrics != nil {
		l.metrics.incSessionsStarted()
	}
	sess := newSession(sessionID, v2, downstream, upstream, l.metrics, l.maxFramePayload, l.queueCap, l.sessionTimeout)
	if err := sess.run(); err != nil {
		logger.Warn("session ended", "session", sessionID, "err", err)
	}
	if l.metrics != nil {
		l.metrics.incSessionsEnded()
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
