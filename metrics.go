package main

import (
	"sync"
	"sync/atomic"
	"time"
)

const metricsLogInterval = 5 * time.Minute

// logMetricsPeriodically emits a metrics snapshot to the log on a fixed
// interval until quit is closed, giving operators a steady pulse of
// session/share/handshake counts without a separate status endpoint.
func logMetricsPeriodically(m *proxyMetrics, quit <-chan struct{}) {
	ticker := time.NewTicker(metricsLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			logger.Info("metrics", "snapshot", m.Snapshot())
		case <-quit:
			return
		}
	}
}

// proxyMetrics tracks process-wide counters: session lifecycle, upstream
// dial outcomes, Noise handshakes, and translated shares. Grounded on the
// teacher's PoolMetrics (atomic counters plus a small mutex-guarded map
// for labeled breakdowns).
type proxyMetrics struct {
	sessionsStarted uint64
	sessionsEnded   uint64

	upstreamDialFailures uint64

	handshakesOK     uint64
	handshakesFailed uint64

	sharesSubmitted uint64
	sharesAccepted  uint64
	sharesRejected  uint64

	reconnectsBanned uint64

	mu            sync.RWMutex
	rejectReasons map[string]uint64
}

func newProxyMetrics() *proxyMetrics {
	return &proxyMetrics{rejectReasons: make(map[string]uint64)}
}

func (m *proxyMetrics) incSessionsStarted() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.sessionsStarted, 1)
}

func (m *proxyMetrics) incSessionsEnded() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.sessionsEnded, 1)
}

func (m *proxyMetrics) incUpstreamDialFailures() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.upstreamDialFailures, 1)
}

func (m *proxyMetrics) incHandshake(ok bool) {
	if m == nil {
		return
	}
	if ok {
		atomic.AddUint64(&m.handshakesOK, 1)
		return
	}
	atomic.AddUint64(&m.handshakesFailed, 1)
}

func (m *proxyMetrics) incReconnectBanned() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.reconnectsBanned, 1)
}

func (m *proxyMetrics) recordShare(accepted bool, reason string) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.sharesSubmitted, 1)
	if accepted {
		atomic.AddUint64(&m.sharesAccepted, 1)
		return
	}
	atomic.AddUint64(&m.sharesRejected, 1)
	if reason == "" {
		reason = "unspecified"
	}
	m.mu.Lock()
	m.rejectReasons[reason]++
	m.mu.Unlock()
}

// proxyMetricsSnapshot is a point-in-time, read-only copy safe to render
// in a log line or expose over an admin endpoint.
type proxyMetricsSnapshot struct {
	SessionsStarted      uint64            `json:"sessions_started"`
	SessionsEnded        uint64            `json:"sessions_ended"`
	UpstreamDialFailures uint64            `json:"upstream_dial_failures"`
	HandshakesOK         uint64            `json:"handshakes_ok"`
	HandshakesFailed     uint64            `json:"handshakes_failed"`
	SharesSubmitted      uint64            `json:"shares_submitted"`
	SharesAccepted       uint64            `json:"shares_accepted"`
	SharesRejected       uint64            `json:"shares_rejected"`
	ReconnectsBanned     uint64            `json:"reconnects_banned"`
	RejectReasons        map[string]uint64 `json:"reject_reasons,omitempty"`
}

func (m *proxyMetrics) Snapshot() proxyMetricsSnapshot {
	if m == nil {
		return proxyMetricsSnapshot{}
	}
	m.mu.RLock()
	reasons := make(map[string]uint64, len(m.rejectReasons))
	for k, v := range m.rejectReasons {
		reasons[k] = v
	}
	m.mu.RUnlock()
	return proxyMetricsSnapshot{
		SessionsStarted:      atomic.LoadUint64(&m.sessionsStarted),
		SessionsEnded:        atomic.LoadUint64(&m.sessionsEnded),
		UpstreamDialFailures: atomic.LoadUint64(&m.upstreamDialFailures),
		HandshakesOK:         atomic.LoadUint64(&m.handshakesOK),
		HandshakesFailed:     atomic.LoadUint64(&m.handshakesFailed),
		SharesSubmitted:      atomic.LoadUint64(&m.sharesSubmitted),
		SharesAccepted:       atomic.LoadUint64(&m.sharesAccepted),
		SharesRejected:       atomic.LoadUint64(&m.sharesRejected),
		ReconnectsBanned:     atomic.LoadUint64(&m.reconnectsBanned),
		RejectReasons:        reasons,
	}
}
