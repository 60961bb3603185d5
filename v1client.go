package main

import (
	"fmt"
	"net"
	"time"
)

// dialV1Upstream makes a single connection attempt to the V1 pool. No
// retry: the original source this proxy is grounded on leaves upstream
// reconnection as a noted future improvement, not something this core
// implements (spec.md §4.5 "one attempt, fail closed").
func dialV1Upstream(addr string, timeout time.Duration, proxyHeader *proxyProtoConfig, downstreamSrc, downstreamDst net.Addr) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUpstreamUnreachable, addr, err)
	}
	if proxyHeader != nil && proxyHeader.passProxyProtocol != proxyProtoNone {
		if downstreamSrc == nil || downstreamDst == nil {
			logger.Warn("skipping PROXY header to upstream: original addresses unknown")
		} else if err := writeProxyHeader(conn, proxyHeader.passProxyProtocol, downstreamSrc, downstreamDst); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: write proxy header: %v", ErrUpstreamUnreachable, err)
		}
	}
	return conn, nil
}
