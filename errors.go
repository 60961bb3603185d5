package main

import "errors"

// Session error taxonomy. Every error that can terminate a session is one
// of these, or wraps one via fmt.Errorf("...: %w", ...) so callers can
// errors.Is against the sentinel.
var (
	ErrFrameMalformed      = errors.New("frame malformed")
	ErrFrameTooLarge       = errors.New("frame too large")
	ErrTrailingBytes       = errors.New("trailing bytes after frame payload")
	ErrProtocolViolation   = errors.New("protocol violation")
	ErrNoiseHandshakeFailed = errors.New("noise handshake failed")
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
	ErrTimeout             = errors.New("timeout")
	ErrPeerClosed          = errors.New("peer closed")
	ErrTranslationLogic    = errors.New("translation logic error")
	ErrConfigInvalid       = errors.New("config invalid")
	ErrNeedMore            = errors.New("need more bytes")
)
