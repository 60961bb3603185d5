package main

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

// PROXY protocol v1 (ASCII, CRLF-terminated) and v2 (binary) per the
// HAProxy spec. No library in the example pack implements this; see
// DESIGN.md for why it is hand-built on net/bufio instead of reusing a
// third-party dependency.

type proxyProtoVersion int

const (
	proxyProtoNone proxyProtoVersion = iota
	proxyProtoV1
	proxyProtoV2
	proxyProtoBoth
)

func parseProxyProtoVersion(s string) (proxyProtoVersion, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return proxyProtoNone, nil
	case "v1":
		return proxyProtoV1, nil
	case "v2":
		return proxyProtoV2, nil
	case "both":
		return proxyProtoBoth, nil
	default:
		return proxyProtoNone, fmt.Errorf("%w: unknown proxy protocol version %q", ErrConfigInvalid, s)
	}
}

// proxyProtoConfig mirrors the ProxyConfig shape from the reference
// implementation: whether to accept a PROXY preface on downstream
// connections, whether it is optional, which versions are accepted, and
// whether to re-emit a header when dialing upstream.
type proxyProtoConfig struct {
	acceptProxyProtocol   bool
	proxyProtocolOptional bool
	acceptedVersions      proxyProtoVersion
	passProxyProtocol     proxyProtoVersion // proxyProtoNone means "don't pass"
}

// proxyProtoInfo carries the original source/destination addresses a
// PROXY header attested to, if any were present.
type proxyProtoInfo struct {
	originalSrc net.Addr
	originalDst net.Addr
}

const proxyProtoV1SignaturePrefix = "PROXY "
const proxyProtoV2Signature = "\r\n\r\n\x00\r\nQUIT\n"

// acceptProxyPreface optionally consumes a PROXY v1/v2 header from the
// front of conn, returning a reader that continues from wherever the
// preface left off (buffered bytes are never lost) plus any addresses the
// header attested to. When cfg.proxyProtocolOptional is true and no PROXY
// signature is seen, the connection is treated as raw TCP.
func acceptProxyPreface(conn net.Conn, cfg proxyProtoConfig) (io.Reader, proxyProtoInfo, error) {
	if !cfg.acceptProxyProtocol {
		return conn, proxyProtoInfo{}, nil
	}
	br := bufio.NewReaderSize(conn, 4096)
	peek, err := br.Peek(len(proxyProtoV2Signature))
	isV2 := err == nil && bytes.Equal(peek, []byte(proxyProtoV2Signature))
	if isV2 {
		if cfg.acceptedVersions != proxyProtoV2 && cfg.acceptedVersions != proxyProtoBoth {
			return nil, proxyProtoInfo{}, fmt.Errorf("%w: PROXY v2 header received but not accepted", ErrProtocolViolation)
		}
		info, perr := parseProxyV2(br)
		if perr != nil {
			return nil, proxyProtoInfo{}, perr
		}
		return br, info, nil
	}

	peek1, err1 := br.Peek(len(proxyProtoV1SignaturePrefix))
	isV1 := err1 == nil && string(peek1) == proxyProtoV1SignaturePrefix
	if isV1 {
		if cfg.acceptedVersions != proxyProtoV1 && cfg.acceptedVersions != proxyProtoBoth {
			return nil, proxyProtoInfo{}, fmt.Errorf("%w: PROXY v1 header received but not accepted", ErrProtocolViolation)
		}
		info, perr := parseProxyV1(br)
		if perr != nil {
			return nil, proxyProtoInfo{}, perr
		}
		return br, info, nil
	}

	if !cfg.proxyProtocolOptional {
		return nil, proxyProtoInfo{}, fmt.Errorf("%w: no PROXY header present", ErrProtocolViolation)
	}
	return br, proxyProtoInfo{}, nil
}

func parseProxyV1(r *bufio.Reader) (proxyProtoInfo, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return proxyProtoInfo{}, fmt.Errorf("%w: read PROXY v1 header: %v", ErrProtocolViolation, err)
	}
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Fields(line)
	// "PROXY" proto src-ip dst-ip src-port dst-port
	if len(fields) < 2 {
		return proxyProtoInfo{}, fmt.Errorf("%w: malformed PROXY v1 header", ErrProtocolViolation)
	}
	if fields[1] == "UNKNOWN" {
		return proxyProtoInfo{}, nil
	}
	if len(fields) != 6 {
		return proxyProtoInfo{}, fmt.Errorf("%w: malformed PROXY v1 header fields", ErrProtocolViolation)
	}
	srcPort, err := strconv.Atoi(fields[4])
	if err != nil {
		return proxyProtoInfo{}, fmt.Errorf("%w: bad PROXY v1 src port: %v", ErrProtocolViolation, err)
	}
	dstPort, err := strconv.Atoi(fields[5])
	if err != nil {
		return proxyProtoInfo{}, fmt.Errorf("%w: bad PROXY v1 dst port: %v", ErrProtocolViolation, err)
	}
	return proxyProtoInfo{
		originalSrc: &net.TCPAddr{IP: net.ParseIP(fields[2]), Port: srcPort},
		originalDst: &net.TCPAddr{IP: net.ParseIP(fields[3]), Port: dstPort},
	}, nil
}

func parseProxyV2(r *bufio.Reader) (proxyProtoInfo, error) {
	hdr := make([]byte, 16)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return proxyProtoInfo{}, fmt.Errorf("%w: read PROXY v2 header: %v", ErrProtocolViolation, err)
	}
	verCmd := hdr[12]
	if verCmd>>4 != 2 {
		return proxyProtoInfo{}, fmt.Errorf("%w: unsupported PROXY v2 version", ErrProtocolViolation)
	}
	cmd := verCmd & 0x0f
	famProto := hdr[13]
	addrLen := binary.BigEndian.Uint16(hdr[14:16])
	body := make([]byte, addrLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return proxyProtoInfo{}, fmt.Errorf("%w: read PROXY v2 body: %v", ErrProtocolViolation, err)
	}
	if cmd == 0x00 { // LOCAL: health check, no addresses attested
		return proxyProtoInfo{}, nil
	}
	family := famProto >> 4
	switch family {
	case 0x1: // AF_INET
		if len(body) < 12 {
			return proxyProtoInfo{}, fmt.Errorf("%w: short PROXY v2 ipv4 body", ErrProtocolViolation)
		}
		src := net.IP(body[0:4])
		dst := net.IP(body[4:8])
		srcPort := binary.BigEndian.Uint16(body[8:10])
		dstPort := binary.BigEndian.Uint16(body[10:12])
		return proxyProtoInfo{
			originalSrc: &net.TCPAddr{IP: src, Port: int(srcPort)},
			originalDst: &net.TCPAddr{IP: dst, Port: int(dstPort)},
		}, nil
	case 0x2: // AF_INET6
		if len(body) < 36 {
			return proxyProtoInfo{}, fmt.Errorf("%w: short PROXY v2 ipv6 body", ErrProtocolViolation)
		}
		src := net.IP(body[0:16])
		dst := net.IP(body[16:32])
		srcPort := binary.BigEndian.Uint16(body[32:34])
		dstPort := binary.BigEndian.Uint16(body[34:36])
		return proxyProtoInfo{
			originalSrc: &net.TCPAddr{IP: src, Port: int(srcPort)},
			originalDst: &net.TCPAddr{IP: dst, Port: int(dstPort)},
		}, nil
	default:
		// AF_UNSPEC or AF_UNIX: no usable source/destination addresses.
		return proxyProtoInfo{}, nil
	}
}

// writeProxyHeader emits a PROXY header toward the upstream connection
// using the given version. If either address is nil, the caller should
// skip calling this and just warn (spec.md §4.3), which is what
// dialV1Upstream in v1client.go does.
func writeProxyHeader(w io.Writer, version proxyProtoVersion, src, dst net.Addr) error {
	srcTCP, ok1 := src.(*net.TCPAddr)
	dstTCP, ok2 := dst.(*net.TCPAddr)
	if !ok1 || !ok2 {
		return fmt.Errorf("%w: non-TCP address for PROXY header", ErrProtocolViolation)
	}
	switch version {
	case proxyProtoV1:
		proto := "TCP4"
		if srcTCP.IP.To4() == nil {
			proto = "TCP6"
		}
		line := fmt.Sprintf("PROXY %s %s %s %d %d\r\n", proto, srcTCP.IP.String(), dstTCP.IP.String(), srcTCP.Port, dstTCP.Port)
		_, err := w.Write([]byte(line))
		return err
	case proxyProtoV2:
		return writeProxyV2Header(w, srcTCP, dstTCP)
	default:
		return fmt.Errorf("%w: unsupported PROXY header version to emit", ErrConfigInvalid)
	}
}

func writeProxyV2Header(w io.Writer, src, dst *net.TCPAddr) error {
	var body []byte
	famProto := byte(0x11) // AF_INET, STREAM
	if src.IP.To4() == nil {
		famProto = 0x21 // AF_INET6, STREAM
		body = make([]byte, 36)
		copy(body[0:16], src.IP.To16())
		copy(body[16:32], dst.IP.To16())
		binary.BigEndian.PutUint16(body[32:34], uint16(src.Port))
		binary.BigEndian.PutUint16(body[34:36], uint16(dst.Port))
	} else {
		body = make([]byte, 12)
		copy(body[0:4], src.IP.To4())
		copy(body[4:8], dst.IP.To4())
		binary.BigEndian.PutUint16(body[8:10], uint16(src.Port))
		binary.BigEndian.PutUint16(body[10:12], uint16(dst.Port))
	}
	hdr := make([]byte, 16)
	copy(hdr[0:12], []byte(proxyProtoV2Signature))
	hdr[12] = 0x21 // version 2, PROXY command
	hdr[13] = famProto
	binary.BigEndian.PutUint16(hdr[14:16], uint16(len(body)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}
