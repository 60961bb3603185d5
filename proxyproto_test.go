package main

import (
	"bytes"
	"io"
	"net"
	"testing"
)

func TestAcceptProxyPrefaceV1(t *testing.T) {
	header := "PROXY TCP4 10.0.0.1 10.0.0.2 12345 34255\r\n"
	payload := "remaining stratum bytes"
	conn := &fakeConn{r: bytes.NewBufferString(header + payload)}

	cfg := proxyProtoConfig{acceptProxyProtocol: true, acceptedVersions: proxyProtoBoth}
	r, info, err := acceptProxyPreface(conn, cfg)
	if err != nil {
		t.Fatalf("acceptProxyPreface error: %v", err)
	}
	if info.originalSrc.(*net.TCPAddr).IP.String() != "10.0.0.1" {
		t.Fatalf("originalSrc = %v, want 10.0.0.1", info.originalSrc)
	}
	if info.originalDst.(*net.TCPAddr).Port != 34255 {
		t.Fatalf("originalDst port = %v, want 34255", info.originalDst)
	}

	rest, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read remaining bytes: %v", err)
	}
	if string(rest) != payload {
		t.Fatalf("remaining reader content = %q, want %q", rest, payload)
	}
}

func TestAcceptProxyPrefaceV2(t *testing.T) {
	var hdr bytes.Buffer
	hdr.WriteString(proxyProtoV2Signature)
	hdr.WriteByte(0x21) // version 2, PROXY command
	hdr.WriteByte(0x11) // AF_INET, STREAM
	body := make([]byte, 12)
	copy(body[0:4], net.ParseIP("192.168.1.1").To4())
	copy(body[4:8], net.ParseIP("192.168.1.2").To4())
	body[8], body[9] = 0x1f, 0x90  // 8080
	body[10], body[11] = 0x85, 0xfb // 34299
	hdr.WriteByte(0)
	hdr.WriteByte(12)
	hdr.Write(body)

	conn := &fakeConn{r: bytes.NewBuffer(append(append([]byte{}, hdr.Bytes()...), []byte("trailing")...))}
	cfg := proxyProtoConfig{acceptProxyProtocol: true, acceptedVersions: proxyProtoBoth}
	_, info, err := acceptProxyPreface(conn, cfg)
	if err != nil {
		t.Fatalf("acceptProxyPreface error: %v", err)
	}
	if info.originalSrc.(*net.TCPAddr).Port != 8080 {
		t.Fatalf("originalSrc port = %v, want 8080", info.originalSrc)
	}
}

func TestAcceptProxyPrefaceOptionalPassthrough(t *testing.T) {
	conn := &fakeConn{r: bytes.NewBufferString("not a proxy header at all")}
	cfg := proxyProtoConfig{acceptProxyProtocol: true, proxyProtocolOptional: true, acceptedVersions: proxyProtoBoth}
	_, info, err := acceptProxyPreface(conn, cfg)
	if err != nil {
		t.Fatalf("acceptProxyPreface error: %v", err)
	}
	if info.originalSrc != nil || info.originalDst != nil {
		t.Fatalf("expected no attested addresses for raw TCP passthrough")
	}
}

func TestAcceptProxyPrefaceRequiredButMissing(t *testing.T) {
	conn := &fakeConn{r: bytes.NewBufferString("garbage")}
	cfg := proxyProtoConfig{acceptProxyProtocol: true, proxyProtocolOptional: false, acceptedVersions: proxyProtoBoth}
	if _, _, err := acceptProxyPreface(conn, cfg); err == nil {
		t.Fatalf("expected error when PROXY header required but absent")
	}
}

func TestWriteProxyHeaderV1(t *testing.T) {
	var buf bytes.Buffer
	src := &net.TCPAddr{IP: net.ParseIP("1.2.3.4"), Port: 1111}
	dst := &net.TCPAddr{IP: net.ParseIP("5.6.7.8"), Port: 2222}
	if err := writeProxyHeader(&buf, proxyProtoV1, src, dst); err != nil {
		t.Fatalf("writeProxyHeader error: %v", err)
	}
	want := "PROXY TCP4 1.2.3.4 5.6.7.8 1111 2222\r\n"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
}

// fakeConn adapts a bytes.Buffer to net.Conn for acceptProxyPreface tests,
// which only read from the connection.
type fakeConn struct {
	net.Conn
	r *bytes.Buffer
}

func (f *fakeConn) Read(p []byte) (int, error) { return f.r.Read(p) }
