package main

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeSv2FrameRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	buf, err := encodeSv2Frame(sv2BaseExtension, true, 0x42, payload)
	if err != nil {
		t.Fatalf("encodeSv2Frame error: %v", err)
	}

	frame, consumed, err := decodeSv2Frame(buf, 0)
	if err != nil {
		t.Fatalf("decodeSv2Frame error: %v", err)
	}
	if consumed != len(buf) {
		t.Fatalf("consumed = %d, want %d", consumed, len(buf))
	}
	if !frame.isChannelMessage() {
		t.Fatalf("expected channel bit set")
	}
	if frame.baseExtension() != sv2BaseExtension {
		t.Fatalf("baseExtension = %x, want %x", frame.baseExtension(), sv2BaseExtension)
	}
	if frame.MsgType != 0x42 {
		t.Fatalf("MsgType = %x, want 0x42", frame.MsgType)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Fatalf("Payload = %v, want %v", frame.Payload, payload)
	}
}

func TestDecodeSv2FrameNeedsMore(t *testing.T) {
	buf, err := encodeSv2Frame(sv2BaseExtension, false, 0x01, []byte{9, 9, 9})
	if err != nil {
		t.Fatalf("encodeSv2Frame error: %v", err)
	}
	// Truncate mid-payload: decode must ask for more, not error or panic.
	_, consumed, err := decodeSv2Frame(buf[:len(buf)-1], 0)
	if !errors.Is(err, ErrNeedMore) {
		t.Fatalf("err = %v, want ErrNeedMore", err)
	}
	if consumed != 0 {
		t.Fatalf("consumed = %d, want 0 on ErrNeedMore", consumed)
	}
}

func TestDecodeSv2FrameRejectsOversizedPayload(t *testing.T) {
	buf, err := encodeSv2Frame(sv2BaseExtension, false, 0x01, make([]byte, 100))
	if err != nil {
		t.Fatalf("encodeSv2Frame error: %v", err)
	}
	if _, _, err := decodeSv2Frame(buf, 50); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestStr0255RoundTrip(t *testing.T) {
	var buf []byte
	if err := putStr0_255(&buf, "stratum-v2-proxy"); err != nil {
		t.Fatalf("putStr0_255 error: %v", err)
	}
	got, rest, err := readStr0_255(buf)
	if err != nil {
		t.Fatalf("readStr0_255 error: %v", err)
	}
	if got != "stratum-v2-proxy" {
		t.Fatalf("got %q, want %q", got, "stratum-v2-proxy")
	}
	if len(rest) != 0 {
		t.Fatalf("expected no trailing bytes, got %d", len(rest))
	}
}

func TestStr0NRejectsOverlong(t *testing.T) {
	var buf []byte
	s := make([]byte, 40)
	if err := putStr0N(&buf, string(s), 32); err == nil {
		t.Fatalf("expected error for string longer than max")
	}
}

func TestBytes0_32RoundTrip(t *testing.T) {
	var buf []byte
	in := []byte{0xde, 0xad, 0xbe, 0xef}
	if err := putBytes0_32(&buf, in); err != nil {
		t.Fatalf("putBytes0_32 error: %v", err)
	}
	out, rest, err := readBytes0_32(buf)
	if err != nil {
		t.Fatalf("readBytes0_32 error: %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Fatalf("out = %v, want %v", out, in)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no trailing bytes, got %d", len(rest))
	}
}

func TestOptionU32RoundTrip(t *testing.T) {
	var buf []byte
	putOptionU32(&buf, nil)
	v, rest, err := readOptionU32(buf)
	if err != nil {
		t.Fatalf("readOptionU32 error: %v", err)
	}
	if v != nil {
		t.Fatalf("expected nil option, got %v", *v)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no trailing bytes after absent option, got %d", len(rest))
	}

	buf = nil
	want := uint32(12345)
	putOptionU32(&buf, &want)
	v, rest, err = readOptionU32(buf)
	if err != nil {
		t.Fatalf("readOptionU32 error: %v", err)
	}
	if v == nil || *v != want {
		t.Fatalf("got %v, want %d", v, want)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no trailing bytes after present option, got %d", len(rest))
	}
}

func TestDeviceInfoRoundTrip(t *testing.T) {
	d := deviceInfo{Vendor: "Bitmain", HardwareVersion: "S19", FirmwareVersion: "1.2.3", DeviceID: "abc-123"}
	var buf []byte
	if err := putDeviceInfo(&buf, d); err != nil {
		t.Fatalf("putDeviceInfo error: %v", err)
	}
	got, rest, err := readDeviceInfo(buf)
	if err != nil {
		t.Fatalf("readDeviceInfo error: %v", err)
	}
	if got != d {
		t.Fatalf("got %+v, want %+v", got, d)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no trailing bytes, got %d", len(rest))
	}
}
