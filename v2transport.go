package main

import (
	"bufio"
	"io"
)

// v2FrameTransport is the minimal interface the session orchestrator needs
// from either a Noise-wrapped or a plaintext V2 byte stream.
type v2FrameTransport interface {
	ReadFrame(maxPayload int) ([]byte, error)
	WriteFrame(frame []byte) error
}

// plainV2Transport speaks raw V2 framing with no Noise layer, for listeners
// configured without a certificate/secret-key pair (spec.md §6: "The
// certificate/secret-key pair being present enables Noise; being absent
// disables it").
type plainV2Transport struct {
	br *bufio.Reader
	w  io.Writer
	// buffered holds bytes read past a complete frame, for the rare case a
	// peer pipelines multiple frames into one read.
	buffered []byte
}

func newPlainV2Transport(r io.Reader, w io.Writer) *plainV2Transport {
	return &plainV2Transport{br: bufio.NewReaderSize(r, 64*1024), w: w}
}

func (t *plainV2Transport) ReadFrame(maxPayload int) ([]byte, error) {
	for {
		if len(t.buffered) >= sv2FrameHeaderLen {
			f, consumed, err := decodeSv2Frame(t.buffered, maxPayload)
			if err == nil {
				raw := append([]byte(nil), t.buffered[:consumed]...)
				t.buffered = t.buffered[consumed:]
				_ = f
				return raw, nil
			}
			if err != ErrNeedMore {
				return nil, err
			}
		}
		chunk := make([]byte, 32*1024)
		n, err := t.br.Read(chunk)
		if n > 0 {
			t.buffered = append(t.buffered, chunk[:n]...)
		}
		if err != nil {
			return nil, err
		}
	}
}

func (t *plainV2Transport) WriteFrame(frame []byte) error {
	return sv2NoiseWriteAll(t.w, frame)
}

// wrap encode/decode helpers for session.go, keeping decodeSv2Frame logic
// centralized in sv2wire.go.
func decodeFrameBytes(raw []byte) (sv2Frame, error) {
	f, consumed, err := decodeSv2Frame(raw, 0)
	if err != nil {
		return sv2Frame{}, err
	}
	if consumed != len(raw) {
		return sv2Frame{}, ErrTrailingBytes
	}
	return f, nil
}
