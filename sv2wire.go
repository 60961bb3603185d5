package main

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// Stratum V2 base-extension wire framing: a fixed 6-byte header followed by
// a schema-defined payload. extension_type's high bit (0x8000) marks a
// channel-scoped message; the low 15 bits identify the extension (0x0000
// is the base/mining extension this proxy speaks).
const (
	sv2FrameHeaderLen  = 6
	sv2ChannelMsgBit   = uint16(0x8000)
	sv2ExtensionMask   = uint16(0x7fff)
	sv2BaseExtension   = uint16(0x0000)
	sv2MaxFramePayload = 16 * 1024 * 1024 // 16 MiB default cap, configurable
)

// sv2Frame is the decoded envelope: extension_type (with channel bit
// still folded in), msg_type, and the raw payload bytes.
type sv2Frame struct {
	ExtensionType uint16
	MsgType       byte
	Payload       []byte
}

func (f sv2Frame) isChannelMessage() bool {
	return f.ExtensionType&sv2ChannelMsgBit != 0
}

func (f sv2Frame) baseExtension() uint16 {
	return f.ExtensionType & sv2ExtensionMask
}

// encodeSv2Frame serializes a frame: 6-byte header then payload, exactly
// as long as msg_length declares (property 1 in spec.md §8).
func encodeSv2Frame(extType uint16, channel bool, msgType byte, payload []byte) ([]byte, error) {
	if len(payload) > 0xffffff {
		return nil, fmt.Errorf("%w: payload %d bytes exceeds u24 length field", ErrFrameTooLarge, len(payload))
	}
	hdrExt := extType &^ sv2ChannelMsgBit
	if channel {
		hdrExt |= sv2ChannelMsgBit
	}
	buf := make([]byte, sv2FrameHeaderLen+len(payload))
	binary.LittleEndian.PutUint16(buf[0:2], hdrExt)
	buf[2] = msgType
	putUint24LE(buf[3:6], uint32(len(payload)))
	copy(buf[6:], payload)
	return buf, nil
}

// decodeSv2Frame parses one frame header + payload out of buf. It returns
// ErrNeedMore when buf does not yet contain a full frame, never consuming
// bytes in that case (spec.md §8 property 3).
func decodeSv2Frame(buf []byte, maxPayload int) (frame sv2Frame, consumed int, err error) {
	if len(buf) < sv2FrameHeaderLen {
		return sv2Frame{}, 0, ErrNeedMore
	}
	extType := binary.LittleEndian.Uint16(buf[0:2])
	msgType := buf[2]
	msgLen := readUint24LE(buf[3:6])
	if maxPayload <= 0 {
		maxPayload = sv2MaxFramePayload
	}
	if int(msgLen) > maxPayload {
		return sv2Frame{}, 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, msgLen)
	}
	total := sv2FrameHeaderLen + int(msgLen)
	if len(buf) < total {
		return sv2Frame{}, 0, ErrNeedMore
	}
	payload := make([]byte, msgLen)
	copy(payload, buf[sv2FrameHeaderLen:total])
	return sv2Frame{ExtensionType: extType, MsgType: msgType, Payload: payload}, total, nil
}

func putUint24LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

func readUint24LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// --- Str0_N: 1-byte length-prefixed UTF-8 string, length <= N ---

func putStr0N(dst *[]byte, s string, maxLen int) error {
	if len(s) > maxLen {
		return fmt.Errorf("%w: string len %d exceeds Str0_%d", ErrFrameMalformed, len(s), maxLen)
	}
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: invalid UTF-8 string", ErrFrameMalformed)
	}
	*dst = append(*dst, byte(len(s)))
	*dst = append(*dst, s...)
	return nil
}

func readStr0N(buf []byte, maxLen int) (string, []byte, error) {
	if len(buf) < 1 {
		return "", nil, fmt.Errorf("%w: truncated string length", ErrFrameMalformed)
	}
	n := int(buf[0])
	if n > maxLen {
		return "", nil, fmt.Errorf("%w: string len %d exceeds Str0_%d", ErrFrameMalformed, n, maxLen)
	}
	if len(buf) < 1+n {
		return "", nil, fmt.Errorf("%w: truncated string body", ErrFrameMalformed)
	}
	b := buf[1 : 1+n]
	if !utf8.Valid(b) {
		return "", nil, fmt.Errorf("%w: invalid UTF-8 string", ErrFrameMalformed)
	}
	return string(b), buf[1+n:], nil
}

func putStr0_255(dst *[]byte, s string) error { return putStr0N(dst, s, 255) }
func readStr0_255(buf []byte) (string, []byte, error) { return readStr0N(buf, 255) }
func putStr0_32(dst *[]byte, s string) error { return putStr0N(dst, s, 32) }
func readStr0_32(buf []byte) (string, []byte, error) { return readStr0N(buf, 32) }

// --- Bytes0_N: length-prefixed opaque bytes, 1-byte prefix for N<=255, 2-byte LE for larger N ---

func putBytes0_32(dst *[]byte, b []byte) error {
	if len(b) > 32 {
		return fmt.Errorf("%w: bytes len %d exceeds Bytes0_32", ErrFrameMalformed, len(b))
	}
	*dst = append(*dst, byte(len(b)))
	*dst = append(*dst, b...)
	return nil
}

func readBytes0_32(buf []byte) ([]byte, []byte, error) {
	if len(buf) < 1 {
		return nil, nil, fmt.Errorf("%w: truncated bytes length", ErrFrameMalformed)
	}
	n := int(buf[0])
	if n > 32 || len(buf) < 1+n {
		return nil, nil, fmt.Errorf("%w: truncated/oversized Bytes0_32", ErrFrameMalformed)
	}
	out := append([]byte(nil), buf[1:1+n]...)
	return out, buf[1+n:], nil
}

func putBytes0_64(dst *[]byte, b []byte) error {
	if len(b) > 64 {
		return fmt.Errorf("%w: bytes len %d exceeds Bytes0_64", ErrFrameMalformed, len(b))
	}
	*dst = append(*dst, byte(len(b)))
	*dst = append(*dst, b...)
	return nil
}

func readBytes0_64(buf []byte) ([]byte, []byte, error) {
	if len(buf) < 1 {
		return nil, nil, fmt.Errorf("%w: truncated bytes length", ErrFrameMalformed)
	}
	n := int(buf[0])
	if n > 64 || len(buf) < 1+n {
		return nil, nil, fmt.Errorf("%w: truncated/oversized Bytes0_64", ErrFrameMalformed)
	}
	out := append([]byte(nil), buf[1:1+n]...)
	return out, buf[1+n:], nil
}

func putBytes0_64k(dst *[]byte, b []byte) error {
	if len(b) > 0xffff {
		return fmt.Errorf("%w: bytes len %d exceeds Bytes0_64k", ErrFrameMalformed, len(b))
	}
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(b)))
	*dst = append(*dst, lenBuf[:]...)
	*dst = append(*dst, b...)
	return nil
}

func readBytes0_64k(buf []byte) ([]byte, []byte, error) {
	if len(buf) < 2 {
		return nil, nil, fmt.Errorf("%w: truncated bytes length", ErrFrameMalformed)
	}
	n := int(binary.LittleEndian.Uint16(buf[0:2]))
	if len(buf) < 2+n {
		return nil, nil, fmt.Errorf("%w: truncated Bytes0_64k", ErrFrameMalformed)
	}
	out := append([]byte(nil), buf[2:2+n]...)
	return out, buf[2+n:], nil
}

// --- Uint256Bytes: fixed 32-byte little-endian integer ---

type uint256Bytes [32]byte

func putUint256(dst *[]byte, v uint256Bytes) {
	*dst = append(*dst, v[:]...)
}

func readUint256(buf []byte) (uint256Bytes, []byte, error) {
	var v uint256Bytes
	if len(buf) < 32 {
		return v, nil, fmt.Errorf("%w: truncated uint256", ErrFrameMalformed)
	}
	copy(v[:], buf[:32])
	return v, buf[32:], nil
}

// --- DeviceInfo: four Str0_255 fields ---

type deviceInfo struct {
	Vendor          string
	HardwareVersion string
	FirmwareVersion string
	DeviceID        string
}

func putDeviceInfo(dst *[]byte, d deviceInfo) error {
	for _, s := range []string{d.Vendor, d.HardwareVersion, d.FirmwareVersion, d.DeviceID} {
		if err := putStr0_255(dst, s); err != nil {
			return err
		}
	}
	return nil
}

func readDeviceInfo(buf []byte) (deviceInfo, []byte, error) {
	var d deviceInfo
	var err error
	if d.Vendor, buf, err = readStr0_255(buf); err != nil {
		return d, nil, err
	}
	if d.HardwareVersion, buf, err = readStr0_255(buf); err != nil {
		return d, nil, err
	}
	if d.FirmwareVersion, buf, err = readStr0_255(buf); err != nil {
		return d, nil, err
	}
	if d.DeviceID, buf, err = readStr0_255(buf); err != nil {
		return d, nil, err
	}
	return d, buf, nil
}

// --- OPTION[u32]: 1-byte tag (0 absent, 1 present) then optional 4-byte LE value ---

func putOptionU32(dst *[]byte, v *uint32) {
	if v == nil {
		*dst = append(*dst, 0)
		return
	}
	*dst = append(*dst, 1)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], *v)
	*dst = append(*dst, b[:]...)
}

func readOptionU32(buf []byte) (*uint32, []byte, error) {
	if len(buf) < 1 {
		return nil, nil, fmt.Errorf("%w: truncated option tag", ErrFrameMalformed)
	}
	tag := buf[0]
	buf = buf[1:]
	switch tag {
	case 0:
		return nil, buf, nil
	case 1:
		if len(buf) < 4 {
			return nil, nil, fmt.Errorf("%w: truncated option value", ErrFrameMalformed)
		}
		v := binary.LittleEndian.Uint32(buf[0:4])
		return &v, buf[4:], nil
	default:
		return nil, nil, fmt.Errorf("%w: invalid option tag %d", ErrFrameMalformed, tag)
	}
}

// --- scalar helpers ---

func putU16(dst *[]byte, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	*dst = append(*dst, b[:]...)
}

func readU16(buf []byte) (uint16, []byte, error) {
	if len(buf) < 2 {
		return 0, nil, fmt.Errorf("%w: truncated u16", ErrFrameMalformed)
	}
	return binary.LittleEndian.Uint16(buf[0:2]), buf[2:], nil
}

func putU32(dst *[]byte, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	*dst = append(*dst, b[:]...)
}

func readU32(buf []byte) (uint32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, fmt.Errorf("%w: truncated u32", ErrFrameMalformed)
	}
	return binary.LittleEndian.Uint32(buf[0:4]), buf[4:], nil
}

func putByte(dst *[]byte, v byte) {
	*dst = append(*dst, v)
}

func readByte(buf []byte) (byte, []byte, error) {
	if len(buf) < 1 {
		return 0, nil, fmt.Errorf("%w: truncated byte", ErrFrameMalformed)
	}
	return buf[0], buf[1:], nil
}

func putBool(dst *[]byte, v bool) {
	if v {
		*dst = append(*dst, 1)
	} else {
		*dst = append(*dst, 0)
	}
}

func readBool(buf []byte) (bool, []byte, error) {
	b, rest, err := readByte(buf)
	if err != nil {
		return false, nil, err
	}
	return b != 0, rest, nil
}

func putF32(dst *[]byte, v float32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
	*dst = append(*dst, b[:]...)
}

func readF32(buf []byte) (float32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, fmt.Errorf("%w: truncated f32", ErrFrameMalformed)
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4])), buf[4:], nil
}
