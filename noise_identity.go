package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcec/v2"
)

// loadNoiseIdentity resolves the process's Noise static identity: a
// private scalar, its EllSwift encoding, and the SignatureNoiseMessage
// bytes sent to initiators during the handshake (spec.md §4.2/§9 Open
// Question (b) — the signature is never itself validated, so no
// certificate-authority key is needed to produce one here).
//
// secretKeyPath holds "<64 hex priv bytes><128 hex ellswift bytes>" (96
// raw bytes, hex-encoded); if the file is absent a fresh keypair is
// generated and persisted there. certificatePath holds the hex-encoded
// SignatureNoiseMessage; if absent, an empty message is used (spec.md
// Open Question (b)). inlineHex, when non-empty, overrides secretKeyPath
// entirely and is never written back to disk.
func loadNoiseIdentity(secretKeyPath, certificatePath, inlineHex string) (*btcec.PrivateKey, [64]byte, []byte, error) {
	var priv *btcec.PrivateKey
	var enc [64]byte
	var err error
	if inlineHex != "" {
		priv, enc, err = decodeStaticKeypair([]byte(inlineHex))
	} else {
		priv, enc, err = loadOrGenerateStaticKeypair(secretKeyPath)
	}
	if err != nil {
		return nil, [64]byte{}, nil, err
	}
	sig, err := loadSignatureNoiseMessage(certificatePath)
	if err != nil {
		return nil, [64]byte{}, nil, err
	}
	return priv, enc, sig, nil
}

func loadOrGenerateStaticKeypair(path string) (*btcec.PrivateKey, [64]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return decodeStaticKeypair(data)
	}
	if !os.IsNotExist(err) {
		return nil, [64]byte{}, fmt.Errorf("read %s: %w", path, err)
	}

	priv, enc, err := generateSV2StaticKeypair()
	if err != nil {
		return nil, [64]byte{}, fmt.Errorf("generate noise keypair: %w", err)
	}
	encoded := hex.EncodeToString(priv.Serialize()) + hex.EncodeToString(enc[:])
	if err := writeKeyFileAtomic(path, []byte(encoded)); err != nil {
		return nil, [64]byte{}, fmt.Errorf("persist noise keypair: %w", err)
	}
	logger.Info("generated new noise static identity", "path", path)
	return priv, enc, nil
}

func decodeStaticKeypair(hexData []byte) (*btcec.PrivateKey, [64]byte, error) {
	raw, err := hex.DecodeString(string(trimNewline(hexData)))
	if err != nil {
		return nil, [64]byte{}, fmt.Errorf("decode noise keypair: %w", err)
	}
	if len(raw) != 32+64 {
		return nil, [64]byte{}, fmt.Errorf("noise keypair file has %d bytes, want %d", len(raw), 32+64)
	}
	priv, _ := btcec.PrivKeyFromBytes(raw[:32])
	var enc [64]byte
	copy(enc[:], raw[32:])
	return priv, enc, nil
}

func loadSignatureNoiseMessage(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	sig, err := hex.DecodeString(string(trimNewline(data)))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return sig, nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func writeKeyFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "noisekey-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
