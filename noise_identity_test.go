package main

import (
	"bytes"
	"encoding/hex"
	"path/filepath"
	"testing"
)

func TestLoadOrGenerateStaticKeypairPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noise.key")

	priv1, enc1, err := loadOrGenerateStaticKeypair(path)
	if err != nil {
		t.Fatalf("loadOrGenerateStaticKeypair (generate) error: %v", err)
	}

	priv2, enc2, err := loadOrGenerateStaticKeypair(path)
	if err != nil {
		t.Fatalf("loadOrGenerateStaticKeypair (reload) error: %v", err)
	}

	if !bytes.Equal(priv1.Serialize(), priv2.Serialize()) {
		t.Fatalf("reloaded private key does not match generated one")
	}
	if enc1 != enc2 {
		t.Fatalf("reloaded ellswift encoding does not match generated one")
	}
}

func TestLoadSignatureNoiseMessageAbsentIsNil(t *testing.T) {
	sig, err := loadSignatureNoiseMessage("")
	if err != nil || sig != nil {
		t.Fatalf("expected nil, nil for empty path, got %v, %v", sig, err)
	}

	sig, err = loadSignatureNoiseMessage(filepath.Join(t.TempDir(), "missing.hex"))
	if err != nil || sig != nil {
		t.Fatalf("expected nil, nil for missing file, got %v, %v", sig, err)
	}
}

func TestLoadNoiseIdentityInlineHexOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noise.key")
	// Seed a file-based keypair first, then confirm inline hex takes priority
	// over it.
	if _, _, err := loadOrGenerateStaticKeypair(path); err != nil {
		t.Fatalf("seed keypair error: %v", err)
	}

	_, fileEnc, err := loadOrGenerateStaticKeypair(path)
	if err != nil {
		t.Fatalf("reload seeded keypair error: %v", err)
	}

	inlinePriv, inlineEnc, err := generateSV2StaticKeypair()
	if err != nil {
		t.Fatalf("generateSV2StaticKeypair error: %v", err)
	}
	inlineHex := hex.EncodeToString(inlinePriv.Serialize()) + hex.EncodeToString(inlineEnc[:])

	priv, enc, sig, err := loadNoiseIdentity(path, "", inlineHex)
	if err != nil {
		t.Fatalf("loadNoiseIdentity error: %v", err)
	}
	if sig != nil {
		t.Fatalf("expected nil signature when certificatePath is empty")
	}
	if !bytes.Equal(priv.Serialize(), inlinePriv.Serialize()) {
		t.Fatalf("loadNoiseIdentity did not prefer inline hex over file path")
	}
	if enc == fileEnc {
		t.Fatalf("inline keypair unexpectedly matched the on-disk one")
	}
}
