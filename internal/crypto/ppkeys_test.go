package crypto

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrGenerateKeyPairGeneratesThenReloads(t *testing.T) {
	dir := t.TempDir()
	privPath := filepath.Join(dir, "localhost.priv")
	pubPath := filepath.Join(dir, "localhost.pub")

	first, err := LoadOrGenerateKeyPair(AlgoSHA256, privPath, pubPath)
	if err != nil {
		t.Fatalf("LoadOrGenerateKeyPair (generate): %v", err)
	}

	for _, p := range []string{privPath, pubPath} {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatalf("Stat(%s): %v", p, err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Fatalf("%s mode = %s, want 0600", p, info.Mode())
		}
	}

	second, err := LoadOrGenerateKeyPair(AlgoSHA256, privPath, pubPath)
	if err != nil {
		t.Fatalf("LoadOrGenerateKeyPair (reload): %v", err)
	}
	if first.Digest.Printable() != second.Digest.Printable() {
		t.Fatalf("reload digest = %s, want %s", second.Digest.Printable(), first.Digest.Printable())
	}
}

func TestLoadOrGenerateKeyPairRejectsMismatchedPublicKey(t *testing.T) {
	dir := t.TempDir()
	privPath := filepath.Join(dir, "localhost.priv")
	pubPath := filepath.Join(dir, "localhost.pub")

	if _, err := LoadOrGenerateKeyPair(AlgoSHA256, privPath, pubPath); err != nil {
		t.Fatalf("LoadOrGenerateKeyPair: %v", err)
	}

	otherDir := t.TempDir()
	otherPub := filepath.Join(otherDir, "other.pub")
	if _, err := LoadOrGenerateKeyPair(AlgoSHA256, filepath.Join(otherDir, "other.priv"), otherPub); err != nil {
		t.Fatalf("LoadOrGenerateKeyPair (other): %v", err)
	}
	otherDER, err := os.ReadFile(otherPub)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if err := os.WriteFile(pubPath, otherDER, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := LoadOrGenerateKeyPair(AlgoSHA256, privPath, pubPath); err == nil {
		t.Fatal("expected error when the public key file does not match the private key")
	}
}

func TestLoadOrGenerateKeyPairRejectsLoosePermissions(t *testing.T) {
	dir := t.TempDir()
	privPath := filepath.Join(dir, "localhost.priv")
	pubPath := filepath.Join(dir, "localhost.pub")

	if _, err := LoadOrGenerateKeyPair(AlgoSHA256, privPath, pubPath); err != nil {
		t.Fatalf("LoadOrGenerateKeyPair: %v", err)
	}
	if err := os.Chmod(privPath, 0o644); err != nil {
		t.Fatalf("Chmod: %v", err)
	}

	if _, err := LoadOrGenerateKeyPair(AlgoSHA256, privPath, pubPath); err == nil {
		t.Fatal("expected error loading a world-readable private key")
	}
}

func TestHashPubkeyRSAIsDeterministicPerKey(t *testing.T) {
	dir := t.TempDir()
	kp, err := LoadOrGenerateKeyPair(AlgoSHA256, filepath.Join(dir, "a.priv"), filepath.Join(dir, "a.pub"))
	if err != nil {
		t.Fatalf("LoadOrGenerateKeyPair: %v", err)
	}

	again, err := HashPubkeyRSA(AlgoSHA256, &kp.Private.PublicKey)
	if err != nil {
		t.Fatalf("HashPubkeyRSA: %v", err)
	}
	if again.Printable() != kp.Digest.Printable() {
		t.Fatalf("HashPubkeyRSA mismatch: %s vs %s", again.Printable(), kp.Digest.Printable())
	}

	other, err := LoadOrGenerateKeyPair(AlgoSHA256, filepath.Join(dir, "b.priv"), filepath.Join(dir, "b.pub"))
	if err != nil {
		t.Fatalf("LoadOrGenerateKeyPair: %v", err)
	}
	if other.Digest.Printable() == kp.Digest.Printable() {
		t.Fatal("distinct keys produced identical digests")
	}
}
