package sshkey

import (
	"os"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestGenerate(t *testing.T) {
	dir := t.TempDir()

	kp, err := Generate(dir)
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}

	fi, err := os.Stat(kp.PrivateKeyPath)
	if err != nil {
		t.Fatalf("private key missing: %v", err)
	}
	if perm := fi.Mode().Perm(); perm != 0o600 {
		t.Errorf("private key mode = %o, want 600", perm)
	}

	priv, err := os.ReadFile(kp.PrivateKeyPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ssh.ParsePrivateKey(priv); err != nil {
		t.Errorf("private key does not parse: %v", err)
	}

	if !strings.HasPrefix(kp.PublicKey, "ssh-rsa ") {
		t.Errorf("public key = %q, want ssh-rsa authorized_keys format", kp.PublicKey)
	}
}

func TestGenerateReplacesExisting(t *testing.T) {
	dir := t.TempDir()

	first, err := Generate(dir)
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	second, err := Generate(dir)
	if err != nil {
		t.Fatalf("second Generate() failed: %v", err)
	}

	if first.PublicKey == second.PublicKey {
		t.Error("expected a fresh key pair on regeneration")
	}
}
