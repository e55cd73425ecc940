// Package sshkey generates per-session SSH key material.
package sshkey

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

const (
	rsaBits        = 2048
	privateKeyName = "ssh_key"
	publicKeyName  = "ssh_key.pub"
)

// KeyPair holds a generated SSH key pair written to disk.
type KeyPair struct {
	PrivateKeyPath string
	PublicKeyPath  string
	PublicKey      string
}

// Generate creates a fresh RSA-2048 key pair inside dir. Keys are
// session-scoped and never reused, so any existing pair is replaced.
func Generate(dir string) (*KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	pub, err := ssh.NewPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive SSH public key: %w", err)
	}
	pubAuthorized := ssh.MarshalAuthorizedKey(pub)

	privPath := filepath.Join(dir, privateKeyName)
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write private key: %w", err)
	}

	pubPath := filepath.Join(dir, publicKeyName)
	if err := os.WriteFile(pubPath, pubAuthorized, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write public key: %w", err)
	}

	return &KeyPair{
		PrivateKeyPath: privPath,
		PublicKeyPath:  pubPath,
		PublicKey:      string(pubAuthorized),
	}, nil
}
