package remoteexec

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"strconv"
	"testing"

	"golang.org/x/crypto/ssh"
)

// generateTestKeyPair returns a fresh ed25519 signer along with its PEM
// encoding, so the same key material can be handed to both an ssh.Signer
// (for the in-process test server) and Pool.Run (as PrivateKeyPEM).
func generateTestKeyPair(t *testing.T) (ssh.Signer, []byte) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		t.Fatalf("parse signer: %v", err)
	}
	return signer, pemBytes
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	if err != nil {
		t.Fatalf("atoi %s: %v", s, err)
	}
	return n
}
