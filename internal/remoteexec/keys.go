package remoteexec

import (
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// loadSigner builds an ssh.Signer from either an in-memory PEM (preferred,
// decrypted from a Node's CredentialHandle) or a path on the zvault host's
// own filesystem.
func loadSigner(path string, pem []byte) (ssh.Signer, error) {
	if len(pem) > 0 {
		return ssh.ParsePrivateKey(pem)
	}
	if path == "" {
		return nil, fmt.Errorf("no private key material or path provided")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file %s: %w", path, err)
	}
	return ssh.ParsePrivateKey(data)
}
