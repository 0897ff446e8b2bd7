package provision

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

const keyBits = 2048

// KeyPair holds the on-disk location of a generated private key and the
// matching public key in authorized_keys format.
type KeyPair struct {
	PrivateKeyPath string
	PublicKey      string
}

// GenerateKeyPair creates an RSA key pair for a server. The private key
// is written to <dir>/<name>_id_rsa with owner-only permissions; the
// public key is written alongside it in OpenSSH format.
func GenerateKeyPair(dir, name string) (*KeyPair, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create keys directory: %w", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate rsa key: %w", err)
	}

	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	privatePath := filepath.Join(dir, name+"_id_rsa")
	if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write private key: %w", err)
	}

	publicKey, err := ssh.NewPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	authorizedKey := string(ssh.MarshalAuthorizedKey(publicKey))

	publicPath := privatePath + ".pub"
	if err := os.WriteFile(publicPath, []byte(authorizedKey), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write public key: %w", err)
	}

	return &KeyPair{
		PrivateKeyPath: privatePath,
		PublicKey:      authorizedKey,
	}, nil
}
