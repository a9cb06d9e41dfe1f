// Package crypto provides the identity keypairs, pre-shared-key derivation,
// and secure memory handling used by the pairing and reconnection handshakes.
package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"
)

// KeyPair is a long-lived Curve25519 identity keypair. Public is derived
// from Private and is safe to share; Private must never leave the device.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a new random identity keypair.
func GenerateKeyPair() (*KeyPair, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	return FromPrivateKey(priv)
}

// FromPrivateKey derives the matching public key for an existing private
// key, e.g. one loaded from storage. Unlike a naive implementation that
// merely echoes the stored bytes, this performs the actual X25519 base
// point scalar multiplication so Public always matches Private.
func FromPrivateKey(priv [32]byte) (*KeyPair, error) {
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	kp := &KeyPair{Private: priv}
	copy(kp.Public[:], pub)
	logrus.WithFields(logrus.Fields{
		"function":   "FromPrivateKey",
		"public_key": shortHex(kp.Public[:]),
	}).Debug("derived identity public key")
	return kp, nil
}

// FromHex loads a keypair from a hex-encoded private key string, deriving
// the public half.
func FromHex(privHex string) (*KeyPair, error) {
	raw, err := hex.DecodeString(privHex)
	if err != nil {
		return nil, fmt.Errorf("decode private key hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}
	var priv [32]byte
	copy(priv[:], raw)
	return FromPrivateKey(priv)
}

// PrivateHex returns the hex encoding of the private key, suitable for
// persistence via the store package.
func (k *KeyPair) PrivateHex() string {
	return hex.EncodeToString(k.Private[:])
}

// PublicHex returns the hex encoding of the public key.
func (k *KeyPair) PublicHex() string {
	return hex.EncodeToString(k.Public[:])
}

// shortHex renders the first 8 bytes of key material for log lines,
// never the full key and never private key material.
func shortHex(b []byte) string {
	n := 8
	if len(b) < n {
		n = len(b)
	}
	return hex.EncodeToString(b[:n])
}

// ShortKeyID is the exported form of shortHex for use by other packages
// that need to log a public key fragment for correlation.
func ShortKeyID(pub []byte) string {
	return shortHex(pub)
}
