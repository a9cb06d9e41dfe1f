package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"
)

// pskSalt and pskInfo are the fixed HKDF parameters for deriving a
// pre-shared key from a pairing code. They must match on both peers.
const (
	pskSalt = "uclip-pair-v1"
	pskInfo = "psk"
	pskLen  = 32
)

// GeneratePairingCode returns a fresh six-digit numeric pairing code.
// Codes are single-use and are never persisted.
func GeneratePairingCode() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate pairing code: %w", err)
	}
	n := (uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])) % 1000000
	return fmt.Sprintf("%06d", n), nil
}

// DerivePSK expands a pairing code into the 32-byte pre-shared key mixed
// into the XXpsk0 handshake. Both peers derive the same PSK independently
// from the same displayed code; the code itself never crosses the wire.
func DerivePSK(code string) ([32]byte, error) {
	var psk [32]byte
	h := hkdf.New(sha256.New, []byte(code), []byte(pskSalt), []byte(pskInfo))
	if _, err := io.ReadFull(h, psk[:pskLen]); err != nil {
		return psk, fmt.Errorf("derive psk: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "DerivePSK",
	}).Debug("derived pairing pre-shared key")
	return psk, nil
}
