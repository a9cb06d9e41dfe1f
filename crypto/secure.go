package crypto

import (
	"crypto/subtle"
	"runtime"
)

// Wipe overwrites b with zeros in place. It is a best-effort defense
// against key material lingering in memory after use; Go's garbage
// collector may still have moved or copied the underlying bytes before
// Wipe runs. runtime.KeepAlive prevents the compiler from eliding the
// write as dead code.
func Wipe(b []byte) {
	if len(b) == 0 {
		return
	}
	zero := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zero)
	runtime.KeepAlive(b)
}

// WipeKeyPair zeroes the private half of a keypair. The public half is
// not secret and is left untouched.
func WipeKeyPair(k *KeyPair) {
	if k == nil {
		return
	}
	Wipe(k.Private[:])
}

// WipePSK zeroes a derived pre-shared key once the handshake that
// consumed it has completed.
func WipePSK(psk *[32]byte) {
	if psk == nil {
		return
	}
	Wipe(psk[:])
}
