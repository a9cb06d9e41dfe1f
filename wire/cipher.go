package wire

import (
	"errors"
	"fmt"
	"net"
	"sync"

	flynnnoise "github.com/flynn/noise"
	"github.com/sirupsen/logrus"
)

// MaxPlaintextLen is the largest plaintext payload that still fits in a
// frame once the 16-byte Poly1305 tag is added.
const MaxPlaintextLen = MaxFrameLen - 16

// ErrPlaintextTooLarge is returned when a caller attempts to send a
// plaintext payload too large to fit in a single encrypted frame.
var ErrPlaintextTooLarge = errors.New("wire: plaintext exceeds maximum length")

// ErrTransportBroken is returned once a send or receive has failed and
// the session is no longer usable.
var ErrTransportBroken = errors.New("wire: transport broken")

// EncryptedTransport applies AEAD sealing/opening to frames carried over a
// net.Conn, using the two CipherStates produced by a completed handshake.
// The sending cipher is driven exclusively by one writer goroutine and the
// receiving cipher exclusively by one reader goroutine; this type performs
// no internal locking of the ciphers themselves, matching that ownership
// discipline. The broken flag alone is guarded by a mutex since both
// directions may observe and set it.
type EncryptedTransport struct {
	conn net.Conn
	send *flynnnoise.CipherState
	recv *flynnnoise.CipherState

	mu     sync.Mutex
	broken bool
}

// NewEncryptedTransport wraps conn with the given send/receive ciphers.
func NewEncryptedTransport(conn net.Conn, send, recv *flynnnoise.CipherState) *EncryptedTransport {
	return &EncryptedTransport{conn: conn, send: send, recv: recv}
}

// Send encrypts and writes one application-level plaintext as a single
// frame.
func (t *EncryptedTransport) Send(plaintext []byte) error {
	if len(plaintext) > MaxPlaintextLen {
		return fmt.Errorf("%w: %d bytes", ErrPlaintextTooLarge, len(plaintext))
	}
	if t.isBroken() {
		return ErrTransportBroken
	}

	ciphertext, err := t.send.Encrypt(nil, nil, plaintext)
	if err != nil {
		t.markBroken()
		return fmt.Errorf("wire: encrypted send: %w", err)
	}
	if err := WriteFrame(t.conn, ciphertext); err != nil {
		t.markBroken()
		return fmt.Errorf("wire: encrypted send: %w", err)
	}
	return nil
}

// Recv reads one frame and decrypts it. A decryption failure — tampering,
// reordering, or replay — marks the transport broken and returns
// ErrTransportBroken wrapping the underlying cause.
func (t *EncryptedTransport) Recv() ([]byte, error) {
	if t.isBroken() {
		return nil, ErrTransportBroken
	}

	ciphertext, err := ReadFrame(t.conn)
	if err != nil {
		t.markBroken()
		return nil, fmt.Errorf("wire: encrypted recv: %w", err)
	}

	plaintext, err := t.recv.Decrypt(nil, nil, ciphertext)
	if err != nil {
		t.markBroken()
		logrus.WithFields(logrus.Fields{
			"function": "EncryptedTransport.Recv",
		}).Warn("decrypt failed, transport broken")
		return nil, fmt.Errorf("%w: decrypt failed: %v", ErrTransportBroken, err)
	}
	return plaintext, nil
}

// Close closes the underlying connection, unblocking any in-flight Send
// or Recv.
func (t *EncryptedTransport) Close() error {
	t.markBroken()
	return t.conn.Close()
}

func (t *EncryptedTransport) isBroken() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.broken
}

func (t *EncryptedTransport) markBroken() {
	t.mu.Lock()
	t.broken = true
	t.mu.Unlock()
}
