package noise

import (
	"crypto/rand"
	"errors"
	"fmt"

	flynnnoise "github.com/flynn/noise"
	"github.com/sirupsen/logrus"

	"github.com/littledino2112/universal-clipboard/crypto"
)

// Role distinguishes the two sides of a handshake. The initiator is the
// device pushing a connection (and, in pairing, the one without a prior
// identity for the peer); the responder is the listening device.
type Role int

const (
	Initiator Role = iota
	Responder
)

var (
	// ErrHandshakeComplete is returned when a message is processed after
	// the handshake has already finished.
	ErrHandshakeComplete = errors.New("noise: handshake already complete")
	// ErrHandshakeNotComplete is returned when cipher states are requested
	// before the handshake has finished.
	ErrHandshakeNotComplete = errors.New("noise: handshake not complete")
	// ErrWrongTurn is returned when WriteMessage or ReadMessage is called
	// out of the pattern's required message order.
	ErrWrongTurn = errors.New("noise: message called out of turn")
)

func cipherSuite() flynnnoise.CipherSuite {
	return flynnnoise.NewCipherSuite(flynnnoise.DH25519, flynnnoise.CipherChaChaPoly, flynnnoise.HashSHA256)
}

// splitCiphers extracts this party's send/receive CipherStates from the
// pair returned by either WriteMessage or ReadMessage. flynn/noise hands
// both parties the pair in the same order: the first CipherState carries
// initiator-to-responder traffic, the second responder-to-initiator
// traffic. The initiator therefore sends with the first and the responder
// with the second.
func splitCiphers(role Role, c1, c2 *flynnnoise.CipherState) (send, recv *flynnnoise.CipherState) {
	if role == Responder {
		return c2, c1
	}
	return c1, c2
}

// PairingHandshake drives a Noise_XXpsk0_25519_ChaChaPoly_SHA256 exchange
// authenticated by a pre-shared key derived from a displayed pairing code.
type PairingHandshake struct {
	role     Role
	state    *flynnnoise.HandshakeState
	send     *flynnnoise.CipherState
	recv     *flynnnoise.CipherState
	complete bool
	msgIndex int
}

// NewPairingHandshake constructs a pairing handshake. local is this
// device's identity keypair; psk is the 32-byte key derived from the
// pairing code via crypto.DerivePSK.
func NewPairingHandshake(local *crypto.KeyPair, psk [32]byte, role Role) (*PairingHandshake, error) {
	cfg := flynnnoise.Config{
		CipherSuite: cipherSuite(),
		Random:      rand.Reader,
		Pattern:     flynnnoise.HandshakeXX,
		Initiator:   role == Initiator,
		StaticKeypair: flynnnoise.DHKey{
			Private: append([]byte(nil), local.Private[:]...),
			Public:  append([]byte(nil), local.Public[:]...),
		},
		PresharedKey:          append([]byte(nil), psk[:]...),
		PresharedKeyPlacement: 0,
	}

	state, err := flynnnoise.NewHandshakeState(cfg)
	if err != nil {
		return nil, fmt.Errorf("new pairing handshake state: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewPairingHandshake",
		"role":     role,
	}).Debug("starting pairing handshake")

	return &PairingHandshake{role: role, state: state}, nil
}

// WriteMessage produces the next outbound handshake message. payload may
// be nil; this system never sends handshake payloads.
func (p *PairingHandshake) WriteMessage(payload []byte) ([]byte, error) {
	if p.complete {
		return nil, ErrHandshakeComplete
	}
	out, c1, c2, err := p.state.WriteMessage(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("pairing write message %d: %w", p.msgIndex, err)
	}
	p.msgIndex++
	if c1 != nil && c2 != nil {
		p.send, p.recv = splitCiphers(p.role, c1, c2)
		p.complete = true
		logrus.WithFields(logrus.Fields{
			"function": "PairingHandshake.WriteMessage",
			"role":     p.role,
		}).Info("pairing handshake complete")
	}
	return out, nil
}

// ReadMessage processes an inbound handshake message and returns any
// carried payload (always empty in this system).
func (p *PairingHandshake) ReadMessage(msg []byte) ([]byte, error) {
	if p.complete {
		return nil, ErrHandshakeComplete
	}
	payload, c1, c2, err := p.state.ReadMessage(nil, msg)
	if err != nil {
		return nil, fmt.Errorf("pairing read message %d: %w", p.msgIndex, err)
	}
	p.msgIndex++
	if c1 != nil && c2 != nil {
		p.send, p.recv = splitCiphers(p.role, c1, c2)
		p.complete = true
		logrus.WithFields(logrus.Fields{
			"function": "PairingHandshake.ReadMessage",
			"role":     p.role,
		}).Info("pairing handshake complete")
	}
	return payload, nil
}

// IsComplete reports whether the handshake has finished.
func (p *PairingHandshake) IsComplete() bool { return p.complete }

// CipherStates returns this party's send and receive ciphers. Only valid
// once IsComplete is true.
func (p *PairingHandshake) CipherStates() (send, recv *flynnnoise.CipherState, err error) {
	if !p.complete {
		return nil, nil, ErrHandshakeNotComplete
	}
	return p.send, p.recv, nil
}

// RemoteStatic returns the peer's static public key, learned during the
// handshake. Only meaningful once IsComplete is true.
func (p *PairingHandshake) RemoteStatic() []byte {
	return p.state.PeerStatic()
}

// ReconnectHandshake drives a Noise_KK_25519_ChaChaPoly_SHA256 exchange
// between two peers that already know each other's static public keys.
type ReconnectHandshake struct {
	role     Role
	state    *flynnnoise.HandshakeState
	send     *flynnnoise.CipherState
	recv     *flynnnoise.CipherState
	complete bool
	msgIndex int
}

// NewReconnectHandshake constructs a reconnection handshake. peerStatic
// must be the 32-byte static public key of the other party, already known
// from a prior successful pairing.
func NewReconnectHandshake(local *crypto.KeyPair, peerStatic []byte, role Role) (*ReconnectHandshake, error) {
	if len(peerStatic) != 32 {
		return nil, fmt.Errorf("reconnect handshake: peer static key must be 32 bytes, got %d", len(peerStatic))
	}

	cfg := flynnnoise.Config{
		CipherSuite: cipherSuite(),
		Random:      rand.Reader,
		Pattern:     flynnnoise.HandshakeKK,
		Initiator:   role == Initiator,
		StaticKeypair: flynnnoise.DHKey{
			Private: append([]byte(nil), local.Private[:]...),
			Public:  append([]byte(nil), local.Public[:]...),
		},
		PeerStatic: append([]byte(nil), peerStatic...),
	}

	state, err := flynnnoise.NewHandshakeState(cfg)
	if err != nil {
		return nil, fmt.Errorf("new reconnect handshake state: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewReconnectHandshake",
		"role":        role,
		"peer_static": crypto.ShortKeyID(peerStatic),
	}).Debug("starting reconnect handshake")

	return &ReconnectHandshake{role: role, state: state}, nil
}

// WriteMessage produces the next outbound handshake message.
func (r *ReconnectHandshake) WriteMessage(payload []byte) ([]byte, error) {
	if r.complete {
		return nil, ErrHandshakeComplete
	}
	out, c1, c2, err := r.state.WriteMessage(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("reconnect write message %d: %w", r.msgIndex, err)
	}
	r.msgIndex++
	if c1 != nil && c2 != nil {
		r.send, r.recv = splitCiphers(r.role, c1, c2)
		r.complete = true
		logrus.WithFields(logrus.Fields{
			"function": "ReconnectHandshake.WriteMessage",
			"role":     r.role,
		}).Info("reconnect handshake complete")
	}
	return out, nil
}

// ReadMessage processes an inbound handshake message.
func (r *ReconnectHandshake) ReadMessage(msg []byte) ([]byte, error) {
	if r.complete {
		return nil, ErrHandshakeComplete
	}
	payload, c1, c2, err := r.state.ReadMessage(nil, msg)
	if err != nil {
		return nil, fmt.Errorf("reconnect read message %d: %w", r.msgIndex, err)
	}
	r.msgIndex++
	if c1 != nil && c2 != nil {
		r.send, r.recv = splitCiphers(r.role, c1, c2)
		r.complete = true
		logrus.WithFields(logrus.Fields{
			"function": "ReconnectHandshake.ReadMessage",
			"role":     r.role,
		}).Info("reconnect handshake complete")
	}
	return payload, nil
}

// IsComplete reports whether the handshake has finished.
func (r *ReconnectHandshake) IsComplete() bool { return r.complete }

// CipherStates returns this party's send and receive ciphers. Only valid
// once IsComplete is true.
func (r *ReconnectHandshake) CipherStates() (send, recv *flynnnoise.CipherState, err error) {
	if !r.complete {
		return nil, nil, ErrHandshakeNotComplete
	}
	return r.send, r.recv, nil
}
