package controller

import (
	"fmt"
	"net"

	flynnnoise "github.com/flynn/noise"

	noisehs "github.com/littledino2112/universal-clipboard/noise"
	"github.com/littledino2112/universal-clipboard/wire"
)

// Prologue type bytes, written by the initiator before any Noise message
// so the responder knows which pattern to run.
const (
	prologuePairing   byte = 0x00
	prologueReconnect byte = 0x01
)

func pubKeyArray(b []byte) (out [32]byte) {
	copy(out[:], b)
	return out
}

// runInitiatorPairing drives the three-message XXpsk0 exchange from the
// initiator's side over raw (pre-encryption) frames.
func runInitiatorPairing(conn net.Conn, hs *noisehs.PairingHandshake) (send, recv *flynnnoise.CipherState, remoteStatic []byte, err error) {
	msg1, err := hs.WriteMessage(nil)
	if err != nil {
		return nil, nil, nil, &HandshakeFailedError{Cause: err}
	}
	if err := wire.WriteFrame(conn, msg1); err != nil {
		return nil, nil, nil, fmt.Errorf("controller: write handshake message 1: %w", err)
	}

	msg2, err := wire.ReadFrame(conn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("controller: read handshake message 2: %w", err)
	}
	if _, err := hs.ReadMessage(msg2); err != nil {
		return nil, nil, nil, &HandshakeFailedError{Cause: err}
	}

	msg3, err := hs.WriteMessage(nil)
	if err != nil {
		return nil, nil, nil, &HandshakeFailedError{Cause: err}
	}
	if err := wire.WriteFrame(conn, msg3); err != nil {
		return nil, nil, nil, fmt.Errorf("controller: write handshake message 3: %w", err)
	}

	send, recv, err = hs.CipherStates()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("controller: pairing cipher states: %w", err)
	}
	return send, recv, hs.RemoteStatic(), nil
}

// runResponderPairing drives the three-message XXpsk0 exchange from the
// responder's side.
func runResponderPairing(conn net.Conn, hs *noisehs.PairingHandshake) (send, recv *flynnnoise.CipherState, remoteStatic []byte, err error) {
	msg1, err := wire.ReadFrame(conn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("controller: read handshake message 1: %w", err)
	}
	if _, err := hs.ReadMessage(msg1); err != nil {
		return nil, nil, nil, &HandshakeFailedError{Cause: err}
	}

	msg2, err := hs.WriteMessage(nil)
	if err != nil {
		return nil, nil, nil, &HandshakeFailedError{Cause: err}
	}
	if err := wire.WriteFrame(conn, msg2); err != nil {
		return nil, nil, nil, fmt.Errorf("controller: write handshake message 2: %w", err)
	}

	msg3, err := wire.ReadFrame(conn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("controller: read handshake message 3: %w", err)
	}
	if _, err := hs.ReadMessage(msg3); err != nil {
		return nil, nil, nil, &HandshakeFailedError{Cause: err}
	}

	send, recv, err = hs.CipherStates()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("controller: pairing cipher states: %w", err)
	}
	return send, recv, hs.RemoteStatic(), nil
}

// runInitiatorReconnect drives the two-message KK exchange from the
// initiator's side.
func runInitiatorReconnect(conn net.Conn, hs *noisehs.ReconnectHandshake) (send, recv *flynnnoise.CipherState, err error) {
	msg1, err := hs.WriteMessage(nil)
	if err != nil {
		return nil, nil, &HandshakeFailedError{Cause: err}
	}
	if err := wire.WriteFrame(conn, msg1); err != nil {
		return nil, nil, fmt.Errorf("controller: write handshake message 1: %w", err)
	}

	msg2, err := wire.ReadFrame(conn)
	if err != nil {
		return nil, nil, fmt.Errorf("controller: read handshake message 2: %w", err)
	}
	if _, err := hs.ReadMessage(msg2); err != nil {
		return nil, nil, &HandshakeFailedError{Cause: err}
	}

	send, recv, err = hs.CipherStates()
	if err != nil {
		return nil, nil, fmt.Errorf("controller: reconnect cipher states: %w", err)
	}
	return send, recv, nil
}

// runResponderReconnect drives the two-message KK exchange from the
// responder's side.
func runResponderReconnect(conn net.Conn, hs *noisehs.ReconnectHandshake) (send, recv *flynnnoise.CipherState, err error) {
	msg1, err := wire.ReadFrame(conn)
	if err != nil {
		return nil, nil, fmt.Errorf("controller: read handshake message 1: %w", err)
	}
	if _, err := hs.ReadMessage(msg1); err != nil {
		return nil, nil, &HandshakeFailedError{Cause: err}
	}

	msg2, err := hs.WriteMessage(nil)
	if err != nil {
		return nil, nil, &HandshakeFailedError{Cause: err}
	}
	if err := wire.WriteFrame(conn, msg2); err != nil {
		return nil, nil, fmt.Errorf("controller: write handshake message 2: %w", err)
	}

	send, recv, err = hs.CipherStates()
	if err != nil {
		return nil, nil, fmt.Errorf("controller: reconnect cipher states: %w", err)
	}
	return send, recv, nil
}
