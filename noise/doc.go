// Package noise wraps github.com/flynn/noise to drive the two handshake
// patterns used by this system.
//
// Pattern selection:
//
//	Scenario                 Pattern                                 Used by
//	------------------------ --------------------------------------- --------
//	First-time pairing       Noise_XXpsk0_25519_ChaChaPoly_SHA256     PairingHandshake
//	Reconnection             Noise_KK_25519_ChaChaPoly_SHA256         ReconnectHandshake
//
// Pairing does not require either side to know the other's static public
// key in advance; the pre-shared key derived from the displayed pairing
// code authenticates the exchange instead, and the initiator learns the
// responder's static key as a side effect of a successful handshake.
// Reconnection requires both static keys to already be known (the
// responder looked up the initiator's key from its paired-device store),
// and carries no PSK.
//
// Message flow (pairing, XXpsk0):
//
//	initiator -> responder: psk, e
//	responder -> initiator: e, ee, s, es
//	initiator -> responder: s, se
//
// Message flow (reconnect, KK):
//
//	initiator -> responder: e, es, ss
//	responder -> initiator: e, ee, se
//
// Security considerations: a handshake object is single-use. Once
// IsComplete reports true, calling WriteMessage or ReadMessage again
// returns an error. The derived CipherStates must be retrieved exactly
// once via CipherStates and handed to the encrypted transport; the
// handshake object itself should be discarded afterward.
//
// Thread-safety: a handshake value is driven by a single goroutine
// (the connection-setup goroutine) and is not safe for concurrent use.
package noise
