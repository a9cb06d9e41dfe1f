package wire

import (
	"net"
	"testing"

	flynnnoise "github.com/flynn/noise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pairedCiphers builds two sets of CipherStates via a minimal NN
// handshake so tests can exercise EncryptedTransport without depending on
// the noise package's higher-level handshake types.
func pairedCiphers(t *testing.T) (aSend, aRecv, bSend, bRecv *flynnnoise.CipherState) {
	t.Helper()
	suite := flynnnoise.NewCipherSuite(flynnnoise.DH25519, flynnnoise.CipherChaChaPoly, flynnnoise.HashSHA256)

	a, err := flynnnoise.NewHandshakeState(flynnnoise.Config{
		CipherSuite: suite,
		Pattern:     flynnnoise.HandshakeNN,
		Initiator:   true,
	})
	require.NoError(t, err)
	b, err := flynnnoise.NewHandshakeState(flynnnoise.Config{
		CipherSuite: suite,
		Pattern:     flynnnoise.HandshakeNN,
		Initiator:   false,
	})
	require.NoError(t, err)

	msg1, _, _, err := a.WriteMessage(nil, nil)
	require.NoError(t, err)
	_, _, _, err = b.ReadMessage(nil, msg1)
	require.NoError(t, err)

	msg2, bc1, bc2, err := b.WriteMessage(nil, nil)
	require.NoError(t, err)
	_, ac1, ac2, err := a.ReadMessage(nil, msg2)
	require.NoError(t, err)

	// flynn/noise returns (initiator->responder, responder->initiator) to
	// both sides, so the responder b sends with bc2 and receives with bc1.
	return ac1, ac2, bc2, bc1
}

func TestEncryptedTransportRoundTrip(t *testing.T) {
	aSend, aRecv, bSend, bRecv := pairedCiphers(t)

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	a := NewEncryptedTransport(client, aSend, aRecv)
	b := NewEncryptedTransport(server, bSend, bRecv)

	done := make(chan error, 1)
	go func() { done <- a.Send([]byte("secret message")) }()

	got, err := b.Recv()
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, "secret message", string(got))
}

func TestEncryptedTransportRejectsOversizedPlaintext(t *testing.T) {
	aSend, aRecv, _, _ := pairedCiphers(t)
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	a := NewEncryptedTransport(client, aSend, aRecv)
	err := a.Send(make([]byte, MaxPlaintextLen+1))
	assert.ErrorIs(t, err, ErrPlaintextTooLarge)
}

func TestEncryptedTransportBreaksOnDecryptFailure(t *testing.T) {
	aSend, aRecv, bSend, bRecv := pairedCiphers(t)
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	_ = NewEncryptedTransport(client, aSend, aRecv)
	b := NewEncryptedTransport(server, bSend, bRecv)

	// Write a raw frame that aSend never sealed, so the receiver's
	// decrypt fails on it.
	done := make(chan error, 1)
	go func() { done <- WriteFrame(client, []byte("not really ciphertext!!")) }()

	_, err := b.Recv()
	assert.ErrorIs(t, err, ErrTransportBroken)
	require.NoError(t, <-done)

	// Transport is now unusable.
	_, err = b.Recv()
	assert.ErrorIs(t, err, ErrTransportBroken)
}
