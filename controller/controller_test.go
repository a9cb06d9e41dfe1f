package controller

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/littledino2112/universal-clipboard/clipboard"
	"github.com/littledino2112/universal-clipboard/crypto"
	"github.com/littledino2112/universal-clipboard/session"
	"github.com/littledino2112/universal-clipboard/store"
)

type harness struct {
	ctrl *Controller
	clip *clipboard.MemoryClipboard
	st   *store.Store
}

func newHarness(t *testing.T, name string) *harness {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	identity, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	clip := clipboard.NewMemoryClipboard()
	return &harness{ctrl: New(identity, name, clip, st, &session.Bus{}), clip: clip, st: st}
}

func waitForState(t *testing.T, ctrl *Controller, want StateKind, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ctrl.State().Kind == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, last was %s", want, ctrl.State())
}

func startResponder(t *testing.T, h *harness) (addr string, port int, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go h.ctrl.Serve(ctx, ln)
	tcpAddr := ln.Addr().(*net.TCPAddr)
	return tcpAddr.IP.String(), tcpAddr.Port, func() { cancel(); ln.Close() }
}

func TestPairingThenTextExchange(t *testing.T) {
	a := newHarness(t, "device-a")
	b := newHarness(t, "device-b")

	host, port, stop := startResponder(t, b)
	defer stop()

	b.ctrl.BeginPairing("654321")
	require.NoError(t, a.ctrl.ConnectWithPairing(host, port, "654321"))

	waitForState(t, b.ctrl, Connected, 2*time.Second)
	assert.Equal(t, "device-a", b.ctrl.State().DeviceName)
	assert.Equal(t, "device-b", a.ctrl.State().DeviceName)

	require.NoError(t, a.ctrl.SendText("hello from a"))
	text, err := b.clip.ReadText()
	require.NoError(t, err)
	assert.Equal(t, "hello from a", text)

	a.ctrl.Disconnect()
	b.ctrl.Disconnect()
}

func TestPairingWithWrongCodeFails(t *testing.T) {
	a := newHarness(t, "device-a")
	b := newHarness(t, "device-b")

	host, port, stop := startResponder(t, b)
	defer stop()

	b.ctrl.BeginPairing("111111")
	err := a.ctrl.ConnectWithPairing(host, port, "222222")
	assert.Error(t, err)
}

func TestSendImageRoundTrip(t *testing.T) {
	a := newHarness(t, "device-a")
	b := newHarness(t, "device-b")

	host, port, stop := startResponder(t, b)
	defer stop()

	b.ctrl.BeginPairing("999999")
	require.NoError(t, a.ctrl.ConnectWithPairing(host, port, "999999"))
	waitForState(t, b.ctrl, Connected, 2*time.Second)

	png := make([]byte, 200000)
	for i := range png {
		png[i] = byte(i)
	}

	var progressCalls int
	require.NoError(t, a.ctrl.SendImage(png, 10, 10, func(sent, total int) { progressCalls++ }))

	img, err := b.clip.ReadImagePNG()
	require.NoError(t, err)
	assert.Equal(t, png, img)
	assert.Greater(t, progressCalls, 1)

	a.ctrl.Disconnect()
	b.ctrl.Disconnect()
}

func TestReconnectAfterDisconnect(t *testing.T) {
	a := newHarness(t, "device-a")
	b := newHarness(t, "device-b")

	host, port, stop := startResponder(t, b)
	defer stop()

	b.ctrl.BeginPairing("123123")
	require.NoError(t, a.ctrl.ConnectWithPairing(host, port, "123123"))
	waitForState(t, b.ctrl, Connected, 2*time.Second)

	devices, err := a.st.LoadDevices()
	require.NoError(t, err)
	dev, ok := devices["device-b"]
	require.True(t, ok)

	a.ctrl.Disconnect()
	waitForState(t, a.ctrl, Disconnected, 2*time.Second)

	require.NoError(t, a.ctrl.Reconnect(host, port, "device-b", dev.PublicKey[:], false))
	waitForState(t, a.ctrl, Connected, 2*time.Second)

	require.NoError(t, a.ctrl.SendText("hello again"))
	text, err := b.clip.ReadText()
	require.NoError(t, err)
	assert.Equal(t, "hello again", text)

	a.ctrl.Disconnect()
	b.ctrl.Disconnect()
}

func TestDisconnectIsIdempotentWhenNeverConnected(t *testing.T) {
	a := newHarness(t, "device-a")
	a.ctrl.Disconnect()
	assert.Equal(t, Disconnected, a.ctrl.State().Kind)
}
