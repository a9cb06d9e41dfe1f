package controller

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/littledino2112/universal-clipboard/crypto"
	noisehs "github.com/littledino2112/universal-clipboard/noise"
	"github.com/littledino2112/universal-clipboard/session"
	"github.com/littledino2112/universal-clipboard/store"
)

// pairingWindow guards the code a freshly-displayed pairing QR/number is
// valid for an incoming connection.
type pairingWindow struct {
	mu   sync.Mutex
	code string
}

func (w *pairingWindow) set(code string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.code = code
}

func (w *pairingWindow) clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.code = ""
}

func (w *pairingWindow) get() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.code
}

// BeginPairing opens this device to accept one incoming XXpsk0 pairing
// using code, generated by a prior call to crypto.GeneratePairingCode and
// displayed to the user. The window stays open until EndPairing is
// called or a successful pairing handshake consumes it; a failed attempt
// leaves it open.
func (c *Controller) BeginPairing(code string) {
	c.pairing.set(code)
}

// EndPairing closes the pairing window without waiting for an attempt.
func (c *Controller) EndPairing() {
	c.pairing.clear()
}

// Serve accepts connections on ln until ctx is cancelled, handling each on
// its own goroutine. It never returns a non-nil error for an orderly
// shutdown (ctx cancellation closing ln).
func (c *Controller) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("controller: accept: %w", err)
			}
		}
		go c.handleAccepted(conn)
	}
}

func (c *Controller) handleAccepted(conn net.Conn) {
	if err := conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		conn.Close()
		return
	}

	prologue := make([]byte, 1)
	if _, err := io.ReadFull(conn, prologue); err != nil {
		logrus.WithFields(logrus.Fields{"function": "Controller.handleAccepted"}).Warn("failed to read prologue: ", err)
		conn.Close()
		return
	}

	switch prologue[0] {
	case prologuePairing:
		c.acceptPairing(conn)
	case prologueReconnect:
		c.acceptReconnect(conn)
	default:
		logrus.WithFields(logrus.Fields{"function": "Controller.handleAccepted"}).Warn("unknown prologue byte: ", prologue[0])
		conn.Close()
	}
}

func (c *Controller) acceptPairing(conn net.Conn) {
	code := c.pairing.get()
	if code == "" {
		logrus.WithFields(logrus.Fields{"function": "Controller.acceptPairing"}).Warn("rejecting pairing attempt: no pairing window open")
		conn.Close()
		return
	}

	psk, err := crypto.DerivePSK(code)
	if err != nil {
		conn.Close()
		return
	}

	hs, err := noisehs.NewPairingHandshake(c.identity, psk, noisehs.Responder)
	if err != nil {
		conn.Close()
		return
	}

	c.metrics.HandshakeAttempt("pairing")
	send, recv, remoteStatic, err := runResponderPairing(conn, hs)
	if err != nil {
		logrus.WithFields(logrus.Fields{"function": "Controller.acceptPairing"}).Warn("pairing handshake failed: ", err)
		c.metrics.HandshakeFailure("pairing")
		c.bus.Emit(session.Event{Kind: session.EventHandshakeFailed, Reason: err.Error()})
		conn.Close()
		return
	}
	c.pairing.clear()

	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return
	}

	peerName, err := c.exchangeDeviceInfo(conn, send, recv)
	if err != nil {
		conn.Close()
		return
	}

	host, port := splitHostPort(conn.RemoteAddr())
	if err := c.store.SaveDevice(store.Device{Name: peerName, PublicKey: pubKeyArray(remoteStatic), Host: host, Port: port}); err != nil {
		logrus.WithFields(logrus.Fields{"function": "Controller.acceptPairing"}).Warn("failed to save paired device: ", err)
	}

	c.beginSession(conn, send, recv, peerName, remoteStatic, host, port, true)
}

func (c *Controller) acceptReconnect(conn net.Conn) {
	claimedKey := make([]byte, 32)
	if _, err := io.ReadFull(conn, claimedKey); err != nil {
		logrus.WithFields(logrus.Fields{"function": "Controller.acceptReconnect"}).Warn("failed to read peer identity: ", err)
		conn.Close()
		return
	}

	dev, found, err := c.store.FindDeviceByKey(claimedKey)
	if err != nil || !found {
		logrus.WithFields(logrus.Fields{"function": "Controller.acceptReconnect"}).Warn("rejecting reconnect from unknown device")
		c.bus.Emit(session.Event{Kind: session.EventHandshakeRejected, Reason: "unknown device key"})
		conn.Close()
		return
	}

	hs, err := noisehs.NewReconnectHandshake(c.identity, claimedKey, noisehs.Responder)
	if err != nil {
		conn.Close()
		return
	}

	c.metrics.HandshakeAttempt("reconnect")
	send, recv, err := runResponderReconnect(conn, hs)
	if err != nil {
		logrus.WithFields(logrus.Fields{"function": "Controller.acceptReconnect"}).Warn("reconnect handshake failed: ", err)
		c.metrics.HandshakeFailure("reconnect")
		c.bus.Emit(session.Event{Kind: session.EventHandshakeFailed, Reason: err.Error()})
		conn.Close()
		return
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return
	}

	peerName, err := c.exchangeDeviceInfo(conn, send, recv)
	if err != nil {
		peerName = dev.Name
	}

	host, port := splitHostPort(conn.RemoteAddr())
	if err := c.store.SaveDevice(store.Device{Name: peerName, PublicKey: pubKeyArray(claimedKey), Host: host, Port: port}); err != nil {
		logrus.WithFields(logrus.Fields{"function": "Controller.acceptReconnect"}).Warn("failed to refresh paired device: ", err)
	}

	c.beginSession(conn, send, recv, peerName, claimedKey, host, port, true)
}

func splitHostPort(addr net.Addr) (string, int) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return "", 0
	}
	return tcpAddr.IP.String(), tcpAddr.Port
}
