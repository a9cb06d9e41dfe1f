package controller

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	flynnnoise "github.com/flynn/noise"
	"github.com/sirupsen/logrus"

	"github.com/littledino2112/universal-clipboard/clipboard"
	"github.com/littledino2112/universal-clipboard/crypto"
	noisehs "github.com/littledino2112/universal-clipboard/noise"
	"github.com/littledino2112/universal-clipboard/session"
	"github.com/littledino2112/universal-clipboard/store"
	"github.com/littledino2112/universal-clipboard/wire"
)

const (
	dialTimeout        = 10 * time.Second
	handshakeTimeout   = 10 * time.Second
	keepaliveInterval  = 30 * time.Second
	textAckTimeout     = 5 * time.Second
	reconnectDelay     = 3 * time.Second
	maxReconnectTries  = 3
)

// HandshakeFailedError wraps a Noise handshake failure (bad PSK or a
// tampered message). Frame read/write errors during the handshake, such as
// a responder closing the connection on an unknown reconnecting key, are
// returned as plain wrapped errors instead.
type HandshakeFailedError struct{ Cause error }

func (e *HandshakeFailedError) Error() string { return fmt.Sprintf("handshake failed: %v", e.Cause) }
func (e *HandshakeFailedError) Unwrap() error  { return e.Cause }

// Controller drives the initiator side of the connection lifecycle:
// pairing, reconnection, sending, disconnection, keepalive, and bounded
// auto-reconnect. At most one session is active at a time.
type Controller struct {
	identity   *crypto.KeyPair
	deviceName string
	clip       clipboard.Clipboard
	store      *store.Store
	bus        *session.Bus
	state      stateHolder
	pairing    pairingWindow
	metrics    MetricsRecorder

	mu            sync.Mutex
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	transport     *wire.EncryptedTransport
	writer        *session.Writer
	dispatcher    *session.Dispatcher
	autoReconnect bool
	userDisconnect bool
	peerName      string
	peerPublicKey []byte
	peerHost      string
	peerPort      int
	reconnectSeq  uint64
}

// New constructs a Controller. deviceName is this device's display name,
// exchanged via DEVICE_INFO once a session is established.
func New(identity *crypto.KeyPair, deviceName string, clip clipboard.Clipboard, st *store.Store, bus *session.Bus) *Controller {
	return &Controller{identity: identity, deviceName: deviceName, clip: clip, store: st, bus: bus, metrics: noopMetrics{}}
}

// SetMetrics wires m as the destination for handshake, reconnect, and
// transfer counters across this controller and the sessions it begins.
// Safe to call once before Serve or any Connect/Reconnect; nil is ignored.
func (c *Controller) SetMetrics(m MetricsRecorder) {
	if m == nil {
		return
	}
	c.metrics = m
}

// State returns the current observable connection state.
func (c *Controller) State() State { return c.state.get() }

// OnStateChange registers a callback invoked on every state transition.
func (c *Controller) OnStateChange(fn func(State)) { c.state.onChange(fn) }

// ConnectWithPairing dials host:port, performs the XXpsk0 pairing
// handshake using the pre-shared code, and on success saves the paired
// device and begins the session.
func (c *Controller) ConnectWithPairing(host string, port int, code string) error {
	c.state.set(State{Kind: Connecting})

	psk, err := crypto.DerivePSK(code)
	if err != nil {
		c.state.set(State{Kind: ErrorState, Message: err.Error()})
		return fmt.Errorf("controller: derive psk: %w", err)
	}

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), dialTimeout)
	if err != nil {
		c.state.set(State{Kind: ErrorState, Message: err.Error()})
		return fmt.Errorf("controller: dial: %w", err)
	}

	if err := conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		conn.Close()
		return fmt.Errorf("controller: set handshake deadline: %w", err)
	}

	if _, err := conn.Write([]byte{prologuePairing}); err != nil {
		conn.Close()
		c.state.set(State{Kind: ErrorState, Message: err.Error()})
		return fmt.Errorf("controller: write prologue: %w", err)
	}

	hs, err := noisehs.NewPairingHandshake(c.identity, psk, noisehs.Initiator)
	if err != nil {
		conn.Close()
		return fmt.Errorf("controller: new pairing handshake: %w", err)
	}

	c.metrics.HandshakeAttempt("pairing")
	send, recv, remoteStatic, err := runInitiatorPairing(conn, hs)
	if err != nil {
		conn.Close()
		c.metrics.HandshakeFailure("pairing")
		c.bus.Emit(session.Event{Kind: session.EventHandshakeFailed, Reason: err.Error()})
		c.state.set(State{Kind: ErrorState, Message: err.Error()})
		return err
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return fmt.Errorf("controller: clear deadline: %w", err)
	}

	peerName, err := c.exchangeDeviceInfo(conn, send, recv)
	if err != nil {
		conn.Close()
		c.state.set(State{Kind: ErrorState, Message: err.Error()})
		return err
	}

	if err := c.store.SaveDevice(store.Device{Name: peerName, PublicKey: pubKeyArray(remoteStatic), Host: host, Port: port}); err != nil {
		logrus.WithFields(logrus.Fields{"function": "ConnectWithPairing"}).Warn("failed to save paired device: ", err)
	}

	c.beginSession(conn, send, recv, peerName, remoteStatic, host, port, false)
	return nil
}

// Reconnect dials host:port and performs the KK reconnection handshake
// against a previously paired device identified by deviceName and
// remotePublicKey. isAuto distinguishes an automatic retry (state becomes
// Reconnecting) from a user-initiated reconnect (state becomes
// Connecting).
func (c *Controller) Reconnect(host string, port int, deviceName string, remotePublicKey []byte, isAuto bool) error {
	if isAuto {
		c.state.set(State{Kind: Reconnecting, DeviceName: deviceName})
	} else {
		c.state.set(State{Kind: Connecting})
	}

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), dialTimeout)
	if err != nil {
		c.state.set(State{Kind: ErrorState, Message: err.Error()})
		return fmt.Errorf("controller: dial: %w", err)
	}

	if err := conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		conn.Close()
		return fmt.Errorf("controller: set handshake deadline: %w", err)
	}

	prologue := append([]byte{prologueReconnect}, c.identity.Public[:]...)
	if _, err := conn.Write(prologue); err != nil {
		conn.Close()
		c.state.set(State{Kind: ErrorState, Message: err.Error()})
		return fmt.Errorf("controller: write prologue: %w", err)
	}

	hs, err := noisehs.NewReconnectHandshake(c.identity, remotePublicKey, noisehs.Initiator)
	if err != nil {
		conn.Close()
		return fmt.Errorf("controller: new reconnect handshake: %w", err)
	}

	c.metrics.HandshakeAttempt("reconnect")
	send, recv, err := runInitiatorReconnect(conn, hs)
	if err != nil {
		conn.Close()
		c.metrics.HandshakeFailure("reconnect")
		c.bus.Emit(session.Event{Kind: session.EventHandshakeFailed, Reason: err.Error()})
		c.state.set(State{Kind: ErrorState, Message: err.Error()})
		return err
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return fmt.Errorf("controller: clear deadline: %w", err)
	}

	peerName, err := c.exchangeDeviceInfo(conn, send, recv)
	if err != nil {
		peerName = deviceName
	}

	if err := c.store.SaveDevice(store.Device{Name: peerName, PublicKey: pubKeyArray(remotePublicKey), Host: host, Port: port}); err != nil {
		logrus.WithFields(logrus.Fields{"function": "Reconnect"}).Warn("failed to refresh paired device: ", err)
	}

	c.beginSession(conn, send, recv, peerName, remotePublicKey, host, port, false)
	return nil
}

// exchangeDeviceInfo sends this device's name and synchronously waits for
// the peer's, before any long-running reader/writer goroutines exist.
func (c *Controller) exchangeDeviceInfo(conn net.Conn, send, recv *flynnnoise.CipherState) (string, error) {
	et := wire.NewEncryptedTransport(conn, send, recv)

	ours, err := wire.EncodeDeviceInfo(c.deviceName)
	if err != nil {
		return "", fmt.Errorf("controller: encode device info: %w", err)
	}
	encoded, err := wire.Encode(ours)
	if err != nil {
		return "", fmt.Errorf("controller: encode device info message: %w", err)
	}
	if err := et.Send(encoded); err != nil {
		return "", fmt.Errorf("controller: send device info: %w", err)
	}

	plaintext, err := et.Recv()
	if err != nil {
		return "", fmt.Errorf("controller: recv device info: %w", err)
	}
	msg, err := wire.Decode(plaintext)
	if err != nil {
		return "", fmt.Errorf("controller: decode device info: %w", err)
	}
	if msg.Type != wire.DeviceInfo {
		return "", fmt.Errorf("controller: expected device info, got %s", msg.Type)
	}
	info, err := wire.DecodeDeviceInfo(msg.Payload)
	if err != nil {
		return "", fmt.Errorf("controller: parse device info: %w", err)
	}
	return info.Name, nil
}

// beginSession starts the writer, dispatcher, and keepalive goroutines
// for a freshly established connection and transitions to Connected.
func (c *Controller) beginSession(conn net.Conn, send, recv *flynnnoise.CipherState, peerName string, peerPublicKey []byte, host string, port int, fromResponder bool) {
	et := wire.NewEncryptedTransport(conn, send, recv)
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.cancel = cancel
	c.autoReconnect = true
	c.userDisconnect = false
	c.peerName = peerName
	c.peerPublicKey = peerPublicKey
	c.peerHost = host
	c.peerPort = port
	writer := session.NewWriter(et)
	writer.SetMetrics(c.metrics)
	dispatcher := session.NewDispatcher(et, writer, c.clip, c.bus)
	dispatcher.SetMetrics(c.metrics)
	c.transport = et
	c.writer = writer
	c.dispatcher = dispatcher
	seq := c.reconnectSeq
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		writer.Run(ctx)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := dispatcher.Run(ctx)
		c.onSessionEnded(err, seq)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.keepaliveLoop(ctx, writer)
	}()

	c.state.set(State{Kind: Connected, DeviceName: peerName})
	c.bus.Emit(session.Event{Kind: session.EventDeviceConnected, DeviceName: peerName})

	logrus.WithFields(logrus.Fields{
		"function":       "Controller.beginSession",
		"peer":           peerName,
		"fromResponder":  fromResponder,
	}).Info("session established")
}

func (c *Controller) keepaliveLoop(ctx context.Context, writer *session.Writer) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := writer.Send(ctx, wire.NewPing()); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// onSessionEnded runs when the dispatcher loop exits, either because the
// transport broke or because Disconnect cancelled the context. It arms
// auto-reconnect unless the user explicitly disconnected.
func (c *Controller) onSessionEnded(cause error, seq uint64) {
	c.mu.Lock()
	stale := seq != c.reconnectSeq
	userDisconnect := c.userDisconnect
	shouldReconnect := c.autoReconnect && !userDisconnect
	host, port, name, pub := c.peerHost, c.peerPort, c.peerName, c.peerPublicKey
	var transport *wire.EncryptedTransport
	if !stale {
		transport = c.transport
		c.transport = nil
	}
	c.mu.Unlock()

	if transport != nil {
		transport.Close()
	}

	if stale {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Controller.onSessionEnded",
		"cause":    cause,
	}).Info("session ended")
	c.bus.Emit(session.Event{Kind: session.EventDeviceDisconnected})

	if !shouldReconnect || host == "" {
		c.state.set(State{Kind: Disconnected})
		return
	}

	go c.runAutoReconnect(host, port, name, pub)
}

func (c *Controller) runAutoReconnect(host string, port int, name string, pub []byte) {
	for attempt := 1; attempt <= maxReconnectTries; attempt++ {
		c.mu.Lock()
		abort := c.userDisconnect
		c.reconnectSeq++
		c.mu.Unlock()
		if abort {
			return
		}

		c.metrics.ReconnectAttempt()
		if err := c.Reconnect(host, port, name, pub, true); err == nil {
			return
		}

		if attempt < maxReconnectTries {
			time.Sleep(reconnectDelay)
		}
	}

	c.mu.Lock()
	abort := c.userDisconnect
	c.mu.Unlock()
	if !abort {
		c.state.set(State{Kind: Disconnected})
	}
}

// SendText requires an active Connected session. It blocks until the
// peer acknowledges or textAckTimeout elapses.
func (c *Controller) SendText(text string) error {
	c.mu.Lock()
	writer, dispatcher := c.writer, c.dispatcher
	c.mu.Unlock()
	if writer == nil || dispatcher == nil {
		return errors.New("controller: not connected")
	}

	waitCh, err := dispatcher.BeginTextAck()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), textAckTimeout)
	defer cancel()

	if err := writer.Send(ctx, wire.NewClipboardSend(text)); err != nil {
		return fmt.Errorf("controller: send text: %w", err)
	}

	select {
	case err := <-waitCh:
		if err == nil {
			c.bus.Emit(session.Event{Kind: session.EventClipboardSent})
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("controller: send text: %w", ctx.Err())
	}
}

// SendImage requires an active Connected session. png must already be
// PNG-encoded image bytes no larger than wire.MaxImageBytes. onProgress,
// if non-nil, is invoked after each chunk is handed to the writer.
func (c *Controller) SendImage(png []byte, width, height int, onProgress func(sent, total int)) error {
	if len(png) > wire.MaxImageBytes {
		return fmt.Errorf("controller: image too large: %d bytes", len(png))
	}

	c.mu.Lock()
	writer, dispatcher := c.writer, c.dispatcher
	c.mu.Unlock()
	if writer == nil || dispatcher == nil {
		return errors.New("controller: not connected")
	}

	waitCh, err := dispatcher.BeginImageAck()
	if err != nil {
		return err
	}

	timeout := 10*time.Second + time.Duration(len(png)/5000)*time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	startMsg, err := wire.EncodeImageStart(wire.ImageStartPayload{
		Width: width, Height: height, TotalBytes: len(png), MimeType: "image/png",
	})
	if err != nil {
		return fmt.Errorf("controller: encode image start: %w", err)
	}
	if err := writer.Send(ctx, startMsg); err != nil {
		return fmt.Errorf("controller: send image start: %w", err)
	}

	sent := 0
	for sent < len(png) {
		end := sent + wire.MaxImageChunkBytes
		if end > len(png) {
			end = len(png)
		}
		if err := writer.Send(ctx, wire.NewImageChunk(png[sent:end])); err != nil {
			return fmt.Errorf("controller: send image chunk: %w", err)
		}
		sent = end
		if onProgress != nil {
			onProgress(sent, len(png))
		}
		c.bus.Emit(session.Event{Kind: session.EventImageTransferProgress, BytesSent: sent, BytesTotal: len(png)})
	}

	if err := writer.Send(ctx, wire.NewImageSendEnd()); err != nil {
		return fmt.Errorf("controller: send image end: %w", err)
	}

	select {
	case err := <-waitCh:
		if err == nil {
			c.bus.Emit(session.Event{Kind: session.EventImageSent})
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("controller: send image: %w", ctx.Err())
	}
}

// Disconnect tears down any active session, disarms auto-reconnect, and
// transitions to Disconnected. Safe to call when already disconnected.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.userDisconnect = true
	c.autoReconnect = false
	cancel := c.cancel
	transport := c.transport
	c.cancel = nil
	c.transport = nil
	c.writer = nil
	c.dispatcher = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// The dispatcher's Recv blocks on the raw connection; cancelling ctx
	// alone cannot unblock a pending read, so closing the transport is
	// what actually ends its goroutine.
	if transport != nil {
		transport.Close()
	}
	c.wg.Wait()
	c.state.set(State{Kind: Disconnected})
}
