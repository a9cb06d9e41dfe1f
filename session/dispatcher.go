package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/littledino2112/universal-clipboard/clipboard"
	"github.com/littledino2112/universal-clipboard/wire"
)

// EncryptedReceiver is the subset of *wire.EncryptedTransport the
// dispatcher depends on; narrowed to ease testing.
type EncryptedReceiver interface {
	Recv() ([]byte, error)
}

// ErrAckAlreadyPending is returned by BeginTextAck/BeginImageAck when a
// send of that kind is already awaiting acknowledgment.
var ErrAckAlreadyPending = errors.New("session: an acknowledgment is already pending")

type reassembly struct {
	buf       []byte
	total     int
	width     int
	height    int
	mime      string
	startedAt time.Time
}

// Dispatcher is the single reader of a session's encrypted transport. It
// classifies every inbound message, replies to protocol requests through
// a Writer, completes pending outbound ACK waits, and drives image
// reassembly. Only one goroutine should ever call Run for a given
// Dispatcher.
type Dispatcher struct {
	transport EncryptedReceiver
	writer    *Writer
	clip      clipboard.Clipboard
	bus       *Bus
	metrics   Metrics

	mu           sync.Mutex
	remoteName   string
	pendingText  chan error
	pendingImage chan error
	reasm        *reassembly
}

// NewDispatcher constructs a Dispatcher. writer is used to send replies;
// it is expected to already be running via Writer.Run in another
// goroutine.
func NewDispatcher(transport EncryptedReceiver, writer *Writer, clip clipboard.Clipboard, bus *Bus) *Dispatcher {
	return &Dispatcher{transport: transport, writer: writer, clip: clip, bus: bus, metrics: noopMetrics{}}
}

// SetMetrics wires m as the destination for inbound byte counts and image
// transfer durations. Safe to call before Run starts; nil is ignored.
func (d *Dispatcher) SetMetrics(m Metrics) {
	if m == nil {
		return
	}
	d.metrics = m
}

// BeginTextAck installs the at-most-one pending text-ACK slot and returns
// a channel that receives nil on CLIPBOARD_ACK or a non-nil error if the
// session ends first.
func (d *Dispatcher) BeginTextAck() (<-chan error, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pendingText != nil {
		return nil, ErrAckAlreadyPending
	}
	ch := make(chan error, 1)
	d.pendingText = ch
	return ch, nil
}

// BeginImageAck installs the at-most-one pending image-ACK slot.
func (d *Dispatcher) BeginImageAck() (<-chan error, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pendingImage != nil {
		return nil, ErrAckAlreadyPending
	}
	ch := make(chan error, 1)
	d.pendingImage = ch
	return ch, nil
}

// RemoteDeviceName returns the name last learned from a DEVICE_INFO
// message, or "" if none has arrived yet.
func (d *Dispatcher) RemoteDeviceName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remoteName
}

// Run reads and dispatches messages until the transport fails or ctx is
// cancelled, then fails any still-pending ACK waits and returns the
// terminal error.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		plaintext, err := d.transport.Recv()
		if err != nil {
			terminal := fmt.Errorf("session: dispatcher stopped: %w", err)
			d.terminate(terminal)
			return terminal
		}
		d.metrics.BytesReceived(len(plaintext))

		msg, err := wire.Decode(plaintext)
		if err != nil {
			terminal := fmt.Errorf("session: protocol violation: %w", err)
			d.terminate(terminal)
			return terminal
		}

		if err := d.handle(ctx, msg); err != nil {
			d.terminate(err)
			return err
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg wire.Message) error {
	logrus.WithFields(logrus.Fields{
		"function": "Dispatcher.handle",
		"type":     msg.Type.String(),
	}).Debug("dispatching inbound message")

	switch msg.Type {
	case wire.ClipboardSend:
		return d.handleClipboardSend(ctx, msg)
	case wire.Ping:
		return d.reply(ctx, wire.NewPong())
	case wire.Pong:
		return nil
	case wire.DeviceInfo:
		return d.handleDeviceInfo(msg)
	case wire.ClipboardAck:
		d.completeText(nil)
		return nil
	case wire.ImageAck:
		d.completeImage(nil)
		return nil
	case wire.ErrorMessage:
		return d.handleRemoteError(msg)
	case wire.ImageSendStart:
		return d.handleImageStart(ctx, msg)
	case wire.ImageChunk:
		return d.handleImageChunk(ctx, msg)
	case wire.ImageSendEnd:
		return d.handleImageEnd(ctx, msg)
	default:
		return fmt.Errorf("session: unexpected message type %s", msg.Type)
	}
}

func (d *Dispatcher) handleClipboardSend(ctx context.Context, msg wire.Message) error {
	text := string(msg.Payload)
	if err := d.clip.WriteText(text); err != nil {
		return d.reply(ctx, wire.NewError(fmt.Sprintf("clipboard error: %v", err)))
	}
	if err := d.reply(ctx, wire.NewClipboardAck()); err != nil {
		return err
	}
	d.bus.Emit(Event{Kind: EventClipboardReceived, Text: text})
	return nil
}

func (d *Dispatcher) handleDeviceInfo(msg wire.Message) error {
	info, err := wire.DecodeDeviceInfo(msg.Payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{"function": "Dispatcher.handleDeviceInfo"}).Warn("ignoring malformed device info: ", err)
		return nil
	}
	d.mu.Lock()
	d.remoteName = info.Name
	d.mu.Unlock()
	d.bus.Emit(Event{Kind: EventDeviceInfoReceived, DeviceName: info.Name})
	return nil
}

func (d *Dispatcher) handleRemoteError(msg wire.Message) error {
	text := string(msg.Payload)
	logrus.WithFields(logrus.Fields{"function": "Dispatcher.handleRemoteError"}).Warn("remote reported error: ", text)
	d.mu.Lock()
	hadReassembly := d.reasm != nil
	d.reasm = nil
	d.mu.Unlock()
	if hadReassembly {
		d.bus.Emit(Event{Kind: EventImageTransferFailed, Reason: "remote error: " + text})
	}
	d.bus.Emit(Event{Kind: EventRemoteError, Reason: text})
	return nil
}

func (d *Dispatcher) handleImageStart(ctx context.Context, msg wire.Message) error {
	start, err := wire.DecodeImageStart(msg.Payload)
	if err != nil {
		return d.reply(ctx, wire.NewError("malformed image start"))
	}

	d.mu.Lock()
	alreadyActive := d.reasm != nil
	var invalid bool
	if !alreadyActive {
		if start.TotalBytes <= 0 || start.TotalBytes > wire.MaxImageBytes {
			invalid = true
		} else {
			d.reasm = &reassembly{
				total:     start.TotalBytes,
				width:     start.Width,
				height:    start.Height,
				mime:      start.MimeType,
				buf:       make([]byte, 0, start.TotalBytes),
				startedAt: time.Now(),
			}
		}
	}
	d.mu.Unlock()

	if alreadyActive || invalid {
		return d.reply(ctx, wire.NewError("image transfer rejected"))
	}

	d.bus.Emit(Event{Kind: EventImageTransferStarted, BytesTotal: start.TotalBytes})
	return nil
}

func (d *Dispatcher) handleImageChunk(ctx context.Context, msg wire.Message) error {
	d.mu.Lock()
	if d.reasm == nil {
		d.mu.Unlock()
		return d.reply(ctx, wire.NewError("no image transfer in progress"))
	}

	newLen := len(d.reasm.buf) + len(msg.Payload)
	if newLen > d.reasm.total || newLen > wire.MaxImageBytes {
		d.reasm = nil
		d.mu.Unlock()
		if err := d.reply(ctx, wire.NewError("image exceeds declared size")); err != nil {
			return err
		}
		d.bus.Emit(Event{Kind: EventImageTransferFailed, Reason: "cumulative exceeds declared"})
		return nil
	}
	d.reasm.buf = append(d.reasm.buf, msg.Payload...)
	sent := len(d.reasm.buf)
	total := d.reasm.total
	d.mu.Unlock()

	d.bus.Emit(Event{Kind: EventImageTransferProgress, BytesSent: sent, BytesTotal: total})
	return nil
}

func (d *Dispatcher) handleImageEnd(ctx context.Context, _ wire.Message) error {
	d.mu.Lock()
	state := d.reasm
	d.reasm = nil
	d.mu.Unlock()

	if state == nil {
		return d.reply(ctx, wire.NewError("no image transfer in progress"))
	}

	if err := d.clip.WriteImagePNG(state.buf); err != nil {
		if err := d.reply(ctx, wire.NewError(fmt.Sprintf("clipboard error: %v", err))); err != nil {
			return err
		}
		d.bus.Emit(Event{Kind: EventImageTransferFailed, Reason: err.Error()})
		return nil
	}

	if err := d.reply(ctx, wire.NewImageAck()); err != nil {
		return err
	}
	d.metrics.ImageTransferObserved(time.Since(state.startedAt))
	d.bus.Emit(Event{Kind: EventImageReceived, BytesTotal: len(state.buf)})
	return nil
}

func (d *Dispatcher) reply(ctx context.Context, msg wire.Message) error {
	if err := d.writer.Send(ctx, msg); err != nil {
		return fmt.Errorf("session: reply send failed: %w", err)
	}
	return nil
}

func (d *Dispatcher) completeText(err error) {
	d.mu.Lock()
	ch := d.pendingText
	d.pendingText = nil
	d.mu.Unlock()
	if ch == nil {
		logrus.WithFields(logrus.Fields{"function": "Dispatcher.completeText"}).Warn("ignoring ACK with no pending send")
		return
	}
	ch <- err
}

func (d *Dispatcher) completeImage(err error) {
	d.mu.Lock()
	ch := d.pendingImage
	d.pendingImage = nil
	d.mu.Unlock()
	if ch == nil {
		logrus.WithFields(logrus.Fields{"function": "Dispatcher.completeImage"}).Warn("ignoring image ACK with no pending send")
		return
	}
	ch <- err
}

// terminate fails any pending ACK waits and drops reassembly state once
// the dispatch loop is exiting. Unlike completeText/completeImage, it
// does not warn when nothing was pending — that is the common case on a
// clean shutdown.
func (d *Dispatcher) terminate(cause error) {
	d.mu.Lock()
	textCh := d.pendingText
	imageCh := d.pendingImage
	d.pendingText = nil
	d.pendingImage = nil
	d.reasm = nil
	d.mu.Unlock()

	if textCh != nil {
		textCh <- cause
	}
	if imageCh != nil {
		imageCh <- cause
	}
}
