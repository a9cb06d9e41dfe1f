package session

import (
	"context"
	"fmt"

	"github.com/littledino2112/universal-clipboard/wire"
)

// Writer is the single goroutine permitted to touch a session's sending
// cipher. Every other goroutine that needs to put a message on the wire —
// the dispatcher replying to a request, the controller sending a user
// text/image, the keepalive ticker sending a PING — submits through Send,
// which serializes onto an internal channel drained by Run.
type Writer struct {
	transport EncryptedSender
	outbox    chan writeRequest
	metrics   Metrics
}

// EncryptedSender is the subset of *wire.EncryptedTransport the writer
// depends on; narrowed to ease testing.
type EncryptedSender interface {
	Send(plaintext []byte) error
}

type writeRequest struct {
	msg    wire.Message
	result chan error
}

// NewWriter constructs a Writer over the given sending transport. The
// outbox is buffered so several producers can queue requests at once;
// each Send still waits until its own message has been sent.
func NewWriter(transport EncryptedSender) *Writer {
	return &Writer{transport: transport, outbox: make(chan writeRequest, 64), metrics: noopMetrics{}}
}

// SetMetrics wires m as the destination for outbound byte counts. Safe to
// call before Run starts; nil is ignored.
func (w *Writer) SetMetrics(m Metrics) {
	if m == nil {
		return
	}
	w.metrics = m
}

// Run drains the outbox until ctx is cancelled, encoding and sending each
// submitted message in order.
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case req := <-w.outbox:
			req.result <- w.sendNow(req.msg)
		case <-ctx.Done():
			w.drain(ctx.Err())
			return
		}
	}
}

func (w *Writer) sendNow(msg wire.Message) error {
	encoded, err := wire.Encode(msg)
	if err != nil {
		return fmt.Errorf("session: encode outbound message: %w", err)
	}
	if err := w.transport.Send(encoded); err != nil {
		return fmt.Errorf("session: send outbound message: %w", err)
	}
	w.metrics.BytesSent(len(encoded))
	return nil
}

// drain fails any requests still queued once Run is stopping, so callers
// blocked in Send are never left waiting forever.
func (w *Writer) drain(cause error) {
	for {
		select {
		case req := <-w.outbox:
			req.result <- cause
		default:
			return
		}
	}
}

// Send submits msg for sending and blocks until it has been handed to the
// transport or ctx is done. A request still queued when Run stops fails
// with Run's cause; a Send made after Run has returned waits for ctx.
func (w *Writer) Send(ctx context.Context, msg wire.Message) error {
	result := make(chan error, 1)
	select {
	case w.outbox <- writeRequest{msg: msg, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
