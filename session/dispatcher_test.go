package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/littledino2112/universal-clipboard/clipboard"
	"github.com/littledino2112/universal-clipboard/wire"
)

// fakeTransport feeds a scripted sequence of inbound plaintexts to Recv
// and records every outbound plaintext handed to Send.
type fakeTransport struct {
	mu      sync.Mutex
	inbound [][]byte
	idx     int

	sent []wire.Message
}

func newFakeTransport(messages ...wire.Message) *fakeTransport {
	f := &fakeTransport{}
	for _, m := range messages {
		encoded, err := wire.Encode(m)
		if err != nil {
			panic(err)
		}
		f.inbound = append(f.inbound, encoded)
	}
	return f
}

var errNoMoreMessages = errors.New("fake transport: exhausted")

func (f *fakeTransport) Recv() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.inbound) {
		return nil, errNoMoreMessages
	}
	msg := f.inbound[f.idx]
	f.idx++
	return msg, nil
}

func (f *fakeTransport) Send(plaintext []byte) error {
	msg, err := wire.Decode(plaintext)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Sent() []wire.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

func setup(messages ...wire.Message) (*Dispatcher, *fakeTransport, *clipboard.MemoryClipboard, *Bus, context.Context, context.CancelFunc) {
	ft := newFakeTransport(messages...)
	clip := clipboard.NewMemoryClipboard()
	bus := &Bus{}
	writer := NewWriter(ft)
	ctx, cancel := context.WithCancel(context.Background())
	go writer.Run(ctx)
	d := NewDispatcher(ft, writer, clip, bus)
	return d, ft, clip, bus, ctx, cancel
}

func TestDispatcherRepliesToClipboardSend(t *testing.T) {
	d, ft, clip, bus, ctx, cancel := setup(wire.NewClipboardSend("hello there"))
	defer cancel()

	var events []Event
	bus.On(func(e Event) { events = append(events, e) })

	err := d.Run(ctx)
	assert.ErrorIs(t, err, errNoMoreMessages)

	text, rerr := clip.ReadText()
	require.NoError(t, rerr)
	assert.Equal(t, "hello there", text)

	sent := ft.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, wire.ClipboardAck, sent[0].Type)

	require.Len(t, events, 1)
	assert.Equal(t, EventClipboardReceived, events[0].Kind)
}

func TestDispatcherRepliesToPing(t *testing.T) {
	d, ft, _, _, ctx, cancel := setup(wire.NewPing())
	defer cancel()

	_ = d.Run(ctx)

	sent := ft.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, wire.Pong, sent[0].Type)
}

func TestDispatcherCompletesTextAckOnClipboardAck(t *testing.T) {
	d, _, _, _, ctx, cancel := setup(wire.NewClipboardAck())
	defer cancel()

	waitCh, err := d.BeginTextAck()
	require.NoError(t, err)

	_ = d.Run(ctx)

	select {
	case ackErr := <-waitCh:
		assert.NoError(t, ackErr)
	default:
		t.Fatal("expected text ack to complete")
	}
}

func TestDispatcherRejectsSecondPendingTextAck(t *testing.T) {
	d, _, _, _, _, cancel := setup()
	defer cancel()

	_, err := d.BeginTextAck()
	require.NoError(t, err)

	_, err = d.BeginTextAck()
	assert.ErrorIs(t, err, ErrAckAlreadyPending)
}

func TestDispatcherImageTransferFullFlow(t *testing.T) {
	start, err := wire.EncodeImageStart(wire.ImageStartPayload{Width: 2, Height: 2, TotalBytes: 6, MimeType: "image/png"})
	require.NoError(t, err)
	chunk1 := wire.NewImageChunk([]byte{1, 2, 3})
	chunk2 := wire.NewImageChunk([]byte{4, 5, 6})
	end := wire.NewImageSendEnd()

	d, ft, clip, bus, ctx, cancel := setup(start, chunk1, chunk2, end)
	defer cancel()

	var events []Event
	bus.On(func(e Event) { events = append(events, e) })

	_ = d.Run(ctx)

	img, rerr := clip.ReadImagePNG()
	require.NoError(t, rerr)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, img)

	sent := ft.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, wire.ImageAck, sent[0].Type)

	var kinds []EventKind
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, EventImageTransferStarted)
	assert.Contains(t, kinds, EventImageTransferProgress)
	assert.Contains(t, kinds, EventImageReceived)
}

func TestDispatcherRejectsOverflowingImageChunk(t *testing.T) {
	start, err := wire.EncodeImageStart(wire.ImageStartPayload{Width: 1, Height: 1, TotalBytes: 2, MimeType: "image/png"})
	require.NoError(t, err)
	chunk := wire.NewImageChunk([]byte{1, 2, 3, 4})

	d, ft, _, bus, ctx, cancel := setup(start, chunk)
	defer cancel()

	var events []Event
	bus.On(func(e Event) { events = append(events, e) })

	_ = d.Run(ctx)

	sent := ft.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, wire.ErrorMessage, sent[0].Type)

	var failed bool
	for _, e := range events {
		if e.Kind == EventImageTransferFailed {
			failed = true
		}
	}
	assert.True(t, failed)
}

func TestDispatcherRejectsConcurrentImageStart(t *testing.T) {
	start1, err := wire.EncodeImageStart(wire.ImageStartPayload{Width: 1, Height: 1, TotalBytes: 100, MimeType: "image/png"})
	require.NoError(t, err)
	start2, err := wire.EncodeImageStart(wire.ImageStartPayload{Width: 1, Height: 1, TotalBytes: 100, MimeType: "image/png"})
	require.NoError(t, err)

	d, ft, _, _, ctx, cancel := setup(start1, start2)
	defer cancel()

	_ = d.Run(ctx)

	// A valid first start is accepted silently; only the second gets a reply.
	sent := ft.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, wire.ErrorMessage, sent[0].Type)
}

func TestDispatcherTerminationFailsPendingAcks(t *testing.T) {
	d, _, _, _, ctx, cancel := setup()
	defer cancel()

	textCh, err := d.BeginTextAck()
	require.NoError(t, err)
	imageCh, err := d.BeginImageAck()
	require.NoError(t, err)

	runErr := d.Run(ctx)
	assert.Error(t, runErr)

	assert.Error(t, <-textCh)
	assert.Error(t, <-imageCh)
}
