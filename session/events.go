// Package session implements the single-reader dispatch loop that
// consumes an encrypted transport, replies to protocol requests, drives
// image reassembly, and completes pending outbound ACK waits.
package session

import (
	"encoding/json"
	"sync"
)

// EventKind identifies an observable event emitted by a session or
// controller for consumption by a UI layer.
type EventKind int

const (
	EventServerStarted EventKind = iota
	EventDeviceConnected
	EventDeviceDisconnected
	EventHandshakeFailed
	EventHandshakeRejected
	EventClipboardReceived
	EventClipboardSent
	EventImageTransferStarted
	EventImageTransferProgress
	EventImageReceived
	EventImageSent
	EventImageTransferFailed
	EventDeviceInfoReceived
	EventRemoteError
)

func (k EventKind) String() string {
	switch k {
	case EventServerStarted:
		return "ServerStarted"
	case EventDeviceConnected:
		return "DeviceConnected"
	case EventDeviceDisconnected:
		return "DeviceDisconnected"
	case EventHandshakeFailed:
		return "HandshakeFailed"
	case EventHandshakeRejected:
		return "HandshakeRejected"
	case EventClipboardReceived:
		return "ClipboardReceived"
	case EventClipboardSent:
		return "ClipboardSent"
	case EventImageTransferStarted:
		return "ImageTransferStarted"
	case EventImageTransferProgress:
		return "ImageTransferProgress"
	case EventImageReceived:
		return "ImageReceived"
	case EventImageSent:
		return "ImageSent"
	case EventImageTransferFailed:
		return "ImageTransferFailed"
	case EventDeviceInfoReceived:
		return "DeviceInfoReceived"
	case EventRemoteError:
		return "RemoteError"
	default:
		return "Unknown"
	}
}

// Event is an observable notification. Which fields are populated
// depends on Kind; unused fields are left at their zero value.
type Event struct {
	Kind EventKind `json:"-"`

	DeviceName  string `json:"deviceName,omitempty"`
	PairingCode string `json:"pairingCode,omitempty"`
	Port        int    `json:"port,omitempty"`
	Text        string `json:"text,omitempty"`
	Reason      string `json:"reason,omitempty"`
	BytesSent   int    `json:"bytesSent,omitempty"`
	BytesTotal  int    `json:"bytesTotal,omitempty"`
}

// MarshalJSON renders Kind as its name rather than its integer value, so
// the /events websocket stream is self-describing without a client-side
// lookup table.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	return json.Marshal(struct {
		Kind string `json:"kind"`
		alias
	}{Kind: e.Kind.String(), alias: alias(e)})
}

// Bus is a mutex-guarded set of event subscribers. Subscribers register a
// callback with On and are invoked synchronously, in registration order,
// whenever Emit is called — the same callback-registration idiom this
// codebase uses elsewhere for notifying interested parties, rather than a
// broadcast channel.
type Bus struct {
	mu   sync.RWMutex
	subs []func(Event)
}

// On registers a callback to be invoked for every future Emit.
func (b *Bus) On(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

// Emit invokes every registered subscriber with ev. Subscribers are
// invoked outside of the bus's own lock so a subscriber may itself call
// On or Emit without deadlocking.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	subs := make([]func(Event), len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}
