package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// MessageType identifies the kind of an application message carried
// inside an encrypted frame.
type MessageType byte

const (
	ClipboardSend   MessageType = 0x01
	ClipboardAck    MessageType = 0x02
	Ping            MessageType = 0x03
	Pong            MessageType = 0x04
	DeviceInfo      MessageType = 0x05
	ErrorMessage    MessageType = 0x06
	ImageSendStart  MessageType = 0x07
	ImageChunk      MessageType = 0x08
	ImageSendEnd    MessageType = 0x09
	ImageAck        MessageType = 0x0A
)

// String renders a MessageType for logging.
func (t MessageType) String() string {
	switch t {
	case ClipboardSend:
		return "CLIPBOARD_SEND"
	case ClipboardAck:
		return "CLIPBOARD_ACK"
	case Ping:
		return "PING"
	case Pong:
		return "PONG"
	case DeviceInfo:
		return "DEVICE_INFO"
	case ErrorMessage:
		return "ERROR"
	case ImageSendStart:
		return "IMAGE_SEND_START"
	case ImageChunk:
		return "IMAGE_CHUNK"
	case ImageSendEnd:
		return "IMAGE_SEND_END"
	case ImageAck:
		return "IMAGE_ACK"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(t))
	}
}

// knownTypes enumerates every message type this codec will decode;
// anything else is a protocol violation.
var knownTypes = map[MessageType]bool{
	ClipboardSend: true, ClipboardAck: true, Ping: true, Pong: true,
	DeviceInfo: true, ErrorMessage: true, ImageSendStart: true,
	ImageChunk: true, ImageSendEnd: true, ImageAck: true,
}

// Message is a single typed application message: header
// [type:1][payload_length:4 BE] followed by the payload.
type Message struct {
	Type    MessageType
	Payload []byte
}

// MaxMessagePayload is the largest payload a single Message can carry
// once the 5-byte header is accounted for within MaxPlaintextLen.
const MaxMessagePayload = MaxPlaintextLen - 5

// Encode serializes a Message to its wire representation.
func Encode(m Message) ([]byte, error) {
	if len(m.Payload) > MaxMessagePayload {
		return nil, fmt.Errorf("wire: message payload too large: %d bytes", len(m.Payload))
	}
	buf := make([]byte, 5+len(m.Payload))
	buf[0] = byte(m.Type)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(m.Payload)))
	copy(buf[5:], m.Payload)
	return buf, nil
}

// Decode parses a Message from its wire representation, rejecting unknown
// types and any length mismatch.
func Decode(data []byte) (Message, error) {
	if len(data) < 5 {
		return Message{}, fmt.Errorf("wire: message too short: %d bytes", len(data))
	}
	t := MessageType(data[0])
	if !knownTypes[t] {
		return Message{}, fmt.Errorf("wire: unknown message type 0x%02x", data[0])
	}
	length := binary.BigEndian.Uint32(data[1:5])
	if uint32(len(data)-5) != length {
		return Message{}, fmt.Errorf("wire: payload length mismatch: header says %d, got %d", length, len(data)-5)
	}
	payload := make([]byte, length)
	copy(payload, data[5:])
	return Message{Type: t, Payload: payload}, nil
}

// DeviceInfoPayload is the JSON body of a DEVICE_INFO message.
type DeviceInfoPayload struct {
	Name string `json:"name"`
}

// EncodeDeviceInfo builds a DEVICE_INFO message for the given device name.
func EncodeDeviceInfo(name string) (Message, error) {
	body, err := json.Marshal(DeviceInfoPayload{Name: name})
	if err != nil {
		return Message{}, fmt.Errorf("wire: encode device info: %w", err)
	}
	return Message{Type: DeviceInfo, Payload: body}, nil
}

// DecodeDeviceInfo parses a DEVICE_INFO message's payload.
func DecodeDeviceInfo(payload []byte) (DeviceInfoPayload, error) {
	var info DeviceInfoPayload
	if err := json.Unmarshal(payload, &info); err != nil {
		return DeviceInfoPayload{}, fmt.Errorf("wire: decode device info: %w", err)
	}
	return info, nil
}

// ImageStartPayload is the JSON body of an IMAGE_SEND_START message.
type ImageStartPayload struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	TotalBytes int    `json:"totalBytes"`
	MimeType   string `json:"mimeType"`
}

// EncodeImageStart builds an IMAGE_SEND_START message.
func EncodeImageStart(p ImageStartPayload) (Message, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Message{}, fmt.Errorf("wire: encode image start: %w", err)
	}
	return Message{Type: ImageSendStart, Payload: body}, nil
}

// DecodeImageStart parses an IMAGE_SEND_START message's payload.
func DecodeImageStart(payload []byte) (ImageStartPayload, error) {
	var p ImageStartPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return ImageStartPayload{}, fmt.Errorf("wire: decode image start: %w", err)
	}
	return p, nil
}

// MaxImageChunkBytes is the largest payload carried by a single
// IMAGE_CHUNK message.
const MaxImageChunkBytes = 60000

// MaxImageBytes is the absolute cap on a reassembled image, regardless of
// what totalBytes an IMAGE_SEND_START declares.
const MaxImageBytes = 25 * 1024 * 1024

// Simple constructors for the message types whose payload is empty, plain
// text, or raw bytes.
func NewClipboardSend(text string) Message { return Message{Type: ClipboardSend, Payload: []byte(text)} }
func NewClipboardAck() Message             { return Message{Type: ClipboardAck} }
func NewPing() Message                     { return Message{Type: Ping} }
func NewPong() Message                     { return Message{Type: Pong} }
func NewError(text string) Message         { return Message{Type: ErrorMessage, Payload: []byte(text)} }
func NewImageChunk(b []byte) Message       { return Message{Type: ImageChunk, Payload: b} }
func NewImageSendEnd() Message             { return Message{Type: ImageSendEnd} }
func NewImageAck() Message                 { return Message{Type: ImageAck} }
