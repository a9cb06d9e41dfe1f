package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTripAllTypes(t *testing.T) {
	deviceInfo, err := EncodeDeviceInfo("My Laptop")
	require.NoError(t, err)
	imageStart, err := EncodeImageStart(ImageStartPayload{Width: 1, Height: 1, TotalBytes: 3, MimeType: "image/png"})
	require.NoError(t, err)

	messages := []Message{
		NewClipboardSend("hello world"),
		NewClipboardAck(),
		NewPing(),
		NewPong(),
		deviceInfo,
		NewError("boom"),
		imageStart,
		NewImageChunk([]byte{1, 2, 3}),
		NewImageSendEnd(),
		NewImageAck(),
	}

	for _, m := range messages {
		encoded, err := Encode(m)
		require.NoError(t, err)

		decoded, err := Decode(encoded)
		require.NoError(t, err)

		if diff := cmp.Diff(m.Type, decoded.Type); diff != "" {
			t.Errorf("type mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(m.Payload, decoded.Payload); diff != "" {
			t.Errorf("payload mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	data := []byte{0xFF, 0, 0, 0, 0}
	_, err := Decode(data)
	assert.Error(t, err)
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	data := []byte{byte(ClipboardSend), 0, 0, 0, 10, 1, 2, 3}
	_, err := Decode(data)
	assert.Error(t, err)
}

func TestDecodeRejectsShortMessage(t *testing.T) {
	_, err := Decode(nil)
	assert.Error(t, err)
	_, err = Decode([]byte{0x01})
	assert.Error(t, err)
}

func TestDeviceInfoRoundTrip(t *testing.T) {
	m, err := EncodeDeviceInfo("My Laptop")
	require.NoError(t, err)

	encoded, err := Encode(m)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, DeviceInfo, decoded.Type)

	info, err := DecodeDeviceInfo(decoded.Payload)
	require.NoError(t, err)
	assert.Equal(t, "My Laptop", info.Name)
}

func TestImageStartRoundTrip(t *testing.T) {
	m, err := EncodeImageStart(ImageStartPayload{Width: 100, Height: 200, TotalBytes: 4096, MimeType: "image/png"})
	require.NoError(t, err)

	encoded, err := Encode(m)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	parsed, err := DecodeImageStart(decoded.Payload)
	require.NoError(t, err)
	assert.Equal(t, 100, parsed.Width)
	assert.Equal(t, 200, parsed.Height)
	assert.Equal(t, 4096, parsed.TotalBytes)
	assert.Equal(t, "image/png", parsed.MimeType)
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	_, err := Encode(Message{Type: ClipboardSend, Payload: make([]byte, MaxMessagePayload+1)})
	assert.Error(t, err)
}

func TestUnicodePayload(t *testing.T) {
	text := "Héllo, 世界 🌍"
	m := NewClipboardSend(text)
	encoded, err := Encode(m)
	require.NoError(t, err)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, text, string(decoded.Payload))
}
