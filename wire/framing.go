// Package wire implements the length-prefixed framing, the AEAD-encrypted
// transport built on top of it, and the typed application message codec
// carried inside encrypted frames.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/sirupsen/logrus"
)

// MaxFrameLen is the largest declared frame length, matching the 2-byte
// big-endian length prefix's range.
const MaxFrameLen = 65535

// ErrFrameTooLarge is returned when a caller attempts to write a frame
// whose payload exceeds MaxFrameLen.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum length")

// WriteFrame writes a single length-prefixed frame to conn: a 2-byte
// big-endian length followed by payload. The write is a single conn.Write
// call over the concatenated buffer so a frame is never observed
// partially written by the peer under ordinary TCP delivery.
func WriteFrame(conn net.Conn, payload []byte) error {
	if len(payload) > MaxFrameLen {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(buf[:2], uint16(len(payload)))
	copy(buf[2:], payload)

	if _, err := conn.Write(buf); err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return nil
}

// ReadFrame reads exactly one length-prefixed frame from conn. Unlike a
// naive single conn.Read call, both the 2-byte header and the payload are
// read with io.ReadFull so a frame split across multiple TCP segments is
// still reassembled atomically.
func ReadFrame(conn net.Conn) ([]byte, error) {
	var header [2]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return nil, fmt.Errorf("wire: read frame header: %w", err)
	}
	length := binary.BigEndian.Uint16(header[:])

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(conn, payload); err != nil {
			return nil, fmt.Errorf("wire: read frame payload: %w", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "ReadFrame",
		"length":   length,
	}).Debug("read frame")
	return payload, nil
}
