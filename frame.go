// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Frame is a header and the payload bytes it describes.
type Frame struct {
	Header
	Payload []byte
}

// NewFrame returns a Frame for the given payload chunk.
func NewFrame(pt PayloadType, id uuid.UUID, payload []byte, end bool) Frame {
	return Frame{
		Header: Header{
			Type:          pt,
			PayloadLength: len(payload),
			ID:            id,
			End:           end,
		},
		Payload: payload,
	}
}

func (f Frame) String() string {
	switch {
	case len(f.Payload) < 1:
		return fmt.Sprintf("[Frame %v]", f.Header)
	case len(f.Payload) < 32:
		return fmt.Sprintf("[Frame %v %v]", f.Header, hex.EncodeToString(f.Payload))
	default:
		return fmt.Sprintf("[Frame %v %v...]", f.Header, hex.EncodeToString(f.Payload[:32]))
	}
}

// AppendFrame appends the header and payload of f to buf.
func AppendFrame(buf []byte, f Frame) ([]byte, error) {
	if f.PayloadLength != len(f.Payload) {
		return buf, errors.Wrapf(ProtocolError{}, "header length %d does not match payload length %d", f.PayloadLength, len(f.Payload))
	}
	buf, err := AppendHeader(buf, f.Header)
	if err != nil {
		return buf, err
	}
	return append(buf, f.Payload...), nil
}

// SplitPayload cuts payload into frames of at most frameSize bytes, with End
// set on the last one. An empty payload yields a single empty final frame.
func SplitPayload(pt PayloadType, id uuid.UUID, payload []byte, frameSize int) []Frame {
	if frameSize < 1 || frameSize > MaxPayloadLength {
		frameSize = FrameMaxPayloadSize
	}
	frames := make([]Frame, 0, 1+len(payload)/frameSize)
	for {
		n := len(payload)
		if n > frameSize {
			n = frameSize
		}
		end := n == len(payload)
		frames = append(frames, NewFrame(pt, id, payload[:n], end))
		payload = payload[n:]
		if end {
			return frames
		}
	}
}

// FrameDecoder reassembles frames from a byte stream delivered in chunks of
// arbitrary size. The zero value is ready for use.
type FrameDecoder struct {
	buf []byte
}

// Buffered returns the number of bytes held waiting for the rest of a frame.
func (fd *FrameDecoder) Buffered() int {
	return len(fd.buf)
}

// Feed consumes chunk and calls emit for every frame completed by it, in wire
// order. The Frame passed to emit owns its payload. A framing error is
// returned as a ProtocolError and leaves the decoder unusable; an error
// returned by emit stops decoding and is returned as is.
func (fd *FrameDecoder) Feed(chunk []byte, emit func(Frame) error) error {
	fd.buf = append(fd.buf, chunk...)
	cursor := 0
	for len(fd.buf)-cursor >= HeaderSize {
		h, err := ParseHeader(fd.buf[cursor:])
		if err != nil {
			fd.buf = nil
			return err
		}
		frameLen := HeaderSize + h.PayloadLength
		if len(fd.buf)-cursor < frameLen {
			break
		}
		payload := make([]byte, h.PayloadLength)
		copy(payload, fd.buf[cursor+HeaderSize:cursor+frameLen])
		cursor += frameLen
		if err = emit(Frame{Header: h, Payload: payload}); err != nil {
			fd.compact(cursor)
			return err
		}
	}
	fd.compact(cursor)
	return nil
}

func (fd *FrameDecoder) compact(cursor int) {
	if cursor == 0 {
		return
	}
	n := copy(fd.buf, fd.buf[cursor:])
	fd.buf = fd.buf[:n]
}
