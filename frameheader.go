// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Header is the fixed 48 byte ASCII preamble of every frame:
//
//	T.LLLLLL.IIIIIIII-IIII-IIII-IIII-IIIIIIIIIIII.E\n
//
//   - T: payload type, one of A (request), B (response), S (stream),
//     X (cancel all) or C (cancel stream)
//   - L: payload length in bytes, six zero padded decimal digits
//   - I: correlation id, a lowercase canonical UUID
//   - E: 1 if this is the last frame of the payload, otherwise 0
//
// The layout is shared with the other Bot Framework streaming implementations,
// so it must not change.
type Header struct {
	Type          PayloadType
	PayloadLength int
	ID            uuid.UUID
	End           bool
}

func (h Header) String() string {
	end := "."
	if h.End {
		end = "E"
	}
	return fmt.Sprintf("[Header %s %s %d %s]", h.Type, h.ID, h.PayloadLength, end)
}

// Validate checks that the header can be put on the wire.
func (h Header) Validate() error {
	if !h.Type.IsValid() {
		return errors.Wrapf(ProtocolError{}, "invalid payload type 0x%02x", byte(h.Type))
	}
	if h.PayloadLength < 0 || h.PayloadLength > MaxPayloadLength {
		return errors.Wrapf(ProtocolError{}, "payload length %d out of range", h.PayloadLength)
	}
	return nil
}

// AppendHeader appends the wire form of h to buf.
func AppendHeader(buf []byte, h Header) ([]byte, error) {
	if err := h.Validate(); err != nil {
		return buf, err
	}
	buf = append(buf, byte(h.Type), headerDelimiter)
	n := h.PayloadLength
	var digits [lengthWidth]byte
	for i := lengthWidth - 1; i >= 0; i-- {
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	buf = append(buf, digits[:]...)
	buf = append(buf, headerDelimiter)
	buf = append(buf, h.ID.String()...)
	buf = append(buf, headerDelimiter)
	if h.End {
		buf = append(buf, headerEnd)
	} else {
		buf = append(buf, headerNotEnd)
	}
	return append(buf, headerTerminator), nil
}

// ParseHeader parses the first HeaderSize bytes of b.
func ParseHeader(b []byte) (h Header, err error) {
	if len(b) < HeaderSize {
		return h, errors.Wrapf(ProtocolError{}, "short header (%d bytes)", len(b))
	}
	b = b[:HeaderSize]

	h.Type = PayloadType(b[typeOffset])
	if !h.Type.IsValid() {
		return h, errors.Wrapf(ProtocolError{}, "invalid payload type 0x%02x", b[typeOffset])
	}
	for _, i := range [...]int{lengthOffset - 1, idOffset - 1, endOffset - 1} {
		if b[i] != headerDelimiter {
			return h, errors.Wrapf(ProtocolError{}, "missing delimiter at offset %d", i)
		}
	}
	if b[terminatorIndex] != headerTerminator {
		return h, errors.Wrap(ProtocolError{}, "missing header terminator")
	}

	for _, c := range b[lengthOffset : lengthOffset+lengthWidth] {
		if c < '0' || c > '9' {
			return h, errors.Wrapf(ProtocolError{}, "invalid payload length %q", b[lengthOffset:lengthOffset+lengthWidth])
		}
		h.PayloadLength = h.PayloadLength*10 + int(c-'0')
	}

	if h.ID, err = uuid.ParseBytes(b[idOffset : idOffset+idWidth]); err != nil {
		return h, errors.Wrapf(ProtocolError{}, "invalid id %q", b[idOffset:idOffset+idWidth])
	}

	switch b[endOffset] {
	case headerEnd:
		h.End = true
	case headerNotEnd:
	default:
		return h, errors.Wrapf(ProtocolError{}, "invalid end flag %q", b[endOffset])
	}
	return h, nil
}
