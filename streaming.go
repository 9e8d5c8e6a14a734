// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import "time"

const (
	// HeaderSize is the number of bytes in a frame header.
	HeaderSize = 48
	// MaxPayloadLength is the largest payload length a frame header can carry.
	MaxPayloadLength = 999999
	// FrameMaxSize is the largest buffer size used for a full outbound frame.
	FrameMaxSize = 0x10000
	// FrameMaxPayloadSize is the default maximum number of payload bytes per outbound frame.
	FrameMaxPayloadSize = FrameMaxSize - HeaderSize
	// DefaultMaxPayloadSize is the default limit on a reassembled inbound payload.
	DefaultMaxPayloadSize = 32 << 20
	// DefaultMaxAssemblies is the default limit on payloads being reassembled at once.
	DefaultMaxAssemblies = 1024
	// DefaultSendQueueSize is the default number of frames queued for the writer.
	DefaultSendQueueSize = 64
	// DefaultDialTimeout is how long the client waits for the socket handshake.
	DefaultDialTimeout = time.Second * 30
	// DefaultListenAddr is the address a Host listens on if none is given.
	DefaultListenAddr = ":10111"
)

const (
	headerDelimiter  = '.'
	headerTerminator = '\n'
	headerEnd        = '1'
	headerNotEnd     = '0'

	typeOffset      = 0
	lengthOffset    = 2
	lengthWidth     = 6
	idOffset        = 9
	idWidth         = 36
	endOffset       = 46
	terminatorIndex = HeaderSize - 1
)

// raceEnabled is true when built with -race; tests use it to scale down load.
var raceEnabled bool
