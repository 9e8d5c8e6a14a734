// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

//go:build race

package streaming

// sanity check the header layout and limits
func init() {
	if lengthOffset+lengthWidth+1 != idOffset {
		panic("lengthOffset+lengthWidth+1 != idOffset")
	}
	if idOffset+idWidth+1 != endOffset {
		panic("idOffset+idWidth+1 != endOffset")
	}
	if endOffset+1 != terminatorIndex {
		panic("endOffset+1 != terminatorIndex")
	}
	if FrameMaxPayloadSize < 1 {
		panic("FrameMaxPayloadSize < 1")
	}
	if FrameMaxPayloadSize > MaxPayloadLength {
		panic("FrameMaxPayloadSize > MaxPayloadLength")
	}
	if DefaultMaxAssemblies < 1 {
		panic("DefaultMaxAssemblies < 1")
	}
}
