// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

// Provides a buffer of allocated but unused frame buffers.
var frameBufPool chan []byte

func init() {
	frameBufPool = make(chan []byte, 0x100)
}

// FrameBufAlloc returns an empty buffer with room for a full frame.
func FrameBufAlloc() []byte {
	select {
	case buf := <-frameBufPool:
		return buf[:0]
	default:
		return make([]byte, 0, FrameMaxSize)
	}
}

// FrameBufFree releases a buffer obtained from FrameBufAlloc.
// Buffers that grew beyond FrameMaxSize are left to the garbage collector.
func FrameBufFree(buf []byte) {
	if buf != nil && cap(buf) <= FrameMaxSize {
		select {
		case frameBufPool <- buf[:0]:
		default:
		}
	}
}
