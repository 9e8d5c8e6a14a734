package streaming

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Frame_SplitPayload(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 25)
	frames := SplitPayload(PayloadTypeStream, testID, payload, 10)
	require.Equal(t, 3, len(frames))
	assert.Equal(t, 10, frames[0].PayloadLength)
	assert.Equal(t, 10, frames[1].PayloadLength)
	assert.Equal(t, 5, frames[2].PayloadLength)
	assert.False(t, frames[0].End)
	assert.False(t, frames[1].End)
	assert.True(t, frames[2].End)
	for _, f := range frames {
		assert.Equal(t, testID, f.ID)
		assert.Equal(t, PayloadTypeStream, f.Type)
	}

	frames = SplitPayload(PayloadTypeStream, testID, payload[:20], 10)
	require.Equal(t, 2, len(frames))
	assert.True(t, frames[1].End)
}

func Test_Frame_SplitPayload_Empty(t *testing.T) {
	frames := SplitPayload(PayloadTypeRequest, testID, nil, 10)
	require.Equal(t, 1, len(frames))
	assert.True(t, frames[0].End)
	assert.Zero(t, frames[0].PayloadLength)
}

func Test_Frame_SplitPayload_DefaultSize(t *testing.T) {
	frames := SplitPayload(PayloadTypeRequest, testID, make([]byte, FrameMaxPayloadSize+1), 0)
	require.Equal(t, 2, len(frames))
	assert.Equal(t, FrameMaxPayloadSize, frames[0].PayloadLength)
}

func Test_Frame_AppendFrame_LengthMismatch(t *testing.T) {
	f := NewFrame(PayloadTypeStream, testID, []byte("abc"), true)
	f.PayloadLength = 2
	_, err := AppendFrame(nil, f)
	assert.True(t, IsProtocolError(err))
}

func Test_Frame_String(t *testing.T) {
	f := NewFrame(PayloadTypeStream, testID, []byte{0x01, 0x02}, true)
	assert.Equal(t, "[Frame [Header Stream 5e43b0b1-1c3e-4e8f-9a3c-2f1d7c6e0b11 2 E] 0102]", f.String())
	f = NewFrame(PayloadTypeStream, testID, nil, false)
	assert.Equal(t, "[Frame [Header Stream 5e43b0b1-1c3e-4e8f-9a3c-2f1d7c6e0b11 0 .]]", f.String())
}

func encodeFrames(t *testing.T, frames ...Frame) (buf []byte) {
	for _, f := range frames {
		var err error
		buf, err = AppendFrame(buf, f)
		require.NoError(t, err)
	}
	return
}

func Test_FrameDecoder_ByteByByte(t *testing.T) {
	id2 := uuid.New()
	want := []Frame{
		NewFrame(PayloadTypeRequest, testID, []byte(`{"verb":"GET","path":"/"}`), true),
		NewFrame(PayloadTypeStream, id2, []byte("hello "), false),
		NewFrame(PayloadTypeStream, id2, nil, false),
		NewFrame(PayloadTypeStream, id2, []byte("world"), true),
	}
	wire := encodeFrames(t, want...)

	var got []Frame
	var fd FrameDecoder
	for i := range wire {
		require.NoError(t, fd.Feed(wire[i:i+1], func(f Frame) error {
			got = append(got, f)
			return nil
		}))
	}
	assert.Zero(t, fd.Buffered())
	require.Equal(t, len(want), len(got))
	for i := range want {
		assert.Equal(t, want[i].Header, got[i].Header)
		assert.Equal(t, len(want[i].Payload), len(got[i].Payload))
		assert.True(t, bytes.Equal(want[i].Payload, got[i].Payload))
	}
}

func Test_FrameDecoder_PayloadOwnership(t *testing.T) {
	wire := encodeFrames(t, NewFrame(PayloadTypeStream, testID, []byte("abc"), true))
	var got []byte
	var fd FrameDecoder
	require.NoError(t, fd.Feed(wire, func(f Frame) error {
		got = f.Payload
		return nil
	}))
	for i := range wire {
		wire[i] = 0
	}
	assert.Equal(t, "abc", string(got))
}

func Test_FrameDecoder_Partial(t *testing.T) {
	wire := encodeFrames(t, NewFrame(PayloadTypeStream, testID, []byte("abcdef"), true))
	count := 0
	var fd FrameDecoder
	emit := func(f Frame) error {
		count++
		return nil
	}
	require.NoError(t, fd.Feed(wire[:HeaderSize+2], emit))
	assert.Zero(t, count)
	assert.Equal(t, HeaderSize+2, fd.Buffered())
	require.NoError(t, fd.Feed(wire[HeaderSize+2:], emit))
	assert.Equal(t, 1, count)
	assert.Zero(t, fd.Buffered())
}

func Test_FrameDecoder_Malformed(t *testing.T) {
	var fd FrameDecoder
	bad := []byte("Q.000000.5e43b0b1-1c3e-4e8f-9a3c-2f1d7c6e0b11.1\n")
	err := fd.Feed(bad, func(f Frame) error {
		t.Fatal("unexpected frame")
		return nil
	})
	assert.True(t, IsProtocolError(err))
	assert.Zero(t, fd.Buffered())
}

func Test_FrameDecoder_EmitError(t *testing.T) {
	wire := encodeFrames(t,
		NewFrame(PayloadTypeStream, testID, []byte("a"), true),
		NewFrame(PayloadTypeStream, testID, []byte("b"), true),
	)
	stop := errors.New("stop")
	count := 0
	var fd FrameDecoder
	err := fd.Feed(wire, func(f Frame) error {
		count++
		return stop
	})
	assert.Equal(t, stop, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, HeaderSize+1, fd.Buffered())
}
