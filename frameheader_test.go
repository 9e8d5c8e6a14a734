package streaming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHeaderText = "A.000042.5e43b0b1-1c3e-4e8f-9a3c-2f1d7c6e0b11.1\n"

func Test_Header_AppendHeader(t *testing.T) {
	buf, err := AppendHeader(nil, Header{Type: PayloadTypeRequest, PayloadLength: 42, ID: testID, End: true})
	assert.NoError(t, err)
	assert.Equal(t, HeaderSize, len(buf))
	assert.Equal(t, testHeaderText, string(buf))

	buf, err = AppendHeader(buf[:0], Header{Type: PayloadTypeStream, PayloadLength: MaxPayloadLength, ID: testID})
	assert.NoError(t, err)
	assert.Equal(t, "S.999999.5e43b0b1-1c3e-4e8f-9a3c-2f1d7c6e0b11.0\n", string(buf))
}

func Test_Header_AppendHeader_Invalid(t *testing.T) {
	_, err := AppendHeader(nil, Header{Type: PayloadType('Z'), ID: testID})
	assert.True(t, IsProtocolError(err))
	_, err = AppendHeader(nil, Header{Type: PayloadTypeRequest, PayloadLength: MaxPayloadLength + 1, ID: testID})
	assert.True(t, IsProtocolError(err))
	_, err = AppendHeader(nil, Header{Type: PayloadTypeRequest, PayloadLength: -1, ID: testID})
	assert.True(t, IsProtocolError(err))
}

func Test_Header_ParseHeader(t *testing.T) {
	h, err := ParseHeader([]byte(testHeaderText + "trailing payload"))
	require.NoError(t, err)
	assert.Equal(t, PayloadTypeRequest, h.Type)
	assert.Equal(t, 42, h.PayloadLength)
	assert.Equal(t, testID, h.ID)
	assert.True(t, h.End)

	h, err = ParseHeader([]byte("X.000000.5E43B0B1-1C3E-4E8F-9A3C-2F1D7C6E0B11.0\n"))
	require.NoError(t, err)
	assert.Equal(t, PayloadTypeCancelAll, h.Type)
	assert.Equal(t, testID, h.ID)
	assert.False(t, h.End)
}

func Test_Header_ParseHeader_Malformed(t *testing.T) {
	corrupt := func(i int, c byte) []byte {
		b := []byte(testHeaderText)
		b[i] = c
		return b
	}
	cases := map[string][]byte{
		"short":          []byte(testHeaderText[:HeaderSize-1]),
		"type":           corrupt(typeOffset, 'Z'),
		"type delimiter": corrupt(lengthOffset-1, '-'),
		"id delimiter":   corrupt(idOffset-1, '-'),
		"end delimiter":  corrupt(endOffset-1, '-'),
		"terminator":     corrupt(terminatorIndex, '\r'),
		"length":         corrupt(lengthOffset+3, 'x'),
		"id":             corrupt(idOffset+2, 'g'),
		"id dash":        corrupt(idOffset+8, '0'),
		"end flag":       corrupt(endOffset, '2'),
	}
	for name, b := range cases {
		_, err := ParseHeader(b)
		assert.Error(t, err, name)
		assert.True(t, IsProtocolError(err), name)
	}
}

func Test_Header_String(t *testing.T) {
	h := Header{Type: PayloadTypeResponse, PayloadLength: 7, ID: testID, End: true}
	assert.Equal(t, "[Header Response 5e43b0b1-1c3e-4e8f-9a3c-2f1d7c6e0b11 7 E]", h.String())
	h.End = false
	assert.Equal(t, "[Header Response 5e43b0b1-1c3e-4e8f-9a3c-2f1d7c6e0b11 7 .]", h.String())
}

func Test_PayloadType_String(t *testing.T) {
	assert.Equal(t, "Request", PayloadTypeRequest.String())
	assert.Equal(t, "CancelStream", PayloadTypeCancelStream.String())
	assert.Equal(t, "Invalid", PayloadType(0).String())
	assert.True(t, PayloadTypeCancelAll.IsCancel())
	assert.False(t, PayloadTypeStream.IsCancel())
	assert.False(t, PayloadType('a').IsValid())
}
