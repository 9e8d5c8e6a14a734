package streaming

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Message_EncodeRequestPayload(t *testing.T) {
	req := NewStreamingRequest("POST", "/api/messages")
	cs := req.AddStream("application/json", []byte(`{"a":1}`))
	cs.ID = testID

	b, err := encodeRequestPayload(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"verb":"POST","path":"/api/messages","streams":[{"id":"5e43b0b1-1c3e-4e8f-9a3c-2f1d7c6e0b11","type":"application/json","length":7}]}`, string(b))

	b, err = encodeRequestPayload(NewStreamingRequest("GET", "/ping"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"verb":"GET","path":"/ping"}`, string(b))
}

func Test_Message_EncodeResponsePayload(t *testing.T) {
	b, err := encodeResponsePayload(NewStreamingResponse(404))
	require.NoError(t, err)
	assert.JSONEq(t, `{"statusCode":404}`, string(b))
}

func Test_Message_DecodeRequestPayload(t *testing.T) {
	req, err := decodeRequestPayload(testID, []byte(`{"verb":"PUT","path":"/x","streams":[{"id":"5E43B0B1-1C3E-4E8F-9A3C-2F1D7C6E0B11","type":"text/plain"}]}`))
	require.NoError(t, err)
	assert.Equal(t, testID, req.ID)
	assert.Equal(t, "PUT", req.Verb)
	assert.Equal(t, "/x", req.Path)
	require.Equal(t, 1, len(req.Streams))
	assert.Equal(t, testID, req.Streams[0].ID)
	assert.Equal(t, "text/plain", req.Streams[0].ContentType)
	assert.Nil(t, req.Streams[0].Body)
}

func Test_Message_DecodeResponsePayload(t *testing.T) {
	resp, err := decodeResponsePayload(testID, []byte(`{"statusCode":200,"streams":[]}`))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Zero(t, len(resp.Streams))
}

func Test_Message_Decode_Malformed(t *testing.T) {
	_, err := decodeRequestPayload(testID, []byte(`{"verb":`))
	assert.True(t, IsProtocolError(err))
	_, err = decodeResponsePayload(testID, []byte(`[]`))
	assert.True(t, IsProtocolError(err))
	_, err = decodeRequestPayload(testID, []byte(`{"verb":"GET","path":"/","streams":[{"id":"not-a-uuid"}]}`))
	assert.True(t, IsProtocolError(err))
}

func Test_Message_Body(t *testing.T) {
	req := NewStreamingRequest("POST", "/")
	require.NoError(t, req.SetBody(map[string]string{"text": "hi"}))
	require.Equal(t, 1, len(req.Streams))
	assert.Equal(t, "application/json; charset=utf-8", req.Streams[0].ContentType)

	rr := &ReceiveRequest{Streams: req.Streams}
	var v map[string]string
	require.NoError(t, rr.ReadBodyAsJSON(&v))
	assert.Equal(t, "hi", v["text"])
	assert.Equal(t, `{"text":"hi"}`, rr.ReadBodyAsString())

	resp := &ReceiveResponse{}
	assert.Equal(t, "", resp.ReadBodyAsString())
	assert.Error(t, resp.ReadBodyAsJSON(&v))

	sr := NewStreamingResponse(200)
	assert.Error(t, sr.SetBody(json.RawMessage(`{`)))
	assert.Zero(t, len(sr.Streams))
}
