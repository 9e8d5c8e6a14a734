// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ContentStream is one named body stream of a request or response.
type ContentStream struct {
	ID          uuid.UUID
	ContentType string
	Body        []byte
}

// NewContentStream returns a ContentStream with a fresh id.
func NewContentStream(contentType string, body []byte) *ContentStream {
	return &ContentStream{
		ID:          uuid.New(),
		ContentType: contentType,
		Body:        body,
	}
}

func (cs *ContentStream) String() string {
	return fmt.Sprintf("[ContentStream %s %q %d]", cs.ID, cs.ContentType, len(cs.Body))
}

// StreamingRequest is an outbound request.
type StreamingRequest struct {
	Verb    string
	Path    string
	Streams []*ContentStream
}

// NewStreamingRequest returns a request without streams.
func NewStreamingRequest(verb, path string) *StreamingRequest {
	return &StreamingRequest{Verb: verb, Path: path}
}

// AddStream appends a content stream and returns it.
func (r *StreamingRequest) AddStream(contentType string, body []byte) *ContentStream {
	cs := NewContentStream(contentType, body)
	r.Streams = append(r.Streams, cs)
	return cs
}

// SetBody replaces all streams with a single JSON encoded body.
func (r *StreamingRequest) SetBody(v interface{}) error {
	cs, err := jsonStream(v)
	if err == nil {
		r.Streams = []*ContentStream{cs}
	}
	return err
}

// StreamingResponse is an outbound response, as produced by a RequestHandler.
type StreamingResponse struct {
	StatusCode int
	Streams    []*ContentStream
}

// NewStreamingResponse returns a response without streams.
func NewStreamingResponse(statusCode int) *StreamingResponse {
	return &StreamingResponse{StatusCode: statusCode}
}

// AddStream appends a content stream and returns it.
func (r *StreamingResponse) AddStream(contentType string, body []byte) *ContentStream {
	cs := NewContentStream(contentType, body)
	r.Streams = append(r.Streams, cs)
	return cs
}

// SetBody replaces all streams with a single JSON encoded body.
func (r *StreamingResponse) SetBody(v interface{}) error {
	cs, err := jsonStream(v)
	if err == nil {
		r.Streams = []*ContentStream{cs}
	}
	return err
}

// ReceiveRequest is an inbound request with all of its streams received.
type ReceiveRequest struct {
	ID      uuid.UUID
	Verb    string
	Path    string
	Streams []*ContentStream
}

// ReadBodyAsString returns the first stream's body as a string.
func (r *ReceiveRequest) ReadBodyAsString() string {
	return firstBody(r.Streams)
}

// ReadBodyAsJSON decodes the first stream's body into v.
func (r *ReceiveRequest) ReadBodyAsJSON(v interface{}) error {
	return decodeFirstBody(r.Streams, v)
}

// ReceiveResponse is an inbound response with all of its streams received.
type ReceiveResponse struct {
	StatusCode int
	Streams    []*ContentStream
}

// ReadBodyAsString returns the first stream's body as a string.
func (r *ReceiveResponse) ReadBodyAsString() string {
	return firstBody(r.Streams)
}

// ReadBodyAsJSON decodes the first stream's body into v.
func (r *ReceiveResponse) ReadBodyAsJSON(v interface{}) error {
	return decodeFirstBody(r.Streams, v)
}

func jsonStream(v interface{}) (*ContentStream, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encoding body")
	}
	return NewContentStream("application/json; charset=utf-8", b), nil
}

func firstBody(streams []*ContentStream) string {
	if len(streams) < 1 {
		return ""
	}
	return string(streams[0].Body)
}

func decodeFirstBody(streams []*ContentStream, v interface{}) error {
	if len(streams) < 1 {
		return errors.New("no body")
	}
	return errors.Wrap(json.Unmarshal(streams[0].Body, v), "decoding body")
}

// streamDescription announces a content stream in a request or response header.
type streamDescription struct {
	ID          string `json:"id"`
	ContentType string `json:"type,omitempty"`
	Length      *int   `json:"length,omitempty"`
}

// requestPayload is the JSON body of a request header payload.
type requestPayload struct {
	Verb    string              `json:"verb"`
	Path    string              `json:"path"`
	Streams []streamDescription `json:"streams,omitempty"`
}

// responsePayload is the JSON body of a response header payload.
type responsePayload struct {
	StatusCode int                 `json:"statusCode"`
	Streams    []streamDescription `json:"streams,omitempty"`
}

func describeStreams(streams []*ContentStream) []streamDescription {
	if len(streams) < 1 {
		return nil
	}
	descs := make([]streamDescription, len(streams))
	for i, cs := range streams {
		length := len(cs.Body)
		descs[i] = streamDescription{
			ID:          cs.ID.String(),
			ContentType: cs.ContentType,
			Length:      &length,
		}
	}
	return descs
}

// placeholderStreams returns empty ContentStreams for the announced streams.
func placeholderStreams(descs []streamDescription) ([]*ContentStream, error) {
	if len(descs) < 1 {
		return nil, nil
	}
	streams := make([]*ContentStream, len(descs))
	for i, d := range descs {
		id, err := uuid.Parse(d.ID)
		if err != nil {
			return nil, errors.Wrapf(ProtocolError{}, "invalid stream id %q", d.ID)
		}
		streams[i] = &ContentStream{ID: id, ContentType: d.ContentType}
	}
	return streams, nil
}

func encodeRequestPayload(r *StreamingRequest) ([]byte, error) {
	b, err := json.Marshal(requestPayload{
		Verb:    r.Verb,
		Path:    r.Path,
		Streams: describeStreams(r.Streams),
	})
	return b, errors.Wrap(err, "encoding request header")
}

func decodeRequestPayload(id uuid.UUID, b []byte) (*ReceiveRequest, error) {
	var rp requestPayload
	if err := json.Unmarshal(b, &rp); err != nil {
		return nil, errors.Wrapf(ProtocolError{}, "request header %s: %v", id, err)
	}
	streams, err := placeholderStreams(rp.Streams)
	if err != nil {
		return nil, err
	}
	return &ReceiveRequest{ID: id, Verb: rp.Verb, Path: rp.Path, Streams: streams}, nil
}

func encodeResponsePayload(r *StreamingResponse) ([]byte, error) {
	b, err := json.Marshal(responsePayload{
		StatusCode: r.StatusCode,
		Streams:    describeStreams(r.Streams),
	})
	return b, errors.Wrap(err, "encoding response header")
}

func decodeResponsePayload(id uuid.UUID, b []byte) (*ReceiveResponse, error) {
	var rp responsePayload
	if err := json.Unmarshal(b, &rp); err != nil {
		return nil, errors.Wrapf(ProtocolError{}, "response header %s: %v", id, err)
	}
	streams, err := placeholderStreams(rp.Streams)
	if err != nil {
		return nil, err
	}
	return &ReceiveResponse{StatusCode: rp.StatusCode, Streams: streams}, nil
}
