// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import (
	"bytes"
	"context"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
)

// ResponseWriter implements http.ResponseWriter, buffering the response so it
// can be sent back as a StreamingResponse.
type ResponseWriter struct {
	Code        int          // the HTTP response code from WriteHeader
	HeaderMap   http.Header  // the HTTP response headers
	Body        bytes.Buffer // the response body
	Flushed     bool
	wroteHeader bool
}

// NewResponseWriter returns an initialized ResponseWriter.
func NewResponseWriter() *ResponseWriter {
	return &ResponseWriter{
		HeaderMap: make(http.Header),
		Code:      http.StatusOK,
	}
}

// Header returns the response headers.
func (rw *ResponseWriter) Header() http.Header {
	m := rw.HeaderMap
	if m == nil {
		m = make(http.Header)
		rw.HeaderMap = m
	}
	return m
}

// Write always succeeds and appends buf to rw.Body.
func (rw *ResponseWriter) Write(buf []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.Body.Write(buf)
}

// WriteHeader sets rw.Code. Only the first call has any effect.
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.Code = code
		rw.wroteHeader = true
	}
}

// Reset sets the ResponseWriter to the initial state.
func (rw *ResponseWriter) Reset() {
	rw.Code = http.StatusOK
	rw.HeaderMap = nil
	rw.Body.Reset()
	rw.Flushed = false
	rw.wroteHeader = false
}

// Flush sets rw.Flushed to true.
func (rw *ResponseWriter) Flush() {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	rw.Flushed = true
}

// StreamingResponse returns the buffered response. A non-empty body becomes
// a single stream typed by the Content-Type header.
func (rw *ResponseWriter) StreamingResponse() *StreamingResponse {
	resp := NewStreamingResponse(rw.Code)
	if rw.Body.Len() > 0 {
		body := make([]byte, rw.Body.Len())
		copy(body, rw.Body.Bytes())
		resp.AddStream(rw.Header().Get("Content-Type"), body)
	}
	return resp
}

// NewHTTPRequest converts an inbound request into an *http.Request carrying
// the first stream as its body.
func NewHTTPRequest(ctx context.Context, req *ReceiveRequest) (*http.Request, error) {
	var body []byte
	var contentType string
	if len(req.Streams) > 0 {
		body = req.Streams[0].Body
		contentType = req.Streams[0].ContentType
	}
	r, err := http.NewRequestWithContext(ctx, req.Verb, req.Path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrapf(err, "request %s", req.ID)
	}
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	r.Header.Set("Content-Length", strconv.Itoa(len(body)))
	r.RequestURI = req.Path
	return r, nil
}

type httpHandler struct {
	h http.Handler
}

// HTTPHandler adapts h to RequestHandler, so inbound streaming requests can
// be served by ordinary net/http handlers.
func HTTPHandler(h http.Handler) RequestHandler {
	return httpHandler{h: h}
}

func (hh httpHandler) ProcessRequest(ctx context.Context, req *ReceiveRequest) (*StreamingResponse, error) {
	r, err := NewHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	rw := NewResponseWriter()
	hh.h.ServeHTTP(rw, r)
	return rw.StreamingResponse(), nil
}
