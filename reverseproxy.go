// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// ReverseProxy is a RequestHandler forwarding inbound streaming requests to
// an upstream HTTP server.
type ReverseProxy struct {
	*url.URL                        // Upstream server URL
	Logger     hclog.Logger         // optional
	transports chan *http.Transport // available http.Transports
}

// NewReverseProxy returns a new ReverseProxy allowing at most maxConnections
// concurrent upstream round trips.
func NewReverseProxy(u *url.URL, maxConnections int) (rp *ReverseProxy) {
	if maxConnections < 1 {
		maxConnections = 512
	}

	transports := make(chan *http.Transport, maxConnections)
	for i := 0; i < cap(transports); i++ {
		transports <- &http.Transport{
			DisableKeepAlives:   false,
			DisableCompression:  true,
			MaxIdleConnsPerHost: 1,
		}
	}

	return &ReverseProxy{
		URL:        u,
		transports: transports,
	}
}

func (rp *ReverseProxy) logger() hclog.Logger {
	if rp.Logger == nil {
		return hclog.NewNullLogger()
	}
	return rp.Logger
}

// ProcessRequest performs the upstream round trip for req. Upstream failures
// are reported to the peer as 502 responses, timeouts as 504.
func (rp *ReverseProxy) ProcessRequest(ctx context.Context, req *ReceiveRequest) (*StreamingResponse, error) {
	r, err := NewHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	// Set the request destination to be the upstream.
	r.URL.Scheme = rp.URL.Scheme
	r.URL.Host = rp.URL.Host
	r.URL.Path = strings.TrimSuffix(rp.URL.Path, "/") + r.URL.Path
	r.Host = rp.URL.Host
	r.RequestURI = ""

	var transport *http.Transport
	select {
	case transport = <-rp.transports:
	case <-ctx.Done():
		return NewStreamingResponse(http.StatusGatewayTimeout), nil
	}
	res, err := transport.RoundTrip(r)
	rp.transports <- transport
	if err != nil {
		rp.logger().Warn("upstream round trip failed", "url", r.URL.String(), "error", err)
		if ctx.Err() != nil {
			return NewStreamingResponse(http.StatusGatewayTimeout), nil
		}
		return NewStreamingResponse(http.StatusBadGateway), nil
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		rp.logger().Warn("reading upstream response failed", "url", r.URL.String(), "error", err)
		return NewStreamingResponse(http.StatusBadGateway), nil
	}
	resp := NewStreamingResponse(res.StatusCode)
	if len(body) > 0 {
		resp.AddStream(res.Header.Get("Content-Type"), body)
	}
	return resp, nil
}
