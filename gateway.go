// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	metrics "github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// Gateway receives incoming HTTP requests and forwards them as streaming
// requests through a RequestSender, relaying the responses back to the
// HTTP clients. Transport failures are answered with 502, timeouts with 504.
type Gateway struct {
	Sender      RequestSender
	Timeout     time.Duration // per request, none if zero
	MaxBodySize int64         // request body limit, DefaultMaxPayloadSize if zero
	Logger      hclog.Logger  // optional
}

// NewGateway returns a new Gateway forwarding through sender, usually a
// connected Client.
func NewGateway(sender RequestSender) *Gateway {
	return &Gateway{
		Sender: sender,
	}
}

func (g *Gateway) logger() hclog.Logger {
	if g.Logger == nil {
		return hclog.NewNullLogger()
	}
	return g.Logger
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer metrics.MeasureSince([]string{"streaming", "gateway", "request"}, time.Now())

	maxBody := g.MaxBodySize
	if maxBody < 1 {
		maxBody = DefaultMaxPayloadSize
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	req := NewStreamingRequest(r.Method, r.URL.RequestURI())
	if len(body) > 0 {
		req.AddStream(r.Header.Get("Content-Type"), body)
	}

	ctx := r.Context()
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	resp, err := g.Sender.Send(ctx, req)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Cause(err) == context.DeadlineExceeded {
			status = http.StatusGatewayTimeout
		}
		metrics.IncrCounter([]string{"streaming", "gateway", "errors"}, 1)
		g.logger().Warn("forwarding request failed", "method", r.Method, "uri", r.URL.RequestURI(), "error", err)
		http.Error(w, err.Error(), status)
		return
	}

	if resp.StatusCode < 100 || resp.StatusCode > 999 {
		g.logger().Warn("invalid upstream status", "method", r.Method, "uri", r.URL.RequestURI(), "status", resp.StatusCode)
		http.Error(w, "invalid upstream status "+strconv.Itoa(resp.StatusCode), http.StatusBadGateway)
		return
	}

	var out []byte
	if len(resp.Streams) > 0 {
		cs := resp.Streams[0]
		if cs.ContentType != "" {
			w.Header().Set("Content-Type", cs.ContentType)
		}
		out = cs.Body
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.WriteHeader(resp.StatusCode)
	if len(out) > 0 {
		w.Write(out)
	}
}
