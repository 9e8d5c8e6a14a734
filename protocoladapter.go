// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"

	metrics "github.com/armon/go-metrics"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// RequestHandler serves requests initiated by the peer.
// It may be called concurrently for different requests.
type RequestHandler interface {
	ProcessRequest(ctx context.Context, req *ReceiveRequest) (*StreamingResponse, error)
}

// RequestHandlerFunc adapts a function to RequestHandler.
type RequestHandlerFunc func(ctx context.Context, req *ReceiveRequest) (*StreamingResponse, error)

// ProcessRequest calls f(ctx, req).
func (f RequestHandlerFunc) ProcessRequest(ctx context.Context, req *ReceiveRequest) (*StreamingResponse, error) {
	return f(ctx, req)
}

// RequestSender is implemented by Client and Server.
type RequestSender interface {
	Send(ctx context.Context, req *StreamingRequest) (*ReceiveResponse, error)
}

// inboundMessage is a request or response header waiting for its streams.
type inboundMessage struct {
	id        uuid.UUID
	request   *ReceiveRequest
	response  *ReceiveResponse
	streams   []*ContentStream
	remaining int
}

// ProtocolAdapter converts requests and responses to payloads and back.
// Either side of a connection may send requests; inbound request headers
// are served by the handler, inbound response headers complete pending
// requests.
type ProtocolAdapter struct {
	handler       RequestHandler
	requests      *RequestManager
	sender        *Sender
	logger        hclog.Logger
	maxAssemblies int

	mu      sync.Mutex // protects those below
	streams map[uuid.UUID]*inboundMessage
	inbound int
	ctx     context.Context
	cancel  context.CancelFunc

	handlers sync.WaitGroup
}

// NewProtocolAdapter returns a ProtocolAdapter sending through sender.
// The handler may be nil, in which case inbound requests get a 404.
func NewProtocolAdapter(handler RequestHandler, requests *RequestManager, sender *Sender, cfg TransportConfig) *ProtocolAdapter {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return &ProtocolAdapter{
		handler:       handler,
		requests:      requests,
		sender:        sender,
		logger:        cfg.Logger.Named("adapter"),
		maxAssemblies: cfg.MaxAssemblies,
		streams:       make(map[uuid.UUID]*inboundMessage),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// open prepares the adapter for a new connection.
func (a *ProtocolAdapter) open() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancel()
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.streams = make(map[uuid.UUID]*inboundMessage)
	a.inbound = 0
}

// close drops all connection state and fails every pending request.
func (a *ProtocolAdapter) close(reason error) int {
	a.mu.Lock()
	a.cancel()
	a.streams = make(map[uuid.UUID]*inboundMessage)
	a.inbound = 0
	a.mu.Unlock()
	return a.requests.RejectAll(disconnectedError(reason))
}

// wait blocks until all running handlers have returned.
func (a *ProtocolAdapter) wait() {
	a.handlers.Wait()
}

func disconnectedError(reason error) error {
	if reason == nil {
		return errors.WithStack(DisconnectedError{})
	}
	return errors.Wrap(DisconnectedError{}, reason.Error())
}

// SendRequest sends req and waits for its response, for ctx to be done, or
// for the connection to drop, whichever comes first. Frames already written
// when ctx is cancelled are not retracted; a late response is dropped.
func (a *ProtocolAdapter) SendRequest(ctx context.Context, req *StreamingRequest) (*ReceiveResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	header, err := encodeRequestPayload(req)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	resultCh, err := a.requests.Register(id)
	if err != nil {
		return nil, err
	}
	metrics.IncrCounter([]string{"streaming", "request", "sent"}, 1)

	if err = a.sendMessage(ctx, PayloadTypeRequest, id, header, req.Streams); err != nil {
		if a.requests.Cancel(id) {
			return nil, errors.Wrapf(err, "request %s", id)
		}
		res := <-resultCh
		return res.Response, res.Err
	}

	select {
	case res := <-resultCh:
		return res.Response, res.Err
	case <-ctx.Done():
		if a.requests.Cancel(id) {
			a.logger.Debug("request cancelled", "id", id, "verb", req.Verb, "path", req.Path)
			return nil, errors.Wrapf(ctx.Err(), "request %s", id)
		}
		res := <-resultCh
		return res.Response, res.Err
	}
}

func (a *ProtocolAdapter) sendMessage(ctx context.Context, pt PayloadType, id uuid.UUID, header []byte, streams []*ContentStream) error {
	if err := a.sender.SendPayload(ctx, pt, id, header); err != nil {
		return err
	}
	for _, cs := range streams {
		if err := a.sender.SendPayload(ctx, PayloadTypeStream, cs.ID, cs.Body); err != nil {
			return err
		}
	}
	return nil
}

// DispatchPayload implements PayloadDispatcher. It runs on the read goroutine.
func (a *ProtocolAdapter) DispatchPayload(p Payload) error {
	switch p.Type {
	case PayloadTypeRequest:
		req, err := decodeRequestPayload(p.ID, p.Body)
		if err != nil {
			return err
		}
		if len(req.Streams) == 0 {
			a.serve(req)
			return nil
		}
		return a.track(&inboundMessage{id: p.ID, request: req, streams: req.Streams})

	case PayloadTypeResponse:
		if !a.requests.IsPending(p.ID) {
			a.logger.Debug("dropping unmatched response", "id", p.ID)
			metrics.IncrCounter([]string{"streaming", "response", "unmatched"}, 1)
			return nil
		}
		resp, err := decodeResponsePayload(p.ID, p.Body)
		if err != nil {
			return err
		}
		if len(resp.Streams) == 0 {
			a.requests.Resolve(p.ID, resp)
			return nil
		}
		return a.track(&inboundMessage{id: p.ID, response: resp, streams: resp.Streams})

	case PayloadTypeStream:
		if !a.fill(p.ID, p.Body) {
			a.logger.Debug("dropping unknown stream", "id", p.ID)
		}

	case PayloadTypeCancelStream:
		// the message is delivered with the cancelled stream left empty
		if a.fill(p.ID, nil) {
			metrics.IncrCounter([]string{"streaming", "stream", "cancelled"}, 1)
			a.logger.Debug("stream cancelled by peer", "id", p.ID)
		}

	case PayloadTypeCancelAll:
		a.mu.Lock()
		msgs := make(map[*inboundMessage]struct{}, a.inbound)
		for _, msg := range a.streams {
			msgs[msg] = struct{}{}
		}
		a.streams = make(map[uuid.UUID]*inboundMessage)
		a.inbound = 0
		a.mu.Unlock()
		if len(msgs) > 0 {
			metrics.IncrCounter([]string{"streaming", "stream", "cancelled"}, float32(len(msgs)))
			a.logger.Debug("all streams cancelled by peer", "messages", len(msgs))
		}
		for msg := range msgs {
			a.complete(msg)
		}
	}
	return nil
}

// fill sets the body of the announced stream id and completes its message
// once no streams remain. It returns false if no message waits for id.
func (a *ProtocolAdapter) fill(id uuid.UUID, body []byte) bool {
	a.mu.Lock()
	msg := a.streams[id]
	if msg == nil {
		a.mu.Unlock()
		return false
	}
	delete(a.streams, id)
	for _, cs := range msg.streams {
		if cs.ID == id {
			cs.Body = body
			break
		}
	}
	msg.remaining--
	done := msg.remaining == 0
	if done {
		a.inbound--
	}
	a.mu.Unlock()
	if done {
		a.complete(msg)
	}
	return true
}

// track waits for the streams announced by msg.
func (a *ProtocolAdapter) track(msg *inboundMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inbound >= a.maxAssemblies {
		return errors.Wrapf(ProtocolError{}, "more than %d messages waiting for streams", a.maxAssemblies)
	}
	for _, cs := range msg.streams {
		if _, ok := a.streams[cs.ID]; ok {
			return errors.Wrapf(ProtocolError{}, "stream %s announced twice", cs.ID)
		}
	}
	for _, cs := range msg.streams {
		a.streams[cs.ID] = msg
	}
	msg.remaining = len(msg.streams)
	a.inbound++
	return nil
}

func (a *ProtocolAdapter) complete(msg *inboundMessage) {
	if msg.request != nil {
		a.serve(msg.request)
		return
	}
	if !a.requests.Resolve(msg.id, msg.response) {
		a.logger.Debug("dropping response for settled request", "id", msg.id)
	}
}

// serve runs the handler for req on its own goroutine and sends the
// response back with the request's id.
func (a *ProtocolAdapter) serve(req *ReceiveRequest) {
	a.mu.Lock()
	ctx := a.ctx
	if ctx.Err() != nil {
		a.mu.Unlock()
		a.logger.Debug("dropping request on closed connection", "id", req.ID)
		return
	}
	a.handlers.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.handlers.Done()
		resp := a.processRequest(ctx, req)
		if ctx.Err() != nil {
			// the connection the request arrived on is gone
			a.logger.Debug("dropping response for closed connection", "id", req.ID)
			return
		}
		header, err := encodeResponsePayload(resp)
		if err == nil {
			err = a.sendMessage(ctx, PayloadTypeResponse, req.ID, header, resp.Streams)
		}
		if err != nil {
			a.logger.Debug("response not sent", "id", req.ID, "error", err)
		}
	}()
}

func (a *ProtocolAdapter) processRequest(ctx context.Context, req *ReceiveRequest) (resp *StreamingResponse) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncrCounter([]string{"streaming", "handler", "panics"}, 1)
			a.logger.Error("request handler panic", "verb", req.Verb, "path", req.Path,
				"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			resp = NewStreamingResponse(http.StatusInternalServerError)
		}
	}()

	if a.handler == nil {
		return NewStreamingResponse(http.StatusNotFound)
	}
	resp, err := a.handler.ProcessRequest(ctx, req)
	if err != nil {
		metrics.IncrCounter([]string{"streaming", "handler", "errors"}, 1)
		a.logger.Error("request handler failed", "verb", req.Verb, "path", req.Path, "error", err)
		return NewStreamingResponse(http.StatusInternalServerError)
	}
	if resp == nil {
		a.logger.Error("request handler returned no response", "verb", req.Verb, "path", req.Path)
		return NewStreamingResponse(http.StatusInternalServerError)
	}
	return resp
}
