// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// Server serves one accepted socket. Requests may flow in both directions:
// inbound requests go to the handler, and Send issues requests to the peer.
// A Server does not reconnect; once its socket is gone it is done.
type Server struct {
	socket       Socket
	sender       *Sender
	receiver     *Receiver
	requests     *RequestManager
	adapter      *ProtocolAdapter
	logger       hclog.Logger
	serialNumber uint32

	mu       sync.Mutex // protects those below
	started  bool
	doneChan chan struct{}
	err      error
}

var serverNextSerialNumber uint32

// NewServer returns a Server for socket. The handler may be nil.
func NewServer(socket Socket, handler RequestHandler, cfg TransportConfig) *Server {
	cfg = cfg.withDefaults()
	srv := &Server{
		socket:       socket,
		sender:       NewSender(cfg),
		receiver:     NewReceiver(cfg),
		requests:     NewRequestManager(),
		doneChan:     make(chan struct{}),
		serialNumber: atomic.AddUint32(&serverNextSerialNumber, 1),
	}
	srv.logger = cfg.Logger.Named("server").With("server", srv.serialNumber)
	cfg.Logger = srv.logger
	srv.adapter = NewProtocolAdapter(handler, srv.requests, srv.sender, cfg)
	srv.sender.OnDisconnect(srv.onDisconnect)
	srv.receiver.OnDisconnect(srv.onDisconnect)
	return srv
}

func (srv *Server) String() string {
	return fmt.Sprintf("[Server %x]", srv.serialNumber)
}

// Start begins reading and writing the socket and blocks until the
// connection ends. It returns the error that ended it, or nil if the
// Server was disconnected locally. If ctx is done first, the Server is
// disconnected and ctx.Err() is returned.
func (srv *Server) Start(ctx context.Context) error {
	srv.mu.Lock()
	if srv.started {
		srv.mu.Unlock()
		return errors.WithStack(AlreadyConnectedError{})
	}
	srv.started = true
	select {
	case <-srv.doneChan:
		srv.mu.Unlock()
		return errors.WithStack(DisconnectedError{})
	default:
	}
	srv.mu.Unlock()

	srv.adapter.open()
	if err := srv.sender.Connect(srv.socket); err != nil {
		srv.shutdown(err)
		return err
	}
	if err := srv.receiver.Connect(srv.socket, srv.adapter); err != nil {
		srv.shutdown(err)
		return err
	}
	srv.logger.Debug("connected")

	var err error
	select {
	case <-srv.doneChan:
		err = srv.Err()
	case <-ctx.Done():
		srv.Disconnect()
		err = errors.WithStack(ctx.Err())
	}
	// a shutdown racing with the connects above may have missed them
	srv.sender.Disconnect()
	srv.receiver.Disconnect()
	srv.adapter.close(err)
	srv.adapter.wait()
	return err
}

// Send issues a request to the peer and waits for its response.
func (srv *Server) Send(ctx context.Context, req *StreamingRequest) (*ReceiveResponse, error) {
	return srv.adapter.SendRequest(ctx, req)
}

// Disconnect closes the socket. Pending requests fail with DisconnectedError.
func (srv *Server) Disconnect() {
	srv.shutdown(nil)
}

// IsConnected returns true while both halves of the connection are running.
func (srv *Server) IsConnected() bool {
	return srv.sender.IsConnected() && srv.receiver.IsConnected()
}

// Done returns a channel that is closed when the connection has ended.
func (srv *Server) Done() <-chan struct{} {
	return srv.doneChan
}

// Err returns the error that ended the connection, if any.
func (srv *Server) Err() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.err
}

func (srv *Server) onDisconnect(ev DisconnectEvent) {
	if ev.Socket != srv.socket {
		return
	}
	srv.shutdown(ev.Err)
}

// shutdown tears down both halves exactly once.
func (srv *Server) shutdown(reason error) {
	srv.mu.Lock()
	select {
	case <-srv.doneChan:
		srv.mu.Unlock()
		return
	default:
	}
	srv.err = reason
	close(srv.doneChan)
	srv.mu.Unlock()

	srv.sender.Disconnect()
	srv.receiver.Disconnect()
	if closeErr := srv.socket.Close(); closeErr != nil && !isClosedError(closeErr) {
		srv.logger.Debug("socket close failed", "error", closeErr)
	}
	if n := srv.adapter.close(reason); n > 0 {
		srv.logger.Debug("rejected pending requests", "count", n)
	}
	srv.logger.Debug("disconnected", "error", reason)
}
