// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import (
	"io"
	"net"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// ProtocolError is the error type used for reporting framing errors,
// all of which are fatal to a connection.
type ProtocolError struct{}

func (ProtocolError) Error() string { return "protocol error" }

// DisconnectedError is returned for requests that could not complete
// because the connection carrying them went away.
type DisconnectedError struct{}

func (DisconnectedError) Error() string { return "disconnected" }

// CancelledError is delivered to a pending request removed by Cancel.
type CancelledError struct{}

func (CancelledError) Error() string { return "request cancelled" }

// DuplicateRequestError is returned when registering an id that is already pending.
type DuplicateRequestError struct{}

func (DuplicateRequestError) Error() string { return "request id already pending" }

// AlreadyConnectedError is returned when connecting a Sender, Receiver or
// Client that is already connected.
type AlreadyConnectedError struct{}

func (AlreadyConnectedError) Error() string { return "already connected" }

// ReconnectError is the terminal error of a Client whose single reconnect attempt failed.
type ReconnectError struct{}

func (ReconnectError) Error() string { return "unable to reconnect" }

// HostClosedError is returned by Host.Serve after Host.Close.
type HostClosedError struct{}

func (HostClosedError) Error() string { return "host closed" }

// ErrHostClosed is returned by the Host's Serve and ListenAndServe methods after a call to Close.
var ErrHostClosed = HostClosedError{}

// IsDisconnected returns true if err reports a lost connection.
func IsDisconnected(err error) bool {
	_, ok := errors.Cause(err).(DisconnectedError)
	return ok
}

// IsProtocolError returns true if err reports a framing error.
func IsProtocolError(err error) bool {
	_, ok := errors.Cause(err).(ProtocolError)
	return ok
}

// isClosedError returns true for errors that merely mean the socket went away.
func isClosedError(err error) bool {
	switch errors.Cause(err) {
	case nil:
		return false
	case DisconnectedError{}:
		return true
	case io.ErrClosedPipe:
		return true
	case io.EOF:
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	return websocket.IsCloseError(errors.Cause(err), websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
