// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"

	"github.com/pkg/errors"
)

// Socket is a connected duplex byte transport.
//
// Send writes p as one unit and must not retain it after returning.
// Receive blocks until bytes arrive; chunk boundaries carry no meaning.
// A Receive error is the close notification. Close must be safe to call
// more than once and from any goroutine, and must unblock Send and Receive.
type Socket interface {
	Send(p []byte) error
	Receive() ([]byte, error)
	Close() error
}

// Dialer opens a Socket to a target address.
type Dialer interface {
	Dial(ctx context.Context, target string) (Socket, error)
}

// DialerFor selects the Dialer matching the target's URL scheme: ws and wss
// use a WebSocketDialer, tcp and unix use a NetDialer.
func DialerFor(target string) (Dialer, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid target %q", target)
	}
	switch u.Scheme {
	case "ws", "wss":
		return &WebSocketDialer{}, nil
	case "tcp", "tcp4", "tcp6", "unix":
		return &NetDialer{}, nil
	}
	return nil, errors.Errorf("no dialer for scheme %q in target %q", u.Scheme, target)
}

// NetSocket adapts a native stream connection (TCP or unix domain socket) to Socket.
type NetSocket struct {
	conn      net.Conn
	buf       []byte
	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewNetSocket wraps conn.
func NewNetSocket(conn net.Conn) *NetSocket {
	return &NetSocket{
		conn: conn,
		buf:  make([]byte, FrameMaxSize),
	}
}

func (ns *NetSocket) String() string {
	return fmt.Sprintf("[NetSocket %v]", ns.conn.RemoteAddr())
}

// Send writes p to the connection.
func (ns *NetSocket) Send(p []byte) error {
	ns.wmu.Lock()
	defer ns.wmu.Unlock()
	_, err := ns.conn.Write(p)
	return err
}

// Receive returns the next chunk read from the connection.
// It must only be called from one goroutine at a time.
func (ns *NetSocket) Receive() ([]byte, error) {
	n, err := ns.conn.Read(ns.buf)
	if n > 0 {
		chunk := make([]byte, n)
		copy(chunk, ns.buf[:n])
		return chunk, nil
	}
	return nil, err
}

// Close closes the connection.
func (ns *NetSocket) Close() error {
	ns.closeOnce.Do(func() {
		ns.closeErr = ns.conn.Close()
	})
	return ns.closeErr
}

// NetDialer dials native stream sockets. Targets are tcp://host:port or
// unix:///path/to/socket; a bare host:port is dialed over TCP.
type NetDialer struct {
	net.Dialer
}

// Dial connects to target.
func (nd *NetDialer) Dial(ctx context.Context, target string) (Socket, error) {
	network, address := "tcp", target
	if u, err := url.Parse(target); err == nil && u.Scheme != "" && u.Opaque == "" {
		network = u.Scheme
		if network == "unix" {
			address = u.Path
		} else {
			address = u.Host
		}
	}
	conn, err := nd.DialContext(ctx, network, address)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return NewNetSocket(conn), nil
}
