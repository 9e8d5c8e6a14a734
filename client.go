// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	metrics "github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// ClientState is the connection state of a Client.
type ClientState int32

const (
	// StateIdle is the state of a Client that has never connected.
	StateIdle ClientState = iota
	// StateConnecting is the state while the socket handshake runs.
	StateConnecting
	// StateConnected is the state while a socket is wired to the Sender and Receiver.
	StateConnected
	// StateDisconnected is the state after the connection was lost or closed.
	StateDisconnected
)

func (cs ClientState) String() string {
	switch cs {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnected:
		return "Disconnected"
	}
	return fmt.Sprintf("ClientState(%d)", int32(cs))
}

// Client dials a streaming server and keeps one connection to it.
//
// With AutoReconnect set, each lost connection is followed by exactly one
// reconnect attempt. If that attempt fails the Client stays Disconnected,
// Done is closed and Err returns a ReconnectError.
type Client struct {
	Target string // the address to dial

	dialer        Dialer
	dialTimeout   time.Duration
	autoReconnect bool
	sender        *Sender
	receiver      *Receiver
	requests      *RequestManager
	adapter       *ProtocolAdapter
	logger        hclog.Logger
	serialNumber  uint32

	mu          sync.Mutex // protects those below
	state       ClientState
	socket      Socket
	closing     bool
	doneChan    chan struct{}
	err         error
	lastError   error
	lastAttempt time.Time
	connects    int
}

var clientNextSerialNumber uint32

// NewClient returns an idle Client. No connection is made until Connect.
func NewClient(cfg ClientConfig) (*Client, error) {
	dialer := cfg.Dialer
	if dialer == nil {
		var err error
		if dialer, err = DialerFor(cfg.Target); err != nil {
			return nil, err
		}
	}
	tc := cfg.Transport.withDefaults()
	c := &Client{
		Target:        cfg.Target,
		dialer:        dialer,
		dialTimeout:   cfg.DialTimeout,
		autoReconnect: cfg.AutoReconnect,
		requests:      NewRequestManager(),
		serialNumber:  atomic.AddUint32(&clientNextSerialNumber, 1),
	}
	c.logger = tc.Logger.Named("client").With("target", cfg.Target)
	tc.Logger = c.logger
	c.sender = NewSender(tc)
	c.receiver = NewReceiver(tc)
	c.adapter = NewProtocolAdapter(cfg.Handler, c.requests, c.sender, tc)
	c.sender.OnDisconnect(c.onDisconnect)
	c.receiver.OnDisconnect(c.onDisconnect)
	return c, nil
}

func (c *Client) String() string {
	return fmt.Sprintf("[Client %x %s]", c.serialNumber, c.State())
}

// Connect dials the target and wires the socket. It fails with
// AlreadyConnectedError while connecting or connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return errors.WithStack(AlreadyConnectedError{})
	}
	c.state = StateConnecting
	c.closing = false
	if ch := c.doneChan; ch != nil {
		select {
		case <-ch:
			c.doneChan = nil
			c.err = nil
		default:
		}
	}
	c.getDoneChanLocked()
	c.mu.Unlock()

	err := c.connect(ctx)
	if err != nil {
		c.finish(err)
	}
	return err
}

// connect performs one dial and, on success, moves to StateConnected.
func (c *Client) connect(ctx context.Context) error {
	if c.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.dialTimeout)
		defer cancel()
	}
	socket, err := c.dialer.Dial(ctx, c.Target)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastAttempt = time.Now()
	c.connects++
	if err != nil {
		c.lastError = err
		c.logger.Debug("dial failed", "error", err)
		return errors.Wrapf(err, "connect %s", c.Target)
	}
	c.lastError = nil
	if c.closing {
		socket.Close()
		return errors.Wrap(DisconnectedError{}, "client closed while connecting")
	}

	c.socket = socket
	c.adapter.open()
	if err = c.sender.Connect(socket); err == nil {
		err = c.receiver.Connect(socket, c.adapter)
	}
	if err != nil {
		c.socket = nil
		socket.Close()
		return err
	}
	c.state = StateConnected
	c.logger.Debug("connected")
	return nil
}

// Send issues a request to the server and waits for its response.
func (c *Client) Send(ctx context.Context, req *StreamingRequest) (*ReceiveResponse, error) {
	return c.adapter.SendRequest(ctx, req)
}

// Disconnect closes the connection without reconnecting. Pending requests
// fail with DisconnectedError.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closing = true
	socket := c.socket
	c.mu.Unlock()

	if socket != nil {
		c.sender.Disconnect()
		c.receiver.Disconnect()
	}
	c.finish(nil)
}

// State returns the current connection state.
func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected returns true in StateConnected.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Done returns a channel that is closed when the Client has stopped for
// good: after Disconnect, after a drop with AutoReconnect unset, or after a
// failed reconnect attempt. A later Connect starts a new channel.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getDoneChanLocked()
}

// Err returns the error that stopped the Client, or nil.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Connects returns the number of dial attempts made so far.
func (c *Client) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

// LastAttempt returns when the most recent dial attempt was made, and its error.
func (c *Client) LastAttempt() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAttempt, c.lastError
}

func (c *Client) getDoneChanLocked() chan struct{} {
	if c.doneChan == nil {
		c.doneChan = make(chan struct{})
	}
	return c.doneChan
}

// finish moves to StateDisconnected and closes the done channel once.
func (c *Client) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateDisconnected
	ch := c.getDoneChanLocked()
	select {
	case <-ch:
	default:
		c.err = err
		close(ch)
	}
}

// onDisconnect handles the single disconnect event of the current socket.
// Events for earlier sockets are ignored.
func (c *Client) onDisconnect(ev DisconnectEvent) {
	c.mu.Lock()
	if c.socket == nil || ev.Socket != c.socket {
		c.mu.Unlock()
		return
	}
	c.socket = nil
	c.state = StateDisconnected
	reconnect := c.autoReconnect && !c.closing
	c.mu.Unlock()

	c.sender.Disconnect()
	c.receiver.Disconnect()
	if n := c.adapter.close(ev.Err); n > 0 {
		c.logger.Debug("rejected pending requests", "count", n)
	}
	if !reconnect {
		if ev.Err != nil {
			c.logger.Info("disconnected", "error", ev.Err)
		}
		c.finish(ev.Err)
		return
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		c.finish(nil)
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	metrics.IncrCounter([]string{"streaming", "client", "reconnects"}, 1)
	c.logger.Info("connection lost, reconnecting", "error", ev.Err)
	if err := c.connect(context.Background()); err != nil {
		c.logger.Error("reconnect failed", "error", err)
		c.finish(errors.Wrap(ReconnectError{}, err.Error()))
	}
}
