// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import (
	"fmt"
	"sync"
	"sync/atomic"

	metrics "github.com/armon/go-metrics"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// Payload is a fully reassembled inbound payload.
type Payload struct {
	Type PayloadType
	ID   uuid.UUID
	Body []byte
}

func (p Payload) String() string {
	return fmt.Sprintf("[Payload %s %s %d]", p.Type, p.ID, len(p.Body))
}

// PayloadDispatcher receives completed payloads from a Receiver. It is
// called on the read goroutine, in wire order; returning an error closes
// the connection. Cancel frames are passed on as empty payloads after the
// Receiver has dropped the matching reassembly buffers.
type PayloadDispatcher interface {
	DispatchPayload(p Payload) error
}

// PayloadDispatcherFunc adapts a function to PayloadDispatcher.
type PayloadDispatcherFunc func(p Payload) error

// DispatchPayload calls f(p).
func (f PayloadDispatcherFunc) DispatchPayload(p Payload) error {
	return f(p)
}

// Receiver reads frames from a socket, reassembles them per id and hands
// completed payloads to a PayloadDispatcher.
type Receiver struct {
	StatsCollector // Where to report statistics (optional)

	logger         hclog.Logger
	maxAssemblies  int
	maxPayloadSize int
	disconnected   disconnectSignal
	serialNumber   uint32

	mu     sync.Mutex // protects socket
	socket Socket
}

var receiverNextSerialNumber uint32

// NewReceiver returns a disconnected Receiver.
func NewReceiver(cfg TransportConfig) *Receiver {
	cfg = cfg.withDefaults()
	return &Receiver{
		StatsCollector: cfg.StatsCollector,
		logger:         cfg.Logger.Named("receiver"),
		maxAssemblies:  cfg.MaxAssemblies,
		maxPayloadSize: cfg.MaxPayloadSize,
		serialNumber:   atomic.AddUint32(&receiverNextSerialNumber, 1),
	}
}

func (r *Receiver) String() string {
	return fmt.Sprintf("[Receiver %x]", r.serialNumber)
}

// OnDisconnect registers fn to be called once for every socket the Receiver
// stops using. It returns a function that removes the registration.
func (r *Receiver) OnDisconnect(fn func(DisconnectEvent)) (unsubscribe func()) {
	return r.disconnected.subscribe(fn)
}

// IsConnected returns true if the Receiver has a socket.
func (r *Receiver) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.socket != nil
}

// Connect starts reading from socket, dispatching payloads to d.
func (r *Receiver) Connect(socket Socket, d PayloadDispatcher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.socket != nil {
		return errors.WithStack(AlreadyConnectedError{})
	}
	r.socket = socket
	go r.readLoop(socket, d)
	return nil
}

// Disconnect closes the current socket, if any.
func (r *Receiver) Disconnect() {
	r.mu.Lock()
	socket := r.socket
	r.mu.Unlock()
	if socket != nil {
		r.disconnect(socket, nil)
	}
}

func (r *Receiver) disconnect(socket Socket, reason error) {
	r.mu.Lock()
	if r.socket != socket {
		r.mu.Unlock()
		return
	}
	r.socket = nil
	r.mu.Unlock()

	if closeErr := socket.Close(); closeErr != nil && !isClosedError(closeErr) {
		r.logger.Debug("socket close failed", "error", closeErr)
	}
	if reason != nil {
		if IsProtocolError(reason) {
			metrics.IncrCounter([]string{"streaming", "receiver", "protocol_errors"}, 1)
			r.logger.Warn("protocol error, closing connection", "error", reason)
		} else {
			r.logger.Debug("disconnected", "error", reason)
		}
	}
	r.disconnected.publish(DisconnectEvent{Socket: socket, Err: reason})
}

func (r *Receiver) readLoop(socket Socket, d PayloadDispatcher) {
	rs := &receiveState{
		receiver:   r,
		dispatcher: d,
		assemblies: make(map[uuid.UUID]*assembly),
	}
	hasCollector := r.StatsCollector != nil
	for {
		chunk, err := socket.Receive()
		if err != nil {
			r.disconnect(socket, errors.Wrap(err, "read"))
			return
		}
		if hasCollector {
			r.StatsCollector.AddBytesRead(int64(len(chunk)))
		}
		metrics.IncrCounter([]string{"streaming", "receiver", "bytes"}, float32(len(chunk)))
		if err = rs.decoder.Feed(chunk, rs.assemble); err != nil {
			r.disconnect(socket, err)
			return
		}
	}
}

// assembly is the reassembly buffer of one in-progress payload.
type assembly struct {
	pt  PayloadType
	buf []byte
}

// receiveState is owned by a single read goroutine.
type receiveState struct {
	receiver   *Receiver
	dispatcher PayloadDispatcher
	decoder    FrameDecoder
	assemblies map[uuid.UUID]*assembly
}

func (rs *receiveState) assemble(f Frame) error {
	r := rs.receiver
	if r.logger.IsTrace() {
		r.logger.Trace("READ", "frame", f.String())
	}
	metrics.IncrCounter([]string{"streaming", "receiver", "frames"}, 1)

	switch f.Type {
	case PayloadTypeCancelAll:
		rs.assemblies = make(map[uuid.UUID]*assembly)
		return rs.dispatch(Payload{Type: f.Type, ID: f.ID})
	case PayloadTypeCancelStream:
		delete(rs.assemblies, f.ID)
		return rs.dispatch(Payload{Type: f.Type, ID: f.ID})
	}

	a := rs.assemblies[f.ID]
	if a == nil {
		if f.End && len(f.Payload) <= r.maxPayloadSize {
			// single frame payload, no need to buffer
			return rs.dispatch(Payload{Type: f.Type, ID: f.ID, Body: f.Payload})
		}
		if len(rs.assemblies) >= r.maxAssemblies {
			return errors.Wrapf(ProtocolError{}, "more than %d payloads in progress", r.maxAssemblies)
		}
		a = &assembly{pt: f.Type}
		rs.assemblies[f.ID] = a
	} else if a.pt != f.Type {
		return errors.Wrapf(ProtocolError{}, "frame type %s for %s payload %s", f.Type, a.pt, f.ID)
	}

	if len(a.buf)+len(f.Payload) > r.maxPayloadSize {
		return errors.Wrapf(ProtocolError{}, "payload %s exceeds %d bytes", f.ID, r.maxPayloadSize)
	}
	a.buf = append(a.buf, f.Payload...)

	if f.End {
		delete(rs.assemblies, f.ID)
		return rs.dispatch(Payload{Type: a.pt, ID: f.ID, Body: a.buf})
	}
	return nil
}

func (rs *receiveState) dispatch(p Payload) error {
	metrics.IncrCounter([]string{"streaming", "receiver", "payloads"}, 1)
	return rs.dispatcher.DispatchPayload(p)
}
