// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	metrics "github.com/armon/go-metrics"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// Sender owns the outbound frame queue of a connection. All frames are
// written by a single writer goroutine per socket, so frame boundaries on
// the wire never interleave.
type Sender struct {
	StatsCollector // Where to report statistics (optional)

	logger       hclog.Logger
	frameSize    int
	queueSize    int
	disconnected disconnectSignal
	serialNumber uint32

	mu       sync.Mutex // protects those below
	socket   Socket
	writeCh  chan Frame
	doneChan chan struct{}
}

var senderNextSerialNumber uint32

// NewSender returns a disconnected Sender.
func NewSender(cfg TransportConfig) *Sender {
	cfg = cfg.withDefaults()
	return &Sender{
		StatsCollector: cfg.StatsCollector,
		logger:         cfg.Logger.Named("sender"),
		frameSize:      cfg.FrameSize,
		queueSize:      cfg.SendQueueSize,
		serialNumber:   atomic.AddUint32(&senderNextSerialNumber, 1),
	}
}

func (s *Sender) String() string {
	return fmt.Sprintf("[Sender %x]", s.serialNumber)
}

// OnDisconnect registers fn to be called once for every socket the Sender
// stops using. It returns a function that removes the registration.
func (s *Sender) OnDisconnect(fn func(DisconnectEvent)) (unsubscribe func()) {
	return s.disconnected.subscribe(fn)
}

// IsConnected returns true if the Sender has a socket.
func (s *Sender) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.socket != nil
}

// Connect starts writing queued frames to socket.
func (s *Sender) Connect(socket Socket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.socket != nil {
		return errors.WithStack(AlreadyConnectedError{})
	}
	s.socket = socket
	s.writeCh = make(chan Frame, s.queueSize)
	s.doneChan = make(chan struct{})
	go s.writeLoop(socket, s.writeCh, s.doneChan)
	return nil
}

// Disconnect closes the current socket, if any. Frames still queued are
// discarded.
func (s *Sender) Disconnect() {
	s.mu.Lock()
	socket := s.socket
	s.mu.Unlock()
	if socket != nil {
		s.disconnect(socket, nil)
	}
}

// disconnect tears down socket if it is still the current one, and publishes
// exactly one DisconnectEvent for it.
func (s *Sender) disconnect(socket Socket, reason error) {
	s.mu.Lock()
	if s.socket != socket {
		s.mu.Unlock()
		return
	}
	s.socket = nil
	close(s.doneChan)
	s.mu.Unlock()

	if closeErr := socket.Close(); closeErr != nil && !isClosedError(closeErr) {
		s.logger.Debug("socket close failed", "error", closeErr)
	}
	if reason != nil {
		s.logger.Debug("disconnected", "error", reason)
	}
	s.disconnected.publish(DisconnectEvent{Socket: socket, Err: reason})
}

// Send queues a frame for writing. It blocks while the queue is full.
// A done ctx is refused before anything is queued.
func (s *Sender) Send(ctx context.Context, f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if f.PayloadLength != len(f.Payload) {
		return errors.Wrapf(ProtocolError{}, "header length %d does not match payload length %d", f.PayloadLength, len(f.Payload))
	}
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}
	s.mu.Lock()
	writeCh, doneChan := s.writeCh, s.doneChan
	connected := s.socket != nil
	s.mu.Unlock()
	if !connected {
		return errors.WithStack(DisconnectedError{})
	}
	select {
	case writeCh <- f:
		return nil
	case <-doneChan:
		return errors.WithStack(DisconnectedError{})
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

// SendPayload splits payload into frames and queues them in order.
func (s *Sender) SendPayload(ctx context.Context, pt PayloadType, id uuid.UUID, payload []byte) error {
	for _, f := range SplitPayload(pt, id, payload, s.frameSize) {
		if err := s.Send(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// writeLoop is the single writer for socket. It stops when doneChan is
// closed or a write fails.
func (s *Sender) writeLoop(socket Socket, writeCh <-chan Frame, doneChan <-chan struct{}) {
	hasCollector := s.StatsCollector != nil
	for {
		var f Frame
		select {
		case <-doneChan:
			return
		case f = <-writeCh:
		}

		buf, err := AppendFrame(FrameBufAlloc(), f)
		if err == nil {
			if s.logger.IsTrace() {
				s.logger.Trace("WRIT", "frame", f.String())
			}
			err = socket.Send(buf)
		}
		written := len(buf)
		FrameBufFree(buf)

		if err != nil {
			s.disconnect(socket, errors.Wrap(err, "write frame"))
			return
		}
		metrics.IncrCounter([]string{"streaming", "sender", "frames"}, 1)
		metrics.IncrCounter([]string{"streaming", "sender", "bytes"}, float32(written))
		if hasCollector {
			s.StatsCollector.AddBytesWritten(int64(written))
		}
	}
}
