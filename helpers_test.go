package streaming

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const leaktestEnabled = true

const waitTimeout = time.Second * 5

var testID = uuid.MustParse("5e43b0b1-1c3e-4e8f-9a3c-2f1d7c6e0b11")

// fakeSocket is a Socket whose inbound bytes are scripted by the test and
// whose outbound bytes are recorded.
type fakeSocket struct {
	recvCh    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	sent      []byte
	sendErr   error
	closes    int
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		recvCh: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (fs *fakeSocket) Send(p []byte) error {
	select {
	case <-fs.closed:
		return io.ErrClosedPipe
	default:
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.sendErr != nil {
		return fs.sendErr
	}
	fs.sent = append(fs.sent, p...)
	return nil
}

func (fs *fakeSocket) Receive() ([]byte, error) {
	select {
	case b := <-fs.recvCh:
		return b, nil
	case <-fs.closed:
		return nil, io.EOF
	}
}

func (fs *fakeSocket) Close() error {
	fs.mu.Lock()
	fs.closes++
	fs.mu.Unlock()
	fs.closeOnce.Do(func() { close(fs.closed) })
	return nil
}

func (fs *fakeSocket) isClosed() bool {
	select {
	case <-fs.closed:
		return true
	default:
		return false
	}
}

func (fs *fakeSocket) failSends(err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.sendErr = err
}

// feed queues chunk to be returned by Receive.
func (fs *fakeSocket) feed(chunk []byte) {
	fs.recvCh <- chunk
}

// feedFrames queues the wire form of frames as a single chunk.
func (fs *fakeSocket) feedFrames(t *testing.T, frames ...Frame) {
	var buf []byte
	for _, f := range frames {
		var err error
		buf, err = AppendFrame(buf, f)
		require.NoError(t, err)
	}
	fs.feed(buf)
}

// sentFrames decodes everything written to the socket so far.
func (fs *fakeSocket) sentFrames(t *testing.T) (frames []Frame) {
	fs.mu.Lock()
	sent := append([]byte(nil), fs.sent...)
	fs.mu.Unlock()
	var fd FrameDecoder
	require.NoError(t, fd.Feed(sent, func(f Frame) error {
		frames = append(frames, f)
		return nil
	}))
	require.Zero(t, fd.Buffered())
	return
}

// pipeSockets returns two connected in-memory sockets.
func pipeSockets() (a, b *NetSocket) {
	ca, cb := net.Pipe()
	return NewNetSocket(ca), NewNetSocket(cb)
}

// startServer runs srv.Start on its own goroutine and waits until it is connected.
// The returned channel receives the result of Start.
func startServer(t *testing.T, srv *Server) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(context.Background()) }()
	require.Eventually(t, srv.IsConnected, waitTimeout, time.Millisecond)
	return errCh
}

// pipeDialer hands out in-memory sockets, running a Server on the far end
// of each.
type pipeDialer struct {
	handler RequestHandler
	mu      sync.Mutex
	dials   int
	fail    bool
	servers []*Server
}

func (pd *pipeDialer) Dial(ctx context.Context, target string) (Socket, error) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	pd.dials++
	if pd.fail {
		return nil, errors.New("connection refused")
	}
	a, b := pipeSockets()
	srv := NewServer(b, pd.handler, TransportConfig{})
	pd.servers = append(pd.servers, srv)
	go srv.Start(context.Background())
	return a, nil
}

func (pd *pipeDialer) setFail(fail bool) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	pd.fail = fail
}

func (pd *pipeDialer) dialCount() int {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.dials
}

func (pd *pipeDialer) server(n int) *Server {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.servers[n]
}

// testHandler answers GET /ping with "pong", echoes /echo, fails /fail,
// panics on /panic and waits for its context on /block.
type testHandler struct {
	mu      sync.Mutex
	served  int
	blocked chan struct{} // receives when a /block request starts
	release chan struct{} // closed to let /block requests finish
}

func newTestHandler() *testHandler {
	return &testHandler{
		blocked: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (th *testHandler) ProcessRequest(ctx context.Context, req *ReceiveRequest) (*StreamingResponse, error) {
	th.mu.Lock()
	th.served++
	th.mu.Unlock()
	switch req.Path {
	case "/ping":
		resp := NewStreamingResponse(200)
		resp.AddStream("text/plain", []byte("pong"))
		return resp, nil
	case "/echo":
		resp := NewStreamingResponse(200)
		for _, cs := range req.Streams {
			resp.AddStream(cs.ContentType, cs.Body)
		}
		return resp, nil
	case "/fail":
		return nil, errors.New("handler failed")
	case "/panic":
		panic("handler panic")
	case "/nil":
		return nil, nil
	case "/block":
		th.blocked <- struct{}{}
		select {
		case <-th.release:
		case <-ctx.Done():
		}
		resp := NewStreamingResponse(200)
		resp.AddStream("text/plain", []byte("late"))
		return resp, nil
	}
	return NewStreamingResponse(404), nil
}

func (th *testHandler) servedCount() int {
	th.mu.Lock()
	defer th.mu.Unlock()
	return th.served
}
