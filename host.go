// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	metrics "github.com/armon/go-metrics"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Host accepts incoming sockets and runs a Server for each of them.
// Native sockets are accepted with Serve; WebSocket connections arrive
// through ServeHTTP.
type Host struct {
	Addr       string              // TCP address to listen on, DefaultListenAddr if empty
	Handler    RequestHandler      // handler to invoke for inbound requests
	MaxServers int                 // maximum number of concurrent Servers, zero for no limit
	Upgrader   *websocket.Upgrader // used by ServeHTTP, a permissive default if nil
	Transport  TransportConfig     // settings for every Server

	logger        hclog.Logger
	listeners     map[net.Listener]struct{}
	bytesWritten  int64
	bytesRead     int64
	mu            sync.Mutex
	serveErrorsMu sync.Mutex
	serveErrors   map[string]int
	serverLimiter chan struct{}
	doneChan      chan struct{}
	activeServers map[*Server]struct{}
	serving       sync.WaitGroup
}

// NewHost returns a Host configured by cfg.
func NewHost(cfg HostConfig, handler RequestHandler) *Host {
	return &Host{
		Addr:       cfg.Addr,
		Handler:    handler,
		MaxServers: cfg.MaxServers,
		Transport:  cfg.Transport,
	}
}

var defaultUpgrader = &websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// tcpKeepAliveListener sets TCP keep-alive timeouts on accepted
// network connections so dead peers eventually go away.
type tcpKeepAliveListener struct {
	*net.TCPListener
}

func (ln tcpKeepAliveListener) Accept() (c net.Conn, err error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return
	}
	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(3 * time.Minute)
	return tc, nil
}

func (h *Host) getLogger() hclog.Logger {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.logger == nil {
		if h.Transport.Logger != nil {
			h.logger = h.Transport.Logger.Named("host")
		} else {
			h.logger = hclog.NewNullLogger()
		}
	}
	return h.logger
}

// Listen announces on the local network address.
func (h *Host) Listen(address string) (net.Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err == nil {
		h.Addr = ln.Addr().String()
		ln = tcpKeepAliveListener{ln.(*net.TCPListener)}
	}
	return ln, errors.WithStack(err)
}

func (h *Host) getListenAddr(addr string) string {
	if addr == "" {
		return DefaultListenAddr
	}
	return addr
}

// ListenAndServe listens on the TCP network address h.Addr and then calls
// Serve to handle incoming native sockets.
func (h *Host) ListenAndServe() (err error) {
	listener, err := h.Listen(h.getListenAddr(h.Addr))
	if err == nil {
		err = h.Serve(listener)
	}
	return
}

// Serve accepts incoming network connections on the Listener l, running a
// Server for each on its own goroutine. It returns ErrHostClosed after Close.
func (h *Host) Serve(l net.Listener) error {
	defer l.Close()
	var tempDelay time.Duration // how long to sleep on accept failure

	if err := func() error {
		h.mu.Lock()
		defer h.mu.Unlock()
		select {
		case <-h.getDoneChanLocked():
			return ErrHostClosed
		default:
		}
		h.trackListenerLocked(l, true)
		return nil
	}(); err != nil {
		return err
	}
	defer h.trackListener(l, false)

	logger := h.getLogger()
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-h.getDoneChan():
				return ErrHostClosed
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				logger.Warn("accept failed, retrying", "error", err, "delay", tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return errors.WithStack(err)
		}
		tempDelay = 0
		h.acquire()
		if !h.startServing() {
			h.release()
			conn.Close()
			return ErrHostClosed
		}
		go func() {
			defer h.serving.Done()
			defer h.release()
			h.serveSocket(NewNetSocket(conn))
		}()
	}
}

// ServeHTTP upgrades the request to a WebSocket and serves it until the
// connection closes.
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.startServing() {
		http.Error(w, ErrHostClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	defer h.serving.Done()
	upgrader := h.Upgrader
	if upgrader == nil {
		upgrader = defaultUpgrader
	}
	socket, err := UpgradeWebSocket(upgrader, w, r)
	if err != nil {
		// the upgrader has already replied to the client
		h.getLogger().Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	h.acquire()
	defer h.release()
	h.serveSocket(socket)
}

// startServing registers one more connection for Close to wait for. It
// returns false once the Host is closed.
func (h *Host) startServing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.getDoneChanLocked():
		return false
	default:
	}
	h.serving.Add(1)
	return true
}

func (h *Host) serveSocket(socket Socket) {
	cfg := h.Transport
	cfg.Logger = h.getLogger()
	cfg.StatsCollector = h
	srv := NewServer(socket, h.Handler, cfg)
	if !h.trackServer(srv, true) {
		srv.Disconnect()
		return
	}
	defer h.trackServer(srv, false)

	metrics.IncrCounter([]string{"streaming", "host", "accepted"}, 1)
	if err := srv.Start(context.Background()); err != nil && !isClosedError(err) {
		h.serveErrorsMu.Lock()
		defer h.serveErrorsMu.Unlock()
		if h.serveErrors == nil {
			h.serveErrors = make(map[string]int)
		}
		h.serveErrors[errors.Cause(err).Error()]++
	}
}

// ServeErrors returns a copy of the serve errors map
func (h *Host) ServeErrors() map[string]int {
	h.serveErrorsMu.Lock()
	defer h.serveErrorsMu.Unlock()
	m := make(map[string]int)
	for k, v := range h.serveErrors {
		m[k] = v
	}
	return m
}

func (h *Host) trackListener(ln net.Listener, add bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trackListenerLocked(ln, add)
}

func (h *Host) trackListenerLocked(ln net.Listener, add bool) {
	if h.listeners == nil {
		h.listeners = make(map[net.Listener]struct{})
	}
	if add {
		h.listeners[ln] = struct{}{}
	} else {
		delete(h.listeners, ln)
	}
}

// trackServer returns false if the Host was closed before srv could be added.
func (h *Host) trackServer(srv *Server, add bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.activeServers == nil {
		h.activeServers = make(map[*Server]struct{})
	}
	if !add {
		delete(h.activeServers, srv)
		return true
	}
	select {
	case <-h.getDoneChanLocked():
		return false
	default:
	}
	h.activeServers[srv] = struct{}{}
	return true
}

func (h *Host) getDoneChan() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.getDoneChanLocked()
}

func (h *Host) getDoneChanLocked() chan struct{} {
	if h.doneChan == nil {
		h.doneChan = make(chan struct{})
	}
	return h.doneChan
}

func (h *Host) closeDoneChanLocked() {
	ch := h.getDoneChanLocked()
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (h *Host) getServerLimiter() chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.serverLimiter == nil && h.MaxServers > 0 {
		h.serverLimiter = make(chan struct{}, h.MaxServers)
	}
	return h.serverLimiter
}

// acquire waits for a free Server slot when MaxServers is set.
func (h *Host) acquire() {
	if limiter := h.getServerLimiter(); limiter != nil {
		limiter <- struct{}{}
	}
}

func (h *Host) release() {
	if limiter := h.getServerLimiter(); limiter != nil {
		<-limiter
	}
}

func (h *Host) closeListenersLocked() error {
	var result error
	for ln := range h.listeners {
		if err := ln.Close(); err != nil && !isClosedError(err) {
			result = multierror.Append(result, err)
		}
		delete(h.listeners, ln)
	}
	return result
}

// Close immediately closes all listeners and disconnects all active Servers,
// then waits for them to finish.
func (h *Host) Close() error {
	h.mu.Lock()
	h.closeDoneChanLocked()
	err := h.closeListenersLocked()
	servers := make([]*Server, 0, len(h.activeServers))
	for srv := range h.activeServers {
		servers = append(servers, srv)
		delete(h.activeServers, srv)
	}
	h.mu.Unlock()

	for _, srv := range servers {
		srv.Disconnect()
	}
	h.serving.Wait()
	return err
}

// ActiveServers returns the number of connections currently being served.
func (h *Host) ActiveServers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.activeServers)
}

// AddBytesWritten adds n to the number of bytes written statistic.
func (h *Host) AddBytesWritten(n int64) {
	atomic.AddInt64(&h.bytesWritten, n)
}

// BytesWritten returns the current number of bytes written.
func (h *Host) BytesWritten() int64 {
	return atomic.LoadInt64(&h.bytesWritten)
}

// AddBytesRead adds n to the number of bytes read statistic.
func (h *Host) AddBytesRead(n int64) {
	atomic.AddInt64(&h.bytesRead, n)
}

// BytesRead returns the current number of bytes read.
func (h *Host) BytesRead() int64 {
	return atomic.LoadInt64(&h.bytesRead)
}
