// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const webSocketCloseTimeout = time.Second

// WebSocket adapts a gorilla websocket connection to Socket.
// Every Send becomes one binary message.
type WebSocket struct {
	conn      *websocket.Conn
	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocket wraps conn.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	return &WebSocket{conn: conn}
}

func (ws *WebSocket) String() string {
	return fmt.Sprintf("[WebSocket %v]", ws.conn.RemoteAddr())
}

// Send writes p as a binary message.
func (ws *WebSocket) Send(p []byte) error {
	ws.wmu.Lock()
	defer ws.wmu.Unlock()
	return ws.conn.WriteMessage(websocket.BinaryMessage, p)
}

// Receive returns the next message. Text and binary messages are treated alike.
// It must only be called from one goroutine at a time.
func (ws *WebSocket) Receive() ([]byte, error) {
	for {
		_, p, err := ws.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if len(p) > 0 {
			return p, nil
		}
	}
}

// Close sends a close message and closes the connection.
func (ws *WebSocket) Close() error {
	ws.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = ws.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(webSocketCloseTimeout))
		ws.closeErr = ws.conn.Close()
	})
	return ws.closeErr
}

// WebSocketDialer dials ws:// and wss:// targets.
type WebSocketDialer struct {
	Dialer *websocket.Dialer // if nil, websocket.DefaultDialer is used
	Header http.Header       // extra handshake headers
}

// Dial performs the websocket handshake with target.
func (wd *WebSocketDialer) Dial(ctx context.Context, target string) (Socket, error) {
	d := wd.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	conn, resp, err := d.DialContext(ctx, target, wd.Header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "websocket handshake with %s: %s", target, resp.Status)
		}
		return nil, errors.Wrapf(err, "websocket handshake with %s", target)
	}
	return NewWebSocket(conn), nil
}

// UpgradeWebSocket upgrades an HTTP request to a WebSocket Socket.
func UpgradeWebSocket(upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) (*WebSocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return NewWebSocket(conn), nil
}
