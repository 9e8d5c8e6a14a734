// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import "sync"

// StatsCollector is the interface required to collect statistics
type StatsCollector interface {
	AddBytesWritten(int64)
	AddBytesRead(int64)
}

// DisconnectEvent reports that a Sender or Receiver stopped using Socket.
// Err is nil when the disconnect was requested locally.
type DisconnectEvent struct {
	Socket Socket
	Err    error
}

// disconnectSignal fans disconnect events out to subscribed observers.
type disconnectSignal struct {
	mu        sync.Mutex
	nextID    int
	observers map[int]func(DisconnectEvent)
}

// subscribe registers fn and returns a function that removes it again.
func (ds *disconnectSignal) subscribe(fn func(DisconnectEvent)) (unsubscribe func()) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.observers == nil {
		ds.observers = make(map[int]func(DisconnectEvent))
	}
	id := ds.nextID
	ds.nextID++
	ds.observers[id] = fn
	return func() {
		ds.mu.Lock()
		defer ds.mu.Unlock()
		delete(ds.observers, id)
	}
}

// publish calls every observer with ev. Observers run on the caller's
// goroutine without the signal lock held, so they may unsubscribe.
func (ds *disconnectSignal) publish(ev DisconnectEvent) {
	ds.mu.Lock()
	fns := make([]func(DisconnectEvent), 0, len(ds.observers))
	for _, fn := range ds.observers {
		fns = append(fns, fn)
	}
	ds.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
