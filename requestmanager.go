// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import (
	"sync"
	"time"

	metrics "github.com/armon/go-metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Result is the outcome of a pending request: a response or an error.
type Result struct {
	Response *ReceiveResponse
	Err      error
}

type pendingRequest struct {
	id       uuid.UUID
	resultCh chan Result // buffered, receives exactly one Result
	started  time.Time
}

// RequestManager correlates outbound request ids with the callers waiting
// for their responses. It is the only owner of the pending map.
type RequestManager struct {
	mu      sync.Mutex
	pending map[uuid.UUID]*pendingRequest
}

// NewRequestManager returns an empty RequestManager.
func NewRequestManager() *RequestManager {
	return &RequestManager{
		pending: make(map[uuid.UUID]*pendingRequest),
	}
}

// Register adds a pending entry for id. The returned channel receives
// exactly one Result once the entry is resolved, cancelled or rejected.
func (rm *RequestManager) Register(id uuid.UUID) (<-chan Result, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if _, ok := rm.pending[id]; ok {
		return nil, errors.Wrapf(DuplicateRequestError{}, "request %s", id)
	}
	pr := &pendingRequest{
		id:       id,
		resultCh: make(chan Result, 1),
		started:  time.Now(),
	}
	rm.pending[id] = pr
	rm.setGaugeLocked()
	return pr.resultCh, nil
}

// take removes and returns the entry for id, or nil.
func (rm *RequestManager) take(id uuid.UUID) *pendingRequest {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	pr := rm.pending[id]
	if pr != nil {
		delete(rm.pending, id)
		rm.setGaugeLocked()
	}
	return pr
}

// Resolve completes the entry for id with resp. Unknown ids are ignored,
// as they belong to late or duplicate deliveries; the return value
// reports whether an entry was resolved.
func (rm *RequestManager) Resolve(id uuid.UUID, resp *ReceiveResponse) bool {
	pr := rm.take(id)
	if pr == nil {
		return false
	}
	metrics.MeasureSince([]string{"streaming", "request", "latency"}, pr.started)
	pr.resultCh <- Result{Response: resp}
	return true
}

// Cancel removes the entry for id and delivers a CancelledError to it.
// It returns false if id was not pending.
func (rm *RequestManager) Cancel(id uuid.UUID) bool {
	pr := rm.take(id)
	if pr == nil {
		return false
	}
	metrics.IncrCounter([]string{"streaming", "request", "cancelled"}, 1)
	pr.resultCh <- Result{Err: errors.Wrapf(CancelledError{}, "request %s", id)}
	return true
}

// RejectAll removes every pending entry, delivering err to each.
// It returns the number of entries rejected.
func (rm *RequestManager) RejectAll(err error) int {
	rm.mu.Lock()
	pending := rm.pending
	rm.pending = make(map[uuid.UUID]*pendingRequest)
	rm.setGaugeLocked()
	rm.mu.Unlock()

	for _, pr := range pending {
		pr.resultCh <- Result{Err: err}
	}
	return len(pending)
}

// IsPending returns true if id has a pending entry.
func (rm *RequestManager) IsPending(id uuid.UUID) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	_, ok := rm.pending[id]
	return ok
}

// Pending returns the number of pending entries.
func (rm *RequestManager) Pending() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.pending)
}

func (rm *RequestManager) setGaugeLocked() {
	metrics.SetGauge([]string{"streaming", "request", "pending"}, float32(len(rm.pending)))
}
