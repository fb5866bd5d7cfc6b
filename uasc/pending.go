// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package uasc

import (
	"sync"
	"time"

	"github.com/imatic-tech/opcua/ua"
)

// pendingCall is one in-flight request awaiting a response, keyed by the
// RequestID it was sent under (spec.md C6).
type pendingCall struct {
	requestID uint32
	deadline  time.Time
	done      chan struct{}
	once      sync.Once
	callback  func(body []byte, err error)
}

func (p *pendingCall) complete(body []byte, err error) {
	p.once.Do(func() {
		p.callback(body, err)
		close(p.done)
	})
}

// PendingCallRegistry tracks outstanding asynchronous calls and guarantees
// each is completed exactly once: by its matching response, by a timeout
// sweep, or by a drain on teardown (spec.md C6).
type PendingCallRegistry struct {
	mu      sync.Mutex
	calls   map[uint32]*pendingCall
	nextID  uint32
}

func NewPendingCallRegistry() *PendingCallRegistry {
	return &PendingCallRegistry{calls: map[uint32]*pendingCall{}, nextID: 1}
}

// Register allocates a fresh RequestID and tracks cb as its completion.
// deadline is enforced only by SweepTimeouts, which completes the call with
// StatusBadTimeout once a sweep runs after the deadline; SecureChannel does
// not call SweepTimeouts itself, so an unanswered call stays registered until
// a sweep or Drain completes it.
func (r *PendingCallRegistry) Register(deadline time.Time, cb func(body []byte, err error)) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.calls[id] = &pendingCall{requestID: id, deadline: deadline, done: make(chan struct{}), callback: cb}
	return id
}

// Dispatch completes the pending call for requestID with body, or reports
// StatusBadRequestIDInvalid if no such call is outstanding (duplicate or
// unsolicited response).
func (r *PendingCallRegistry) Dispatch(requestID uint32, body []byte) error {
	r.mu.Lock()
	call, ok := r.calls[requestID]
	if ok {
		delete(r.calls, requestID)
	}
	r.mu.Unlock()
	if !ok {
		return ua.StatusBadRequestIDInvalid
	}
	call.complete(body, nil)
	return nil
}

// DispatchError completes the pending call for requestID with status instead
// of a body, e.g. an abort chunk or a token rejected mid-reassembly. Reports
// StatusBadRequestIDInvalid if no such call is outstanding.
func (r *PendingCallRegistry) DispatchError(requestID uint32, status error) error {
	r.mu.Lock()
	call, ok := r.calls[requestID]
	if ok {
		delete(r.calls, requestID)
	}
	r.mu.Unlock()
	if !ok {
		return ua.StatusBadRequestIDInvalid
	}
	call.complete(nil, status)
	return nil
}

// Cancel removes id without invoking its callback, for a caller that still
// owns reporting the failure itself (e.g. a write error right after
// Register, before the call was ever at risk of a real response).
func (r *PendingCallRegistry) Cancel(id uint32) {
	r.mu.Lock()
	delete(r.calls, id)
	r.mu.Unlock()
}

// SweepTimeouts completes every call whose deadline is at or before now
// with StatusBadTimeout, returning how many were swept.
func (r *PendingCallRegistry) SweepTimeouts(now time.Time) int {
	r.mu.Lock()
	var expired []*pendingCall
	for id, call := range r.calls {
		if !call.deadline.IsZero() && !now.Before(call.deadline) {
			expired = append(expired, call)
			delete(r.calls, id)
		}
	}
	r.mu.Unlock()
	for _, call := range expired {
		call.complete(nil, ua.StatusBadTimeout)
	}
	return len(expired)
}

// Drain completes every outstanding call with StatusBadShutdown. Called when
// the owning SecureChannel or connection tears down.
func (r *PendingCallRegistry) Drain() {
	r.mu.Lock()
	calls := make([]*pendingCall, 0, len(r.calls))
	for id, call := range r.calls {
		calls = append(calls, call)
		delete(r.calls, id)
	}
	r.mu.Unlock()
	for _, call := range calls {
		call.complete(nil, ua.StatusBadShutdown)
	}
}

// Len reports the number of outstanding calls, used by tests and diagnostics.
func (r *PendingCallRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
