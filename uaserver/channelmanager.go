// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package uaserver implements the server-side secure channel lifecycle
// manager (spec.md C5): a registry of open SecureChannels with
// create/open/renew/close, timeout sweeping, and load-shedding purge.
package uaserver

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/imatic-tech/opcua/debug"
	"github.com/imatic-tech/opcua/ua"
	"github.com/imatic-tech/opcua/uacp"
	"github.com/imatic-tech/opcua/uasc"
)

// DiagnosticEvent classifies why a channel left the registry, each bumping a
// distinct statistics counter (open62541's UA_DiagnosticEvent).
type DiagnosticEvent int

const (
	EventClose DiagnosticEvent = iota
	EventTimeout
	EventPurge
	EventReject
	EventSecurityReject
	EventAbort
)

// Stats holds the atomic channel counters spec.md §3 requires. All fields
// are accessed only through atomic ops.
type Stats struct {
	currentChannelCount   int64
	cumulatedChannelCount int64
	channelTimeoutCount   int64
	channelPurgeCount     int64
	rejectedChannelCount  int64
	channelAbortCount     int64
}

func (s *Stats) CurrentChannelCount() int64   { return atomic.LoadInt64(&s.currentChannelCount) }
func (s *Stats) CumulatedChannelCount() int64 { return atomic.LoadInt64(&s.cumulatedChannelCount) }
func (s *Stats) ChannelTimeoutCount() int64   { return atomic.LoadInt64(&s.channelTimeoutCount) }
func (s *Stats) ChannelPurgeCount() int64     { return atomic.LoadInt64(&s.channelPurgeCount) }
func (s *Stats) RejectedChannelCount() int64  { return atomic.LoadInt64(&s.rejectedChannelCount) }
func (s *Stats) ChannelAbortCount() int64     { return atomic.LoadInt64(&s.channelAbortCount) }

// entry is one registered channel, kept in insertion order so
// purgeOldestWithoutSessionLocked always picks the oldest sessionless channel
// (mirrors open62541's TAILQ-ordered channel list).
type entry struct {
	channel    *uasc.SecureChannel
	hasSession int32 // accessed atomically; set by the owner once a session attaches
	elem       *list.Element
}

// ChannelManager is the server-side registry of live SecureChannels
// (spec.md C5). One ChannelManager typically backs one listening endpoint.
type ChannelManager struct {
	cfg *uasc.Config

	mu      sync.Mutex
	order   *list.List // of *entry, insertion order
	byID    map[uint32]*entry
	nextID  uint32

	stats Stats
}

// NewChannelManager builds an empty manager bounded by cfg.MaxSecureChannels.
func NewChannelManager(cfg *uasc.Config) *ChannelManager {
	return &ChannelManager{
		cfg:    cfg,
		order:  list.New(),
		byID:   map[uint32]*entry{},
		nextID: 1,
	}
}

func (m *ChannelManager) Stats() *Stats { return &m.stats }

// CreateFor accepts conn's Hello-negotiated parameters and creates a fresh
// SecureChannel for it, purging the oldest sessionless channel first if the
// registry is at capacity (open62541's purgeFirstChannelWithoutSession).
// Returns StatusBadOutOfMemory if at capacity with nothing purgeable (spec.md
// §7).
func (m *ChannelManager) CreateFor(conn *uacp.Conn) (*uasc.SecureChannel, uint32, error) {
	m.mu.Lock()
	var purged *entry
	if int(m.stats.CurrentChannelCount()) >= m.cfg.MaxSecureChannels {
		purged = m.purgeOldestWithoutSessionLocked()
		if purged == nil {
			m.mu.Unlock()
			atomic.AddInt64(&m.stats.rejectedChannelCount, 1)
			return nil, 0, ua.StatusBadOutOfMemory
		}
	}
	m.mu.Unlock()
	if purged != nil {
		_ = purged.channel.Close(context.Background(), 0)
	}

	sc, err := uasc.NewSecureChannel(conn, m.cfg)
	if err != nil {
		atomic.AddInt64(&m.stats.rejectedChannelCount, 1)
		return nil, 0, err
	}
	sc.MarkServer()

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	e := &entry{channel: sc}
	e.elem = m.order.PushBack(e)
	m.byID[id] = e
	m.mu.Unlock()

	atomic.AddInt64(&m.stats.currentChannelCount, 1)
	atomic.AddInt64(&m.stats.cumulatedChannelCount, 1)
	debug.Printf("uaserver: created channel %d", id)
	return sc, id, nil
}

// Open creates a channel for conn and immediately services its opening OPN
// request, returning the ready SecureChannel and the id it was registered
// under. If the handshake fails it removes the entry from the registry
// (EventSecurityReject/EventAbort) but does not close conn, which the caller
// still owns.
func (m *ChannelManager) Open(ctx context.Context, conn *uacp.Conn) (*uasc.SecureChannel, uint32, error) {
	sc, id, err := m.CreateFor(conn)
	if err != nil {
		return nil, 0, err
	}

	if err := sc.AcceptOpen(ctx, id); err != nil {
		m.mu.Lock()
		if e, ok := m.byID[id]; ok {
			m.removeLocked(e, classifyOpenFailure(err))
		}
		m.mu.Unlock()
		return nil, 0, err
	}
	return sc, id, nil
}

func classifyOpenFailure(err error) DiagnosticEvent {
	switch err {
	case ua.StatusBadSecurityPolicyRejected, ua.StatusBadSecurityChecksFailed, ua.StatusBadSecurityModeRejected:
		return EventSecurityReject
	default:
		return EventAbort
	}
}

// purgeOldestWithoutSessionLocked removes the first channel (in insertion
// order) that has no session attached and returns it so the caller can tear
// down its connection once m.mu is released. Caller must hold m.mu.
func (m *ChannelManager) purgeOldestWithoutSessionLocked() *entry {
	for el := m.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if atomic.LoadInt32(&e.hasSession) != 0 {
			continue
		}
		m.removeLocked(e, EventPurge)
		return e
	}
	return nil
}

// MarkHasSession records that a session has been created on the channel
// owning id, exempting it from purge-under-pressure.
func (m *ChannelManager) MarkHasSession(id uint32, has bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return
	}
	if has {
		atomic.StoreInt32(&e.hasSession, 1)
	} else {
		atomic.StoreInt32(&e.hasSession, 0)
	}
}

// Close removes the channel id from the registry and tears it down with the
// given diagnostic event.
func (m *ChannelManager) Close(ctx context.Context, id uint32, event DiagnosticEvent) error {
	m.mu.Lock()
	e, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return ua.StatusBadChannelIDInvalid
	}
	m.removeLocked(e, event)
	m.mu.Unlock()

	return e.channel.Close(ctx, 0)
}

// removeLocked detaches e from both the map and the order list and updates
// statistics. Caller must hold m.mu.
func (m *ChannelManager) removeLocked(e *entry, event DiagnosticEvent) {
	for id, v := range m.byID {
		if v == e {
			delete(m.byID, id)
			break
		}
	}
	m.order.Remove(e.elem)
	atomic.AddInt64(&m.stats.currentChannelCount, -1)
	switch event {
	case EventClose:
	case EventTimeout:
		atomic.AddInt64(&m.stats.channelTimeoutCount, 1)
	case EventPurge:
		atomic.AddInt64(&m.stats.channelPurgeCount, 1)
	case EventReject, EventSecurityReject:
		atomic.AddInt64(&m.stats.rejectedChannelCount, 1)
	case EventAbort:
		atomic.AddInt64(&m.stats.channelAbortCount, 1)
	}
}

// CleanupTimedOut closes and removes every channel whose token has expired
// against the monotonic clock (EventTimeout), and removes every channel whose
// state is already Closed (EventClose), returning how many it removed
// (open62541's UA_Server_cleanupTimedOutSecureChannels).
func (m *ChannelManager) CleanupTimedOut(ctx context.Context, now time.Time) int {
	m.mu.Lock()
	var expired, closed []*entry
	for el := m.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if e.channel.State() == uasc.ChannelClosed {
			closed = append(closed, e)
			continue
		}
		token := e.channel.Token()
		if token == nil {
			continue
		}
		deadline := e.channel.OpenedAt().Add(time.Duration(token.RevisedLifetime) * time.Millisecond)
		if now.After(deadline) {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		m.removeLocked(e, EventTimeout)
	}
	for _, e := range closed {
		m.removeLocked(e, EventClose)
	}
	m.mu.Unlock()

	for _, e := range expired {
		debug.Printf("uaserver: channel timed out")
		_ = e.channel.Close(ctx, 0)
	}
	return len(expired) + len(closed)
}

// Reap removes id from the registry after its channel has torn itself down
// (peer sent CLO, the connection dropped, or ServeIncoming was cancelled),
// crediting the departure to EventClose. Safe to call even if id was already
// removed by Close or CleanupTimedOut. Callers typically run this right
// after their ServeIncoming goroutine returns.
func (m *ChannelManager) Reap(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return
	}
	m.removeLocked(e, EventClose)
}

// Len reports how many channels are currently registered.
func (m *ChannelManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
