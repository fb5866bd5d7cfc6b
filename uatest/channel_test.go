// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package uatest exercises the client side of the secure channel
// (uasc.SecureChannel) against a real server-side channel manager (spec.md C5) over TCP
// loopback. It replaces the reference client's Python-server-backed
// integration tests, which this core has no fixture for: session and
// service dispatch (CreateSession, Read, Write, Browse, ...) are an
// external collaborator per spec.md §6, so these tests stop at the
// secure-channel boundary, which is fully self-contained.
package uatest

import (
	"context"
	"testing"
	"time"

	"github.com/imatic-tech/opcua/uacp"
	"github.com/imatic-tech/opcua/uasc"
	"github.com/imatic-tech/opcua/uaserver"
)

// testServer is a minimal OPC UA TCP server that only services the secure
// channel lifecycle: Hello/Acknowledge, OpenSecureChannel (issue/renew) and
// CloseSecureChannel, via uaserver.ChannelManager. It answers no session or
// application services.
type testServer struct {
	ln  *uacp.Listener
	mgr *uaserver.ChannelManager
}

func startTestServer(t *testing.T, cfg *uasc.Config) *testServer {
	t.Helper()
	ln, err := uacp.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	s := &testServer{ln: ln, mgr: uaserver.NewChannelManager(cfg)}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for {
			conn, _, err := ln.Accept(ctx)
			if err != nil {
				return
			}
			go s.handle(ctx, conn)
		}
	}()

	t.Cleanup(func() {
		cancel()
		ln.Close()
	})
	return s
}

func (s *testServer) handle(ctx context.Context, conn *uacp.Conn) {
	sc, id, err := s.mgr.Open(ctx, conn)
	if err != nil {
		conn.Close()
		return
	}
	sc.ServeIncoming(ctx)
	s.mgr.Reap(id)
}

func (s *testServer) endpoint() string { return "opc.tcp://" + s.ln.Addr().String() }

// TestChannelOpenAndClose dials a server, opens a secure channel, and closes
// it, checking the server's registry reflects each transition.
func TestChannelOpenAndClose(t *testing.T) {
	serverCfg, _ := uasc.ApplyConfig()
	srv := startTestServer(t, serverCfg)

	clientCfg, _ := uasc.ApplyConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := uacp.Dial(ctx, srv.endpoint())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	sc, err := uasc.NewSecureChannel(conn, clientCfg)
	if err != nil {
		t.Fatalf("NewSecureChannel: %v", err)
	}

	if err := sc.Open(ctx, 1); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := sc.State(); got != uasc.ChannelOpen {
		t.Fatalf("client State() = %v, want Open", got)
	}
	if sc.ChannelID() == 0 {
		t.Fatalf("ChannelID() = 0, want nonzero")
	}

	waitFor(t, func() bool { return srv.mgr.Stats().CurrentChannelCount() == 1 })

	go sc.ServeIncoming(ctx)

	if err := sc.Close(ctx, 2); err != nil {
		t.Fatalf("Close: %v", err)
	}

	waitFor(t, func() bool { return srv.mgr.Stats().CurrentChannelCount() == 0 })
	if got := srv.mgr.Stats().CumulatedChannelCount(); got != 1 {
		t.Fatalf("CumulatedChannelCount() = %d, want 1", got)
	}
}

// TestChannelRenew opens a channel, renews its token ahead of expiry, and
// confirms the channel stays Open with a fresh token.
func TestChannelRenew(t *testing.T) {
	serverCfg, _ := uasc.ApplyConfig(uasc.MaxSecurityTokenLifetime(60 * 1000))
	srv := startTestServer(t, serverCfg)

	clientCfg, _ := uasc.ApplyConfig(uasc.Lifetime(60 * 1000))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := uacp.Dial(ctx, srv.endpoint())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	sc, err := uasc.NewSecureChannel(conn, clientCfg)
	if err != nil {
		t.Fatalf("NewSecureChannel: %v", err)
	}
	if err := sc.Open(ctx, 1); err != nil {
		t.Fatalf("Open: %v", err)
	}
	firstToken := sc.Token()

	go sc.ServeIncoming(ctx)

	if err := sc.Renew(ctx, 2); err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if got := sc.State(); got != uasc.ChannelOpen {
		t.Fatalf("State() after Renew = %v, want Open", got)
	}
	secondToken := sc.Token()
	if secondToken.TokenID == firstToken.TokenID && secondToken.ChannelID == firstToken.ChannelID {
		t.Fatalf("Renew did not change the security token")
	}

	_ = sc.Close(ctx, 3)
	waitFor(t, func() bool { return srv.mgr.Stats().CurrentChannelCount() == 0 })
}

// TestChannelManagerPurgesUnderPressure confirms a server at its channel
// cap purges the oldest sessionless channel rather than rejecting a new
// dial outright.
func TestChannelManagerPurgesUnderPressure(t *testing.T) {
	serverCfg, _ := uasc.ApplyConfig(uasc.MaxSecureChannels(1))
	srv := startTestServer(t, serverCfg)

	dialOpen := func() *uasc.SecureChannel {
		clientCfg, _ := uasc.ApplyConfig()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		conn, err := uacp.Dial(ctx, srv.endpoint())
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		sc, err := uasc.NewSecureChannel(conn, clientCfg)
		if err != nil {
			t.Fatalf("NewSecureChannel: %v", err)
		}
		if err := sc.Open(ctx, 1); err != nil {
			t.Fatalf("Open: %v", err)
		}
		return sc
	}

	first := dialOpen()
	waitFor(t, func() bool { return srv.mgr.Stats().CurrentChannelCount() == 1 })

	second := dialOpen()
	defer second.Close(context.Background(), 2)

	waitFor(t, func() bool { return srv.mgr.Stats().ChannelPurgeCount() == 1 })
	if got := srv.mgr.Stats().CurrentChannelCount(); got != 1 {
		t.Fatalf("CurrentChannelCount() = %d, want 1 (oldest purged to admit the newest)", got)
	}

	// first's connection was closed server-side by the purge; ServeIncoming
	// should observe that and report it rather than hang.
	go first.ServeIncoming(context.Background())
	select {
	case <-first.Err():
	case <-time.After(5 * time.Second):
		t.Fatalf("purged channel never reported an error")
	}
}

// TestChannelManagerCleanupTimedOut grants a very short token lifetime and
// confirms the sweep evicts the channel once it expires.
func TestChannelManagerCleanupTimedOut(t *testing.T) {
	serverCfg, _ := uasc.ApplyConfig(uasc.MaxSecurityTokenLifetime(50))
	srv := startTestServer(t, serverCfg)

	clientCfg, _ := uasc.ApplyConfig(uasc.Lifetime(50))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := uacp.Dial(ctx, srv.endpoint())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	sc, err := uasc.NewSecureChannel(conn, clientCfg)
	if err != nil {
		t.Fatalf("NewSecureChannel: %v", err)
	}
	if err := sc.Open(ctx, 1); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return srv.mgr.Stats().CurrentChannelCount() == 1 })
	time.Sleep(100 * time.Millisecond)

	n := srv.mgr.CleanupTimedOut(context.Background(), time.Now())
	if n != 1 {
		t.Fatalf("CleanupTimedOut swept %d, want 1", n)
	}
	if got := srv.mgr.Stats().ChannelTimeoutCount(); got != 1 {
		t.Fatalf("ChannelTimeoutCount() = %d, want 1", got)
	}
	if got := srv.mgr.Stats().CurrentChannelCount(); got != 0 {
		t.Fatalf("CurrentChannelCount() = %d, want 0", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met before timeout")
	}
}
