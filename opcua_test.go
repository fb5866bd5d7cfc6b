// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package opcua

import (
	"context"
	"testing"

	"github.com/imatic-tech/opcua/ua"
)

func TestSelectEndpointPrefersHighestSecurityLevel(t *testing.T) {
	endpoints := []*ua.EndpointDescription{
		{SecurityPolicyURI: ua.SecurityPolicyURINone, SecurityMode: ua.MessageSecurityModeNone, SecurityLevel: 0},
		{SecurityPolicyURI: ua.SecurityPolicyURINone, SecurityMode: ua.MessageSecurityModeSign, SecurityLevel: 50},
		{SecurityPolicyURI: ua.SecurityPolicyURINone, SecurityMode: ua.MessageSecurityModeSign, SecurityLevel: 100},
	}

	got := SelectEndpoint(endpoints, "", ua.MessageSecurityModeInvalid)
	if got == nil || got.SecurityLevel != 100 {
		t.Fatalf("SelectEndpoint() = %+v, want the SecurityLevel-100 endpoint", got)
	}
}

func TestSelectEndpointMatchesPolicyAndMode(t *testing.T) {
	endpoints := []*ua.EndpointDescription{
		{SecurityPolicyURI: ua.SecurityPolicyURINone, SecurityMode: ua.MessageSecurityModeNone, SecurityLevel: 10},
		{SecurityPolicyURI: ua.SecurityPolicyURINone, SecurityMode: ua.MessageSecurityModeSign, SecurityLevel: 90},
	}

	got := SelectEndpoint(endpoints, ua.SecurityPolicyURINone, ua.MessageSecurityModeNone)
	if got == nil || got.SecurityMode != ua.MessageSecurityModeNone {
		t.Fatalf("SelectEndpoint() = %+v, want the MessageSecurityModeNone endpoint", got)
	}
}

func TestSelectEndpointNoMatch(t *testing.T) {
	endpoints := []*ua.EndpointDescription{
		{SecurityPolicyURI: ua.SecurityPolicyURINone, SecurityMode: ua.MessageSecurityModeNone},
	}
	if got := SelectEndpoint(endpoints, "http://example.com/NoSuchPolicy", ua.MessageSecurityModeInvalid); got != nil {
		t.Fatalf("SelectEndpoint() = %+v, want nil", got)
	}
}

func TestAsyncStateString(t *testing.T) {
	cases := map[AsyncState]string{
		StateDisconnected:     "Disconnected",
		StateConnecting:       "Connecting",
		StateSecureChannelOpen: "SecureChannelOpen",
		StateSessionCreated:   "SessionCreated",
		StateSessionActive:    "SessionActive",
		StateDisconnecting:    "Disconnecting",
		AsyncState(99):        "Unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("AsyncState(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestConnectAsyncRejectsDoubleConnect(t *testing.T) {
	c := NewClient("opc.tcp://localhost:4840")
	ctx := context.Background()

	if err := c.ConnectAsync(ctx); err != nil {
		t.Fatalf("first ConnectAsync: %v", err)
	}
	if c.State() != StateConnecting {
		t.Fatalf("State() = %v, want Connecting", c.State())
	}
	if err := c.ConnectAsync(ctx); err == nil {
		t.Fatalf("second ConnectAsync: want error, got nil")
	}
}

func TestNextHandleIsMonotonic(t *testing.T) {
	c := NewClient("opc.tcp://localhost:4840")
	first := c.nextHandle()
	second := c.nextHandle()
	if second <= first {
		t.Fatalf("nextHandle() not monotonic: %d then %d", first, second)
	}
}
