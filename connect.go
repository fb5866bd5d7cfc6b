// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package opcua

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/imatic-tech/opcua/debug"
	"github.com/imatic-tech/opcua/errors"
	"github.com/imatic-tech/opcua/ua"
	"github.com/imatic-tech/opcua/uacp"
	"github.com/imatic-tech/opcua/uasc"
)

// transportProfileURI is the only transport profile this client speaks.
const transportProfileURI = "http://opcfoundation.org/UA-Profile/Transport/uatcp-uasc-uabinary"

// AsyncState is a step of the client connection sequence driven by
// ConnectAsync/RunIterate, mirroring the reference client's
// UA_ClientState/run_iterate model: each RunIterate call advances exactly
// one step and returns, rather than blocking through the whole sequence.
type AsyncState int32

const (
	StateDisconnected AsyncState = iota
	StateConnecting
	StateSecureChannelOpen
	StateSessionCreated
	StateSessionActive
	StateDisconnecting
)

func (s AsyncState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateSecureChannelOpen:
		return "SecureChannelOpen"
	case StateSessionCreated:
		return "SessionCreated"
	case StateSessionActive:
		return "SessionActive"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// ConnectAsync arms the connection engine: the next RunIterate call performs
// the TCP dial and Hello/Acknowledge handshake. It returns an error if a
// connection attempt is already in progress or active.
func (c *Client) ConnectAsync(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.connState != StateDisconnected {
		return errors.Errorf("opcua: connect already in progress or connected")
	}
	c.connState = StateConnecting
	c.connErr = nil
	return nil
}

// RunIterate advances the connection engine by exactly one step — dial and
// open the secure channel, discover the endpoint, create the session, or
// activate it — and
// reports the state reached. Callers drive a non-blocking connect loop by
// calling RunIterate repeatedly until it returns StateSessionActive or an
// error; Connect does exactly this.
func (c *Client) RunIterate(ctx context.Context) (AsyncState, error) {
	c.connMu.Lock()
	state := c.connState
	c.connMu.Unlock()

	var err error
	var next AsyncState

	switch state {
	case StateDisconnected:
		return StateDisconnected, nil

	case StateConnecting:
		err = c.dial(ctx)
		next = StateSecureChannelOpen

	case StateSecureChannelOpen:
		if c.selectedEndpoint == nil {
			err = c.discoverEndpoint(ctx)
			next = StateSecureChannelOpen
		} else {
			_, err = c.createSession(ctx)
			next = StateSessionCreated
		}

	case StateSessionCreated:
		err = c.activateSession(ctx, c.Session())
		next = StateSessionActive

	case StateSessionActive:
		return StateSessionActive, nil

	default:
		return state, errors.Errorf("opcua: cannot iterate from state %s", state)
	}

	c.connMu.Lock()
	if err != nil {
		c.connErr = err
		c.connState = StateDisconnected
	} else {
		c.connState = next
	}
	result := c.connState
	c.connMu.Unlock()

	return result, err
}

// DisconnectAsync tears the connection down without blocking on the
// network: it cancels the read loop and marks the engine Disconnecting,
// leaving the actual socket close to run in the background; that background
// Close marks the engine Disconnected once it runs.
func (c *Client) DisconnectAsync(ctx context.Context) {
	c.connMu.Lock()
	c.connState = StateDisconnecting
	c.connMu.Unlock()

	if c.runCancel != nil {
		c.runCancel()
	}
	go func() {
		_ = c.Close(ctx)
	}()
}

// dial performs the transport handshake and opens the secure channel.
func (c *Client) dial(ctx context.Context) error {
	conn, err := uacp.Dial(ctx, c.endpointURL)
	if err != nil {
		return err
	}

	sechan, err := uasc.NewSecureChannel(conn, c.cfg)
	if err != nil {
		conn.Close()
		return err
	}

	if err := sechan.Open(ctx, c.nextHandle()); err != nil {
		conn.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.sechan = sechan
	c.runCancel = cancel
	go sechan.ServeIncoming(runCtx)

	debug.Printf("opcua: secure channel open, id=%d", sechan.ChannelID())
	return nil
}

// discoverEndpoint performs the SecureChannel, endpoint unconfigured ──
// GetEndpoints──▶ SecureChannel (endpoint set) transition (spec.md §4.1): it
// fetches the server's advertised endpoints and selects the first one whose
// transport profile (if any), security policy URI, and a user-token policy
// matching the configured identity token type all match. The match is
// copied into the client's configuration; no match terminates the
// connection sequence with BadInternalError.
func (c *Client) discoverEndpoint(ctx context.Context) error {
	res, err := c.GetEndpoints(ctx)
	if err != nil {
		return err
	}

	tokenType := identityTokenType(c.sessionCfg.UserIdentityToken)
	for _, ep := range res.Endpoints {
		if ep.TransportProfileURI != "" && ep.TransportProfileURI != transportProfileURI {
			continue
		}
		if ep.SecurityPolicyURI != c.cfg.SecurityPolicyURI {
			continue
		}
		policy := matchingUserTokenPolicy(ep.UserIdentityTokens, tokenType)
		if policy == nil {
			continue
		}

		c.selectedEndpoint = ep
		c.cfg.ServerCertificate = ep.ServerCertificate
		c.sessionCfg.UserIdentityToken = withPolicyID(c.sessionCfg.UserIdentityToken, policy.PolicyID)
		return nil
	}
	return ua.StatusBadInternalError
}

// monitorRenewal renews the secure channel's token at renewalRatio of its
// lifetime and surfaces a dead channel by marking the engine disconnected,
// for as long as the channel stays open.
func (c *Client) monitorRenewal() {
	for {
		sechan := c.sechan
		if sechan == nil {
			return
		}
		deadline := sechan.RenewDeadline()
		var wait time.Duration
		if deadline.IsZero() {
			wait = time.Second
		} else {
			wait = time.Until(deadline)
			if wait < 0 {
				wait = 0
			}
		}

		timer := time.NewTimer(wait)
		select {
		case err, ok := <-sechan.Err():
			timer.Stop()
			if !ok {
				return
			}
			debug.Printf("opcua: secure channel closed: %v", err)
			c.connMu.Lock()
			c.connState = StateDisconnected
			c.connErr = err
			c.connMu.Unlock()
			return
		case <-timer.C:
			if sechan.State() != uasc.ChannelOpen {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.AsyncCallRequestTimeout)
			err := sechan.Renew(ctx, c.nextHandle())
			cancel()
			if err != nil {
				debug.Printf("opcua: channel renewal failed: %v", err)
			}
		}
	}
}

// newClientNonce is a small helper shared by CreateSession; kept distinct
// from uasc's internal nonce generator since the session nonce is a
// service-layer concern, not a channel one.
func newClientNonce() ([]byte, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.Wrap(err, "opcua: generating client nonce")
	}
	return b, nil
}
