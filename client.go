// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package opcua is a client for the OPC UA binary protocol. It drives the
// transport handshake (uacp), the secure channel lifecycle (uasc) and the
// session services (GetEndpoints/CreateSession/ActivateSession/Read/Write/
// Browse) through a small non-blocking connection engine modeled on the
// reference client's run_iterate loop.
package opcua

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/imatic-tech/opcua/ua"
	"github.com/imatic-tech/opcua/uacp"
	"github.com/imatic-tech/opcua/uasc"
)

// Option configures a Client's channel and session parameters.
type Option = uasc.Option

// GetEndpoints is a convenience function that dials endpoint just long
// enough to retrieve its advertised endpoint descriptions.
func GetEndpoints(ctx context.Context, endpoint string) ([]*ua.EndpointDescription, error) {
	c := NewClient(endpoint)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	defer c.Close(ctx)
	res, err := c.GetEndpoints(ctx)
	if err != nil {
		return nil, err
	}
	return res.Endpoints, nil
}

// SelectEndpoint returns the endpoint with the highest security level that
// matches policy and mode. Either may be left zero-valued to match only on
// the other.
func SelectEndpoint(endpoints []*ua.EndpointDescription, policy string, mode ua.MessageSecurityMode) *ua.EndpointDescription {
	if len(endpoints) == 0 {
		return nil
	}
	sort.Sort(sort.Reverse(bySecurityLevel(endpoints)))
	policy = ua.FormatSecurityPolicyURI(policy)

	if policy == "" && mode == ua.MessageSecurityModeInvalid {
		return endpoints[0]
	}
	for _, p := range endpoints {
		switch {
		case policy == "" && p.SecurityMode == mode:
			return p
		case p.SecurityPolicyURI == policy && mode == ua.MessageSecurityModeInvalid:
			return p
		case p.SecurityPolicyURI == policy && p.SecurityMode == mode:
			return p
		}
	}
	return nil
}

type bySecurityLevel []*ua.EndpointDescription

func (a bySecurityLevel) Len() int           { return len(a) }
func (a bySecurityLevel) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a bySecurityLevel) Less(i, j int) bool { return a[i].SecurityLevel < a[j].SecurityLevel }

// Client is a client for an OPC UA server. It owns at most one secure
// channel and one session at a time; reconnection recreates both from
// scratch rather than trying to resume subscriptions, which this client
// does not implement.
type Client struct {
	endpointURL string
	cfg         *uasc.Config
	sessionCfg  *uasc.SessionConfig

	conn   *uacp.Conn
	sechan *uasc.SecureChannel

	// selectedEndpoint is the EndpointDescription discoverEndpoint matched
	// out of GetEndpoints, once the SecureChannel, endpoint unconfigured
	// state has run. Nil until then.
	selectedEndpoint *ua.EndpointDescription

	runCancel context.CancelFunc

	session atomic.Value // *Session

	handle uint32 // atomic counter, next RequestHandle/RequestID

	connMu    sync.Mutex
	connState AsyncState
	connErr   error

	monitorOnce sync.Once
}

// NewClient creates a new Client for endpoint. When no options are given the
// client uses SecurityPolicyURINone/MessageSecurityModeNone and anonymous
// authentication.
func NewClient(endpoint string, opts ...Option) *Client {
	cfg, sessionCfg := uasc.ApplyConfig(opts...)
	c := &Client{
		endpointURL: endpoint,
		cfg:         cfg,
		sessionCfg:  sessionCfg,
	}
	c.session.Store((*Session)(nil))
	c.connState = StateDisconnected
	return c
}

// EndpointURL returns the URL the client was constructed with.
func (c *Client) EndpointURL() string { return c.endpointURL }

// State reports the connection engine's current state.
func (c *Client) State() AsyncState {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.connState
}

// Connect drives ConnectAsync/RunIterate to completion: dial, open a secure
// channel, create and activate a session. It blocks until the session is
// active, ctx is done, or a step fails.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.ConnectAsync(ctx); err != nil {
		return err
	}
	for {
		st, err := c.RunIterate(ctx)
		if err != nil {
			return err
		}
		if st == StateSessionActive {
			c.monitorOnce.Do(func() { go c.monitorRenewal() })
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// Session returns the active session, or nil.
func (c *Client) Session() *Session {
	s, _ := c.session.Load().(*Session)
	return s
}

func (c *Client) nextHandle() uint32 {
	return atomic.AddUint32(&c.handle, 1)
}

func (c *Client) authToken() *ua.NodeID {
	if s := c.Session(); s != nil {
		return s.resp.AuthenticationToken
	}
	return nil
}

// call sends one service request over the open secure channel and waits for
// its matching response, a ServiceFault, or ctx's deadline. encode writes
// the full wire request (including its leading type NodeID) for the request
// handle picked for it; decode parses the response body, whose leading type
// NodeID has already been consumed and found not to be a ServiceFault.
func (c *Client) call(ctx context.Context, encode func(handle uint32) func(*ua.Encoder), decode func(d *ua.Decoder) error) error {
	if c.sechan == nil || c.sechan.State() != uasc.ChannelOpen {
		return ua.StatusBadServerNotConnected
	}

	cctx, cancel := context.WithTimeout(ctx, c.cfg.AsyncCallRequestTimeout)
	defer cancel()

	handle := c.nextHandle()
	done := make(chan error, 1)
	err := c.sechan.SendRequest(cctx, encode(handle), func(body []byte, err error) {
		if err != nil {
			done <- err
			return
		}
		d := ua.NewDecoder(body)
		typeID := ua.DecodeNodeID(d)
		if ua.IsServiceFault(typeID) {
			h := ua.DecodeServiceFault(d)
			done <- h.ServiceResult
			return
		}
		done <- decode(d)
	})
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-cctx.Done():
		return cctx.Err()
	}
}

// requestHeader builds the RequestHeader common to every service call.
func (c *Client) requestHeader(handle uint32) *ua.RequestHeader {
	return &ua.RequestHeader{
		AuthenticationToken: c.authToken(),
		Timestamp:           time.Now(),
		RequestHandle:       handle,
		TimeoutHint:         uint32(c.cfg.AsyncCallRequestTimeout / time.Millisecond),
	}
}

// GetEndpoints returns the endpoint descriptions the server advertises.
func (c *Client) GetEndpoints(ctx context.Context) (*ua.GetEndpointsResponse, error) {
	var res *ua.GetEndpointsResponse
	err := c.call(ctx,
		func(handle uint32) func(*ua.Encoder) {
			req := &ua.GetEndpointsRequest{RequestHeader: c.requestHeader(handle), EndpointURL: c.endpointURL}
			return req.Encode
		},
		func(d *ua.Decoder) error {
			res = &ua.GetEndpointsResponse{ResponseHeader: ua.DecodeResponseHeader(d)}
			n := d.ReadInt32()
			for i := int32(0); i < n; i++ {
				res.Endpoints = append(res.Endpoints, ua.DecodeEndpointDescription(d))
			}
			return nil
		},
	)
	return res, err
}

// Read executes a synchronous read request, defaulting AttributeID to Value
// and DataEncoding to the server's default where the caller left them unset.
func (c *Client) Read(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error) {
	rvs := make([]*ua.ReadValueID, len(req.NodesToRead))
	for i, rv := range req.NodesToRead {
		rc := *rv
		if rc.AttributeID == 0 {
			rc.AttributeID = ua.AttributeIDValue
		}
		if rc.DataEncoding == nil {
			rc.DataEncoding = &ua.QualifiedName{}
		}
		rvs[i] = &rc
	}

	var res *ua.ReadResponse
	err := c.call(ctx,
		func(handle uint32) func(*ua.Encoder) {
			r := &ua.ReadRequest{
				RequestHeader:      c.requestHeader(handle),
				MaxAge:             req.MaxAge,
				TimestampsToReturn: req.TimestampsToReturn,
				NodesToRead:        rvs,
			}
			return r.Encode
		},
		func(d *ua.Decoder) error {
			res = decodeReadResponseBody(d)
			return nil
		},
	)
	return res, err
}

// decodeReadResponseBody decodes a ReadResponse whose leading type NodeID
// has already been consumed by call.
func decodeReadResponseBody(d *ua.Decoder) *ua.ReadResponse {
	r := &ua.ReadResponse{ResponseHeader: ua.DecodeResponseHeader(d)}
	n := d.ReadInt32()
	for i := int32(0); i < n; i++ {
		dv := ua.DecodeDataValue(d)
		r.Results = append(r.Results, &ua.ReadResult{Status: dv.Status, Value: dv.Value})
	}
	d.ReadInt32() // DiagnosticInfos
	return r
}

// Write executes a synchronous write request.
func (c *Client) Write(ctx context.Context, req *ua.WriteRequest) (*ua.WriteResponse, error) {
	var res *ua.WriteResponse
	err := c.call(ctx,
		func(handle uint32) func(*ua.Encoder) {
			r := &ua.WriteRequest{RequestHeader: c.requestHeader(handle), NodesToWrite: req.NodesToWrite}
			return r.Encode
		},
		func(d *ua.Decoder) error {
			res = &ua.WriteResponse{ResponseHeader: ua.DecodeResponseHeader(d)}
			n := d.ReadInt32()
			for i := int32(0); i < n; i++ {
				res.Results = append(res.Results, ua.StatusCode(d.ReadUint32()))
			}
			d.ReadInt32()
			return nil
		},
	)
	return res, err
}

// Browse executes a synchronous browse request.
func (c *Client) Browse(ctx context.Context, req *ua.BrowseRequest) (*ua.BrowseResponse, error) {
	var res *ua.BrowseResponse
	err := c.call(ctx,
		func(handle uint32) func(*ua.Encoder) {
			r := &ua.BrowseRequest{
				RequestHeader:                 c.requestHeader(handle),
				RequestedMaxReferencesPerNode: req.RequestedMaxReferencesPerNode,
				NodesToBrowse:                 req.NodesToBrowse,
			}
			return r.Encode
		},
		func(d *ua.Decoder) error {
			res = &ua.BrowseResponse{ResponseHeader: ua.DecodeResponseHeader(d)}
			n := d.ReadInt32()
			for i := int32(0); i < n; i++ {
				res.Results = append(res.Results, ua.DecodeBrowseResult(d))
			}
			d.ReadInt32()
			return nil
		},
	)
	return res, err
}

// Close closes the active session (if any) and the secure channel, and stops
// the renewal monitor.
func (c *Client) Close(ctx context.Context) error {
	_ = c.CloseSession(ctx)

	if c.runCancel != nil {
		c.runCancel()
	}
	c.connMu.Lock()
	c.connState = StateDisconnected
	c.connMu.Unlock()

	c.selectedEndpoint = nil
	if c.sechan != nil {
		err := c.sechan.Close(ctx, c.nextHandle())
		c.sechan = nil
		return err
	}
	return nil
}

// identityTokenType maps a configured UserIdentityToken to the UserTokenType
// a server's UserTokenPolicy advertises it under, defaulting to Anonymous
// when none is configured yet (spec.md §4.1 GetEndpoints filtering).
func identityTokenType(tok ua.UserIdentityToken) ua.UserTokenType {
	switch tok.(type) {
	case *ua.UserNameIdentityToken:
		return ua.UserTokenTypeUserName
	case *ua.X509IdentityToken:
		return ua.UserTokenTypeCertificate
	case *ua.IssuedIdentityToken:
		return ua.UserTokenTypeIssuedToken
	default:
		return ua.UserTokenTypeAnonymous
	}
}

// matchingUserTokenPolicy returns the first policy in policies whose
// TokenType matches tokenType, or nil.
func matchingUserTokenPolicy(policies []*ua.UserTokenPolicy, tokenType ua.UserTokenType) *ua.UserTokenPolicy {
	for _, p := range policies {
		if p.TokenType == tokenType {
			return p
		}
	}
	return nil
}

// withPolicyID returns a copy of tok with its PolicyID set to id, preserving
// whatever identity fields the caller already configured (e.g. a username).
func withPolicyID(tok ua.UserIdentityToken, id string) ua.UserIdentityToken {
	switch t := tok.(type) {
	case nil:
		return &ua.AnonymousIdentityToken{PolicyID: id}
	case *ua.AnonymousIdentityToken:
		c := *t
		c.PolicyID = id
		return &c
	case *ua.UserNameIdentityToken:
		c := *t
		c.PolicyID = id
		return &c
	case *ua.X509IdentityToken:
		c := *t
		c.PolicyID = id
		return &c
	case *ua.IssuedIdentityToken:
		c := *t
		c.PolicyID = id
		return &c
	default:
		return tok
	}
}
