// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package opcua

import (
	"context"
	"fmt"
	"time"

	"github.com/imatic-tech/opcua/ua"
	"github.com/imatic-tech/opcua/uasc"
)

// Session is an OPC UA session (Part 4, Sec 5.6): the identity and
// authentication token a client uses once a secure channel is open, plus
// the bits of the CreateSession response ActivateSession needs.
type Session struct {
	cfg               *uasc.SessionConfig
	resp              *ua.CreateSessionResponse
	serverCertificate []byte
	serverNonce       []byte
}

// createSession issues CreateSession on the open secure channel and, on
// success, stores the not-yet-activated session on c so the following
// activateSession step can pick it up via c.Session(), mirroring the
// reference client's two-phase create/activate.
func (c *Client) createSession(ctx context.Context) (*Session, error) {
	nonce, err := newClientNonce()
	if err != nil {
		return nil, err
	}

	cfg := c.sessionCfg
	name := cfg.SessionName
	if name == "" {
		name = fmt.Sprintf("opcua-%d", time.Now().UnixNano())
	}

	req := &ua.CreateSessionRequest{
		ClientDescription:       cfg.ClientDescription,
		ServerURI:               cfg.ServerURI,
		EndpointURL:             c.endpointURL,
		SessionName:             name,
		ClientNonce:             nonce,
		ClientCertificate:       c.cfg.Certificate,
		RequestedSessionTimeout: cfg.RequestedSessionTimeout,
	}

	var s *Session
	err = c.call(ctx,
		func(handle uint32) func(*ua.Encoder) {
			req.RequestHeader = c.requestHeader(handle)
			return req.Encode
		},
		func(d *ua.Decoder) error {
			res := ua.DecodeCreateSessionResponse(d)
			if !res.ResponseHeader.ServiceResult.StatusOK() {
				return res.ResponseHeader.ServiceResult
			}
			if cfg.UserIdentityToken == nil {
				cfg.UserIdentityToken = &ua.AnonymousIdentityToken{PolicyID: anonymousPolicyID(res.ServerEndpoints)}
			}
			s = &Session{
				cfg:               cfg,
				resp:              res,
				serverNonce:       res.ServerNonce,
				serverCertificate: res.ServerCertificate,
			}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	c.session.Store(s)
	return s, nil
}

const defaultAnonymousPolicyID = "Anonymous"

func anonymousPolicyID(endpoints []*ua.EndpointDescription) string {
	for _, e := range endpoints {
		if e.SecurityMode != ua.MessageSecurityModeNone || e.SecurityPolicyURI != ua.SecurityPolicyURINone {
			continue
		}
		for _, t := range e.UserIdentityTokens {
			if t.TokenType == ua.UserTokenTypeAnonymous {
				return t.PolicyID
			}
		}
	}
	return defaultAnonymousPolicyID
}

// activateSession activates s and, on success, makes it the client's active
// session. Client-certificate signatures and encrypted passwords are out of
// scope for SecurityPolicyURINone, the only policy a plain ActivateSession
// call here exercises; Sign/SignAndEncrypt channels still negotiate keys
// (uasc.SecureChannel.Open) but this core doesn't yet sign the
// ActivateSession payload itself.
func (c *Client) activateSession(ctx context.Context, s *Session) error {
	if s == nil {
		return ua.StatusBadSessionIDInvalid
	}

	req := &ua.ActivateSessionRequest{
		ClientSignature:    &ua.SignatureData{},
		LocaleIDs:          s.cfg.LocaleIDs,
		UserIdentityToken:  ua.NewExtensionObject(s.cfg.UserIdentityToken),
		UserTokenSignature: &ua.SignatureData{},
	}

	return c.call(ctx,
		func(handle uint32) func(*ua.Encoder) {
			h := c.requestHeader(handle)
			h.AuthenticationToken = s.resp.AuthenticationToken
			req.RequestHeader = h
			return req.Encode
		},
		func(d *ua.Decoder) error {
			res := ua.DecodeActivateSessionResponse(d)
			if !res.ResponseHeader.ServiceResult.StatusOK() {
				return res.ResponseHeader.ServiceResult
			}
			s.serverNonce = res.ServerNonce
			c.session.Store(s)
			return nil
		},
	)
}

// CloseSession closes the active session, if any.
func (c *Client) CloseSession(ctx context.Context) error {
	s := c.Session()
	if s == nil {
		return nil
	}

	req := &ua.CloseSessionRequest{DeleteSubscriptions: true}
	err := c.call(ctx,
		func(handle uint32) func(*ua.Encoder) {
			h := c.requestHeader(handle)
			h.AuthenticationToken = s.resp.AuthenticationToken
			req.RequestHeader = h
			return req.Encode
		},
		func(d *ua.Decoder) error {
			res := ua.DecodeCloseSessionResponse(d)
			if !res.ResponseHeader.ServiceResult.StatusOK() {
				return res.ResponseHeader.ServiceResult
			}
			return nil
		},
	)
	c.session.Store((*Session)(nil))
	return err
}
