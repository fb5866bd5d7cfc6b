// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package uasc

import (
	"context"
	"crypto/x509"
	"time"

	"github.com/imatic-tech/opcua/debug"
	"github.com/imatic-tech/opcua/errors"
	"github.com/imatic-tech/opcua/ua"
)

// AcceptOpen reads one inbound OPN chunk and services it as either an Issue
// (fresh channel) or Renew request, replying with the resulting token. This
// is the server-side counterpart of openOrRenew, grounded on open62541's
// UA_SecureChannelManager_open/_renew (ua_services_securechannel.c).
func (s *SecureChannel) AcceptOpen(ctx context.Context, channelID uint32) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetReadDeadline(dl)
		defer s.conn.SetReadDeadline(time.Time{})
	}

	chunk, err := s.conn.ReadChunk()
	if err != nil {
		return err
	}
	if chunk.MessageType != "OPN" {
		return errors.Errorf("uasc: expected OPN, got %q", chunk.MessageType)
	}
	return s.handleOPNBody(channelID, chunk.Body)
}

// handleOPNBody services one decoded OPN chunk body as Issue or Renew,
// shared by AcceptOpen (the channel's first OPN) and ServeIncoming (a
// renewal OPN arriving over an already-open channel). A Renew stages its
// result into nextToken/nextKeys rather than replacing the current token
// outright: the client switches to the new token only after it has read this
// response, so this channel keeps accepting the previous token until
// handleMsg observes the client actually using the new one (spec.md §4.2).
func (s *SecureChannel) handleOPNBody(channelID uint32, rawBody []byte) error {
	d := ua.NewDecoder(rawBody)
	asymHdr := ua.DecodeAsymmetricAlgorithmSecurityHeader(d)
	ua.DecodeSequenceHeader(d)
	if d.Err() != nil {
		return d.Err()
	}
	sealed := d.Remaining()
	header := rawBody[:len(rawBody)-len(sealed)]

	policy, err := s.cfg.Policies.Match(asymHdr)
	if err != nil {
		return err
	}
	s.policy = policy

	var clientCert *x509.Certificate
	plaintext := sealed
	if asymHdr.SecurityPolicyURI != ua.SecurityPolicyURINone {
		clientCert, err = parseCertificate(asymHdr.SenderCertificate)
		if err != nil {
			return ua.StatusBadCertificateInvalid
		}
		if status := s.cfg.Verifier.Verify(clientCert); status != ua.StatusOK {
			return status
		}
		plaintext, err = policy.OpenAsymmetric(s.cfg.PrivateKey, clientCert, header, sealed)
		if err != nil {
			return err
		}
	}

	pd := ua.NewDecoder(plaintext)
	ua.DecodeNodeID(pd) // request type id
	req := ua.DecodeOpenSecureChannelRequest(pd)
	if pd.Err() != nil {
		return pd.Err()
	}

	renew := req.RequestType == ua.SecurityTokenRequestTypeRenew
	if renew && s.State() != ChannelOpen {
		return ua.StatusBadInvalidState
	}
	if !renew && s.State() != ChannelFresh {
		return ua.StatusBadInvalidState
	}
	if !renew && req.SecurityMode != ua.MessageSecurityModeNone && policy.URI() == ua.SecurityPolicyURINone {
		return ua.StatusBadSecurityModeRejected
	}

	lifetime := req.RequestedLifetime
	if lifetime == 0 || lifetime > s.cfg.MaxSecurityTokenLifetime {
		lifetime = s.cfg.MaxSecurityTokenLifetime
	}

	nonce, err := newNonce(nonceLen(policy))
	if err != nil {
		return err
	}

	keys, err := policy.DeriveKeys(req.ClientNonce, nonce)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.tokenSeq++
	tokenID := channelID<<16 | (s.tokenSeq & 0xFFFF)
	s.mu.Unlock()

	token := &ua.ChannelSecurityToken{
		ChannelID:       channelID,
		TokenID:         tokenID,
		RevisedLifetime: lifetime,
	}

	resp := &ua.OpenSecureChannelResponse{
		ResponseHeader: &ua.ResponseHeader{
			Timestamp:     time.Now(),
			RequestHandle: req.RequestHeader.RequestHandle,
			ServiceResult: ua.StatusOK,
		},
		ServerProtocolVersion: 0,
		SecurityToken:         token,
		ServerNonce:           nonce,
	}

	e := ua.NewEncoder()
	resp.Encode(e)
	respAsymHdr := &ua.AsymmetricAlgorithmSecurityHeader{
		SecurityPolicyURI: policy.URI(),
		SenderCertificate: s.cfg.Certificate,
	}
	if clientCert != nil {
		respAsymHdr.ReceiverCertificateThumbprint = certThumbprint(clientCert.Raw)
	}
	seqHdr := &ua.SequenceHeader{SequenceNumber: s.nextSendSeq(), RequestID: req.RequestHeader.RequestHandle}
	respHeader := ua.NewEncoder()
	respAsymHdr.Encode(respHeader)
	seqHdr.Encode(respHeader)

	respSealed := e.Bytes()
	if clientCert != nil {
		respSealed, err = policy.SealAsymmetric(s.cfg.PrivateKey, clientCert, respHeader.Bytes(), e.Bytes())
		if err != nil {
			return err
		}
	}

	body := ua.NewEncoder()
	body.WriteRaw(respHeader.Bytes())
	body.WriteRaw(respSealed)
	if err := s.conn.WriteOpen(body.Bytes()); err != nil {
		return err
	}

	s.mu.Lock()
	s.channelID = channelID
	s.localNonce = nonce
	s.remoteNonce = req.ClientNonce
	if clientCert != nil {
		s.remoteCert = clientCert.Raw
	}
	if renew {
		s.nextToken = token
		s.nextKeys = keys
	} else {
		s.token = token
		s.keys = keys
		s.createdAt = time.Now()
	}
	s.mu.Unlock()

	s.setState(ChannelOpen)
	debug.Printf("uasc: channel %d %s", channelID, map[bool]string{true: "renewed", false: "opened"}[renew])
	return nil
}
