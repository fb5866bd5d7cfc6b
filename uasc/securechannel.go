// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package uasc

import (
	"context"
	"crypto/sha1"
	"sync"
	"sync/atomic"
	"time"

	"github.com/imatic-tech/opcua/debug"
	"github.com/imatic-tech/opcua/errors"
	"github.com/imatic-tech/opcua/ua"
	"github.com/imatic-tech/opcua/uacp"
)

// ChannelState is the lifecycle state of a SecureChannel (spec.md C3).
type ChannelState int32

const (
	ChannelFresh ChannelState = iota
	ChannelOpen
	ChannelClosing
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelFresh:
		return "Fresh"
	case ChannelOpen:
		return "Open"
	case ChannelClosing:
		return "Closing"
	case ChannelClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// chunk header sizes, independent of uacp's own 8-byte framing: 4 bytes for
// a SymmetricAlgorithmSecurityHeader's TokenID, 8 for a SequenceHeader.
const symmetricHeaderLen = 12

// SecureChannel is the client/server-shared Secure Conversation endpoint: it
// owns the transport connection, the current and next security tokens, the
// per-direction sequence numbers, and the pending call registry (spec.md
// C2/C3/C6). A client builds one around a freshly dialed uacp.Conn; a
// server's ChannelManager builds one around an accepted uacp.Conn.
type SecureChannel struct {
	conn   *uacp.Conn
	cfg    *Config
	policy SecurityPolicy

	state int32 // ChannelState, accessed atomically

	mu         sync.Mutex
	channelID  uint32
	token      *ua.ChannelSecurityToken
	keys       *SymmetricKeys
	createdAt  time.Time // monotonic

	// nextToken/nextKeys hold a token issued by a Renew that hasn't yet been
	// promoted to current. Only ever populated on a server-role channel
	// (handleOPNBody's Renew branch): a client decides for itself when to
	// switch to its newly renewed token, but a server must keep accepting the
	// previous token until it observes the client's first MSG using the new
	// one (spec.md §4.2).
	nextToken *ua.ChannelSecurityToken
	nextKeys  *SymmetricKeys

	remoteCert  []byte // peer's application certificate, DER-encoded
	localNonce  []byte
	remoteNonce []byte

	sendSeq uint32
	recvSeq uint32

	tokenSeq uint32 // server-side token id generator, distinct per channel generation

	// reassembly buffers an in-flight multi-chunk MSG by RequestID until its
	// Final chunk arrives. Only ever touched by the single goroutine running
	// ServeIncoming, so it needs no lock of its own.
	reassembly map[uint32][]byte

	pending *PendingCallRegistry

	// errCh receives a terminal error observed by the receive loop, e.g. a
	// connection reset; the owner (client engine or server manager) drains
	// it to notice the channel died asynchronously.
	errCh chan error
	once  sync.Once

	// renewResp delivers a renewal OPN response decoded by ServeIncoming's
	// read loop back to the client-side Renew call waiting on it. Only used
	// once ServeIncoming owns the connection's reads (i.e. after the
	// initial Open, which still reads synchronously itself).
	renewResp chan openResult
	isServer  bool
}

type openResult struct {
	resp   *ua.OpenSecureChannelResponse
	header *ua.AsymmetricAlgorithmSecurityHeader
	err    error
}

// NewSecureChannel wraps conn in a fresh (unopened) SecureChannel using cfg.
func NewSecureChannel(conn *uacp.Conn, cfg *Config) (*SecureChannel, error) {
	policy, err := cfg.Policies.Lookup(cfg.SecurityPolicyURI)
	if err != nil {
		return nil, err
	}
	sc := &SecureChannel{
		conn:       conn,
		cfg:        cfg,
		policy:     policy,
		pending:    NewPendingCallRegistry(),
		errCh:      make(chan error, 1),
		renewResp:  make(chan openResult, 1),
		reassembly: map[uint32][]byte{},
	}
	atomic.StoreInt32(&sc.state, int32(ChannelFresh))
	return sc, nil
}

// MarkServer tags sc as a server-side channel, used by ServeIncoming to
// decide whether an inbound OPN chunk is a renewal request (server) or a
// renewal response (client).
func (s *SecureChannel) MarkServer() { s.isServer = true }

func (s *SecureChannel) State() ChannelState { return ChannelState(atomic.LoadInt32(&s.state)) }

func (s *SecureChannel) setState(st ChannelState) { atomic.StoreInt32(&s.state, int32(st)) }

// ChannelID returns the channel id assigned by Open, or 0 before it opens.
func (s *SecureChannel) ChannelID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelID
}

// Token returns a copy of the currently active security token.
func (s *SecureChannel) Token() *ua.ChannelSecurityToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return nil
	}
	t := *s.token
	return &t
}

// OpenedAt returns the monotonic timestamp the current token was issued at.
func (s *SecureChannel) OpenedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// RenewDeadline reports when this channel should start renewal: 75% of its
// revised lifetime after creation (spec.md §4.1 renewal ratio), using the
// monotonic creation timestamp.
func (s *SecureChannel) RenewDeadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return time.Time{}
	}
	lifetime := time.Duration(float64(s.token.RevisedLifetime) * renewalRatio) * time.Millisecond
	return s.createdAt.Add(lifetime)
}

// Open performs the client-side OpenSecureChannel handshake: issue a new
// token and derive symmetric keys from the nonce exchange.
func (s *SecureChannel) Open(ctx context.Context, requestHandle uint32) error {
	return s.openOrRenew(ctx, ua.SecurityTokenRequestTypeIssue, requestHandle)
}

// Renew requests a new token for an already-open channel, ahead of the
// current token's expiry. The client switches to the new token immediately
// on success; it's this switch-over that a server-role peer watches for to
// promote its own staged nextToken (spec.md §4.2).
func (s *SecureChannel) Renew(ctx context.Context, requestHandle uint32) error {
	if s.State() != ChannelOpen {
		return ua.StatusBadInvalidState
	}
	return s.openOrRenew(ctx, ua.SecurityTokenRequestTypeRenew, requestHandle)
}

func (s *SecureChannel) openOrRenew(ctx context.Context, reqType ua.SecurityTokenRequestType, requestHandle uint32) error {
	nonce, err := newNonce(nonceLen(s.policy))
	if err != nil {
		return err
	}

	req := &ua.OpenSecureChannelRequest{
		RequestHeader: &ua.RequestHeader{
			Timestamp:     time.Now(),
			RequestHandle: requestHandle,
			TimeoutHint:   uint32(s.cfg.AsyncCallRequestTimeout / time.Millisecond),
		},
		ClientProtocolVersion: 0,
		RequestType:           reqType,
		SecurityMode:          s.cfg.SecurityMode,
		ClientNonce:           nonce,
		RequestedLifetime:     s.cfg.RequestedLifetime,
	}

	e := ua.NewEncoder()
	req.Encode(e)

	remoteCertDER := s.remoteCertDER()
	asymHdr := &ua.AsymmetricAlgorithmSecurityHeader{
		SecurityPolicyURI: s.policy.URI(),
		SenderCertificate: s.cfg.Certificate,
	}
	if len(remoteCertDER) > 0 {
		asymHdr.ReceiverCertificateThumbprint = certThumbprint(remoteCertDER)
	}
	seqHdr := &ua.SequenceHeader{SequenceNumber: s.nextSendSeq(), RequestID: requestHandle}

	header := ua.NewEncoder()
	asymHdr.Encode(header)
	seqHdr.Encode(header)

	sealed := e.Bytes()
	if s.cfg.SecurityMode != ua.MessageSecurityModeNone {
		remoteCert, err := parseCertificate(remoteCertDER)
		if err != nil {
			return errors.Wrap(err, "uasc: parsing configured server certificate")
		}
		sealed, err = s.policy.SealAsymmetric(s.cfg.PrivateKey, remoteCert, header.Bytes(), e.Bytes())
		if err != nil {
			return err
		}
	}

	renewing := reqType == ua.SecurityTokenRequestTypeRenew
	debug.Printf("uasc: sending OPN (renew=%v)", renewing)
	body := ua.NewEncoder()
	body.WriteRaw(header.Bytes())
	body.WriteRaw(sealed)
	if err := s.conn.WriteOpen(body.Bytes()); err != nil {
		return err
	}

	var resp *ua.OpenSecureChannelResponse
	var respHeader *ua.AsymmetricAlgorithmSecurityHeader
	if renewing {
		// ServeIncoming already owns the connection's reads; wait for it
		// to hand us the decoded renewal response instead of reading here.
		select {
		case r := <-s.renewResp:
			if r.err != nil {
				return r.err
			}
			resp = r.resp
			respHeader = r.header
		case <-ctx.Done():
			return ctx.Err()
		}
	} else {
		if dl, ok := ctx.Deadline(); ok {
			_ = s.conn.SetReadDeadline(dl)
			defer s.conn.SetReadDeadline(time.Time{})
		}
		chunk, err := s.conn.ReadChunk()
		if err != nil {
			return err
		}
		if chunk.MessageType != "OPN" {
			return errors.Errorf("uasc: expected OPN response, got %q", chunk.MessageType)
		}
		resp, respHeader, err = s.decodeOPNResponse(chunk.Body)
		if err != nil {
			return err
		}
	}
	if !resp.ResponseHeader.ServiceResult.StatusOK() {
		return resp.ResponseHeader.ServiceResult
	}

	if s.cfg.SecurityMode != ua.MessageSecurityModeNone {
		if respHeader.SecurityPolicyURI != s.policy.URI() {
			return ua.StatusBadSecurityPolicyRejected
		}
		serverCert, err := parseCertificate(respHeader.SenderCertificate)
		if err != nil {
			return ua.StatusBadCertificateInvalid
		}
		if status := s.cfg.Verifier.Verify(serverCert); status != ua.StatusOK {
			return status
		}
		s.mu.Lock()
		s.remoteCert = serverCert.Raw
		s.mu.Unlock()
	}

	keys, err := s.policy.DeriveKeys(nonce, resp.ServerNonce)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.channelID = resp.SecurityToken.ChannelID
	s.token = resp.SecurityToken
	s.createdAt = time.Now()
	s.localNonce = nonce
	s.remoteNonce = resp.ServerNonce
	s.keys = keys
	s.mu.Unlock()

	s.setState(ChannelOpen)
	return nil
}

// decodeOPNResponse decodes and, for a non-None policy, verifies+decrypts an
// inbound OPN chunk body as an OpenSecureChannelResponse.
func (s *SecureChannel) decodeOPNResponse(body []byte) (*ua.OpenSecureChannelResponse, *ua.AsymmetricAlgorithmSecurityHeader, error) {
	d := ua.NewDecoder(body)
	header := ua.DecodeAsymmetricAlgorithmSecurityHeader(d)
	ua.DecodeSequenceHeader(d)
	if d.Err() != nil {
		return nil, nil, d.Err()
	}
	sealed := d.Remaining()
	rawHeader := body[:len(body)-len(sealed)]

	plaintext := sealed
	if s.cfg.SecurityMode != ua.MessageSecurityModeNone {
		remoteCert, err := parseCertificate(header.SenderCertificate)
		if err != nil {
			return nil, nil, ua.StatusBadCertificateInvalid
		}
		plaintext, err = s.policy.OpenAsymmetric(s.cfg.PrivateKey, remoteCert, rawHeader, sealed)
		if err != nil {
			return nil, nil, err
		}
	}

	pd := ua.NewDecoder(plaintext)
	ua.DecodeNodeID(pd) // response type id
	resp := ua.DecodeOpenSecureChannelResponse(pd)
	if pd.Err() != nil {
		return nil, nil, pd.Err()
	}
	return resp, header, nil
}

func (s *SecureChannel) remoteCertDER() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.remoteCert) > 0 {
		return s.remoteCert
	}
	return s.cfg.ServerCertificate
}

func certThumbprint(der []byte) []byte {
	sum := sha1.Sum(der)
	return sum[:]
}

func nonceLen(p SecurityPolicy) int {
	if p.URI() == ua.SecurityPolicyURINone {
		return 1
	}
	return 32
}

// maxPlainChunkPayload is how much plaintext a single symmetric chunk can
// carry, leaving room for the uacp/SC headers and the policy's signature and
// padding overhead within the negotiated SendBufSize.
func (s *SecureChannel) maxPlainChunkPayload() int {
	const uacpHeaderLen = 8 // message type, chunk type, message size
	max := int(s.conn.SendBufSize) - uacpHeaderLen - symmetricHeaderLen - s.policy.SymmetricOverhead()
	if max < 1 {
		max = 1
	}
	return max
}

// SendRequest encodes a request with encodeBody, registers a pending call
// for it, and writes it to the wire as one or more symmetric MSG chunks,
// split to respect the negotiated send buffer size and chunk count (spec.md
// §4.3). If SendRequest returns nil, cb is invoked exactly once, either with
// the decoded response body or an error (spec.md C6); if it returns an error,
// the call is cancelled and cb is never invoked. The wire RequestID is whatever Register assigns
// the pending call, not a caller-supplied value: that's the only number the
// registry itself will ever recognize when the response is dispatched.
func (s *SecureChannel) SendRequest(ctx context.Context, encodeBody func(*ua.Encoder), cb func(body []byte, err error)) error {
	if s.State() != ChannelOpen {
		return ua.StatusBadServerNotConnected
	}

	deadline := time.Now().Add(s.cfg.AsyncCallRequestTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	e := ua.NewEncoder()
	encodeBody(e)

	requestID := s.pending.Register(deadline, cb)
	if err := s.writeChunked(requestID, e.Bytes()); err != nil {
		s.pending.Cancel(requestID)
		return err
	}
	return nil
}

// writeChunked splits plaintext into one or more symmetric chunks sized to
// maxPlainChunkPayload, seals each with the channel's current token/keys,
// and writes them in order with the last marked Final.
func (s *SecureChannel) writeChunked(requestID uint32, plaintext []byte) error {
	maxPayload := s.maxPlainChunkPayload()
	parts := splitPlaintext(plaintext, maxPayload)
	if s.conn.MaxChunkCount > 0 && uint32(len(parts)) > s.conn.MaxChunkCount {
		return ua.StatusBadRequestTooLarge
	}

	s.mu.Lock()
	tokenID := uint32(0)
	if s.token != nil {
		tokenID = s.token.TokenID
	}
	keys := s.keys
	s.mu.Unlock()

	fromClient := !s.isServer
	for i, part := range parts {
		chunkType := byte(uacp.ChunkTypeIntermediate)
		if i == len(parts)-1 {
			chunkType = uacp.ChunkTypeFinal
		}

		symHdr := &ua.SymmetricAlgorithmSecurityHeader{TokenID: tokenID}
		seqHdr := &ua.SequenceHeader{SequenceNumber: s.nextSendSeq(), RequestID: requestID}
		header := ua.NewEncoder()
		symHdr.Encode(header)
		seqHdr.Encode(header)

		sealed, err := s.policy.SealSymmetric(keys, fromClient, header.Bytes(), part)
		if err != nil {
			return err
		}

		body := ua.NewEncoder()
		body.WriteRaw(header.Bytes())
		body.WriteRaw(sealed)
		if err := s.conn.WriteMsg(chunkType, body.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// splitPlaintext divides plaintext into chunks of at most maxPayload bytes,
// always returning at least one (possibly empty) chunk.
func splitPlaintext(plaintext []byte, maxPayload int) [][]byte {
	if len(plaintext) == 0 {
		return [][]byte{{}}
	}
	var parts [][]byte
	for len(plaintext) > 0 {
		n := maxPayload
		if n > len(plaintext) {
			n = len(plaintext)
		}
		parts = append(parts, plaintext[:n])
		plaintext = plaintext[n:]
	}
	return parts
}

// nextSendSeq returns the next sequence number for an outgoing chunk,
// wrapping per Part 6 Sec 6.7.2 (sequence numbers wrap at uint32 max back to 1).
func (s *SecureChannel) nextSendSeq() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendSeq++
	if s.sendSeq == 0 {
		s.sendSeq = 1
	}
	return s.sendSeq
}

// ServeIncoming reads MSG chunks off the wire in a loop and dispatches each
// to the pending call registry, until the connection closes or ctx is
// cancelled. Intended to run in its own goroutine; the non-blocking client
// engine (opcua package) observes completion through the pending call's
// callback rather than by polling this loop directly.
func (s *SecureChannel) ServeIncoming(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			s.teardown(ua.StatusBadShutdown)
			return
		}
		chunk, err := s.conn.ReadChunk()
		if err != nil {
			s.teardown(err)
			return
		}
		switch chunk.MessageType {
		case "MSG":
			s.handleMsg(chunk)
		case "OPN":
			s.handleOPNChunk(chunk)
		case "CLO":
			s.teardown(ua.StatusBadConnectionClosed)
			return
		case "ERR":
			s.teardown(ua.StatusBadCommunicationError)
			return
		default:
			debug.Printf("uasc: ignoring unexpected message type %q", chunk.MessageType)
		}
	}
}

// handleOPNChunk processes an OPN chunk seen by the shared read loop: on a
// server channel it's a renewal request (serviced in place); on a client
// channel it's the reply to an in-flight Renew, handed to the waiting
// openOrRenew call via renewResp.
func (s *SecureChannel) handleOPNChunk(chunk *uacp.Chunk) {
	if s.isServer {
		if err := s.handleOPNBody(s.ChannelID(), chunk.Body); err != nil {
			debug.Printf("uasc: servicing renewal OPN: %v", err)
		}
		return
	}

	resp, header, err := s.decodeOPNResponse(chunk.Body)
	result := openResult{resp: resp, header: header, err: err}
	select {
	case s.renewResp <- result:
	default:
		debug.Printf("uasc: dropping unsolicited OPN response")
	}
}

// keysForTokenLocked returns the keys matching tokenID, promoting a staged
// nextToken/nextKeys to current if tokenID is the next token's id (spec.md
// §4.2: the first MSG bearing the next token promotes it). Caller must hold
// s.mu.
func (s *SecureChannel) keysForTokenLocked(tokenID uint32) (*SymmetricKeys, bool) {
	if s.token != nil && s.token.TokenID == tokenID {
		return s.keys, true
	}
	if s.nextToken != nil && s.nextToken.TokenID == tokenID {
		s.token = s.nextToken
		s.keys = s.nextKeys
		s.createdAt = time.Now()
		s.nextToken = nil
		s.nextKeys = nil
		debug.Printf("uasc: promoted security token %d", tokenID)
		return s.keys, true
	}
	return nil, false
}

func (s *SecureChannel) handleMsg(chunk *uacp.Chunk) {
	d := ua.NewDecoder(chunk.Body)
	symHdr := ua.DecodeSymmetricAlgorithmSecurityHeader(d)
	seq := ua.DecodeSequenceHeader(d)
	if d.Err() != nil {
		debug.Printf("uasc: decoding MSG headers: %v", d.Err())
		return
	}
	sealed := d.Remaining()
	header := chunk.Body[:len(chunk.Body)-len(sealed)]

	s.mu.Lock()
	expected := s.recvSeq + 1
	s.recvSeq = seq.SequenceNumber
	keys, ok := s.keysForTokenLocked(symHdr.TokenID)
	s.mu.Unlock()
	if expected != 1 && seq.SequenceNumber != expected {
		debug.Printf("uasc: sequence number gap: expected %d got %d", expected, seq.SequenceNumber)
	}
	if !ok {
		debug.Printf("uasc: rejecting MSG with unknown token %d", symHdr.TokenID)
		delete(s.reassembly, seq.RequestID)
		if err := s.pending.DispatchError(seq.RequestID, ua.StatusBadTokenIDInvalid); err != nil {
			debug.Printf("uasc: dispatch token rejection for request %d: %v", seq.RequestID, err)
		}
		return
	}

	// The peer that actually sent this chunk holds the Client* half of keys
	// iff we're the server receiving it; a server's own sends use Server*
	// regardless of which role calls SealSymmetric/OpenSymmetric.
	fromClient := s.isServer
	plaintext, err := s.policy.OpenSymmetric(keys, fromClient, header, sealed)
	if err != nil {
		debug.Printf("uasc: opening MSG chunk: %v", err)
		delete(s.reassembly, seq.RequestID)
		if err := s.pending.DispatchError(seq.RequestID, ua.StatusBadSecurityChecksFailed); err != nil {
			debug.Printf("uasc: dispatch open failure for request %d: %v", seq.RequestID, err)
		}
		return
	}

	switch chunk.ChunkType {
	case uacp.ChunkTypeIntermediate:
		s.reassembly[seq.RequestID] = append(s.reassembly[seq.RequestID], plaintext...)
	case uacp.ChunkTypeAbort:
		delete(s.reassembly, seq.RequestID)
		status := decodeAbortStatus(plaintext)
		if err := s.pending.DispatchError(seq.RequestID, status); err != nil {
			debug.Printf("uasc: dispatch abort for request %d: %v", seq.RequestID, err)
		}
	default: // Final
		full := plaintext
		if partial, ok := s.reassembly[seq.RequestID]; ok {
			full = append(partial, plaintext...)
			delete(s.reassembly, seq.RequestID)
		}
		if err := s.pending.Dispatch(seq.RequestID, full); err != nil {
			debug.Printf("uasc: dispatch for request %d: %v", seq.RequestID, err)
		}
	}
}

// decodeAbortStatus decodes an abort chunk's body (Part 6, Sec 6.7.3: a
// UInt32 status code followed by a String reason, no service payload).
func decodeAbortStatus(body []byte) ua.StatusCode {
	d := ua.NewDecoder(body)
	status := ua.StatusCode(d.ReadUint32())
	reason := d.ReadString()
	if reason != "" {
		debug.Printf("uasc: abort chunk: %s", reason)
	}
	if status == ua.StatusOK {
		return ua.StatusBadCommunicationError
	}
	return status
}

// Close sends CloseSecureChannel and transitions to Closed. The server never
// replies to it (Part 4, Sec 5.5.3).
func (s *SecureChannel) Close(ctx context.Context, requestHandle uint32) error {
	if s.State() == ChannelClosed {
		return nil
	}
	s.setState(ChannelClosing)

	req := &ua.CloseSecureChannelRequest{
		RequestHeader: &ua.RequestHeader{Timestamp: time.Now(), RequestHandle: requestHandle},
	}
	e := ua.NewEncoder()
	req.Encode(e)

	s.mu.Lock()
	tokenID := uint32(0)
	if s.token != nil {
		tokenID = s.token.TokenID
	}
	keys := s.keys
	s.mu.Unlock()

	symHdr := &ua.SymmetricAlgorithmSecurityHeader{TokenID: tokenID}
	seqHdr := &ua.SequenceHeader{SequenceNumber: s.nextSendSeq(), RequestID: requestHandle}
	header := ua.NewEncoder()
	symHdr.Encode(header)
	seqHdr.Encode(header)

	sealed := e.Bytes()
	if keys != nil {
		var err error
		sealed, err = s.policy.SealSymmetric(keys, !s.isServer, header.Bytes(), e.Bytes())
		if err != nil {
			s.teardown(ua.StatusBadConnectionClosed)
			return err
		}
	}

	body := ua.NewEncoder()
	body.WriteRaw(header.Bytes())
	body.WriteRaw(sealed)
	err := s.conn.WriteClose(body.Bytes())
	s.teardown(ua.StatusBadConnectionClosed)
	return err
}

func (s *SecureChannel) teardown(cause error) {
	s.once.Do(func() {
		s.setState(ChannelClosed)
		s.pending.Drain()
		select {
		case s.errCh <- cause:
		default:
		}
		_ = s.conn.Close()
	})
}

// Err returns a channel that receives the terminal error once the channel
// tears down, for the owner to observe without blocking.
func (s *SecureChannel) Err() <-chan error { return s.errCh }
