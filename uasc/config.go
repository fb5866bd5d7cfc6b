// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package uasc implements the OPC UA Secure Conversation layer: security
// policy negotiation, the SecureChannel state machine shared by client and
// server, and the pending asynchronous call registry.
package uasc

import (
	"crypto/rsa"
	"crypto/x509"
	"time"

	"github.com/imatic-tech/opcua/ua"
)

// renewalRatio is the fraction of a token's revised lifetime after which a
// client should request renewal (spec.md §4.1, fixed at 0.75).
const renewalRatio = 0.75

// Config carries the channel-level parameters shared by a client connection
// or a server's channel manager: security policy selection, certificates,
// and the lifetime/concurrency limits governing the SecureChannel and
// ChannelManager.
type Config struct {
	SecurityPolicyURI string
	SecurityMode      ua.MessageSecurityMode

	Certificate []byte
	PrivateKey  *rsa.PrivateKey

	// ServerCertificate is the server's application certificate, known ahead
	// of opening a secure channel (typically copied from the
	// EndpointDescription a prior, unsecured GetEndpoints call selected, via
	// SecurityFromEndpoint). It seeds the first OpenSecureChannel Issue
	// request's asymmetric encryption; a subsequent Renew instead uses the
	// certificate the channel already received.
	ServerCertificate []byte

	// Verifier decides whether a peer's certificate is trusted. Defaults to
	// one that accepts everything; a host application wanting real PKI
	// validation overrides it with the Verifier option.
	Verifier CertificateVerifier

	// RequestedLifetime is the lifetime (ms) a client asks for when opening
	// or renewing a channel. 0 asks the server for its maximum.
	RequestedLifetime uint32

	// MaxSecurityTokenLifetime bounds the lifetime (ms) a server will ever
	// grant, regardless of what a client requests.
	MaxSecurityTokenLifetime uint32

	// MaxSecureChannels bounds how many concurrent channels a server's
	// ChannelManager will hold before purging or rejecting.
	MaxSecureChannels int

	// AsyncCallRequestTimeout is the default timeout applied to a pending
	// call when the caller doesn't specify one explicitly.
	AsyncCallRequestTimeout time.Duration

	Policies *PolicyRegistry
}

// SessionConfig carries the session-level parameters used by
// CreateSession/ActivateSession.
type SessionConfig struct {
	SessionName             string
	ClientDescription       *ua.ApplicationDescription
	ServerURI                string
	LocaleIDs                []string
	UserIdentityToken        ua.UserIdentityToken
	UserIdentityTokenSignature *ua.SignatureData
	RequestedSessionTimeout float64
}

// Option configures a Config and/or SessionConfig; applied left-to-right,
// matching the teacher's functional-options pattern.
type Option func(*Config, *SessionConfig)

func ApplyConfig(opts ...Option) (*Config, *SessionConfig) {
	cfg := &Config{
		SecurityPolicyURI:       ua.SecurityPolicyURINone,
		SecurityMode:            ua.MessageSecurityModeNone,
		RequestedLifetime:       defaultLifetime,
		MaxSecurityTokenLifetime: defaultLifetime,
		MaxSecureChannels:       defaultMaxSecureChannels,
		AsyncCallRequestTimeout: defaultCallTimeout,
		Policies:                DefaultPolicyRegistry(),
		Verifier:                NewAcceptAllVerifier(),
	}
	sessionCfg := &SessionConfig{
		RequestedSessionTimeout: defaultSessionTimeout,
	}
	for _, opt := range opts {
		opt(cfg, sessionCfg)
	}
	return cfg, sessionCfg
}

const (
	defaultLifetime          = 60 * 60 * 1000 // 1h, matches the reference client's default
	defaultMaxSecureChannels = 100
	defaultCallTimeout       = 10 * time.Second
	defaultSessionTimeout    = 20 * 60 * 1000 // 20min
)

// SecurityFromEndpoint selects the policy URI and mode for a chosen endpoint.
func SecurityFromEndpoint(ep *ua.EndpointDescription) Option {
	return func(c *Config, _ *SessionConfig) {
		c.SecurityPolicyURI = ep.SecurityPolicyURI
		c.SecurityMode = ep.SecurityMode
		c.ServerCertificate = ep.ServerCertificate
	}
}

// SecurityModeOption sets the policy URI and mode directly.
func SecurityModeOption(policyURI string, mode ua.MessageSecurityMode) Option {
	return func(c *Config, _ *SessionConfig) { c.SecurityPolicyURI = policyURI; c.SecurityMode = mode }
}

// Certificate sets the application instance certificate and private key used
// for Sign/SignAndEncrypt security modes.
func Certificate(cert []byte, key *rsa.PrivateKey) Option {
	return func(c *Config, _ *SessionConfig) { c.Certificate = cert; c.PrivateKey = key }
}

// CertificateFromX509 sets the application instance certificate from an
// already-parsed x509.Certificate (its DER bytes) and key. It reads nothing
// from disk; callers holding raw DER bytes can use Certificate directly.
func CertificateFromX509(cert *x509.Certificate, key *rsa.PrivateKey) Option {
	return func(c *Config, _ *SessionConfig) { c.Certificate = cert.Raw; c.PrivateKey = key }
}

// Lifetime sets the requested channel token lifetime, in milliseconds.
func Lifetime(ms uint32) Option {
	return func(c *Config, _ *SessionConfig) { c.RequestedLifetime = ms }
}

// MaxSecurityTokenLifetime bounds how long a server will ever grant a token for.
func MaxSecurityTokenLifetime(ms uint32) Option {
	return func(c *Config, _ *SessionConfig) { c.MaxSecurityTokenLifetime = ms }
}

// MaxSecureChannels bounds a server's concurrent channel count.
func MaxSecureChannels(n int) Option {
	return func(c *Config, _ *SessionConfig) { c.MaxSecureChannels = n }
}

// AsyncCallRequestTimeout sets the default pending-call timeout.
func AsyncCallRequestTimeout(d time.Duration) Option {
	return func(c *Config, _ *SessionConfig) { c.AsyncCallRequestTimeout = d }
}

// PolicyRegistryOption installs a custom security policy registry, e.g. to
// add or remove supported policies.
func PolicyRegistryOption(r *PolicyRegistry) Option {
	return func(c *Config, _ *SessionConfig) { c.Policies = r }
}

// VerifierOption installs a custom CertificateVerifier, e.g. one backed by a
// real trust list, in place of the permissive default.
func VerifierOption(v CertificateVerifier) Option {
	return func(c *Config, _ *SessionConfig) { c.Verifier = v }
}

// ServerCertificateOption sets the server certificate used to encrypt the
// first OpenSecureChannel Issue request, for callers that know it ahead of
// time rather than through SecurityFromEndpoint.
func ServerCertificateOption(cert []byte) Option {
	return func(c *Config, _ *SessionConfig) { c.ServerCertificate = cert }
}

// SessionName sets the human-readable session name sent in CreateSession.
func SessionName(name string) Option {
	return func(_ *Config, s *SessionConfig) { s.SessionName = name }
}

// SessionTimeout sets the requested session timeout, in milliseconds.
func SessionTimeout(ms float64) Option {
	return func(_ *Config, s *SessionConfig) { s.RequestedSessionTimeout = ms }
}

// ClientDescription sets the ApplicationDescription sent in CreateSession.
func ClientDescription(d *ua.ApplicationDescription) Option {
	return func(_ *Config, s *SessionConfig) { s.ClientDescription = d }
}

// AnonymousIdentity configures anonymous authentication.
func AnonymousIdentity(policyID string) Option {
	return func(_ *Config, s *SessionConfig) {
		s.UserIdentityToken = &ua.AnonymousIdentityToken{PolicyID: policyID}
	}
}

// UsernameIdentity configures username/password authentication.
func UsernameIdentity(policyID, username, password string) Option {
	return func(_ *Config, s *SessionConfig) {
		s.UserIdentityToken = &ua.UserNameIdentityToken{
			PolicyID: policyID,
			UserName: username,
			Password: []byte(password),
		}
	}
}
