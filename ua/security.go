// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import "strings"

// MessageSecurityMode controls whether a secure channel's MSG chunks are
// signed, signed and encrypted, or left in the clear (Part 4, Sec 7.15).
type MessageSecurityMode uint32

const (
	MessageSecurityModeInvalid        MessageSecurityMode = 0
	MessageSecurityModeNone            MessageSecurityMode = 1
	MessageSecurityModeSign            MessageSecurityMode = 2
	MessageSecurityModeSignAndEncrypt MessageSecurityMode = 3
)

func (m MessageSecurityMode) String() string {
	switch m {
	case MessageSecurityModeNone:
		return "None"
	case MessageSecurityModeSign:
		return "Sign"
	case MessageSecurityModeSignAndEncrypt:
		return "SignAndEncrypt"
	default:
		return "Invalid"
	}
}

// SecurityTokenRequestType distinguishes opening a fresh channel from
// renewing an existing one (Part 4, Sec 5.5.2.2).
type SecurityTokenRequestType uint32

const (
	SecurityTokenRequestTypeIssue SecurityTokenRequestType = 0
	SecurityTokenRequestTypeRenew SecurityTokenRequestType = 1
)

// Security policy URIs (Part 7, Annex A / the OPC Foundation security
// policy registry). Only the policies the core ships are named here; other
// URIs are accepted and looked up in the policy registry (uasc.PolicyRegistry) but
// are not implemented.
const (
	SecurityPolicyURINone            = "http://opcfoundation.org/UA/SecurityPolicy#None"
	SecurityPolicyURIBasic256Sha256 = "http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256"
)

// FormatSecurityPolicyURI returns uri unchanged if it already has the
// "http://opcfoundation.org/UA/SecurityPolicy#" prefix, and prefixes a bare
// policy name (e.g. "Basic256Sha256") otherwise. Mirrors the convenience the
// teacher's SelectEndpoint helper relies on.
func FormatSecurityPolicyURI(uri string) string {
	if uri == "" {
		return ""
	}
	const prefix = "http://opcfoundation.org/UA/SecurityPolicy#"
	if strings.HasPrefix(uri, "http://") {
		return uri
	}
	return prefix + uri
}
