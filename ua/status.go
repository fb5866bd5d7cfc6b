// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import "fmt"

// StatusCode is an OPC UA result code (Part 4, Sec 7.34). The top bit
// distinguishes Good (0) from Bad/Uncertain; only the subset the core
// surfaces is enumerated here (spec.md §7).
type StatusCode uint32

// Error implements the error interface so a StatusCode can be returned and
// compared directly, the way the teacher returns ua.StatusBadServerNotConnected.
func (s StatusCode) Error() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("StatusCode(0x%08X)", uint32(s))
}

// StatusOK reports whether the status indicates success.
func (s StatusCode) StatusOK() bool { return s == StatusOK }

const (
	StatusOK StatusCode = 0

	// Transport.
	StatusBadConnectionClosed    StatusCode = 0x80AE0000
	StatusBadCommunicationError  StatusCode = 0x80050000
	StatusBadEndOfStream         StatusCode = 0x80350000

	// Protocol.
	StatusBadTCPMessageTypeInvalid StatusCode = 0x807C0000
	StatusBadDecodingError          StatusCode = 0x80070000
	StatusBadEncodingError          StatusCode = 0x80060000
	StatusBadSecurityChecksFailed   StatusCode = 0x80130000
	StatusBadSequenceNumberInvalid  StatusCode = 0x80A90000
	StatusBadTCPMessageTooLarge     StatusCode = 0x80750000
	StatusBadRequestTooLarge        StatusCode = 0x80B80000
	StatusBadResponseTooLarge       StatusCode = 0x80B90000

	// Security.
	StatusBadSecurityPolicyRejected StatusCode = 0x80550000
	StatusBadSecurityModeRejected   StatusCode = 0x80560000
	StatusBadCertificateInvalid     StatusCode = 0x80120000
	StatusBadCertificateUntrusted   StatusCode = 0x80230000

	// Session.
	StatusBadSessionIDInvalid    StatusCode = 0x80250000
	StatusBadSessionClosed       StatusCode = 0x80260000
	StatusBadSessionNotActivated StatusCode = 0x80270000
	StatusBadUserAccessDenied    StatusCode = 0x801F0000
	StatusBadIdentityTokenInvalid StatusCode = 0x80200000
	StatusBadIdentityTokenRejected StatusCode = 0x80210000

	// Flow.
	StatusBadTimeout           StatusCode = 0x800A0000
	StatusBadShutdown          StatusCode = 0x80240000
	StatusBadOutOfMemory       StatusCode = 0x80030000
	StatusBadInternalError     StatusCode = 0x80020000
	StatusBadInvalidState      StatusCode = 0x80330000
	StatusBadNothingToDo       StatusCode = 0x80380000
	StatusBadWouldBlock        StatusCode = 0x80650000
	StatusBadServerNotConnected StatusCode = 0x80BC0000
	StatusBadUnknownResponse   StatusCode = 0x80020001
	StatusBadRequestInterrupted StatusCode = 0x80650001
	StatusBadSecureChannelIDInvalid StatusCode = 0x80300000
	StatusBadSubscriptionIDInvalid  StatusCode = 0x80280000
	StatusBadDataTypeIDUnknown      StatusCode = 0x80140000
	StatusBadMessageNotAvailable    StatusCode = 0x803D0000
	StatusBadRequestIDInvalid       StatusCode = 0x80690000
	StatusBadChannelIDInvalid       StatusCode = 0x80310000
	StatusBadTokenIDInvalid         StatusCode = 0x80320000
)

var statusNames = map[StatusCode]string{
	StatusOK:                        "Good",
	StatusBadConnectionClosed:       "BadConnectionClosed",
	StatusBadCommunicationError:     "BadCommunicationError",
	StatusBadEndOfStream:            "BadEndOfStream",
	StatusBadTCPMessageTypeInvalid:  "BadTcpMessageTypeInvalid",
	StatusBadDecodingError:          "BadDecodingError",
	StatusBadEncodingError:          "BadEncodingError",
	StatusBadSecurityChecksFailed:   "BadSecurityChecksFailed",
	StatusBadSequenceNumberInvalid:  "BadSequenceNumberInvalid",
	StatusBadTCPMessageTooLarge:     "BadTcpMessageTooLarge",
	StatusBadRequestTooLarge:        "BadRequestTooLarge",
	StatusBadResponseTooLarge:       "BadResponseTooLarge",
	StatusBadSecurityPolicyRejected: "BadSecurityPolicyRejected",
	StatusBadSecurityModeRejected:   "BadSecurityModeRejected",
	StatusBadCertificateInvalid:     "BadCertificateInvalid",
	StatusBadCertificateUntrusted:   "BadCertificateUntrusted",
	StatusBadSessionIDInvalid:       "BadSessionIdInvalid",
	StatusBadSessionClosed:          "BadSessionClosed",
	StatusBadSessionNotActivated:    "BadSessionNotActivated",
	StatusBadUserAccessDenied:       "BadUserAccessDenied",
	StatusBadIdentityTokenInvalid:   "BadIdentityTokenInvalid",
	StatusBadIdentityTokenRejected:  "BadIdentityTokenRejected",
	StatusBadTimeout:                "BadTimeout",
	StatusBadShutdown:               "BadShutdown",
	StatusBadOutOfMemory:            "BadOutOfMemory",
	StatusBadInternalError:          "BadInternalError",
	StatusBadInvalidState:           "BadInvalidState",
	StatusBadNothingToDo:            "BadNothingToDo",
	StatusBadWouldBlock:             "BadWouldBlock",
	StatusBadServerNotConnected:     "BadServerNotConnected",
	StatusBadUnknownResponse:        "BadUnknownResponse",
	StatusBadRequestInterrupted:     "BadRequestInterrupted",
	StatusBadSecureChannelIDInvalid: "BadSecureChannelIdInvalid",
	StatusBadSubscriptionIDInvalid:  "BadSubscriptionIdInvalid",
	StatusBadDataTypeIDUnknown:      "BadDataTypeIdUnknown",
	StatusBadMessageNotAvailable:    "BadMessageNotAvailable",
	StatusBadRequestIDInvalid:       "BadRequestIdInvalid",
	StatusBadChannelIDInvalid:       "BadChannelIdInvalid",
	StatusBadTokenIDInvalid:         "BadTokenIdInvalid",
}
