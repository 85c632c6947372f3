// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package protocol

// CancelCode names a reason a verification session was canceled. The
// original matrix-nio client exposes one Python exception subtype per
// code; this mirrors that as a closed set of string constants instead
// of callers hand-typing wire strings.
type CancelCode string

const (
	CancelUser               CancelCode = "m.user"
	CancelTimeout            CancelCode = "m.timeout"
	CancelUnknownTransaction CancelCode = "m.unknown_transaction"
	CancelUnknownMethod      CancelCode = "m.unknown_method"
	CancelUnexpectedMessage  CancelCode = "m.unexpected_message"
	CancelKeyMismatch        CancelCode = "m.key_mismatch"
	CancelUserMismatch       CancelCode = "m.user_mismatch"
	CancelInvalidMessage     CancelCode = "m.invalid_message"
	CancelAccepted           CancelCode = "m.accepted"
	CancelUserError          CancelCode = "m.user_error"
)

// reasons gives a default human-readable reason for each code, used
// when a caller cancels programmatically without supplying its own text.
var reasons = map[CancelCode]string{
	CancelUser:               "Canceled by user",
	CancelTimeout:            "Verification timed out",
	CancelUnknownTransaction: "Unknown transaction",
	CancelUnknownMethod:      "Unknown verification method",
	CancelUnexpectedMessage:  "Unexpected message",
	CancelKeyMismatch:        "Key mismatch",
	CancelUserMismatch:       "User mismatch",
	CancelInvalidMessage:     "Invalid message",
	CancelAccepted:           "Accepted by another device",
	CancelUserError:          "User error",
}

// DefaultReason returns the stock human-readable text for a code.
func DefaultReason(code CancelCode) string {
	if r, ok := reasons[code]; ok {
		return r
	}
	return string(code)
}

// NewCancel builds a CancelContent with the stock reason for code.
func NewCancel(txnID string, code CancelCode) CancelContent {
	return CancelContent{
		TransactionID: txnID,
		Code:          code,
		Reason:        DefaultReason(code),
	}
}
