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

// Package protocol defines the to-device message payloads a SAS
// verification exchanges (start, accept, key, mac, cancel), their
// cancellation codes, and the canonical JSON form the commitment hash
// is computed over.
package protocol

// MethodSASv1 is the only verification method this core negotiates.
const MethodSASv1 = "m.sas.v1"

// Event type strings carried on the wire alongside TransactionID.
const (
	EventTypeStart  = "m.key.verification.start"
	EventTypeAccept = "m.key.verification.accept"
	EventTypeKey    = "m.key.verification.key"
	EventTypeMAC    = "m.key.verification.mac"
	EventTypeCancel = "m.key.verification.cancel"
)

// StartContent is the body of an m.key.verification.start event.
type StartContent struct {
	TransactionID              string   `json:"transaction_id"`
	FromDevice                 string   `json:"from_device"`
	Method                     string   `json:"method"`
	KeyAgreementProtocols      []string `json:"key_agreement_protocols"`
	Hashes                     []string `json:"hashes"`
	MessageAuthenticationCodes []string `json:"message_authentication_codes"`
	ShortAuthenticationString  []string `json:"short_authentication_string"`
}

// AcceptContent is the body of an m.key.verification.accept event.
type AcceptContent struct {
	TransactionID             string `json:"transaction_id"`
	Method                    string `json:"method"`
	KeyAgreementProtocol      string `json:"key_agreement_protocol"`
	Hash                      string `json:"hash"`
	MessageAuthenticationCode string `json:"message_authentication_code"`
	ShortAuthenticationString string `json:"short_authentication_string"`
	Commitment                string `json:"commitment"`
}

// KeyContent is the body of an m.key.verification.key event.
type KeyContent struct {
	TransactionID string `json:"transaction_id"`
	Key           string `json:"key"`
}

// MACContent is the body of an m.key.verification.mac event.
type MACContent struct {
	TransactionID string            `json:"transaction_id"`
	MAC           map[string]string `json:"mac"`
	Keys          string            `json:"keys"`
}

// CancelContent is the body of an m.key.verification.cancel event.
type CancelContent struct {
	TransactionID string     `json:"transaction_id"`
	Code          CancelCode `json:"code"`
	Reason        string     `json:"reason"`
}
