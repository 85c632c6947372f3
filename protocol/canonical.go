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

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Canonical returns the network's canonical JSON form of v: lexicographic
// key order, no insignificant whitespace, UTF-8. It marshals v, then
// round-trips through a map so Go's own (alphabetical) map-key ordering
// does the sorting, rather than hand-rolling a key-sort.
//
// Callers that need the commitment hash over a start payload must keep
// the single byte slice returned here and reuse it verbatim on both
// sides of the wire; recomputing Canonical from a re-parsed struct can
// silently disagree with the bytes actually transmitted.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal for canonicalization: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("protocol: re-marshal canonical form: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ParseStart parses a start payload, mapping any structural failure to
// an m.invalid_message condition the caller should cancel with.
func ParseStart(raw []byte) (StartContent, error) {
	var c StartContent
	if err := json.Unmarshal(raw, &c); err != nil {
		return StartContent{}, fmt.Errorf("protocol: invalid start content: %w", err)
	}
	if c.TransactionID == "" || c.FromDevice == "" {
		return StartContent{}, fmt.Errorf("protocol: start content missing required fields")
	}
	return c, nil
}

// ParseAccept parses an accept payload.
func ParseAccept(raw []byte) (AcceptContent, error) {
	var c AcceptContent
	if err := json.Unmarshal(raw, &c); err != nil {
		return AcceptContent{}, fmt.Errorf("protocol: invalid accept content: %w", err)
	}
	if c.TransactionID == "" || c.Commitment == "" {
		return AcceptContent{}, fmt.Errorf("protocol: accept content missing required fields")
	}
	return c, nil
}

// ParseKey parses a key payload.
func ParseKey(raw []byte) (KeyContent, error) {
	var c KeyContent
	if err := json.Unmarshal(raw, &c); err != nil {
		return KeyContent{}, fmt.Errorf("protocol: invalid key content: %w", err)
	}
	if c.TransactionID == "" || c.Key == "" {
		return KeyContent{}, fmt.Errorf("protocol: key content missing required fields")
	}
	return c, nil
}

// ParseMAC parses a mac payload.
func ParseMAC(raw []byte) (MACContent, error) {
	var c MACContent
	if err := json.Unmarshal(raw, &c); err != nil {
		return MACContent{}, fmt.Errorf("protocol: invalid mac content: %w", err)
	}
	if c.TransactionID == "" || len(c.MAC) == 0 || c.Keys == "" {
		return MACContent{}, fmt.Errorf("protocol: mac content missing required fields")
	}
	return c, nil
}

// ParseCancel parses a cancel payload.
func ParseCancel(raw []byte) (CancelContent, error) {
	var c CancelContent
	if err := json.Unmarshal(raw, &c); err != nil {
		return CancelContent{}, fmt.Errorf("protocol: invalid cancel content: %w", err)
	}
	if c.TransactionID == "" || c.Code == "" {
		return CancelContent{}, fmt.Errorf("protocol: cancel content missing required fields")
	}
	return c, nil
}
