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

// Package directory resolves the long-term identity keys of remote
// devices. The SAS core never stores or fetches these itself; it consumes
// a Directory collaborator, matching the device-directory boundary spec.md
// §6 draws around the verification core.
package directory

import "context"

// OlmDevice is the long-term identity of one remote device. It is
// immutable once resolved: a key rotation or re-registration surfaces
// as a new device id, never a mutated OlmDevice.
type OlmDevice struct {
	UserID     string
	DeviceID   string
	Ed25519    string // base64 long-term signing key
	Curve25519 string // base64 identity key
}

// Directory resolves a (user_id, device_id) pair to the device's
// published identity keys. Lookup returns (nil, nil) for an unknown
// device rather than an error — unlike a transport failure, "no such
// device yet" is an expected, recoverable outcome the caller (the
// verification manager) handles by queuing a key-directory refresh.
type Directory interface {
	Lookup(ctx context.Context, userID, deviceID string) (*OlmDevice, error)
}
