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

// Package transport provides the transport-layer abstraction the SAS
// core delivers its to-device events through. It allows the
// verification manager to stay independent of how a given application
// actually moves bytes between devices (olm to-device messages over
// federation, a local test harness, anything else).
package transport

import "context"

// MessageTransport delivers one to-device verification event and has
// no opinion about what's inside Content beyond it being serializable;
// the verification manager is responsible for producing Content as the
// canonical JSON of a protocol.*Content value.
type MessageTransport interface {
	Send(ctx context.Context, msg *Envelope) error
}

// Envelope is the opaque message the core hands to a transport: a
// to-device event addressed to one specific device.
type Envelope struct {
	ID                string // opaque id assigned by the producer, for transport-level dedup/logging
	RecipientUserID   string
	RecipientDeviceID string
	MessageType       string // one of protocol.EventType*
	Content           []byte // canonical JSON of the event content
}
