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

// Package sas implements the SAS (Short Authentication String) device
// verification session: the state machine, its transcript, SAS byte
// derivation and emoji/decimal rendering. A Session runs single-threaded
// and cooperative — every method runs to completion without blocking,
// scheduling background work, or reading the wall clock directly.
package sas

// State is one of the externally visible verification states. Several
// internal "waiting for X" substates described by the protocol fold
// into the preceding state here (e.g. WaitingForAccept is reported as
// Created, WaitingForMac as KeyReceived) since nothing outside the
// session needs to distinguish them.
type State int

const (
	StateCreated State = iota
	StateStarted
	StateAccepted
	StateKeyReceived
	StateMacReceived
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateStarted:
		return "Started"
	case StateAccepted:
		return "Accepted"
	case StateKeyReceived:
		return "KeyReceived"
	case StateMacReceived:
		return "MacReceived"
	case StateCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}
