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

import "fmt"

// LocalProtocolError is returned when a caller invokes a session method
// the current state does not permit (calling get_mac before accept_sas,
// starting a session twice, any mutating call on a canceled session). It
// never produces a wire message; it indicates caller misuse.
type LocalProtocolError struct {
	State     string
	Operation string
}

func (e *LocalProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s not permitted in state %s", e.Operation, e.State)
}

// NewLocalProtocolError constructs a LocalProtocolError for operation
// attempted while the session was in state.
func NewLocalProtocolError(state, operation string) error {
	return &LocalProtocolError{State: state, Operation: operation}
}
