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

// Package clock provides an injectable time source so that session timeout
// logic never reads the wall clock directly.
package clock

import "time"

// Source returns the current time. Production code uses Default(); tests
// substitute a closure that advances a fake clock.
type Source func() time.Time

// Default returns the real wall-clock time source.
func Default() Source {
	return time.Now
}

// Fixed returns a Source that always reports t, useful for deterministic
// setup in tests before advancing it manually.
func Fixed(t time.Time) Source {
	return func() time.Time { return t }
}
