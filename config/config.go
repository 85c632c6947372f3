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

// Package config carries the tunable timeouts and negotiable algorithm
// lists for SAS verification. None of it is read by the core on a hot
// path; it exists so an embedding application can load overrides from a
// file instead of recompiling.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the constants of the verification core.
type Config struct {
	// SessionMaxAge is the absolute lifetime of a session from creation.
	SessionMaxAge time.Duration `yaml:"session_max_age" json:"session_max_age"`
	// EventMaxAge is the maximum time allowed between inbound protocol events.
	EventMaxAge time.Duration `yaml:"event_max_age" json:"event_max_age"`
	// SessionGCAge is how long a terminal session lingers before GC removes it.
	SessionGCAge time.Duration `yaml:"session_gc_age" json:"session_gc_age"`

	// Algorithms lists the values this side advertises/accepts during negotiation.
	Algorithms AlgorithmConfig `yaml:"algorithms" json:"algorithms"`
}

// AlgorithmConfig lists the negotiable values of spec §4.2.
type AlgorithmConfig struct {
	KeyAgreementProtocols      []string `yaml:"key_agreement_protocols" json:"key_agreement_protocols"`
	Hashes                     []string `yaml:"hashes" json:"hashes"`
	MessageAuthenticationCodes []string `yaml:"message_authentication_codes" json:"message_authentication_codes"`
	ShortAuthenticationString  []string `yaml:"short_authentication_string" json:"short_authentication_string"`
}

// Default returns the constants and negotiation lists specified by the
// verification protocol.
func Default() Config {
	return Config{
		SessionMaxAge: 10 * time.Minute,
		EventMaxAge:   1 * time.Minute,
		SessionGCAge:  20 * time.Minute,
		Algorithms: AlgorithmConfig{
			KeyAgreementProtocols:      []string{"curve25519"},
			Hashes:                     []string{"sha256"},
			MessageAuthenticationCodes: []string{"hkdf-hmac-sha256"},
			ShortAuthenticationString:  []string{"emoji", "decimal"},
		},
	}
}

// Load reads a YAML file at path, overlays it onto Default(), and
// validates the result. An empty path returns Default(); a file that
// cannot be read is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %q: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the invariants every Config must hold.
func (c Config) Validate() error {
	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("session_max_age must be positive")
	}
	if c.EventMaxAge <= 0 {
		return fmt.Errorf("event_max_age must be positive")
	}
	if c.SessionGCAge <= 0 {
		return fmt.Errorf("session_gc_age must be positive")
	}
	if len(c.Algorithms.KeyAgreementProtocols) == 0 {
		return fmt.Errorf("at least one key agreement protocol is required")
	}
	if len(c.Algorithms.Hashes) == 0 {
		return fmt.Errorf("at least one hash algorithm is required")
	}
	if len(c.Algorithms.MessageAuthenticationCodes) == 0 {
		return fmt.Errorf("at least one MAC algorithm is required")
	}
	if len(c.Algorithms.ShortAuthenticationString) == 0 {
		return fmt.Errorf("at least one short authentication string method is required")
	}
	return nil
}
