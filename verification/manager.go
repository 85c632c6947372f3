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

// Package verification implements the SAS verification manager (spec.md
// §4.4, component C4): the collaborator the owning client holds to
// create outbound verifications, dispatch inbound to-device events to
// the right session by transaction id, and garbage-collect finished
// sessions. It never talks to a transport directly — every outgoing
// message it produces is appended to an internal FIFO the caller drains
// and actually delivers.
package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/olmverify/sas/config"
	"github.com/olmverify/sas/directory"
	"github.com/olmverify/sas/internal/clock"
	"github.com/olmverify/sas/internal/metrics"
	"github.com/olmverify/sas/protocol"
	"github.com/olmverify/sas/sas"
	"github.com/olmverify/sas/transport"
)

// InboundEvent is one to-device verification event delivered to the
// manager, already demultiplexed from the wider client but not yet
// dispatched to a session.
type InboundEvent struct {
	SenderUserID   string
	SenderDeviceID string
	MessageType    string // one of protocol.EventType*
	Content        []byte // raw bytes as received, unparsed
}

// Manager owns every in-flight SAS session, keyed by transaction id, and
// the FIFO of envelopes produced as a side effect of processing events.
// It is not safe to share a Manager's Directory, Config, or Clock with
// another Manager mutating them concurrently, but the Manager's own
// methods are safe for concurrent use (spec.md §5: the only shared
// resources are the sessions table and the outgoing FIFO, both owned and
// mutated only through this type).
type Manager struct {
	cfg   config.Config
	clock clock.Source
	dir   directory.Directory

	ownUserID     string
	ownDeviceID   string
	ownEd25519Key string

	mu               sync.Mutex
	sessions         map[string]*sas.Session
	outgoing         []transport.Envelope
	usersForKeyQuery map[string]struct{}
}

// New constructs a Manager for the local account identified by
// (ownUserID, ownDeviceID, ownEd25519Key), resolving peer devices
// through dir. A nil clk uses the real wall clock.
func New(cfg config.Config, clk clock.Source, dir directory.Directory, ownUserID, ownDeviceID, ownEd25519Key string) *Manager {
	if clk == nil {
		clk = clock.Default()
	}
	return &Manager{
		cfg:              cfg,
		clock:            clk,
		dir:              dir,
		ownUserID:        ownUserID,
		ownDeviceID:      ownDeviceID,
		ownEd25519Key:    ownEd25519Key,
		sessions:         make(map[string]*sas.Session),
		usersForKeyQuery: make(map[string]struct{}),
	}
}

// CreateSAS starts a new initiator verification against peer and returns
// its transaction id and the start payload to send. The start envelope
// is also appended to the outgoing FIFO for callers that drive delivery
// purely from Outgoing().
func (m *Manager) CreateSAS(peer *directory.OlmDevice) (string, protocol.StartContent, error) {
	if peer == nil {
		return "", protocol.StartContent{}, fmt.Errorf("verification: create_sas: peer device is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := sas.NewSession(m.cfg, m.clock, m.ownUserID, m.ownDeviceID, m.ownEd25519Key, peer)
	if err != nil {
		return "", protocol.StartContent{}, fmt.Errorf("verification: create_sas: %w", err)
	}
	start, err := s.StartVerification()
	if err != nil {
		return "", protocol.StartContent{}, fmt.Errorf("verification: create_sas: %w", err)
	}
	m.sessions[s.TransactionID()] = s
	m.enqueueLocked(peer.UserID, peer.DeviceID, protocol.EventTypeStart, start)
	metrics.SessionsStarted.WithLabelValues("initiator").Inc()
	return s.TransactionID(), start, nil
}

// Receive dispatches one inbound to-device event to the session it
// belongs to, per spec.md §4.4, creating a new responder session for an
// m.key.verification.start. Events whose transaction id cannot be read,
// events addressed to an unknown transaction id, and malformed start or
// cancel payloads are dropped silently ("if transaction_id is not in the
// table, ignore"); a malformed accept, key or mac payload for a known
// session cancels it with m.invalid_message.
// Every dispatch first re-checks the session's timeouts — spec.md §4.3
// requires both to be checked "on every externally triggered operation,"
// not only on the periodic GC sweep, so a session idle past EventMaxAge
// or SessionMaxAge cancels with m.timeout instead of processing a late
// message and reaching Verified().
func (m *Manager) Receive(ctx context.Context, ev InboundEvent) error {
	if ev.MessageType == protocol.EventTypeStart {
		return m.receiveStart(ctx, ev)
	}

	txnID, err := extractTransactionID(ev.Content)
	if err != nil {
		return nil
	}

	m.mu.Lock()
	s, ok := m.sessions[txnID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	wasTerminal := s.Terminal()
	if s.CheckTimeout() {
		if !wasTerminal {
			if c, ok := s.GetCancelation(); ok {
				m.enqueueCancel(s, c)
				metrics.SessionsCompleted.WithLabelValues("canceled").Inc()
				observeDuration(s, "canceled")
			}
		}
		return nil
	}

	if s.Peer() != nil && (s.Peer().UserID != ev.SenderUserID || s.Peer().DeviceID != ev.SenderDeviceID) {
		c := s.Cancel(protocol.CancelUserError, "")
		m.enqueueCancel(s, c)
		return nil
	}

	switch ev.MessageType {
	case protocol.EventTypeAccept:
		accept, err := protocol.ParseAccept(ev.Content)
		if err != nil {
			c := s.Cancel(protocol.CancelInvalidMessage, "")
			m.enqueueCancel(s, c)
			return nil
		}
		if err := s.ReceiveAccept(accept); err != nil {
			m.handleCancelErr(s, err)
			return nil
		}
		// The initiator sends its own key as soon as accept is
		// processed; the responder withholds its key until it has
		// seen this one, which is what makes the commitment binding
		// (spec.md §4.3).
		if key, err := s.SendKey(); err == nil {
			m.enqueueTo(s, protocol.EventTypeKey, key)
		}

	case protocol.EventTypeKey:
		key, err := protocol.ParseKey(ev.Content)
		if err != nil {
			c := s.Cancel(protocol.CancelInvalidMessage, "")
			m.enqueueCancel(s, c)
			return nil
		}
		ownKey, err := s.ReceiveKey(key)
		if err != nil {
			m.handleCancelErr(s, err)
			return nil
		}
		if ownKey != nil {
			m.enqueueTo(s, protocol.EventTypeKey, *ownKey)
		}

	case protocol.EventTypeMAC:
		mac, err := protocol.ParseMAC(ev.Content)
		if err != nil {
			c := s.Cancel(protocol.CancelInvalidMessage, "")
			m.enqueueCancel(s, c)
			return nil
		}
		if err := s.ReceiveMAC(mac); err != nil {
			m.handleCancelErr(s, err)
			return nil
		}
		if s.Verified() {
			metrics.SessionsCompleted.WithLabelValues("verified").Inc()
			observeDuration(s, "verified")
		}

	case protocol.EventTypeCancel:
		cancel, err := protocol.ParseCancel(ev.Content)
		if err != nil {
			return nil
		}
		s.ReceiveCancel(cancel)
		metrics.Cancellations.WithLabelValues(string(cancel.Code)).Inc()
		metrics.SessionsCompleted.WithLabelValues("canceled").Inc()
		observeDuration(s, "canceled")
	}
	return nil
}

func (m *Manager) receiveStart(ctx context.Context, ev InboundEvent) error {
	start, err := protocol.ParseStart(ev.Content)
	if err != nil {
		return nil
	}

	device, err := m.dir.Lookup(ctx, ev.SenderUserID, ev.SenderDeviceID)
	if err != nil || device == nil {
		m.mu.Lock()
		m.usersForKeyQuery[ev.SenderUserID] = struct{}{}
		m.mu.Unlock()
		return nil
	}

	if start.FromDevice != "" && start.FromDevice != ev.SenderDeviceID {
		m.mu.Lock()
		m.enqueueLocked(ev.SenderUserID, ev.SenderDeviceID, protocol.EventTypeCancel,
			protocol.NewCancel(start.TransactionID, protocol.CancelUserError))
		m.mu.Unlock()
		return nil
	}

	s, err := sas.FromStart(m.cfg, m.clock, m.ownUserID, m.ownDeviceID, m.ownEd25519Key, device, start, ev.Content)
	if err != nil {
		return fmt.Errorf("verification: from_start: %w", err)
	}

	m.mu.Lock()
	m.sessions[s.TransactionID()] = s
	m.mu.Unlock()
	metrics.SessionsStarted.WithLabelValues("responder").Inc()

	if s.Canceled() {
		if c, ok := s.GetCancelation(); ok {
			m.enqueueCancel(s, c)
		}
		metrics.SessionsCompleted.WithLabelValues("canceled").Inc()
		observeDuration(s, "canceled")
		return nil
	}

	// Negotiation succeeded: respond immediately. Sending m.key.verification.accept
	// is a protocol negotiation step, not the human SAS comparison — that
	// gate is AcceptSAS(), called later once the user compares the string.
	accept, err := s.AcceptVerification()
	if err != nil {
		return nil
	}
	m.enqueueTo(s, protocol.EventTypeAccept, accept)
	return nil
}

func (m *Manager) handleCancelErr(s *sas.Session, err error) {
	if c, ok := sas.AsCancel(err); ok {
		m.enqueueCancel(s, c)
		metrics.SessionsCompleted.WithLabelValues("canceled").Inc()
		observeDuration(s, "canceled")
	}
}

func (m *Manager) enqueueCancel(s *sas.Session, c protocol.CancelContent) {
	metrics.Cancellations.WithLabelValues(string(c.Code)).Inc()
	m.enqueueTo(s, protocol.EventTypeCancel, c)
}

func (m *Manager) enqueueTo(s *sas.Session, messageType string, content any) {
	if s.Peer() == nil {
		return
	}
	m.mu.Lock()
	m.enqueueLocked(s.Peer().UserID, s.Peer().DeviceID, messageType, content)
	m.mu.Unlock()
}

func (m *Manager) enqueueLocked(recipientUser, recipientDevice, messageType string, content any) {
	raw, err := protocol.Canonical(content)
	if err != nil {
		return
	}
	m.outgoing = append(m.outgoing, transport.Envelope{
		ID:                uuid.NewString(),
		RecipientUserID:   recipientUser,
		RecipientDeviceID: recipientDevice,
		MessageType:       messageType,
		Content:           raw,
	})
}

// Outgoing drains and returns every envelope queued since the last call.
func (m *Manager) Outgoing() []transport.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.outgoing
	m.outgoing = nil
	return out
}

// UsersForKeyQuery returns, sorted, the user ids accumulated because a
// start event referenced a device this manager's Directory did not
// resolve — the owning client is expected to refresh its device list for
// these users and retry.
func (m *Manager) UsersForKeyQuery() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.usersForKeyQuery))
	for u := range m.usersForKeyQuery {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Session returns the session for a transaction id, for callers that
// need to drive user-facing actions (AcceptSAS, Cancel) on it directly.
func (m *Manager) Session(txnID string) (*sas.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[txnID]
	return s, ok
}

// ClearVerifications runs a GC sweep: first enforces each live session's
// timeouts (so a session that has silently exceeded SessionMaxAge
// becomes TimedOut and is swept on a later pass), then removes every
// session that has been terminal for longer than SessionGCAge.
func (m *Manager) ClearVerifications() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	metrics.ManagerGCSweeps.Inc()
	removed := 0
	for id, s := range m.sessions {
		if !s.Terminal() {
			s.CheckTimeout()
		}
		if s.Terminal() && now.Sub(s.TerminalAt()) > m.cfg.SessionGCAge {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		metrics.ManagerSessionsRemoved.Add(float64(removed))
	}
}

// IsDeviceVerified reports whether any session verified the exact
// (user_id, device_id, ed25519) triple.
func (m *Manager) IsDeviceVerified(userID, deviceID, ed25519Key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if !s.Verified() {
			continue
		}
		peer := s.Peer()
		if peer == nil || peer.UserID != userID || peer.DeviceID != deviceID || peer.Ed25519 != ed25519Key {
			continue
		}
		return true
	}
	return false
}

func extractTransactionID(raw []byte) (string, error) {
	var v struct {
		TransactionID string `json:"transaction_id"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	if v.TransactionID == "" {
		return "", fmt.Errorf("verification: event missing transaction_id")
	}
	return v.TransactionID, nil
}

func observeDuration(s *sas.Session, outcome string) {
	d := s.TerminalAt().Sub(s.CreationTime())
	if d < 0 {
		return
	}
	metrics.SessionDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
