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

package sas

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/olmverify/sas/config"
	"github.com/olmverify/sas/crypto"
	"github.com/olmverify/sas/directory"
	"github.com/olmverify/sas/internal/clock"
	"github.com/olmverify/sas/protocol"
)

// Session is one SAS device-verification attempt. It runs single-threaded
// and cooperative: every method runs to completion without blocking,
// scheduling background work, or reading the wall clock directly — the
// only time source it consults is the Clock supplied at construction.
//
// Callers never see the full "WaitingForX" substate set of spec.md §4.3;
// State() folds each waiting substate into the state that precedes it, so
// external callers only ever observe
// {Created, Started, Accepted, KeyReceived, MacReceived, Canceled} plus
// the independent Verified() boolean.
type Session struct {
	cfg   config.Config
	clock clock.Source

	transactionID string
	weStartedIt   bool

	ownUserID     string
	ownDeviceID   string
	ownEd25519Key string
	peer          *directory.OlmDevice

	keys            *crypto.KeyPair
	publicEphemeral string
	peerPublic      string
	sharedSecret    []byte

	keyAgreementProtocol string
	hashAlgorithm        string
	macMethod            string
	sasMethods           []string

	// peerCommitment is the commitment the peer sent us to open later
	// (initiator only — carried in the accept event).
	peerCommitment string
	// ownCommitment is the commitment we computed and must send
	// (responder only — computed at FromStart, carried in our accept).
	ownCommitment string

	startContent StartSnapshot

	state State

	startCalled         bool
	acceptCalled        bool
	receivedAccept      bool
	sentKey             bool
	weAcceptedSAS       bool
	sentMAC             bool
	receivedMAC         bool
	theirDeviceVerified bool
	verifiedDevices     map[string]struct{}

	cancelContent *protocol.CancelContent
	terminalAt    time.Time

	creationTime  time.Time
	lastEventTime time.Time
}

// StartSnapshot carries the start payload both as a typed struct and as
// the verbatim bytes it was built from or received as. spec.md §9 is a
// strict requirement: the commitment hash must be computed over the
// bytes as transmitted, never a re-canonicalized copy, or the two sides
// can silently disagree on a hash over semantically identical JSON with
// different key order.
type StartSnapshot struct {
	Content protocol.StartContent
	Raw     []byte
}

// NewSession creates an initiator session: fresh ephemeral keys, a fresh
// transaction id, state Created. Calling StartVerification() produces the
// start payload to send; it does not itself advance the externally
// visible state (spec.md §4.3).
func NewSession(cfg config.Config, clk clock.Source, ownUserID, ownDeviceID, ownEd25519Key string, peer *directory.OlmDevice) (*Session, error) {
	if clk == nil {
		clk = clock.Default()
	}
	txnID, err := crypto.NewTransactionID()
	if err != nil {
		return nil, fmt.Errorf("sas: new session: %w", err)
	}
	kp, err := crypto.GenerateEphemeral()
	if err != nil {
		return nil, fmt.Errorf("sas: new session: %w", err)
	}
	now := clk()
	return &Session{
		cfg:             cfg,
		clock:           clk,
		transactionID:   txnID,
		weStartedIt:     true,
		ownUserID:       ownUserID,
		ownDeviceID:     ownDeviceID,
		ownEd25519Key:   ownEd25519Key,
		peer:            peer,
		keys:            kp,
		publicEphemeral: kp.PublicBase64(),
		sasMethods:      append([]string(nil), cfg.Algorithms.ShortAuthenticationString...),
		state:           StateCreated,
		verifiedDevices: make(map[string]struct{}),
		creationTime:    now,
		lastEventTime:   now,
	}, nil
}

// FromStart creates a responder session from a peer's start payload.
// rawStart must be the verbatim bytes the start event was received as
// (see StartSnapshot). If the negotiation fails — an unsupported method,
// or no mutually-supported option for one of the negotiated lists — the
// returned session is already in state Canceled with the appropriate
// code, exactly as spec.md §8 scenario 4 requires ("a session rejected
// because method != m.sas.v1 is canceled immediately after from_start").
func FromStart(cfg config.Config, clk clock.Source, ownUserID, ownDeviceID, ownEd25519Key string, peer *directory.OlmDevice, start protocol.StartContent, rawStart []byte) (*Session, error) {
	if clk == nil {
		clk = clock.Default()
	}
	now := clk()
	s := &Session{
		cfg:             cfg,
		clock:           clk,
		transactionID:   start.TransactionID,
		weStartedIt:     false,
		ownUserID:       ownUserID,
		ownDeviceID:     ownDeviceID,
		ownEd25519Key:   ownEd25519Key,
		peer:            peer,
		startContent:    StartSnapshot{Content: start, Raw: rawStart},
		state:           StateStarted,
		verifiedDevices: make(map[string]struct{}),
		creationTime:    now,
		lastEventTime:   now,
	}

	if start.Method != protocol.MethodSASv1 {
		s.cancelLocked(protocol.CancelUnknownMethod, "")
		return s, nil
	}

	kap, ok := firstCommon(start.KeyAgreementProtocols, cfg.Algorithms.KeyAgreementProtocols)
	if !ok {
		s.cancelLocked(protocol.CancelUnknownMethod, "")
		return s, nil
	}
	hash, ok := firstCommon(start.Hashes, cfg.Algorithms.Hashes)
	if !ok {
		s.cancelLocked(protocol.CancelUnknownMethod, "")
		return s, nil
	}
	mac, ok := firstCommon(start.MessageAuthenticationCodes, cfg.Algorithms.MessageAuthenticationCodes)
	if !ok {
		s.cancelLocked(protocol.CancelUnknownMethod, "")
		return s, nil
	}
	sasMethods := commonElements(start.ShortAuthenticationString, cfg.Algorithms.ShortAuthenticationString)
	if len(sasMethods) == 0 {
		s.cancelLocked(protocol.CancelUnknownMethod, "")
		return s, nil
	}

	kp, err := crypto.GenerateEphemeral()
	if err != nil {
		return nil, fmt.Errorf("sas: from start: %w", err)
	}
	s.keys = kp
	s.publicEphemeral = kp.PublicBase64()
	s.keyAgreementProtocol = kap
	s.hashAlgorithm = hash
	s.macMethod = mac
	s.sasMethods = sasMethods
	s.ownCommitment = crypto.Commitment(s.publicEphemeral, rawStart)

	return s, nil
}

// firstCommon returns the first entry of advertised that also appears in
// supported, preserving advertised's order (the responder picks from
// what the initiator offered, per spec.md §4.2).
func firstCommon(advertised, supported []string) (string, bool) {
	set := make(map[string]struct{}, len(supported))
	for _, v := range supported {
		set[v] = struct{}{}
	}
	for _, v := range advertised {
		if _, ok := set[v]; ok {
			return v, true
		}
	}
	return "", false
}

func commonElements(advertised, supported []string) []string {
	set := make(map[string]struct{}, len(supported))
	for _, v := range supported {
		set[v] = struct{}{}
	}
	var out []string
	for _, v := range advertised {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

// TransactionID returns the session's transaction id.
func (s *Session) TransactionID() string { return s.transactionID }

// WeStartedIt reports whether this side created the session via
// NewSession (true) or FromStart (false).
func (s *Session) WeStartedIt() bool { return s.weStartedIt }

// State returns the externally visible state.
func (s *Session) State() State { return s.state }

// Peer returns the device being verified.
func (s *Session) Peer() *directory.OlmDevice { return s.peer }

// Verified reports whether this session reached mutual verification:
// the local user confirmed the SAS and the peer's MAC validated.
func (s *Session) Verified() bool {
	return s.state == StateMacReceived && s.weAcceptedSAS && s.theirDeviceVerified
}

// VerifiedDevices returns the ed25519 key ids the peer's MAC
// successfully authenticated (spec.md §4.3's verified_devices set).
func (s *Session) VerifiedDevices() []string {
	out := make([]string, 0, len(s.verifiedDevices))
	for k := range s.verifiedDevices {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Canceled reports whether the session has reached its sink state.
func (s *Session) Canceled() bool { return s.state == StateCanceled }

// TimedOut reports whether the stored cancellation (if any) was caused
// by a timeout rather than any other cancel code.
func (s *Session) TimedOut() bool {
	return s.cancelContent != nil && s.cancelContent.Code == protocol.CancelTimeout
}

// TerminalAt returns the time the session reached a terminal state (only
// meaningful once Terminal() is true).
func (s *Session) TerminalAt() time.Time { return s.terminalAt }

// Terminal reports whether the session is in one of the three terminal
// conditions spec.md §3 invariant 6 names: Verified, Canceled, TimedOut.
// TimedOut is represented as Canceled with code m.timeout, so it is
// covered by the Canceled() check.
func (s *Session) Terminal() bool {
	return s.Canceled() || s.Verified()
}

// CreationTime returns when the session was constructed.
func (s *Session) CreationTime() time.Time { return s.creationTime }

// LastEventTime returns the last time a counterparty message was processed.
func (s *Session) LastEventTime() time.Time { return s.lastEventTime }

// CheckTimeout enforces spec.md §4.3's two timeout limits against the
// session's injected clock and, if either is exceeded, cancels the
// session with code m.timeout. It returns true if the session is (now)
// canceled for any reason, timeout or otherwise. It is idempotent:
// calling it on an already-canceled session is a no-op that returns true.
func (s *Session) CheckTimeout() bool {
	if s.state == StateCanceled {
		return true
	}
	now := s.clock()
	if now.Sub(s.creationTime) > s.cfg.SessionMaxAge {
		s.cancelLocked(protocol.CancelTimeout, "")
		return true
	}
	if now.Sub(s.lastEventTime) > s.cfg.EventMaxAge {
		s.cancelLocked(protocol.CancelTimeout, "")
		return true
	}
	return false
}

// touch records that a counterparty message was just processed. Only
// receipt of a protocol event updates last_event_time; purely local
// actions (start, accept) never do, per spec.md §4.3.
func (s *Session) touch() {
	s.lastEventTime = s.clock()
}

func (s *Session) cancelLocked(code protocol.CancelCode, reason string) protocol.CancelContent {
	if reason == "" {
		reason = protocol.DefaultReason(code)
	}
	c := protocol.CancelContent{TransactionID: s.transactionID, Code: code, Reason: reason}
	s.state = StateCanceled
	s.cancelContent = &c
	s.terminalAt = s.clock()
	return c
}

// Cancel is a local cancellation (the user aborted, or the UI reported a
// SAS mismatch). It always succeeds, even from a terminal state, and is
// idempotent: canceling twice keeps the first cancellation's payload.
func (s *Session) Cancel(code protocol.CancelCode, reason string) protocol.CancelContent {
	if s.cancelContent != nil {
		return *s.cancelContent
	}
	return s.cancelLocked(code, reason)
}

// ReceiveCancel records a cancellation the peer sent. It terminates the
// session without producing any further outgoing message.
func (s *Session) ReceiveCancel(cancel protocol.CancelContent) {
	if s.cancelContent != nil {
		return
	}
	s.touch()
	s.state = StateCanceled
	s.cancelContent = &cancel
	s.terminalAt = s.clock()
}

// GetCancelation returns the stored cancellation payload and true if the
// session is canceled. It is idempotent and safe to call repeatedly —
// the manager uses it to re-emit a cancel that may not have reached the
// peer yet.
func (s *Session) GetCancelation() (protocol.CancelContent, bool) {
	if s.cancelContent == nil {
		return protocol.CancelContent{}, false
	}
	return *s.cancelContent, true
}

func (s *Session) localErr(op string) error {
	return protocol.NewLocalProtocolError(s.state.String(), op)
}

// checkTimeoutNow enforces spec.md §4.3's two timeouts before processing
// an inbound protocol event — the timeouts are "checked on every
// externally triggered operation," not just the manager's periodic GC
// sweep. It returns a cancelError only when this very call is what just
// canceled the session, so the caller can hand it back as a fresh
// cancellation for the manager to transmit; a session already canceled
// before this call returns nil here and falls through to the normal
// already-canceled guard each receive method already has.
func (s *Session) checkTimeoutNow() *cancelError {
	wasCanceled := s.state == StateCanceled
	if !s.CheckTimeout() || wasCanceled {
		return nil
	}
	c, _ := s.GetCancelation()
	return &cancelError{c}
}

// StartVerification returns the start payload for an initiator session.
// It may be called exactly once; a second call, or a call on a session
// not created via NewSession, is a LocalProtocolError. It does not
// advance the externally visible state — WaitingForAccept folds into
// Created, per spec.md §4.3.
func (s *Session) StartVerification() (protocol.StartContent, error) {
	if !s.weStartedIt {
		return protocol.StartContent{}, s.localErr("start_verification")
	}
	if s.state == StateCanceled {
		return protocol.StartContent{}, s.localErr("start_verification")
	}
	if s.startCalled {
		return protocol.StartContent{}, s.localErr("start_verification")
	}
	content := protocol.StartContent{
		TransactionID:              s.transactionID,
		FromDevice:                 s.ownDeviceID,
		Method:                     protocol.MethodSASv1,
		KeyAgreementProtocols:      append([]string(nil), s.cfg.Algorithms.KeyAgreementProtocols...),
		Hashes:                     append([]string(nil), s.cfg.Algorithms.Hashes...),
		MessageAuthenticationCodes: append([]string(nil), s.cfg.Algorithms.MessageAuthenticationCodes...),
		ShortAuthenticationString:  append([]string(nil), s.cfg.Algorithms.ShortAuthenticationString...),
	}
	raw, err := protocol.Canonical(content)
	if err != nil {
		return protocol.StartContent{}, fmt.Errorf("sas: canonicalize start content: %w", err)
	}
	s.startContent = StartSnapshot{Content: content, Raw: raw}
	s.startCalled = true
	return content, nil
}

// AcceptVerification returns the accept payload for a responder session.
// Valid exactly once, in state Started, for a session created via
// FromStart. The commitment it carries was precomputed at FromStart time
// over the peer's verbatim start bytes and our own ephemeral public key.
func (s *Session) AcceptVerification() (protocol.AcceptContent, error) {
	if s.weStartedIt || s.state != StateStarted || s.acceptCalled {
		return protocol.AcceptContent{}, s.localErr("accept_verification")
	}
	s.acceptCalled = true
	return protocol.AcceptContent{
		TransactionID:             s.transactionID,
		Method:                    protocol.MethodSASv1,
		KeyAgreementProtocol:      s.keyAgreementProtocol,
		Hash:                      s.hashAlgorithm,
		MessageAuthenticationCode: s.macMethod,
		ShortAuthenticationString: s.sasMethods[0],
		Commitment:                s.ownCommitment,
	}, nil
}

// ReceiveAccept processes the responder's accept payload on the
// initiator side. It validates that every negotiated value was among
// what we advertised, records the peer's commitment, and advances to
// Accepted. A duplicate accept (already in Accepted or beyond) cancels
// with m.unexpected_message, per spec.md §4.4 and §8 scenario 6.
func (s *Session) ReceiveAccept(accept protocol.AcceptContent) error {
	if !s.weStartedIt {
		return s.localErr("receive_accept")
	}
	if ce := s.checkTimeoutNow(); ce != nil {
		return ce
	}
	if s.state == StateCanceled {
		return s.localErr("receive_accept")
	}
	if s.receivedAccept || s.state != StateCreated {
		c := s.cancelLocked(protocol.CancelUnexpectedMessage, "")
		return &cancelError{c}
	}
	if !contains(s.cfg.Algorithms.KeyAgreementProtocols, accept.KeyAgreementProtocol) ||
		!contains(s.cfg.Algorithms.Hashes, accept.Hash) ||
		!contains(s.cfg.Algorithms.MessageAuthenticationCodes, accept.MessageAuthenticationCode) ||
		!contains(s.cfg.Algorithms.ShortAuthenticationString, accept.ShortAuthenticationString) {
		c := s.cancelLocked(protocol.CancelUnknownMethod, "")
		return &cancelError{c}
	}
	s.touch()
	s.receivedAccept = true
	s.keyAgreementProtocol = accept.KeyAgreementProtocol
	s.hashAlgorithm = accept.Hash
	s.macMethod = accept.MessageAuthenticationCode
	s.sasMethods = []string{accept.ShortAuthenticationString}
	s.peerCommitment = accept.Commitment
	s.state = StateAccepted
	return nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// SendKey returns the initiator's own key payload. Valid once, in state
// Accepted. KeySent folds into the preceding visible state (Accepted).
func (s *Session) SendKey() (protocol.KeyContent, error) {
	if !s.weStartedIt || s.state != StateAccepted || s.sentKey {
		return protocol.KeyContent{}, s.localErr("send_key")
	}
	s.sentKey = true
	return protocol.KeyContent{TransactionID: s.transactionID, Key: s.publicEphemeral}, nil
}

// ReceiveKey processes the peer's key payload. On the initiator side it
// must follow SendKey and opens the commitment the peer sent in accept:
// it recomputes SHA256(our verbatim start bytes || peer's key) and
// compares to the stored commitment, canceling with m.key_mismatch on
// any discrepancy (spec.md §8 scenario 2). On the responder side it
// computes the shared secret and returns its own key payload as a side
// effect — the responder withholds its key until it has seen the
// initiator's, which is what makes the commitment binding (spec.md §4.3).
func (s *Session) ReceiveKey(key protocol.KeyContent) (*protocol.KeyContent, error) {
	if ce := s.checkTimeoutNow(); ce != nil {
		return nil, ce
	}
	if s.state == StateCanceled {
		return nil, s.localErr("receive_key")
	}
	if s.weStartedIt {
		if s.state != StateAccepted || !s.sentKey {
			c := s.cancelLocked(protocol.CancelUnexpectedMessage, "")
			return nil, &cancelError{c}
		}
		shared, err := s.keys.Agree(key.Key)
		if err != nil {
			c := s.cancelLocked(protocol.CancelKeyMismatch, "")
			return nil, fmt.Errorf("%w: %v", &cancelError{c}, err)
		}
		gotCommitment := crypto.Commitment(key.Key, s.startContent.Raw)
		if gotCommitment != s.peerCommitment {
			c := s.cancelLocked(protocol.CancelKeyMismatch, "")
			return nil, &cancelError{c}
		}
		s.touch()
		s.peerPublic = key.Key
		s.sharedSecret = shared
		s.state = StateKeyReceived
		return nil, nil
	}

	// Responder.
	if s.state != StateStarted || !s.acceptCalled {
		c := s.cancelLocked(protocol.CancelUnexpectedMessage, "")
		return nil, &cancelError{c}
	}
	shared, err := s.keys.Agree(key.Key)
	if err != nil {
		c := s.cancelLocked(protocol.CancelKeyMismatch, "")
		return nil, fmt.Errorf("%w: %v", &cancelError{c}, err)
	}
	s.touch()
	s.peerPublic = key.Key
	s.sharedSecret = shared
	s.state = StateKeyReceived
	own := protocol.KeyContent{TransactionID: s.transactionID, Key: s.publicEphemeral}
	s.sentKey = true
	return &own, nil
}

// sasOrder returns (initiatorUserDevice, initiatorKey, responderUserDevice,
// responderKey) in the fixed order spec.md §4.1 requires: determined by
// we_started_it, never lexicographic comparison.
func (s *Session) sasOrder() (initUser, initDevice, initKey, respUser, respDevice, respKey string) {
	if s.weStartedIt {
		return s.ownUserID, s.ownDeviceID, s.publicEphemeral, s.peer.UserID, s.peer.DeviceID, s.peerPublic
	}
	return s.peer.UserID, s.peer.DeviceID, s.peerPublic, s.ownUserID, s.ownDeviceID, s.publicEphemeral
}

// SASBytes derives the 6 raw SAS bytes from the shared secret. Valid
// from KeyReceived onward.
func (s *Session) SASBytes() ([]byte, error) {
	if s.sharedSecret == nil {
		return nil, s.localErr("sas_bytes")
	}
	iu, id, ik, ru, rd, rk := s.sasOrder()
	return crypto.DeriveSASBytes(s.sharedSecret, iu, id, ik, ru, rd, rk, s.transactionID)
}

// EmojiString renders the SAS as 7 emoji.
func (s *Session) EmojiString() ([7]EmojiEntry, error) {
	b, err := s.SASBytes()
	if err != nil {
		return [7]EmojiEntry{}, err
	}
	return EmojiString(b)
}

// DecimalString renders the SAS as three space-separated decimal groups.
func (s *Session) DecimalString() (string, error) {
	b, err := s.SASBytes()
	if err != nil {
		return "", err
	}
	return DecimalString(b)
}

// AcceptSAS records that the local user confirmed the short
// authentication string matched out-of-band. Valid in state KeyReceived,
// and also in MacReceived for the case where the peer's mac arrived
// before the local user finished comparing the string — spec.md §4.3
// allows receive_mac to advance to MacReceived independently of
// we_accepted_sas, with Verified() only becoming true once both are set.
// It does not itself emit anything — GetMAC() does that, and calling
// GetMAC() before AcceptSAS() is a LocalProtocolError.
func (s *Session) AcceptSAS() error {
	if s.state != StateKeyReceived && s.state != StateMacReceived {
		return s.localErr("accept_sas")
	}
	s.weAcceptedSAS = true
	if s.Verified() && s.terminalAt.IsZero() {
		s.terminalAt = s.clock()
	}
	return nil
}

// ownKeyID is the key id this side's MAC entry is filed under: its own
// long-term ed25519 signing key, identified by its own device id.
func (s *Session) ownKeyID() string { return "ed25519:" + s.ownDeviceID }

// peerKeyID is the key id we expect the peer's MAC entry for the device
// under verification to be filed under.
func (s *Session) peerKeyID() string { return "ed25519:" + s.peer.DeviceID }

// GetMAC computes and returns the mac payload: an HMAC over our own
// device's long-term ed25519 key, filed under "ed25519:<device_id>",
// plus the "keys" MAC over the sorted, comma-joined key-id list (here a
// single-element list, since this core MACs only its own device key —
// spec.md §9's supplemented "partial-key tolerance" note concerns what a
// *receiver* must tolerate, not what this side sends). Requires
// AcceptSAS() to have been called first; calling it otherwise is a
// LocalProtocolError (spec.md §4.3). WaitingForMac folds into the
// preceding visible state (KeyReceived), so this does not change State().
func (s *Session) GetMAC() (protocol.MACContent, error) {
	if s.sharedSecret == nil || !s.weAcceptedSAS {
		return protocol.MACContent{}, s.localErr("get_mac")
	}
	keyID := s.ownKeyID()
	macKey, err := crypto.DeriveMACKey(s.sharedSecret, s.ownUserID, s.ownDeviceID, s.peer.UserID, s.peer.DeviceID, s.transactionID, keyID)
	if err != nil {
		return protocol.MACContent{}, fmt.Errorf("sas: derive mac key: %w", err)
	}
	macs := map[string]string{keyID: crypto.MAC(macKey, []byte(s.ownEd25519Key))}

	keysMACKey, err := crypto.DeriveMACKey(s.sharedSecret, s.ownUserID, s.ownDeviceID, s.peer.UserID, s.peer.DeviceID, s.transactionID, crypto.KeysMACKeyID)
	if err != nil {
		return protocol.MACContent{}, fmt.Errorf("sas: derive keys mac key: %w", err)
	}
	content := protocol.MACContent{
		TransactionID: s.transactionID,
		MAC:           macs,
		Keys:          crypto.MAC(keysMACKey, []byte(joinedKeyIDs(macs))),
	}
	s.sentMAC = true
	return content, nil
}

func joinedKeyIDs(mac map[string]string) string {
	ids := make([]string, 0, len(mac))
	for id := range mac {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

// ReceiveMAC validates the peer's mac payload. It first validates the
// "keys" field, an HMAC over the sorted, comma-joined list of key ids
// present in "mac" — tampering with that list, or with any individual
// entry, fails verification (spec.md §8 scenarios 2 and 3). For every
// entry this side recognizes (the peer device's own long-term ed25519
// key, filed under "ed25519:<device_id>"), it recomputes the HMAC over
// that key's material and compares. Per spec.md §9's supplemented
// "partial-key tolerance" note, an entry for a key id this core does not
// recognize is not itself fatal — recognized entries still validate
// independently — but at least the expected peer-device entry must be
// present and must verify, or the whole mac is rejected.
func (s *Session) ReceiveMAC(mac protocol.MACContent) error {
	if ce := s.checkTimeoutNow(); ce != nil {
		return ce
	}
	if s.state == StateCanceled {
		return s.localErr("receive_mac")
	}
	if s.receivedMAC || s.sharedSecret == nil {
		c := s.cancelLocked(protocol.CancelUnexpectedMessage, "")
		return &cancelError{c}
	}
	s.touch()

	keysMACKey, err := crypto.DeriveMACKey(s.sharedSecret, s.peer.UserID, s.peer.DeviceID, s.ownUserID, s.ownDeviceID, s.transactionID, crypto.KeysMACKeyID)
	if err != nil {
		c := s.cancelLocked(protocol.CancelKeyMismatch, "")
		return &cancelError{c}
	}
	if !crypto.VerifyMAC(keysMACKey, []byte(joinedKeyIDs(mac.MAC)), mac.Keys) {
		c := s.cancelLocked(protocol.CancelKeyMismatch, "")
		return &cancelError{c}
	}

	wantKeyID := s.peerKeyID()
	if _, present := mac.MAC[wantKeyID]; !present {
		c := s.cancelLocked(protocol.CancelKeyMismatch, "")
		return &cancelError{c}
	}

	verified := make(map[string]struct{}, len(mac.MAC))
	for keyID, claimed := range mac.MAC {
		var material []byte
		switch keyID {
		case wantKeyID:
			material = []byte(s.peer.Ed25519)
		default:
			// A key id this core has no directory material for: skip
			// rather than fail the whole exchange, per the original
			// client's partial-key tolerance (spec.md §9).
			continue
		}
		macKey, err := crypto.DeriveMACKey(s.sharedSecret, s.peer.UserID, s.peer.DeviceID, s.ownUserID, s.ownDeviceID, s.transactionID, keyID)
		if err != nil {
			c := s.cancelLocked(protocol.CancelKeyMismatch, "")
			return &cancelError{c}
		}
		if !crypto.VerifyMAC(macKey, material, claimed) {
			c := s.cancelLocked(protocol.CancelKeyMismatch, "")
			return &cancelError{c}
		}
		verified[keyID] = struct{}{}
	}
	if _, ok := verified[wantKeyID]; !ok {
		c := s.cancelLocked(protocol.CancelKeyMismatch, "")
		return &cancelError{c}
	}

	for id := range verified {
		s.verifiedDevices[id] = struct{}{}
	}
	s.receivedMAC = true
	s.theirDeviceVerified = true
	s.state = StateMacReceived
	if s.Verified() && s.terminalAt.IsZero() {
		s.terminalAt = s.clock()
	}
	return nil
}

// cancelError wraps a CancelContent a session method produced as a side
// effect of a protocol violation, so callers can both treat it as an
// error and recover the payload to transmit via errors.As.
type cancelError struct {
	Cancel protocol.CancelContent
}

func (e *cancelError) Error() string {
	return fmt.Sprintf("sas: canceled (%s): %s", e.Cancel.Code, e.Cancel.Reason)
}

// AsCancel extracts the CancelContent from err if it (or something it
// wraps) is a cancellation produced by a Session method.
func AsCancel(err error) (protocol.CancelContent, bool) {
	var ce *cancelError
	if ok := asCancelError(err, &ce); ok {
		return ce.Cancel, true
	}
	return protocol.CancelContent{}, false
}

func asCancelError(err error, target **cancelError) bool {
	for err != nil {
		if ce, ok := err.(*cancelError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
