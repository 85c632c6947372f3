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

package sas_test

import (
	"testing"
	"time"

	"github.com/olmverify/sas/config"
	"github.com/olmverify/sas/directory"
	"github.com/olmverify/sas/internal/clock"
	"github.com/olmverify/sas/protocol"
	"github.com/olmverify/sas/sas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	aliceUser   = "@alice:example.org"
	aliceDevice = "JLAFKJWSCS"
	bobUser     = "@bob:example.org"
	bobDevice   = "JLAFKJWSRS"
)

// pair holds both ends of a freshly negotiated verification, far enough
// along that tests can drive the remaining exchange.
type pair struct {
	alice *sas.Session
	bob   *sas.Session
}

func newPair(t *testing.T, cfg config.Config, clk clock.Source) pair {
	t.Helper()
	if clk == nil {
		clk = clock.Fixed(time.Unix(1700000000, 0))
	}

	aliceOlm := &directory.OlmDevice{UserID: aliceUser, DeviceID: aliceDevice, Ed25519: "alice-ed25519-key"}
	bobOlm := &directory.OlmDevice{UserID: bobUser, DeviceID: bobDevice, Ed25519: "bob-ed25519-key"}

	alice, err := sas.NewSession(cfg, clk, aliceUser, aliceDevice, aliceOlm.Ed25519, bobOlm)
	require.NoError(t, err)
	start, err := alice.StartVerification()
	require.NoError(t, err)

	rawStart, err := protocol.Canonical(start)
	require.NoError(t, err)

	bob, err := sas.FromStart(cfg, clk, bobUser, bobDevice, bobOlm.Ed25519, aliceOlm, start, rawStart)
	require.NoError(t, err)
	require.False(t, bob.Canceled())

	accept, err := bob.AcceptVerification()
	require.NoError(t, err)

	require.NoError(t, alice.ReceiveAccept(accept))

	return pair{alice: alice, bob: bob}
}

func driveToKeyReceived(t *testing.T, p pair) {
	t.Helper()
	aliceKey, err := p.alice.SendKey()
	require.NoError(t, err)

	bobOwnKey, err := p.bob.ReceiveKey(aliceKey)
	require.NoError(t, err)
	require.NotNil(t, bobOwnKey)

	ownKey, err := p.alice.ReceiveKey(*bobOwnKey)
	require.NoError(t, err)
	require.Nil(t, ownKey)
}

func TestHappyPathBothSidesVerify(t *testing.T) {
	cfg := config.Default()
	p := newPair(t, cfg, nil)
	driveToKeyReceived(t, p)

	aliceSAS, err := p.alice.EmojiString()
	require.NoError(t, err)
	bobSAS, err := p.bob.EmojiString()
	require.NoError(t, err)
	assert.Equal(t, aliceSAS, bobSAS, "both sides must derive identical SAS emoji")

	aliceDecimal, err := p.alice.DecimalString()
	require.NoError(t, err)
	bobDecimal, err := p.bob.DecimalString()
	require.NoError(t, err)
	assert.Equal(t, aliceDecimal, bobDecimal, "both sides must derive identical SAS decimal")

	require.NoError(t, p.alice.AcceptSAS())
	require.NoError(t, p.bob.AcceptSAS())

	aliceMAC, err := p.alice.GetMAC()
	require.NoError(t, err)
	bobMAC, err := p.bob.GetMAC()
	require.NoError(t, err)

	require.NoError(t, p.bob.ReceiveMAC(aliceMAC))
	require.NoError(t, p.alice.ReceiveMAC(bobMAC))

	assert.True(t, p.alice.Verified())
	assert.True(t, p.bob.Verified())
	assert.Equal(t, sas.StateMacReceived, p.alice.State())
	assert.Equal(t, sas.StateMacReceived, p.bob.State())
}

func TestCommitmentMismatchCancelsInitiator(t *testing.T) {
	cfg := config.Default()
	p := newPair(t, cfg, nil)

	aliceKey, err := p.alice.SendKey()
	require.NoError(t, err)
	_, err = p.bob.ReceiveKey(aliceKey)
	require.NoError(t, err)

	// Tamper: "Bob"'s key payload carries Alice's own ephemeral public
	// key instead of Bob's.
	tampered := protocol.KeyContent{TransactionID: p.alice.TransactionID(), Key: aliceKey.Key}
	_, err = p.alice.ReceiveKey(tampered)
	require.Error(t, err)

	cancel, ok := sas.AsCancel(err)
	require.True(t, ok)
	assert.Equal(t, protocol.CancelKeyMismatch, cancel.Code)
	assert.Equal(t, sas.StateCanceled, p.alice.State())
}

func TestMACTamperingCancelsReceiverAndLeavesUnverified(t *testing.T) {
	cfg := config.Default()
	p := newPair(t, cfg, nil)
	driveToKeyReceived(t, p)

	require.NoError(t, p.alice.AcceptSAS())
	require.NoError(t, p.bob.AcceptSAS())

	aliceMAC, err := p.alice.GetMAC()
	require.NoError(t, err)

	aliceMAC.Keys = "FAKEKEYS"
	err = p.bob.ReceiveMAC(aliceMAC)
	require.Error(t, err)

	cancel, ok := sas.AsCancel(err)
	require.True(t, ok)
	assert.Equal(t, protocol.CancelKeyMismatch, cancel.Code)
	assert.False(t, p.bob.Verified())
	assert.True(t, p.bob.Canceled())
}

func TestMACEntryTamperingCancelsReceiver(t *testing.T) {
	cfg := config.Default()
	p := newPair(t, cfg, nil)
	driveToKeyReceived(t, p)

	require.NoError(t, p.alice.AcceptSAS())
	require.NoError(t, p.bob.AcceptSAS())

	aliceMAC, err := p.alice.GetMAC()
	require.NoError(t, err)
	for k := range aliceMAC.MAC {
		aliceMAC.MAC[k] = "tampered-value"
	}

	err = p.bob.ReceiveMAC(aliceMAC)
	require.Error(t, err)
	assert.False(t, p.bob.Verified())
	assert.True(t, p.bob.Canceled())
}

func TestUnknownMethodCancelsResponderImmediately(t *testing.T) {
	cfg := config.Default()
	clk := clock.Fixed(time.Unix(1700000000, 0))

	bobOlm := &directory.OlmDevice{UserID: bobUser, DeviceID: bobDevice}
	aliceOlm := &directory.OlmDevice{UserID: aliceUser, DeviceID: aliceDevice}

	start := protocol.StartContent{
		TransactionID:              "txn-unknown-method",
		FromDevice:                 aliceDevice,
		Method:                     "m.sas.v0",
		KeyAgreementProtocols:      []string{"curve25519"},
		Hashes:                     []string{"sha256"},
		MessageAuthenticationCodes: []string{"hkdf-hmac-sha256"},
		ShortAuthenticationString:  []string{"emoji"},
	}
	raw, err := protocol.Canonical(start)
	require.NoError(t, err)

	bob, err := sas.FromStart(cfg, clk, bobUser, bobDevice, bobOlm.Ed25519, aliceOlm, start, raw)
	require.NoError(t, err)
	assert.True(t, bob.Canceled())

	cancel, ok := bob.GetCancelation()
	require.True(t, ok)
	assert.Equal(t, protocol.CancelUnknownMethod, cancel.Code)
}

func TestDuplicateAcceptCancelsInitiatorOnSecondDelivery(t *testing.T) {
	cfg := config.Default()
	p := newPair(t, cfg, nil)

	accept := protocol.AcceptContent{
		TransactionID:             p.alice.TransactionID(),
		Method:                    protocol.MethodSASv1,
		KeyAgreementProtocol:      "curve25519",
		Hash:                      "sha256",
		MessageAuthenticationCode: "hkdf-hmac-sha256",
		ShortAuthenticationString: "emoji",
		Commitment:                "whatever",
	}
	// First accept already delivered by newPair via ReceiveAccept in
	// setup; a second delivery must cancel with m.unexpected_message.
	assert.False(t, p.alice.Canceled())

	err := p.alice.ReceiveAccept(accept)
	require.Error(t, err)
	cancel, ok := sas.AsCancel(err)
	require.True(t, ok)
	assert.Equal(t, protocol.CancelUnexpectedMessage, cancel.Code)
	assert.True(t, p.alice.Canceled())
}

func TestSessionMaxAgeTimesOut(t *testing.T) {
	cfg := config.Default()
	// EventMaxAge is only 1 minute by default; widen it here so this test
	// isolates the session's absolute-lifetime limit instead of racing it.
	cfg.EventMaxAge = time.Hour
	base := time.Unix(1700000000, 0)
	now := base
	clk := func() time.Time { return now }

	s, err := sas.NewSession(cfg, clk, aliceUser, aliceDevice, "k", &directory.OlmDevice{UserID: bobUser, DeviceID: bobDevice})
	require.NoError(t, err)

	now = base.Add(5 * time.Minute)
	assert.False(t, s.CheckTimeout())
	assert.False(t, s.TimedOut())

	now = base.Add(10*time.Minute + time.Second)
	assert.True(t, s.CheckTimeout())
	assert.True(t, s.TimedOut())
	assert.True(t, s.Canceled())
}

func TestEventMaxAgeTimesOut(t *testing.T) {
	cfg := config.Default()
	base := time.Unix(1700000000, 0)
	now := base
	clk := func() time.Time { return now }

	p := newPair(t, cfg, clk)
	_ = p

	now = base.Add(2 * time.Minute)
	assert.True(t, p.alice.CheckTimeout())
	assert.True(t, p.alice.TimedOut())
}

func TestGetCancelationIsIdempotent(t *testing.T) {
	cfg := config.Default()
	s, err := sas.NewSession(cfg, clock.Fixed(time.Now()), aliceUser, aliceDevice, "k", &directory.OlmDevice{UserID: bobUser, DeviceID: bobDevice})
	require.NoError(t, err)

	first := s.Cancel(protocol.CancelUser, "")
	second := s.Cancel(protocol.CancelUser, "")
	assert.Equal(t, first, second)

	got1, ok := s.GetCancelation()
	require.True(t, ok)
	got2, ok := s.GetCancelation()
	require.True(t, ok)
	assert.Equal(t, got1, got2)
}

func TestOperationsAfterCancelAreLocalProtocolErrors(t *testing.T) {
	cfg := config.Default()
	p := newPair(t, cfg, nil)
	p.alice.Cancel(protocol.CancelUser, "")

	_, err := p.alice.SendKey()
	assert.Error(t, err)

	_, ok := sas.AsCancel(err)
	assert.False(t, ok, "a post-cancel call is a LocalProtocolError, not a new cancellation")

	var lpe *protocol.LocalProtocolError
	assert.ErrorAs(t, err, &lpe)
}

func TestStartVerificationCannotBeCalledTwice(t *testing.T) {
	cfg := config.Default()
	s, err := sas.NewSession(cfg, clock.Fixed(time.Now()), aliceUser, aliceDevice, "k", &directory.OlmDevice{UserID: bobUser, DeviceID: bobDevice})
	require.NoError(t, err)

	_, err = s.StartVerification()
	require.NoError(t, err)

	_, err = s.StartVerification()
	require.Error(t, err)
	var lpe *protocol.LocalProtocolError
	assert.ErrorAs(t, err, &lpe)
}

func TestGetMACBeforeAcceptSASIsLocalProtocolError(t *testing.T) {
	cfg := config.Default()
	p := newPair(t, cfg, nil)
	driveToKeyReceived(t, p)

	_, err := p.alice.GetMAC()
	require.Error(t, err)
	var lpe *protocol.LocalProtocolError
	assert.ErrorAs(t, err, &lpe)
}

// TestLateMACIsTimedOutRatherThanVerified regresses a defect where
// CheckTimeout was only ever invoked from the manager's GC sweep: a
// session idle past EventMaxAge that then received a valid mac payload
// was processed normally and reached Verified() instead of canceling
// with m.timeout, exactly the stalled-then-completed weakness spec.md
// §4.3's per-event timeout exists to prevent.
func TestLateMACIsTimedOutRatherThanVerified(t *testing.T) {
	cfg := config.Default()
	base := time.Unix(1700000000, 0)
	now := base
	clk := func() time.Time { return now }

	p := newPair(t, cfg, clk)
	driveToKeyReceived(t, p)

	require.NoError(t, p.bob.AcceptSAS())
	bobMAC, err := p.bob.GetMAC()
	require.NoError(t, err)

	now = base.Add(2 * time.Minute) // past EventMaxAge (1 minute)
	require.NoError(t, p.alice.AcceptSAS())

	err = p.alice.ReceiveMAC(bobMAC)
	require.Error(t, err)
	cancel, ok := sas.AsCancel(err)
	require.True(t, ok)
	assert.Equal(t, protocol.CancelTimeout, cancel.Code)
	assert.True(t, p.alice.Canceled())
	assert.False(t, p.alice.Verified())
}
