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

package crypto_test

import (
	"encoding/base64"
	"testing"

	"github.com/olmverify/sas/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgreeProducesSymmetricSecret(t *testing.T) {
	alice, err := crypto.GenerateEphemeral()
	require.NoError(t, err)
	bob, err := crypto.GenerateEphemeral()
	require.NoError(t, err)

	aliceShared, err := alice.Agree(bob.PublicBase64())
	require.NoError(t, err)
	bobShared, err := bob.Agree(alice.PublicBase64())
	require.NoError(t, err)

	assert.Equal(t, aliceShared, bobShared)
}

func TestAgreeRejectsLowOrderPoint(t *testing.T) {
	kp, err := crypto.GenerateEphemeral()
	require.NoError(t, err)

	var zero [32]byte
	zeroKey := base64.RawStdEncoding.EncodeToString(zero[:])

	_, err = kp.Agree(zeroKey)
	assert.ErrorIs(t, err, crypto.ErrLowOrderKey)
}

func TestAgreeRejectsReflectedOwnKey(t *testing.T) {
	kp, err := crypto.GenerateEphemeral()
	require.NoError(t, err)

	_, err = kp.Agree(kp.PublicBase64())
	assert.ErrorIs(t, err, crypto.ErrReflectedKey)
}

func TestDeriveSASBytesDeterministic(t *testing.T) {
	shared := make([]byte, 32)
	for i := range shared {
		shared[i] = byte(i)
	}

	a, err := crypto.DeriveSASBytes(shared, "@alice:example.org", "AAAAAA", "keyA", "@bob:example.org", "BBBBBB", "keyB", "txn1")
	require.NoError(t, err)
	b, err := crypto.DeriveSASBytes(shared, "@alice:example.org", "AAAAAA", "keyA", "@bob:example.org", "BBBBBB", "keyB", "txn1")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 6)
}

func TestDeriveSASBytesDependsOnTransactionID(t *testing.T) {
	shared := make([]byte, 32)
	a, err := crypto.DeriveSASBytes(shared, "@alice:example.org", "AAAAAA", "keyA", "@bob:example.org", "BBBBBB", "keyB", "txn1")
	require.NoError(t, err)
	b, err := crypto.DeriveSASBytes(shared, "@alice:example.org", "AAAAAA", "keyA", "@bob:example.org", "BBBBBB", "keyB", "txn2")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestMACRoundTrip(t *testing.T) {
	key, err := crypto.DeriveMACKey(make([]byte, 32), "@alice:example.org", "AAAAAA", "@bob:example.org", "BBBBBB", "txn1", "ed25519:BBBBBB")
	require.NoError(t, err)

	mac := crypto.MAC(key, []byte("ed25519:BBBBBB"))
	assert.True(t, crypto.VerifyMAC(key, []byte("ed25519:BBBBBB"), mac))
	assert.False(t, crypto.VerifyMAC(key, []byte("ed25519:other"), mac))
}

func TestCommitmentChangesWithPayload(t *testing.T) {
	c1 := crypto.Commitment("responder-key", []byte(`{"a":1}`))
	c2 := crypto.Commitment("responder-key", []byte(`{"a":2}`))
	assert.NotEqual(t, c1, c2)
}

func TestNewTransactionIDUnique(t *testing.T) {
	a, err := crypto.NewTransactionID()
	require.NoError(t, err)
	b, err := crypto.NewTransactionID()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 32)
}
