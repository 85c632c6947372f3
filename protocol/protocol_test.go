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

package protocol_test

import (
	"errors"
	"testing"

	"github.com/olmverify/sas/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalSortsKeys(t *testing.T) {
	start := protocol.StartContent{
		TransactionID:              "txn1",
		FromDevice:                 "AAAAAA",
		Method:                     protocol.MethodSASv1,
		KeyAgreementProtocols:      []string{"curve25519"},
		Hashes:                     []string{"sha256"},
		MessageAuthenticationCodes: []string{"hkdf-hmac-sha256"},
		ShortAuthenticationString:  []string{"emoji", "decimal"},
	}
	raw, err := protocol.Canonical(start)
	require.NoError(t, err)

	// "from_device" sorts before "transaction_id" alphabetically even
	// though the struct declares transaction_id first.
	fromIdx, txnIdx := indexOf(t, raw, `"from_device"`), indexOf(t, raw, `"transaction_id"`)
	assert.Less(t, fromIdx, txnIdx)
}

func indexOf(t *testing.T, haystack []byte, needle string) int {
	t.Helper()
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if string(haystack[i:i+len(needle)]) == needle {
			return i
		}
	}
	t.Fatalf("%q not found in %s", needle, haystack)
	return -1
}

func TestParseStartRejectsMissingFields(t *testing.T) {
	_, err := protocol.ParseStart([]byte(`{"transaction_id":"txn1"}`))
	assert.Error(t, err)
}

func TestParseStartRejectsMalformedJSON(t *testing.T) {
	_, err := protocol.ParseStart([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseRoundTrip(t *testing.T) {
	want := protocol.KeyContent{TransactionID: "txn1", Key: "abc123"}
	raw, err := protocol.Canonical(want)
	require.NoError(t, err)

	got, err := protocol.ParseKey(raw)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestNewCancelUsesDefaultReason(t *testing.T) {
	c := protocol.NewCancel("txn1", protocol.CancelUser)
	assert.Equal(t, "Canceled by user", c.Reason)
	assert.Equal(t, protocol.CancelUser, c.Code)
}

func TestLocalProtocolErrorMessage(t *testing.T) {
	err := protocol.NewLocalProtocolError("Created", "get_mac")
	assert.Contains(t, err.Error(), "Created")
	assert.Contains(t, err.Error(), "get_mac")

	var lpe *protocol.LocalProtocolError
	assert.True(t, errors.As(err, &lpe))
}
