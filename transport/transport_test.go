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

package transport_test

import (
	"context"
	"errors"
	"testing"

	"github.com/olmverify/sas/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockTransportRecordsSends(t *testing.T) {
	mt := &transport.MockTransport{}
	env := &transport.Envelope{RecipientUserID: "@bob:example.org", RecipientDeviceID: "BBBBBB"}

	require.NoError(t, mt.Send(context.Background(), env))
	assert.Len(t, mt.Sent, 1)
	assert.Same(t, env, mt.Sent[0])
}

func TestMockTransportSendFunc(t *testing.T) {
	wantErr := errors.New("boom")
	mt := &transport.MockTransport{
		SendFunc: func(ctx context.Context, msg *transport.Envelope) error {
			return wantErr
		},
	}

	err := mt.Send(context.Background(), &transport.Envelope{})
	assert.ErrorIs(t, err, wantErr)
}
