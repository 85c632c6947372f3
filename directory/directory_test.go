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

package directory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/olmverify/sas/directory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDirectory struct {
	calls int32
	delay time.Duration
}

func (d *countingDirectory) Lookup(ctx context.Context, userID, deviceID string) (*directory.OlmDevice, error) {
	atomic.AddInt32(&d.calls, 1)
	time.Sleep(d.delay)
	return &directory.OlmDevice{UserID: userID, DeviceID: deviceID, Ed25519: "key-" + deviceID}, nil
}

func TestCachingDirectoryDedupesConcurrentLookups(t *testing.T) {
	underlying := &countingDirectory{delay: 10 * time.Millisecond}
	cache := directory.NewCachingDirectory(underlying, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			device, err := cache.Lookup(context.Background(), "@alice:example.org", "AAAAAA")
			require.NoError(t, err)
			assert.Equal(t, "key-AAAAAA", device.Ed25519)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&underlying.calls))
}

func TestCachingDirectoryExpiresEntries(t *testing.T) {
	underlying := &countingDirectory{}
	cache := directory.NewCachingDirectory(underlying, time.Millisecond)

	_, err := cache.Lookup(context.Background(), "@alice:example.org", "AAAAAA")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = cache.Lookup(context.Background(), "@alice:example.org", "AAAAAA")
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&underlying.calls))
}

func TestCachingDirectoryInvalidate(t *testing.T) {
	underlying := &countingDirectory{}
	cache := directory.NewCachingDirectory(underlying, time.Hour)

	_, err := cache.Lookup(context.Background(), "@alice:example.org", "AAAAAA")
	require.NoError(t, err)
	cache.Invalidate("@alice:example.org", "AAAAAA")
	_, err = cache.Lookup(context.Background(), "@alice:example.org", "AAAAAA")
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&underlying.calls))
}
