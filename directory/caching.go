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

package directory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CachingDirectory wraps a Directory with a TTL cache and request
// deduplication, the same shape as the teacher's cachedPeer map guarded
// by a singleflight.Group: concurrent Lookups for the same device while
// a resolution is in flight share one call to the underlying Directory.
type CachingDirectory struct {
	underlying Directory
	ttl        time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry

	sf singleflight.Group
}

type cacheEntry struct {
	device  *OlmDevice
	expires time.Time
}

// NewCachingDirectory wraps underlying with a cache that holds each
// resolved device for ttl.
func NewCachingDirectory(underlying Directory, ttl time.Duration) *CachingDirectory {
	return &CachingDirectory{
		underlying: underlying,
		ttl:        ttl,
		cache:      make(map[string]cacheEntry),
	}
}

func cacheKey(userID, deviceID string) string {
	return userID + "\x00" + deviceID
}

// Lookup returns the cached device if still fresh, otherwise resolves it
// through the underlying Directory, deduplicating concurrent lookups for
// the same key.
func (c *CachingDirectory) Lookup(ctx context.Context, userID, deviceID string) (*OlmDevice, error) {
	key := cacheKey(userID, deviceID)

	c.mu.Lock()
	if entry, ok := c.cache[key]; ok && time.Now().Before(entry.expires) {
		c.mu.Unlock()
		return entry.device, nil
	}
	c.mu.Unlock()

	v, err, _ := c.sf.Do(key, func() (any, error) {
		device, err := c.underlying.Lookup(ctx, userID, deviceID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[key] = cacheEntry{device: device, expires: time.Now().Add(c.ttl)}
		c.mu.Unlock()
		return device, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*OlmDevice), nil
}

// Invalidate drops any cached entry for (user_id, device_id), forcing
// the next Lookup to consult the underlying Directory.
func (c *CachingDirectory) Invalidate(userID, deviceID string) {
	c.mu.Lock()
	delete(c.cache, cacheKey(userID, deviceID))
	c.mu.Unlock()
}
