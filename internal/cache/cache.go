// Copyright 2024 LatentFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache provides cache implementations for the image access layer.
//
// Currently provides:
// - BlockCache: bounded cache of raw image blocks keyed by block index
//
// Cached blocks are shared read-only views; callers must not modify them.
package cache

import "os"

// Disabled controls whether all caching mechanisms are disabled.
// Set via LFSFORENSICS_CACHE=0 environment variable.
// When true:
// - BlockCache.Get() always returns nil (cache miss)
// - BlockCache.Set() is a no-op
//
// This is useful for testing and debugging to verify decoding works correctly
// without caching, and to isolate cache-related bugs.
var Disabled = os.Getenv("LFSFORENSICS_CACHE") == "0"

// Invalidator is implemented by all caches that support full invalidation.
type Invalidator interface {
	// Invalidate clears all entries from the cache.
	Invalidate()
}
