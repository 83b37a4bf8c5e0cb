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

// Package blockdev provides read-only, block-granular access to a flat
// flash image file.
package blockdev

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"

	"lfsforensics/internal/cache"
	"lfsforensics/internal/common"
	"lfsforensics/internal/util"
)

// DefaultCacheBlocks bounds how many blocks a Device keeps in memory.
const DefaultCacheBlocks = 1024

// Device is a read-only view of an image split into fixed-size blocks.
// It is safe for concurrent use: reads go through io.ReaderAt and the cache is locked.
type Device struct {
	path       string
	r          io.ReaderAt
	closer     io.Closer
	lock       *flock.Flock
	size       int64
	blockSize  uint32
	blockCount uint32
	cache      *cache.BlockCache
}

// Open opens an image file for analysis.
// A shared advisory lock is taken so that a cooperating writer cannot modify the
// image mid-analysis. Lock failures other than contention are logged and ignored,
// since evidence often lives on read-only media.
func Open(ctx context.Context, path string, blockSize, blockCount uint32) (*Device, error) {
	if blockSize == 0 || blockCount == 0 {
		return nil, fmt.Errorf("%w: block size and block count must be positive", common.ErrInvalidConfig)
	}

	lock, err := util.RetryWithResult(ctx, func() (*flock.Flock, error) {
		return acquireSharedLock(path)
	}, util.ImageOpenRetryOptions(ctx)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrImageOpen, path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		releaseLock(lock)
		return nil, fmt.Errorf("%w: %v", common.ErrImageOpen, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		releaseLock(lock)
		return nil, fmt.Errorf("%w: %v", common.ErrImageOpen, err)
	}
	if info.IsDir() {
		f.Close()
		releaseLock(lock)
		return nil, fmt.Errorf("%w: %s is a directory", common.ErrImageOpen, path)
	}

	d := newDevice(f, info.Size(), blockSize, blockCount)
	d.path = path
	d.closer = f
	d.lock = lock

	if want := int64(blockSize) * int64(blockCount); d.size < want {
		log.Warnf("[BlockDevice] image %s is %d bytes, geometry needs %d; trailing blocks will read as truncated",
			path, d.size, want)
	}
	log.Debugf("[BlockDevice] opened %s: size=%d block_size=%d block_count=%d", path, d.size, blockSize, blockCount)
	return d, nil
}

// FromBytes wraps an in-memory image.
func FromBytes(image []byte, blockSize, blockCount uint32) *Device {
	return FromReaderAt(bytes.NewReader(image), int64(len(image)), blockSize, blockCount)
}

// FromReaderAt wraps any random-access source of the given size.
func FromReaderAt(r io.ReaderAt, size int64, blockSize, blockCount uint32) *Device {
	return newDevice(r, size, blockSize, blockCount)
}

func newDevice(r io.ReaderAt, size int64, blockSize, blockCount uint32) *Device {
	return &Device{
		r:          r,
		size:       size,
		blockSize:  blockSize,
		blockCount: blockCount,
		cache:      cache.NewBlockCache(DefaultCacheBlocks),
	}
}

func acquireSharedLock(path string) (*flock.Flock, error) {
	if _, err := os.Stat(path); err != nil {
		// Not transient; surfaces as ErrImageOpen from the caller.
		return nil, err
	}
	lock := flock.New(path, flock.SetFlag(os.O_RDONLY))
	locked, err := lock.TryRLock()
	if err != nil {
		log.Warnf("[BlockDevice] cannot lock %s, continuing unlocked: %v", path, err)
		return nil, nil
	}
	if !locked {
		return nil, fmt.Errorf("image locked by a writer: %w", util.ErrBusy)
	}
	return lock, nil
}

func releaseLock(lock *flock.Flock) {
	if lock == nil {
		return
	}
	if err := lock.Unlock(); err != nil {
		log.Debugf("[BlockDevice] unlock failed: %v", err)
	}
}

// Close releases the image and its lock.
func (d *Device) Close() error {
	var err error
	if d.closer != nil {
		err = d.closer.Close()
		d.closer = nil
	}
	releaseLock(d.lock)
	d.lock = nil
	st := d.CacheStats()
	log.Debugf("[BlockDevice] closing %s: cache hits=%d misses=%d size=%d/%d",
		d.path, st.Hits, st.Misses, st.Size, st.MaxSize)
	var inv cache.Invalidator = d.cache
	inv.Invalidate()
	return err
}

// Path returns the image path (empty for in-memory devices).
func (d *Device) Path() string { return d.path }

// BlockSize returns the configured block size in bytes.
func (d *Device) BlockSize() uint32 { return d.blockSize }

// BlockCount returns the configured number of blocks.
func (d *Device) BlockCount() uint32 { return d.blockCount }

// ImageSize returns the size of the backing image in bytes.
func (d *Device) ImageSize() int64 { return d.size }

// CacheStats exposes block cache counters for diagnostics.
func (d *Device) CacheStats() cache.BlockCacheStats { return d.cache.Stats() }

// ReadBlock returns the contents of block index.
// The returned slice is shared with the cache and must not be modified.
func (d *Device) ReadBlock(index int) ([]byte, error) {
	if index < 0 || index >= int(d.blockCount) {
		return nil, fmt.Errorf("block %d (block count %d): %w", index, d.blockCount, common.ErrOutOfRange)
	}
	if data := d.cache.Get(uint32(index)); data != nil {
		return data, nil
	}

	off := int64(index) * int64(d.blockSize)
	if off+int64(d.blockSize) > d.size {
		return nil, fmt.Errorf("block %d needs bytes [%d, %d) but image has %d: %w",
			index, off, off+int64(d.blockSize), d.size, common.ErrTruncatedImage)
	}

	buf := make([]byte, d.blockSize)
	n, err := d.r.ReadAt(buf, off)
	if n < len(buf) {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("block %d: short read of %d bytes: %w", index, n, common.ErrTruncatedImage)
		}
		return nil, fmt.Errorf("block %d: %w", index, err)
	}

	d.cache.Set(uint32(index), buf)
	return buf, nil
}

// IsErased reports whether every byte of data equals the erase value.
func IsErased(data []byte, erase byte) bool {
	for _, b := range data {
		if b != erase {
			return false
		}
	}
	return true
}

// TrimErased drops the trailing run of erase-value bytes.
func TrimErased(data []byte, erase byte) []byte {
	end := len(data)
	for end > 0 && data[end-1] == erase {
		end--
	}
	return data[:end]
}
