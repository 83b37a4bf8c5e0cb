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

// Package report produces diagnostic dumps of the raw structures of an image:
// per-block metadata summaries, superblock information and block usage.
package report

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"lfsforensics/internal/blockdev"
	"lfsforensics/internal/lfs"
)

// DefaultDumpBlocks is how many blocks are dumped when the caller does not say.
const DefaultDumpBlocks = 8

// headBytes is how much of every block is shown raw.
const headBytes = 16

// Header types assigned to dumped blocks.
const (
	HeaderErased     = "erased"
	HeaderSuperblock = "superblock"
	HeaderMetadata   = "metadata"
	HeaderCTZData    = "ctz-data"
	HeaderUnknown    = "unknown"
	HeaderUnreadable = "unreadable"
)

// TagInfo describes one committed tag.
type TagInfo struct {
	Offset uint32
	Tag    lfs.Tag
}

func (t TagInfo) String() string {
	return fmt.Sprintf("@%d %s", t.Offset, t.Tag)
}

// BlockReport is the dump of a single block.
type BlockReport struct {
	Index       uint32
	Revision    uint32
	CommitCount int
	// CRCValid is set when the block holds at least one commit and no commit
	// failed its checksum.
	CRCValid   bool
	Tags       []TagInfo
	Head       string // first bytes as hex
	HeaderType string
	Stop       string
	Err        error
}

// TagSummary counts committed tags per type, in first-seen order.
func (b *BlockReport) TagSummary() string {
	if len(b.Tags) == 0 {
		return ""
	}
	counts := map[string]int{}
	var order []string
	for _, t := range b.Tags {
		name := t.Tag.TypeName()
		if counts[name] == 0 {
			order = append(order, name)
		}
		counts[name]++
	}
	parts := make([]string, 0, len(order))
	for _, name := range order {
		parts = append(parts, fmt.Sprintf("%s x%d", name, counts[name]))
	}
	return strings.Join(parts, ", ")
}

// Dump is the result of dumping a range of blocks.
type Dump struct {
	Requested int
	Clamped   bool
	Warnings  []string
	Blocks    []BlockReport
}

// Reporter dumps structures from a device. It only reads.
type Reporter struct {
	dev   lfs.BlockReader
	dec   *lfs.Decoder
	erase byte
}

// NewReporter creates a reporter. erase is the byte unprogrammed flash reads as.
func NewReporter(dev lfs.BlockReader, erase byte) *Reporter {
	return &Reporter{dev: dev, dec: lfs.NewDecoder(dev), erase: erase}
}

// Dump reports the first count blocks in index order. A count larger than the
// device is clamped and the clamping is returned as a warning. A count of zero
// or less selects DefaultDumpBlocks.
func (r *Reporter) Dump(ctx context.Context, count int) *Dump {
	if count <= 0 {
		count = DefaultDumpBlocks
	}
	d := &Dump{Requested: count}
	total := int(r.dev.BlockCount())
	if count > total {
		msg := fmt.Sprintf("the filesystem has only %d blocks, but %d were requested; dumping %d", total, count, total)
		log.Warnf("[Reporter] %s", msg)
		d.Warnings = append(d.Warnings, msg)
		d.Clamped = true
		count = total
	}

	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			d.Warnings = append(d.Warnings, fmt.Sprintf("dump stopped after %d blocks: %v", i, err))
			break
		}
		d.Blocks = append(d.Blocks, r.Block(uint32(i)))
	}
	return d
}

// Block reports a single block. Failures are recorded in the report.
func (r *Reporter) Block(index uint32) BlockReport {
	rep := BlockReport{Index: index}
	data, err := r.dev.ReadBlock(int(index))
	if err != nil {
		rep.Err = err
		rep.HeaderType = HeaderUnreadable
		return rep
	}
	rep.Head = hexHead(data)

	l := lfs.DecodeBlock(index, data)
	rep.Stop = l.Stop.String()
	if l.Valid() {
		rep.Revision = l.Revision
		rep.CommitCount = len(l.Commits)
		rep.CRCValid = l.Stop != lfs.StopChecksum
		rep.Err = l.Err
		rep.HeaderType = HeaderMetadata
		for _, c := range l.Commits {
			for _, e := range c.Entries {
				rep.Tags = append(rep.Tags, TagInfo{Offset: e.Offset, Tag: e.Tag})
				if e.Tag.Type3() == lfs.TypeSuperblock {
					rep.HeaderType = HeaderSuperblock
				}
			}
		}
		return rep
	}

	rep.HeaderType = r.guessHeader(index, data)
	log.Debugf("[Reporter] block %d does not decode as metadata (%s), looks like %s", index, l.Stop, rep.HeaderType)
	return rep
}

func (r *Reporter) guessHeader(index uint32, data []byte) string {
	if blockdev.IsErased(data[:min(headBytes, len(data))], r.erase) {
		return HeaderErased
	}
	if _, ok := lfs.ConfirmDataBlock(r.dev, index, data, r.erase, nil); ok {
		return HeaderCTZData
	}
	return HeaderUnknown
}

func hexHead(data []byte) string {
	return fmt.Sprintf("% X", data[:min(headBytes, len(data))])
}

// SuperblockInfo describes the superblock found in the root pair.
type SuperblockInfo struct {
	Found      bool
	Block      uint32 // half of the root pair holding the authoritative copy
	Revision   uint32
	RawTag     uint32 // the superblock name tag as stored on disk
	Tag        lfs.Tag
	Superblock *lfs.Superblock
	Mismatches []string
	Err        error
}

// Superblock inspects the root pair. The on-disk geometry is compared with
// the configured one; differences are reported, never applied.
func (r *Reporter) Superblock() *SuperblockInfo {
	info := &SuperblockInfo{}
	region, err := r.dec.Resolve(lfs.RootPair)
	if err != nil {
		info.Err = err
		return info
	}
	info.Block = region.Block
	info.Revision = region.Revision

	sb, _, err := lfs.FindSuperblock(region)
	if err != nil {
		info.Err = err
		return info
	}
	info.Found = true
	info.Superblock = sb

	data, err := r.dev.ReadBlock(int(region.Block))
	if err == nil {
	scan:
		for _, c := range region.Log.Commits {
			for _, e := range c.Entries {
				if e.Tag.Type3() == lfs.TypeSuperblock {
					info.Tag = e.Tag
					info.RawTag = binary.BigEndian.Uint32(data[e.Offset:])
					break scan
				}
			}
		}
	}

	info.Mismatches = sb.Mismatches(r.dev.BlockSize(), r.dev.BlockCount())
	for _, m := range info.Mismatches {
		log.Warnf("[Reporter] %s", m)
	}
	return info
}

// Usage splits blocks into used and free by looking at their first bytes,
// the quick check used before any structure is decoded.
type Usage struct {
	Used       []uint32
	Free       []uint32
	Unreadable []uint32
}

// Usage scans every block of the device.
func (r *Reporter) Usage(ctx context.Context) (*Usage, error) {
	u := &Usage{}
	for i := uint32(0); i < r.dev.BlockCount(); i++ {
		if err := ctx.Err(); err != nil {
			return u, err
		}
		data, err := r.dev.ReadBlock(int(i))
		if err != nil {
			u.Unreadable = append(u.Unreadable, i)
			continue
		}
		if blockdev.IsErased(data[:min(headBytes, len(data))], r.erase) {
			u.Free = append(u.Free, i)
		} else {
			u.Used = append(u.Used, i)
		}
	}
	return u, nil
}
