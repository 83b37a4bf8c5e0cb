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

package lfs

import (
	"encoding/binary"
	"fmt"

	"github.com/go-restruct/restruct"
	log "github.com/sirupsen/logrus"

	"lfsforensics/internal/common"
)

// NullBlock is the block address littlefs uses for "no block".
const NullBlock uint32 = 0xffffffff

// Pair is a metadata pair: two blocks mirroring one metadata log.
type Pair [2]uint32

// RootPair is where the superblock and root directory live.
var RootPair = Pair{0, 1}

// IsNull reports whether either half is the null block.
func (p Pair) IsNull() bool {
	return p[0] == NullBlock || p[1] == NullBlock
}

// Key identifies the pair regardless of which half is listed first.
func (p Pair) Key() Pair {
	if p[1] < p[0] {
		return Pair{p[1], p[0]}
	}
	return p
}

func (p Pair) String() string {
	return fmt.Sprintf("{%d,%d}", p[0], p[1])
}

// dirStruct is the DIRSTRUCT payload, also used for tails.
type dirStruct struct {
	Blocks Pair
}

// ParsePair decodes a pair stored as two little-endian words.
func ParsePair(b []byte) (Pair, error) {
	if len(b) < 8 {
		return Pair{}, fmt.Errorf("pair needs 8 bytes, got %d: %w", len(b), common.ErrMalformedEntry)
	}
	var ds dirStruct
	if err := restruct.Unpack(b[:8], binary.LittleEndian, &ds); err != nil {
		return Pair{}, fmt.Errorf("pair: %w: %v", common.ErrMalformedEntry, err)
	}
	return ds.Blocks, nil
}

// Record is one logical entry (file, directory, superblock) of a region,
// assembled from all the tags that share its id.
type Record struct {
	Seq        int // order in which the record first appeared
	ID         uint16
	NameType   uint16
	Name       []byte
	HasName    bool
	StructType uint16
	Struct     []byte
	HasStruct  bool
	Attrs      map[uint8][]byte
	Removed    bool
	RemovedIn  int // index of the commit holding the tombstone
}

// FileName returns the entry name as a string.
func (r *Record) FileName() string { return string(r.Name) }

// IsDir reports whether the record names a directory.
func (r *Record) IsDir() bool { return r.HasName && r.NameType == TypeDir }

// IsFile reports whether the record names a regular file.
func (r *Record) IsFile() bool { return r.HasName && r.NameType == TypeReg }

// IsSuperblock reports whether the record is the superblock entry.
func (r *Record) IsSuperblock() bool { return r.HasName && r.NameType == TypeSuperblock }

// Region is a metadata pair resolved to its authoritative log.
type Region struct {
	Pair     Pair
	Block    uint32 // authoritative half
	Revision uint32
	Log      *BlockLog
	Mirror   *BlockLog // the other half, nil if it could not be read

	// Entries are the live records in id order.
	Entries []*Record
	// Removed are records that a tombstone deleted, in tombstone order.
	Removed []*Record

	Tail     Pair
	HasTail  bool
	HardTail bool // tail continues this directory rather than threading the next one

	Warnings []error
}

// Replay applies the commits of a block log in order and derives the final
// live/removed state of every record. Records are only ever appended; a
// tombstone flags its record and drops it from the positional id list.
func Replay(l *BlockLog) *Region {
	r := &Region{
		Block:    l.Block,
		Revision: l.Revision,
		Log:      l,
	}
	if l.Err != nil && l.Valid() {
		r.Warnings = append(r.Warnings, l.Err)
	}

	var order []*Record
	seq := 0
	newRecord := func() *Record {
		rec := &Record{Seq: seq, Attrs: map[uint8][]byte{}}
		seq++
		return rec
	}
	slot := func(id uint16) *Record {
		for len(order) <= int(id) {
			order = append(order, newRecord())
		}
		return order[id]
	}

	for ci, c := range l.Commits {
		for _, e := range c.Entries {
			t := e.Tag
			id := t.ID()
			switch t.Type1() {
			case TypeSplice:
				if id == NoID {
					continue
				}
				switch t.Type3() {
				case TypeCreate:
					rec := newRecord()
					pos := min(int(id), len(order))
					order = append(order, nil)
					copy(order[pos+1:], order[pos:])
					order[pos] = rec
				case TypeDelete:
					if int(id) >= len(order) {
						r.Warnings = append(r.Warnings, fmt.Errorf("block %d offset %d: delete of unknown id %d: %w",
							l.Block, e.Offset, id, common.ErrMalformedEntry))
						continue
					}
					rec := order[id]
					rec.ID = id
					rec.Removed = true
					rec.RemovedIn = ci
					r.Removed = append(r.Removed, rec)
					order = append(order[:id], order[id+1:]...)
				}
			case TypeName:
				if id == NoID {
					continue
				}
				rec := slot(id)
				if t.IsDelete() {
					rec.HasName, rec.NameType, rec.Name = false, 0, nil
					continue
				}
				rec.HasName, rec.NameType, rec.Name = true, t.Type3(), e.Data
			case TypeStruct:
				if id == NoID {
					continue
				}
				rec := slot(id)
				if t.IsDelete() {
					rec.HasStruct, rec.StructType, rec.Struct = false, 0, nil
					continue
				}
				rec.HasStruct, rec.StructType, rec.Struct = true, t.Type3(), e.Data
			case TypeUserAttr:
				if id == NoID {
					continue
				}
				rec := slot(id)
				if t.IsDelete() {
					delete(rec.Attrs, t.Chunk())
					continue
				}
				rec.Attrs[t.Chunk()] = e.Data
			case TypeTail:
				pair, err := ParsePair(e.Data)
				if err != nil {
					r.Warnings = append(r.Warnings, fmt.Errorf("block %d offset %d: %w", l.Block, e.Offset, err))
					continue
				}
				r.Tail, r.HasTail, r.HardTail = pair, true, t.Type3() == TypeHardTail
			}
		}
	}

	for i, rec := range order {
		rec.ID = uint16(i)
	}
	r.Entries = order
	return r
}

// BlockReader is the read side of a block device.
type BlockReader interface {
	ReadBlock(index int) ([]byte, error)
	BlockSize() uint32
	BlockCount() uint32
}

// Decoder resolves metadata pairs on a device. It holds no mutable state and
// is safe for concurrent use if the device is.
type Decoder struct {
	dev BlockReader
}

// NewDecoder creates a decoder over dev.
func NewDecoder(dev BlockReader) *Decoder {
	return &Decoder{dev: dev}
}

// Device returns the underlying device.
func (d *Decoder) Device() BlockReader { return d.dev }

// DecodeBlock reads and scans a single metadata block.
func (d *Decoder) DecodeBlock(block uint32) (*BlockLog, error) {
	data, err := d.dev.ReadBlock(int(block))
	if err != nil {
		return nil, err
	}
	return DecodeBlock(block, data), nil
}

// Resolve picks the authoritative half of a metadata pair and replays it.
//
// The half with the newer revision wins among halves holding at least one
// valid commit; on equal revisions the first-listed half wins. If neither half
// has a valid commit the pair is corrupt.
func (d *Decoder) Resolve(pair Pair) (*Region, error) {
	var logs [2]*BlockLog
	var errs [2]error
	for i, b := range pair {
		l, err := d.DecodeBlock(b)
		if err != nil {
			errs[i] = err
			continue
		}
		logs[i] = l
		if !l.Valid() {
			errs[i] = l.Err
			if errs[i] == nil {
				errs[i] = fmt.Errorf("block %d: no valid commit (%s)", b, l.Stop)
			}
		}
	}

	pick := -1
	switch {
	case logs[0].Valid() && logs[1].Valid():
		pick = 0
		if RevisionAfter(logs[1].Revision, logs[0].Revision) {
			pick = 1
		}
	case logs[0].Valid():
		pick = 0
	case logs[1].Valid():
		pick = 1
	}
	if pick < 0 {
		return nil, fmt.Errorf("pair %s: %w (block %d: %v; block %d: %v)",
			pair, common.ErrCorruptMetadataPair, pair[0], errs[0], pair[1], errs[1])
	}

	r := Replay(logs[pick])
	r.Pair = pair
	r.Mirror = logs[1-pick]
	log.Debugf("[Decoder] pair %s resolved to block %d rev=%d commits=%d entries=%d removed=%d",
		pair, r.Block, r.Revision, len(r.Log.Commits), len(r.Entries), len(r.Removed))
	return r, nil
}

// RevisionAfter compares revision counters with sequence arithmetic so that
// wrap-around is handled the way the writer handles it.
func RevisionAfter(a, b uint32) bool {
	return int32(a-b) > 0
}
