package lfs

import (
	"encoding/binary"
	"errors"
	"fmt"

	"lfsforensics/internal/common"
)

// ErrChecksumMismatch is recorded when a commit's CRC does not match. It only
// ends the scan of that block; earlier commits stay valid.
var ErrChecksumMismatch = errors.New("commit checksum mismatch")

// StopReason tells why scanning a metadata block ended.
type StopReason int

const (
	// StopErased means the scan reached unprogrammed space.
	StopErased StopReason = iota
	// StopEndOfBlock means the scan ran into the end of the block.
	StopEndOfBlock
	// StopChecksum means a commit failed its CRC.
	StopChecksum
	// StopMalformed means an entry's size ran past the block.
	StopMalformed
)

func (s StopReason) String() string {
	switch s {
	case StopErased:
		return "erased"
	case StopEndOfBlock:
		return "end-of-block"
	case StopChecksum:
		return "crc-mismatch"
	case StopMalformed:
		return "malformed"
	}
	return "unknown"
}

// Entry is a tagged entry as found in a metadata block.
type Entry struct {
	Tag    Tag
	Offset uint32 // offset of the tag word within the block
	Data   []byte // payload, shares memory with the block
}

// Commit is one CRC-confirmed batch of entries.
type Commit struct {
	Offset  uint32 // offset of the first tag
	End     uint32 // offset just past the CRC entry and its padding
	CRC     uint32
	Entries []Entry
}

// BlockLog is the result of scanning a single metadata block.
type BlockLog struct {
	Block    uint32
	Revision uint32
	Commits  []Commit

	// Uncommitted holds entries scanned after the last valid commit. They are
	// never applied but are useful when inspecting torn writes.
	Uncommitted []Entry

	Stop       StopReason
	StopOffset uint32
	Err        error
}

// Valid reports whether the block holds at least one valid commit.
func (l *BlockLog) Valid() bool {
	return l != nil && len(l.Commits) > 0
}

// EntryCount returns the number of committed entries.
func (l *BlockLog) EntryCount() int {
	n := 0
	for _, c := range l.Commits {
		n += len(c.Entries)
	}
	return n
}

// DecodeBlock scans a metadata block from offset 0.
//
// Tags are stored big-endian and XORed with the previous tag. Each commit ends
// with a CRC entry covering everything since the previous commit (the revision
// count for the first one). Scanning stops at erased space, at a CRC mismatch
// or at an entry whose size would run past the block; commits confirmed before
// that point are kept.
func DecodeBlock(block uint32, data []byte) *BlockLog {
	l := &BlockLog{Block: block}
	if len(data) < 2*tagSize {
		l.Stop = StopMalformed
		l.Err = fmt.Errorf("block %d: %d bytes is too small for a metadata block: %w",
			block, len(data), common.ErrMalformedEntry)
		return l
	}

	l.Revision = binary.LittleEndian.Uint32(data[0:4])
	crc := Checksum(data[0:4])
	ptag := Tag(0xffffffff)
	off := uint32(tagSize)
	size := uint32(len(data))
	commitStart := off
	var pending []Entry

	for {
		if off+tagSize > size {
			l.Stop = StopEndOfBlock
			break
		}
		raw := data[off : off+tagSize]
		tag := Tag(binary.BigEndian.Uint32(raw)) ^ ptag
		if !tag.IsValid() {
			l.Stop = StopErased
			break
		}
		dsize := tag.DSize()
		if uint64(off)+uint64(dsize) > uint64(size) {
			l.Stop = StopMalformed
			l.Err = fmt.Errorf("block %d offset %d: %s needs %d bytes, %d left: %w",
				block, off, tag, dsize, size-off, common.ErrMalformedEntry)
			break
		}
		crc = UpdateChecksum(crc, raw)

		if tag.IsCommitCRC() {
			if tag.IsDelete() || tag.Size() < 4 {
				l.Stop = StopMalformed
				l.Err = fmt.Errorf("block %d offset %d: crc entry too small: %w",
					block, off, common.ErrMalformedEntry)
				break
			}
			want := binary.LittleEndian.Uint32(data[off+tagSize:])
			if crc != want {
				l.Stop = StopChecksum
				l.Err = fmt.Errorf("block %d offset %d: computed 0x%08x, stored 0x%08x: %w",
					block, off, crc, want, ErrChecksumMismatch)
				break
			}
			l.Commits = append(l.Commits, Commit{
				Offset:  commitStart,
				End:     off + dsize,
				CRC:     crc,
				Entries: pending,
			})
			pending = nil
			// The phase bit tells us how erased space will look after this commit.
			ptag = tag ^ Tag(uint32(tag.Chunk()&1)<<31)
			crc = CRCSeed
			off += dsize
			commitStart = off
			continue
		}

		payload := data[off+tagSize : off+dsize]
		crc = UpdateChecksum(crc, payload)
		pending = append(pending, Entry{Tag: tag, Offset: off, Data: payload})
		ptag = tag
		off += dsize
	}

	l.StopOffset = off
	l.Uncommitted = pending
	return l
}
