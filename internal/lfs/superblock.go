package lfs

import (
	"encoding/binary"
	"fmt"

	"github.com/go-restruct/restruct"

	"lfsforensics/internal/common"
)

// Magic is the name stored in the superblock entry.
const Magic = "littlefs"

const superblockSize = 24

// Superblock is the INLINESTRUCT payload of the superblock entry.
type Superblock struct {
	Version    uint32
	BlockSize  uint32
	BlockCount uint32
	NameMax    uint32
	FileMax    uint32
	AttrMax    uint32
}

// ParseSuperblock decodes a superblock payload. Payloads shorter than the
// current layout are zero-extended; the first three fields are required.
func ParseSuperblock(payload []byte) (*Superblock, error) {
	if len(payload) < 12 {
		return nil, fmt.Errorf("superblock payload is %d bytes: %w", len(payload), common.ErrMalformedEntry)
	}
	buf := make([]byte, superblockSize)
	copy(buf, payload)

	var sb Superblock
	if err := restruct.Unpack(buf, binary.LittleEndian, &sb); err != nil {
		return nil, fmt.Errorf("superblock: %w", err)
	}
	return &sb, nil
}

// FindSuperblock locates and decodes the superblock entry of a region.
func FindSuperblock(r *Region) (*Superblock, *Record, error) {
	for _, rec := range r.Entries {
		if !rec.IsSuperblock() {
			continue
		}
		if rec.FileName() != Magic {
			return nil, rec, fmt.Errorf("superblock name %q: %w", rec.FileName(), common.ErrMalformedEntry)
		}
		if !rec.HasStruct || rec.StructType != TypeInlineStruct {
			return nil, rec, fmt.Errorf("superblock has no inline struct: %w", common.ErrMalformedEntry)
		}
		sb, err := ParseSuperblock(rec.Struct)
		return sb, rec, err
	}
	return nil, nil, fmt.Errorf("no superblock entry in pair %s: %w", r.Pair, common.ErrMalformedEntry)
}

// VersionString formats the on-disk version as major.minor.
func (s *Superblock) VersionString() string {
	return fmt.Sprintf("%d.%d", s.Version>>16, s.Version&0xffff)
}

// Mismatches compares the on-disk geometry with caller-supplied values.
// Caller values always win; differences are only reported.
func (s *Superblock) Mismatches(blockSize, blockCount uint32) []string {
	var out []string
	if s.BlockSize != blockSize {
		out = append(out, fmt.Sprintf("superblock block_size %d differs from configured %d", s.BlockSize, blockSize))
	}
	if s.BlockCount != blockCount {
		out = append(out, fmt.Sprintf("superblock block_count %d differs from configured %d", s.BlockCount, blockCount))
	}
	return out
}

// Pack encodes the superblock payload.
func (s *Superblock) Pack() ([]byte, error) {
	return restruct.Pack(binary.LittleEndian, s)
}
