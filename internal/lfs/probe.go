package lfs

import (
	"encoding/binary"
	"math/bits"

	"lfsforensics/internal/blockdev"
)

// DataBlockGuess is a block interpreted as a CTZ data block without knowing
// its position in any chain.
type DataBlockGuess struct {
	Pointers []uint32
	Payload  []byte
}

// ProbeDataBlock checks whether data plausibly is a CTZ data block.
//
// A chain block n > 0 starts with ctz(n)+1 pointers to earlier blocks. Without
// the owning file the count is unknown, so the leading words that are distinct,
// in-range block addresses other than self are taken as pointers, capped at the
// most a chain on this device can need. Block 0 of a chain has no pointers and
// cannot be told apart from raw data.
func ProbeDataBlock(self uint32, data []byte, blockCount uint32) (*DataBlockGuess, bool) {
	maxPointers := bits.Len32(blockCount)
	var ptrs []uint32
	seen := map[uint32]bool{}
	for k := 0; k < maxPointers && 4*(k+1) <= len(data); k++ {
		p := binary.LittleEndian.Uint32(data[4*k:])
		if p >= blockCount || p == self || seen[p] {
			break
		}
		seen[p] = true
		ptrs = append(ptrs, p)
	}
	if len(ptrs) == 0 || 4*len(ptrs) >= len(data) {
		return nil, false
	}
	return &DataBlockGuess{Pointers: ptrs, Payload: data[4*len(ptrs):]}, true
}

// ConfirmDataBlock accepts a probed guess only when the chain it implies holds
// together on dev. Every pointer must name a readable, non-erased block that
// excluded (when set) does not reject, and pointer k must equal pointer k-1 of
// the block that pointer k-1 names. A lone pointer is confirmed through its
// target, which then has to carry at least two consistent pointers itself.
//
// When several leading word counts fit, the longest wins. Blocks that cannot
// be confirmed, including the second block of every chain, are rejected.
func ConfirmDataBlock(dev BlockReader, self uint32, data []byte, erase byte, excluded func(uint32) bool) (*DataBlockGuess, bool) {
	guess, ok := ProbeDataBlock(self, data, dev.BlockCount())
	if !ok {
		return nil, false
	}
	c := chainCheck{dev: dev, erase: erase, excluded: excluded}
	for n := len(guess.Pointers); n > 0; n-- {
		if c.consistent(guess.Pointers[:n], 1) {
			return &DataBlockGuess{Pointers: guess.Pointers[:n], Payload: data[4*n:]}, true
		}
	}
	return nil, false
}

type chainCheck struct {
	dev      BlockReader
	erase    byte
	excluded func(uint32) bool
}

func (c *chainCheck) read(b uint32) ([]byte, bool) {
	if c.excluded != nil && c.excluded(b) {
		return nil, false
	}
	data, err := c.dev.ReadBlock(int(b))
	if err != nil || blockdev.IsErased(data, c.erase) {
		return nil, false
	}
	return data, true
}

func (c *chainCheck) consistent(ptrs []uint32, depth int) bool {
	blocks := make([][]byte, len(ptrs))
	for k, p := range ptrs {
		data, ok := c.read(p)
		if !ok {
			return false
		}
		blocks[k] = data
	}
	for k := 1; k < len(ptrs); k++ {
		prev := blocks[k-1]
		if len(prev) < 4*k || binary.LittleEndian.Uint32(prev[4*(k-1):]) != ptrs[k] {
			return false
		}
	}
	if len(ptrs) > 1 {
		return true
	}
	if depth == 0 {
		return false
	}
	// Block n-1 of an odd n is even: it has two or more pointers unless it
	// starts the chain, in which case nothing can be checked.
	prev, ok := ProbeDataBlock(ptrs[0], blocks[0], c.dev.BlockCount())
	if !ok || len(prev.Pointers) < 2 {
		return false
	}
	return c.consistent(prev.Pointers[:2], depth-1)
}
