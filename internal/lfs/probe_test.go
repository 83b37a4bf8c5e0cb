package lfs_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lfsforensics/internal/blockdev"
	"lfsforensics/internal/lfs"
	"lfsforensics/internal/lfs/lfstest"
)

func TestProbeDataBlock(t *testing.T) {
	im := lfstest.NewImage(512, 16)
	head := im.WriteChain([]uint32{3, 4, 5, 6, 7}, pattern(2400))
	require.Equal(t, uint32(7), head)

	guess, ok := lfs.ProbeDataBlock(7, im.Block(7), 16)
	require.True(t, ok)
	assert.Equal(t, []uint32{6, 5, 3}, guess.Pointers)
	assert.Len(t, guess.Payload, 512-12)

	guess, ok = lfs.ProbeDataBlock(4, im.Block(4), 16)
	require.True(t, ok)
	assert.Equal(t, []uint32{3}, guess.Pointers)
}

func TestProbeDataBlockRejects(t *testing.T) {
	text := make([]byte, 512)
	copy(text, "This block holds plain text")

	selfRef := make([]byte, 512)
	binary.LittleEndian.PutUint32(selfRef, 9)

	allPointers := make([]byte, 8)
	binary.LittleEndian.PutUint32(allPointers[0:], 1)
	binary.LittleEndian.PutUint32(allPointers[4:], 2)

	tests := []struct {
		name string
		data []byte
	}{
		{"text", text},
		{"erased", lfstest.NewImage(512, 1).Block(0)},
		{"self pointer", selfRef},
		{"no payload", allPointers},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := lfs.ProbeDataBlock(9, tt.data, 16)
			assert.False(t, ok)
		})
	}
}

func TestConfirmDataBlock(t *testing.T) {
	im := lfstest.NewImage(512, 16)
	im.WriteChain([]uint32{3, 4, 5, 6, 7}, pattern(2400))
	im.Fill(9, []byte("\x03\x00\x00\x00PK\a\bdata"))
	binary.LittleEndian.PutUint32(im.Block(10), 12) // erased target
	dev := blockdev.FromBytes(im.Data, 512, 16)

	tests := []struct {
		name     string
		block    uint32
		excluded func(uint32) bool
		want     []uint32
	}{
		{"tail", 7, nil, []uint32{6, 5, 3}},
		{"two pointers", 5, nil, []uint32{4, 3}},
		{"lone pointer to a confirmed block", 6, nil, []uint32{5}},
		{"lone pointer to the chain start", 4, nil, nil},
		{"chain start", 3, nil, nil},
		{"arbitrary bytes", 9, nil, nil},
		{"erased target", 10, nil, nil},
		{"excluded target", 7, func(b uint32) bool { return b == 6 }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := im.Block(tt.block)
			guess, ok := lfs.ConfirmDataBlock(dev, tt.block, data, lfstest.EraseValue, tt.excluded)
			if tt.want == nil {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, guess.Pointers)
			assert.Equal(t, data[4*len(tt.want):], guess.Payload)
		})
	}
}
