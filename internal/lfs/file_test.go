package lfs_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lfsforensics/internal/blockdev"
	"lfsforensics/internal/common"
	"lfsforensics/internal/lfs"
	"lfsforensics/internal/lfs/lfstest"
)

func pattern(n int) []byte {
	var buf bytes.Buffer
	for i := 0; buf.Len() < n; i++ {
		buf.WriteByte(byte('a' + i%26))
	}
	return buf.Bytes()[:n]
}

func chainImage(t *testing.T, blocks []uint32, content []byte) (*lfstest.Image, uint32) {
	t.Helper()
	im := lfstest.Format(512, 16)
	require.Equal(t, len(blocks), lfstest.ChainBlocks(512, uint32(len(content))))
	return im, im.WriteChain(blocks, content)
}

func TestReadInline(t *testing.T) {
	r := lfs.NewFileReader(blockdev.FromBytes(make([]byte, 1024), 512, 2), nil)
	res, err := r.Read(lfs.InlineHandle([]byte("hi")))
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), res.Data)
	assert.False(t, res.Truncated)
	assert.Empty(t, res.Blocks)
}

func TestReadChain(t *testing.T) {
	tests := []struct {
		name   string
		blocks []uint32
		size   int
	}{
		{"single block", []uint32{7}, 100},
		{"exactly one block", []uint32{7}, 512},
		{"two blocks", []uint32{7, 3}, 513},
		{"three blocks", []uint32{6, 9, 4}, 1500},
		{"six blocks", []uint32{3, 4, 5, 6, 7, 8}, 3000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := pattern(tt.size)
			im, head := chainImage(t, tt.blocks, content)
			assert.Equal(t, tt.blocks[len(tt.blocks)-1], head)

			touched := lfs.NewBlockSet()
			r := lfs.NewFileReader(blockdev.FromBytes(im.Data, 512, 16), touched)
			res, err := r.Read(lfs.ChainHandle(head, uint32(tt.size)))
			require.NoError(t, err)
			assert.Equal(t, content, res.Data)
			assert.Zero(t, res.Offset)
			assert.False(t, res.Truncated)
			assert.Equal(t, tt.blocks, res.Blocks)
			require.Len(t, res.Spans, len(tt.blocks))
			var joined []byte
			for i, sp := range res.Spans {
				assert.Equal(t, tt.blocks[i], sp.Block)
				assert.Equal(t, uint32(i), sp.Index)
				assert.Equal(t, uint32(len(joined)), sp.Offset)
				joined = append(joined, sp.Data...)
			}
			assert.Equal(t, content, joined)
			for _, b := range tt.blocks {
				assert.True(t, touched.Has(b))
			}
		})
	}
}

func TestReadBrokenChainKeepsSuffix(t *testing.T) {
	blocks := []uint32{3, 4, 5, 6, 7, 8}
	content := pattern(3000)

	tests := []struct {
		name    string
		pointer uint32
		outOf   bool
	}{
		{"out of range", 99, true},
		{"self loop", 8, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im, head := chainImage(t, blocks, content)
			binary.LittleEndian.PutUint32(im.Block(head)[0:4], tt.pointer)

			r := lfs.NewFileReader(blockdev.FromBytes(im.Data, 512, 16), nil)
			res, err := r.Read(lfs.ChainHandle(head, 3000))
			require.ErrorIs(t, err, common.ErrBrokenFileChain)
			assert.Equal(t, tt.outOf, errors.Is(err, common.ErrOutOfRange))
			assert.True(t, res.Truncated)
			assert.Equal(t, uint32(2532), res.Offset)
			assert.Equal(t, content[2532:], res.Data)
			assert.Equal(t, []uint32{8}, res.Blocks)
		})
	}
}

func TestReadChainFailures(t *testing.T) {
	im := lfstest.Format(512, 16)
	r := lfs.NewFileReader(blockdev.FromBytes(im.Data, 512, 16), nil)

	res, err := r.Read(lfs.ChainHandle(99, 100))
	assert.ErrorIs(t, err, common.ErrBrokenFileChain)
	assert.True(t, res.Truncated)
	assert.Empty(t, res.Data)

	res, err = r.Read(lfs.ChainHandle(3, 1<<20))
	assert.ErrorIs(t, err, common.ErrBrokenFileChain)
	assert.True(t, res.Truncated)

	res, err = r.Read(lfs.ChainHandle(3, 0))
	require.NoError(t, err)
	assert.Empty(t, res.Data)
}

func TestReadChainTruncatedImage(t *testing.T) {
	content := pattern(1500)
	im, head := chainImage(t, []uint32{6, 9, 4}, content)

	// the image ends inside block 9
	dev := blockdev.FromBytes(im.Data[:9*512+100], 512, 16)
	res, err := lfs.NewFileReader(dev, nil).Read(lfs.ChainHandle(head, 1500))
	require.ErrorIs(t, err, common.ErrBrokenFileChain)
	assert.ErrorIs(t, err, common.ErrTruncatedImage)
	assert.Equal(t, []uint32{4}, res.Blocks)
	assert.Equal(t, content[1020:], res.Data)
}

func TestHandleFromRecord(t *testing.T) {
	im := lfstest.Format(512, 16,
		lfstest.FileAttrs(1, "inline", []byte("data")),
		lfstest.ChainFileAttrs(2, "chain", 9, 1500),
		[]lfstest.Attr{lfstest.Create(3), lfstest.Name(lfs.TypeReg, 3, "empty")},
		lfstest.DirAttrs(4, "dir", lfs.Pair{5, 6}),
	)
	r, err := decoderFor(im).Resolve(lfs.RootPair)
	require.NoError(t, err)
	require.Len(t, r.Entries, 5)

	h, err := lfs.HandleFromRecord(r.Entries[1])
	require.NoError(t, err)
	assert.Equal(t, lfs.InlineHandle([]byte("data")), h)

	h, err = lfs.HandleFromRecord(r.Entries[2])
	require.NoError(t, err)
	assert.Equal(t, lfs.ChainHandle(9, 1500), h)
	assert.Equal(t, "Chain(head=9, size=1500)", h.String())

	h, err = lfs.HandleFromRecord(r.Entries[3])
	require.NoError(t, err)
	assert.Equal(t, lfs.HandleInline, h.Kind)
	assert.Empty(t, h.Data)

	_, err = lfs.HandleFromRecord(r.Entries[4])
	assert.ErrorIs(t, err, common.ErrMalformedEntry)

	pair, err := lfs.DirPairFromRecord(r.Entries[4])
	require.NoError(t, err)
	assert.Equal(t, lfs.Pair{5, 6}, pair)

	_, err = lfs.DirPairFromRecord(r.Entries[1])
	assert.ErrorIs(t, err, common.ErrMalformedEntry)
}
