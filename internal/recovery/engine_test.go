package recovery

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lfsforensics/internal/blockdev"
	"lfsforensics/internal/common"
	"lfsforensics/internal/lfs"
	"lfsforensics/internal/lfs/lfstest"
)

var (
	bigContent = bytes.Repeat([]byte("0123456789abcdef"), 75) // 1200 bytes
	oldContent = bytes.Repeat([]byte("old!"), 175)             // 700 bytes

	lostContent = bytes.Repeat([]byte("abcdefghijklmnopqrstuvwxyz"), 40) // 1040 bytes
)

// forensicImage lays out 16 blocks of 512 bytes:
//
//	0,1   root pair       2,3  /docs          6,7,8  /big.bin
//	5     overwritten     10,11 deleted /old.bin
//	12    stray metadata  13,14,15 unreferenced chain
//	4,9   erased
func forensicImage() *lfstest.Image {
	im := lfstest.Format(512, 16)
	bigHead := im.WriteChain([]uint32{6, 7, 8}, bigContent)
	oldHead := im.WriteChain([]uint32{10, 11}, oldContent)

	im.Meta(0, 1).
		CommitAll(lfstest.SuperblockAttrs(512, 16)).
		CommitAll(
			lfstest.DirAttrs(1, "docs", lfs.Pair{2, 3}),
			lfstest.ChainFileAttrs(2, "big.bin", bigHead, uint32(len(bigContent))),
			lfstest.FileAttrs(3, "gone.txt", []byte("secret")),
			lfstest.ChainFileAttrs(4, "old.bin", oldHead, uint32(len(oldContent))),
		).
		Commit(lfstest.Delete(4), lfstest.Delete(3))
	im.Meta(2, 1).CommitAll(lfstest.FileAttrs(0, "note.txt", []byte("n")))

	im.Fill(5, []byte("This block was overwritten by hand"))
	im.Meta(12, 9).CommitAll(lfstest.FileAttrs(0, "lost.txt", []byte("found me")))
	im.WriteChain([]uint32{13, 14, 15}, lostContent)
	return im
}

func run(t *testing.T, dev lfs.BlockReader, opts ...Option) *Report {
	t.Helper()
	rep, err := NewEngine(dev, opts...).Run(context.Background())
	require.NoError(t, err)
	return rep
}

func devFor(im *lfstest.Image) *blockdev.Device {
	return blockdev.FromBytes(im.Data, im.BlockSize, im.BlockCount)
}

func TestRunClassifiesEveryBlock(t *testing.T) {
	rep := run(t, devFor(forensicImage()))
	require.Len(t, rep.Results, 16)

	want := map[Classification][]uint32{
		Live:     {0, 1, 2, 3, 6, 7, 8},
		Free:     {4, 9},
		Orphaned: {5, 10, 11, 12, 13, 14, 15},
	}
	seen := map[uint32]int{}
	for c, blocks := range want {
		assert.Equal(t, blocks, rep.Blocks(c), c.String())
		for _, b := range blocks {
			seen[b]++
		}
	}
	assert.Len(t, seen, 16)
	for i, res := range rep.Results {
		assert.Equal(t, uint32(i), res.Block)
		assert.NotEqual(t, Unvisited, res.Class)
		assert.Equal(t, 1, seen[res.Block])
	}
	assert.Empty(t, rep.Blocks(Unvisited))
	assert.Empty(t, rep.Warnings)
	assert.Contains(t, rep.String(), "7 live, 2 free, 7 orphaned")
}

func TestLiveMatchesWalkAndRead(t *testing.T) {
	dev := devFor(forensicImage())

	set := lfs.NewBlockSet()
	walker := lfs.NewWalker(lfs.NewDecoder(dev), lfs.WithTracker(set))
	reader := lfs.NewFileReader(dev, set)
	for v, err := range walker.Walk(context.Background(), lfs.RootPair) {
		require.NoError(t, err)
		if v.Kind == lfs.KindFile {
			_, err := reader.Read(*v.File)
			require.NoError(t, err)
		}
	}

	rep := run(t, dev)
	assert.Equal(t, set.Sorted(), rep.Live)
	assert.Equal(t, rep.Live, rep.Blocks(Live))
}

func TestRunRecoversOrphans(t *testing.T) {
	rep := run(t, devFor(forensicImage()))
	byBlock := map[uint32]BlockResult{}
	for _, res := range rep.Orphans() {
		byBlock[res.Block] = res
	}

	carved := byBlock[5]
	assert.Equal(t, Low, carved.Confidence)
	assert.Equal(t, MethodCarved, carved.Method)
	assert.Equal(t, UnknownName, carved.Name)
	assert.Equal(t, []byte("This block was overwritten by hand"), carved.Data)

	for _, b := range []uint32{10, 11} {
		res := byBlock[b]
		assert.Equal(t, High, res.Confidence, "block %d", b)
		assert.Equal(t, MethodDeletedFile, res.Method)
		assert.Equal(t, "/old.bin", res.Name)
	}
	assert.Equal(t, oldContent[:512], byBlock[10].Data)
	assert.Equal(t, oldContent[512:], byBlock[11].Data)

	meta := byBlock[12]
	assert.Equal(t, Medium, meta.Confidence)
	assert.Equal(t, MethodMetadata, meta.Method)
	require.Len(t, meta.Entries, 1)
	assert.Equal(t, "lost.txt", meta.Entries[0].Name)
	assert.Equal(t, "file", meta.Entries[0].Kind)
	assert.Equal(t, []byte("found me"), meta.Entries[0].Data)
	assert.NoError(t, meta.Entries[0].Err)

	// the tail's two pointers agree with block 14, so its pointers are dropped
	chain := byBlock[15]
	assert.Equal(t, Medium, chain.Confidence)
	assert.Equal(t, MethodChainData, chain.Method)
	assert.Equal(t, lostContent[1020:], chain.Data)

	// the first two blocks of a chain cannot be confirmed and stay verbatim
	assert.Equal(t, MethodCarved, byBlock[13].Method)
	assert.Equal(t, lostContent[:512], byBlock[13].Data)
	assert.Equal(t, MethodCarved, byBlock[14].Method)
	assert.Equal(t, Low, byBlock[14].Confidence)
	assert.Len(t, byBlock[14].Data, 512)
}

func TestRunKeepsSmallLeadingWordsVerbatim(t *testing.T) {
	im := lfstest.Format(4096, 16, lfstest.FileAttrs(1, "a.txt", []byte("hi")))
	tests := []struct {
		block   uint32
		content []byte
	}{
		{5, []byte("\x03\x00\x00\x00PK\a\bdata")},
		{6, []byte("\x00\x00\x00\x00\x00\x00\x00\x00zeros first")},
		{7, []byte("\x03\x00\x00\x00\x05\x00\x00\x00two small words")},
		{3, []byte("plain text the others point at")},
	}
	for _, tt := range tests {
		im.Fill(tt.block, tt.content)
	}

	rep := run(t, devFor(im))
	for _, tt := range tests {
		res := rep.Results[tt.block]
		assert.Equal(t, Orphaned, res.Class, "block %d", tt.block)
		assert.Equal(t, Low, res.Confidence, "block %d", tt.block)
		assert.Equal(t, MethodCarved, res.Method, "block %d", tt.block)
		assert.Equal(t, tt.content, res.Data, "block %d", tt.block)
	}
}

func TestRunListsSharedDeletedEntryOnce(t *testing.T) {
	im := lfstest.Format(512, 16,
		lfstest.DirAttrs(1, "a", lfs.Pair{2, 3}),
		lfstest.DirAttrs(2, "b", lfs.Pair{4, 5}),
	)
	im.Meta(2, 1).CommitAll([]lfstest.Attr{lfstest.HardTail(lfs.Pair{6, 7})})
	im.Meta(4, 1).CommitAll([]lfstest.Attr{lfstest.HardTail(lfs.Pair{6, 7})})
	im.Meta(6, 1).
		CommitAll(lfstest.FileAttrs(0, "x", []byte("erased once"))).
		Commit(lfstest.Delete(0))

	rep := run(t, devFor(im))
	require.Len(t, rep.Deleted, 1)
	assert.Equal(t, "/a/x", rep.Deleted[0].Path)
	assert.Equal(t, []byte("erased once"), rep.Deleted[0].Data)
}

func TestRunReconstructsDeletedEntries(t *testing.T) {
	rep := run(t, devFor(forensicImage()))
	require.Len(t, rep.Deleted, 2)

	old := rep.Deleted[0]
	assert.Equal(t, "/old.bin", old.Path)
	assert.Equal(t, lfs.HandleChain, old.Handle.Kind)
	assert.Equal(t, oldContent, old.Data)
	assert.False(t, old.Truncated)
	assert.Equal(t, []uint32{10, 11}, old.Blocks)
	assert.Equal(t, lfs.RootPair, old.Pair)

	gone := rep.Deleted[1]
	assert.Equal(t, "/gone.txt", gone.Path)
	assert.Equal(t, []byte("secret"), gone.Data)
	assert.NoError(t, gone.Err)
}

func TestRunOverwrittenBlockScenario(t *testing.T) {
	content := []byte("Overwritten block 5: arbitrary bytes \x01\x02\x03 end")
	im := lfstest.Format(4096, 16, lfstest.FileAttrs(1, "a.txt", []byte("hi")))
	im.Fill(5, content)

	rep := run(t, devFor(im))
	res := rep.Results[5]
	assert.Equal(t, Orphaned, res.Class)
	assert.Equal(t, Low, res.Confidence)
	assert.Equal(t, UnknownName, res.Name)
	assert.Equal(t, content, res.Data)
	assert.Equal(t, []uint32{5}, rep.Blocks(Orphaned))
	assert.Equal(t, []uint32{0, 1}, rep.Live)
}

func TestRunWithoutTrimKeepsPadding(t *testing.T) {
	im := lfstest.Format(512, 8)
	im.Fill(5, []byte("text"))

	rep := run(t, devFor(im), WithTrimErased(false))
	assert.Len(t, rep.Results[5].Data, 512)
	assert.Equal(t, []byte("text"), rep.Results[5].Data[:4])
}

func TestRunParallelMatchesSequential(t *testing.T) {
	im := forensicImage()
	seq := run(t, devFor(im))
	par := run(t, devFor(im), WithWorkers(8))

	assert.NotEqual(t, seq.RunID, par.RunID)
	assert.Equal(t, seq.Results, par.Results)
	assert.Equal(t, seq.Live, par.Live)
}

func TestRunDegradesOnDamage(t *testing.T) {
	im := forensicImage()
	// /docs loses both halves
	im.Erase(2)
	im.Fill(3, []byte("junk"))
	dev := blockdev.FromBytes(im.Data[:15*512], 512, 16)

	rep := run(t, dev)
	require.NotEmpty(t, rep.Warnings)
	assert.ErrorIs(t, rep.Warnings[0], common.ErrBrokenSubdirectory)

	// referenced pair members stay live even when they fail to resolve
	assert.Equal(t, Live, rep.Results[2].Class)
	assert.Equal(t, Live, rep.Results[3].Class)

	last := rep.Results[15]
	assert.Equal(t, Orphaned, last.Class)
	assert.Equal(t, Low, last.Confidence)
	assert.Equal(t, MethodUnreadable, last.Method)
	assert.ErrorIs(t, last.Err, common.ErrTruncatedImage)
}

func TestRunCorruptRoot(t *testing.T) {
	im := lfstest.NewImage(512, 4)
	im.Fill(2, []byte("leftover"))

	rep := run(t, devFor(im))
	require.Len(t, rep.Warnings, 1)
	assert.ErrorIs(t, rep.Warnings[0], common.ErrCorruptMetadataPair)
	assert.Equal(t, []uint32{0, 1}, rep.Live)
	assert.Equal(t, []uint32{2}, rep.Blocks(Orphaned))
	assert.Equal(t, []uint32{3}, rep.Blocks(Free))
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(devFor(forensicImage())).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
