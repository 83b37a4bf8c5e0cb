package lfs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"lfsforensics/internal/lfs"
)

func TestTagFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		tag    lfs.Tag
		type1  uint16
		type3  uint16
		id     uint16
		size   uint32
		dsize  uint32
		isCRC  bool
		delete bool
	}{
		{"reg name", lfs.MakeTag(lfs.TypeReg, 3, 5), lfs.TypeName, lfs.TypeReg, 3, 5, 9, false, false},
		{"superblock", lfs.MakeTag(lfs.TypeSuperblock, 0, 8), lfs.TypeName, lfs.TypeSuperblock, 0, 8, 12, false, false},
		{"inline struct", lfs.MakeTag(lfs.TypeInlineStruct, 1, 2), lfs.TypeStruct, lfs.TypeInlineStruct, 1, 2, 6, false, false},
		{"deleted attr", lfs.MakeTag(lfs.TypeInlineStruct, 1, lfs.DeletedSize), lfs.TypeStruct, lfs.TypeInlineStruct, 1, 0x3ff, 4, false, true},
		{"delete splice", lfs.MakeTag(lfs.TypeDelete, 2, 0), lfs.TypeSplice, lfs.TypeDelete, 2, 0, 4, false, false},
		{"ccrc", lfs.MakeTag(lfs.TypeCRC, lfs.NoID, 4), lfs.TypeCRC, lfs.TypeCRC, lfs.NoID, 4, 8, true, false},
		{"ccrc phase", lfs.MakeTag(lfs.TypeCRC+1, lfs.NoID, 12), lfs.TypeCRC, lfs.TypeCRC + 1, lfs.NoID, 12, 16, true, false},
		{"fcrc", lfs.MakeTag(lfs.TypeFCRC, lfs.NoID, 8), lfs.TypeCRC, lfs.TypeFCRC, lfs.NoID, 8, 12, false, false},
		{"hardtail", lfs.MakeTag(lfs.TypeHardTail, lfs.NoID, 8), lfs.TypeTail, lfs.TypeHardTail, lfs.NoID, 8, 12, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.True(t, tt.tag.IsValid())
			assert.Equal(t, tt.type1, tt.tag.Type1())
			assert.Equal(t, tt.type3, tt.tag.Type3())
			assert.Equal(t, tt.id, tt.tag.ID())
			assert.Equal(t, tt.size, tt.tag.Size())
			assert.Equal(t, tt.dsize, tt.tag.DSize())
			assert.Equal(t, tt.isCRC, tt.tag.IsCommitCRC())
			assert.Equal(t, tt.delete, tt.tag.IsDelete())
		})
	}
}

func TestTagSplice(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int8(1), lfs.MakeTag(lfs.TypeCreate, 0, 0).Splice())
	assert.Equal(t, int8(-1), lfs.MakeTag(lfs.TypeDelete, 0, 0).Splice())
}

func TestTagValidity(t *testing.T) {
	t.Parallel()

	assert.False(t, lfs.Tag(0xffffffff).IsValid())
	assert.True(t, lfs.Tag(0).IsValid())
}

func TestTagString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "reg id=1 size=5", lfs.MakeTag(lfs.TypeReg, 1, 5).String())
	assert.Equal(t, "ccrc id=- size=4", lfs.MakeTag(lfs.TypeCRC, lfs.NoID, 4).String())
	assert.Equal(t, "inlinestruct id=2 size=deleted", lfs.MakeTag(lfs.TypeInlineStruct, 2, lfs.DeletedSize).String())
	assert.Equal(t, "userattr(0x74)", lfs.TypeString(lfs.TypeUserAttr|0x74))
}
