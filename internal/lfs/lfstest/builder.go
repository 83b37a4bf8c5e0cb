// Package lfstest builds littlefs images in memory for tests.
package lfstest

import (
	"bytes"
	"encoding/binary"
	"math/bits"

	"lfsforensics/internal/lfs"
)

// EraseValue is the byte unprogrammed flash reads as.
const EraseValue = 0xff

// Image is an in-memory flash image.
type Image struct {
	BlockSize  uint32
	BlockCount uint32
	Data       []byte
}

// NewImage returns a fully erased image.
func NewImage(blockSize, blockCount uint32) *Image {
	return &Image{
		BlockSize:  blockSize,
		BlockCount: blockCount,
		Data:       bytes.Repeat([]byte{EraseValue}, int(blockSize*blockCount)),
	}
}

// Block returns the writable bytes of block i.
func (im *Image) Block(i uint32) []byte {
	return im.Data[i*im.BlockSize : (i+1)*im.BlockSize]
}

// Erase resets block i to the erase value.
func (im *Image) Erase(i uint32) {
	b := im.Block(i)
	for j := range b {
		b[j] = EraseValue
	}
}

// Fill overwrites block i with content padded with the erase value.
func (im *Image) Fill(i uint32, content []byte) {
	im.Erase(i)
	copy(im.Block(i), content)
}

// Attr is a tag plus its payload.
type Attr struct {
	Tag  lfs.Tag
	Data []byte
}

func attr(typ, id uint16, data []byte) Attr {
	return Attr{Tag: lfs.MakeTag(typ, id, uint32(len(data))), Data: data}
}

// Create inserts a new entry at id.
func Create(id uint16) Attr { return Attr{Tag: lfs.MakeTag(lfs.TypeCreate, id, 0)} }

// Delete is a tombstone for id.
func Delete(id uint16) Attr { return Attr{Tag: lfs.MakeTag(lfs.TypeDelete, id, 0)} }

// Name sets the name of id.
func Name(typ, id uint16, name string) Attr { return attr(typ, id, []byte(name)) }

// Inline sets inline file content.
func Inline(id uint16, content []byte) Attr { return attr(lfs.TypeInlineStruct, id, content) }

// CTZ points id at a skip-list.
func CTZ(id uint16, head, size uint32) Attr {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:4], head)
	binary.LittleEndian.PutUint32(b[4:8], size)
	return attr(lfs.TypeCTZStruct, id, b)
}

// DirStruct points id at a metadata pair.
func DirStruct(id uint16, pair lfs.Pair) Attr {
	return attr(lfs.TypeDirStruct, id, pairBytes(pair))
}

// SoftTail threads the next directory.
func SoftTail(pair lfs.Pair) Attr { return attr(lfs.TypeSoftTail, lfs.NoID, pairBytes(pair)) }

// HardTail continues the current directory in pair.
func HardTail(pair lfs.Pair) Attr { return attr(lfs.TypeHardTail, lfs.NoID, pairBytes(pair)) }

// UserAttr sets a custom attribute.
func UserAttr(id uint16, kind uint8, data []byte) Attr {
	return attr(lfs.TypeUserAttr|uint16(kind), id, data)
}

// Raw builds an attribute with an arbitrary tag, for forging bad entries.
func Raw(tag lfs.Tag, data []byte) Attr { return Attr{Tag: tag, Data: data} }

func pairBytes(pair lfs.Pair) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:4], pair[0])
	binary.LittleEndian.PutUint32(b[4:8], pair[1])
	return b
}

// SuperblockAttrs creates the superblock entry at id 0.
func SuperblockAttrs(blockSize, blockCount uint32) []Attr {
	sb := &lfs.Superblock{Version: 0x00020001, BlockSize: blockSize, BlockCount: blockCount, NameMax: 255, FileMax: 0x7fffffff, AttrMax: 1022}
	payload, err := sb.Pack()
	if err != nil {
		panic(err)
	}
	return []Attr{Create(0), Name(lfs.TypeSuperblock, 0, lfs.Magic), Inline(0, payload)}
}

// FileAttrs creates an inline file.
func FileAttrs(id uint16, name string, content []byte) []Attr {
	return []Attr{Create(id), Name(lfs.TypeReg, id, name), Inline(id, content)}
}

// ChainFileAttrs creates a file stored in a skip-list.
func ChainFileAttrs(id uint16, name string, head, size uint32) []Attr {
	return []Attr{Create(id), Name(lfs.TypeReg, id, name), CTZ(id, head, size)}
}

// DirAttrs creates a directory entry.
func DirAttrs(id uint16, name string, pair lfs.Pair) []Attr {
	return []Attr{Create(id), Name(lfs.TypeDir, id, name), DirStruct(id, pair)}
}

// Meta appends commits to a metadata block.
type Meta struct {
	im    *Image
	block uint32
	off   uint32
	ptag  lfs.Tag
	crc   uint32

	// CommitOffsets holds the offset of each commit's CRC tag.
	CommitOffsets []uint32
}

// Meta erases block and starts a metadata log with the given revision.
func (im *Image) Meta(block, rev uint32) *Meta {
	im.Erase(block)
	b := im.Block(block)
	binary.LittleEndian.PutUint32(b[0:4], rev)
	return &Meta{im: im, block: block, off: 4, ptag: lfs.Tag(0xffffffff), crc: lfs.Checksum(b[0:4])}
}

// Offset returns the next write offset.
func (m *Meta) Offset() uint32 { return m.off }

// Entries writes attributes without closing the commit.
func (m *Meta) Entries(attrs ...Attr) *Meta {
	b := m.im.Block(m.block)
	for _, a := range attrs {
		t := a.Tag & 0x7fffffff
		binary.BigEndian.PutUint32(b[m.off:], uint32(t^m.ptag))
		m.crc = lfs.UpdateChecksum(m.crc, b[m.off:m.off+4])
		copy(b[m.off+4:], a.Data)
		m.crc = lfs.UpdateChecksum(m.crc, a.Data)
		m.ptag = t
		m.off += 4 + uint32(len(a.Data))
	}
	return m
}

// Commit writes attributes followed by a CRC entry.
func (m *Meta) Commit(attrs ...Attr) *Meta {
	m.Entries(attrs...)
	return m.closeCommit(false)
}

// CommitAll flattens attribute groups into a single commit.
func (m *Meta) CommitAll(groups ...[]Attr) *Meta {
	var all []Attr
	for _, g := range groups {
		all = append(all, g...)
	}
	return m.Commit(all...)
}

// CommitCorrupt writes a commit whose stored CRC is wrong.
func (m *Meta) CommitCorrupt(attrs ...Attr) *Meta {
	m.Entries(attrs...)
	return m.closeCommit(true)
}

func (m *Meta) closeCommit(corrupt bool) *Meta {
	b := m.im.Block(m.block)
	t := lfs.MakeTag(lfs.TypeCRC, lfs.NoID, 4)
	binary.BigEndian.PutUint32(b[m.off:], uint32(t^m.ptag))
	m.crc = lfs.UpdateChecksum(m.crc, b[m.off:m.off+4])
	sum := m.crc
	if corrupt {
		sum = ^sum
	}
	binary.LittleEndian.PutUint32(b[m.off+4:], sum)
	m.CommitOffsets = append(m.CommitOffsets, m.off)
	m.off += 8
	m.ptag = t
	m.crc = lfs.CRCSeed
	return m
}

// ChainBlocks returns how many blocks a skip-list of size bytes needs.
func ChainBlocks(blockSize, size uint32) int {
	n, consumed := 0, uint32(0)
	for consumed < size {
		consumed += blockSize - 4*pointers(uint32(n))
		n++
	}
	return n
}

// WriteChain stores content as a skip-list over blocks (in chain order) and
// returns the head block. blocks must hold at least ChainBlocks entries.
func (im *Image) WriteChain(blocks []uint32, content []byte) uint32 {
	need := ChainBlocks(im.BlockSize, uint32(len(content)))
	if len(blocks) < need {
		panic("lfstest: not enough blocks for chain")
	}
	rest := content
	for n := 0; n < need; n++ {
		im.Erase(blocks[n])
		b := im.Block(blocks[n])
		k := pointers(uint32(n))
		for j := uint32(0); j < k; j++ {
			binary.LittleEndian.PutUint32(b[4*j:], blocks[n-(1<<j)])
		}
		c := copy(b[4*k:], rest)
		rest = rest[c:]
	}
	return blocks[need-1]
}

func pointers(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	return uint32(bits.TrailingZeros32(n)) + 1
}

// Format writes a root pair at blocks 0/1 holding the superblock plus files,
// with block 0 as the authoritative half.
func Format(blockSize, blockCount uint32, files ...[]Attr) *Image {
	im := NewImage(blockSize, blockCount)
	m := im.Meta(0, 1).CommitAll(SuperblockAttrs(blockSize, blockCount))
	if len(files) > 0 {
		m.CommitAll(files...)
	}
	return im
}
