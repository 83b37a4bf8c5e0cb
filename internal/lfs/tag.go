package lfs

import "fmt"

// Tag is a decoded (un-XORed, host order) metadata tag:
//
//	[valid:1][type:11][id:10][size:10]
type Tag uint32

// Tag types. The high three bits of an 11-bit type select the family.
const (
	TypeName         uint16 = 0x000
	TypeReg          uint16 = 0x001
	TypeDir          uint16 = 0x002
	TypeSuperblock   uint16 = 0x0ff
	TypeStruct       uint16 = 0x200
	TypeDirStruct    uint16 = 0x200
	TypeInlineStruct uint16 = 0x201
	TypeCTZStruct    uint16 = 0x202
	TypeUserAttr     uint16 = 0x300
	TypeSplice       uint16 = 0x400
	TypeCreate       uint16 = 0x401
	TypeDelete       uint16 = 0x4ff
	TypeCRC          uint16 = 0x500
	TypeFCRC         uint16 = 0x5ff
	TypeTail         uint16 = 0x600
	TypeSoftTail     uint16 = 0x600
	TypeHardTail     uint16 = 0x601
	TypeGlobals      uint16 = 0x700
	TypeMoveState    uint16 = 0x7ff
)

const (
	// NoID marks tags that do not belong to an entry.
	NoID uint16 = 0x3ff
	// DeletedSize marks an attribute deletion; such tags carry no payload.
	DeletedSize uint32 = 0x3ff

	tagSize = 4
)

// MakeTag builds a valid tag.
func MakeTag(typ uint16, id uint16, size uint32) Tag {
	return Tag(uint32(typ&0x7ff)<<20 | uint32(id&0x3ff)<<10 | size&0x3ff)
}

// IsValid reports whether the valid bit is clear.
func (t Tag) IsValid() bool { return t&0x80000000 == 0 }

// Type1 returns the 3-bit type family (e.g. TypeStruct).
func (t Tag) Type1() uint16 { return uint16((t & 0x70000000) >> 20) }

// Type3 returns the full 11-bit type.
func (t Tag) Type3() uint16 { return uint16((t & 0x7ff00000) >> 20) }

// Chunk returns the low 8 bits of the type.
func (t Tag) Chunk() uint8 { return uint8((t & 0x0ff00000) >> 20) }

// Splice returns the signed id adjustment of a splice tag.
func (t Tag) Splice() int8 { return int8(t.Chunk()) }

// ID returns the entry id.
func (t Tag) ID() uint16 { return uint16((t & 0x000ffc00) >> 10) }

// Size returns the raw size field.
func (t Tag) Size() uint32 { return uint32(t & 0x3ff) }

// IsDelete reports whether the tag deletes its attribute.
func (t Tag) IsDelete() bool { return t.Size() == DeletedSize }

// IsCommitCRC reports whether the tag closes a commit. FCRC shares the CRC
// family but is an ordinary entry.
func (t Tag) IsCommitCRC() bool { return uint32(t&0x78000000)>>20 == uint32(TypeCRC) }

// DSize is the on-disk size of the tag plus its payload.
func (t Tag) DSize() uint32 {
	if t.IsDelete() {
		return tagSize
	}
	return tagSize + t.Size()
}

// TypeName returns a short human readable name for the tag type.
func (t Tag) TypeName() string {
	return TypeString(t.Type3())
}

// TypeString names an 11-bit tag type.
func TypeString(typ uint16) string {
	switch typ {
	case TypeReg:
		return "reg"
	case TypeDir:
		return "dir"
	case TypeSuperblock:
		return "superblock"
	case TypeDirStruct:
		return "dirstruct"
	case TypeInlineStruct:
		return "inlinestruct"
	case TypeCTZStruct:
		return "ctzstruct"
	case TypeCreate:
		return "create"
	case TypeDelete:
		return "delete"
	case TypeFCRC:
		return "fcrc"
	case TypeSoftTail:
		return "softtail"
	case TypeHardTail:
		return "hardtail"
	case TypeMoveState:
		return "movestate"
	}
	switch typ & 0x700 {
	case TypeName:
		return fmt.Sprintf("name(0x%03x)", typ)
	case TypeUserAttr:
		return fmt.Sprintf("userattr(0x%02x)", typ&0xff)
	case TypeCRC:
		return "ccrc"
	case TypeGlobals:
		return fmt.Sprintf("globals(0x%03x)", typ)
	}
	return fmt.Sprintf("unknown(0x%03x)", typ)
}

func (t Tag) String() string {
	id := fmt.Sprintf("%d", t.ID())
	if t.ID() == NoID {
		id = "-"
	}
	size := fmt.Sprintf("%d", t.Size())
	if t.IsDelete() {
		size = "deleted"
	}
	return fmt.Sprintf("%s id=%s size=%s", t.TypeName(), id, size)
}
