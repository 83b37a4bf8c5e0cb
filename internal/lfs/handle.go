package lfs

import (
	"encoding/binary"
	"fmt"

	"github.com/go-restruct/restruct"

	"lfsforensics/internal/common"
)

// HandleKind distinguishes inline files from CTZ skip-list files.
type HandleKind int

const (
	HandleInline HandleKind = iota
	HandleChain
)

// FileHandle locates the content of a file.
type FileHandle struct {
	Kind HandleKind
	Data []byte // inline content
	Head uint32 // last block of the chain
	Size uint32 // declared size in bytes
}

// InlineHandle returns a handle for content stored in the metadata log.
func InlineHandle(data []byte) FileHandle {
	return FileHandle{Kind: HandleInline, Data: data, Size: uint32(len(data))}
}

// ChainHandle returns a handle for a CTZ skip-list.
func ChainHandle(head, size uint32) FileHandle {
	return FileHandle{Kind: HandleChain, Head: head, Size: size}
}

func (h FileHandle) String() string {
	if h.Kind == HandleInline {
		return fmt.Sprintf("Inline(%q)", h.Data)
	}
	return fmt.Sprintf("Chain(head=%d, size=%d)", h.Head, h.Size)
}

// ctzStruct is the CTZSTRUCT payload.
type ctzStruct struct {
	Head uint32
	Size uint32
}

// HandleFromRecord builds a file handle from a file record's struct.
// A file without a struct is an empty inline file.
func HandleFromRecord(rec *Record) (FileHandle, error) {
	if !rec.HasStruct {
		return InlineHandle(nil), nil
	}
	switch rec.StructType {
	case TypeInlineStruct:
		return InlineHandle(rec.Struct), nil
	case TypeCTZStruct:
		if len(rec.Struct) < 8 {
			return FileHandle{}, fmt.Errorf("ctz struct of %q is %d bytes: %w",
				rec.FileName(), len(rec.Struct), common.ErrMalformedEntry)
		}
		var cs ctzStruct
		if err := restruct.Unpack(rec.Struct[:8], binary.LittleEndian, &cs); err != nil {
			return FileHandle{}, fmt.Errorf("ctz struct of %q: %w: %v", rec.FileName(), common.ErrMalformedEntry, err)
		}
		return ChainHandle(cs.Head, cs.Size), nil
	}
	return FileHandle{}, fmt.Errorf("file %q has struct type 0x%03x: %w",
		rec.FileName(), rec.StructType, common.ErrMalformedEntry)
}

// DirPairFromRecord returns the metadata pair a directory record points to.
func DirPairFromRecord(rec *Record) (Pair, error) {
	if !rec.HasStruct || rec.StructType != TypeDirStruct {
		return Pair{}, fmt.Errorf("directory %q has no dirstruct: %w", rec.FileName(), common.ErrMalformedEntry)
	}
	return ParsePair(rec.Struct)
}
