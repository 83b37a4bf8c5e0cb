// Copyright 2024 LatentFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lfs

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	log "github.com/sirupsen/logrus"

	"lfsforensics/internal/common"
)

// ReadResult is the content assembled for a file.
type ReadResult struct {
	Data []byte
	// Offset is the file position of Data[0]. It is non-zero only when a
	// broken chain left the beginning of the file unreachable.
	Offset    uint32
	Truncated bool
	// Blocks lists the chain blocks that were read, in file order.
	Blocks []uint32
	// Spans maps each block in Blocks to the file bytes it carries.
	Spans []Span
}

// Span is the part of a file stored in one chain block.
type Span struct {
	Block  uint32
	Index  uint32 // position in the chain
	Offset uint32 // file position of Data[0]
	Data   []byte
}

// FileReader assembles file content from handles.
type FileReader struct {
	dev     BlockReader
	touched *BlockSet
}

// NewFileReader creates a reader. Every chain block read is added to touched,
// which may be nil.
func NewFileReader(dev BlockReader, touched *BlockSet) *FileReader {
	return &FileReader{dev: dev, touched: touched}
}

// Read returns the content behind h.
//
// A CTZ chain is stored back to front: the head is the last block and the
// first pointer of every block n > 0 is block n-1. The reader walks the chain
// with a visited set, then lays out payloads in file order. An out-of-range or
// repeated pointer ends the walk with ErrBrokenFileChain and whatever suffix of
// the file was reachable.
func (r *FileReader) Read(h FileHandle) (*ReadResult, error) {
	if h.Kind == HandleInline {
		return &ReadResult{Data: h.Data}, nil
	}
	if h.Size == 0 {
		return &ReadResult{}, nil
	}

	bs := r.dev.BlockSize()
	count := r.dev.BlockCount()
	if bs < 32 {
		return &ReadResult{Truncated: true}, fmt.Errorf("block size %d too small for ctz files: %w", bs, common.ErrBrokenFileChain)
	}

	last, _ := ctzIndex(bs, h.Size-1)
	if last >= count {
		return &ReadResult{Truncated: true}, fmt.Errorf("size %d needs %d blocks, device has %d: %w",
			h.Size, last+1, count, common.ErrBrokenFileChain)
	}

	blocks := make([]uint32, last+1)
	datas := make([][]byte, last+1)
	visited := make(map[uint32]bool)
	cur, n, lo := h.Head, last, last+1
	var chainErr error
	for {
		if cur >= count {
			chainErr = fmt.Errorf("chain index %d points to block %d: %w: %w", n, cur, common.ErrBrokenFileChain, common.ErrOutOfRange)
			break
		}
		if visited[cur] {
			chainErr = fmt.Errorf("chain index %d revisits block %d: %w", n, cur, common.ErrBrokenFileChain)
			break
		}
		visited[cur] = true
		data, err := r.dev.ReadBlock(int(cur))
		if err != nil {
			chainErr = fmt.Errorf("chain index %d: %w: %w", n, common.ErrBrokenFileChain, err)
			break
		}
		r.touched.Add(cur)
		blocks[n], datas[n], lo = cur, data, n
		if n == 0 {
			break
		}
		cur = binary.LittleEndian.Uint32(data[0:4])
		n--
	}

	res := &ReadResult{Truncated: chainErr != nil}
	if lo > last {
		return res, chainErr
	}
	res.Blocks = blocks[lo:]
	res.Offset = uint32(ctzDataStart(bs, lo))
	res.Data = make([]byte, 0, uint64(h.Size)-ctzDataStart(bs, lo))
	for i := lo; i <= last; i++ {
		p := ctzPayload(bs, i, datas[i], h.Size)
		res.Spans = append(res.Spans, Span{Block: blocks[i], Index: i, Offset: uint32(ctzDataStart(bs, i)), Data: p})
		res.Data = append(res.Data, p...)
	}
	if chainErr != nil {
		log.Debugf("[FileReader] chain head=%d size=%d broken, kept %d bytes from offset %d: %v",
			h.Head, h.Size, len(res.Data), res.Offset, chainErr)
	}
	return res, chainErr
}

// ctzIndex maps a file offset to a chain index and an offset within that
// block, using the same arithmetic as the writer.
func ctzIndex(blockSize, off uint32) (uint32, uint32) {
	b := blockSize - 2*4
	i := off / b
	if i == 0 {
		return 0, off
	}
	i = (off - 4*(uint32(bits.OnesCount32(i-1))+2)) / b
	return i, off - b*i - 4*uint32(bits.OnesCount32(i))
}

// ctzPointers is the number of skip pointers at the start of chain block n.
func ctzPointers(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	return uint32(bits.TrailingZeros32(n)) + 1
}

// ctzBlockOrigin is the file position that maps to byte 0 of chain block n.
func ctzBlockOrigin(blockSize, n uint32) uint64 {
	return uint64(blockSize-8)*uint64(n) + 4*uint64(bits.OnesCount32(n))
}

// ctzDataStart is the file position of the first payload byte of block n.
func ctzDataStart(blockSize, n uint32) uint64 {
	return ctzBlockOrigin(blockSize, n) + 4*uint64(ctzPointers(n))
}

// ctzPayload returns the file bytes carried by chain block n of a file of size bytes.
func ctzPayload(blockSize, n uint32, data []byte, size uint32) []byte {
	skip := 4 * ctzPointers(n)
	if skip >= uint32(len(data)) {
		return nil
	}
	from := ctzDataStart(blockSize, n)
	if from >= uint64(size) {
		return nil
	}
	end := ctzBlockOrigin(blockSize, n) + uint64(len(data))
	if end > uint64(size) {
		end = uint64(size)
	}
	return data[skip : uint64(skip)+end-from]
}
