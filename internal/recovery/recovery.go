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

// Package recovery classifies every block of an image as live, free or
// orphaned and salvages what it can from the orphans.
package recovery

import (
	"fmt"

	"github.com/google/uuid"

	"lfsforensics/internal/lfs"
)

// Classification is the state of a block in a recovery pass.
type Classification int

const (
	Unvisited Classification = iota
	Live
	Free
	Orphaned
)

func (c Classification) String() string {
	switch c {
	case Live:
		return "live"
	case Free:
		return "free"
	case Orphaned:
		return "orphaned"
	}
	return "unvisited"
}

// Confidence grades how much surrounding structure backs a recovery.
type Confidence int

const (
	// None is used for blocks that carry nothing to recover.
	None Confidence = iota
	// Low means the bytes were carved with nothing confirming identity or size.
	Low
	// Medium means the block decoded structurally in isolation.
	Medium
	// High means surviving metadata names the data.
	High
)

func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	}
	return "none"
}

// Method says how an orphaned block was recovered.
type Method string

const (
	MethodDeletedFile Method = "deleted-file"
	MethodMetadata    Method = "metadata"
	MethodChainData   Method = "ctz-data"
	MethodCarved      Method = "carved"
	MethodUnreadable  Method = "unreadable"
)

// UnknownName is reported when nothing names the recovered bytes.
const UnknownName = "unknown"

// Entry is a record salvaged from an orphaned metadata block.
type Entry struct {
	ID      uint16
	Name    string
	Kind    string // "file", "dir" or "superblock"
	Removed bool
	Handle  *lfs.FileHandle
	Data    []byte
	Err     error
}

// BlockResult is the outcome for one block.
type BlockResult struct {
	Block      uint32
	Class      Classification
	Name       string
	Data       []byte
	Confidence Confidence
	Method     Method
	Entries    []Entry
	Err        error
}

// DeletedFile is an entry removed by a tombstone in a live metadata region.
type DeletedFile struct {
	Path      string
	Dir       bool
	Pair      lfs.Pair // region holding the tombstone
	Handle    lfs.FileHandle
	Data      []byte
	Offset    uint32 // file position of Data[0]
	Truncated bool
	Blocks    []uint32
	Err       error
}

// Report is the result of a recovery pass.
type Report struct {
	RunID    uuid.UUID
	Results  []BlockResult // one per block, in index order
	Live     []uint32
	Deleted  []DeletedFile
	Warnings []error
}

// Blocks returns the indices with the given classification.
func (r *Report) Blocks(c Classification) []uint32 {
	var out []uint32
	for _, res := range r.Results {
		if res.Class == c {
			out = append(out, res.Block)
		}
	}
	return out
}

// Orphans returns the results of orphaned blocks.
func (r *Report) Orphans() []BlockResult {
	var out []BlockResult
	for _, res := range r.Results {
		if res.Class == Orphaned {
			out = append(out, res)
		}
	}
	return out
}

func (r *Report) String() string {
	return fmt.Sprintf("run %s: %d live, %d free, %d orphaned, %d deleted entries, %d warnings",
		r.RunID, len(r.Blocks(Live)), len(r.Blocks(Free)), len(r.Blocks(Orphaned)), len(r.Deleted), len(r.Warnings))
}
