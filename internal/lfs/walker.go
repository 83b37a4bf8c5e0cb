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
	"context"
	"fmt"
	"iter"

	log "github.com/sirupsen/logrus"

	"lfsforensics/internal/common"
)

// Kind tells directories and files apart in walk output.
type Kind int

const (
	KindDir Kind = iota
	KindFile
)

func (k Kind) String() string {
	if k == KindDir {
		return "dir"
	}
	return "file"
}

// DirEntry is a live entry of a directory.
type DirEntry struct {
	Name   string
	Kind   Kind
	Pair   Pair       // directories
	Handle FileHandle // files
	Record *Record
}

// DirectoryNode is a directory resolved from its metadata pair and any
// hard-tail continuation pairs.
type DirectoryNode struct {
	Path    string
	Pair    Pair
	Regions []*Region
	Entries []DirEntry
}

// Visit is one element of a walk. A Visit yielded together with a non-nil
// error is a warning about Path, not a listing entry.
type Visit struct {
	Path  string
	Kind  Kind
	Dir   *DirectoryNode // resolved directory, when Kind == KindDir
	File  *FileHandle    // when Kind == KindFile
	Entry *DirEntry      // nil for the root
}

// RegionRef ties a resolved region to the directory path it belongs to.
type RegionRef struct {
	Path   string
	Region *Region
}

// PathFilter decides whether a path is reported. Returning false for a
// directory also skips everything below it.
type PathFilter func(path string, isDir bool) bool

// WalkerOption configures a Walker.
type WalkerOption func(*Walker)

// WithFilter limits which paths are yielded.
func WithFilter(f PathFilter) WalkerOption {
	return func(w *Walker) { w.filter = f }
}

// WithTracker records every metadata block the walk references in set.
func WithTracker(set *BlockSet) WalkerOption {
	return func(w *Walker) { w.touched = set }
}

// Walker enumerates the directory tree depth first in on-disk entry order.
// A Walker is not safe for concurrent walks.
type Walker struct {
	dec     *Decoder
	filter  PathFilter
	touched *BlockSet
	regions []RegionRef
	walked  map[Pair]string // pair key -> path it was first opened at
}

// NewWalker creates a walker.
func NewWalker(dec *Decoder, opts ...WalkerOption) *Walker {
	w := &Walker{dec: dec}
	for _, opt := range opts {
		opt(w)
	}
	if w.touched == nil {
		w.touched = NewBlockSet()
	}
	return w
}

// Touched returns the metadata blocks referenced by the last walk.
func (w *Walker) Touched() *BlockSet { return w.touched }

// Regions returns every region resolved by the last walk, in walk order.
func (w *Walker) Regions() []RegionRef { return w.regions }

// Walk lazily enumerates the tree rooted at root. Failures are yielded as
// warnings and the walk continues with siblings; only a root that cannot be
// resolved or a cancelled context ends it early.
func (w *Walker) Walk(ctx context.Context, root Pair) iter.Seq2[Visit, error] {
	return func(yield func(Visit, error) bool) {
		w.regions = nil
		w.walked = map[Pair]string{root.Key(): "/"}
		onPath := map[Pair]bool{root.Key(): true}
		dir, tailErr := w.openDir("/", root, onPath)
		if dir == nil {
			yield(Visit{Path: "/", Kind: KindDir}, tailErr)
			return
		}
		if !w.dirWarnings(dir, tailErr, yield) {
			return
		}
		w.walkDir(ctx, dir, onPath, yield)
	}
}

// List collects every live entry path of a walk and the warnings seen.
func (w *Walker) List(ctx context.Context, root Pair) ([]Visit, []error) {
	var visits []Visit
	var warnings []error
	for v, err := range w.Walk(ctx, root) {
		if err != nil {
			warnings = append(warnings, err)
			continue
		}
		visits = append(visits, v)
	}
	return visits, warnings
}

func (w *Walker) walkDir(ctx context.Context, dir *DirectoryNode, onPath map[Pair]bool, yield func(Visit, error) bool) bool {
	if err := ctx.Err(); err != nil {
		yield(Visit{Path: dir.Path, Kind: KindDir}, err)
		return false
	}

	for i := range dir.Entries {
		e := &dir.Entries[i]
		p := common.JoinPath(dir.Path, common.SafeName(e.Name))
		if w.filter != nil && !w.filter(p, e.Kind == KindDir) {
			continue
		}

		if e.Kind == KindFile {
			h := e.Handle
			if !yield(Visit{Path: p, Kind: KindFile, File: &h, Entry: e}, nil) {
				return false
			}
			continue
		}

		if onPath[e.Pair.Key()] {
			w.touched.Add(e.Pair[0], e.Pair[1])
			err := fmt.Errorf("%s: pair %s is an ancestor: %w", p, e.Pair, common.ErrCyclicDirectoryGraph)
			log.Warnf("[Walker] %v", err)
			if !yield(Visit{Path: p, Kind: KindDir, Entry: e}, err) {
				return false
			}
			continue
		}

		// A pair reachable through two entries is expanded once per walk.
		if first, ok := w.walked[e.Pair.Key()]; ok {
			w.touched.Add(e.Pair[0], e.Pair[1])
			err := fmt.Errorf("%s: pair %s already walked at %s: %w", p, e.Pair, first, common.ErrSharedDirectory)
			log.Warnf("[Walker] %v", err)
			if !yield(Visit{Path: p, Kind: KindDir, Entry: e}, err) {
				return false
			}
			continue
		}
		w.walked[e.Pair.Key()] = p

		onPath[e.Pair.Key()] = true
		child, tailErr := w.openDir(p, e.Pair, onPath)
		if child == nil {
			delete(onPath, e.Pair.Key())
			err := fmt.Errorf("%s: %w: %w", p, common.ErrBrokenSubdirectory, tailErr)
			log.Warnf("[Walker] %v", err)
			if !yield(Visit{Path: p, Kind: KindDir, Entry: e}, err) {
				return false
			}
			continue
		}
		if !yield(Visit{Path: p, Kind: KindDir, Dir: child, Entry: e}, nil) {
			return false
		}
		if !w.dirWarnings(child, tailErr, yield) {
			return false
		}
		if !w.walkDir(ctx, child, onPath, yield) {
			return false
		}
		delete(onPath, e.Pair.Key())
	}
	return true
}

// dirWarnings yields the decoder warnings collected while opening dir.
func (w *Walker) dirWarnings(dir *DirectoryNode, tailErr error, yield func(Visit, error) bool) bool {
	for _, r := range dir.Regions {
		for _, warn := range r.Warnings {
			if !yield(Visit{Path: dir.Path, Kind: KindDir, Dir: dir}, fmt.Errorf("%s: %w", dir.Path, warn)) {
				return false
			}
		}
	}
	if tailErr != nil {
		return yield(Visit{Path: dir.Path, Kind: KindDir, Dir: dir}, fmt.Errorf("%s: %w", dir.Path, tailErr))
	}
	return true
}

// openDir resolves pair and its hard-tail continuation. It returns nil if the
// first pair cannot be resolved; a failure further down the tail chain keeps
// the entries found so far and is returned as the error.
func (w *Walker) openDir(p string, pair Pair, onPath map[Pair]bool) (*DirectoryNode, error) {
	dir := &DirectoryNode{Path: p, Pair: pair}
	chain := map[Pair]bool{}
	cur := pair
	for {
		w.touched.Add(cur[0], cur[1])
		region, err := w.dec.Resolve(cur)
		if err != nil {
			if len(dir.Regions) == 0 {
				return nil, err
			}
			return dir, fmt.Errorf("%w: tail %s: %w", common.ErrBrokenSubdirectory, cur, err)
		}
		chain[cur.Key()] = true
		dir.Regions = append(dir.Regions, region)
		w.regions = append(w.regions, RegionRef{Path: p, Region: region})

		for _, rec := range region.Entries {
			e, err := entryFromRecord(rec)
			if err != nil {
				region.Warnings = append(region.Warnings, err)
				continue
			}
			if e != nil {
				dir.Entries = append(dir.Entries, *e)
			}
		}

		if !region.HasTail || !region.HardTail || region.Tail.IsNull() {
			return dir, nil
		}
		next := region.Tail
		if chain[next.Key()] || (next.Key() != pair.Key() && onPath[next.Key()]) {
			w.touched.Add(next[0], next[1])
			return dir, fmt.Errorf("tail %s: %w", next, common.ErrCyclicDirectoryGraph)
		}
		cur = next
	}
}

// entryFromRecord converts a record into a directory entry. Records that are
// not files or directories (superblock, unnamed) yield nil.
func entryFromRecord(rec *Record) (*DirEntry, error) {
	switch {
	case rec.IsFile():
		h, err := HandleFromRecord(rec)
		if err != nil {
			return nil, err
		}
		return &DirEntry{Name: rec.FileName(), Kind: KindFile, Handle: h, Record: rec}, nil
	case rec.IsDir():
		pair, err := DirPairFromRecord(rec)
		if err != nil {
			return nil, err
		}
		return &DirEntry{Name: rec.FileName(), Kind: KindDir, Pair: pair, Record: rec}, nil
	}
	return nil, nil
}
