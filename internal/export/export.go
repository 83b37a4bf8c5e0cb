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

// Package export writes analysis results to a filesystem: the live tree,
// recovered blocks, reconstructed deleted files and a manifest.
package export

import (
	"context"
	"fmt"
	"path"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"lfsforensics/internal/common"
	"lfsforensics/internal/lfs"
	"lfsforensics/internal/recovery"
	lfsutil "lfsforensics/internal/util"
)

// Output layout.
const (
	LiveDir      = "live"
	RecoveredDir = "recovered"
	DeletedDir   = "deleted"
	ManifestFile = "manifest.yaml"

	// PartialSuffix marks files whose content could only be read in part.
	PartialSuffix = ".partial"
)

// Exporter writes into a billy filesystem. Only the output is written; the
// image is read through dev.
type Exporter struct {
	fs  billy.Filesystem
	dev lfs.BlockReader
}

// New creates an exporter.
func New(fs billy.Filesystem, dev lfs.BlockReader) *Exporter {
	return &Exporter{fs: fs, dev: dev}
}

// TreeSummary describes an exported live tree.
type TreeSummary struct {
	Dirs     int
	Files    []string
	Bytes    int64
	Warnings []error
}

// ExportTree copies every live file under LiveDir, keeping the directory
// layout. Partially readable files are written with PartialSuffix.
func (x *Exporter) ExportTree(ctx context.Context, root lfs.Pair, filter lfs.PathFilter) (*TreeSummary, error) {
	sum := &TreeSummary{}
	if err := x.fs.MkdirAll(LiveDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", LiveDir, err)
	}

	walker := lfs.NewWalker(lfs.NewDecoder(x.dev), lfs.WithFilter(filter))
	reader := lfs.NewFileReader(x.dev, nil)
	for v, err := range walker.Walk(ctx, root) {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return sum, ctxErr
			}
			sum.Warnings = append(sum.Warnings, err)
			continue
		}
		target := hostPath(LiveDir, v.Path)
		if v.Kind == lfs.KindDir {
			if err := x.fs.MkdirAll(target, 0755); err != nil {
				return sum, fmt.Errorf("failed to create %s: %w", target, err)
			}
			sum.Dirs++
			continue
		}

		res, err := reader.Read(*v.File)
		if err != nil {
			sum.Warnings = append(sum.Warnings, fmt.Errorf("%s: %w", v.Path, err))
			if len(res.Data) == 0 {
				continue
			}
			target += PartialSuffix
		}
		if err := x.write(target, res.Data); err != nil {
			return sum, err
		}
		sum.Files = append(sum.Files, target)
		sum.Bytes += int64(len(res.Data))
	}
	log.Debugf("[Export] live tree: %d dirs, %d files, %d bytes", sum.Dirs, len(sum.Files), sum.Bytes)
	return sum, nil
}

// Manifest records what a recovery pass found and what was written.
type Manifest struct {
	RunID      string            `yaml:"run_id"`
	Image      string            `yaml:"image,omitempty"`
	CreatedAt  time.Time         `yaml:"created_at"`
	BlockSize  uint32            `yaml:"block_size"`
	BlockCount uint32            `yaml:"block_count"`
	Live       []uint32          `yaml:"live,flow"`
	Free       []uint32          `yaml:"free,flow"`
	Orphans    []ManifestBlock   `yaml:"orphans,omitempty"`
	Deleted    []ManifestDeleted `yaml:"deleted,omitempty"`
	Files      []string          `yaml:"files,omitempty"`
	Warnings   []string          `yaml:"warnings,omitempty"`
}

// ManifestBlock describes one orphaned block.
type ManifestBlock struct {
	Block      uint32   `yaml:"block"`
	Name       string   `yaml:"name"`
	Method     string   `yaml:"method"`
	Confidence string   `yaml:"confidence"`
	Bytes      int      `yaml:"bytes"`
	Entries    []string `yaml:"entries,omitempty"`
	Error      string   `yaml:"error,omitempty"`
}

// ManifestDeleted describes one reconstructed deleted entry.
type ManifestDeleted struct {
	Path      string   `yaml:"path"`
	Dir       bool     `yaml:"dir,omitempty"`
	Handle    string   `yaml:"handle,omitempty"`
	Bytes     int      `yaml:"bytes"`
	Truncated bool     `yaml:"truncated,omitempty"`
	Blocks    []uint32 `yaml:"blocks,flow,omitempty"`
	Error     string   `yaml:"error,omitempty"`
}

// ExportRecovered writes every orphaned block raw as recovered/block_N.bin,
// the files salvaged from orphaned metadata blocks under recovered/block_N/,
// and reconstructed deleted files under DeletedDir. A manifest describing the
// run is written last and returned.
func (x *Exporter) ExportRecovered(rep *recovery.Report, image string) (*Manifest, error) {
	m := &Manifest{
		RunID:      rep.RunID.String(),
		Image:      image,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
		BlockSize:  x.dev.BlockSize(),
		BlockCount: x.dev.BlockCount(),
		Live:       rep.Blocks(recovery.Live),
		Free:       rep.Blocks(recovery.Free),
	}
	for _, w := range rep.Warnings {
		m.Warnings = append(m.Warnings, w.Error())
	}

	for _, res := range rep.Orphans() {
		mb := ManifestBlock{
			Block:      res.Block,
			Name:       res.Name,
			Method:     string(res.Method),
			Confidence: res.Confidence.String(),
			Bytes:      len(res.Data),
		}
		if res.Err != nil {
			mb.Error = res.Err.Error()
		}
		if raw, err := x.dev.ReadBlock(int(res.Block)); err == nil {
			name := path.Join(RecoveredDir, fmt.Sprintf("block_%d.bin", res.Block))
			if err := x.write(name, raw); err != nil {
				return m, err
			}
			m.Files = append(m.Files, name)
		}
		for _, ent := range res.Entries {
			mb.Entries = append(mb.Entries, fmt.Sprintf("%s %s", ent.Kind, ent.Name))
			if ent.Kind != "file" || len(ent.Data) == 0 {
				continue
			}
			name := path.Join(RecoveredDir, fmt.Sprintf("block_%d", res.Block), common.SafeName(ent.Name))
			if ent.Err != nil {
				name += PartialSuffix
			}
			if err := x.write(name, ent.Data); err != nil {
				return m, err
			}
			m.Files = append(m.Files, name)
		}
		m.Orphans = append(m.Orphans, mb)
	}

	for _, df := range rep.Deleted {
		md := ManifestDeleted{Path: df.Path, Dir: df.Dir, Bytes: len(df.Data), Truncated: df.Truncated, Blocks: df.Blocks}
		if !df.Dir {
			md.Handle = df.Handle.String()
		}
		if df.Err != nil {
			md.Error = df.Err.Error()
		}
		m.Deleted = append(m.Deleted, md)
		if df.Dir || len(df.Data) == 0 {
			continue
		}
		name := hostPath(DeletedDir, df.Path)
		if df.Truncated {
			name += PartialSuffix
		}
		if err := x.write(name, df.Data); err != nil {
			return m, err
		}
		m.Files = append(m.Files, name)
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return m, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := x.write(ManifestFile, data); err != nil {
		return m, err
	}
	log.Infof("[Export] run %s: %d orphaned blocks, %d deleted entries, %d files written",
		m.RunID, len(m.Orphans), len(m.Deleted), len(m.Files))
	return m, nil
}

// ReadManifest loads a manifest written by ExportRecovered.
func ReadManifest(fs billy.Filesystem) (*Manifest, error) {
	data, err := util.ReadFile(fs, ManifestFile)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%s: %w", ManifestFile, err)
	}
	return &m, nil
}

// hostPath maps an image path below dir, one sanitized component at a time.
func hostPath(dir, imagePath string) string {
	parts := []string{dir}
	for _, c := range common.SplitPath(imagePath) {
		parts = append(parts, common.SafeName(c))
	}
	return path.Join(parts...)
}

func (x *Exporter) write(name string, data []byte) error {
	if err := x.fs.MkdirAll(path.Dir(name), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", path.Dir(name), err)
	}
	ctx := context.Background()
	err := lfsutil.Retry(ctx, func() error {
		return util.WriteFile(x.fs, name, data, 0644)
	}, lfsutil.OutputRetryOptions(ctx)...)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}
