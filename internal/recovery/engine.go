package recovery

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"lfsforensics/internal/blockdev"
	"lfsforensics/internal/common"
	"lfsforensics/internal/lfs"
)

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds how many blocks are classified concurrently.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithEraseValue sets the byte unprogrammed flash reads as.
func WithEraseValue(b byte) Option {
	return func(e *Engine) { e.erase = b }
}

// WithTrimErased controls whether carved bytes lose their trailing run of
// erase-value padding.
func WithTrimErased(trim bool) Option {
	return func(e *Engine) { e.trimErased = trim }
}

// WithRoot sets the pair the tree walk starts from.
func WithRoot(p lfs.Pair) Option {
	return func(e *Engine) { e.root = p }
}

// Engine runs recovery passes over a device. It never writes to the device.
type Engine struct {
	dev        lfs.BlockReader
	dec        *lfs.Decoder
	root       lfs.Pair
	erase      byte
	workers    int
	trimErased bool
}

// NewEngine creates an engine with one worker, erase value 0xff and trimming
// enabled.
func NewEngine(dev lfs.BlockReader, opts ...Option) *Engine {
	e := &Engine{
		dev:        dev,
		dec:        lfs.NewDecoder(dev),
		root:       lfs.RootPair,
		erase:      0xff,
		workers:    1,
		trimErased: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run performs one pass.
//
// The live tree is walked and every file read first; the set of blocks this
// touches is then frozen and becomes the Live classification. Deleted entries
// of the walked regions are reconstructed next, and finally every other block
// is classified independently, in parallel when more than one worker is set.
// Only cancellation of ctx fails a run.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	rep := &Report{RunID: uuid.New()}
	count := e.dev.BlockCount()
	log.Debugf("[Recovery] run %s over %d blocks, %d workers", rep.RunID, count, e.workers)

	touched := lfs.NewBlockSet()
	walker := lfs.NewWalker(e.dec, lfs.WithTracker(touched))
	reader := lfs.NewFileReader(e.dev, touched)
	for v, err := range walker.Walk(ctx, e.root) {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			rep.Warnings = append(rep.Warnings, err)
			continue
		}
		if v.Kind != lfs.KindFile {
			continue
		}
		if _, err := reader.Read(*v.File); err != nil {
			rep.Warnings = append(rep.Warnings, fmt.Errorf("%s: %w", v.Path, err))
		}
	}

	// Barrier: from here on the live set is read-only.
	live := touched.Clone()
	for _, b := range live.Sorted() {
		if b < count {
			rep.Live = append(rep.Live, b)
		}
	}

	deleted, owners := e.reconstructDeleted(walker.Regions(), live)
	rep.Deleted = deleted

	results := make([]BlockResult, count)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := uint32(0); i < count; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.classify(i, live, owners, deleted)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	rep.Results = results

	log.Infof("[Recovery] %s", rep)
	return rep, nil
}

// owner attributes an orphaned block to a span of a deleted file.
type owner struct {
	file int
	span lfs.Span
}

func (e *Engine) classify(i uint32, live *lfs.BlockSet, owners map[uint32]owner, deleted []DeletedFile) BlockResult {
	res := BlockResult{Block: i, Name: UnknownName}
	if live.Has(i) {
		res.Class = Live
		return res
	}

	data, err := e.dev.ReadBlock(int(i))
	if err != nil {
		log.Debugf("[Recovery] block %d unreadable: %v", i, err)
		res.Class, res.Confidence, res.Method, res.Err = Orphaned, Low, MethodUnreadable, err
		return res
	}
	if blockdev.IsErased(data, e.erase) {
		res.Class = Free
		return res
	}
	res.Class = Orphaned

	if o, ok := owners[i]; ok {
		res.Name = deleted[o.file].Path
		res.Data = o.span.Data
		res.Confidence, res.Method = High, MethodDeletedFile
		return res
	}

	if l := lfs.DecodeBlock(i, data); l.Valid() {
		res.Confidence, res.Method = Medium, MethodMetadata
		res.Entries = e.salvageEntries(lfs.Replay(l))
		res.Err = l.Err
		return res
	}

	if guess, ok := lfs.ConfirmDataBlock(e.dev, i, data, e.erase, live.Has); ok {
		res.Confidence, res.Method = Medium, MethodChainData
		res.Data = e.trim(guess.Payload)
		return res
	}

	res.Confidence, res.Method = Low, MethodCarved
	res.Data = e.trim(data)
	return res
}

func (e *Engine) trim(data []byte) []byte {
	if e.trimErased {
		data = blockdev.TrimErased(data, e.erase)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// salvageEntries lists the named records of a metadata block found outside
// the live tree, live and tombstoned alike. File content is read when the
// blocks it needs are still intact.
func (e *Engine) salvageEntries(r *lfs.Region) []Entry {
	reader := lfs.NewFileReader(e.dev, nil)
	records := append(append([]*lfs.Record(nil), r.Entries...), r.Removed...)
	var out []Entry
	for _, rec := range records {
		if !rec.HasName {
			continue
		}
		ent := Entry{ID: rec.ID, Name: rec.FileName(), Removed: rec.Removed}
		switch {
		case rec.IsSuperblock():
			ent.Kind = "superblock"
		case rec.IsDir():
			ent.Kind = "dir"
		case rec.IsFile():
			ent.Kind = "file"
			h, err := lfs.HandleFromRecord(rec)
			if err != nil {
				ent.Err = err
				break
			}
			ent.Handle = &h
			got, err := reader.Read(h)
			ent.Data, ent.Err = got.Data, err
		default:
			continue
		}
		out = append(out, ent)
	}
	return out
}

// reconstructDeleted reads back the entries tombstoned in the walked regions.
// Chain blocks of a deleted file that are not live are attributed to it; a
// block claimed by two deleted files goes to the one found first.
func (e *Engine) reconstructDeleted(regions []lfs.RegionRef, live *lfs.BlockSet) ([]DeletedFile, map[uint32]owner) {
	reader := lfs.NewFileReader(e.dev, nil)
	owners := map[uint32]owner{}
	var out []DeletedFile
	seen := map[lfs.Pair]bool{}
	for _, ref := range regions {
		key := ref.Region.Pair.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		for _, rec := range ref.Region.Removed {
			if !rec.IsFile() && !rec.IsDir() {
				continue
			}
			df := DeletedFile{
				Path: common.JoinPath(ref.Path, common.SafeName(rec.FileName())),
				Dir:  rec.IsDir(),
				Pair: ref.Region.Pair,
			}
			if df.Dir {
				out = append(out, df)
				continue
			}
			h, err := lfs.HandleFromRecord(rec)
			if err != nil {
				df.Err = err
				out = append(out, df)
				continue
			}
			df.Handle = h
			got, err := reader.Read(h)
			df.Data, df.Offset, df.Truncated, df.Blocks, df.Err = got.Data, got.Offset, got.Truncated, got.Blocks, err
			idx := len(out)
			for _, sp := range got.Spans {
				if live.Has(sp.Block) {
					continue
				}
				if _, taken := owners[sp.Block]; !taken {
					owners[sp.Block] = owner{file: idx, span: sp}
				}
			}
			log.Debugf("[Recovery] deleted %s: %s, %d bytes recovered", df.Path, h, len(df.Data))
			out = append(out, df)
		}
	}
	return out, owners
}
