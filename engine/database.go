// Package engine orchestrates the memtable, the leveled collection of
// SSTs, and the background compactor into the ordered key-value store.
package engine

import (
	"bytes"
	"errors"
	"os"
	"sort"
	"sync"

	"github.com/Priyanshu23/byronkv/keyvalue"
	"github.com/Priyanshu23/byronkv/memtable"
	"github.com/Priyanshu23/byronkv/sstable"
)

// levelZeroBiasThreshold caps level 0's effective compaction trigger
// regardless of its configured width, since overlapping SSTs at level 0
// are the read path's biggest source of amplification.
const levelZeroBiasThreshold = 4

// Database is the top-level handle to an ordered key-value store on disk.
// It is safe for concurrent use.
type Database struct {
	dir  string
	opts Options

	memMu  sync.RWMutex
	active *memtable.MemTable

	mu      sync.RWMutex // guards levels and pending
	levels  []*Level
	pending map[uint]int

	walle *Walle
}

// New opens (or creates) a database rooted at dir.
func New(dir string, opts ...Option) (*Database, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Database{
		dir:     dir,
		opts:    o,
		active:  memtable.New(o.MemtableCapacity),
		pending: make(map[uint]int),
		walle:   NewWalle(),
	}, nil
}

// Close stops the background compactor. It does not flush the active
// memtable; an unflushed memtable's contents are lost, matching this
// design's explicit choice not to provide crash recovery.
func (db *Database) Close() {
	db.walle.Close()
}

// Put inserts or overwrites key with value.
func (db *Database) Put(key, value []byte) error {
	db.drainCompactions()

	db.memMu.Lock()
	db.active.Put(key, value)
	full := db.active.AtCapacity()
	var frozen *memtable.MemTable
	if full {
		frozen = db.active
		db.active = memtable.New(db.opts.MemtableCapacity)
	}
	db.memMu.Unlock()

	if frozen == nil {
		return nil
	}
	return db.flushAndInsert(frozen)
}

// Delete removes key by writing the reserved tombstone sentinel.
func (db *Database) Delete(key []byte) error {
	return db.Put(key, keyvalue.Tombstone)
}

func (db *Database) flushAndInsert(frozen *memtable.MemTable) error {
	path := newSSTPath(db.dir)
	sst, err := frozen.Flush(path, db.opts.BaseFPR)
	if err != nil {
		return err
	}
	db.insertNewTable(sst, 0)
	return nil
}

// insertNewTable adds sst to the given level and, if that pushes the level
// to its effective width, dispatches a compaction. Each level transition
// of a cascade runs as its own pass through here, driven iteratively by
// drainCompactions when the async merge result lands, so a cascade that
// spans many levels never grows the call stack.
func (db *Database) insertNewTable(sst *sstable.SSTable, level uint) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if int(level) >= len(db.levels) {
		db.extendLevelsLocked(level)
	}
	lvl := db.levels[level]

	lvl.SSTs = append(lvl.SSTs, sst)
	lvl.TotalEntries += uint64(sst.ItemCount())

	db.dispatchIfReadyLocked(level)
}

// dispatchIfReadyLocked dispatches a compaction for level if it has
// reached its effective width and no compaction for that level is
// already in flight. Callers must hold db.mu for writing. A level that
// is over width while a compaction is already pending is left alone;
// it is rechecked the next time a table is inserted into it, and again
// when drainCompactions removes a finished compaction's sources from it,
// so db.pending never lets two overlapping compactions race over the
// same level's SSTs.
func (db *Database) dispatchIfReadyLocked(level uint) {
	if db.pending[level] > 0 {
		return
	}
	lvl := db.levels[level]
	if uint(len(lvl.SSTs)) < db.effectiveWidthLocked(level) {
		return
	}
	finalLevel := int(level) == len(db.levels)-1
	snapshot := lvl.Snapshot()
	db.pending[level]++
	db.walle.Dispatch(snapshot, db.targetFPRLocked(level), db.dir, !finalLevel)
}

// targetFPRLocked derives a compaction's target false positive rate from
// the Monkey bit-allocation formula, distributing the
// database's total bloom-bit budget across every existing level according
// to its current entry count, then converting the level under
// compaction's share back into an FPR. Callers must hold db.mu.
func (db *Database) targetFPRLocked(level uint) float64 {
	counts := make([]uint64, len(db.levels))
	for i, lvl := range db.levels {
		counts[i] = lvl.TotalEntries
	}
	bits := AllocateBloomBits(counts, db.opts.BloomBitBudget)
	if int(level) >= len(bits) || bits[level] == 0 {
		return db.opts.BaseFPR
	}
	return TargetFPR(bits[level])
}

func (db *Database) effectiveWidthLocked(level uint) uint {
	w := db.levels[level].Width
	if level == 0 && db.opts.BiasLevelZero && w > levelZeroBiasThreshold {
		return levelZeroBiasThreshold
	}
	return w
}

// extendLevelsLocked grows the level list so index target exists. Callers
// must hold db.mu for writing.
func (db *Database) extendLevelsLocked(target uint) {
	if len(db.levels) == 0 {
		db.levels = append(db.levels, &Level{Depth: 0, Width: db.opts.Level0Width})
	}
	for uint(len(db.levels)) <= target {
		prev := db.levels[len(db.levels)-1]
		width := nextWidth(prev.Width, db.opts.CapacityExpansionFactor)
		db.levels = append(db.levels, &Level{Depth: uint(len(db.levels)), Width: width})
	}
}

// drainCompactions consumes every result the compactor has queued so far,
// folding a completed merge's output back into the next level down (which
// may itself immediately become full and trigger another compaction) and
// logging a failed one. It is called at the start of every foreground
// operation so no caller can observe a level stuck mid-compaction.
func (db *Database) drainCompactions() {
	for _, r := range db.walle.Drain() {
		switch {
		case r.completed != nil:
			depth := r.completed.OriginalLevelDepth
			// Insert the merged table before clearing the sources so no
			// reader between the two steps sees the compacted keys absent
			// from both levels. The transient duplication is harmless:
			// the shallower level shadows the deeper one with the same
			// values. Files are removed only after the level reference is
			// gone, outside the write lock, so in-flight readers finish
			// against their counted references.
			db.insertNewTable(r.completed.NewSST, depth+1)
			db.mu.Lock()
			lvl := db.levels[depth]
			lvl.SSTs, lvl.TotalEntries = removeCompacted(lvl.SSTs, r.completed.CompactedSSTs)
			db.pending[depth]--
			db.dispatchIfReadyLocked(depth)
			db.mu.Unlock()
			for _, sst := range r.completed.CompactedSSTs {
				sst.Delete()
			}
		case r.failed != nil:
			db.mu.Lock()
			db.pending[r.failed.OriginalLevelDepth]--
			db.mu.Unlock()
			logf("compaction failed at level %d: %v", r.failed.OriginalLevelDepth, r.failed.Err)
		}
	}
}

// Get returns the value stored for key.
func (db *Database) Get(key []byte) ([]byte, error) {
	db.drainCompactions()

	db.memMu.RLock()
	if v, ok := db.active.Get(key); ok {
		db.memMu.RUnlock()
		if keyvalue.IsTombstone(v) {
			return nil, ErrKeyNotFound
		}
		return v, nil
	}
	db.memMu.RUnlock()

	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, lvl := range db.levels {
		for i := len(lvl.SSTs) - 1; i >= 0; i-- {
			v, err := lvl.SSTs[i].Get(key)
			if errors.Is(err, sstable.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if keyvalue.IsTombstone(v) {
				return nil, ErrKeyNotFound
			}
			return v, nil
		}
	}
	return nil, ErrKeyNotFound
}

// Range returns every live (non-tombstoned) entry with key in [from, to],
// in ascending order.
func (db *Database) Range(from, to []byte) ([]keyvalue.KeyValue, error) {
	db.drainCompactions()

	collected := make(map[string][]byte)
	var order []string
	take := func(k, v []byte) {
		ks := string(k)
		if _, ok := collected[ks]; !ok {
			collected[ks] = v
			order = append(order, ks)
		}
	}

	db.memMu.RLock()
	memEntries, hint := db.active.Range(from, to)
	db.memMu.RUnlock()
	for _, kv := range memEntries {
		take(kv.Key, kv.Value)
	}

	if hint != memtable.FullSetFound {
		start := from
		if hint == memtable.FirstKeyFound {
			start = memEntries[len(memEntries)-1].Key
		}

		db.mu.RLock()
	scanLevels:
		for _, lvl := range db.levels {
			levelSawEnd := false
			for i := len(lvl.SSTs) - 1; i >= 0; i-- {
				entries, sawEnd, err := lvl.SSTs[i].GetUntil(start, to)
				if err != nil {
					db.mu.RUnlock()
					return nil, err
				}
				for _, kv := range entries {
					take(kv.Key, kv.Value)
				}
				if sawEnd {
					levelSawEnd = true
				}
			}
			if levelSawEnd {
				break scanLevels
			}
		}
		db.mu.RUnlock()
	}

	out := make([]keyvalue.KeyValue, 0, len(order))
	for _, k := range order {
		v := collected[k]
		if keyvalue.IsTombstone(v) {
			continue
		}
		out = append(out, keyvalue.KeyValue{Key: []byte(k), Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })

	if len(out) == 0 {
		return nil, ErrKeyNotFound
	}
	return out, nil
}
