package engine

import (
	"bytes"
	"container/heap"
	"iter"

	"github.com/Priyanshu23/byronkv/keyvalue"
	"github.com/Priyanshu23/byronkv/sstable"
)

// compactorQueueDepth bounds how many tasks or results may be in flight
// between the database and its background compactor before a caller
// blocks, keeping memory use bounded under a burst of flushes.
const compactorQueueDepth = 32

type compactionTask struct {
	level       Level
	targetFPR   float64
	outDir      string
	enableBloom bool
}

// CompletedCompaction reports a successful merge: the new SST replacing
// the level's prior contents, and how many source entries were folded
// into (or dropped from) it.
type CompletedCompaction struct {
	NewSST             *sstable.SSTable
	OriginalLevelDepth uint
	ItemsProcessed     int
	// CompactedSSTs is the exact snapshot that was merged, so the caller
	// can remove just these from the level rather than whatever the
	// level currently holds (which may have grown since the snapshot
	// was taken). The caller owns deleting their backing files once the
	// level reference is gone.
	CompactedSSTs []*sstable.SSTable
}

// FailedCompaction reports a merge that could not complete; the level's
// contents are left untouched and the pending-compaction counter for the
// level must be released.
type FailedCompaction struct {
	Err                error
	OriginalLevelDepth uint
}

type compactionResult struct {
	completed *CompletedCompaction
	failed    *FailedCompaction
}

// Walle is the background compaction worker: a single long-lived
// goroutine decoupled from foreground Put/Get/Range traffic via bounded
// task and result channels, named for the trash-compacting robot.
type Walle struct {
	tasks   chan compactionTask
	results chan compactionResult
	done    chan struct{}
}

// NewWalle starts the compaction loop and returns a handle to it.
func NewWalle() *Walle {
	w := &Walle{
		tasks:   make(chan compactionTask, compactorQueueDepth),
		results: make(chan compactionResult, compactorQueueDepth),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

// Dispatch enqueues a level snapshot for merging. targetFPR is the
// already-resolved false positive rate for the output table's bloom
// filter (see Database.targetFPRLocked, which derives it via the Monkey
// bit-allocation formula). It blocks only if the task queue is already
// full.
func (w *Walle) Dispatch(level Level, targetFPR float64, outDir string, enableBloom bool) {
	w.tasks <- compactionTask{level: level, targetFPR: targetFPR, outDir: outDir, enableBloom: enableBloom}
}

// Drain returns every result currently queued, without blocking.
func (w *Walle) Drain() []compactionResult {
	var out []compactionResult
	for {
		select {
		case r := <-w.results:
			out = append(out, r)
		default:
			return out
		}
	}
}

func (w *Walle) loop() {
	defer close(w.done)
	for task := range w.tasks {
		w.results <- compact(task)
	}
}

// Close stops accepting new tasks and waits for the loop goroutine to
// exit. Any tasks already queued are still merged before the loop exits.
func (w *Walle) Close() {
	close(w.tasks)
	<-w.done
}

// clampFPR keeps a compaction's target false positive rate within the range
// the bloom filter library can size a table for.
func clampFPR(fpr float64) float64 {
	switch {
	case fpr <= 0.001:
		return 0.001
	case fpr >= 0.999:
		return 0.999
	default:
		return fpr
	}
}

type heapItem struct {
	kv     keyvalue.KeyValue
	source int
}

// mergeHeap is a min-heap over (key, source) pairs. Among equal keys, the
// entry from the more recently added SST (the higher source index) sorts
// first, so it is the one that survives the merge and the older duplicate
// is discarded.
type mergeHeap []heapItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	if c := bytes.Compare(h[i].kv.Key, h[j].kv.Key); c != 0 {
		return c < 0
	}
	return h[i].source > h[j].source
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(heapItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// compact performs a k-way merge of every SST in task.level, writing the
// result to a single new table. The inputs are left on disk; the caller
// releases them via CompactedSSTs once the level no longer references
// them, so readers that raced the merge still resolve. Tombstones are
// dropped only when enableBloom is false, which signals the deepest
// populated level of the tree: past that point there is no older value a
// tombstone could still be shadowing.
func compact(t compactionTask) compactionResult {
	outPath := newSSTPath(t.outDir)

	type source struct {
		next func() (keyvalue.KeyValue, bool)
		stop func()
	}
	sources := make([]source, len(t.level.SSTs))
	h := &mergeHeap{}
	heap.Init(h)

	for i, sst := range t.level.SSTs {
		next, stop := iter.Pull(sst.Iter())
		sources[i] = source{next: next, stop: stop}
		if kv, ok := next(); ok {
			heap.Push(h, heapItem{kv: kv, source: i})
		}
	}
	defer func() {
		for _, s := range sources {
			s.stop()
		}
	}()

	fpr := clampFPR(t.targetFPR)
	builder, err := sstable.NewStreamingBuilder(outPath, int(t.level.TotalEntries), fpr, t.enableBloom)
	if err != nil {
		return compactionResult{failed: &FailedCompaction{Err: err, OriginalLevelDepth: t.level.Depth}}
	}

	dropTombstones := !t.enableBloom
	processed := 0
	var lastKey []byte

	for h.Len() > 0 {
		item := heap.Pop(h).(heapItem)
		if next, ok := sources[item.source].next(); ok {
			heap.Push(h, heapItem{kv: next, source: item.source})
		}

		if lastKey != nil && bytes.Equal(item.kv.Key, lastKey) {
			// Superseded by a more recently added SST's value for the
			// same key, already emitted above.
			continue
		}
		lastKey = append([]byte(nil), item.kv.Key...)
		processed++

		if dropTombstones && keyvalue.IsTombstone(item.kv.Value) {
			continue
		}
		if err := builder.Add(item.kv); err != nil {
			return compactionResult{failed: &FailedCompaction{Err: err, OriginalLevelDepth: t.level.Depth}}
		}
	}

	newSST, err := builder.Finalize()
	if err != nil {
		return compactionResult{failed: &FailedCompaction{Err: err, OriginalLevelDepth: t.level.Depth}}
	}

	return compactionResult{completed: &CompletedCompaction{
		NewSST:             newSST,
		OriginalLevelDepth: t.level.Depth,
		ItemsProcessed:     processed,
		CompactedSSTs:      t.level.SSTs,
	}}
}
