package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Priyanshu23/byronkv/keyvalue"
	"github.com/Priyanshu23/byronkv/sstable"
)

func buildSST(t *testing.T, dir, name string, entries map[string]string) *sstable.SSTable {
	t.Helper()
	b, err := sstable.NewStreamingBuilder(filepath.Join(dir, name), len(entries), 0.01, true)
	if err != nil {
		t.Fatalf("NewStreamingBuilder: %v", err)
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	for _, k := range keys {
		if err := b.Add(keyvalue.KeyValue{Key: []byte(k), Value: []byte(entries[k])}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	sst, err := b.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return sst
}

func TestCompactMergesAndDedupsNewestWins(t *testing.T) {
	dir := t.TempDir()
	older := buildSST(t, dir, "older.sst", map[string]string{"a": "old-a", "b": "old-b"})
	newer := buildSST(t, dir, "newer.sst", map[string]string{"a": "new-a", "c": "new-c"})

	level := Level{Depth: 1, Width: 8, SSTs: []*sstable.SSTable{older, newer}, TotalEntries: 4}
	result := compact(compactionTask{level: level, targetFPR: 0.01, outDir: dir, enableBloom: true})
	if result.failed != nil {
		t.Fatalf("compact failed: %v", result.failed.Err)
	}
	out := result.completed.NewSST

	v, err := out.Get([]byte("a"))
	if err != nil || string(v) != "new-a" {
		t.Fatalf("Get(a) = (%q,%v), want (new-a,nil)", v, err)
	}
	v, err = out.Get([]byte("b"))
	if err != nil || string(v) != "old-b" {
		t.Fatalf("Get(b) = (%q,%v), want (old-b,nil)", v, err)
	}
	v, err = out.Get([]byte("c"))
	if err != nil || string(v) != "new-c" {
		t.Fatalf("Get(c) = (%q,%v), want (new-c,nil)", v, err)
	}
}

func TestCompactDropsTombstonesOnlyAtDeepestLevel(t *testing.T) {
	dir := t.TempDir()
	sst := buildSST(t, dir, "a.sst", map[string]string{"a": string(keyvalue.Tombstone), "b": "v"})

	level := Level{Depth: 2, Width: 8, SSTs: []*sstable.SSTable{sst}, TotalEntries: 2}

	notDeepest := compact(compactionTask{level: level, targetFPR: 0.01, outDir: filepath.Join(dir, "nd"), enableBloom: true})
	if notDeepest.failed != nil {
		t.Fatalf("compact failed: %v", notDeepest.failed.Err)
	}
	if _, err := notDeepest.completed.NewSST.Get([]byte("a")); err != nil {
		t.Fatalf("expected tombstone to survive a non-deepest compaction, got %v", err)
	}

	deepest := compact(compactionTask{level: level, targetFPR: 0.01, outDir: filepath.Join(dir, "d"), enableBloom: false})
	if deepest.failed != nil {
		t.Fatalf("compact failed: %v", deepest.failed.Err)
	}
	if _, err := deepest.completed.NewSST.Get([]byte("a")); err != sstable.ErrKeyNotFound {
		t.Fatalf("expected tombstone to be dropped at the deepest level, err=%v", err)
	}
}

func TestCompactLeavesInputFilesForCaller(t *testing.T) {
	dir := t.TempDir()
	sst := buildSST(t, dir, "a.sst", map[string]string{"a": "1"})
	path := sst.Path()

	level := Level{Depth: 0, Width: 8, SSTs: []*sstable.SSTable{sst}, TotalEntries: 1}
	result := compact(compactionTask{level: level, targetFPR: 0.01, outDir: dir, enableBloom: true})
	if result.failed != nil {
		t.Fatalf("compact failed: %v", result.failed.Err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("input SST file removed before the caller released it: %v", err)
	}
	for _, old := range result.completed.CompactedSSTs {
		old.Delete()
	}
	if _, err := os.Stat(path); err == nil {
		t.Fatalf("expected input SST file to be removed once released")
	}
}

func TestWalleDispatchAndDrain(t *testing.T) {
	dir := t.TempDir()
	sst := buildSST(t, dir, "a.sst", map[string]string{"a": "1", "b": "2"})

	w := NewWalle()
	defer w.Close()

	level := Level{Depth: 0, Width: 1, SSTs: []*sstable.SSTable{sst}, TotalEntries: 2}
	w.Dispatch(level, 0.01, dir, true)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		results := w.Drain()
		if len(results) > 0 {
			if results[0].failed != nil {
				t.Fatalf("compaction failed: %v", results[0].failed.Err)
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for a compaction result")
}

func TestMergeHeapPrefersNewerSourceOnTie(t *testing.T) {
	h := &mergeHeap{
		{kv: keyvalue.KeyValue{Key: []byte("k")}, source: 0},
		{kv: keyvalue.KeyValue{Key: []byte("k")}, source: 1},
	}
	if !h.Less(1, 0) {
		t.Fatalf("expected the higher source index to sort first on a key tie")
	}
}
