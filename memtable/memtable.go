// Package memtable provides the mutable, in-memory ordered map that
// absorbs writes before they are flushed to a sorted table on disk. It is
// backed by a skip list over string keys (byte-wise lexicographic,
// matching Go's native string ordering) and []byte values.
package memtable

import (
	"sync"

	"github.com/Priyanshu23/byronkv/keyvalue"
	"github.com/Priyanshu23/byronkv/sstable"
)

// RangeResult describes how much of a requested key range a memtable Range
// call was able to satisfy, driving the engine's decision about whether to
// keep descending into SSTs.
type RangeResult int

const (
	// KeyNotFound means the low endpoint was not present; any entries
	// returned alongside it still merge into the result, but SSTs must be
	// searched from the start of the range.
	KeyNotFound RangeResult = iota
	// FirstKeyFound means the low endpoint was found but the range runs
	// past what the memtable held; SSTs must be consulted too.
	FirstKeyFound
	// FullSetFound means the memtable alone satisfied the whole range, up
	// to and including to.
	FullSetFound
)

// MemTable is a concurrency-safe, ordered map from key to value, backed by
// a skip list guarded by a single RWMutex. Deletions are represented as
// ordinary puts of keyvalue.Tombstone; there is no separate delete path.
type MemTable struct {
	mu         sync.RWMutex
	sl         *SkipList
	maxEntries int
}

// New returns an empty memtable that reports itself at capacity once it
// holds maxEntries distinct keys.
func New(maxEntries int) *MemTable {
	return &MemTable{
		sl:         newSkipList(),
		maxEntries: maxEntries,
	}
}

// Put inserts or overwrites key with value.
func (m *MemTable) Put(key, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sl.Put(string(key), append([]byte(nil), value...))
}

// Get returns the value stored for key, if any.
func (m *MemTable) Get(key []byte) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.sl.Get(string(key))
	return v, ok
}

// Len reports the number of distinct keys currently held.
func (m *MemTable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sl.size
}

// AtCapacity reports whether the memtable has reached its configured entry
// budget and should be frozen and flushed.
func (m *MemTable) AtCapacity() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sl.size >= m.maxEntries
}

// Range collects every entry with key in [from, to], in order, reporting
// how completely it was able to answer the query.
func (m *MemTable) Range(from, to []byte) ([]keyvalue.KeyValue, RangeResult) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fromS, toS := string(from), string(to)
	var results []keyvalue.KeyValue
	sawFrom, sawTo := false, false

	for rec := range m.sl.Iterator() {
		if rec.Key < fromS {
			continue
		}
		if rec.Key > toS {
			break
		}
		if rec.Key == fromS {
			sawFrom = true
		}
		if rec.Key == toS {
			sawTo = true
		}
		results = append(results, keyvalue.KeyValue{
			Key:   []byte(rec.Key),
			Value: append([]byte(nil), rec.Value...),
		})
	}

	// The hint only claims coverage the engine can rely on: FirstKeyFound
	// requires from itself to be present, otherwise the engine would skip
	// SST entries below the memtable's first in-range key.
	switch {
	case !sawFrom:
		return results, KeyNotFound
	case sawTo:
		return results, FullSetFound
	default:
		return results, FirstKeyFound
	}
}

// Flush writes every entry to a new SST at path, ordered ascending, using
// targetFPR for the table's bloom filter.
func (m *MemTable) Flush(path string, targetFPR float64) (*sstable.SSTable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, err := sstable.NewStreamingBuilder(path, m.sl.size, targetFPR, true)
	if err != nil {
		return nil, err
	}
	for rec := range m.sl.Iterator() {
		if err := b.Add(keyvalue.KeyValue{Key: []byte(rec.Key), Value: rec.Value}); err != nil {
			return nil, err
		}
	}
	return b.Finalize()
}
