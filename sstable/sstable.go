package sstable

import (
	"bytes"
	"errors"
	"io"
	"iter"
	"os"
	"sort"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/Priyanshu23/byronkv/keyvalue"
)

// FencePointer records the first key of a block and that block's byte
// offset within the file, letting a lookup binary-search for the block
// that might hold a target key without reading the whole table.
type FencePointer struct {
	FirstKey []byte
	Offset   int64
}

// SSTable is an immutable, sorted, on-disk table: a sequence of ~4KiB
// delta-encoded blocks bracketed by a fixed ASCII magic, with fence
// pointers, per-block restart offsets, per-block hash indices, and a
// bloom filter all held in memory.
//
// SSTable is reference-counted rather than closed explicitly: Delete
// drops the level's owning reference and physically removes the file once
// no in-flight reader still holds one.
type SSTable struct {
	path string

	fencePointers  []FencePointer
	restartOffsets [][]int
	hashIndices    []map[string]int
	bloom          *bloom.BloomFilter
	itemCount      int
	size           int64

	refCount int32
	deleted  int32
}

func (s *SSTable) Path() string   { return s.path }
func (s *SSTable) ItemCount() int { return s.itemCount }

func (s *SSTable) addRef() { atomic.AddInt32(&s.refCount, 1) }

func (s *SSTable) release() {
	if atomic.AddInt32(&s.refCount, -1) == 0 && atomic.LoadInt32(&s.deleted) == 1 {
		_ = os.Remove(s.path)
	}
}

// Delete drops the level's owning reference to this table. The backing
// file is removed once every in-flight reader has finished with it.
func (s *SSTable) Delete() {
	atomic.StoreInt32(&s.deleted, 1)
	s.release()
}

// findBlock returns the index of the block whose fence range could contain
// key, using the invariant that fence keys are strictly increasing.
func (s *SSTable) findBlock(key []byte) (int, bool) {
	n := len(s.fencePointers)
	if n == 0 {
		return 0, false
	}
	if bytes.Compare(key, s.fencePointers[n-1].FirstKey) >= 0 {
		return n - 1, true
	}
	if bytes.Compare(key, s.fencePointers[0].FirstKey) < 0 {
		return 0, true
	}
	i := sort.Search(n, func(i int) bool {
		return bytes.Compare(s.fencePointers[i].FirstKey, key) > 0
	})
	return i - 1, true
}

func (s *SSTable) blockRange(idx int) (int64, int64) {
	start := s.fencePointers[idx].Offset
	var end int64
	if idx+1 < len(s.fencePointers) {
		end = s.fencePointers[idx+1].Offset
	} else {
		end = s.size - int64(len(magic))
	}
	return start, end
}

func (s *SSTable) readBlock(idx int) ([]byte, error) {
	start, end := s.blockRange(idx)
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, end-start)
	if _, err := f.ReadAt(buf, start); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf, nil
}

// Get looks up key, consulting the bloom filter before touching disk.
func (s *SSTable) Get(key []byte) ([]byte, error) {
	if s.bloom != nil && !s.bloom.Test(key) {
		return nil, ErrKeyNotFound
	}

	s.addRef()
	defer s.release()

	idx, ok := s.findBlock(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	data, err := s.readBlock(idx)
	if err != nil {
		return nil, err
	}
	value, found, err := searchBlock(data, s.restartOffsets[idx], s.hashIndices[idx], key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrKeyNotFound
	}
	return value, nil
}

// GetUntil scans entries with key in [from, to], starting from the block
// that would hold from and continuing across later blocks as needed.
// sawEnd reports whether an entry with key == to was encountered, which
// the caller uses to know it can stop descending into deeper levels.
func (s *SSTable) GetUntil(from, to []byte) ([]keyvalue.KeyValue, bool, error) {
	s.addRef()
	defer s.release()

	var out []keyvalue.KeyValue
	sawEnd := false

	startIdx, ok := s.findBlock(from)
	if !ok {
		return out, false, nil
	}

	for idx := startIdx; idx < len(s.fencePointers); idx++ {
		data, err := s.readBlock(idx)
		if err != nil {
			return out, sawEnd, err
		}
		stop := false
		err = iterateBlock(data, func(kv keyvalue.KeyValue) bool {
			if bytes.Compare(kv.Key, from) < 0 {
				return true
			}
			if bytes.Compare(kv.Key, to) > 0 {
				stop = true
				return false
			}
			out = append(out, kv)
			if bytes.Equal(kv.Key, to) {
				sawEnd = true
			}
			return true
		})
		if err != nil {
			return out, sawEnd, err
		}
		if stop {
			break
		}
	}
	return out, sawEnd, nil
}

// Iter yields every entry in key order. It is finite, and each range over
// it starts over from the beginning of the table.
func (s *SSTable) Iter() iter.Seq[keyvalue.KeyValue] {
	return func(yield func(keyvalue.KeyValue) bool) {
		s.addRef()
		defer s.release()
		for idx := range s.fencePointers {
			data, err := s.readBlock(idx)
			if err != nil {
				return
			}
			keepGoing := true
			_ = iterateBlock(data, func(kv keyvalue.KeyValue) bool {
				if !yield(kv) {
					keepGoing = false
					return false
				}
				return true
			})
			if !keepGoing {
				return
			}
		}
	}
}
