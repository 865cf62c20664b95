package sstable

import (
	"bufio"
	"os"
	"path/filepath"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/Priyanshu23/byronkv/keyvalue"
)

var magic = []byte("SSTB")

// StreamingBuilder writes a sorted table to disk one entry at a time,
// sealing ~blockSize blocks as it goes rather than buffering the whole
// table in memory.
type StreamingBuilder struct {
	path   string
	file   *os.File
	writer *bufio.Writer

	fencePointers  []FencePointer
	restartOffsets [][]int
	hashIndices    []map[string]int

	block      []byte
	blockCount int
	lastKey    []byte

	currentOffset int64
	itemCount     int

	filter *bloom.BloomFilter
}

// NewStreamingBuilder opens path for writing and prepares a bloom filter
// sized for itemCountHint entries at targetFPR, unless enableBloom is
// false (the engine passes false when it compacts the deepest level of
// the tree).
func NewStreamingBuilder(path string, itemCountHint int, targetFPR float64, enableBloom bool) (*StreamingBuilder, error) {
	if targetFPR <= 0 || targetFPR >= 1 {
		return nil, ErrInvalidFalsePositiveRate
	}
	if itemCountHint < 0 {
		return nil, ErrInvalidItemCount
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(magic); err != nil {
		f.Close()
		return nil, err
	}

	var filter *bloom.BloomFilter
	if enableBloom {
		hint := itemCountHint
		if hint <= 0 {
			hint = 1
		}
		filter = bloom.NewWithEstimates(uint(hint), targetFPR)
	}

	return &StreamingBuilder{
		path:          path,
		file:          f,
		writer:        w,
		currentOffset: int64(len(magic)),
		filter:        filter,
	}, nil
}

// Add appends one entry. Entries must be added in ascending key order.
func (b *StreamingBuilder) Add(kv keyvalue.KeyValue) error {
	if len(kv.Key) == 0 {
		return ErrEmptyKey
	}
	if b.filter != nil {
		b.filter.Add(kv.Key)
	}

	tentative := encodeDelta(b.lastKey, kv.Key, kv.Value)
	if len(b.block)+tentative.size() > blockSize && len(b.block) > 0 {
		if err := b.sealBlock(); err != nil {
			return err
		}
	}

	if len(b.block) == 0 {
		b.restartOffsets = append(b.restartOffsets, []int{0})
		b.hashIndices = append(b.hashIndices, map[string]int{string(kv.Key): 0})
		b.fencePointers = append(b.fencePointers, FencePointer{
			FirstKey: append([]byte(nil), kv.Key...),
			Offset:   b.currentOffset,
		})
		b.lastKey = nil
	} else if b.blockCount%restartInterval == 0 {
		ridx := len(b.restartOffsets) - 1
		b.restartOffsets[ridx] = append(b.restartOffsets[ridx], len(b.block))
		b.hashIndices[ridx][string(kv.Key)] = len(b.restartOffsets[ridx]) - 1
		b.lastKey = nil
	}

	// Recomputed: the decision above may have just reset lastKey to nil,
	// which changes the delta relative to the tentative estimate above.
	dkv := encodeDelta(b.lastKey, kv.Key, kv.Value)
	b.block = dkv.appendTo(b.block)
	b.blockCount++
	b.itemCount++
	b.lastKey = append([]byte(nil), kv.Key...)
	return nil
}

func (b *StreamingBuilder) sealBlock() error {
	if _, err := b.writer.Write(b.block); err != nil {
		return err
	}
	b.currentOffset += int64(len(b.block))
	b.block = b.block[:0]
	b.blockCount = 0
	return nil
}

// Finalize seals any pending block, writes the trailing magic, and returns
// the finished table. The builder must not be used afterward.
func (b *StreamingBuilder) Finalize() (*SSTable, error) {
	if len(b.block) > 0 {
		if err := b.sealBlock(); err != nil {
			return nil, err
		}
	}
	if _, err := b.writer.Write(magic); err != nil {
		return nil, err
	}
	if err := b.writer.Flush(); err != nil {
		return nil, err
	}
	size := b.currentOffset + int64(len(magic))
	if err := b.file.Close(); err != nil {
		return nil, err
	}

	return &SSTable{
		path:           b.path,
		fencePointers:  b.fencePointers,
		restartOffsets: b.restartOffsets,
		hashIndices:    b.hashIndices,
		bloom:          b.filter,
		itemCount:      b.itemCount,
		size:           size,
		refCount:       1,
	}, nil
}
