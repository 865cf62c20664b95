package sstable

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/Priyanshu23/byronkv/keyvalue"
)

func addN(t *testing.T, b *StreamingBuilder, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		val := []byte(fmt.Sprintf("val-%05d", i))
		if err := b.Add(keyvalue.KeyValue{Key: key, Value: val}); err != nil {
			t.Fatalf("Add(%d): %v", i, err)
		}
	}
}

func TestBuilderRejectsBadFPR(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewStreamingBuilder(filepath.Join(dir, "a.sst"), 10, 0, true); err != ErrInvalidFalsePositiveRate {
		t.Fatalf("err = %v, want ErrInvalidFalsePositiveRate", err)
	}
	if _, err := NewStreamingBuilder(filepath.Join(dir, "b.sst"), 10, 1, true); err != ErrInvalidFalsePositiveRate {
		t.Fatalf("err = %v, want ErrInvalidFalsePositiveRate", err)
	}
	if _, err := NewStreamingBuilder(filepath.Join(dir, "c.sst"), -1, 0.01, true); err != ErrInvalidItemCount {
		t.Fatalf("err = %v, want ErrInvalidItemCount", err)
	}
}

func TestBuilderRejectsEmptyKey(t *testing.T) {
	dir := t.TempDir()
	b, err := NewStreamingBuilder(filepath.Join(dir, "a.sst"), 10, 0.01, true)
	if err != nil {
		t.Fatalf("NewStreamingBuilder: %v", err)
	}
	if err := b.Add(keyvalue.KeyValue{Key: nil, Value: []byte("v")}); err != ErrEmptyKey {
		t.Fatalf("err = %v, want ErrEmptyKey", err)
	}
}

func TestBuilderFinalizeProducesFencePointers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.sst")
	b, err := NewStreamingBuilder(path, 500, 0.01, true)
	if err != nil {
		t.Fatalf("NewStreamingBuilder: %v", err)
	}
	addN(t, b, 500)

	sst, err := b.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if sst.ItemCount() != 500 {
		t.Fatalf("ItemCount = %d, want 500", sst.ItemCount())
	}
	if len(sst.fencePointers) == 0 {
		t.Fatalf("expected at least one fence pointer")
	}
	if sst.fencePointers[0].Offset != int64(len(magic)) {
		t.Fatalf("first fence offset = %d, want %d", sst.fencePointers[0].Offset, len(magic))
	}
	if len(sst.fencePointers) < 2 {
		t.Fatalf("expected multiple blocks for 500 entries, got %d fence pointers", len(sst.fencePointers))
	}
	for i := 1; i < len(sst.fencePointers); i++ {
		prev, cur := sst.fencePointers[i-1], sst.fencePointers[i]
		if cur.Offset <= prev.Offset {
			t.Fatalf("fence offsets not strictly increasing at %d: %d <= %d", i, cur.Offset, prev.Offset)
		}
		if string(cur.FirstKey) <= string(prev.FirstKey) {
			t.Fatalf("fence first keys not increasing at %d: %q <= %q", i, cur.FirstKey, prev.FirstKey)
		}
	}
	for _, restarts := range sst.restartOffsets {
		if len(restarts) == 0 || restarts[0] != 0 {
			t.Fatalf("block restarts must start at offset 0: %v", restarts)
		}
	}
}

func TestBuilderRoundTripsThroughGet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.sst")
	b, err := NewStreamingBuilder(path, 500, 0.01, true)
	if err != nil {
		t.Fatalf("NewStreamingBuilder: %v", err)
	}
	addN(t, b, 500)
	sst, err := b.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	for _, i := range []int{0, 1, 16, 17, 250, 498, 499} {
		key := []byte(fmt.Sprintf("key-%05d", i))
		want := fmt.Sprintf("val-%05d", i)
		got, err := sst.Get(key)
		if err != nil {
			t.Fatalf("Get(%s): %v", key, err)
		}
		if string(got) != want {
			t.Fatalf("Get(%s) = %q, want %q", key, got, want)
		}
	}

	if _, err := sst.Get([]byte("missing-key")); err != ErrKeyNotFound {
		t.Fatalf("err = %v, want ErrKeyNotFound", err)
	}
}

func TestBuilderDisabledBloomStillWorks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.sst")
	b, err := NewStreamingBuilder(path, 10, 0.01, false)
	if err != nil {
		t.Fatalf("NewStreamingBuilder: %v", err)
	}
	addN(t, b, 10)
	sst, err := b.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if sst.bloom != nil {
		t.Fatalf("expected no bloom filter when disabled")
	}
	got, err := sst.Get([]byte("key-00005"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "val-00005" {
		t.Fatalf("Get = %q, want %q", got, "val-00005")
	}
}
