package sstable

import (
	"bytes"

	"github.com/Priyanshu23/byronkv/keyvalue"
)

const (
	// blockSize is the soft budget a sealed block is built against.
	blockSize = 4096

	// restartInterval is how often (in entries) a block resets its shared
	// prefix to zero and records a new restart offset.
	restartInterval = 16
)

// restartKeyAt decodes the full key stored at a restart offset. Restart
// entries always carry sharedLen == 0, since the shared prefix is reset to
// empty there.
func restartKeyAt(data []byte, offset int) ([]byte, error) {
	dkv, _, err := decodeDeltaAt(data, offset)
	if err != nil {
		return nil, err
	}
	if dkv.sharedLen != 0 {
		return nil, ErrBadEncoding
	}
	return dkv.keySuffix, nil
}

// searchBlock implements the in-block lookup: try the hash index for an
// exact restart-boundary hit, then fall back to a linear scan starting at
// the last restart whose key is <= target.
func searchBlock(data []byte, restartOffsets []int, hashIndex map[string]int, key []byte) ([]byte, bool, error) {
	if ridx, ok := hashIndex[string(key)]; ok {
		full, err := restartKeyAt(data, restartOffsets[ridx])
		if err != nil {
			return nil, false, err
		}
		if bytes.Equal(full, key) {
			dkv, _, err := decodeDeltaAt(data, restartOffsets[ridx])
			if err != nil {
				return nil, false, err
			}
			return dkv.value, true, nil
		}
	}

	startRestart := 0
	for i, off := range restartOffsets {
		rkey, err := restartKeyAt(data, off)
		if err != nil {
			return nil, false, err
		}
		if bytes.Compare(rkey, key) <= 0 {
			startRestart = i
		} else {
			break
		}
	}

	offset := restartOffsets[startRestart]
	var prev []byte
	localIdx := 0
	for offset < len(data) {
		dkv, n, err := decodeDeltaAt(data, offset)
		if err != nil {
			return nil, false, err
		}
		if localIdx%restartInterval == 0 && dkv.sharedLen != 0 {
			return nil, false, ErrBadEncoding
		}
		full, err := resolveKey(prev, dkv)
		if err != nil {
			return nil, false, err
		}
		switch bytes.Compare(full, key) {
		case 0:
			return dkv.value, true, nil
		case 1:
			return nil, false, nil
		}
		prev = full
		offset += n
		localIdx++
	}
	return nil, false, nil
}

// iterateBlock decodes every entry of a sealed block in order, calling
// yield for each. It stops early, without error, if yield returns false.
func iterateBlock(data []byte, yield func(keyvalue.KeyValue) bool) error {
	var prev []byte
	offset := 0
	localIdx := 0
	for offset < len(data) {
		dkv, n, err := decodeDeltaAt(data, offset)
		if err != nil {
			return err
		}
		if localIdx%restartInterval == 0 && dkv.sharedLen != 0 {
			return ErrBadEncoding
		}
		full, err := resolveKey(prev, dkv)
		if err != nil {
			return err
		}
		value := append([]byte(nil), dkv.value...)
		if !yield(keyvalue.KeyValue{Key: full, Value: value}) {
			return nil
		}
		prev = full
		offset += n
		localIdx++
	}
	return nil
}
