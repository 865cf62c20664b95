package sstable

import "encoding/binary"

// deltaEncodedKV is the on-disk representation of one entry within a block:
// the key is stored as a shared prefix length plus the unshared suffix,
// relative to whatever key preceded it in the block.
type deltaEncodedKV struct {
	sharedLen   int
	unsharedLen int
	valueLen    int
	keySuffix   []byte
	value       []byte
}

// encodeDelta computes the delta encoding of key/value relative to prev.
// prev == nil forces a zero shared prefix, which is required at every
// restart boundary.
func encodeDelta(prev, key, value []byte) deltaEncodedKV {
	shared := 0
	if prev != nil {
		min := len(prev)
		if len(key) < min {
			min = len(key)
		}
		for shared < min && prev[shared] == key[shared] {
			shared++
		}
	}
	return deltaEncodedKV{
		sharedLen:   shared,
		unsharedLen: len(key) - shared,
		valueLen:    len(value),
		keySuffix:   key[shared:],
		value:       value,
	}
}

// size returns the encoded byte length without allocating the buffer.
func (d deltaEncodedKV) size() int {
	var hdr [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], uint64(d.sharedLen))
	n += binary.PutUvarint(hdr[:], uint64(d.unsharedLen))
	n += binary.PutUvarint(hdr[:], uint64(d.valueLen))
	return n + len(d.keySuffix) + len(d.value)
}

// appendTo appends the wire encoding of d to buf, returning the grown slice.
func (d deltaEncodedKV) appendTo(buf []byte) []byte {
	var hdr [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], uint64(d.sharedLen))
	buf = append(buf, hdr[:n]...)
	n = binary.PutUvarint(hdr[:], uint64(d.unsharedLen))
	buf = append(buf, hdr[:n]...)
	n = binary.PutUvarint(hdr[:], uint64(d.valueLen))
	buf = append(buf, hdr[:n]...)
	buf = append(buf, d.keySuffix...)
	buf = append(buf, d.value...)
	return buf
}

// decodeDeltaAt decodes one entry starting at byte offset off in data,
// returning the decoded fields and the number of bytes consumed.
func decodeDeltaAt(data []byte, off int) (deltaEncodedKV, int, error) {
	if off < 0 || off >= len(data) {
		return deltaEncodedKV{}, 0, ErrBadEncoding
	}
	buf := data[off:]

	shared, n1 := binary.Uvarint(buf)
	if n1 <= 0 {
		return deltaEncodedKV{}, 0, ErrBadEncoding
	}
	unshared, n2 := binary.Uvarint(buf[n1:])
	if n2 <= 0 {
		return deltaEncodedKV{}, 0, ErrBadEncoding
	}
	valueLen, n3 := binary.Uvarint(buf[n1+n2:])
	if n3 <= 0 {
		return deltaEncodedKV{}, 0, ErrBadEncoding
	}

	hdrLen := n1 + n2 + n3
	need := hdrLen + int(unshared) + int(valueLen)
	if need > len(buf) {
		return deltaEncodedKV{}, 0, ErrBadEncoding
	}

	keySuffix := buf[hdrLen : hdrLen+int(unshared)]
	value := buf[hdrLen+int(unshared) : need]

	return deltaEncodedKV{
		sharedLen:   int(shared),
		unsharedLen: int(unshared),
		valueLen:    int(valueLen),
		keySuffix:   keySuffix,
		value:       value,
	}, need, nil
}

// resolveKey reconstructs the full key given the running previous key.
// An entry with sharedLen == 0 (as at every restart boundary) resolves to
// its suffix alone, whatever prev holds; any other entry needs a prev at
// least sharedLen bytes long.
func resolveKey(prev []byte, d deltaEncodedKV) ([]byte, error) {
	if d.sharedLen == 0 {
		return d.keySuffix, nil
	}
	if prev == nil || d.sharedLen > len(prev) {
		return nil, ErrBadEncoding
	}
	full := make([]byte, 0, d.sharedLen+d.unsharedLen)
	full = append(full, prev[:d.sharedLen]...)
	full = append(full, d.keySuffix...)
	return full, nil
}
