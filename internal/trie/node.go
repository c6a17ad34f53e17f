package trie

import (
	"crypto/sha256"
	"encoding/binary"
)

// HashSize is the size of a node hash and of the trie root.
const HashSize = sha256.Size

// node is one arena entry: a 16-way radix node addressed by the hash
// of its encoding. Children hold child node hashes by nibble; a node
// at the end of a key's nibble path may also carry that key's value.
type node struct {
	children [16][]byte
	value    []byte
	hasValue bool
}

// encode produces the canonical binary form hashed and persisted for
// this node: a big-endian child bitmap, the present child hashes in
// nibble order, then a value flag and the value bytes.
func (n *node) encode() []byte {
	size := 2 + 1
	var bitmap uint16
	for i, child := range n.children {
		if child != nil {
			bitmap |= 1 << uint(i)
			size += HashSize
		}
	}
	if n.hasValue {
		size += 4 + len(n.value)
	}

	enc := make([]byte, 0, size)
	enc = binary.BigEndian.AppendUint16(enc, bitmap)
	for _, child := range n.children {
		if child != nil {
			enc = append(enc, child...)
		}
	}
	if n.hasValue {
		enc = append(enc, 1)
		enc = binary.BigEndian.AppendUint32(enc, uint32(len(n.value)))
		enc = append(enc, n.value...)
	} else {
		enc = append(enc, 0)
	}
	return enc
}

// decodeNode parses a canonical node encoding. Any structural mismatch
// surfaces as ErrDecode in the caller.
func decodeNode(raw []byte) (*node, bool) {
	if len(raw) < 3 {
		return nil, false
	}
	bitmap := binary.BigEndian.Uint16(raw[:2])
	offset := 2
	n := &node{}
	for i := 0; i < 16; i++ {
		if bitmap&(1<<uint(i)) == 0 {
			continue
		}
		if offset+HashSize > len(raw) {
			return nil, false
		}
		hash := make([]byte, HashSize)
		copy(hash, raw[offset:offset+HashSize])
		n.children[i] = hash
		offset += HashSize
	}
	if offset >= len(raw) {
		return nil, false
	}
	switch raw[offset] {
	case 0:
		if offset+1 != len(raw) {
			return nil, false
		}
	case 1:
		offset++
		if offset+4 > len(raw) {
			return nil, false
		}
		length := binary.BigEndian.Uint32(raw[offset : offset+4])
		offset += 4
		if uint32(len(raw)-offset) != length {
			return nil, false
		}
		n.value = make([]byte, length)
		copy(n.value, raw[offset:])
		n.hasValue = true
	default:
		return nil, false
	}
	return n, true
}

// hashNode returns the arena address of an encoded node.
func hashNode(enc []byte) [HashSize]byte {
	return sha256.Sum256(enc)
}

// nibbles expands a key into its 4-bit path, high nibble first.
func nibbles(key []byte) []byte {
	out := make([]byte, 0, len(key)*2)
	for _, b := range key {
		out = append(out, b>>4, b&0x0f)
	}
	return out
}
