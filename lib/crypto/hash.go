package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

const HashSize = sha256.Size

var (
	// ZeroHash is the sentinel used where no predecessor exists (genesis tick, first checkpoint, empty tx root)
	ZeroHash = make([]byte, HashSize)
)

// Hasher() returns the global hashing algorithm
func Hasher() hash.Hash { return sha256.New() }

// Hash() executes the global hashing algorithm on input bytes
func Hash(msg []byte) []byte {
	h := sha256.Sum256(msg)
	return h[:]
}

// HashString() returns the hex version of a hash
func HashString(msg []byte) string { return hex.EncodeToString(Hash(msg)) }

// DomainHash() hashes parts under a domain tag. Both the tag and each part are length prefixed so no two distinct
// (domain, parts) inputs share a preimage
func DomainHash(domain string, parts ...[]byte) []byte {
	h, lenBuf := Hasher(), make([]byte, 0, binary.MaxVarintLen64)
	h.Write(binary.AppendUvarint(lenBuf, uint64(len(domain))))
	h.Write([]byte(domain))
	for _, p := range parts {
		h.Write(binary.AppendUvarint(lenBuf[:0], uint64(len(p))))
		h.Write(p)
	}
	return h.Sum(nil)
}

// MerkleRoot() computes the root of a binary merkle tree over items, stored as a linear slice
// example: items = {a, b, c, d} -> {H(a), H(b), H(c), H(d), H(H(a),H(b)), H(H(c),H(d)), root}
// An empty list has the zero root
func MerkleRoot(items [][]byte) []byte {
	if len(items) == 0 {
		return append([]byte(nil), ZeroHash...)
	}
	offset := nextPowerOfTwo(len(items))
	size := offset*2 - 1
	store := make([][]byte, size)
	for i, item := range items {
		store[i] = Hash(item)
	}
	for i := 0; i < size-1; i += 2 {
		switch {
		case store[i] == nil:
			store[offset] = nil
		case store[i+1] == nil:
			// no right child, the left is paired with itself
			store[offset] = Hash(concat(store[i], store[i]))
		default:
			store[offset] = Hash(concat(store[i], store[i+1]))
		}
		offset++
	}
	return store[size-1]
}

// nextPowerOfTwo() calculates the smallest power of 2 that is greater than or equal to the input value
func nextPowerOfTwo(v int) int {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}

func concat(a, b []byte) []byte {
	out := make([]byte, len(a)+len(b))
	copy(out, a)
	copy(out[len(a):], b)
	return out
}
