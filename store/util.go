package store

import "encoding/binary"

var (
	blockPrefix      = []byte("b/") // blocks by height
	blockHashPrefix  = []byte("h/") // block hash to height index
	qcPrefix         = []byte("q/") // commit certificates by height
	commitIDPrefix   = []byte("x/") // commit ids by height
	lastCommitIDKey  = []byte("a/") // the latest commit id for easy access
	checkpointPrefix = []byte("k/") // checkpoint certificates by height
)

// heightKey() appends the big endian height so keys under a prefix iterate in height order
func heightKey(prefix []byte, height uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], height)
	return key
}

// heightFromKey() is the inverse of heightKey()
func heightFromKey(prefix, key []byte) uint64 {
	if len(key) != len(prefix)+8 {
		return 0
	}
	return binary.BigEndian.Uint64(key[len(prefix):])
}

func hashKey(hash []byte) []byte { return append(append([]byte{}, blockHashPrefix...), hash...) }

// PrefixEndBytes() returns the first key after every key that starts with prefix
func PrefixEndBytes(prefix []byte) []byte {
	if len(prefix) == 0 {
		return []byte{byte(255)}
	}
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for {
		if end[len(end)-1] != byte(255) {
			end[len(end)-1]++
			break
		} else {
			end = end[:len(end)-1]
			if len(end) == 0 {
				end = nil
				break
			}
		}
	}
	return end
}
