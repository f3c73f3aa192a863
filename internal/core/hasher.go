package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "CoverLedger:genesis:v1"

// GenesisHash is the chain tip before the first command.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// ChainHash links one applied command to the chain:
//
//	SHA-256(prev || sequence LE || len(key) LE || key || digest)
//
// The key is length-prefixed so key and digest bytes cannot be shifted
// across the boundary.
func ChainHash(prev [32]byte, sequence int64, commandKey string, digest []byte) [32]byte {
	h := sha256.New()
	h.Write(prev[:])

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(sequence))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(len(commandKey)))
	h.Write(buf[:])
	h.Write([]byte(commandKey))
	h.Write(digest)

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// StateHasher holds the chain tip.
type StateHasher struct {
	prevHash [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: GenesisHash()}
}

// ComputeHash chains the next command and advances the tip.
func (h *StateHasher) ComputeHash(sequence int64, commandKey string, stateDigest []byte) [32]byte {
	h.prevHash = ChainHash(h.prevHash, sequence, commandKey, stateDigest)
	return h.prevHash
}

func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash resets the chain tip (snapshot restore).
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}
