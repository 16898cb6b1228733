package core

import (
	"crypto/sha256"
	"encoding/binary"
)

// GenesisHashSeed anchors the hash chain. The first envelope's PrevHash
// is the SHA-256 of this string.
const GenesisHashSeed = "BatchLedger:genesis:v1"

// StateHasher maintains the running hash chain over applied events.
// Each link commits to the previous hash, the global sequence and the
// digest of the state touched by the event, so two replicas that applied
// the same events in the same order hold the same head.
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher starts a chain at genesis.
func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: sha256.Sum256([]byte(GenesisHashSeed))}
}

// ComputeHash folds one event into the chain and advances the head.
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))

	hasher := sha256.New()
	hasher.Write(h.prevHash[:])
	hasher.Write(seqBuf[:])
	hasher.Write(stateDigest)

	var out [32]byte
	copy(out[:], hasher.Sum(nil))
	h.prevHash = out
	return out
}

// GetPrevHash returns the current chain head.
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash rewinds or restores the chain head, used when resuming
// from a snapshot.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}
