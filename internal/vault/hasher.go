package vault

import (
	"crypto/sha256"
	"encoding/binary"
)

const genesisHashSeed = "CoreVault:genesis:v1"

// stateHasher computes the deterministic hash chain over applied events.
type stateHasher struct {
	prevHash [32]byte
}

func newStateHasher() *stateHasher {
	return &stateHasher{prevHash: sha256.Sum256([]byte(genesisHashSeed))}
}

// computeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || digest)
// and advances the chain tip.
func (h *stateHasher) computeHash(sequence int64, digest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(digest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

func (h *stateHasher) tip() [32]byte {
	return h.prevHash
}

func (h *stateHasher) restore(tip [32]byte) {
	h.prevHash = tip
}
