package kernel

import (
	"crypto/sha256"
	"encoding/binary"
)

// deterministicRandom derives a value from hash(world_seed || tick ||
// purpose_tag), as required by §4.2: no wall-clock or process-local RNG
// ever enters kernel logic.
func deterministicRandom(worldSeed []byte, tick uint64, purpose string) []byte {
	h := sha256.New()
	h.Write(worldSeed)
	var tb [8]byte
	binary.BigEndian.PutUint64(tb[:], tick)
	h.Write(tb[:])
	h.Write([]byte(purpose))
	return h.Sum(nil)
}

// deterministicUint64 folds a deterministicRandom digest into a uint64,
// useful for selecting among a small deterministic set of outcomes.
func deterministicUint64(worldSeed []byte, tick uint64, purpose string) uint64 {
	d := deterministicRandom(worldSeed, tick, purpose)
	return binary.BigEndian.Uint64(d[:8])
}
