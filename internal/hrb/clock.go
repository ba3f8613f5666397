package hrb

import (
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time; sessions and uploads are stamped from it.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator produces sync session identifiers.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random version 4 UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// Randomizer generates pseudo-random ObjectIDs from its own seeded source.
// It is not safe for concurrent use.
type Randomizer struct {
	rng *rand.Rand
}

// NewRandomizer seeds a Randomizer. Equal seeds produce equal sequences.
func NewRandomizer(seed uint64) *Randomizer {
	return &Randomizer{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// ObjectID returns the next random ObjectID.
func (r *Randomizer) ObjectID() ObjectID {
	var id ObjectID
	for i := 0; i < ObjectIDSize; i += 8 {
		v := r.rng.Uint64()
		for j := 0; j < 8 && i+j < ObjectIDSize; j++ {
			id[i+j] = byte(v >> (8 * j))
		}
	}
	return id
}

// Intn returns a value in [0, n).
func (r *Randomizer) Intn(n int) int {
	return r.rng.IntN(n)
}
