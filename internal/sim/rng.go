package sim

// RNG is the deterministic generator embedded in GameState. The cursor is the
// entire generator state, so a snapshot of GameState captures the exact
// position in the random stream and replaying a log reproduces every draw.
//
// splitmix64: a single uint64 of state keeps serialization trivial, unlike
// math/rand whose internal state cannot be round-tripped through a snapshot.
type RNG struct {
	Cursor uint64 `json:"cursor"`
}

// NewRNG seeds a generator. A zero seed is valid; splitmix64 has no weak
// states.
func NewRNG(seed uint64) RNG {
	return RNG{Cursor: seed}
}

func (r *RNG) next() uint64 {
	r.Cursor += 0x9e3779b97f4a7c15
	z := r.Cursor
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Intn draws a value in [0, n). n must be positive.
func (r *RNG) Intn(n int) int {
	if n <= 0 {
		panic("sim: Intn with non-positive n")
	}
	return int(r.next() % uint64(n))
}

// Float64 draws a value in [0, 1).
func (r *RNG) Float64() float64 {
	return float64(r.next()>>11) / (1 << 53)
}
