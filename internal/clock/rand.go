package clock

import (
	"math/rand"
	"sync"
	"time"
)

// Rand is the randomness capability handed to the simulators. Float64
// returns a value in [0, 1). *math/rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

// NewRand returns a goroutine-safe Rand seeded with seed. A zero seed
// picks a time-based one.
func NewRand(seed int64) Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// Fixed returns a Rand that cycles through values. Used to force a
// branch, e.g. Fixed(0.99) never trips a 0.2 failure probability.
func Fixed(values ...float64) Rand {
	if len(values) == 0 {
		values = []float64{0}
	}
	return &fixedRand{values: values}
}

type fixedRand struct {
	mu     sync.Mutex
	values []float64
	next   int
}

func (f *fixedRand) Float64() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.values[f.next%len(f.values)]
	f.next++
	return v
}
