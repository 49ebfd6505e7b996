package history

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// DefaultCapacity is the number of samples kept for live plots.
const DefaultCapacity = 500

// Snapshot is a point-in-time copy of the buffer contents ordered from the
// oldest to the newest entry. The three slices always have the same length
// and index i in each refers to the same sample. Absent readings are NaN.
type Snapshot struct {
	Times        []time.Time
	Temperatures []float64
	Gases        []float64
}

// Len returns the number of entries in the snapshot.
func (s Snapshot) Len() int {
	return len(s.Times)
}

// Buffer implements a thread-safe fixed capacity rolling store of the
// temperature and gas series used for live visualization. It keeps three
// parallel ring buffers sharing one head and size, so the series can never
// drift apart. Once full, every Append evicts the oldest entry.
type Buffer struct {
	capacity int

	mu    sync.Mutex
	times []time.Time
	temps []float64
	gases []float64
	head  int // index of the oldest entry
	size  int
}

// NewBuffer creates a history buffer holding up to capacity entries.
// Returns an error if capacity is not positive.
func NewBuffer(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid buffer capacity: %d", capacity)
	}

	return &Buffer{
		capacity: capacity,
		times:    make([]time.Time, capacity),
		temps:    make([]float64, capacity),
		gases:    make([]float64, capacity),
	}, nil
}

// Append adds one entry. A nil or infinite reading is stored as NaN so
// consumers can render a gap rather than compress the time axis.
func (b *Buffer) Append(t time.Time, temperature, gas *float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := (b.head + b.size) % b.capacity
	if b.size == b.capacity {
		b.head = (b.head + 1) % b.capacity
	} else {
		b.size++
	}

	b.times[idx] = t
	b.temps[idx] = valueOrNaN(temperature)
	b.gases[idx] = valueOrNaN(gas)
}

// Snapshot returns a copy of the buffered series, oldest first.
func (b *Buffer) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		Times:        make([]time.Time, b.size),
		Temperatures: make([]float64, b.size),
		Gases:        make([]float64, b.size),
	}

	for i := 0; i < b.size; i++ {
		idx := (b.head + i) % b.capacity
		s.Times[i] = b.times[idx]
		s.Temperatures[i] = b.temps[idx]
		s.Gases[i] = b.gases[idx]
	}

	return s
}

func valueOrNaN(v *float64) float64 {
	if v == nil || math.IsInf(*v, 0) {
		return math.NaN()
	}
	return *v
}
