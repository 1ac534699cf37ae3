package pool

// Metrics contains statistical information about a single pool.
type Metrics struct {
	SizeInUse   int     // Bytes currently allocated
	Capacity    int     // Total capacity in bytes
	NumChunks   int     // Number of chunks
	ChunkSize   int     // Default chunk size
	Children    int     // Live child pools
	Utilization float64 // Ratio of used to total capacity (0.0-1.0)
}

// SizeInUse returns the number of bytes handed out by this pool, including
// alignment padding. Children are not included.
func (p *Pool) SizeInUse() int {
	sum := 0
	for _, c := range p.chunks {
		sum += int(c.offset)
	}
	return sum
}

// Capacity returns the total capacity of this pool's chunks.
func (p *Pool) Capacity() int {
	sum := 0
	for _, c := range p.chunks {
		sum += len(c.buf)
	}
	return sum
}

// BudgetUsed returns the chunk bytes held by the whole tree p belongs to.
func (p *Pool) BudgetUsed() int64 {
	return p.budget.used.Load()
}

// Metrics returns a snapshot of pool statistics.
func (p *Pool) Metrics() Metrics {
	capacity := p.Capacity()
	inUse := p.SizeInUse()
	var util float64
	if capacity > 0 {
		util = float64(inUse) / float64(capacity)
	}
	return Metrics{
		SizeInUse:   inUse,
		Capacity:    capacity,
		NumChunks:   len(p.chunks),
		ChunkSize:   p.chunkSize,
		Children:    p.NumChildren(),
		Utilization: util,
	}
}
