package pool

import (
	"errors"
	"sync"
	"sync/atomic"
	"unsafe"
)

// DefaultChunkSize is the default chunk size for new pools (8 KiB).
const DefaultChunkSize = 8 << 10

var (
	// ErrExhausted is returned (or panicked with) when the pool tree's byte
	// budget cannot cover a new chunk.
	ErrExhausted = errors.New("could not allocate arena")

	// ErrDestroyed is returned when creating a child of a destroyed pool.
	ErrDestroyed = errors.New("pool: parent destroyed")
)

// chunk is a single block of backing memory.
type chunk struct {
	buf    []byte
	offset uintptr
}

// budget is the byte allowance shared by every pool in a tree.
type budget struct {
	max  int64
	used atomic.Int64
}

func (b *budget) reserve(n int) bool {
	if b.max <= 0 {
		b.used.Add(int64(n))
		return true
	}
	for {
		cur := b.used.Load()
		if cur+int64(n) > b.max {
			return false
		}
		if b.used.CompareAndSwap(cur, cur+int64(n)) {
			return true
		}
	}
}

func (b *budget) release(n int) {
	b.used.Add(-int64(n))
}

// Option configures a root pool.
type Option func(*options)

type options struct {
	chunkSize int
	maxBytes  int64
}

// WithChunkSize sets the chunk size used by the root and all its descendants.
// Values <= 0 select DefaultChunkSize.
func WithChunkSize(n int) Option {
	return func(o *options) { o.chunkSize = n }
}

// WithMaxBytes caps the total chunk memory held by the whole tree.
// Zero means unlimited.
func WithMaxBytes(n int64) Option {
	return func(o *options) { o.maxBytes = n }
}

// Pool is a node in a tree of arenas.
type Pool struct {
	parent    *Pool
	budget    *budget
	chunkSize int

	chunks   []chunk
	current  *chunk
	reserved int
	cleanups []func()

	mu        sync.Mutex // guards children
	children  map[*Pool]struct{}
	destroyed atomic.Bool
}

// New creates a root pool.
func New(opts ...Option) (*Pool, error) {
	o := options{chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.chunkSize <= 0 {
		o.chunkSize = DefaultChunkSize
	}
	return newPool(nil, &budget{max: o.maxBytes}, o.chunkSize)
}

func newPool(parent *Pool, b *budget, chunkSize int) (*Pool, error) {
	p := &Pool{
		parent:    parent,
		budget:    b,
		chunkSize: chunkSize,
		children:  make(map[*Pool]struct{}),
	}
	if !p.grow(chunkSize) {
		return nil, ErrExhausted
	}
	return p, nil
}

// NewChild creates a pool owned by p. The child is destroyed no later than p.
func (p *Pool) NewChild() (*Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed.Load() {
		return nil, ErrDestroyed
	}
	child, err := newPool(p, p.budget, p.chunkSize)
	if err != nil {
		return nil, err
	}
	p.children[child] = struct{}{}
	return child, nil
}

// Parent returns the owning pool, or nil for a root.
func (p *Pool) Parent() *Pool {
	return p.parent
}

// NumChildren returns the number of live children.
func (p *Pool) NumChildren() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.children)
}

// Destroyed reports whether the pool has been destroyed, either directly or
// through an ancestor.
func (p *Pool) Destroyed() bool {
	return p.destroyed.Load()
}

// RegisterCleanup arranges for fn to run when the pool is destroyed.
// Cleanups run in reverse registration order, after all children are gone.
func (p *Pool) RegisterCleanup(fn func()) {
	p.panicIfDestroyed()
	p.cleanups = append(p.cleanups, fn)
}

// Destroy frees every descendant, runs cleanups and drops all memory.
// Destroying a pool twice panics.
func (p *Pool) Destroy() {
	if !p.destroyed.CompareAndSwap(false, true) {
		panic("pool: Destroy called on a destroyed pool")
	}
	p.teardown()
	if p.parent != nil {
		p.parent.detach(p)
	}
}

// teardown assumes p is already marked destroyed.
func (p *Pool) teardown() {
	p.mu.Lock()
	kids := p.children
	p.children = nil
	p.mu.Unlock()

	for kid := range kids {
		if kid.destroyed.CompareAndSwap(false, true) {
			kid.teardown()
		}
	}

	for i := len(p.cleanups) - 1; i >= 0; i-- {
		p.cleanups[i]()
	}
	p.cleanups = nil

	p.budget.release(p.reserved)
	p.reserved = 0
	p.chunks = nil
	p.current = nil
}

func (p *Pool) detach(child *Pool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.children, child)
}

// AllocBytes returns n bytes of pool memory. The contents are not zeroed.
// Returns nil if n <= 0.
func (p *Pool) AllocBytes(n int) []byte {
	if n <= 0 {
		return nil
	}
	p.panicIfDestroyed()

	if c := p.current; c != nil {
		off := alignPtr(c.offset)
		if off+uintptr(n) <= uintptr(len(c.buf)) {
			c.offset = off + uintptr(n)
			return unsafe.Slice((*byte)(unsafe.Pointer(&c.buf[off])), n)
		}
	}

	if !p.grow(n) {
		panic(ErrExhausted)
	}
	c := p.current
	c.offset = uintptr(n)
	return c.buf[:n:n]
}

// CopyBytes copies b into pool memory.
func (p *Pool) CopyBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	dst := p.AllocBytes(len(b))
	copy(dst, b)
	return dst
}

// Strdup copies s into pool memory and returns a string backed by it.
func (p *Pool) Strdup(s string) string {
	if s == "" {
		return ""
	}
	b := p.AllocBytes(len(s))
	copy(b, s)
	return unsafe.String(&b[0], len(b))
}

// grow appends a chunk of at least min bytes, charging the budget.
func (p *Pool) grow(min int) bool {
	size := p.chunkSize
	if min > size {
		size = min
	}
	if !p.budget.reserve(size) {
		return false
	}
	p.reserved += size
	p.chunks = append(p.chunks, chunk{buf: make([]byte, size)})
	p.current = &p.chunks[len(p.chunks)-1]
	return true
}

func (p *Pool) panicIfDestroyed() {
	if p.destroyed.Load() {
		panic("pool: use after Destroy()")
	}
}

// alignPtr aligns the offset up to pointer size alignment.
func alignPtr(off uintptr) uintptr {
	const align = unsafe.Sizeof(uintptr(0))
	mask := align - 1
	return (off + mask) & ^mask
}
