package pool

import (
	"errors"
	"sync"
	"testing"
)

func newRoot(t *testing.T, opts ...Option) *Pool {
	t.Helper()
	p, err := New(opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestAllocBytes(t *testing.T) {
	p := newRoot(t, WithChunkSize(64))

	b := p.AllocBytes(10)
	if len(b) != 10 {
		t.Fatalf("AllocBytes(10) length = %d, want 10", len(b))
	}
	if p.AllocBytes(0) != nil {
		t.Error("AllocBytes(0) should return nil")
	}
	if p.AllocBytes(-1) != nil {
		t.Error("AllocBytes(-1) should return nil")
	}

	// Larger than a chunk forces a dedicated chunk.
	big := p.AllocBytes(200)
	if len(big) != 200 {
		t.Fatalf("AllocBytes(200) length = %d, want 200", len(big))
	}
	if got := p.Metrics().NumChunks; got != 2 {
		t.Errorf("NumChunks = %d, want 2", got)
	}
}

func TestAllocationsDoNotOverlap(t *testing.T) {
	p := newRoot(t, WithChunkSize(32))

	var bufs [][]byte
	for i := 0; i < 20; i++ {
		b := p.AllocBytes(7)
		for j := range b {
			b[j] = byte(i)
		}
		bufs = append(bufs, b)
	}
	for i, b := range bufs {
		for j, v := range b {
			if v != byte(i) {
				t.Fatalf("buf[%d][%d] = %d, want %d", i, j, v, i)
			}
		}
	}
}

func TestStrdupAndCopyBytes(t *testing.T) {
	p := newRoot(t)

	src := []byte("tile-data")
	cp := p.CopyBytes(src)
	src[0] = 'X'
	if string(cp) != "tile-data" {
		t.Errorf("CopyBytes = %q, want %q", cp, "tile-data")
	}
	if s := p.Strdup("EPSG:4326"); s != "EPSG:4326" {
		t.Errorf("Strdup = %q", s)
	}
	if s := p.Strdup(""); s != "" {
		t.Errorf("Strdup(\"\") = %q, want empty", s)
	}
}

func TestDestroyRecursesChildrenFirst(t *testing.T) {
	root := newRoot(t)
	child, err := root.NewChild()
	if err != nil {
		t.Fatalf("NewChild: %v", err)
	}
	grandchild, err := child.NewChild()
	if err != nil {
		t.Fatalf("NewChild: %v", err)
	}

	var order []string
	root.RegisterCleanup(func() { order = append(order, "root") })
	child.RegisterCleanup(func() { order = append(order, "child") })
	grandchild.RegisterCleanup(func() { order = append(order, "grandchild") })

	root.Destroy()

	want := []string{"grandchild", "child", "root"}
	if len(order) != len(want) {
		t.Fatalf("cleanup order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
	if !child.Destroyed() || !grandchild.Destroyed() {
		t.Error("descendants should be marked destroyed")
	}
}

func TestCleanupsRunLIFO(t *testing.T) {
	p := newRoot(t)
	var order []int
	for i := 0; i < 3; i++ {
		p.RegisterCleanup(func() { order = append(order, i) })
	}
	p.Destroy()
	if len(order) != 3 || order[0] != 2 || order[1] != 1 || order[2] != 0 {
		t.Errorf("cleanup order = %v, want [2 1 0]", order)
	}
}

func TestDestroyChildDetaches(t *testing.T) {
	root := newRoot(t)
	child, err := root.NewChild()
	if err != nil {
		t.Fatalf("NewChild: %v", err)
	}
	if root.NumChildren() != 1 {
		t.Fatalf("NumChildren = %d, want 1", root.NumChildren())
	}
	child.Destroy()
	if root.NumChildren() != 0 {
		t.Errorf("NumChildren after child.Destroy = %d, want 0", root.NumChildren())
	}
	if root.Destroyed() {
		t.Error("destroying a child must not destroy the parent")
	}
}

func TestDoubleDestroyPanics(t *testing.T) {
	p := newRoot(t)
	p.Destroy()

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic on second Destroy")
		}
	}()
	p.Destroy()
}

func TestDestroyChildAfterParentPanics(t *testing.T) {
	root := newRoot(t)
	child, err := root.NewChild()
	if err != nil {
		t.Fatalf("NewChild: %v", err)
	}
	root.Destroy()

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic destroying a child already freed by its parent")
		}
	}()
	child.Destroy()
}

func TestUseAfterDestroyPanics(t *testing.T) {
	p := newRoot(t)
	p.Destroy()

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic after Destroy")
		}
	}()
	p.AllocBytes(8)
}

func TestNewChildOfDestroyedPool(t *testing.T) {
	p := newRoot(t)
	p.Destroy()

	if _, err := p.NewChild(); !errors.Is(err, ErrDestroyed) {
		t.Errorf("NewChild error = %v, want ErrDestroyed", err)
	}
}

func TestBudgetExhaustion(t *testing.T) {
	root := newRoot(t, WithChunkSize(128), WithMaxBytes(256))

	child, err := root.NewChild()
	if err != nil {
		t.Fatalf("first NewChild: %v", err)
	}
	if _, err := root.NewChild(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("second NewChild error = %v, want ErrExhausted", err)
	}

	// Destroying returns the child's chunks to the budget.
	child.Destroy()
	if _, err := root.NewChild(); err != nil {
		t.Errorf("NewChild after release: %v", err)
	}
}

func TestAllocPanicsWhenBudgetExhausted(t *testing.T) {
	root := newRoot(t, WithChunkSize(64), WithMaxBytes(64))

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrExhausted) {
			t.Errorf("recovered %v, want ErrExhausted", r)
		}
	}()
	root.AllocBytes(1024)
}

func TestBudgetUsedTracksTree(t *testing.T) {
	root := newRoot(t, WithChunkSize(100))
	if got := root.BudgetUsed(); got != 100 {
		t.Fatalf("BudgetUsed = %d, want 100", got)
	}
	child, _ := root.NewChild()
	if got := root.BudgetUsed(); got != 200 {
		t.Fatalf("BudgetUsed = %d, want 200", got)
	}
	child.Destroy()
	if got := root.BudgetUsed(); got != 100 {
		t.Errorf("BudgetUsed after child destroy = %d, want 100", got)
	}
}

func TestConcurrentChildren(t *testing.T) {
	root := newRoot(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Go(func() {
			c, err := root.NewChild()
			if err != nil {
				t.Errorf("NewChild: %v", err)
				return
			}
			c.AllocBytes(512)
			c.Destroy()
		})
	}
	wg.Wait()

	if n := root.NumChildren(); n != 0 {
		t.Errorf("NumChildren = %d, want 0", n)
	}
}

func TestMetrics(t *testing.T) {
	p := newRoot(t, WithChunkSize(1024))
	p.AllocBytes(100)

	m := p.Metrics()
	if m.SizeInUse < 100 {
		t.Errorf("SizeInUse = %d, want >= 100", m.SizeInUse)
	}
	if m.Capacity != 1024 {
		t.Errorf("Capacity = %d, want 1024", m.Capacity)
	}
	if m.ChunkSize != 1024 {
		t.Errorf("ChunkSize = %d, want 1024", m.ChunkSize)
	}
	if m.Utilization <= 0 || m.Utilization > 1 {
		t.Errorf("Utilization = %f, want (0,1]", m.Utilization)
	}
}
