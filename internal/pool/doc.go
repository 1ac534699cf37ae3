// Package pool implements hierarchical memory pools (arenas).
//
// A Pool hands out memory from a chunked bump allocator and owns a set of
// child pools. Destroying a pool destroys its children first, then runs the
// cleanups registered on it, then drops its chunks. Memory obtained from a
// pool is only valid while the pool is alive.
//
//	root, err := pool.New()
//	if err != nil {
//		return err
//	}
//	req, err := root.NewChild()
//	if err != nil {
//		return err
//	}
//	defer req.Destroy()
//
//	body := req.CopyBytes(payload)
//
// Pools are not safe for concurrent allocation. Creating and destroying
// children is synchronized, so a child may be created from a different
// goroutine than the one that owns the parent.
//
// A tree may share a byte budget (see WithMaxBytes). When the budget cannot
// cover a new chunk, NewChild returns ErrExhausted and allocation panics with
// ErrExhausted.
package pool
