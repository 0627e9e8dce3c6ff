package bulkstore

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// FetchAndModify adds delta to the blob's reference count and returns the new
// count. A change that would make the count negative is rejected.
func (r *Registry[ID, P]) FetchAndModify(id ID, delta int64) (int64, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	if id == r.scheme.empty {
		return 0, nil
	}

	var (
		n   int64
		err error
	)
	ok := r.objects.View(id, func(p P) {
		rc := &p.base().refCnt
		for {
			old := rc.Load()
			next := old + delta
			if next < 0 {
				n = old
				err = objectError("fetch and modify", r.idString(id),
					fmt.Errorf("%w: reference count %d cannot change by %d", ErrUserInput, old, delta))
				return
			}
			if rc.CompareAndSwap(old, next) {
				n = next
				return
			}
		}
	})
	if !ok {
		return 0, objectError("fetch and modify", r.idString(id), ErrObjectNotExists)
	}
	return n, err
}

// lifecycle is what the dependency tracker drives on the owning store.
type lifecycle[ID comparable] interface {
	Exists(ID) bool
	FetchAndModify(ID, int64) (int64, error)
	OnRelease(ID) error
	OnDelete(ID) error
	// heat is called when a blob gains a dependent.
	heat(ID)
}

// dependencyTracker records which connections use which blobs. A blob with
// dependents is never released or deleted; the last dependent to go triggers
// OnRelease, or OnDelete when a delete was deferred by preDelete.
type dependencyTracker[ID comparable] struct {
	mu      sync.Mutex
	deps    map[ID]map[int64]struct{}
	conns   map[int64]map[ID]struct{}
	pending map[ID]struct{}
	format  func(ID) string
}

func newDependencyTracker[ID comparable](format func(ID) string) *dependencyTracker[ID] {
	return &dependencyTracker[ID]{
		deps:    make(map[ID]map[int64]struct{}),
		conns:   make(map[int64]map[ID]struct{}),
		pending: make(map[ID]struct{}),
		format:  format,
	}
}

// add makes conn a dependent of every id. It fails without changes if any id
// is unknown. Each new dependency takes one reference.
func (t *dependencyTracker[ID]) add(lc lifecycle[ID], ids []ID, conn int64) error {
	for _, id := range ids {
		if !lc.Exists(id) {
			return objectError("add dependency", t.format(id), ErrObjectNotExists)
		}
	}

	t.mu.Lock()
	var added []ID
	for _, id := range ids {
		c, ok := t.deps[id]
		if !ok {
			c = make(map[int64]struct{})
			t.deps[id] = c
		}
		if _, dup := c[conn]; dup {
			continue
		}
		c[conn] = struct{}{}
		held, ok := t.conns[conn]
		if !ok {
			held = make(map[ID]struct{})
			t.conns[conn] = held
		}
		held[id] = struct{}{}
		_, _ = lc.FetchAndModify(id, 1)
		added = append(added, id)
	}
	t.mu.Unlock()

	for _, id := range added {
		lc.heat(id)
	}
	return nil
}

// remove drops the dependency of conn on id and its reference.
func (t *dependencyTracker[ID]) remove(lc lifecycle[ID], id ID, conn int64) error {
	t.mu.Lock()
	c, ok := t.deps[id]
	if _, held := c[conn]; !ok || !held {
		t.mu.Unlock()
		return objectError("release", t.format(id),
			fmt.Errorf("%w: connection %s holds no dependency", ErrObjectNotExists, strconv.FormatInt(conn, 10)))
	}
	delete(c, conn)
	if ids := t.conns[conn]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(t.conns, conn)
		}
	}
	_, _ = lc.FetchAndModify(id, -1)

	last := len(c) == 0
	var pending bool
	if last {
		delete(t.deps, id)
		_, pending = t.pending[id]
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !last {
		return nil
	}
	if pending {
		return lc.OnDelete(id)
	}
	if err := lc.OnRelease(id); err != nil && !errors.Is(err, ErrObjectNotExists) {
		return err
	}
	return nil
}

// releaseConnection drops every dependency held by conn.
func (t *dependencyTracker[ID]) releaseConnection(lc lifecycle[ID], conn int64) error {
	t.mu.Lock()
	ids := make([]ID, 0, len(t.conns[conn]))
	for id := range t.conns[conn] {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := t.remove(lc, id, conn); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// preDelete deletes id now, or when its last dependent goes.
func (t *dependencyTracker[ID]) preDelete(lc lifecycle[ID], id ID) error {
	t.mu.Lock()
	if len(t.deps[id]) > 0 {
		t.pending[id] = struct{}{}
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()
	return lc.OnDelete(id)
}

// dependents returns the number of connections depending on id.
func (t *dependencyTracker[ID]) dependents(id ID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.deps[id])
}

// forget drops all state about id.
func (t *dependencyTracker[ID]) forget(id ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for conn := range t.deps[id] {
		if ids := t.conns[conn]; ids != nil {
			delete(ids, id)
			if len(ids) == 0 {
				delete(t.conns, conn)
			}
		}
	}
	delete(t.deps, id)
	delete(t.pending, id)
}
