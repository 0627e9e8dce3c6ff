package bulkstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/bulkstore/blobstore"
	"github.com/hupe1980/bulkstore/internal/compress"
)

// spillPrefix namespaces spilled frames in the spill store.
const spillPrefix = "spill/"

type spilledBlob struct {
	name   string
	size   int64
	stored int64
}

type spillTier struct {
	store blobstore.Store
	codec compress.Codec

	mu      sync.Mutex
	spilled map[ObjectID]spilledBlob
}

func (t *spillTier) take(id ObjectID) (spilledBlob, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.spilled[id]
	if ok {
		delete(t.spilled, id)
	}
	return rec, ok
}

func (t *spillTier) put(id ObjectID, rec spilledBlob) {
	t.mu.Lock()
	t.spilled[id] = rec
	t.mu.Unlock()
}

func (s *Store) requireSpill() error {
	if s.spill.store == nil {
		return fmt.Errorf("%w: no spill store configured", ErrNotImplemented)
	}
	return nil
}

// Spill writes a sealed, owned heap blob without dependents to the spill
// store and frees its memory. The blob leaves the registry; Reload brings it
// back under a new ID.
func (s *Store) Spill(ctx context.Context, id ObjectID) error {
	if err := s.requireSpill(); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	p, ok := s.objects.Load(id)
	if !ok {
		return objectError("spill", id.String(), ErrObjectNotExists)
	}
	switch {
	case !p.IsSealed():
		return objectError("spill", id.String(), ErrObjectNotSealed)
	case !p.IsOwner() || p.IsGPU() || p.Kind() != KindMalloc:
		return objectError("spill", id.String(), fmt.Errorf("%w: only owned heap blobs can be spilled", ErrUserInput))
	case s.deps.dependents(id) > 0:
		return objectError("spill", id.String(), fmt.Errorf("%w: blob has dependents", ErrUserInput))
	}
	if !p.spilling.CompareAndSwap(false, true) {
		return objectError("spill", id.String(), fmt.Errorf("%w: spill already in flight", ErrUserInput))
	}

	start := time.Now()
	stored, err := s.spillBlob(ctx, id, p)
	s.metrics.RecordSpill(p.DataSize(), time.Since(start), err)
	s.log.LogSpill(ctx, "spill", id.String(), p.DataSize(), stored, err)
	return err
}

func (s *Store) spillBlob(ctx context.Context, id ObjectID, p *Payload) (int64, error) {
	rc := s.heap.rc
	if err := rc.AcquireSpill(ctx); err != nil {
		s.abortSpill(id, p)
		return 0, err
	}
	defer rc.ReleaseSpill()

	name := spillPrefix + id.String()
	frame, err := compress.Encode(s.spill.codec, p.Data())
	if err == nil {
		err = rc.AcquireIO(ctx, len(frame))
	}
	if err == nil {
		err = s.spill.store.Put(ctx, name, frame)
	}
	if err != nil {
		s.abortSpill(id, p)
		return 0, err
	}

	// Ownership may have moved away while the frame was written.
	var moved bool
	_, removed := s.objects.DeleteIf(id, func(cur *Payload) bool {
		if cur != p {
			return false
		}
		if !p.owner.Load() {
			moved = true
			p.spilling.Store(false)
			return false
		}
		return true
	})
	if moved {
		return 0, errors.Join(
			objectError("spill", id.String(), fmt.Errorf("%w: ownership changed during spill", ErrInvalidState)),
			s.spill.store.Delete(ctx, name),
		)
	}

	s.cold.Remove(id)
	if _, err := s.free(p); err != nil {
		return 0, err
	}
	if !removed {
		// Deleted while in flight.
		return int64(len(frame)), s.spill.store.Delete(ctx, name)
	}

	s.spill.put(id, spilledBlob{name: name, size: p.DataSize(), stored: int64(len(frame))})
	return int64(len(frame)), nil
}

// abortSpill clears the in-flight flag, or frees the blob if it was deleted
// while the spill ran.
func (s *Store) abortSpill(id ObjectID, p *Payload) {
	var present bool
	s.objects.View(id, func(cur *Payload) {
		if cur == p {
			present = true
			p.spilling.Store(false)
		}
	})
	if !present {
		_, _ = s.free(p)
	}
}

// Reload restores a spilled blob as a new sealed blob and removes the
// spilled copy. The new blob has a new address-derived ID.
func (s *Store) Reload(ctx context.Context, id ObjectID) (ObjectID, *Payload, error) {
	if err := s.requireSpill(); err != nil {
		return EmptyBlobID, nil, err
	}
	rec, ok := s.spill.take(id)
	if !ok {
		return EmptyBlobID, nil, objectError("reload", id.String(), ErrObjectNotExists)
	}

	start := time.Now()
	nid, p, err := s.reload(ctx, rec)
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		s.spill.put(id, rec)
	}
	s.log.LogSpill(ctx, "reload", id.String(), rec.size, rec.stored, err)
	if err != nil {
		return EmptyBlobID, nil, err
	}
	s.log.DebugContext(ctx, "reload placed", "id", id.String(), "new_id", nid.String(), "duration", time.Since(start))
	return nid, p, nil
}

func (s *Store) reload(ctx context.Context, rec spilledBlob) (ObjectID, *Payload, error) {
	frame, err := blobstore.ReadAll(ctx, s.spill.store, rec.name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return EmptyBlobID, nil, fmt.Errorf("%w: spilled frame %s is missing: %w", ErrInvalidState, rec.name, err)
		}
		return EmptyBlobID, nil, err
	}
	if err := s.heap.rc.AcquireIO(ctx, len(frame)); err != nil {
		return EmptyBlobID, nil, err
	}
	raw, err := compress.RawSize(frame)
	if err != nil {
		return EmptyBlobID, nil, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}

	nid, p, err := s.CreateContext(ctx, int64(raw))
	if err != nil {
		return EmptyBlobID, nil, err
	}
	if err := compress.Decode(frame, p.Data()); err != nil {
		_ = s.Registry.Delete(nid)
		return EmptyBlobID, nil, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if err := s.Seal(nid); err != nil {
		return EmptyBlobID, nil, err
	}

	if err := s.spill.store.Delete(ctx, rec.name); err != nil {
		s.log.WarnContext(ctx, "delete spilled frame failed", "name", rec.name, "error", err)
	}
	return nid, p, nil
}

// Spilled returns the IDs of spilled blobs in ascending order.
func (s *Store) Spilled() []ObjectID {
	s.spill.mu.Lock()
	ids := make([]ObjectID, 0, len(s.spill.spilled))
	for id := range s.spill.spilled {
		ids = append(ids, id)
	}
	s.spill.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// dropSpilled removes the spilled copy of id and reports whether there was one.
func (s *Store) dropSpilled(ctx context.Context, id ObjectID) (bool, error) {
	rec, ok := s.spill.take(id)
	if !ok {
		return false, nil
	}
	return true, s.spill.store.Delete(ctx, rec.name)
}

// Evict frees at least bytes of memory from cold blobs, coldest first, and
// returns the bytes freed. Blobs with dependents are skipped. Heap blobs are
// spilled when a spill store is configured, everything else is deleted.
func (s *Store) Evict(ctx context.Context, bytes int64) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	var (
		freed   atomic.Int64
		evicted atomic.Int64
		planned int64
		errs    []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.heap.rc.SpillWorkers()))

	for planned < bytes {
		id, size, ok := s.cold.PopColdest()
		if !ok {
			break
		}
		if s.deps.dependents(id) > 0 {
			continue
		}
		p, ok := s.objects.Load(id)
		if !ok {
			continue
		}
		planned += size

		if s.spill.store != nil && p.Kind() == KindMalloc && p.IsOwner() && !p.IsGPU() {
			g.Go(func() error {
				if err := s.Spill(gctx, id); err != nil {
					s.cold.Add(id, size)
					return err
				}
				freed.Add(size)
				evicted.Add(1)
				return nil
			})
			continue
		}

		if err := s.OnDelete(id); err != nil {
			if !errors.Is(err, ErrObjectNotExists) {
				errs = append(errs, err)
			}
			continue
		}
		freed.Add(size)
		evicted.Add(1)
	}

	errs = append(errs, g.Wait())
	err := errors.Join(errs...)

	s.metrics.RecordEvict(int(evicted.Load()), freed.Load())
	s.log.LogEvict(ctx, bytes, freed.Load(), int(evicted.Load()), err)
	return freed.Load(), err
}
