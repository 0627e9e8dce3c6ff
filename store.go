package bulkstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/bulkstore/internal/cache"
	"github.com/hupe1980/bulkstore/internal/compress"
	"github.com/hupe1980/bulkstore/internal/mmap"
)

// Store is the blob store keyed by address-derived ObjectIDs. It adds
// connection dependencies, a cold list of released blobs, eviction and an
// optional spill tier to the Registry.
type Store struct {
	*Registry[ObjectID, *Payload]

	deps  *dependencyTracker[ObjectID]
	cold  *cache.ColdList[ObjectID]
	spill spillTier
}

// New creates a Store. The CPU region of the configured memory limit is
// reserved immediately; failing to map it is returned as ErrNotEnoughMemory.
func New(opts ...Option) (*Store, error) {
	r, err := newRegistry(objectIDScheme, func(_ ObjectID, info PayloadInfo) *Payload {
		return newPayload(info)
	}, opts...)
	if err != nil {
		return nil, err
	}

	codec, err := compress.ParseCodec(r.opts.spillCompression)
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("%w: %w", ErrUserInput, err)
	}

	return &Store{
		Registry: r,
		deps:     newDependencyTracker(ObjectID.String),
		cold:     cache.NewColdList[ObjectID](),
		spill: spillTier{
			store:   r.opts.spillStore,
			codec:   codec,
			spilled: make(map[ObjectID]spilledBlob),
		},
	}, nil
}

// Create allocates an unsealed blob of size bytes. When the region is
// exhausted and cold blobs exist, it evicts enough of them and retries once.
func (s *Store) Create(size int64) (ObjectID, *Payload, error) {
	return s.CreateContext(context.Background(), size)
}

// CreateContext is Create with a context bounding any eviction it triggers.
func (s *Store) CreateContext(ctx context.Context, size int64) (ObjectID, *Payload, error) {
	id, p, err := s.Registry.Create(size)
	if err == nil || !errors.Is(err, ErrNotEnoughMemory) || s.cold.Len() == 0 {
		return id, p, err
	}
	if _, evictErr := s.Evict(ctx, size); evictErr != nil {
		s.log.WarnContext(ctx, "evict before retry failed", "size", size, "error", evictErr)
	}
	return s.Registry.Create(size)
}

// Reallocate resizes an unsealed blob without dependents; see
// Registry.Reallocate.
func (s *Store) Reallocate(id ObjectID, size int64) (ObjectID, *Payload, error) {
	if s.deps.dependents(id) > 0 {
		return EmptyBlobID, nil, objectError("reallocate", id.String(), fmt.Errorf("%w: blob has dependents", ErrUserInput))
	}
	return s.Registry.Reallocate(id, size)
}

// CreateGPU allocates an unsealed blob in device memory.
func (s *Store) CreateGPU(size int64) (ObjectID, *Payload, error) {
	return s.createGPU(size)
}

// CreateDisk allocates a blob backed by a file mapping instead of the shared
// region. An empty path uses an unlinked temporary file in the disk dir.
// Disk blobs do not count towards the footprint.
func (s *Store) CreateDisk(size int64, path string) (ObjectID, *Payload, error) {
	if s.closed.Load() {
		return EmptyBlobID, nil, ErrClosed
	}
	if size < 0 {
		return EmptyBlobID, nil, fmt.Errorf("%w: negative size %d", ErrUserInput, size)
	}
	if size == 0 {
		return EmptyBlobID, s.empty, nil
	}

	m, err := s.mapDisk(int(size), path)
	if err != nil {
		err = fmt.Errorf("%w: create disk blob: %w", ErrInvalidState, translateError(err))
		s.log.LogCreate(context.Background(), "", size, err)
		return EmptyBlobID, nil, err
	}

	id := ObjectIDFromAddress(m.Addr())
	p := newPayload(PayloadInfo{
		ID:       id,
		DataSize: size,
		Pointer:  m.Addr(),
		Kind:     KindDiskMMap,
		StoreFD:  m.FD(),
		MapSize:  size,
		ArenaFD:  -1,
	})
	p.attach(m.Bytes(), m, nil)
	if !s.objects.Insert(id, p) {
		_ = m.Close()
		return EmptyBlobID, nil, objectError("create disk", id.String(), fmt.Errorf("%w: object already exists", ErrInvalidState))
	}
	s.log.LogCreate(context.Background(), id.String(), size, nil)
	return id, p, nil
}

// OnRelease marks a sealed blob cold so eviction may take it.
func (s *Store) OnRelease(id ObjectID) error {
	p, ok := s.objects.Load(id)
	if !ok {
		return objectError("release", id.String(), ErrObjectNotExists)
	}
	if p.IsSealed() && !objectIDScheme.reserved(id) {
		s.cold.Add(id, p.DataSize())
	}
	return nil
}

// OnDelete takes the blob off the cold list and deletes it.
func (s *Store) OnDelete(id ObjectID) error {
	s.cold.Remove(id)
	s.deps.forget(id)
	return s.Registry.Delete(id)
}

// Delete removes a resident blob like OnDelete, or drops the spilled copy of
// a spilled one. A resident blob wins when a reload reused the address.
func (s *Store) Delete(id ObjectID) error {
	if !s.objects.Contains(id) {
		if ok, err := s.dropSpilled(context.Background(), id); ok {
			return err
		}
	}
	return s.OnDelete(id)
}

func (s *Store) mapDisk(size int, path string) (*mmap.Mapping, error) {
	if path == "" {
		return s.mapper.MapTempFile(s.opts.diskDir, size)
	}
	return s.mapper.MapFile(path, size)
}

func (s *Store) heat(id ObjectID) {
	s.cold.Remove(id)
}

// AddDependency makes conn a dependent of every id, taking one reference per
// new dependency. Dependent blobs leave the cold list. It fails without
// changes if any id is unknown.
func (s *Store) AddDependency(ids []ObjectID, conn int64) error {
	return s.deps.add(s, ids, conn)
}

// RemoveDependency drops the dependency of conn on id. When the last
// dependent goes the blob is released, or deleted if PreDelete deferred it.
func (s *Store) RemoveDependency(id ObjectID, conn int64) error {
	return s.deps.remove(s, id, conn)
}

// Release is RemoveDependency.
func (s *Store) Release(id ObjectID, conn int64) error {
	return s.RemoveDependency(id, conn)
}

// DeleteGPU removes an owned device blob and frees its device memory.
func (s *Store) DeleteGPU(id ObjectID) error {
	s.cold.Remove(id)
	s.deps.forget(id)
	return s.Registry.DeleteGPU(id)
}

// ReleaseGPU releases a device blob held by conn.
func (s *Store) ReleaseGPU(id ObjectID, conn int64) error {
	if s.gpu == nil {
		return fmt.Errorf("%w: device memory support is not configured", ErrNotImplemented)
	}
	return s.RemoveDependency(id, conn)
}

// ReleaseConnection drops every dependency held by conn.
func (s *Store) ReleaseConnection(conn int64) error {
	return s.deps.releaseConnection(s, conn)
}

// PreDelete deletes id now, or once its last dependent releases it.
func (s *Store) PreDelete(id ObjectID) error {
	return s.deps.preDelete(s, id)
}

// Dependents returns the number of connections depending on id.
func (s *Store) Dependents(id ObjectID) int {
	return s.deps.dependents(id)
}

// Cold returns up to n cold blobs, coldest first.
func (s *Store) Cold(n int) []ObjectID {
	return s.cold.Coldest(n)
}

// ColdSize returns the bytes held by cold blobs.
func (s *Store) ColdSize() int64 {
	return s.cold.Size()
}

// Close releases all memory and removes spilled copies.
func (s *Store) Close() error {
	var errs []error
	for _, id := range s.Spilled() {
		if _, err := s.dropSpilled(context.Background(), id); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, s.Registry.Close())
	return errors.Join(errs...)
}
