package bulkstore

import (
	"context"
	"fmt"
	"time"
)

// PlasmaStore keys blobs by externally supplied PlasmaIDs for clients of the
// plasma protocol. Releasing a plasma blob deletes it.
type PlasmaStore struct {
	*Registry[PlasmaID, *PlasmaPayload]

	deps *dependencyTracker[PlasmaID]
}

// NewPlasma creates a PlasmaStore.
func NewPlasma(opts ...Option) (*PlasmaStore, error) {
	r, err := newRegistry(plasmaIDScheme, newPlasmaPayload, opts...)
	if err != nil {
		return nil, err
	}
	return &PlasmaStore{
		Registry: r,
		deps:     newDependencyTracker(plasmaIDScheme.format),
	}, nil
}

// Create allocates dataSize bytes under plasmaID. plasmaSize is the size
// reported to plasma clients. A zero dataSize returns the empty blob.
func (s *PlasmaStore) Create(dataSize, plasmaSize int64, plasmaID PlasmaID) (PlasmaID, *PlasmaPayload, error) {
	if s.closed.Load() {
		return EmptyPlasmaID, nil, ErrClosed
	}
	if dataSize < 0 {
		return EmptyPlasmaID, nil, fmt.Errorf("%w: negative size %d", ErrUserInput, dataSize)
	}
	if dataSize == 0 {
		return EmptyPlasmaID, s.empty, nil
	}
	if plasmaIDScheme.reserved(plasmaID) || plasmaID == "" {
		return EmptyPlasmaID, nil, fmt.Errorf("%w: reserved plasma id %q", ErrUserInput, plasmaID)
	}

	start := time.Now()
	p, err := s.create(dataSize, plasmaSize, plasmaID)
	s.metrics.RecordCreate(dataSize, time.Since(start), err)
	s.log.LogCreate(context.Background(), string(plasmaID), dataSize, err)
	if err != nil {
		return EmptyPlasmaID, nil, err
	}
	return plasmaID, p, nil
}

func (s *PlasmaStore) create(dataSize, plasmaSize int64, plasmaID PlasmaID) (*PlasmaPayload, error) {
	info, data, err := s.allocate(dataSize)
	if err != nil {
		return nil, err
	}
	p := newPlasmaPayload(plasmaID, info)
	p.PlasmaSize = plasmaSize
	if err := s.insertHeap(plasmaID, p, data); err != nil {
		return nil, err
	}
	return p, nil
}

// OnRelease deletes the blob: plasma blobs are not kept cold.
func (s *PlasmaStore) OnRelease(id PlasmaID) error {
	if !s.Exists(id) {
		return objectError("release", string(id), ErrObjectNotExists)
	}
	return s.OnDelete(id)
}

// OnDelete deletes the blob.
func (s *PlasmaStore) OnDelete(id PlasmaID) error {
	return s.Registry.Delete(id)
}

// Delete deletes id now, or once its last dependent releases it.
func (s *PlasmaStore) Delete(id PlasmaID) error {
	return s.deps.preDelete(s, id)
}

func (s *PlasmaStore) heat(PlasmaID) {}

// AddDependency makes conn a dependent of every id.
func (s *PlasmaStore) AddDependency(ids []PlasmaID, conn int64) error {
	return s.deps.add(s, ids, conn)
}

// Release drops the dependency of conn on id.
func (s *PlasmaStore) Release(id PlasmaID, conn int64) error {
	return s.deps.remove(s, id, conn)
}

// ReleaseConnection drops every dependency held by conn.
func (s *PlasmaStore) ReleaseConnection(conn int64) error {
	return s.deps.releaseConnection(s, conn)
}

// Dependents returns the number of connections depending on id.
func (s *PlasmaStore) Dependents(id PlasmaID) int {
	return s.deps.dependents(id)
}
