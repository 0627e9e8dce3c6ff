package bulkstore

import (
	"errors"
	"fmt"

	"github.com/hupe1980/bulkstore/internal/alloc"
	"github.com/hupe1980/bulkstore/internal/mmap"
	"github.com/hupe1980/bulkstore/internal/resource"
)

var (
	// ErrObjectNotExists is returned when an ID is not in the registry.
	ErrObjectNotExists = errors.New("object not exists")
	// ErrObjectNotSealed is returned when a blob is read before it is sealed.
	ErrObjectNotSealed = errors.New("object not sealed")
	// ErrNotEnoughMemory is returned when an allocation cannot be served.
	ErrNotEnoughMemory = errors.New("not enough memory")
	// ErrUserInput is returned for malformed arguments.
	ErrUserInput = errors.New("invalid user input")
	// ErrNotImplemented is returned by device-memory operations without a device allocator,
	// and by spill operations without a spill store.
	ErrNotImplemented = errors.New("not implemented")
	// ErrInvalidState is returned when internal bookkeeping is inconsistent.
	ErrInvalidState = errors.New("invalid internal state")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
)

// NotEnoughMemoryError reports a failed allocation.
//
// It matches ErrNotEnoughMemory with errors.Is. The allocator error (if any)
// can be accessed via errors.Unwrap.
type NotEnoughMemoryError struct {
	Requested int64
	Footprint int64
	Limit     int64
	cause     error
}

func (e *NotEnoughMemoryError) Error() string {
	return fmt.Sprintf("not enough memory: requested %d bytes, footprint %d, limit %d",
		e.Requested, e.Footprint, e.Limit)
}

func (e *NotEnoughMemoryError) Is(target error) bool { return target == ErrNotEnoughMemory }

func (e *NotEnoughMemoryError) Unwrap() error { return e.cause }

// ObjectError records the operation and ID of a failed call.
type ObjectError struct {
	Op  string
	ID  string
	Err error
}

func (e *ObjectError) Error() string {
	return e.Op + ": id = " + e.ID + ": " + e.Err.Error()
}

func (e *ObjectError) Unwrap() error { return e.Err }

func objectError(op, id string, err error) error {
	return &ObjectError{Op: op, ID: id, Err: err}
}

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Capacity unification.
	if errors.Is(err, alloc.ErrLimitExceeded) || errors.Is(err, alloc.ErrNoSpace) ||
		errors.Is(err, resource.ErrMemoryLimitExceeded) {
		return fmt.Errorf("%w: %w", ErrNotEnoughMemory, err)
	}

	// Argument normalization.
	if errors.Is(err, alloc.ErrInvalidSize) || errors.Is(err, alloc.ErrUnknownBackend) ||
		errors.Is(err, mmap.ErrInvalidSize) {
		return fmt.Errorf("%w: %w", ErrUserInput, err)
	}
	if errors.Is(err, alloc.ErrInvalidFree) {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if errors.Is(err, mmap.ErrUnsupported) {
		return fmt.Errorf("%w: %w", ErrNotImplemented, err)
	}

	return err
}
