package bulkstore

import (
	"fmt"
	"strconv"
	"strings"
)

// ObjectID identifies a blob. Blob IDs carry the blob address in the low 63
// bits and have the top bit set.
type ObjectID uint64

const addressBit = uint64(1) << 63

const (
	// EmptyBlobID denotes the zero-length blob. It is never stored.
	EmptyBlobID ObjectID = ObjectID(addressBit)
	// ArenaSentinelID denotes the registry's entry for the whole pre-allocated region.
	ArenaSentinelID ObjectID = ^ObjectID(0)
)

// ObjectIDFromAddress derives the blob ID of the blob starting at addr.
// Distinct addresses below 1<<63 give distinct IDs.
func ObjectIDFromAddress(addr uintptr) ObjectID {
	return ObjectID(addressBit | uint64(addr))
}

// Address returns the address encoded in a blob ID.
func (id ObjectID) Address() uintptr {
	return uintptr(uint64(id) &^ addressBit)
}

// IsBlob reports whether the ID is address-derived.
func (id ObjectID) IsBlob() bool {
	return uint64(id)&addressBit != 0
}

func (id ObjectID) String() string {
	return fmt.Sprintf("o%016x", uint64(id))
}

// ParseObjectID parses the form produced by String.
func ParseObjectID(s string) (ObjectID, error) {
	if !strings.HasPrefix(s, "o") {
		return 0, fmt.Errorf("%w: invalid object id %q", ErrUserInput, s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid object id %q: %w", ErrUserInput, s, err)
	}
	return ObjectID(v), nil
}

// PlasmaID is an externally supplied identifier used by PlasmaStore.
type PlasmaID string

var (
	// EmptyPlasmaID denotes the zero-length blob in the plasma scheme.
	EmptyPlasmaID = PlasmaID(EmptyBlobID.String())
	// PlasmaSentinelID denotes the whole pre-allocated region in the plasma scheme.
	PlasmaSentinelID = PlasmaID(ArenaSentinelID.String())
)

// PlasmaIDFromAddress derives a plasma ID from a blob address.
func PlasmaIDFromAddress(addr uintptr) PlasmaID {
	return PlasmaID(ObjectIDFromAddress(addr).String())
}

// idScheme binds the reserved identifiers and the address encoding of one
// identifier type.
type idScheme[ID comparable] struct {
	fromAddress func(uintptr) ID
	empty       ID
	sentinel    ID
	format      func(ID) string
	// addressed reports whether IDs follow the blob address.
	addressed bool
}

func (s idScheme[ID]) reserved(id ID) bool {
	return id == s.empty || id == s.sentinel
}

var objectIDScheme = idScheme[ObjectID]{
	fromAddress: ObjectIDFromAddress,
	empty:       EmptyBlobID,
	sentinel:    ArenaSentinelID,
	format:      ObjectID.String,
	addressed:   true,
}

var plasmaIDScheme = idScheme[PlasmaID]{
	fromAddress: PlasmaIDFromAddress,
	empty:       EmptyPlasmaID,
	sentinel:    PlasmaSentinelID,
	format:      func(id PlasmaID) string { return string(id) },
}
