package bulkstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectID(t *testing.T) {
	id := ObjectIDFromAddress(0x7f00_1234_5000)
	assert.True(t, id.IsBlob())
	assert.Equal(t, uintptr(0x7f00_1234_5000), id.Address())
	assert.Equal(t, "o80007f0012345000", id.String())

	parsed, err := ParseObjectID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	for _, bad := range []string{"", "x1", "ozz"} {
		_, err := ParseObjectID(bad)
		assert.ErrorIs(t, err, ErrUserInput, bad)
	}
}

func TestReservedIDs(t *testing.T) {
	assert.Equal(t, ObjectIDFromAddress(0), EmptyBlobID)
	assert.True(t, objectIDScheme.reserved(EmptyBlobID))
	assert.True(t, objectIDScheme.reserved(ArenaSentinelID))
	assert.False(t, objectIDScheme.reserved(ObjectIDFromAddress(64)))

	assert.Equal(t, PlasmaID(EmptyBlobID.String()), EmptyPlasmaID)
	assert.True(t, plasmaIDScheme.reserved(PlasmaSentinelID))
	assert.Equal(t, PlasmaID(ObjectIDFromAddress(64).String()), PlasmaIDFromAddress(64))
}
