package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDUniqueness(t *testing.T) {
	const numIDs = 1000

	ids := make(map[ID]bool, numIDs)
	for i := 0; i < numIDs; i++ {
		id := NewID()
		require.False(t, id.IsEmpty(), "generated empty ID at iteration %d", i)
		require.False(t, ids[id], "generated duplicate ID: %s", id)
		ids[id] = true
	}
}

func TestParseRunID(t *testing.T) {
	id := NewRunID()
	parsed, err := ParseRunID(" " + id.String() + " ")
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseRunID("")
	assert.Error(t, err)
	_, err = ParseRunID("not-a-uuid")
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	type pair struct {
		A int
		B []int
	}
	h1, err := Fingerprint(pair{A: 1, B: []int{1, 2}})
	require.NoError(t, err)
	h2, err := Fingerprint(pair{A: 1, B: []int{1, 2}})
	require.NoError(t, err)
	h3, err := Fingerprint(pair{A: 1, B: []int{2, 1}})
	require.NoError(t, err)

	assert.True(t, h1.Equals(h2))
	assert.False(t, h1.Equals(h3))
	assert.Len(t, h1.String(), 64)
}
