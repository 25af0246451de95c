package specstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFindMissingReturnsNilNotError(t *testing.T) {
	s := openTestStore(t)
	spec, err := s.Find(7)
	require.NoError(t, err)
	assert.Nil(t, spec)
}

func TestPutThenFindFlatSpec(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put(7, "implement the thing"))

	spec, err := s.Find(7)
	require.NoError(t, err)
	require.NotNil(t, spec)
	assert.Equal(t, "implement the thing", spec.Content)
	assert.False(t, spec.Hierarchical)
}

func TestPutHierarchicalSectionsAddressableViaReadSpecSection(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutHierarchical(7, map[string]string{
		"implementation": "do the work",
		"testing":        "write tests",
	}))

	spec, err := s.Find(7)
	require.NoError(t, err)
	require.NotNil(t, spec)
	assert.True(t, spec.Hierarchical)
}

func TestPutOverwritesPreviousSpec(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put(7, "v1"))
	require.NoError(t, s.Put(7, "v2"))

	spec, err := s.Find(7)
	require.NoError(t, err)
	assert.Equal(t, "v2", spec.Content)
}
