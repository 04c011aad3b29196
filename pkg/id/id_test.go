package id

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsUniqueAndOrdered(t *testing.T) {
	t.Parallel()

	ids := make([]string, 50)
	for i := range ids {
		ids[i] = New()
	}

	seen := map[string]bool{}
	for _, v := range ids {
		require.Len(t, v, 26)
		require.False(t, seen[v], "duplicate id %s", v)
		seen[v] = true
	}
	assert.True(t, sort.StringsAreSorted(ids), "generation order is lexicographic order")
}
