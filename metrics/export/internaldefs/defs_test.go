package internaldefs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounterNamesAreUniqueAndSuffixed(t *testing.T) {
	seen := make(map[string]bool, len(CounterDefs))
	for _, def := range CounterDefs {
		require.True(t, strings.HasPrefix(def.Name, "linkauth_"), def.Name)
		require.True(t, strings.HasSuffix(def.Name, "_total"), def.Name)
		require.False(t, seen[def.Name], "duplicate %s", def.Name)
		require.NotEmpty(t, def.Help)
		seen[def.Name] = true
	}
	require.False(t, seen[AuditDroppedName])
}

func TestBucketHelpers(t *testing.T) {
	require.Len(t, HistogramBoundSuffix, len(HistogramUpperBounds)+1)

	padded := NormalizeBuckets([]uint64{1, 2})
	require.Equal(t, [8]uint64{1, 2}, padded)

	truncated := NormalizeBuckets([]uint64{1, 1, 1, 1, 1, 1, 1, 1, 9})
	require.Equal(t, uint64(1), truncated[7])

	cum := CumulativeBuckets([8]uint64{1, 2, 3, 4, 5, 6, 7, 8})
	require.Equal(t, [8]uint64{1, 3, 6, 10, 15, 21, 28, 36}, cum)
}
