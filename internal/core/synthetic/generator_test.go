package synthetic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parklens/parklens/internal/core"
)

func TestGenerateKnownFacilityBusyHour(t *testing.T) {
	gen := &Generator{}

	snap, err := gen.Generate("37709", 14)
	require.NoError(t, err)

	require.Equal(t, 93, snap.TotalSpaces)
	require.Equal(t, 10, snap.HandicappedTotal)
	require.True(t, snap.DataAvailable)
	require.Equal(t, core.SourceMock, snap.Source)

	// 50-90% occupied leaves between 9 and 46 free of 93.
	require.GreaterOrEqual(t, snap.FreeSpaces, 9)
	require.LessOrEqual(t, snap.FreeSpaces, 46)
	require.GreaterOrEqual(t, snap.HandicappedFree, 2)
	require.LessOrEqual(t, snap.HandicappedFree, 6)
}

func TestGenerateIsDeterministic(t *testing.T) {
	gen := &Generator{}

	first, err := gen.Generate("37709", 14)
	require.NoError(t, err)
	second, err := gen.Generate("37709", 14)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestGenerateBands(t *testing.T) {
	cases := []struct {
		hour int
		low  float64
		high float64
	}{
		{hour: 0, low: 0.1, high: 0.3},
		{hour: 5, low: 0.1, high: 0.3},
		{hour: 6, low: 0.3, high: 0.6},
		{hour: 8, low: 0.3, high: 0.6},
		{hour: 9, low: 0.5, high: 0.9},
		{hour: 19, low: 0.5, high: 0.9},
		{hour: 20, low: 0.1, high: 0.3},
		{hour: 23, low: 0.1, high: 0.3},
	}

	for _, tc := range cases {
		rate := OccupancyRate("25280", tc.hour)
		require.GreaterOrEqual(t, rate, tc.low, "hour %d", tc.hour)
		require.Less(t, rate, tc.high, "hour %d", tc.hour)
	}
}

func TestGenerateDefaultCapacity(t *testing.T) {
	gen := &Generator{}

	snap, err := gen.Generate("99999", 3)
	require.NoError(t, err)
	require.Equal(t, 80, snap.TotalSpaces)
	require.Equal(t, 5, snap.HandicappedTotal)
	require.LessOrEqual(t, snap.FreeSpaces, snap.TotalSpaces)
}

func TestGenerateCustomCapacities(t *testing.T) {
	gen := &Generator{
		Capacities: map[string]Capacity{"1": {Total: 10, Handicapped: 1}},
		Default:    Capacity{Total: 20, Handicapped: 2},
	}

	snap, err := gen.Generate("1", 12)
	require.NoError(t, err)
	require.Equal(t, 10, snap.TotalSpaces)

	snap, err = gen.Generate("2", 12)
	require.NoError(t, err)
	require.Equal(t, 20, snap.TotalSpaces)
}

func TestGenerateRejectsBadInput(t *testing.T) {
	gen := &Generator{}

	_, err := gen.Generate("1", 24)
	require.Error(t, err)
	_, err = gen.Generate("1", -1)
	require.Error(t, err)
	_, err = gen.Generate("  ", 3)
	require.Error(t, err)
}
