package mathhelp

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapWhole(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{2.9999999999999996, 3},
		{3.0000000000000004, 3},
		{2.5, 2.5},
		{-0.9999999999999999, -1},
		{1e12 + 1e-4, 1e12},
		{0.1, 0.1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			require.Equal(t, tt.want, SnapWhole(tt.in))
		})
	}
}

func TestRoundHalfDown(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{1.5, 1},
		{1.5000001, 2},
		{1.4999999, 1},
		{-0.3, 0},
		{-0.5, -1},
		{-0.7, -1},
		{3, 3},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			require.Equal(t, tt.want, RoundHalfDown(tt.in))
		})
	}
}

func TestClamp(t *testing.T) {
	require.Equal(t, 0, Clamp(-1, 0, 3))
	require.Equal(t, 3, Clamp(7, 0, 3))
	require.Equal(t, 2, Clamp(2, 0, 3))
	require.Equal(t, 85.0, Clamp(89.0, -85.0, 85.0))
}

func TestBetweenInc(t *testing.T) {
	require.True(t, BetweenInc(1, 0, 2))
	require.True(t, BetweenInc(1, 2, 0))
	require.True(t, BetweenInc(2, 0, 2))
	require.False(t, BetweenInc(3, 0, 2))
}

func TestPow2(t *testing.T) {
	require.Equal(t, uint(1), Pow2(0))
	require.Equal(t, uint(1024), Pow2(10))
}
