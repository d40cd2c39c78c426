package mapslicehelp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterleave(t *testing.T) {
	tests := []struct {
		name string
		a, b []int
		want []int
	}{
		{"equal length", []int{1, 2}, []int{10, 20}, []int{1, 10, 2, 20}},
		{"a longer", []int{1, 2, 3}, []int{10}, []int{1, 10, 2, 3}},
		{"b longer", []int{1}, []int{10, 20, 30}, []int{1, 10, 20, 30}},
		{"a empty", nil, []int{10, 20}, []int{10, 20}},
		{"both empty", nil, nil, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Interleave(tt.a, tt.b))
		})
	}
}

func TestRange(t *testing.T) {
	require.Equal(t, []int{4, 5, 6}, Range(4, 6, 1))
	require.Equal(t, []int{2, 1, 0}, Range(2, 0, -1))
	require.Empty(t, Range(4, 3, 1))
	require.Empty(t, Range(4, 3, 0))
}

func TestUniqueKept(t *testing.T) {
	even := func(i int) bool { return i%2 == 0 }
	require.Equal(t, []int{4, 2, 6}, UniqueKept([]int{4, 2, 4, 3, 6, 2}, even))
	require.Equal(t, []int{3, 1, 2}, UniqueKept([]int{3, 1, 3, 2}, nil))
	require.Equal(t, []int{}, UniqueKept([]int{1, 3}, even))
}

func TestConcat(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, Concat([]string{"a"}, nil, []string{"b", "c"}))
}
