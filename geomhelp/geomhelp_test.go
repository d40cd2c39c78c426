package geomhelp

import (
	"strings"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/require"
)

func TestExtentWkt(t *testing.T) {
	tests := []struct {
		name   string
		extent geom.Extent
		maxLen uint
		want   string // prefix
	}{
		{"polygon", geom.Extent{0, 0, 2, 1}, 0, "POLYGON ((0 0"},
		{"point", geom.Extent{3, 4, 3, 4}, 0, "POINT (3 4)"},
		{"truncated", geom.Extent{0, 0, 2, 1}, 12, "POLYGON (..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, strings.HasPrefix(ExtentWkt(tt.extent, tt.maxLen), tt.want))
		})
	}
}
