package pyramid

import (
	"errors"
	"fmt"
)

var ErrUnsupportedScalingType = errors.New("unsupported tile scaling type")

// ScalingType is the order in which neighbouring zoom levels are tried when the requested
// zoom level has no tiles.
type ScalingType int

const (
	// ScalingIn only tries more detailed zoom levels
	ScalingIn ScalingType = iota + 1
	// ScalingOut only tries less detailed zoom levels
	ScalingOut
	ScalingInOut
	ScalingOutIn
	// ScalingClosestInOut alternates between zooming in and out, starting in
	ScalingClosestInOut
	// ScalingClosestOutIn alternates between zooming out and in, starting out
	ScalingClosestOutIn
)

var scalingTypeNames = map[ScalingType]string{
	ScalingIn:           "in",
	ScalingOut:          "out",
	ScalingInOut:        "in_out",
	ScalingOutIn:        "out_in",
	ScalingClosestInOut: "closest_in_out",
	ScalingClosestOutIn: "closest_out_in",
}

// ParseScalingType parses the names used by the tile scaling extension (e.g. "closest_in_out").
func ParseScalingType(name string) (ScalingType, error) {
	for t, n := range scalingTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedScalingType, name)
}

func (t ScalingType) String() string {
	if n, ok := scalingTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("ScalingType(%d)", int(t))
}

func (t ScalingType) Validate() error {
	if _, ok := scalingTypeNames[t]; !ok {
		return fmt.Errorf("%w: %v", ErrUnsupportedScalingType, t)
	}
	return nil
}

// MarshalText and UnmarshalText let scaling types appear by name in config files and JSON.
func (t ScalingType) MarshalText() ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return []byte(t.String()), nil
}

func (t *ScalingType) UnmarshalText(text []byte) error {
	parsed, err := ParseScalingType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TileScaling is the optional per table policy for substituting neighbouring zoom levels.
// A nil ZoomIn or ZoomOut is unbounded (up to the pyramid's max or min zoom).
type TileScaling struct {
	Type    ScalingType
	ZoomIn  *int
	ZoomOut *int
}

// ZoomsIn reports whether the policy allows trying more detailed zoom levels.
func (s TileScaling) ZoomsIn() bool {
	return s.Type != ScalingOut && (s.ZoomIn == nil || *s.ZoomIn > 0)
}

// ZoomsOut reports whether the policy allows trying less detailed zoom levels.
func (s TileScaling) ZoomsOut() bool {
	return s.Type != ScalingIn && (s.ZoomOut == nil || *s.ZoomOut > 0)
}

func (s TileScaling) String() string {
	return fmt.Sprintf("%v (in: %s, out: %s)", s.Type, stepsString(s.ZoomIn), stepsString(s.ZoomOut))
}

func stepsString(steps *int) string {
	if steps == nil {
		return "unbounded"
	}
	return fmt.Sprint(*steps)
}
