// Package tms20 reads tiling schemes following the OGC Two Dimensional Tile Matrix Set
// standard (v2.0) and addresses their tiles as slippy tiles.
// See https://www.ogc.org/standard/tms/
package tms20

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/slippy"
	"github.com/perimeterx/marshmallow"
	"golang.org/x/exp/maps"

	"github.com/pdok/gpkgtiles/mathhelp"
	"github.com/pdok/gpkgtiles/pyramid"
	"github.com/pdok/gpkgtiles/tilegrid"
)

var (
	//go:embed tilematrixsets/*.json
	embeddedTileMatrixSetsJSONFS embed.FS
	embeddedTileMatrixSetsCache  sync.Map // id -> TileMatrixSet

	ErrUnsupportedCRS = errors.New("unsupported crs")
)

// EmbeddedTileMatrixSetIDs lists the tile matrix sets that ship with this package.
func EmbeddedTileMatrixSetIDs() []string {
	entries, err := embeddedTileMatrixSetsJSONFS.ReadDir("tilematrixsets")
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, strings.TrimSuffix(e.Name(), path.Ext(e.Name())))
	}
	return ids
}

func LoadEmbeddedTileMatrixSet(id string) (TileMatrixSet, error) {
	if cached, ok := embeddedTileMatrixSetsCache.Load(id); ok {
		return cached.(TileMatrixSet), nil
	}
	tmsJSON, err := embeddedTileMatrixSetsJSONFS.ReadFile("tilematrixsets/" + id + ".json")
	if err != nil {
		return TileMatrixSet{}, fmt.Errorf("unknown tile matrix set %q: %w", id, err)
	}
	var tms TileMatrixSet
	if err = json.Unmarshal(tmsJSON, &tms); err != nil {
		return TileMatrixSet{}, err
	}
	embeddedTileMatrixSetsCache.Store(id, tms)
	return tms, nil
}

// LoadJSONTileMatrixSet reads a tile matrix set from a JSON file.
func LoadJSONTileMatrixSet(file string) (TileMatrixSet, error) {
	var tms TileMatrixSet
	tmsJSON, err := os.ReadFile(file)
	if err != nil {
		return tms, err
	}
	err = json.Unmarshal(tmsJSON, &tms)
	return tms, err
}

// LoadTileMatrixSet loads an embedded tile matrix set by id, or else a JSON file.
func LoadTileMatrixSet(idOrFile string) (TileMatrixSet, error) {
	if slices.Contains(EmbeddedTileMatrixSetIDs(), idOrFile) {
		return LoadEmbeddedTileMatrixSet(idOrFile)
	}
	return LoadJSONTileMatrixSet(idOrFile)
}

// TileMatrixSet is a definition of a tile matrix set following the Tile Matrix Set standard.
type TileMatrixSet struct {
	// Tile matrix set identifier
	ID string `json:"id,omitempty"`
	// Title of this tile matrix set, normally used for display to a human
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	// Reference to an official source for this TileMatrixSet
	URI         string   `validate:"omitempty,uri" json:"uri,omitempty"`
	OrderedAxes []string `validate:"omitnil,min=1" json:"orderedAxes"`
	CRS         CRS      `validate:"required" json:"-"`
	// Reference to a well-known scale set
	WellKnownScaleSet string `validate:"omitempty,uri" json:"wellKnownScaleSet,omitempty"`
	// Minimum bounding rectangle surrounding the tile matrix set, in the supported CRS
	BoundingBox *TwoDBoundingBox `json:"boundingBox,omitempty"`
	// Tile matrices by their (integer) id
	TileMatrices map[int]TileMatrix `validate:"required,min=1" json:"-"`
}

func (tms *TileMatrixSet) MarshalJSON() ([]byte, error) {
	tileMatrices := make([]*TileMatrix, 0, len(tms.TileMatrices))
	for _, id := range tms.TileMatrixIDs() {
		tm := tms.TileMatrices[id]
		tileMatrices = append(tileMatrices, &tm)
	}
	return json.Marshal(struct {
		TileMatrixSet                     // not a pointer, that would recurse into this function
		SpecialCRS          *CRS          `json:"crs"`
		SpecialTileMatrices []*TileMatrix `json:"tileMatrices"`
	}{
		TileMatrixSet:       *tms,
		SpecialCRS:          &tms.CRS,
		SpecialTileMatrices: tileMatrices,
	})
}

func (tms *TileMatrixSet) UnmarshalJSON(data []byte) error {
	err := defaults.Set(tms)
	if err != nil {
		return err
	}
	specials, err := marshmallow.Unmarshal(data, tms, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}

	rawCrs, ok := specials["crs"]
	if !ok {
		return errors.New(`missing key "crs"`)
	}
	if tms.CRS, err = unmarshalCRS(rawCrs); err != nil {
		return err
	}

	rawTileMatrices, ok := specials["tileMatrices"]
	if !ok {
		return errors.New(`missing key "tileMatrices"`)
	}
	if tms.TileMatrices, err = unmarshalTileMatrices(rawTileMatrices); err != nil {
		return err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(tms)
}

func unmarshalTileMatrices(rawTileMatrices any) (map[int]TileMatrix, error) {
	rawList, ok := rawTileMatrices.([]any)
	if !ok {
		return nil, errors.New(`"tileMatrices" should be an array`)
	}
	tileMatrices := make(map[int]TileMatrix, len(rawList))
	for _, raw := range rawList {
		var tm TileMatrix
		if err := tm.UnmarshalJSONFromMap(raw); err != nil {
			return nil, err
		}
		id, err := strconv.Atoi(tm.ID)
		if err != nil {
			return nil, fmt.Errorf("only integer-like ids are supported for tile matrices: %w", err)
		}
		tileMatrices[id] = tm
	}
	return tileMatrices, nil
}

// TileMatrixIDs returns the ids of the tile matrices in ascending order.
func (tms *TileMatrixSet) TileMatrixIDs() []int {
	ids := maps.Keys(tms.TileMatrices)
	slices.Sort(ids)
	return ids
}

// SRID returns the EPSG code of the CRS. OGC CRS84 counts as EPSG:4326 (with lon/lat axes).
func (tms *TileMatrixSet) SRID() (int, error) {
	name, code := tms.CRS.AuthorityName(), tms.CRS.AuthorityCode()
	switch {
	case strings.EqualFold(name, "EPSG"):
		srid, err := strconv.Atoi(code)
		if err != nil {
			return 0, fmt.Errorf("%w: EPSG code %q", ErrUnsupportedCRS, code)
		}
		return srid, nil
	case strings.EqualFold(name, "OGC") && strings.EqualFold(code, "CRS84"):
		return 4326, nil
	}
	return 0, fmt.Errorf("%w: %s:%s", ErrUnsupportedCRS, name, code)
}

func (tms *TileMatrixSet) Size(zoom uint) (*slippy.Tile, bool) {
	tm, ok := tms.TileMatrices[int(zoom)]
	if !ok {
		return nil, false
	}
	return slippy.NewTile(zoom, tm.MatrixWidth, tm.MatrixHeight), true
}

// FromNative returns the tile at zoom containing pt.
func (tms *TileMatrixSet) FromNative(zoom uint, pt geom.Point) (*slippy.Tile, bool) {
	tm, ok := tms.TileMatrices[int(zoom)]
	if !ok || tm.VariableMatrixWidths != nil {
		return nil, false
	}
	tileSizeX, tileSizeY := tm.TileSize()
	x := int((pt.X() - tm.PointOfOrigin[0]) / tileSizeX)
	var y int
	if tm.CornerOfOrigin == BottomLeft {
		y = int((pt.Y() - tm.PointOfOrigin[1]) / tileSizeY)
	} else {
		y = int((tm.PointOfOrigin[1] - pt.Y()) / tileSizeY)
	}
	if x < 0 || uint(x) >= tm.MatrixWidth || y < 0 || uint(y) >= tm.MatrixHeight {
		return nil, false
	}
	return slippy.NewTile(zoom, uint(x), uint(y)), true
}

// ToNative returns the top left corner of tile. Tiles one past the last column or row are
// accepted, so that their corner closes the matrix.
func (tms *TileMatrixSet) ToNative(tile *slippy.Tile) (geom.Point, bool) {
	tm, ok := tms.TileMatrices[int(tile.Z)]
	if !ok || tile.X > tm.MatrixWidth || tile.Y > tm.MatrixHeight {
		return geom.Point{}, false
	}
	tileSizeX, tileSizeY := tm.TileSize()
	topLeft := geom.Point{tm.PointOfOrigin[0] + float64(tile.X)*tileSizeX}
	if tm.CornerOfOrigin == BottomLeft {
		topLeft[1] = tm.PointOfOrigin[1] + float64(tile.Y+1)*tileSizeY
	} else {
		topLeft[1] = tm.PointOfOrigin[1] - float64(tile.Y)*tileSizeY
	}
	return topLeft, true
}

// TileBoundingBox returns the extent of tile in the CRS of the tile matrix set.
func (tms *TileMatrixSet) TileBoundingBox(tile *slippy.Tile) (tilegrid.BoundingBox, bool) {
	topLeft, ok := tms.ToNative(tile)
	if !ok {
		return tilegrid.BoundingBox{}, false
	}
	tileSizeX, tileSizeY := tms.TileMatrices[int(tile.Z)].TileSize()
	return tilegrid.BoundingBox{
		MinX: topLeft.X(),
		MinY: topLeft.Y() - tileSizeY,
		MaxX: topLeft.X() + tileSizeX,
		MaxY: topLeft.Y(),
	}, true
}

// MatrixBoundingBox returns the extent of all tiles of zoom.
func (tms *TileMatrixSet) MatrixBoundingBox(zoom uint) (tilegrid.BoundingBox, bool) {
	tm, ok := tms.TileMatrices[int(zoom)]
	if !ok {
		return tilegrid.BoundingBox{}, false
	}
	tileSizeX, tileSizeY := tm.TileSize()
	b := tilegrid.BoundingBox{
		MinX: tm.PointOfOrigin[0],
		MaxX: tm.PointOfOrigin[0] + float64(tm.MatrixWidth)*tileSizeX,
	}
	if tm.CornerOfOrigin == BottomLeft {
		b.MinY = tm.PointOfOrigin[1]
		b.MaxY = tm.PointOfOrigin[1] + float64(tm.MatrixHeight)*tileSizeY
	} else {
		b.MinY = tm.PointOfOrigin[1] - float64(tm.MatrixHeight)*tileSizeY
		b.MaxY = tm.PointOfOrigin[1]
	}
	return b, true
}

// TileGrid returns the tiles of zoom that overlap bbox, with rows numbered from the
// tile matrix' corner of origin.
func (tms *TileMatrixSet) TileGrid(zoom uint, bbox tilegrid.BoundingBox) (tilegrid.TileGrid, bool) {
	matrixBox, ok := tms.MatrixBoundingBox(zoom)
	if !ok {
		return tilegrid.TileGrid{}, false
	}
	tm := tms.TileMatrices[int(zoom)]
	grid, ok := tilegrid.BuildTileGrid(matrixBox, int(tm.MatrixWidth), int(tm.MatrixHeight), bbox)
	if !ok {
		return tilegrid.TileGrid{}, false
	}
	if tm.CornerOfOrigin == BottomLeft {
		last := int(tm.MatrixHeight) - 1
		grid.MinRow, grid.MaxRow = last-grid.MaxRow, last-grid.MinRow
	}
	return grid, true
}

// Pyramid describes the tile matrices ids as the pyramid of a tile table. They must share the
// top left origin and the extent of the first one, which becomes the tile matrix set extent.
func (tms *TileMatrixSet) Pyramid(table string, ids []int) (*pyramid.Pyramid, error) {
	if len(ids) == 0 {
		return nil, errors.New("no tile matrices")
	}
	srid, err := tms.SRID()
	if err != nil {
		return nil, err
	}
	var extent tilegrid.BoundingBox
	matrices := make([]pyramid.TileMatrix, 0, len(ids))
	for i, id := range ids {
		tm, ok := tms.TileMatrices[id]
		if !ok || id < 0 {
			return nil, fmt.Errorf("tile matrix %d not in tile matrix set %s", id, tms.ID)
		}
		if tm.CornerOfOrigin == BottomLeft || tm.VariableMatrixWidths != nil {
			return nil, fmt.Errorf("tile matrix %d of %s: only top left origins without variable widths are supported", id, tms.ID)
		}
		matrixBox, _ := tms.MatrixBoundingBox(uint(id))
		if i == 0 {
			extent = matrixBox
		} else if !sameExtent(extent, matrixBox) {
			return nil, fmt.Errorf("tile matrix %d of %s does not cover %v", id, tms.ID, extent)
		}
		matrices = append(matrices, pyramid.TileMatrix{
			ZoomLevel:    id,
			MatrixWidth:  int(tm.MatrixWidth),
			MatrixHeight: int(tm.MatrixHeight),
			TileWidth:    int(tm.TileWidth),
			TileHeight:   int(tm.TileHeight),
			PixelXSize:   tm.CellSize,
			PixelYSize:   tm.CellSize,
		})
	}
	return pyramid.New(pyramid.TileMatrixSet{TableName: table, SRSID: srid, BoundingBox: extent}, matrices, nil)
}

func sameExtent(a, b tilegrid.BoundingBox) bool {
	same := func(p, q float64) bool {
		return mathhelp.SnapWhole(p/q) == 1
	}
	return same(a.Width(), b.Width()) && same(a.Height(), b.Height()) &&
		a.MinX == b.MinX && a.MaxY == b.MaxY
}

// Minimum bounding rectangle surrounding a 2D resource in the CRS indicated elsewhere
type TwoDBoundingBox struct {
	LowerLeft   TwoDPoint `validate:"required" json:"lowerLeft"`
	UpperRight  TwoDPoint `validate:"required" json:"upperRight"`
	CRS         CRS       `json:"-"`
	OrderedAxes []string  `validate:"omitempty,len=2" json:"orderedAxes,omitempty"`
}

func (bb *TwoDBoundingBox) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TwoDBoundingBox      // not a pointer, that would recurse into this function
		SpecialCRS      *CRS `json:"crs"`
	}{
		TwoDBoundingBox: *bb,
		SpecialCRS:      &bb.CRS,
	})
}

func (bb *TwoDBoundingBox) UnmarshalJSON(data []byte) error {
	specials, err := marshmallow.Unmarshal(data, bb, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}
	rawCrs, ok := specials["crs"]
	if !ok {
		return errors.New(`missing key "crs"`)
	}
	if bb.CRS, err = unmarshalCRS(rawCrs); err != nil {
		return err
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(bb)
}

// A 2D Point in the CRS indicated elsewhere
type TwoDPoint [2]float64

// A tile matrix, usually corresponding to a particular zoom level of a TileMatrixSet.
type TileMatrix struct {
	ID               string   `validate:"required" json:"id"`
	Title            string   `json:"title,omitempty"`
	Description      string   `json:"description,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
	ScaleDenominator float64  `validate:"required,gt=0" json:"scaleDenominator"`
	// Ground size of one pixel
	CellSize float64 `validate:"required,gt=0" json:"cellSize"`
	// The corner of the tile matrix used as the origin for numbering tile rows and columns.
	CornerOfOrigin CornerOfOrigin `default:"topLeft" validate:"oneof=topLeft bottomLeft" json:"cornerOfOrigin,omitempty"`
	// Position of the corner of origin, also a corner of the (0, 0) tile.
	PointOfOrigin TwoDPoint `json:"pointOfOrigin"`
	TileWidth     uint      `validate:"required,min=1" json:"tileWidth"`
	TileHeight    uint      `validate:"required,min=1" json:"tileHeight"`
	MatrixWidth   uint      `validate:"required,min=1" json:"matrixWidth"`
	MatrixHeight  uint      `validate:"required,min=1" json:"matrixHeight"`
	// Rows with a variable matrix width (not supported for addressing)
	VariableMatrixWidths []VariableMatrixWidth `json:"variableMatrixWidths,omitempty"`
}

// TileSize returns the ground width and height of one tile.
func (tm TileMatrix) TileSize() (float64, float64) {
	return float64(tm.TileWidth) * tm.CellSize, float64(tm.TileHeight) * tm.CellSize
}

func (tm *TileMatrix) UnmarshalJSON(data []byte) error {
	return UnmarshalJSONMapUsingUnmarshalJSONFromMap(tm, data)
}

func (tm *TileMatrix) UnmarshalJSONFromMap(data any) error {
	if err := defaults.Set(tm); err != nil {
		return err
	}
	dataMap, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf(`tile matrix is not a map but a %T`, data)
	}
	if _, err := marshmallow.UnmarshalFromJSONMap(dataMap, tm, marshmallow.WithExcludeKnownFieldsFromMap(true)); err != nil {
		return err
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(tm)
}

type CornerOfOrigin string

const (
	TopLeft    CornerOfOrigin = "topLeft"
	BottomLeft CornerOfOrigin = "bottomLeft"
)

func (c *CornerOfOrigin) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return c.UnmarshalJSONFromMap(raw)
}

func (c *CornerOfOrigin) UnmarshalJSONFromMap(data any) error {
	dataString, ok := data.(string)
	if !ok {
		return fmt.Errorf(`CornerOfOrigin data is not a string but a %T`, data)
	}
	switch dataString {
	case "", string(TopLeft):
		*c = TopLeft
	case string(BottomLeft):
		*c = BottomLeft
	default:
		return fmt.Errorf(`unknown CornerOfOrigin: %v`, data)
	}
	return nil
}

type VariableMatrixWidth struct {
	// Number of tiles in width that coalesce in a single tile for these rows
	Coalesce   uint `validate:"required,min=2" json:"coalesce"`
	MinTileRow uint `validate:"min=0" json:"minTileRow"`
	MaxTileRow uint `validate:"min=0" json:"maxTileRow"`
}

func UnmarshalJSONMapUsingUnmarshalJSONFromMap(target marshmallow.UnmarshalerFromJSONMap, data []byte) error {
	var dataMap map[string]any
	if err := json.Unmarshal(data, &dataMap); err != nil {
		return err
	}
	return target.UnmarshalJSONFromMap(dataMap)
}

type CRS interface {
	Description() string
	AuthorityName() string
	AuthorityCode() string
}

var (
	crsURIRegexURL = regexp.MustCompile("https?://.+/def/crs/(?P<authority>[^/]+)/[^/]+/(?P<code>[^/]+)$")
	crsURIRegexURN = regexp.MustCompile("^urn:ogc:def:crs:(?P<authority>[^:]+):[^:]*:(?P<code>[^:]+)$")
)

// unmarshalCRS accepts a URI (as a string or an object) or a ProjJSON object.
func unmarshalCRS(rawCrs any) (CRS, error) {
	var rawCrsMap map[string]any
	rawCrsString, asString := rawCrs.(string)
	if asString {
		rawCrsMap = map[string]any{"uri": rawCrsString}
	} else {
		var ok bool
		if rawCrsMap, ok = rawCrs.(map[string]any); !ok {
			return nil, fmt.Errorf(`wrong type key "crs": %T`, rawCrs)
		}
	}

	var uriCrs URICRS
	uriErr := uriCrs.UnmarshalJSONFromMap(rawCrsMap)
	if uriErr == nil {
		uriCrs.asString = asString
		return &uriCrs, nil
	}
	var wktCrs WKTCRS
	wktErr := wktCrs.UnmarshalJSONFromMap(rawCrsMap)
	if wktErr == nil {
		return &wktCrs, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnsupportedCRS, errors.Join(uriErr, wktErr))
}

func description(dataMap map[string]any) (string, error) {
	raw, ok := dataMap["description"]
	if !ok {
		return "", nil
	}
	d, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf(`description property is not a string but a %T`, raw)
	}
	return d, nil
}

type URICRS struct {
	description   string
	uri           string
	authorityName string
	authorityCode string
	// marshal as just the uri string
	asString bool
}

func (crs *URICRS) MarshalJSON() ([]byte, error) {
	if crs.asString {
		return json.Marshal(crs.uri)
	}
	return json.Marshal(struct {
		Description string `json:"description,omitempty"`
		URI         string `json:"uri"`
	}{
		Description: crs.description,
		URI:         crs.uri,
	})
}

func (crs *URICRS) UnmarshalJSONFromMap(data any) error {
	dataMap, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf(`crs is not a map but a %T`, data)
	}
	var err error
	if crs.description, err = description(dataMap); err != nil {
		return err
	}
	rawURI, ok := dataMap["uri"]
	if !ok {
		return errors.New(`uri property not found`)
	}
	if crs.uri, ok = rawURI.(string); !ok {
		return fmt.Errorf(`uri property is not a string but a %T`, rawURI)
	}
	uriParts := crsURIRegexURL.FindStringSubmatch(crs.uri)
	if uriParts == nil {
		uriParts = crsURIRegexURN.FindStringSubmatch(crs.uri)
	}
	if uriParts == nil {
		return fmt.Errorf(`could not parse crs uri "%v"`, crs.uri)
	}
	crs.authorityName = uriParts[1]
	crs.authorityCode = uriParts[2]
	return nil
}

func (crs *URICRS) Description() string   { return crs.description }
func (crs *URICRS) AuthorityName() string { return crs.authorityName }
func (crs *URICRS) AuthorityCode() string { return crs.authorityCode }

// WKTCRS is a CRS given as a ProjJSON object. Only its id is interpreted.
type WKTCRS struct {
	description string
	id          ProjJSONID
	originalWKT map[string]any
}

type projJSON struct {
	ID ProjJSONID `validate:"required" json:"id"`
}

type ProjJSONID struct {
	AuthorityName string `validate:"required" json:"authority"`
	// string or number in ProjJSON
	AuthorityCode any `validate:"required" json:"code"`
}

func (crs *WKTCRS) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Description string         `json:"description,omitempty"`
		WKT         map[string]any `json:"wkt"`
	}{
		Description: crs.description,
		WKT:         crs.originalWKT,
	})
}

func (crs *WKTCRS) UnmarshalJSONFromMap(data any) error {
	dataMap, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf(`crs is not a map but a %T`, data)
	}
	var err error
	if crs.description, err = description(dataMap); err != nil {
		return err
	}
	rawWKT, ok := dataMap["wkt"]
	if !ok {
		return errors.New(`wkt property not found`)
	}
	if crs.originalWKT, ok = rawWKT.(map[string]any); !ok {
		return fmt.Errorf(`wkt property is not an object but a %T`, rawWKT)
	}
	var wkt projJSON
	if _, err = marshmallow.UnmarshalFromJSONMap(crs.originalWKT, &wkt); err != nil {
		return fmt.Errorf(`could not parse wkt as ProjJSON "%v"`, crs.originalWKT)
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err = validate.Struct(wkt); err != nil {
		return err
	}
	crs.id = wkt.ID
	return nil
}

func (crs *WKTCRS) Description() string   { return crs.description }
func (crs *WKTCRS) AuthorityName() string { return crs.id.AuthorityName }
func (crs *WKTCRS) AuthorityCode() string { return fmt.Sprint(crs.id.AuthorityCode) }
