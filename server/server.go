// Package server serves the tile tables of a GeoPackage over HTTP.
package server

import (
	"errors"
	"log"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/exp/maps"

	"github.com/pdok/gpkgtiles/retrieval"
	"github.com/pdok/gpkgtiles/srs"
	"github.com/pdok/gpkgtiles/tilegrid"
)

// Table is a served tile table.
type Table struct {
	Name        string
	Identifier  string
	Description string
	Retriever   *retrieval.Retriever
}

type Server struct {
	tables map[string]Table
	// output size when a request has none, 0 is the tile size of the table
	width  int
	height int
}

func New(tables []Table, width, height int) *Server {
	s := &Server{
		tables: make(map[string]Table, len(tables)),
		width:  width,
		height: height,
	}
	for _, t := range tables {
		s.tables[t.Name] = t
	}
	return s
}

// Handler returns a gin engine with the routes registered at the root.
func (s *Server) Handler() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery())
	s.RegisterRoutes(&engine.RouterGroup)
	return engine
}

func (s *Server) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tables", s.ListTables)
	r.GET("/tables/:table", s.DescribeTable)
	r.GET("/tables/:table/tiles/:z/:x/:y", s.GetXYZTile)
	r.HEAD("/tables/:table/tiles/:z/:x/:y", s.GetXYZTile)
	r.GET("/tables/:table/tileranges/:z", s.GetXYZTileRange)
	r.GET("/tables/:table/bbox", s.GetBoundingBoxTile)
	r.HEAD("/tables/:table/bbox", s.GetBoundingBoxTile)
}

type tableSummary struct {
	Name        string `json:"name"`
	Identifier  string `json:"identifier,omitempty"`
	Description string `json:"description,omitempty"`
}

func (s *Server) ListTables(c *gin.Context) {
	names := maps.Keys(s.tables)
	slices.Sort(names)
	summaries := make([]tableSummary, 0, len(names))
	for _, name := range names {
		t := s.tables[name]
		summaries = append(summaries, tableSummary{Name: t.Name, Identifier: t.Identifier, Description: t.Description})
	}
	c.JSON(http.StatusOK, summaries)
}

type tableDescription struct {
	tableSummary
	SRSID            int                   `json:"srsId"`
	BoundingBox      tilegrid.BoundingBox  `json:"boundingBox"`
	WGS84BoundingBox *tilegrid.BoundingBox `json:"wgs84BoundingBox,omitempty"`
	ZoomLevels       []int                 `json:"zoomLevels"`
	TileWidth        int                   `json:"tileWidth"`
	TileHeight       int                   `json:"tileHeight"`
	Scaling          string                `json:"scaling,omitempty"`
}

func (s *Server) DescribeTable(c *gin.Context) {
	t, ok := s.table(c)
	if !ok {
		return
	}
	p := t.Retriever.Pyramid()
	tileWidth, tileHeight := p.DefaultTileSize()
	description := tableDescription{
		tableSummary: tableSummary{Name: t.Name, Identifier: t.Identifier, Description: t.Description},
		SRSID:        p.MatrixSet.SRSID,
		BoundingBox:  p.MatrixSet.BoundingBox,
		ZoomLevels:   p.ZoomLevels(),
		TileWidth:    tileWidth,
		TileHeight:   tileHeight,
	}
	if wgs84, err := t.Retriever.BoundsIn(srs.WGS84); err == nil {
		description.WGS84BoundingBox = &wgs84
	}
	if p.Scaling != nil {
		description.Scaling = p.Scaling.String()
	}
	c.JSON(http.StatusOK, description)
}

// GetXYZTile serves web mercator XYZ tiles, the y may carry an extension (e.g. 3.png).
// HEAD only checks for the presence of the tiles GET would composite.
func (s *Server) GetXYZTile(c *gin.Context) {
	t, ok := s.table(c)
	if !ok {
		return
	}
	y, _, _ := strings.Cut(c.Param("y"), ".")
	var z, x, yy int
	var err error
	if z, err = strconv.Atoi(c.Param("z")); err == nil {
		if x, err = strconv.Atoi(c.Param("x")); err == nil {
			yy, err = strconv.Atoi(y)
		}
	}
	if err != nil {
		c.String(http.StatusBadRequest, "invalid tile address: %v", err)
		return
	}
	width, height, ok := s.size(c)
	if !ok {
		return
	}
	if c.Request.Method == http.MethodHead {
		has, err := t.Retriever.HasTileXYZ(c.Request.Context(), x, yy, z, width, height)
		s.writeHas(c, has, err)
		return
	}
	tile, ok, err := t.Retriever.GetTileXYZ(c.Request.Context(), x, yy, z, width, height)
	s.writeTile(c, tile, ok, err)
}

type xyzTileRange struct {
	Zoom             int                  `json:"zoom"`
	MinX             int                  `json:"minX"`
	MaxX             int                  `json:"maxX"`
	MinY             int                  `json:"minY"`
	MaxY             int                  `json:"maxY"`
	WGS84BoundingBox tilegrid.BoundingBox `json:"wgs84BoundingBox"`
}

// GetXYZTileRange lists the XYZ tiles of zoom level z that overlap the table, 404 when none do.
func (s *Server) GetXYZTileRange(c *gin.Context) {
	t, ok := s.table(c)
	if !ok {
		return
	}
	z, err := strconv.Atoi(c.Param("z"))
	if err != nil {
		c.String(http.StatusBadRequest, "invalid zoom level: %v", err)
		return
	}
	tileRange, ok, err := t.Retriever.XYZTileRange(z)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !ok {
		c.String(http.StatusNotFound, "no tiles of zoom level %d overlap %s", z, t.Name)
		return
	}
	c.JSON(http.StatusOK, xyzTileRange{
		Zoom:             tileRange.Zoom,
		MinX:             tileRange.Grid.MinColumn,
		MaxX:             tileRange.Grid.MaxColumn,
		MinY:             tileRange.Grid.MinRow,
		MaxY:             tileRange.Grid.MaxRow,
		WGS84BoundingBox: tileRange.WGS84,
	})
}

// GetBoundingBoxTile serves ?bbox=minx,miny,maxx,maxy in ?srs (default the table SRS).
func (s *Server) GetBoundingBoxTile(c *gin.Context) {
	t, ok := s.table(c)
	if !ok {
		return
	}
	bbox, err := tilegrid.ParseBoundingBox(c.Query("bbox"))
	if err != nil {
		c.String(http.StatusBadRequest, "%v", err)
		return
	}
	srsID := t.Retriever.Pyramid().MatrixSet.SRSID
	if rawSRS := c.Query("srs"); rawSRS != "" {
		if srsID, err = strconv.Atoi(strings.TrimPrefix(strings.ToUpper(rawSRS), "EPSG:")); err != nil {
			c.String(http.StatusBadRequest, "invalid srs %q", rawSRS)
			return
		}
	}
	width, height, ok := s.size(c)
	if !ok {
		return
	}
	if c.Request.Method == http.MethodHead {
		has, err := t.Retriever.HasTile(c.Request.Context(), bbox, srsID, width, height)
		s.writeHas(c, has, err)
		return
	}
	tile, ok, err := t.Retriever.GetTile(c.Request.Context(), bbox, srsID, width, height)
	s.writeTile(c, tile, ok, err)
}

func (s *Server) table(c *gin.Context) (Table, bool) {
	t, ok := s.tables[c.Param("table")]
	if !ok {
		c.String(http.StatusNotFound, "unknown tile table %q", c.Param("table"))
	}
	return t, ok
}

func (s *Server) size(c *gin.Context) (int, int, bool) {
	width, height := s.width, s.height
	for _, q := range []struct {
		name  string
		value *int
	}{{"width", &width}, {"height", &height}} {
		raw := c.Query(q.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.String(http.StatusBadRequest, "invalid %s %q", q.name, raw)
			return 0, 0, false
		}
		*q.value = v
	}
	return width, height, true
}

func (s *Server) writeHas(c *gin.Context, has bool, err error) {
	switch {
	case err != nil:
		c.Status(errorStatus(err))
	case has:
		c.Status(http.StatusOK)
	default:
		c.Status(http.StatusNotFound)
	}
}

func (s *Server) writeTile(c *gin.Context, tile *retrieval.Tile, ok bool, err error) {
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.Header("X-Zoom-Level", strconv.Itoa(tile.ZoomLevel))
	if len(tile.Skipped) > 0 {
		c.Header("X-Skipped-Tiles", strconv.Itoa(len(tile.Skipped)))
	}
	c.Data(http.StatusOK, tile.MediaType, tile.Data)
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("error serving %s: %v", c.Request.URL, err)
	}
	c.String(status, "%v", err)
}

func errorStatus(err error) int {
	for _, callerError := range []error{
		tilegrid.ErrInvalidBoundingBox,
		srs.ErrUnregisteredSRS,
		retrieval.ErrInvalidSize,
		retrieval.ErrInvalidTileAddress,
	} {
		if errors.Is(err, callerError) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}
