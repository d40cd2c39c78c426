package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	"github.com/iancoleman/strcase"
	"github.com/urfave/cli/v2"

	"github.com/pdok/gpkgtiles/config"
	"github.com/pdok/gpkgtiles/geomhelp"
	"github.com/pdok/gpkgtiles/gpkg"
	"github.com/pdok/gpkgtiles/processing"
	"github.com/pdok/gpkgtiles/retrieval"
	"github.com/pdok/gpkgtiles/server"
	"github.com/pdok/gpkgtiles/srs"
	"github.com/pdok/gpkgtiles/tilegrid"
	"github.com/pdok/gpkgtiles/tms20"
)

const GPKG string = `gpkg`
const TABLE string = `table`
const CONFIG string = `config`
const FORMAT string = `format`
const BBOX string = `bbox`
const SRS string = `srs`
const WIDTH string = `width`
const HEIGHT string = `height`
const OUTPUT string = `output`
const Z string = `z`
const X string = `x`
const Y string = `y`
const TILEMATRIXSET string = `tilematrixset`
const TILEMATRICES string = `tilematrices`
const TARGET string = `target`
const OVERWRITE string = `overwrite`
const WORKERS string = `workers`
const PAGESIZE string = `pagesize`
const LISTEN string = `listen`

func envVars(name string) []string {
	return []string{strcase.ToScreamingSnake(name)}
}

//nolint:funlen
func main() {
	app := cli.NewApp()
	app.Name = "gpkgtiles"
	app.Usage = "Render tiles for any bounding box from the tile pyramids in a GeoPackage"
	app.Version = versioninfo.Short()

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:     GPKG,
			Aliases:  []string{"g"},
			Usage:    "GeoPackage with one or more tile tables",
			Required: true,
			EnvVars:  envVars(GPKG),
		},
		&cli.StringFlag{
			Name:    TABLE,
			Aliases: []string{"t"},
			Usage:   "Tile table, may be left out when the GeoPackage has only one",
			EnvVars: envVars(TABLE),
		},
		&cli.StringFlag{
			Name:    CONFIG,
			Aliases: []string{"c"},
			Usage:   "YAML config file",
			EnvVars: envVars(CONFIG),
		},
		&cli.StringFlag{
			Name:    FORMAT,
			Aliases: []string{"f"},
			Usage:   "Output format (png, jpeg, webp), overrides the config file",
			EnvVars: envVars(FORMAT),
		},
	}

	sizeFlags := []cli.Flag{
		&cli.IntFlag{Name: WIDTH, Usage: "Output width in pixels, 0 is the tile width of the table", EnvVars: envVars(WIDTH)},
		&cli.IntFlag{Name: HEIGHT, Usage: "Output height in pixels, 0 is the tile height of the table", EnvVars: envVars(HEIGHT)},
	}
	bboxFlags := []cli.Flag{
		&cli.StringFlag{
			Name:     BBOX,
			Aliases:  []string{"b"},
			Usage:    "Bounding box: minx,miny,maxx,maxy",
			Required: true,
			EnvVars:  envVars(BBOX),
		},
		&cli.IntFlag{
			Name:    SRS,
			Usage:   "EPSG code of the bounding box, defaults to the SRS of the tile table",
			EnvVars: envVars(SRS),
		},
	}
	outputFlag := &cli.StringFlag{
		Name:     OUTPUT,
		Aliases:  []string{"o"},
		Usage:    "Output file",
		Required: true,
		EnvVars:  envVars(OUTPUT),
	}
	xyzFlags := []cli.Flag{
		&cli.IntFlag{Name: Z, Required: true, Usage: "XYZ zoom level"},
		&cli.IntFlag{Name: X, Required: true, Usage: "XYZ column"},
		&cli.IntFlag{Name: Y, Required: true, Usage: "XYZ row"},
	}

	app.Commands = []*cli.Command{
		{
			Name:   "info",
			Usage:  "Describe the tile tables",
			Action: info,
		},
		{
			Name:   "tile",
			Usage:  "Render a bounding box",
			Flags:  append(append(bboxFlags, sizeFlags...), outputFlag),
			Action: tile,
		},
		{
			Name:   "xyz",
			Usage:  "Render a web mercator XYZ tile",
			Flags:  append(append(xyzFlags, sizeFlags...), outputFlag),
			Action: xyz,
		},
		{
			Name:   "has",
			Usage:  "Report whether any tile overlaps a bounding box, exits with 1 when none does",
			Flags:  append(bboxFlags, sizeFlags...),
			Action: has,
		},
		{
			Name:  "export",
			Usage: "Render the tiles of an OGC tile matrix set into a directory or a GeoPackage",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     TILEMATRIXSET,
					Aliases:  []string{"tms"},
					Usage:    `ID of a (built-in) tile matrix set or a tile matrix set JSON file. E.g.: WebMercatorQuad`,
					Required: true,
					EnvVars:  envVars(TILEMATRIXSET),
				},
				&cli.StringFlag{
					Name:     TILEMATRICES,
					Aliases:  []string{"z"},
					Usage:    `IDs (usually the same as the zoom levels) of the tile matrices in the tile matrix set that should be rendered. JSON array of integers. E.g.: [4,5,6,7,8]`,
					Required: true,
					EnvVars:  envVars(TILEMATRICES),
				},
				&cli.StringFlag{
					Name:     TARGET,
					Usage:    "Target directory, or a GeoPackage when it ends with .gpkg",
					Required: true,
					EnvVars:  envVars(TARGET),
				},
				&cli.BoolFlag{
					Name:    OVERWRITE,
					Usage:   "Overwrite a target GeoPackage if it exists",
					EnvVars: envVars(OVERWRITE),
				},
				&cli.IntFlag{
					Name:    WORKERS,
					Aliases: []string{"w"},
					Usage:   "Number of render workers, overrides the config file",
					EnvVars: envVars(WORKERS),
				},
				&cli.IntFlag{
					Name:    PAGESIZE,
					Aliases: []string{"p"},
					Usage:   "Page Size, how many tiles are written per transaction to a target GeoPackage, overrides the config file",
					EnvVars: envVars(PAGESIZE),
				},
			},
			Action: export,
		},
		{
			Name:  "serve",
			Usage: "Serve all tile tables over HTTP",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    LISTEN,
					Aliases: []string{"l"},
					Usage:   "Listen address, overrides the config file",
					EnvVars: envVars(LISTEN),
				},
			},
			Action: serve,
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String(CONFIG))
	if err != nil {
		return nil, err
	}
	if c.IsSet(FORMAT) {
		cfg.Format = c.String(FORMAT)
	}
	if c.IsSet(WIDTH) {
		cfg.Width = c.Int(WIDTH)
	}
	if c.IsSet(HEIGHT) {
		cfg.Height = c.Int(HEIGHT)
	}
	if c.IsSet(WORKERS) {
		cfg.Export.Workers = c.Int(WORKERS)
	}
	if c.IsSet(PAGESIZE) {
		cfg.Export.PageSize = c.Int(PAGESIZE)
	}
	if c.IsSet(LISTEN) {
		cfg.Server.Listen = c.String(LISTEN)
	}
	return cfg, cfg.Validate()
}

// openTables opens the GeoPackage and a retriever for every requested tile table,
// the --table one or else all of them.
func openTables(c *cli.Context, cfg *config.Config) (*gpkg.GeoPackage, []server.Table, error) {
	g, err := gpkg.Open(c.String(GPKG))
	if err != nil {
		return nil, nil, err
	}
	tables, err := g.TileTables(c.Context)
	if err != nil {
		g.Close()
		return nil, nil, err
	}
	if name := c.String(TABLE); name != "" {
		tables = filterTables(tables, name)
		if len(tables) == 0 {
			g.Close()
			return nil, nil, fmt.Errorf("%w: %s", gpkg.ErrUnknownTable, name)
		}
	}
	encoder, err := cfg.Encoder()
	if err != nil {
		g.Close()
		return nil, nil, err
	}
	options, err := cfg.RetrievalOptions()
	if err != nil {
		g.Close()
		return nil, nil, err
	}
	registry := srs.NewRegistry()
	served := make([]server.Table, 0, len(tables))
	for _, t := range tables {
		p, err := g.Pyramid(c.Context, t.Name)
		if err != nil {
			g.Close()
			return nil, nil, err
		}
		served = append(served, server.Table{
			Name:        t.Name,
			Identifier:  t.Identifier,
			Description: t.Description,
			Retriever:   retrieval.New(p, g, registry, encoder, options),
		})
	}
	return g, served, nil
}

func filterTables(tables []gpkg.TileTable, name string) []gpkg.TileTable {
	for _, t := range tables {
		if t.Name == name {
			return []gpkg.TileTable{t}
		}
	}
	return nil
}

// openRetriever is openTables for commands that need exactly one tile table.
func openRetriever(c *cli.Context) (*gpkg.GeoPackage, *retrieval.Retriever, *config.Config, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, nil, err
	}
	g, tables, err := openTables(c, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(tables) != 1 {
		g.Close()
		return nil, nil, nil, fmt.Errorf("%s has %d tile tables, choose one with --%s", c.String(GPKG), len(tables), TABLE)
	}
	return g, tables[0].Retriever, cfg, nil
}

func info(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	g, tables, err := openTables(c, cfg)
	if err != nil {
		return err
	}
	defer g.Close()
	for _, t := range tables {
		p := t.Retriever.Pyramid()
		fmt.Printf("%s (%s)\n", t.Name, t.Identifier)
		fmt.Printf("  srs:         EPSG:%d\n", p.MatrixSet.SRSID)
		fmt.Printf("  extent:      %s\n", geomhelp.ExtentWkt(p.MatrixSet.BoundingBox.Extent(), 0))
		if wgs84, err := t.Retriever.BoundsIn(srs.WGS84); err == nil {
			fmt.Printf("  wgs84:       %s\n", geomhelp.ExtentWkt(wgs84.Extent(), 0))
		}
		fmt.Printf("  zoom levels: %v\n", p.ZoomLevels())
		if p.Scaling != nil {
			fmt.Printf("  scaling:     %v\n", p.Scaling)
		}
	}
	return nil
}

func requestBoundingBox(c *cli.Context, r *retrieval.Retriever) (tilegrid.BoundingBox, int, error) {
	bbox, err := tilegrid.ParseBoundingBox(c.String(BBOX))
	if err != nil {
		return bbox, 0, err
	}
	srsID := r.Pyramid().MatrixSet.SRSID
	if c.IsSet(SRS) {
		srsID = c.Int(SRS)
	}
	return bbox, srsID, nil
}

func writeTile(c *cli.Context, t *retrieval.Tile, ok bool) error {
	if !ok {
		log.Println("no tile")
		return cli.Exit("", 1)
	}
	for _, skipped := range t.Skipped {
		log.Printf("  skipped %v", skipped)
	}
	log.Printf("rendered zoom level %d as %s", t.ZoomLevel, t.MediaType)
	return os.WriteFile(c.String(OUTPUT), t.Data, 0o644)
}

func tile(c *cli.Context) error {
	g, r, cfg, err := openRetriever(c)
	if err != nil {
		return err
	}
	defer g.Close()
	bbox, srsID, err := requestBoundingBox(c, r)
	if err != nil {
		return err
	}
	t, ok, err := r.GetTile(c.Context, bbox, srsID, cfg.Width, cfg.Height)
	if err != nil {
		return err
	}
	return writeTile(c, t, ok)
}

func xyz(c *cli.Context) error {
	g, r, cfg, err := openRetriever(c)
	if err != nil {
		return err
	}
	defer g.Close()
	t, ok, err := r.GetTileXYZ(c.Context, c.Int(X), c.Int(Y), c.Int(Z), cfg.Width, cfg.Height)
	if err != nil {
		return err
	}
	return writeTile(c, t, ok)
}

func has(c *cli.Context) error {
	g, r, cfg, err := openRetriever(c)
	if err != nil {
		return err
	}
	defer g.Close()
	bbox, srsID, err := requestBoundingBox(c, r)
	if err != nil {
		return err
	}
	ok, err := r.HasTile(c.Context, bbox, srsID, cfg.Width, cfg.Height)
	if err != nil {
		return err
	}
	fmt.Println(ok)
	if !ok {
		return cli.Exit("", 1)
	}
	return nil
}

func export(c *cli.Context) error {
	tileMatrixSet, err := tms20.LoadTileMatrixSet(c.String(TILEMATRIXSET))
	if err != nil {
		return err
	}
	var tileMatrixIDs []int
	err = json.Unmarshal([]byte(c.String(TILEMATRICES)), &tileMatrixIDs)
	if err != nil {
		return err
	}
	g, r, cfg, err := openRetriever(c)
	if err != nil {
		return err
	}
	defer g.Close()

	target, closeTarget, err := initTarget(c.Context, c.String(TARGET), c.Bool(OVERWRITE), cfg, &tileMatrixSet, tileMatrixIDs)
	if err != nil {
		return err
	}
	defer closeTarget()

	log.Println("=== start exporting ===")
	_, err = processing.Export(c.Context, r, tileMatrixSet, tileMatrixIDs, target, cfg.Export.Workers)
	if err != nil {
		return err
	}
	log.Println("=== done exporting ===")
	return nil
}

// initTarget creates a GeoPackage target with one tile table named after the tile matrix
// set for a .gpkg path, and a directory target otherwise.
func initTarget(ctx context.Context, path string, overwrite bool, cfg *config.Config,
	tileMatrixSet *tms20.TileMatrixSet, tileMatrixIDs []int) (processing.Target, func(), error) {
	encoder, err := cfg.Encoder()
	if err != nil {
		return nil, nil, err
	}
	if !strings.HasSuffix(path, ".gpkg") {
		return &processing.DirectoryTarget{Dir: path, Extension: encoder.FileExtension()}, func() {}, nil
	}
	if overwrite {
		err = os.Remove(path)
		var pathError *os.PathError
		if err != nil && !(errors.As(err, &pathError) && errors.Is(pathError.Err, syscall.ENOENT)) {
			return nil, nil, fmt.Errorf("could not remove target file: %w", err)
		}
	}
	table := strcase.ToSnake(tileMatrixSet.ID)
	p, err := tileMatrixSet.Pyramid(table, tileMatrixIDs)
	if err != nil {
		return nil, nil, err
	}
	target, err := gpkg.Create(path)
	if err != nil {
		return nil, nil, err
	}
	if err = target.CreateTileTable(ctx, p, tileMatrixSet.Title); err != nil {
		target.Close()
		return nil, nil, err
	}
	closeTarget := func() {
		if err := target.Close(); err != nil {
			log.Printf("error closing %s: %v", path, err)
		}
	}
	return &processing.GeoPackageTarget{GeoPackage: target, Table: table, PageSize: cfg.Export.PageSize}, closeTarget, nil
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	g, tables, err := openTables(c, cfg)
	if err != nil {
		return err
	}
	defer g.Close()
	srv := server.New(tables, cfg.Width, cfg.Height)
	log.Printf("serving %d tile tables on %s", len(tables), cfg.Server.Listen)
	return http.ListenAndServe(cfg.Server.Listen, srv.Handler())
}
