package gpkg

// Metadata tables of a tiles GeoPackage, read and written through gorm.
// Tile tables themselves are user named and accessed with plain SQL.

type spatialRefSys struct {
	Name                   string  `gorm:"column:srs_name"`
	ID                     int     `gorm:"column:srs_id;primaryKey"`
	Organization           string  `gorm:"column:organization"`
	OrganizationCoordsysID int     `gorm:"column:organization_coordsys_id"`
	Definition             string  `gorm:"column:definition"`
	Description            *string `gorm:"column:description"`
}

func (spatialRefSys) TableName() string {
	return "gpkg_spatial_ref_sys"
}

type contents struct {
	Name        string   `gorm:"column:table_name;primaryKey"`
	DataType    string   `gorm:"column:data_type"`
	Identifier  *string  `gorm:"column:identifier"`
	Description *string  `gorm:"column:description"`
	MinX        *float64 `gorm:"column:min_x"`
	MinY        *float64 `gorm:"column:min_y"`
	MaxX        *float64 `gorm:"column:max_x"`
	MaxY        *float64 `gorm:"column:max_y"`
	SRSID       *int     `gorm:"column:srs_id"`
}

func (contents) TableName() string {
	return "gpkg_contents"
}

type tileMatrixSet struct {
	Name  string  `gorm:"column:table_name;primaryKey"`
	SRSID int     `gorm:"column:srs_id"`
	MinX  float64 `gorm:"column:min_x"`
	MinY  float64 `gorm:"column:min_y"`
	MaxX  float64 `gorm:"column:max_x"`
	MaxY  float64 `gorm:"column:max_y"`
}

func (tileMatrixSet) TableName() string {
	return "gpkg_tile_matrix_set"
}

type tileMatrix struct {
	Name         string  `gorm:"column:table_name"`
	ZoomLevel    int     `gorm:"column:zoom_level"`
	MatrixWidth  int     `gorm:"column:matrix_width"`
	MatrixHeight int     `gorm:"column:matrix_height"`
	TileWidth    int     `gorm:"column:tile_width"`
	TileHeight   int     `gorm:"column:tile_height"`
	PixelXSize   float64 `gorm:"column:pixel_x_size"`
	PixelYSize   float64 `gorm:"column:pixel_y_size"`
}

func (tileMatrix) TableName() string {
	return "gpkg_tile_matrix"
}

// tileScaling is a row of the NGA tile scaling extension.
type tileScaling struct {
	Name        string `gorm:"column:table_name;primaryKey"`
	ScalingType string `gorm:"column:scaling_type"`
	ZoomIn      *int   `gorm:"column:zoom_in"`
	ZoomOut     *int   `gorm:"column:zoom_out"`
}

func (tileScaling) TableName() string {
	return tileScalingTable
}

type extension struct {
	Name          *string `gorm:"column:table_name"`
	ColumnName    *string `gorm:"column:column_name"`
	ExtensionName string  `gorm:"column:extension_name"`
	Definition    string  `gorm:"column:definition"`
	Scope         string  `gorm:"column:scope"`
}

func (extension) TableName() string {
	return "gpkg_extensions"
}
