// Package config reads the YAML configuration shared by the commands.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pdok/gpkgtiles/codec"
	"github.com/pdok/gpkgtiles/pyramid"
	"github.com/pdok/gpkgtiles/retrieval"
)

type Config struct {
	// Output format of rendered tiles
	Format  string `yaml:"format" default:"png" validate:"oneof=png jpeg jpg webp"`
	Quality int    `yaml:"quality" default:"85" validate:"min=1,max=100"`
	// Resampling used when source tiles are scaled onto the output
	Resampling string `yaml:"resampling" default:"bilinear" validate:"oneof=nearest approxbilinear bilinear catmullrom"`
	// Output size, 0 means the tile size of the table
	Width            int  `yaml:"width" validate:"min=0"`
	Height           int  `yaml:"height" validate:"min=0"`
	SkipCorruptTiles bool `yaml:"skipCorruptTiles"`
	// Overrides the tile scaling stored in the GeoPackage
	Scaling *Scaling `yaml:"scaling"`
	Server  Server   `yaml:"server"`
	Export  Export   `yaml:"export"`
}

type Scaling struct {
	Type    string `yaml:"type" validate:"required,oneof=in out in_out out_in closest_in_out closest_out_in"`
	ZoomIn  *int   `yaml:"zoomIn" validate:"omitnil,min=0"`
	ZoomOut *int   `yaml:"zoomOut" validate:"omitnil,min=0"`
}

type Server struct {
	Listen string `yaml:"listen" default:":8080" validate:"required"`
}

type Export struct {
	Workers  int `yaml:"workers" default:"4" validate:"min=1"`
	PageSize int `yaml:"pageSize" default:"1000" validate:"min=1"`
}

// Default returns the configuration used when there is no config file.
func Default() *Config {
	config := &Config{}
	if err := defaults.Set(config); err != nil {
		panic(err)
	}
	return config
}

// Load reads file, an empty name gives the defaults.
func Load(file string) (*Config, error) {
	if file == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("could not read config file %s: %w", file, err)
	}
	config, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", file, err)
	}
	return config, nil
}

// Parse reads YAML, fills in the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	config := &Config{}
	if err := defaults.Set(config); err != nil {
		return nil, err
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(c)
}

func (c *Config) Encoder() (codec.Encoder, error) {
	return codec.NewEncoder(c.Format, c.Quality)
}

// RetrievalOptions converts the configuration into options for a retrieval.Retriever.
func (c *Config) RetrievalOptions() (retrieval.Options, error) {
	resampling, err := codec.ParseResampling(c.Resampling)
	if err != nil {
		return retrieval.Options{}, err
	}
	options := retrieval.Options{
		Resampling:       resampling,
		SkipCorruptTiles: c.SkipCorruptTiles,
	}
	if c.Scaling != nil {
		scalingType, err := pyramid.ParseScalingType(c.Scaling.Type)
		if err != nil {
			return retrieval.Options{}, err
		}
		options.Scaling = &pyramid.TileScaling{
			Type:    scalingType,
			ZoomIn:  c.Scaling.ZoomIn,
			ZoomOut: c.Scaling.ZoomOut,
		}
	}
	return options, nil
}
