package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
)

// LayerKind identifies one of the supported input layers.
type LayerKind int

const (
	LayerAPPS LayerKind = iota
	LayerReservaLegal
)

// Kinds lists every LayerKind in menu order.
var Kinds = []LayerKind{LayerAPPS, LayerReservaLegal}

var ErrUnknownLayer = errors.New("unknown layer")

// Name is the layer name used in output file names and in the catalog file.
func (k LayerKind) Name() string {
	switch k {
	case LayerAPPS:
		return "APPS"
	case LayerReservaLegal:
		return "RESERVA_LEGAL"
	}
	return "LayerKind(" + strconv.Itoa(int(k)) + ")"
}

// Label is the human description shown in the menu.
func (k LayerKind) Label() string {
	switch k {
	case LayerAPPS:
		return "APPs (Polygons)"
	case LayerReservaLegal:
		return "Reserva Legal (Polygons)"
	}
	return k.Name()
}

func (k LayerKind) String() string { return k.Name() }

// ParseKind resolves a layer name (case-insensitive).
func ParseKind(name string) (LayerKind, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	for _, k := range Kinds {
		if k.Name() == n {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLayer, name)
}

// KindFromIndex resolves a menu selection such as "0" or "1".
func KindFromIndex(s string) (LayerKind, error) {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || i < 0 || i >= len(Kinds) {
		return 0, fmt.Errorf("invalid option %q", strings.TrimSpace(s))
	}
	return Kinds[i], nil
}

// Layer describes which files to read for a kind and which geometry types to keep.
type Layer struct {
	Kind          LayerKind `yaml:"-"`
	SearchPattern string    `yaml:"search_pattern" validate:"required"`
	GeometryTypes []string  `yaml:"geometry_types" validate:"required,min=1,dive,oneof=Point MultiPoint LineString MultiLineString Polygon MultiPolygon"`
}

// Name is shorthand for l.Kind.Name().
func (l Layer) Name() string { return l.Kind.Name() }

// Catalog maps each supported kind to its layer configuration.
type Catalog map[LayerKind]Layer

// DefaultCatalog returns the built-in layer configurations.
func DefaultCatalog() Catalog {
	return Catalog{
		LayerAPPS: {
			Kind:          LayerAPPS,
			SearchPattern: "dados_entrada/APPS_*.shp",
			GeometryTypes: []string{"Polygon"},
		},
		LayerReservaLegal: {
			Kind:          LayerReservaLegal,
			SearchPattern: "dados_entrada/RESERVA_LEGAL_*.shp",
			GeometryTypes: []string{"Polygon"},
		},
	}
}

// Get returns the layer for k.
func (c Catalog) Get(k LayerKind) (Layer, error) {
	l, ok := c[k]
	if !ok {
		return Layer{}, fmt.Errorf("%w: %s", ErrUnknownLayer, k)
	}
	return l, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateLayer checks a single layer configuration.
func ValidateLayer(l Layer) error {
	if err := validate.Struct(l); err != nil {
		return fmt.Errorf("layer %s: %w", l.Name(), err)
	}
	return nil
}

// LoadCatalog returns the default catalog with overrides from path applied.
// An empty path yields the defaults.
//
// File format:
//
//	layers:
//	  APPS:
//	    search_pattern: data/APPS_*.shp
//	    geometry_types: [Polygon, MultiPolygon]
func LoadCatalog(path string) (Catalog, error) {
	cat := DefaultCatalog()
	if path == "" {
		return cat, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layers file: %w", err)
	}
	return applyOverrides(cat, data)
}

type catalogFile struct {
	Layers map[string]layerOverride `yaml:"layers"`
}

type layerOverride struct {
	SearchPattern string   `yaml:"search_pattern"`
	GeometryTypes []string `yaml:"geometry_types"`
}

func applyOverrides(cat Catalog, data []byte) (Catalog, error) {
	var f catalogFile
	if err := yaml.UnmarshalWithOptions(data, &f, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("parse layers file: %w", err)
	}

	for name, o := range f.Layers {
		k, err := ParseKind(name)
		if err != nil {
			return nil, err
		}
		l := cat[k]
		if o.SearchPattern != "" {
			l.SearchPattern = o.SearchPattern
		}
		if len(o.GeometryTypes) > 0 {
			l.GeometryTypes = o.GeometryTypes
		}
		cat[k] = l
	}

	for _, k := range Kinds {
		if err := ValidateLayer(cat[k]); err != nil {
			return nil, err
		}
	}
	return cat, nil
}
