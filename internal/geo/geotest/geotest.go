// Package geotest writes small shapefile fixtures for tests.
package geotest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/EmpoweredVote/geosplit/internal/geo"
	"github.com/jonas-p/go-shp"
)

// SIRGAS2000 is the geographic CRS used by IBGE municipality layers.
const SIRGAS2000 = `GEOGCS["GCS_SIRGAS_2000",DATUM["D_SIRGAS_2000",SPHEROID["GRS_1980",6378137.0,298.257222101]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

// WebMercator is EPSG:3857 as ESRI writes it in a .prj.
const WebMercator = `PROJCS["WGS_1984_Web_Mercator_Auxiliary_Sphere",GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Mercator_Auxiliary_Sphere"],PARAMETER["False_Easting",0.0],PARAMETER["False_Northing",0.0],PARAMETER["Central_Meridian",0.0],PARAMETER["Standard_Parallel_1",0.0],PARAMETER["Auxiliary_Sphere_Type",0.0],UNIT["Meter",1.0]]`

// Polygon builds a polygon record from its rings.
func Polygon(rings ...[]shp.Point) *shp.Polygon {
	p := shp.Polygon(*shp.NewPolyLine(rings))
	return &p
}

// Square returns a single-ring polygon.
func Square(x0, y0, x1, y1 float64) *shp.Polygon {
	return Polygon(ring(x0, y0, x1, y1))
}

// MultiSquare returns one polygon record with an outer ring per box.
func MultiSquare(boxes ...[4]float64) *shp.Polygon {
	parts := make([][]shp.Point, 0, len(boxes))
	for _, b := range boxes {
		parts = append(parts, ring(b[0], b[1], b[2], b[3]))
	}
	return Polygon(parts...)
}

func ring(x0, y0, x1, y1 float64) []shp.Point {
	return []shp.Point{{X: x0, Y: y0}, {X: x0, Y: y1}, {X: x1, Y: y1}, {X: x1, Y: y0}, {X: x0, Y: y0}}
}

// Row is a shape and its attribute values.
type Row struct {
	Shape shp.Shape
	Attrs []string
}

// Write creates a shapefile at path holding rows.
func Write(t testing.TB, path string, crs string, fields []shp.Field, rows ...Row) {
	t.Helper()

	typ := geo.Polygon
	if len(rows) > 0 {
		gt, err := geo.Classify(rows[0].Shape)
		if err != nil {
			t.Fatalf("classify fixture: %v", err)
		}
		if gt != "" {
			typ = gt
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create fixture folder: %v", err)
	}
	w, err := geo.Create(path, typ, fields, geo.CRS{WKT: crs})
	if err != nil {
		t.Fatalf("create fixture %s: %v", path, err)
	}
	for _, r := range rows {
		if err := w.Write(&geo.Feature{Shape: r.Shape, Attributes: r.Attrs}); err != nil {
			t.Fatalf("write fixture %s: %v", path, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close fixture %s: %v", path, err)
	}
}

// Read loads a shapefile or fails the test.
func Read(t testing.TB, path string) *geo.Layer {
	t.Helper()
	l, err := geo.ReadLayer(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return l
}
