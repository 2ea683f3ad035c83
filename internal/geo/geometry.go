package geo

import (
	"errors"
	"fmt"

	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geos"
)

// GeometryType is the simple-features type name of a record, as GDAL reports it.
type GeometryType string

// Geometry types a shapefile record can be classified as.
const (
	Point           GeometryType = "Point"
	MultiPoint      GeometryType = "MultiPoint"
	LineString      GeometryType = "LineString"
	MultiLineString GeometryType = "MultiLineString"
	Polygon         GeometryType = "Polygon"
	MultiPolygon    GeometryType = "MultiPolygon"
)

// ErrUnsupportedShape is returned for shape types the package does not
// handle, such as the Z and M variants.
var ErrUnsupportedShape = errors.New("unsupported shape type")

// ShapeType is the shapefile record type used to store t.
func (t GeometryType) ShapeType() shp.ShapeType {
	switch t {
	case Point:
		return shp.POINT
	case MultiPoint:
		return shp.MULTIPOINT
	case LineString, MultiLineString:
		return shp.POLYLINE
	case Polygon, MultiPolygon:
		return shp.POLYGON
	}
	return shp.NULL
}

// Classify reports the geometry type of a shapefile record. Null shapes and
// shapes without parts have an empty type.
//
// A polygon record holding one outer ring (and any number of holes) is a
// Polygon; several outer rings make it a MultiPolygon.
func Classify(s shp.Shape) (GeometryType, error) {
	switch s := s.(type) {
	case nil, *shp.Null:
		return "", nil
	case *shp.Point:
		return Point, nil
	case *shp.MultiPoint:
		if len(s.Points) == 0 {
			return "", nil
		}
		return MultiPoint, nil
	case *shp.PolyLine:
		switch len(s.Parts) {
		case 0:
			return "", nil
		case 1:
			return LineString, nil
		}
		return MultiLineString, nil
	case *shp.Polygon:
		switch len(groupRings(splitParts(s.Parts, s.Points))) {
		case 0:
			return "", nil
		case 1:
			return Polygon, nil
		}
		return MultiPolygon, nil
	}
	return "", fmt.Errorf("%w: %T", ErrUnsupportedShape, s)
}

func buildGeometry(s shp.Shape) (g *geos.Geom, err error) {
	// go-geos panics on GEOS errors (unclosed or short rings)
	defer func() {
		if r := recover(); r != nil {
			g, err = nil, fmt.Errorf("build geometry: %v", r)
		}
	}()

	switch s := s.(type) {
	case *shp.Point:
		return geos.NewPoint([]float64{s.X, s.Y}), nil

	case *shp.MultiPoint:
		pts := make([]*geos.Geom, 0, len(s.Points))
		for _, p := range s.Points {
			pts = append(pts, geos.NewPoint([]float64{p.X, p.Y}))
		}
		return geos.NewCollection(geos.TypeIDMultiPoint, pts), nil

	case *shp.PolyLine:
		parts := splitParts(s.Parts, s.Points)
		lines := make([]*geos.Geom, 0, len(parts))
		for _, part := range parts {
			lines = append(lines, geos.NewLineString(coords(part, false)))
		}
		if len(lines) == 1 {
			return lines[0], nil
		}
		return geos.NewCollection(geos.TypeIDMultiLineString, lines), nil

	case *shp.Polygon:
		groups := groupRings(splitParts(s.Parts, s.Points))
		polys := make([]*geos.Geom, 0, len(groups))
		for _, rings := range groups {
			cs := make([][][]float64, 0, len(rings))
			for _, ring := range rings {
				cs = append(cs, coords(ring, true))
			}
			polys = append(polys, geos.NewPolygon(cs))
		}
		if len(polys) == 1 {
			return polys[0], nil
		}
		return geos.NewCollection(geos.TypeIDMultiPolygon, polys), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedShape, s)
}

// splitParts cuts a flat point slice at the part offsets.
func splitParts(parts []int32, points []shp.Point) [][]shp.Point {
	out := make([][]shp.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(points) {
			continue
		}
		if start < end {
			out = append(out, points[start:end])
		}
	}
	return out
}

// groupRings assigns each hole to the first outer ring containing it. Outer
// rings are clockwise; a hole with no container becomes an outer ring.
func groupRings(rings [][]shp.Point) [][][]shp.Point {
	var groups [][][]shp.Point
	var holes [][]shp.Point
	for _, r := range rings {
		if signedArea(r) <= 0 {
			groups = append(groups, [][]shp.Point{r})
		} else {
			holes = append(holes, r)
		}
	}

	for _, h := range holes {
		placed := false
		for i := range groups {
			if ringContains(groups[i][0], h[0]) {
				groups[i] = append(groups[i], h)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, [][]shp.Point{h})
		}
	}
	return groups
}

// signedArea is negative for clockwise rings.
func signedArea(ring []shp.Point) float64 {
	var sum float64
	for i := 0; i+1 < len(ring); i++ {
		sum += ring[i].X*ring[i+1].Y - ring[i+1].X*ring[i].Y
	}
	if n := len(ring); n > 1 && ring[0] != ring[n-1] {
		sum += ring[n-1].X*ring[0].Y - ring[0].X*ring[n-1].Y
	}
	return sum / 2
}

// ringContains is an even-odd ray cast.
func ringContains(ring []shp.Point, p shp.Point) bool {
	in := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if (a.Y > p.Y) != (b.Y > p.Y) && p.X < (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y)+a.X {
			in = !in
		}
	}
	return in
}

func coords(pts []shp.Point, closed bool) [][]float64 {
	out := make([][]float64, 0, len(pts)+1)
	for _, p := range pts {
		out = append(out, []float64{p.X, p.Y})
	}
	if closed && len(pts) > 0 && pts[0] != pts[len(pts)-1] {
		out = append(out, []float64{pts[0].X, pts[0].Y})
	}
	return out
}
