package geo

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-proj/v10"
)

// ErrNaiveGeometries is returned when one side of a reprojection has no CRS.
var ErrNaiveGeometries = errors.New("cannot transform naive geometries: layer has no CRS")

// CRS is a coordinate reference system as stored in a .prj sidecar (WKT).
// The zero value means "unknown".
type CRS struct {
	WKT string
}

// IsZero reports whether the CRS is unknown.
func (c CRS) IsZero() bool { return strings.TrimSpace(c.WKT) == "" }

// Equal compares two definitions ignoring whitespace.
func (c CRS) Equal(o CRS) bool {
	return strings.Join(strings.Fields(c.WKT), "") == strings.Join(strings.Fields(o.WKT), "")
}

// ReadCRS reads the .prj next to a shapefile. A missing .prj yields the zero CRS.
func ReadCRS(shpPath string) (CRS, error) {
	b, err := os.ReadFile(sidecar(shpPath, ".prj"))
	if errors.Is(err, os.ErrNotExist) {
		return CRS{}, nil
	}
	if err != nil {
		return CRS{}, err
	}
	return CRS{WKT: strings.TrimSpace(string(b))}, nil
}

// Transformer converts planar coordinates between two CRSs.
type Transformer interface {
	Transform(x, y float64) (float64, float64, error)
	Close()
}

// TransformerFactory builds a Transformer from src to dst.
type TransformerFactory func(src, dst CRS) (Transformer, error)

type projTransformer struct {
	pj *proj.PJ
}

// NewProjTransformer builds a PROJ transformation with x=easting/longitude,
// y=northing/latitude axis order, the order shapefiles store.
func NewProjTransformer(src, dst CRS) (Transformer, error) {
	pj, err := proj.NewCRSToCRS(src.WKT, dst.WKT, nil)
	if err != nil {
		return nil, fmt.Errorf("create transformation: %w", err)
	}
	norm, err := pj.NormalizeForVisualization()
	pj.Destroy()
	if err != nil {
		return nil, fmt.Errorf("normalize axis order: %w", err)
	}
	return &projTransformer{pj: norm}, nil
}

func (t *projTransformer) Transform(x, y float64) (float64, float64, error) {
	c, err := t.pj.Forward(proj.NewCoord(x, y, 0, 0))
	if err != nil {
		return 0, 0, err
	}
	return c.X(), c.Y(), nil
}

func (t *projTransformer) Close() { t.pj.Destroy() }

// Conform reprojects l into target unless it is already there. It reports
// whether any coordinate was transformed.
func Conform(l *Layer, target CRS, newTransformer TransformerFactory) (bool, error) {
	if l.CRS.Equal(target) {
		return false, nil
	}
	if l.CRS.IsZero() || target.IsZero() {
		return false, ErrNaiveGeometries
	}

	t, err := newTransformer(l.CRS, target)
	if err != nil {
		return false, err
	}
	defer t.Close()

	for i, f := range l.Features {
		if err := transformShape(f.Shape, t); err != nil {
			return false, fmt.Errorf("record %d: %w", i, err)
		}
		f.geom = nil
	}
	l.CRS = target
	return true, nil
}

func transformShape(s shp.Shape, t Transformer) error {
	switch s := s.(type) {
	case *shp.Point:
		x, y, err := t.Transform(s.X, s.Y)
		if err != nil {
			return err
		}
		s.X, s.Y = x, y
	case *shp.MultiPoint:
		if err := transformPoints(s.Points, t); err != nil {
			return err
		}
		s.Box = shp.BBoxFromPoints(s.Points)
	case *shp.PolyLine:
		if err := transformPoints(s.Points, t); err != nil {
			return err
		}
		s.Box = shp.BBoxFromPoints(s.Points)
	case *shp.Polygon:
		if err := transformPoints(s.Points, t); err != nil {
			return err
		}
		s.Box = shp.BBoxFromPoints(s.Points)
	}
	return nil
}

func transformPoints(pts []shp.Point, t Transformer) error {
	for i := range pts {
		x, y, err := t.Transform(pts[i].X, pts[i].Y)
		if err != nil {
			return err
		}
		pts[i].X, pts[i].Y = x, y
	}
	return nil
}
