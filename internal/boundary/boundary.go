package boundary

import (
	"fmt"
	"strings"

	"github.com/EmpoweredVote/geosplit/internal/geo"
	"github.com/twpayne/go-geos"
)

// MissingColumnError reports a configured column absent from the boundary layer.
type MissingColumnError struct {
	Path      string
	Column    string
	Available []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("column %q not found in boundary layer %s (available: %s)",
		e.Column, e.Path, strings.Join(e.Available, ", "))
}

// Boundary is one municipality polygon.
type Boundary struct {
	Name string
	Code string

	prepared *geos.PrepGeom
}

// Intersects reports whether g touches or overlaps the boundary.
func (b *Boundary) Intersects(g *geos.Geom) bool {
	return b.prepared.Intersects(g)
}

// Set is the boundary collection for a run. Its CRS is the run's canonical CRS.
type Set struct {
	Path       string
	CRS        geo.CRS
	Boundaries []*Boundary
}

// Columns names the two attribute columns read from the boundary layer.
type Columns struct {
	Name string
	Code string
}

// Load reads the boundary layer at path keeping only the name and code
// columns and the geometry. The columns are checked before any record is used.
func Load(path string, cols Columns) (*Set, error) {
	l, err := geo.ReadLayer(path)
	if err != nil {
		return nil, fmt.Errorf("read boundary layer: %w", err)
	}

	nameIdx, codeIdx, err := checkColumns(l, cols)
	if err != nil {
		return nil, err
	}

	set := &Set{Path: path, CRS: l.CRS}
	for i, f := range l.Features {
		if f.Type == "" {
			continue
		}
		g, err := f.Geometry()
		if err != nil {
			return nil, fmt.Errorf("boundary record %d: %w", i, err)
		}
		set.Boundaries = append(set.Boundaries, &Boundary{
			Name:     f.Attributes[nameIdx],
			Code:     f.Attributes[codeIdx],
			prepared: g.Prepare(),
		})
	}
	return set, nil
}

func checkColumns(l *geo.Layer, cols Columns) (int, int, error) {
	nameIdx := l.FieldIndex(cols.Name)
	if nameIdx < 0 {
		return 0, 0, &MissingColumnError{Path: l.Path, Column: cols.Name, Available: l.FieldNames()}
	}
	codeIdx := l.FieldIndex(cols.Code)
	if codeIdx < 0 {
		return 0, 0, &MissingColumnError{Path: l.Path, Column: cols.Code, Available: l.FieldNames()}
	}
	return nameIdx, codeIdx, nil
}
