// Package geo reads and writes shapefile layers and gives their records a
// GEOS geometry for spatial predicates.
package geo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geos"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// Layer is one shapefile loaded in memory.
type Layer struct {
	Path      string
	CRS       CRS
	ShapeType shp.ShapeType
	Fields    []shp.Field
	Features  []*Feature
}

// Feature is one record: its shape, its attribute values (decoded to UTF-8,
// in Fields order) and its geometry type.
type Feature struct {
	Shape      shp.Shape
	Attributes []string
	Type       GeometryType

	geom *geos.Geom
}

// Geometry returns the GEOS geometry of the feature, building it on first use.
func (f *Feature) Geometry() (*geos.Geom, error) {
	if f.geom != nil {
		return f.geom, nil
	}
	if f.Type == "" {
		return nil, errors.New("feature has no geometry")
	}
	g, err := buildGeometry(f.Shape)
	if err != nil {
		return nil, err
	}
	f.geom = g
	return g, nil
}

// FieldName returns the DBF column name of f.
func FieldName(f shp.Field) string {
	return strings.TrimRight(string(f.Name[:]), "\x00")
}

// FieldNames lists the column names of l.
func (l *Layer) FieldNames() []string {
	names := make([]string, len(l.Fields))
	for i, f := range l.Fields {
		names[i] = FieldName(f)
	}
	return names
}

// FieldIndex returns the position of the named column or -1.
func (l *Layer) FieldIndex(name string) int {
	for i, f := range l.Fields {
		if FieldName(f) == name {
			return i
		}
	}
	return -1
}

// ReadLayer loads every record of the shapefile at path together with its
// .prj and .cpg sidecars.
func ReadLayer(path string) (*Layer, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	crs, err := ReadCRS(path)
	if err != nil {
		return nil, err
	}
	decode, err := attributeDecoder(path)
	if err != nil {
		return nil, err
	}

	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer r.Close()

	l := &Layer{Path: path, CRS: crs, ShapeType: r.GeometryType, Fields: r.Fields()}
	for r.Next() {
		n, s := r.Shape()
		t, err := Classify(s)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", n, err)
		}
		attrs := make([]string, len(l.Fields))
		for i := range l.Fields {
			attrs[i] = decode(strings.TrimRight(r.ReadAttribute(n, i), "\x00 "))
		}
		l.Features = append(l.Features, &Feature{Shape: s, Attributes: attrs, Type: t})
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return l, nil
}

func sidecar(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// attributeDecoder picks the DBF text decoder from the .cpg sidecar. Without
// one, valid UTF-8 is kept and anything else is read as ISO-8859-1.
func attributeDecoder(path string) (func(string) string, error) {
	raw, err := os.ReadFile(sidecar(path, ".cpg"))
	if errors.Is(err, os.ErrNotExist) {
		latin1 := charmap.ISO8859_1.NewDecoder()
		return func(s string) string {
			if utf8.ValidString(s) {
				return s
			}
			if out, err := latin1.String(s); err == nil {
				return out
			}
			return s
		}, nil
	}
	if err != nil {
		return nil, err
	}

	enc, err := lookupEncoding(string(raw))
	if err != nil {
		return nil, err
	}
	if enc == unicode.UTF8 {
		return func(s string) string { return s }, nil
	}
	dec := enc.NewDecoder()
	return func(s string) string {
		if out, err := dec.String(s); err == nil {
			return out
		}
		return s
	}, nil
}

// code pages ESRI writes as bare numbers
var codePages = map[string]string{
	"65001":  "utf-8",
	"1252":   "windows-1252",
	"1250":   "windows-1250",
	"1251":   "windows-1251",
	"88591":  "iso-8859-1",
	"8859_1": "iso-8859-1",
	"437":    "ibm437",
	"850":    "ibm850",
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := codePages[n]; ok {
		n = alias
	}
	switch n {
	case "utf-8", "utf8":
		return unicode.UTF8, nil
	case "iso-8859-1", "latin1", "iso8859-1":
		// htmlindex maps these to windows-1252
		return charmap.ISO8859_1, nil
	case "ibm437":
		return charmap.CodePage437, nil
	case "ibm850":
		return charmap.CodePage850, nil
	}
	enc, err := htmlindex.Get(n)
	if err != nil {
		return nil, fmt.Errorf("unsupported code page %q: %w", name, err)
	}
	return enc, nil
}
