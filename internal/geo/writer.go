package geo

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
)

// SchemaMismatchError is returned when appending rows whose columns or shape
// type differ from the file already on disk.
type SchemaMismatchError struct {
	Path string
	File []string
	Rows []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch appending to %s: file has [%s], rows have [%s]",
		e.Path, strings.Join(e.File, ", "), strings.Join(e.Rows, ", "))
}

// fidField stands in for the attribute table when a layer has no columns.
var fidField = shp.NumberField("FID", 10)

// maxFieldSize is the widest character column a DBF can hold.
const maxFieldSize = 254

// shapeFiles are the parts written by go-shp. The .prj and .cpg sidecars are
// written separately.
var shapeFiles = []string{".shp", ".shx", ".dbf"}

// Writer collects the features of one output shapefile and writes the whole
// file on Close. Nothing on disk changes before Close.
type Writer struct {
	path   string
	typ    GeometryType
	crs    CRS
	fields []shp.Field
	fid    bool
	rows   []*Feature
}

// Create starts a new shapefile at path. Close replaces any existing file;
// the .prj gets crs and the .cpg declares UTF-8.
func Create(path string, t GeometryType, fields []shp.Field, crs CRS) (*Writer, error) {
	if t.ShapeType() == shp.NULL {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedShape, t)
	}
	fields, fid := outputFields(fields)
	return &Writer{path: path, typ: t, crs: crs, fields: append([]shp.Field(nil), fields...), fid: fid}, nil
}

// Append continues an existing shapefile. The file must hold the same shape
// type and the same column names and types, in order. Its records are kept
// and written back ahead of the new ones on Close.
func Append(path string, t GeometryType, fields []shp.Field) (*Writer, error) {
	fields, fid := outputFields(fields)

	existing, err := ReadLayer(path)
	if err != nil {
		return nil, err
	}
	if existing.ShapeType != t.ShapeType() || !sameColumns(existing.Fields, fields) {
		return nil, &SchemaMismatchError{Path: path, File: describe(existing.Fields), Rows: describe(fields)}
	}

	return &Writer{
		path:   path,
		typ:    t,
		crs:    existing.CRS,
		fields: widest(existing.Fields, fields),
		fid:    fid,
		rows:   existing.Features,
	}, nil
}

// Write queues one record.
func (w *Writer) Write(f *Feature) error {
	if f.Type != "" && f.Type.ShapeType() != w.typ.ShapeType() {
		return fmt.Errorf("%s: cannot store %s in a %s file", w.path, f.Type, w.typ)
	}
	w.rows = append(w.rows, f)
	return nil
}

// Close writes every queued record. The shapefile is built next to path
// under a temporary name and renamed over it once complete.
func (w *Writer) Close() error {
	fields := w.sizedFields()

	dir, name := filepath.Split(w.path)
	tmp := filepath.Join(dir, "."+strings.TrimSuffix(name, filepath.Ext(name))+".tmp")
	defer removeShapefile(tmp)

	sw, err := shp.Create(tmp+".shp", w.typ.ShapeType())
	if err != nil {
		return fmt.Errorf("create %s: %w", w.path, err)
	}
	if err := sw.SetFields(fields); err != nil {
		return fmt.Errorf("set fields: %w", err)
	}
	for _, f := range w.rows {
		row := int(sw.Write(f.Shape))
		for i, fld := range fields {
			if err := sw.WriteAttribute(row, i, fit(w.value(f, row, i), fld.Size)); err != nil {
				sw.Close()
				return fmt.Errorf("%s row %d column %s: %w", w.path, row, FieldName(fld), err)
			}
		}
	}
	sw.Close()

	for _, ext := range shapeFiles {
		if err := os.Rename(tmp+ext, sidecar(w.path, ext)); err != nil {
			return err
		}
	}
	if err := os.WriteFile(sidecar(w.path, ".cpg"), []byte("UTF-8"), 0o644); err != nil {
		return err
	}
	prj := sidecar(w.path, ".prj")
	if w.crs.IsZero() {
		if err := os.Remove(prj); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return os.WriteFile(prj, []byte(w.crs.WKT), 0o644)
}

func (w *Writer) value(f *Feature, row, col int) string {
	if w.fid {
		return strconv.Itoa(row)
	}
	if col < len(f.Attributes) {
		return f.Attributes[col]
	}
	return ""
}

// sizedFields widens character columns to the longest value they will hold,
// up to maxFieldSize. Values read in a single-byte code page grow when
// stored as UTF-8.
func (w *Writer) sizedFields() []shp.Field {
	out := append([]shp.Field(nil), w.fields...)
	if w.fid {
		return out
	}
	for i := range out {
		if out[i].Fieldtype != 'C' {
			continue
		}
		size := int(out[i].Size)
		for _, f := range w.rows {
			if i < len(f.Attributes) && len(f.Attributes[i]) > size {
				size = len(f.Attributes[i])
			}
		}
		if size > maxFieldSize {
			size = maxFieldSize
		}
		out[i].Size = uint8(size)
	}
	return out
}

func removeShapefile(base string) {
	for _, ext := range shapeFiles {
		_ = os.Remove(base + ext)
	}
}

func outputFields(fields []shp.Field) ([]shp.Field, bool) {
	if len(fields) == 0 {
		return []shp.Field{fidField}, true
	}
	return fields, false
}

func sameColumns(a, b []shp.Field) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if FieldName(a[i]) != FieldName(b[i]) || a[i].Fieldtype != b[i].Fieldtype {
			return false
		}
	}
	return true
}

// widest keeps the columns of a with each size raised to b's when larger.
func widest(a, b []shp.Field) []shp.Field {
	out := append([]shp.Field(nil), a...)
	for i := range out {
		if i < len(b) && b[i].Size > out[i].Size {
			out[i].Size = b[i].Size
		}
	}
	return out
}

func describe(fields []shp.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = fmt.Sprintf("%s:%c", FieldName(f), f.Fieldtype)
	}
	return out
}

// fit cuts s to at most size bytes without splitting a rune.
func fit(s string, size uint8) string {
	if len(s) <= int(size) {
		return s
	}
	cut := int(size)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
