package geo

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sirgas = `GEOGCS["GCS_SIRGAS_2000",DATUM["D_SIRGAS_2000",SPHEROID["GRS_1980",6378137.0,298.257222101]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

// square is a clockwise (outer) ring.
func square(x0, y0, x1, y1 float64) []shp.Point {
	return []shp.Point{{X: x0, Y: y0}, {X: x0, Y: y1}, {X: x1, Y: y1}, {X: x1, Y: y0}, {X: x0, Y: y0}}
}

func polygon(rings ...[]shp.Point) *shp.Polygon {
	p := shp.Polygon(*shp.NewPolyLine(rings))
	return &p
}

// hole is a counter-clockwise (inner) ring.
func hole(x0, y0, x1, y1 float64) []shp.Point {
	return []shp.Point{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0}}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name  string
		shape shp.Shape
		want  GeometryType
	}{
		{"null", &shp.Null{}, ""},
		{"point", &shp.Point{X: 1, Y: 2}, Point},
		{"multipoint", &shp.MultiPoint{NumPoints: 2, Points: []shp.Point{{X: 1}, {X: 2}}}, MultiPoint},
		{"line", shp.NewPolyLine([][]shp.Point{{{X: 0}, {X: 1}}}), LineString},
		{"multiline", shp.NewPolyLine([][]shp.Point{{{X: 0}, {X: 1}}, {{X: 5}, {X: 6}}}), MultiLineString},
		{"polygon", polygon(square(0, 0, 10, 10)), Polygon},
		{"polygon with hole", polygon(square(0, 0, 10, 10), hole(2, 2, 4, 4)), Polygon},
		{"two outers", polygon(square(0, 0, 1, 1), square(5, 5, 6, 6)), MultiPolygon},
		{"orphan hole", polygon(square(0, 0, 1, 1), hole(5, 5, 6, 6)), MultiPolygon},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Classify(tc.shape)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := Classify(&shp.PolygonZ{})
	assert.ErrorIs(t, err, ErrUnsupportedShape)
}

func TestFeatureGeometry_Intersects(t *testing.T) {
	a := &Feature{Shape: polygon(square(0, 0, 10, 10)), Type: Polygon}
	b := &Feature{Shape: polygon(square(9, 9, 20, 20)), Type: Polygon}
	c := &Feature{Shape: polygon(square(30, 30, 40, 40)), Type: Polygon}
	inHole := &Feature{Shape: &shp.Point{X: 3, Y: 3}, Type: Point}
	donut := &Feature{Shape: polygon(square(0, 0, 10, 10), hole(2, 2, 4, 4)), Type: Polygon}

	ga, err := a.Geometry()
	require.NoError(t, err)
	gb, err := b.Geometry()
	require.NoError(t, err)
	gc, err := c.Geometry()
	require.NoError(t, err)
	gp, err := inHole.Geometry()
	require.NoError(t, err)
	gd, err := donut.Geometry()
	require.NoError(t, err)

	assert.True(t, ga.Intersects(gb))
	assert.False(t, ga.Intersects(gc))
	assert.True(t, ga.Intersects(gp))
	assert.False(t, gd.Intersects(gp), "point inside the hole")

	_, err = (&Feature{Shape: &shp.Null{}}).Geometry()
	assert.Error(t, err)
}

func writeLayer(t *testing.T, path string, typ GeometryType, crs CRS, fields []shp.Field, feats ...*Feature) {
	t.Helper()
	w, err := Create(path, typ, fields, crs)
	require.NoError(t, err)
	for _, f := range feats {
		require.NoError(t, w.Write(f))
	}
	require.NoError(t, w.Close())
}

// readDBF reads the attribute table with go-shp alone.
func readDBF(t *testing.T, path string) ([]shp.Field, [][]string) {
	t.Helper()
	require.FileExists(t, strings.TrimSuffix(path, ".shp")+".dbf")

	r, err := shp.Open(path)
	require.NoError(t, err)
	defer r.Close()

	fields := r.Fields()
	var rows [][]string
	for r.Next() {
		n, _ := r.Shape()
		row := make([]string, len(fields))
		for i := range fields {
			row[i] = strings.TrimRight(r.ReadAttribute(n, i), "\x00 ")
		}
		rows = append(rows, row)
	}
	require.NoError(t, r.Err())
	require.Equal(t, len(rows), r.AttributeCount(), "one DBF record per shape")
	return fields, rows
}

func TestCreateAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apps_polygon.shp")
	fields := []shp.Field{shp.StringField("nome_app", 20), shp.NumberField("area", 10)}

	writeLayer(t, path, Polygon, CRS{WKT: sirgas}, fields,
		&Feature{Shape: polygon(square(0, 0, 1, 1)), Attributes: []string{"Nascente São João", "12"}},
		&Feature{Shape: polygon(square(2, 2, 3, 3)), Attributes: []string{"Rio", "7"}},
	)

	cpg, err := os.ReadFile(filepath.Join(filepath.Dir(path), "apps_polygon.cpg"))
	require.NoError(t, err)
	assert.Equal(t, "UTF-8", string(cpg))

	l, err := ReadLayer(path)
	require.NoError(t, err)
	assert.True(t, l.CRS.Equal(CRS{WKT: sirgas}))
	assert.Equal(t, []string{"nome_app", "area"}, l.FieldNames())
	assert.Equal(t, 1, l.FieldIndex("area"))
	assert.Equal(t, -1, l.FieldIndex("nome"))
	require.Len(t, l.Features, 2)
	assert.Equal(t, []string{"Nascente São João", "12"}, l.Features[0].Attributes)
	assert.Equal(t, Polygon, l.Features[1].Type)
	assert.Equal(t, shp.POLYGON, l.ShapeType)

	fs, rows := readDBF(t, path)
	require.Len(t, fs, 2)
	assert.Equal(t, "nome_app", FieldName(fs[0]))
	assert.Equal(t, [][]string{{"Nascente São João", "12"}, {"Rio", "7"}}, rows)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"apps_polygon.shp", "apps_polygon.shx", "apps_polygon.dbf", "apps_polygon.prj", "apps_polygon.cpg"}, names)
}

func TestCreate_WidensLatin1Columns(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "apps.shp")
	// "Conceição" in ISO-8859-1 fills the 9-byte column exactly
	writeLayer(t, in, Polygon, CRS{}, []shp.Field{shp.StringField("nome", 9)},
		&Feature{Shape: polygon(square(0, 0, 1, 1)), Attributes: []string{"Concei\xe7\xe3o"}},
	)
	require.NoError(t, os.Remove(filepath.Join(dir, "apps.cpg")))
	fs, _ := readDBF(t, in)
	require.Equal(t, uint8(9), fs[0].Size)

	l, err := ReadLayer(in)
	require.NoError(t, err)
	require.Equal(t, "Conceição", l.Features[0].Attributes[0])

	out := filepath.Join(dir, "out.shp")
	writeLayer(t, out, Polygon, l.CRS, l.Fields, l.Features...)

	fs, rows := readDBF(t, out)
	assert.Equal(t, uint8(len("Conceição")), fs[0].Size)
	assert.Equal(t, [][]string{{"Conceição"}}, rows)
}

func TestCreate_ReplacesOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.shp")
	fields := []shp.Field{shp.StringField("id", 10)}
	writeLayer(t, path, Polygon, CRS{WKT: sirgas}, fields,
		&Feature{Shape: polygon(square(0, 0, 1, 1)), Attributes: []string{"old"}},
	)

	w, err := Create(path, Polygon, fields, CRS{})
	require.NoError(t, err)
	require.NoError(t, w.Write(&Feature{Shape: polygon(square(0, 0, 1, 1)), Attributes: []string{"new"}}))

	_, rows := readDBF(t, path)
	assert.Equal(t, [][]string{{"old"}}, rows, "untouched before Close")

	require.NoError(t, w.Close())
	_, rows = readDBF(t, path)
	assert.Equal(t, [][]string{{"new"}}, rows)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(path), "out.prj"))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(path), ".out.tmp.shp"))
}

func TestCreate_NoColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bare.shp")
	writeLayer(t, path, Point, CRS{}, nil,
		&Feature{Shape: &shp.Point{X: 1, Y: 1}},
		&Feature{Shape: &shp.Point{X: 2, Y: 2}},
	)

	l, err := ReadLayer(path)
	require.NoError(t, err)
	assert.True(t, l.CRS.IsZero())
	assert.Equal(t, []string{"FID"}, l.FieldNames())
	require.Len(t, l.Features, 2)
	assert.Equal(t, "1", l.Features[1].Attributes[0])
}

func TestReadLayer_Latin1CodePage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mun.shp")
	writeLayer(t, path, Polygon, CRS{}, []shp.Field{shp.StringField("nome", 20)},
		&Feature{Shape: polygon(square(0, 0, 1, 1)), Attributes: []string{"Po\xe7os de Caldas"}},
	)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mun.cpg"), []byte("1252\n"), 0o644))

	l, err := ReadLayer(path)
	require.NoError(t, err)
	assert.Equal(t, "Poços de Caldas", l.Features[0].Attributes[0])
}

func TestReadLayer_NoCodePage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mun.shp")
	writeLayer(t, path, Polygon, CRS{}, []shp.Field{shp.StringField("nome", 20)},
		&Feature{Shape: polygon(square(0, 0, 1, 1)), Attributes: []string{"S\xe3o Paulo"}},
		&Feature{Shape: polygon(square(1, 1, 2, 2)), Attributes: []string{"Três Marias"}},
	)
	require.NoError(t, os.Remove(filepath.Join(dir, "mun.cpg")))

	l, err := ReadLayer(path)
	require.NoError(t, err)
	assert.Equal(t, "São Paulo", l.Features[0].Attributes[0])
	assert.Equal(t, "Três Marias", l.Features[1].Attributes[0])
}

func TestReadLayer_Missing(t *testing.T) {
	_, err := ReadLayer(filepath.Join(t.TempDir(), "nope.shp"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.shp")
	fields := []shp.Field{shp.StringField("id", 10)}
	writeLayer(t, path, Polygon, CRS{WKT: sirgas}, fields,
		&Feature{Shape: polygon(square(0, 0, 1, 1)), Attributes: []string{"a"}},
	)

	w, err := Append(path, Polygon, []shp.Field{shp.StringField("id", 40)})
	require.NoError(t, err)
	require.NoError(t, w.Write(&Feature{Shape: polygon(square(1, 1, 2, 2)), Attributes: []string{"b-with-a-long-identifier"}}))
	require.NoError(t, w.Close())

	fs, rows := readDBF(t, path)
	assert.Equal(t, uint8(40), fs[0].Size)
	assert.Equal(t, [][]string{{"a"}, {"b-with-a-long-identifier"}}, rows)

	l, err := ReadLayer(path)
	require.NoError(t, err)
	require.Len(t, l.Features, 2)
	assert.True(t, l.CRS.Equal(CRS{WKT: sirgas}), "keeps the CRS on disk")
	assert.Equal(t, shp.Box{MinX: 1, MinY: 1, MaxX: 2, MaxY: 2}, l.Features[1].Shape.BBox())

	// a third pass keeps both earlier rows
	w, err = Append(path, Polygon, fields)
	require.NoError(t, err)
	require.NoError(t, w.Write(&Feature{Shape: polygon(square(2, 2, 3, 3)), Attributes: []string{"c"}}))
	require.NoError(t, w.Close())

	_, rows = readDBF(t, path)
	assert.Equal(t, [][]string{{"a"}, {"b-with-a-long-identifier"}, {"c"}}, rows)
}

func TestAppend_NoColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bare.shp")
	writeLayer(t, path, Point, CRS{}, nil, &Feature{Shape: &shp.Point{X: 1, Y: 1}})

	w, err := Append(path, Point, nil)
	require.NoError(t, err)
	require.NoError(t, w.Write(&Feature{Shape: &shp.Point{X: 2, Y: 2}}))
	require.NoError(t, w.Close())

	_, rows := readDBF(t, path)
	assert.Equal(t, [][]string{{"0"}, {"1"}}, rows)
}

func TestWrite_WrongShapeType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.shp")
	w, err := Create(path, Polygon, nil, CRS{})
	require.NoError(t, err)
	assert.Error(t, w.Write(&Feature{Shape: &shp.Point{}, Type: Point}))
}

func TestAppend_SchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.shp")
	writeLayer(t, path, Polygon, CRS{}, []shp.Field{shp.StringField("id", 10)},
		&Feature{Shape: polygon(square(0, 0, 1, 1)), Attributes: []string{"a"}},
	)

	_, err := Append(path, Polygon, []shp.Field{shp.StringField("codigo", 10)})
	var mismatch *SchemaMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, path, mismatch.Path)
	assert.Equal(t, []string{"id:C"}, mismatch.File)
	assert.Equal(t, []string{"codigo:C"}, mismatch.Rows)
	assert.Contains(t, err.Error(), "file has [id:C], rows have [codigo:C]")

	_, err = Append(path, Point, []shp.Field{shp.StringField("id", 10)})
	assert.True(t, errors.As(err, &mismatch), "shape type differs")
}

func TestAppend_MissingFile(t *testing.T) {
	_, err := Append(filepath.Join(t.TempDir(), "nope.shp"), Polygon, nil)
	assert.Error(t, err)
}

type shift struct {
	dx, dy float64
	closed bool
}

func (s *shift) Transform(x, y float64) (float64, float64, error) { return x + s.dx, y + s.dy, nil }
func (s *shift) Close()                                            { s.closed = true }

func TestConform_SameCRSLeavesCoordinates(t *testing.T) {
	poly := polygon(square(-44.1, -19.9, -43.9, -19.8))
	before := append([]shp.Point(nil), poly.Points...)
	l := &Layer{CRS: CRS{WKT: sirgas}, Features: []*Feature{{Shape: poly, Type: Polygon}}}

	called := false
	changed, err := Conform(l, CRS{WKT: "  " + sirgas + "\n"}, func(src, dst CRS) (Transformer, error) {
		called = true
		return &shift{}, nil
	})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, called)
	assert.Equal(t, before, poly.Points)
}

func TestConform_Transforms(t *testing.T) {
	poly := polygon(square(0, 0, 1, 1))
	pt := &shp.Point{X: 5, Y: 5}
	l := &Layer{CRS: CRS{WKT: "EPSG:31983"}, Features: []*Feature{{Shape: poly, Type: Polygon}, {Shape: pt, Type: Point}}}

	tr := &shift{dx: 10, dy: -10}
	changed, err := Conform(l, CRS{WKT: sirgas}, func(src, dst CRS) (Transformer, error) {
		assert.Equal(t, "EPSG:31983", src.WKT)
		return tr, nil
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, tr.closed)
	assert.Equal(t, sirgas, l.CRS.WKT)
	assert.Equal(t, shp.Point{X: 10, Y: -10}, poly.Points[0])
	assert.Equal(t, shp.Box{MinX: 10, MinY: -10, MaxX: 11, MaxY: -9}, poly.Box)
	assert.Equal(t, &shp.Point{X: 15, Y: -5}, pt)
}

func TestConform_Naive(t *testing.T) {
	l := &Layer{Features: []*Feature{{Shape: &shp.Point{}, Type: Point}}}
	_, err := Conform(l, CRS{WKT: sirgas}, NewProjTransformer)
	assert.ErrorIs(t, err, ErrNaiveGeometries)
}

func TestProjTransformer(t *testing.T) {
	tr, err := NewProjTransformer(CRS{WKT: "EPSG:4326"}, CRS{WKT: "EPSG:3857"})
	require.NoError(t, err)
	defer tr.Close()

	x, y, err := tr.Transform(0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0, x, 1e-6)
	assert.InDelta(t, 0, y, 1e-6)

	// longitude first
	x, _, err = tr.Transform(180, 0)
	require.NoError(t, err)
	assert.InDelta(t, 20037508.34, x, 0.01)
}

func TestFit(t *testing.T) {
	assert.Equal(t, "abc", fit("abc", 10))
	assert.Equal(t, "ab", fit("abc", 2))
	assert.Equal(t, "S", fit("São", 2), "does not split ã")
}
