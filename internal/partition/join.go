package partition

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/EmpoweredVote/geosplit/internal/boundary"
	"github.com/EmpoweredVote/geosplit/internal/geo"
	"golang.org/x/time/rate"
)

// joined pairs a feature with one boundary it intersects.
type joined struct {
	feature  *geo.Feature
	boundary *boundary.Boundary
}

// group is every joined row of one geometry type sharing a boundary name.
type group struct {
	name string
	rows []joined
}

// join is an inner spatial join with the intersects predicate. Features
// without geometry or touching no boundary are dropped; a feature touching
// several boundaries yields one row per boundary.
func (p *Partitioner) join(l *geo.Layer) []joined {
	heartbeat := rate.Sometimes{Interval: p.opts.HeartbeatInterval}

	var rows []joined
	for i, f := range l.Features {
		if f.Type == "" {
			continue
		}
		g, err := f.Geometry()
		if err != nil {
			p.log.Warn().Err(err).Str("file", l.Path).Int("record", i).Msg("skipping feature")
			continue
		}
		for _, b := range p.set.Boundaries {
			if b.Intersects(g) {
				rows = append(rows, joined{feature: f, boundary: b})
			}
		}
		heartbeat.Do(func() {
			p.log.Debug().Str("file", l.Path).Int("done", i+1).Int("total", len(l.Features)).Msg("joining")
		})
	}
	return rows
}

// filterType keeps rows whose geometry type is exactly t.
func filterType(rows []joined, t geo.GeometryType) []joined {
	var out []joined
	for _, r := range rows {
		if r.feature.Type == t {
			out = append(out, r)
		}
	}
	return out
}

// groupByName groups rows by the literal boundary name, in name order.
func groupByName(rows []joined) []group {
	byName := map[string][]joined{}
	for _, r := range rows {
		byName[r.boundary.Name] = append(byName[r.boundary.Name], r)
	}

	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)

	groups := make([]group, 0, len(names))
	for _, n := range names {
		groups = append(groups, group{name: n, rows: byName[n]})
	}
	return groups
}

// writeGroup writes g to its municipality folder. The first write to a path
// in this run creates the file, replacing leftovers from earlier runs; later
// writes append. Failures are logged and the group is dropped, leaving the
// file as it was.
func (p *Partitioner) writeGroup(r *run, l *geo.Layer, typ geo.GeometryType, g group) {
	log := p.log.With().
		Str("municipality", g.name).
		Str("geometry_type", string(typ)).
		Logger()

	folder := filepath.Join(p.opts.OutputDir, FolderName(g.name))
	if err := os.MkdirAll(folder, 0o755); err != nil {
		log.Error().Err(err).Msg("error saving data")
		r.summary.GroupsFailed++
		return
	}
	path := filepath.Join(folder, OutputFileName(r.layer.Name(), typ))

	out, seen := r.outputs[path]
	var (
		w   *geo.Writer
		err error
	)
	if seen {
		w, err = geo.Append(path, typ, l.Fields)
	} else {
		w, err = geo.Create(path, typ, l.Fields, p.set.CRS)
	}
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("error saving data")
		r.summary.GroupsFailed++
		return
	}

	for _, row := range g.rows {
		if err = w.Write(row.feature); err != nil {
			break
		}
	}
	if err == nil {
		err = w.Close()
	}
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("error saving data")
		r.summary.GroupsFailed++
		return
	}

	if !seen {
		out = &Output{
			Path:         path,
			Municipality: g.name,
			Code:         g.rows[0].boundary.Code,
			GeometryType: typ,
		}
		r.outputs[path] = out
	}
	out.Rows += len(g.rows)
	r.summary.GroupsWritten++
}
