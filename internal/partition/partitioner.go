// Package partition splits input layers by municipality.
package partition

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/EmpoweredVote/geosplit/internal/boundary"
	"github.com/EmpoweredVote/geosplit/internal/config"
	"github.com/EmpoweredVote/geosplit/internal/geo"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
)

// Options configures a Partitioner.
type Options struct {
	// OutputDir receives one folder per municipality.
	OutputDir string

	Logger zerolog.Logger

	// Progress receives the progress bar; nil hides it.
	Progress io.Writer

	// NewTransformer reprojects inputs whose CRS differs from the boundaries'.
	// Defaults to geo.NewProjTransformer.
	NewTransformer geo.TransformerFactory

	// HeartbeatInterval throttles the debug line emitted while joining.
	HeartbeatInterval time.Duration
}

// Output is one file written during a run.
type Output struct {
	Path         string
	Municipality string
	Code         string
	GeometryType geo.GeometryType
	Rows         int
}

// Summary describes what a run did.
type Summary struct {
	Layer         string
	FilesMatched  int
	FilesSkipped  int
	GroupsWritten int
	GroupsFailed  int
	Outputs       []Output
}

// Partitioner joins input layers against a boundary set and writes one file
// per municipality and geometry type.
type Partitioner struct {
	set  *boundary.Set
	opts Options
	log  zerolog.Logger
}

// New returns a Partitioner over set.
func New(set *boundary.Set, opts Options) *Partitioner {
	if opts.NewTransformer == nil {
		opts.NewTransformer = geo.NewProjTransformer
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 5 * time.Second
	}
	return &Partitioner{set: set, opts: opts, log: opts.Logger}
}

// run holds the state of one Run call.
type run struct {
	layer   config.Layer
	summary Summary
	outputs map[string]*Output
}

// Run processes every file matching layer.SearchPattern in sorted order.
// Unreadable files and failed group writes are logged and skipped. The only
// errors returned are a malformed pattern and ctx being done, which is
// checked between files.
func (p *Partitioner) Run(ctx context.Context, layer config.Layer) (Summary, error) {
	r := &run{
		layer:   layer,
		summary: Summary{Layer: layer.Name()},
		outputs: map[string]*Output{},
	}

	files, err := filepath.Glob(layer.SearchPattern)
	if err != nil {
		return r.summary, fmt.Errorf("search pattern %q: %w", layer.SearchPattern, err)
	}
	sort.Strings(files)
	r.summary.FilesMatched = len(files)

	log := p.log.With().Str("layer", layer.Name()).Logger()
	if len(files) == 0 {
		log.Warn().Str("search_pattern", layer.SearchPattern).Msg("no files found for layer, check the search pattern")
		return r.finish(), nil
	}
	log.Info().Int("files", len(files)).Msg("processing")

	bar := p.progressBar(len(files), layer.Name())
	for idx, file := range files {
		if err := ctx.Err(); err != nil {
			_ = bar.Exit()
			return r.finish(), err
		}

		log.Debug().Int("index", idx).Str("file", file).Msg("reading")
		if err := p.processFile(r, file); err != nil {
			log.Error().Err(err).Str("file", file).Msg("error reading file, skipping")
			r.summary.FilesSkipped++
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	return r.finish(), nil
}

func (r *run) finish() Summary {
	s := r.summary
	s.Outputs = make([]Output, 0, len(r.outputs))
	for _, o := range r.outputs {
		s.Outputs = append(s.Outputs, *o)
	}
	sort.Slice(s.Outputs, func(i, j int) bool { return s.Outputs[i].Path < s.Outputs[j].Path })
	return s
}

func (p *Partitioner) progressBar(n int, name string) *progressbar.ProgressBar {
	w := p.opts.Progress
	if w == nil {
		w = io.Discard
	}
	return progressbar.NewOptions(n,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Progress of "+name),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
	)
}

// processFile reads, conforms, joins and writes one input file.
func (p *Partitioner) processFile(r *run, file string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("geometry engine: %v", rec)
		}
	}()

	l, err := geo.ReadLayer(file)
	if err != nil {
		return err
	}
	if _, err := geo.Conform(l, p.set.CRS, p.opts.NewTransformer); err != nil {
		return fmt.Errorf("reproject: %w", err)
	}

	rows := p.join(l)
	for _, gt := range r.layer.GeometryTypes {
		typ := geo.GeometryType(gt)
		groups := groupByName(filterType(rows, typ))
		for _, g := range groups {
			p.writeGroup(r, l, typ, g)
		}
	}
	return nil
}
