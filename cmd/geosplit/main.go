// Command geosplit splits environmental-protection layers (APPs, Reserva Legal)
// into one shapefile per municipality and geometry type.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EmpoweredVote/geosplit/internal/boundary"
	"github.com/EmpoweredVote/geosplit/internal/config"
	"github.com/EmpoweredVote/geosplit/internal/db"
	"github.com/EmpoweredVote/geosplit/internal/logging"
	"github.com/EmpoweredVote/geosplit/internal/manifest"
	"github.com/EmpoweredVote/geosplit/internal/partition"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(os.Stdin, os.Stdout, os.Stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// flags override the values read from the environment.
type flags struct {
	boundary    string
	nameColumn  string
	codeColumn  string
	output      string
	layersFile  string
	manifest    string
	databaseURL string
	layer       string
}

func (f flags) apply(cfg config.Config) config.Config {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.BoundaryPath, f.boundary)
	set(&cfg.NameColumn, f.nameColumn)
	set(&cfg.CodeColumn, f.codeColumn)
	set(&cfg.OutputDir, f.output)
	set(&cfg.LayersFile, f.layersFile)
	set(&cfg.ManifestPath, f.manifest)
	set(&cfg.DatabaseURL, f.databaseURL)
	return cfg
}

type app struct {
	in     io.Reader
	stdout io.Writer
	stderr io.Writer
	flags  flags
}

func newRootCmd(in io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{in: in, stdout: stdout, stderr: stderr}

	run := &cobra.Command{
		Use:   "run",
		Short: "Split one layer by municipality",
		Long: `Reads the municipality boundaries, then every input file of the chosen layer,
and writes one shapefile per municipality and geometry type under the output folder.

Without --layer an interactive menu asks which layer to process.`,
		Args: cobra.NoArgs,
		RunE: a.run,
	}

	layers := &cobra.Command{
		Use:   "layers",
		Short: "List the configured layers",
		Args:  cobra.NoArgs,
		RunE:  a.listLayers,
	}

	root := &cobra.Command{
		Use:           "geosplit",
		Short:         "Partition geospatial layers by municipality",
		Args:          cobra.NoArgs,
		RunE:          a.run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(in)
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.boundary, "boundary", "", "municipality shapefile (env GEOSPLIT_BOUNDARY_PATH)")
	pf.StringVar(&a.flags.nameColumn, "name-column", "", "municipality name column (env GEOSPLIT_NAME_COLUMN)")
	pf.StringVar(&a.flags.codeColumn, "code-column", "", "municipality code column (env GEOSPLIT_CODE_COLUMN)")
	pf.StringVar(&a.flags.output, "output", "", "output folder (env GEOSPLIT_OUTPUT_DIR)")
	pf.StringVar(&a.flags.layersFile, "layers-file", "", "YAML layer overrides (env GEOSPLIT_LAYERS_FILE)")
	pf.StringVar(&a.flags.manifest, "manifest", "", "write the run manifest here (env GEOSPLIT_MANIFEST_PATH)")
	pf.StringVar(&a.flags.databaseURL, "database-url", "", "also store the manifest in Postgres (env DATABASE_URL)")
	for _, c := range []*cobra.Command{root, run} {
		c.Flags().StringVar(&a.flags.layer, "layer", "", "layer to process: APPS or RESERVA_LEGAL")
	}

	root.AddCommand(run, layers)
	return root
}

func (a *app) config() (config.Config, error) {
	cfg := a.flags.apply(config.Load())
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (a *app) logger() zerolog.Logger {
	opt := logging.FromEnv()
	if a.stdout != os.Stdout {
		opt.Writer = a.stdout
	}
	return logging.New(opt)
}

func (a *app) listLayers(cmd *cobra.Command, _ []string) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}
	cat, err := config.LoadCatalog(cfg.LayersFile)
	if err != nil {
		return err
	}
	for i, k := range config.Kinds {
		l := cat[k]
		fmt.Fprintf(a.stdout, "[%d] %-14s %-28s %v\n", i, k.Name(), l.SearchPattern, l.GeometryTypes)
	}
	return nil
}

func (a *app) run(cmd *cobra.Command, _ []string) error {
	log := a.logger()

	cfg, err := a.config()
	if err != nil {
		return err
	}
	cat, err := config.LoadCatalog(cfg.LayersFile)
	if err != nil {
		return err
	}

	log.Info().Str("path", cfg.BoundaryPath).Msg("loading municipality boundaries")
	set, err := boundary.Load(cfg.BoundaryPath, boundary.Columns{Name: cfg.NameColumn, Code: cfg.CodeColumn})
	if err != nil {
		var mc *boundary.MissingColumnError
		if errors.As(err, &mc) {
			log.Error().
				Str("column", mc.Column).
				Strs("available", mc.Available).
				Msg("critical error: set GEOSPLIT_NAME_COLUMN and GEOSPLIT_CODE_COLUMN (or --name-column/--code-column) to columns of the boundary layer")
		} else {
			log.Error().Err(err).Msg("critical error reading the municipality layer")
		}
		return err
	}
	log.Info().Int("municipalities", len(set.Boundaries)).Msg("boundaries loaded")

	kind, err := a.chooseLayer()
	if err != nil {
		return err
	}
	layer, err := cat.Get(kind)
	if err != nil {
		return err
	}

	started := time.Now()
	p := partition.New(set, partition.Options{
		OutputDir: cfg.OutputDir,
		Logger:    log,
		Progress:  a.stderr,
	})
	summary, err := p.Run(cmd.Context(), layer)
	if err != nil {
		return err
	}

	if err := a.recordRun(cmd.Context(), log, cfg, layer, summary, started); err != nil {
		return err
	}

	log.Info().
		Str("output_dir", cfg.OutputDir).
		Int("files", summary.FilesMatched).
		Int("skipped", summary.FilesSkipped).
		Int("written", summary.GroupsWritten).
		Int("failed", summary.GroupsFailed).
		Msg("processing finished")
	fmt.Fprintf(a.stdout, "\nData saved in: %s\n", cfg.OutputDir)
	return nil
}

func (a *app) chooseLayer() (config.LayerKind, error) {
	if a.flags.layer != "" {
		return config.ParseKind(a.flags.layer)
	}
	k, err := promptLayer(a.in, a.stdout)
	if err != nil {
		return 0, fmt.Errorf("%w, exiting", err)
	}
	return k, nil
}

// recordRun writes the manifest to the configured targets. Nothing happens
// when neither is set.
func (a *app) recordRun(ctx context.Context, log zerolog.Logger, cfg config.Config, layer config.Layer, s partition.Summary, started time.Time) error {
	if cfg.ManifestPath == "" && cfg.DatabaseURL == "" {
		return nil
	}

	m := manifest.New(cfg, layer, started)
	if err := m.Complete(s, time.Now()); err != nil {
		log.Warn().Err(err).Msg("some outputs could not be digested")
	}

	if cfg.ManifestPath != "" {
		if err := manifest.WriteYAML(cfg.ManifestPath, m); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
		log.Info().Str("path", cfg.ManifestPath).Str("run", m.ID.String()).Msg("manifest written")
	}

	if cfg.DatabaseURL != "" {
		conn, err := db.Connect(cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		if sqlDB, err := conn.DB(); err == nil {
			defer sqlDB.Close()
		}
		store := manifest.NewStore(conn)
		if err := store.Migrate(); err != nil {
			return err
		}
		if err := store.Save(ctx, m); err != nil {
			return fmt.Errorf("store manifest: %w", err)
		}
		log.Info().Str("run", m.ID.String()).Int("outputs", len(m.Outputs)).Msg("manifest stored")
	}
	return nil
}
