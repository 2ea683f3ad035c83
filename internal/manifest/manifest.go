// Package manifest records what a run wrote: one entry per output file with
// its row count and content digest.
package manifest

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/EmpoweredVote/geosplit/internal/config"
	"github.com/EmpoweredVote/geosplit/internal/partition"
	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Namespace seeds the name-based IDs. Stable forever.
var Namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/EmpoweredVote/geosplit"))

// Run is one invocation of the partitioner.
type Run struct {
	ID            uuid.UUID `yaml:"id"`
	Layer         string    `yaml:"layer"`
	SearchPattern string    `yaml:"search_pattern"`
	GeometryTypes []string  `yaml:"geometry_types"`
	BoundaryPath  string    `yaml:"boundary_path"`
	OutputDir     string    `yaml:"output_dir"`
	StartedAt     time.Time `yaml:"started_at"`
	FinishedAt    time.Time `yaml:"finished_at"`
	FilesMatched  int       `yaml:"files_matched"`
	FilesSkipped  int       `yaml:"files_skipped"`
	GroupsWritten int       `yaml:"groups_written"`
	GroupsFailed  int       `yaml:"groups_failed"`
	Outputs       []Output  `yaml:"outputs"`
}

// Output is one file produced by a run.
type Output struct {
	ID             uuid.UUID `yaml:"id"`
	Municipality   string    `yaml:"municipality"`
	MunicipalityID uuid.UUID `yaml:"municipality_id"`
	Code           string    `yaml:"code"`
	GeometryType   string    `yaml:"geometry_type"`
	Path           string    `yaml:"path"`
	Rows           int       `yaml:"rows"`
	Digest         string    `yaml:"digest"`
}

// New starts a run record.
func New(cfg config.Config, layer config.Layer, started time.Time) *Run {
	return &Run{
		ID:            uuid.New(),
		Layer:         layer.Name(),
		SearchPattern: layer.SearchPattern,
		GeometryTypes: append([]string(nil), layer.GeometryTypes...),
		BoundaryPath:  cfg.BoundaryPath,
		OutputDir:     cfg.OutputDir,
		StartedAt:     started.UTC(),
	}
}

// OutputID is the ID of the output at path within run.
func OutputID(run uuid.UUID, path string) uuid.UUID {
	return uuid.NewSHA1(Namespace, []byte("output:"+run.String()+":"+filepath.ToSlash(path)))
}

// MunicipalityID is derived from the municipality code so it is the same
// across runs.
func MunicipalityID(code string) uuid.UUID {
	return uuid.NewSHA1(Namespace, []byte("municipality:"+strings.TrimSpace(code)))
}

// Complete copies the summary into r and digests every output. A digest
// failure leaves that output's digest empty and is returned after all outputs
// are processed.
func (r *Run) Complete(s partition.Summary, finished time.Time) error {
	r.FinishedAt = finished.UTC()
	r.FilesMatched = s.FilesMatched
	r.FilesSkipped = s.FilesSkipped
	r.GroupsWritten = s.GroupsWritten
	r.GroupsFailed = s.GroupsFailed

	var firstErr error
	r.Outputs = make([]Output, 0, len(s.Outputs))
	for _, o := range s.Outputs {
		digest, err := Digest(o.Path)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		r.Outputs = append(r.Outputs, Output{
			ID:             OutputID(r.ID, o.Path),
			Municipality:   o.Municipality,
			MunicipalityID: MunicipalityID(o.Code),
			Code:           o.Code,
			GeometryType:   string(o.GeometryType),
			Path:           o.Path,
			Rows:           o.Rows,
			Digest:         digest,
		})
	}
	return firstErr
}

// Digest is the BLAKE2b-256 of a shapefile's .shp followed by its .dbf.
func Digest(shpPath string) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	base := strings.TrimSuffix(shpPath, filepath.Ext(shpPath))
	for _, ext := range []string{".shp", ".dbf"} {
		if err := copyInto(h, base+ext); err != nil {
			return "", fmt.Errorf("digest %s: %w", base+ext, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyInto(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// WriteYAML writes r to path, creating parent folders.
func WriteYAML(path string, r *Run) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadYAML loads a manifest written by WriteYAML.
func ReadYAML(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Run
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &r, nil
}
