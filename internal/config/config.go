package config

import (
	"errors"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Common errors
var (
	ErrMissingBoundaryPath = errors.New("GEOSPLIT_BOUNDARY_PATH is required")
	ErrMissingNameColumn   = errors.New("GEOSPLIT_NAME_COLUMN is required")
	ErrMissingCodeColumn   = errors.New("GEOSPLIT_CODE_COLUMN is required")
	ErrMissingOutputDir    = errors.New("GEOSPLIT_OUTPUT_DIR is required")
	ErrSameColumns         = errors.New("name and code columns must differ")
)

// Defaults for the Minas Gerais municipality layer.
const (
	DefaultBoundaryPath = "dados_entrada/MG_Municipios_2024.shp"
	DefaultNameColumn   = "nome"
	DefaultCodeColumn   = "geocodigo"
	DefaultOutputDir    = "dados_saida_shp_processados"
)

// EnvFile is loaded before reading the environment. A missing file is not an error.
const EnvFile = ".env.local"

// Config holds run-wide settings. It is built once and passed by value.
type Config struct {
	// Boundary layer (municipalities) and the two attribute columns read from it.
	BoundaryPath string
	NameColumn   string
	CodeColumn   string

	// Root folder that receives one subfolder per municipality.
	OutputDir string

	// Optional YAML file overriding the built-in layer catalog.
	LayersFile string

	// Optional run manifest targets.
	ManifestPath string
	DatabaseURL  string
}

// Load reads EnvFile (if present) and then the environment.
//
// Environment variables:
//   - GEOSPLIT_BOUNDARY_PATH: municipality shapefile (default: dados_entrada/MG_Municipios_2024.shp)
//   - GEOSPLIT_NAME_COLUMN: municipality name column (default: nome)
//   - GEOSPLIT_CODE_COLUMN: municipality code column (default: geocodigo)
//   - GEOSPLIT_OUTPUT_DIR: output root (default: dados_saida_shp_processados)
//   - GEOSPLIT_LAYERS_FILE: YAML layer catalog overrides (optional)
//   - GEOSPLIT_MANIFEST_PATH: where to write the YAML run manifest (optional)
//   - DATABASE_URL: Postgres DSN for the run manifest (optional)
func Load() Config {
	_ = godotenv.Load(EnvFile)
	return LoadFromEnv()
}

// LoadFromEnv builds a Config from the current environment only.
func LoadFromEnv() Config {
	return Config{
		BoundaryPath: envOr("GEOSPLIT_BOUNDARY_PATH", DefaultBoundaryPath),
		NameColumn:   envOr("GEOSPLIT_NAME_COLUMN", DefaultNameColumn),
		CodeColumn:   envOr("GEOSPLIT_CODE_COLUMN", DefaultCodeColumn),
		OutputDir:    envOr("GEOSPLIT_OUTPUT_DIR", DefaultOutputDir),
		LayersFile:   strings.TrimSpace(os.Getenv("GEOSPLIT_LAYERS_FILE")),
		ManifestPath: strings.TrimSpace(os.Getenv("GEOSPLIT_MANIFEST_PATH")),
		DatabaseURL:  strings.TrimSpace(os.Getenv("DATABASE_URL")),
	}
}

// Validate checks that the required settings are present.
func (c Config) Validate() error {
	switch {
	case c.BoundaryPath == "":
		return ErrMissingBoundaryPath
	case c.NameColumn == "":
		return ErrMissingNameColumn
	case c.CodeColumn == "":
		return ErrMissingCodeColumn
	case c.OutputDir == "":
		return ErrMissingOutputDir
	case c.NameColumn == c.CodeColumn:
		return ErrSameColumns
	}
	return nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
