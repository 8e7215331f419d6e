// Package config loads voxgraph settings from YAML.
//
// Load starts from Default and overlays the file, so a config only needs
// the keys it changes. The result is checked with struct tags before use.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/chazu/voxgraph/pkg/kernel"
	"github.com/chazu/voxgraph/pkg/store"
	"github.com/chazu/voxgraph/pkg/voxel"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	LogLevel string         `yaml:"log_level" validate:"oneof=debug info warn error"`
	Executor ExecutorConfig `yaml:"executor"`
	Store    StoreConfig    `yaml:"store"`
	Engine   EngineConfig   `yaml:"engine"`
}

// ExecutorConfig bounds evaluation.
type ExecutorConfig struct {
	// Workers is the number of concurrent node computations.
	Workers int `yaml:"workers" validate:"min=1,max=1024"`
	// ResamplePolicy applies to combine nodes without their own policy.
	ResamplePolicy string `yaml:"resample_policy" validate:"oneof=auto reject"`
	// MaxCells caps the samples of any one grid.
	MaxCells int64 `yaml:"max_cells" validate:"min=1"`
}

// StoreConfig configures the result store. An empty DiskPath keeps results
// in memory only.
type StoreConfig struct {
	MemoryBudget int           `yaml:"memory_budget" validate:"min=0"`
	DiskPath     string        `yaml:"disk_path"`
	DiskTTL      time.Duration `yaml:"disk_ttl" validate:"min=0"`
	SyncWrites   bool          `yaml:"sync_writes"`
}

// EngineConfig configures the DSL.
type EngineConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`
}

var validate = validator.New()

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LogLevel: "info",
		Executor: ExecutorConfig{
			Workers:        runtime.GOMAXPROCS(0),
			ResamplePolicy: "auto",
			MaxCells:       voxel.DefaultLimits.MaxCells,
		},
		Store: StoreConfig{
			MemoryBudget: store.DefaultMemoryBudget,
			DiskTTL:      store.DefaultDiskConfig("").TTL,
		},
		Engine: EngineConfig{
			Timeout: 5 * time.Second,
		},
	}
}

// Load reads path over Default and validates the result. A missing file is
// an error; callers that treat the file as optional check os.ErrNotExist.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Store.DiskPath != "" && !filepath.IsAbs(cfg.Store.DiskPath) {
		cfg.Store.DiskPath = filepath.Join(filepath.Dir(path), cfg.Store.DiskPath)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field against its tag.
func (c Config) Validate() error {
	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s = %v fails %s", fe.Namespace(), fe.Value(), fe.Tag())
		if fe.Param() != "" {
			msgs[i] += "=" + fe.Param()
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// Level returns the slog level for LogLevel.
func (c Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Policy returns the parsed resample policy.
func (c Config) Policy() kernel.ResamplePolicy {
	p, err := kernel.ParsePolicy(c.Executor.ResamplePolicy)
	if err != nil {
		return kernel.ResampleAuto
	}
	return p
}

// Limits returns the grid limits.
func (c Config) Limits() voxel.Limits {
	return voxel.Limits{MaxCells: c.Executor.MaxCells}
}

// Disk returns the disk store configuration, or false when the store is
// memory only.
func (c Config) Disk() (store.DiskConfig, bool) {
	if c.Store.DiskPath == "" {
		return store.DiskConfig{}, false
	}
	dc := store.DefaultDiskConfig(c.Store.DiskPath)
	dc.TTL = c.Store.DiskTTL
	dc.SyncWrites = c.Store.SyncWrites
	return dc, true
}
