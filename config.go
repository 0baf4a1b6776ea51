package meshcull

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/gekko3d/meshcull/rt/meshlet"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Meshlet MeshletConfig `yaml:"meshlet"`
	Culling CullingConfig `yaml:"culling"`
}

type LoggingConfig struct {
	Prefix string `yaml:"prefix"`
	Debug  bool   `yaml:"debug"`
}

// NewLogger builds the default logger described by the config.
func (c LoggingConfig) NewLogger() Logger {
	return NewDefaultLogger(c.Prefix, c.Debug)
}

type MeshletConfig struct {
	MaxVertices  int     `yaml:"max_vertices"`
	MaxTriangles int     `yaml:"max_triangles"`
	ConeWeight   float32 `yaml:"cone_weight"`
	// Parallel builds in LoadMeshes; 0 means GOMAXPROCS.
	Workers int `yaml:"workers"`
}

func (c MeshletConfig) Builder() *meshlet.Builder {
	return &meshlet.Builder{
		MaxVertices:  c.MaxVertices,
		MaxTriangles: c.MaxTriangles,
		ConeWeight:   c.ConeWeight,
	}
}

type CullingConfig struct {
	// Workers bounds the goroutines testing chunks in Cull; 0 means GOMAXPROCS.
	Workers int `yaml:"workers"`
	// ChunkSize is the number of renderables tested per goroutine.
	ChunkSize int `yaml:"chunk_size"`
	// ClusterCulling enables per-meshlet sphere and cone tests in VisibleMeshlets.
	ClusterCulling  bool `yaml:"cluster_culling"`
	BackfaceCulling bool `yaml:"backface_culling"`
}

func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Prefix: "meshcull"},
		Meshlet: MeshletConfig{
			MaxVertices:  meshlet.MaxVertices,
			MaxTriangles: meshlet.MaxTriangles,
			ConeWeight:   meshlet.ConeWeight,
		},
		Culling: CullingConfig{
			ChunkSize:       256,
			ClusterCulling:  true,
			BackfaceCulling: true,
		},
	}
}

// LoadConfig reads a YAML file. Keys missing from the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := c.Meshlet.Builder().Validate(); err != nil {
		return fmt.Errorf("meshlet: %w: %w", ErrInvalidConfig, err)
	}
	if c.Meshlet.Workers < 0 {
		return fmt.Errorf("meshlet workers %d: %w", c.Meshlet.Workers, ErrInvalidConfig)
	}
	if c.Culling.Workers < 0 {
		return fmt.Errorf("culling workers %d: %w", c.Culling.Workers, ErrInvalidConfig)
	}
	if c.Culling.ChunkSize <= 0 {
		return fmt.Errorf("culling chunk size %d: %w", c.Culling.ChunkSize, ErrInvalidConfig)
	}
	return nil
}

func workerLimit(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}
