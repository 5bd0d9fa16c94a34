package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/qflowhq/bandscan/internal/geometry"
	"github.com/qflowhq/bandscan/internal/refine"
	"github.com/qflowhq/bandscan/internal/solver"
)

// Default search parameters, applied by Validate when the corresponding
// field is omitted from bandscan.yml.
const (
	DefaultStartingDistance  = 0.05
	DefaultMinDistance       = 1e-4
	DefaultDistanceScale     = 2.0
	DefaultStartingThreshold = 0.3
	DefaultMinThreshold      = 0.001
	DefaultThresholdScale    = 5.0
)

// Config represents the top-level bandscan.yml configuration
type Config struct {
	Version   string             `yaml:"version"`
	Run       string             `yaml:"run"` // Required: run name, used as the ledger namespace
	Redis     *RedisConfig       `yaml:"redis,omitempty"`
	Solver    SolverConfig       `yaml:"solver"`
	Structure StructureConfig    `yaml:"structure"`
	Pseudos   map[string]string  `yaml:"pseudos"`
	Search    SearchConfig       `yaml:"search"`
	Relax     bool               `yaml:"relax,omitempty"`
	Invariant bool               `yaml:"invariant,omitempty"`
}

// RedisConfig points the run ledger at a Redis instance. When the section is
// omitted, the run command starts a local container instead.
type RedisConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// SolverConfig specifies the containerized electronic-structure code
type SolverConfig struct {
	Image          string   `yaml:"image"`                     // Required: solver Docker image
	InvariantImage string   `yaml:"invariant_image,omitempty"` // Image for the invariant stage; defaults to Image
	Command        []string `yaml:"command,omitempty"`
	ScratchDir     string   `yaml:"scratch_dir"` // Required: host directory for per-job scratch state
	JobTimeout     string   `yaml:"job_timeout,omitempty"`
}

// StructureConfig is the crystal structure: lattice vectors as rows, sites
// in fractional coordinates.
type StructureConfig struct {
	Lattice [3][3]float64 `yaml:"lattice"`
	Sites   []SiteConfig  `yaml:"sites"`
}

// SiteConfig is one atomic site
type SiteConfig struct {
	Species  string     `yaml:"species"`
	Position [3]float64 `yaml:"position"`
}

// SearchConfig holds the refinement-loop parameters. Omitted values fall
// back to the documented defaults; pointer fields distinguish "omitted" from
// an explicit zero, which is always invalid here.
type SearchConfig struct {
	StartingMesh      [3]int   `yaml:"starting_mesh"` // Required: per-axis k-point counts
	StartingDistance  *float64 `yaml:"starting_distance,omitempty"`
	MinDistance       *float64 `yaml:"min_distance,omitempty"`
	DistanceScale     *float64 `yaml:"distance_scale,omitempty"`
	StartingThreshold *float64 `yaml:"starting_threshold,omitempty"`
	MinThreshold      *float64 `yaml:"min_threshold,omitempty"`
	ThresholdScale    *float64 `yaml:"threshold_scale,omitempty"`
}

// Validate performs strict validation on the configuration and fills in
// defaults for omitted search parameters.
func (c *Config) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	// Required: run name
	if c.Run == "" {
		return fmt.Errorf("run name is required")
	}

	if err := c.Solver.Validate(); err != nil {
		return err
	}

	if err := c.Structure.Validate(); err != nil {
		return err
	}

	// Every species in the structure needs a pseudopotential
	for _, site := range c.Structure.Sites {
		if _, ok := c.Pseudos[site.Species]; !ok {
			return fmt.Errorf("no pseudopotential defined for species '%s'", site.Species)
		}
	}

	if err := c.Search.Validate(); err != nil {
		return err
	}

	return nil
}

// Validate performs validation on the solver section
func (s *SolverConfig) Validate() error {
	if s.Image == "" {
		return fmt.Errorf("solver.image is required")
	}
	if s.ScratchDir == "" {
		return fmt.Errorf("solver.scratch_dir is required")
	}
	if s.JobTimeout != "" {
		if _, err := time.ParseDuration(s.JobTimeout); err != nil {
			return fmt.Errorf("invalid solver.job_timeout: %w", err)
		}
	}
	return nil
}

// Validate performs validation on the structure section
func (s *StructureConfig) Validate() error {
	zero := true
	for _, row := range s.Lattice {
		for _, v := range row {
			if v != 0 {
				zero = false
			}
		}
	}
	if zero {
		return fmt.Errorf("structure.lattice is required")
	}

	if len(s.Sites) == 0 {
		return fmt.Errorf("structure.sites must contain at least one site")
	}
	for i, site := range s.Sites {
		if site.Species == "" {
			return fmt.Errorf("structure.sites[%d]: species is required", i)
		}
	}
	return nil
}

// Validate fills in defaults and checks the search parameters
func (s *SearchConfig) Validate() error {
	for axis, n := range s.StartingMesh {
		if n < 1 {
			return fmt.Errorf("search.starting_mesh[%d] must be >= 1, got %d", axis, n)
		}
	}

	applyDefault(&s.StartingDistance, DefaultStartingDistance)
	applyDefault(&s.MinDistance, DefaultMinDistance)
	applyDefault(&s.DistanceScale, DefaultDistanceScale)
	applyDefault(&s.StartingThreshold, DefaultStartingThreshold)
	applyDefault(&s.MinThreshold, DefaultMinThreshold)
	applyDefault(&s.ThresholdScale, DefaultThresholdScale)

	return s.Params().Validate()
}

func applyDefault(field **float64, value float64) {
	if *field == nil {
		v := value
		*field = &v
	}
}

// Params converts the search section to refinement-loop parameters.
// Validate must have run first so the pointer fields are populated.
func (s *SearchConfig) Params() refine.Params {
	return refine.Params{
		StartingDistance:  *s.StartingDistance,
		MinDistance:       *s.MinDistance,
		DistanceScale:     *s.DistanceScale,
		StartingThreshold: *s.StartingThreshold,
		MinThreshold:      *s.MinThreshold,
		ThresholdScale:    *s.ThresholdScale,
	}
}

// KPoints returns the starting mesh as a k-point set.
func (s *SearchConfig) KPoints() geometry.KPointSet {
	return geometry.MeshSet(s.StartingMesh[0], s.StartingMesh[1], s.StartingMesh[2])
}

// ToStructure converts the structure section to the solver's representation.
func (s *StructureConfig) ToStructure() solver.Structure {
	out := solver.Structure{Lattice: s.Lattice}
	for _, site := range s.Sites {
		out.Sites = append(out.Sites, solver.Site{
			Species:  site.Species,
			Position: geometry.Vec3(site.Position),
		})
	}
	return out
}

// Timeout returns the parsed job timeout, or zero when unset.
func (s *SolverConfig) Timeout() time.Duration {
	if s.JobTimeout == "" {
		return 0
	}
	d, _ := time.ParseDuration(s.JobTimeout)
	return d
}

// Load reads and validates bandscan.yml from the specified path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
