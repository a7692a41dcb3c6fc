package app

import (
	"errors"
	"fmt"
	"math"

	"github.com/vk/casegrid/internal/study"
)

// DefaultStateFile is the state report written by --state.
const DefaultStateFile = "smgr_state.html"

// SlurmConfig configures batch submission.
type SlurmConfig struct {
	Enabled   bool
	BatchSize int
	// WallTime is the budget of one batch in hours, 0 for the default.
	WallTime  float64
	Args      []string
	JobName   string
	SubmitExe string
}

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	StudyFile   string
	Repository  string // overrides the study file when set
	Destination string // overrides the study file when set

	Run     bool
	Compare bool
	Post    bool
	State   bool

	StateFile       string
	CreateStudyFile bool

	Slurm SlurmConfig

	Resource      string
	InstallConfig string
	SolverExec    string
	DiffExec      string
	Reference     string

	WithTags    []string
	WithoutTags []string

	// FilterLevel and FilterNProcs restrict the graph when set.
	FilterLevel   *int
	FilterNProcs  *int
	NIterations   int
	MemLog        bool
	RemoveResults bool
	Quiet         bool

	LogFormat string
	LogLevel  string
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.StudyFile == "" {
		return nil, errors.New("a study file is required")
	}
	if cfg.CreateStudyFile && cfg.Repository == "" {
		return nil, errors.New("creating a study file requires a repository")
	}
	if cfg.Slurm.BatchSize < 0 {
		return nil, fmt.Errorf("invalid slurm batch size %d", cfg.Slurm.BatchSize)
	}
	if cfg.Slurm.WallTime < 0 {
		return nil, fmt.Errorf("invalid slurm batch wall time %g", cfg.Slurm.WallTime)
	}
	if cfg.NIterations < 0 {
		return nil, fmt.Errorf("invalid number of iterations %d", cfg.NIterations)
	}
	if cfg.FilterLevel != nil && *cfg.FilterLevel < 0 {
		return nil, fmt.Errorf("invalid level filter %d", *cfg.FilterLevel)
	}
	if cfg.FilterNProcs != nil && *cfg.FilterNProcs < 1 {
		return nil, fmt.Errorf("invalid n_procs filter %d", *cfg.FilterNProcs)
	}
	if cfg.StateFile == "" {
		cfg.StateFile = DefaultStateFile
	}
	return &cfg, nil
}

// steps returns the lifecycle steps requested for every case.
func (c *Config) steps() study.Steps {
	return study.Steps{
		Compute: c.Run,
		Compare: c.Compare,
		Plot:    c.Post,
		State:   c.State,
	}
}

func filter(v *int) int {
	if v == nil {
		return study.Any
	}
	return *v
}

// filtered reports whether the graph is restricted.
func (c *Config) filtered() bool {
	return c.FilterLevel != nil || c.FilterNProcs != nil
}

// wallTimeMinutes converts the batch wall time to minutes, 0 meaning the
// scheduler default.
func (c *Config) wallTimeMinutes() int {
	return int(math.Round(c.Slurm.WallTime * 60))
}
