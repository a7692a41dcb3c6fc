package runconf

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/go-ini/ini"
)

// Default resource values used when neither the case nor any configuration
// file says otherwise.
const (
	DefaultNProcs       = 1
	DefaultExpectedTime = 180
)

// Resource describes the host the cases run on.
type Resource struct {
	// Name is the resource (cluster) name used as run.cfg section prefix.
	Name string `ini:"resource"`
	// BatchName is the batch system name ("slurm"), empty for workstations.
	BatchName string `ini:"batch"`
	// NProcs is the blanket default process count.
	NProcs int `ini:"n_procs"`
	// ExpectedTime is the blanket default expected time in minutes.
	ExpectedTime int `ini:"expected_time"`
}

// Install is the installation configuration.
type Install struct {
	Resource Resource `ini:"-"`

	// SolverExec is the solver front-end executable.
	SolverExec string `ini:"solver_exec"`
	// DiffExec is the checkpoint comparison executable.
	DiffExec string `ini:"diff_exec"`
	// PostprocessingExec overrides the executable used by the trailing
	// batch job.
	PostprocessingExec string `ini:"postprocessing_exec"`
}

// DefaultInstall returns the configuration used when no install file is given.
func DefaultInstall() *Install {
	return &Install{
		Resource: Resource{
			Name:         "local",
			NProcs:       DefaultNProcs,
			ExpectedTime: DefaultExpectedTime,
		},
		SolverExec: "code_saturne",
		DiffExec:   "cs_io_dump",
	}
}

// LoadInstall reads an install configuration. An empty path yields the
// defaults; a path that does not exist is an error.
//
//	[install]
//	resource = cluster
//	batch = slurm
//	n_procs = 1
//	expected_time = 180
//	solver_exec = /opt/cs/bin/code_saturne
//
//	[studymanager]
//	postprocessing_exec = /opt/cs/bin/casegrid
func LoadInstall(path string) (*Install, error) {
	install := DefaultInstall()
	if path == "" {
		return install, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("install configuration %s: %w", path, err)
	}

	f, err := ini.LoadSources(ini.LoadOptions{Insensitive: true}, path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse install configuration %s: %w", path, err)
	}
	if err := f.Section("install").MapTo(&install.Resource); err != nil {
		return nil, fmt.Errorf("invalid [install] section in %s: %w", path, err)
	}
	if err := f.Section("install").MapTo(install); err != nil {
		return nil, fmt.Errorf("invalid [install] section in %s: %w", path, err)
	}
	if err := f.Section("studymanager").MapTo(install); err != nil {
		return nil, fmt.Errorf("invalid [studymanager] section in %s: %w", path, err)
	}

	if install.Resource.NProcs < 1 {
		return nil, fmt.Errorf("invalid n_procs %d in %s", install.Resource.NProcs, path)
	}
	if install.Resource.ExpectedTime < 1 {
		return nil, fmt.Errorf("invalid expected_time %d in %s", install.Resource.ExpectedTime, path)
	}
	return install, nil
}
