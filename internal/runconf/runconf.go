package runconf

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-ini/ini"
)

// FileName is the per-case run configuration file, found in the case's DATA
// directory.
const FileName = "run.cfg"

// solvers that are staged as subdomains of a coupled case.
var stagedSolvers = map[string]bool{
	"code_saturne": true,
	"neptune_cfd":  true,
}

// RunConfig is a parsed run.cfg. A missing file behaves as an empty one.
type RunConfig struct {
	path string
	file *ini.File
}

// Load reads the run.cfg at path.
func Load(path string) (*RunConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return &RunConfig{path: path, file: ini.Empty(ini.LoadOptions{Insensitive: true})}, nil
	}
	f, err := ini.LoadSources(ini.LoadOptions{Insensitive: true}, path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &RunConfig{path: path, file: f}, nil
}

// Parse reads a run.cfg from memory. Used by tests and by tools that
// generate run configurations.
func Parse(data []byte) (*RunConfig, error) {
	f, err := ini.LoadSources(ini.LoadOptions{Insensitive: true}, data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse run configuration: %w", err)
	}
	return &RunConfig{file: f}, nil
}

// Get returns the value of key in section and whether it was set.
func (rc *RunConfig) Get(section, key string) (string, bool) {
	sec, err := rc.file.GetSection(section)
	if err != nil || !sec.HasKey(key) {
		return "", false
	}
	return strings.TrimSpace(sec.Key(key).String()), true
}

// Subdomains returns the names of coupled domains that must be staged,
// in declaration order. It is empty for a single-domain case.
//
//	[setup]
//	coupled_domains = fluid:solid
//
//	[fluid]
//	solver = code_saturne
func (rc *RunConfig) Subdomains() []string {
	raw, ok := rc.Get("setup", "coupled_domains")
	if !ok || raw == "" {
		return nil
	}
	var domains []string
	for _, name := range strings.Split(raw, ":") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		solver, _ := rc.Get(name, "solver")
		if solver == "" || stagedSolvers[strings.ToLower(solver)] {
			domains = append(domains, name)
		}
	}
	return domains
}

// Settings are the resource values found in a run.cfg for one case. Zero
// means "not set".
type Settings struct {
	NProcs       int
	ExpectedTime int
}

// Lookup resolves the settings of a case from the resource sections, in
// decreasing precedence: `<res>/run_id=<id>`, `<res>/tag=<tag>`, `<res>`,
// the same three for the batch system name, then `job_defaults`. In batch
// mode, a job_header carrying a task count is used for n_procs before
// falling back to `job_defaults`.
func (rc *RunConfig) Lookup(res Resource, runID string, tags []string) (Settings, error) {
	var sections []string
	for _, base := range []string{res.Name, res.BatchName} {
		if base == "" {
			continue
		}
		base = strings.ToLower(base)
		if runID != "" {
			sections = append(sections, base+"/run_id="+strings.ToLower(runID))
		}
		for _, tag := range tags {
			sections = append(sections, base+"/tag="+strings.ToLower(tag))
		}
		sections = append(sections, base)
	}

	var s Settings
	var err error

	if v, sec, ok := rc.first(sections, "n_procs"); ok {
		if s.NProcs, err = parsePositive(v); err != nil {
			return s, fmt.Errorf("%s: [%s] n_procs: %w", rc.path, sec, err)
		}
	} else if res.BatchName != "" {
		if header, _, ok := rc.first(sections, "job_header"); ok {
			s.NProcs = TasksFromHeader(header)
		}
	}
	if s.NProcs == 0 {
		if v, ok := rc.Get("job_defaults", "n_procs"); ok {
			if s.NProcs, err = parsePositive(v); err != nil {
				return s, fmt.Errorf("%s: [job_defaults] n_procs: %w", rc.path, err)
			}
		}
	}

	v, sec, ok := rc.first(append(sections, "job_defaults"), "expected_time")
	if ok {
		if s.ExpectedTime, err = ParseMinutes(v); err != nil {
			return s, fmt.Errorf("%s: [%s] expected_time: %w", rc.path, sec, err)
		}
	}
	return s, nil
}

// first returns the first non-empty value of key among sections.
func (rc *RunConfig) first(sections []string, key string) (string, string, bool) {
	for _, sec := range sections {
		if v, ok := rc.Get(sec, key); ok && v != "" {
			return v, sec, true
		}
	}
	return "", "", false
}

var tasksPattern = regexp.MustCompile(`(?:--ntasks[= ]|-n\s*)(\d+)`)

// TasksFromHeader extracts the task count from a batch job header, or 0.
func TasksFromHeader(header string) int {
	for _, line := range strings.Split(header, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "#SBATCH") {
			continue
		}
		if m := tasksPattern.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			return n
		}
	}
	return 0
}

// ParseMinutes converts an expected time to whole minutes. It accepts
// "MM", "HH:MM" and "HH:MM:SS"; seconds are truncated.
func ParseMinutes(v string) (int, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid time %q", v)
	}
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid time %q", v)
		}
		nums[i] = n
	}
	if len(nums) == 1 {
		return nums[0], nil
	}
	return nums[0]*60 + nums[1], nil
}

func parsePositive(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	if n < 1 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return n, nil
}
