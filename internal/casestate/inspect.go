package casestate

import (
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultTimeout is the inactivity window after which a running case is
// considered to have exceeded its time limit.
const DefaultTimeout = time.Hour

// Artifact names written into run directories by the solver front-end.
const (
	PreparedMarker   = "run_status.prepared"
	FinalizingMarker = "run_status.finalizing"
	ErrorFile        = "error"
	SummaryFile      = "summary"
	RunLog           = "run_case.log"
)

// statusMarkers maps run_status.* markers to states, most advanced first.
var statusMarkers = []struct {
	name  string
	state State
}{
	{"run_status.exceeded_time_limit", ExceededTimeLimit},
	{FinalizingMarker, Finalizing},
	{"run_status.computed", Computed},
	{"run_status.running", Running},
	{"run_status.preprocessed", Preprocessed},
	{PreparedMarker, Staged},
	{"run_status.staging", Staging},
}

// Inspector derives case states from run directories.
type Inspector struct {
	Clock clock.Clock
}

// NewInspector returns an Inspector using the wall clock.
func NewInspector() *Inspector {
	return &Inspector{Clock: clock.New()}
}

// Inspect returns the state of the run stored in runDir along with the
// metrics found in its summaries. For coupled runs, solver artifacts are
// looked up in the domain subdirectories of runDir.
func (in *Inspector) Inspect(runDir string, coupled bool, timeout time.Duration) (State, Info) {
	fi, err := os.Stat(runDir)
	if err != nil || !fi.IsDir() {
		return Unknown, Info{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	domains := []string{runDir}
	if coupled {
		domains = subdirectories(runDir)
	}

	var summaries []string
	for _, dir := range domains {
		if p := filepath.Join(dir, SummaryFile); isFile(p) {
			summaries = append(summaries, p)
		}
	}
	info := readSummaries(summaries)

	for _, dir := range append([]string{runDir}, domains...) {
		if errFile := findError(dir); errFile != "" {
			if info.Message == "" {
				info.Message = "see " + errFile
			}
			return Failed, info
		}
	}

	complete := len(summaries) > 0 && len(summaries) == len(domains)
	if complete && !isFile(filepath.Join(runDir, FinalizingMarker)) {
		return Finalized, info
	}

	state := Unknown
	for _, m := range statusMarkers {
		if isFile(filepath.Join(runDir, m.name)) {
			state = m.state
			break
		}
	}

	if state == Running {
		last := lastActivity(append([]string{runDir}, domains...))
		if in.Clock.Now().Sub(last) > timeout {
			state = ExceededTimeLimit
		}
	}
	return state, info
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

func findError(dir string) string {
	if p := filepath.Join(dir, ErrorFile); isFile(p) {
		return p
	}
	matches, _ := filepath.Glob(filepath.Join(dir, ErrorFile+"_*"))
	for _, m := range matches {
		if isFile(m) {
			return m
		}
	}
	return ""
}

func subdirectories(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(dir, e.Name()))
		}
	}
	return dirs
}

// lastActivity is the most recent modification time among the files of
// the given directories.
func lastActivity(dirs []string) time.Time {
	var last time.Time
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			fi, err := e.Info()
			if err != nil || fi.IsDir() {
				continue
			}
			if fi.ModTime().After(last) {
				last = fi.ModTime()
			}
		}
	}
	return last
}
