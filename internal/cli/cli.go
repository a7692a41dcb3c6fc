package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"github.com/vk/casegrid/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

// Parse processes command-line arguments. It returns a populated AppConfig,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := pflag.NewFlagSet("casegrid", pflag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.SortFlags = false

	flagSet.Usage = func() {
		fmt.Fprint(output, `
casegrid - Runs, compares and reports on studies of simulation cases.

Usage:
  casegrid [options] STUDY_FILE

Arguments:
  STUDY_FILE
    Path to an .hcl study file or a directory of study files. With
    --create-study-file, the file to create.

Options:
`)
		flagSet.PrintDefaults()
	}

	var cfg app.Config
	var filterLevel, filterNProcs int
	flagSet.StringVar(&cfg.Repository, "repo", "", "Repository of reference studies (overrides the study file).")
	flagSet.StringVar(&cfg.Destination, "dest", "", "Destination of the runs (overrides the study file).")
	flagSet.BoolVarP(&cfg.Run, "run", "r", false, "Stage and run the cases.")
	flagSet.BoolVarP(&cfg.Compare, "compare", "c", false, "Compare the results with the repository.")
	flagSet.BoolVarP(&cfg.Post, "post", "p", false, "Run the post-processing scripts.")
	flagSet.BoolVar(&cfg.State, "state", false, "Report the state of every case.")
	flagSet.StringVar(&cfg.StateFile, "state-file", app.DefaultStateFile, "State report, relative to the destination.")
	flagSet.StringVar(&cfg.Reference, "reference", "", "Directory of reference results replacing the repository for --compare.")

	flagSet.BoolVar(&cfg.Slurm.Enabled, "slurm-batch", false, "Submit the cases as SLURM batches instead of running them.")
	flagSet.IntVar(&cfg.Slurm.BatchSize, "slurm-batch-size", 0, "Maximum number of cases per batch.")
	flagSet.Float64Var(&cfg.Slurm.WallTime, "slurm-batch-wtime", 0, "Wall time of a batch in hours (default 8).")
	flagSet.StringArrayVar(&cfg.Slurm.Args, "slurm-batch-arg", nil, "Extra #SBATCH line, may be repeated.")
	flagSet.StringVar(&cfg.Slurm.JobName, "slurm-job-name", "", "Prefix of the job names.")
	flagSet.StringVar(&cfg.Slurm.SubmitExe, "sbatch", "", "Submission command (default sbatch).")

	flagSet.StringVar(&cfg.Resource, "resource", "", "Resource name used to look up run.cfg sections.")
	flagSet.StringVar(&cfg.InstallConfig, "install-config", "", "Installation configuration file.")
	flagSet.StringVar(&cfg.SolverExec, "solver", "", "Solver front-end executable.")
	flagSet.StringVar(&cfg.DiffExec, "diff", "", "Checkpoint comparison executable.")

	flagSet.StringSliceVar(&cfg.WithTags, "with-tags", nil, "Only cases carrying all these tags.")
	flagSet.StringSliceVar(&cfg.WithoutTags, "without-tags", nil, "Exclude cases carrying any of these tags.")
	flagSet.IntVar(&filterLevel, "filter-level", 0, "Only cases at this dependency level.")
	flagSet.IntVar(&filterNProcs, "filter-n-procs", 0, "Only cases running on this number of processes.")
	flagSet.IntVarP(&cfg.NIterations, "n-iterations", "n", 0, "Limit the number of time steps of every run.")
	flagSet.BoolVar(&cfg.MemLog, "mem-log", false, "Enable memory leak detection of the solver.")
	flagSet.BoolVar(&cfg.RemoveResults, "rm", false, "Erase earlier results before staging.")
	flagSet.BoolVarP(&cfg.Quiet, "quiet", "q", false, "Write the run report to the log file only.")
	flagSet.BoolVar(&cfg.CreateStudyFile, "create-study-file", false, "Write a study file listing every case of --repo.")

	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "warn", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, usageError("%s", err)
	}
	slog.Debug("Arguments parsed successfully.")

	if flagSet.NArg() == 0 {
		slog.Debug("No study file provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}
	if flagSet.NArg() > 1 {
		return nil, false, usageError("expected a single study file, got %d arguments", flagSet.NArg())
	}
	cfg.StudyFile = flagSet.Arg(0)

	if flagSet.Changed("filter-level") {
		cfg.FilterLevel = &filterLevel
	}
	if flagSet.Changed("filter-n-procs") {
		cfg.FilterNProcs = &filterNProcs
	}

	cfg.LogFormat = strings.ToLower(*logFormatFlag)
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, false, usageError("invalid log-format: must be 'text' or 'json'")
	}

	cfg.LogLevel = strings.ToLower(*logLevelFlag)
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, usageError("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, usageError("%s", err)
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
