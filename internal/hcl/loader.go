package hcl

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/casegrid/internal/config"
	"github.com/vk/casegrid/internal/ctxlog"
	"github.com/vk/casegrid/internal/fsutil"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct {
	evalCtx *hcl.EvalContext
}

// NewLoader creates a loader evaluating expressions against the process
// environment.
func NewLoader() *Loader {
	return &Loader{evalCtx: defaultEvalContext()}
}

// NewLoaderWithEnv creates a loader exposing environ ("KEY=value" items)
// as `env` instead of the process environment.
func NewLoaderWithEnv(environ []string) *Loader {
	return &Loader{evalCtx: newEvalContext(environ)}
}

// Load parses every study file found at paths, directories being searched
// for .hcl files, and merges them into one model. Studies are appended in
// file order; a later repository or destination overrides an earlier one.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := l.findFiles(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no study file found in %v", paths)
	}
	logger.Debug("Discovered study files.", "count", len(files))

	model := &config.Model{}
	parser := hclparse.NewParser()
	for _, file := range files {
		f, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse study file %s: %w", file, diags)
		}
		var root fileRoot
		if diags := gohcl.DecodeBody(f.Body, l.evalCtx, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode study file %s: %w", file, diags)
		}
		if err := l.merge(model, &root); err != nil {
			return nil, fmt.Errorf("in study file %s: %w", file, err)
		}
	}

	logger.Debug("HCL loading complete.", "studies", len(model.Studies), "cases", model.CaseCount())
	return model, nil
}

func (l *Loader) findFiles(paths []string) ([]string, error) {
	var all []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			all = append(all, p)
		}
	}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("error accessing study file %s: %w", p, err)
		}
		if !info.IsDir() {
			add(p)
			continue
		}
		found, err := fsutil.FindFilesByExtension(p, ".hcl")
		if err != nil {
			return nil, err
		}
		sort.Strings(found)
		for _, f := range found {
			add(f)
		}
	}
	return all, nil
}

func (l *Loader) merge(model *config.Model, root *fileRoot) error {
	if root.Repository != nil {
		model.Repository = *root.Repository
	}
	if root.Destination != nil {
		model.Destination = *root.Destination
	}
	for _, s := range root.Studies {
		for _, existing := range model.Studies {
			if existing.Label == s.Label {
				return fmt.Errorf("study %q is defined more than once", s.Label)
			}
		}
		study, err := translateStudy(s)
		if err != nil {
			return err
		}
		model.Studies = append(model.Studies, study)
	}
	return nil
}
