// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package study

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/vk/casegrid/internal/casestate"
)

// SetupFile is the solver parameter file of a reference case.
const SetupFile = "setup.xml"

type setupDoc struct {
	Restart struct {
		Path string `xml:"path,attr"`
	} `xml:"calculation_management>start_restart>restart"`
}

// InferDependency derives the dependency of a case that does not declare
// one. The restart path of the case's setup file is used first; a restart
// flag in the parametric arguments overrides it.
//
// When the dependency has already run, its state decides: a finalized
// dependency is dropped, anything else keeps the dependency but disables
// the case and marks it as unable to restart.
func InferDependency(c *Case, env Env) error {
	dep, err := restartFromSetup(c)
	if err != nil {
		return err
	}
	if k, ok, err := restartFromArgs(c); err != nil {
		return err
	} else if ok {
		dep = &k
	}
	if dep == nil {
		return nil
	}
	c.Depends = dep

	runDir := filepath.Join(env.Destination, dep.Study, dep.Label, dep.Resu, dep.RunID)
	if fi, err := os.Stat(runDir); err != nil || !fi.IsDir() {
		return nil
	}

	inspector := env.Inspector
	if inspector == nil {
		inspector = casestate.NewInspector()
	}
	state, _ := inspector.Inspect(runDir, dep.Resu == ResuCouplingDir, env.Timeout)
	if state == casestate.Finalized {
		c.Depends = nil
		return nil
	}
	c.NoRestart = true
	c.Disable()
	return nil
}

// restartFromSetup reads calculation_management/start_restart/restart@path
// from DATA/setup.xml. A path such as ../CASE/RESU/run_id/checkpoint maps
// to study/CASE/RESU/run_id.
func restartFromSetup(c *Case) (*Key, error) {
	p := filepath.Join(c.RepoCaseDir(), "DATA", SetupFile)
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("case %s: %w", c.Title(), err)
	}

	var doc setupDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("case %s: failed to parse %s: %w", c.Title(), p, err)
	}
	restart := strings.TrimSpace(doc.Restart.Path)
	if restart == "" {
		return nil, nil
	}

	parts := strings.Split(filepath.ToSlash(restart), "/")
	if len(parts) <= 4 {
		return nil, nil
	}
	n := len(parts)
	return &Key{Study: c.Study, Label: parts[n-4], Resu: parts[n-3], RunID: parts[n-2]}, nil
}

// restartFromArgs looks for -r/--restart in the parametric arguments. The
// value is a run id, or a path relative to the case's results directory.
func restartFromArgs(c *Case) (Key, bool, error) {
	if c.ParametricArgs == "" {
		return Key{}, false, nil
	}
	args, err := shellwords.Parse(c.ParametricArgs)
	if err != nil {
		return Key{}, false, fmt.Errorf("case %s: parametric arguments: %w", c.Title(), err)
	}

	value := ""
	for i, a := range args {
		switch {
		case (a == "-r" || a == "--restart") && i+1 < len(args):
			value = args[i+1]
		case strings.HasPrefix(a, "--restart="):
			value = strings.TrimPrefix(a, "--restart=")
		}
	}
	if value == "" {
		return Key{}, false, nil
	}

	k, err := ParseKey(path.Join(c.Study, c.Label, c.Resu, value))
	if err != nil {
		return Key{}, false, fmt.Errorf("case %s: restart %q: %w", c.Title(), value, err)
	}
	return k, true, nil
}

func isFile(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}
