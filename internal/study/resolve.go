// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package study

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/vk/casegrid/internal/casestate"
	"github.com/vk/casegrid/internal/config"
	"github.com/vk/casegrid/internal/runconf"
)

// Env is the immutable context every case is resolved against.
type Env struct {
	Repository  string
	Destination string
	Resource    runconf.Resource

	// Inspector and Timeout are used to check the state of inferred
	// dependencies that already have a run directory.
	Inspector *casestate.Inspector
	Timeout   time.Duration
}

// Steps selects which lifecycle steps are requested for every case.
type Steps struct {
	Compute bool
	Compare bool
	Plot    bool
	Report  bool
	State   bool
}

// NewCase resolves a case descriptor of the given study into a case record.
// Resource values come from the descriptor first, then from the case's
// run.cfg, then from the resource defaults.
func NewCase(studyLabel string, desc *config.Case, steps Steps, env Env) (*Case, error) {
	c := &Case{
		Study:          studyLabel,
		Label:          desc.Label,
		Resu:           ResuDir,
		RunID:          desc.RunID,
		RepoDir:        filepath.Join(env.Repository, studyLabel),
		DestDir:        filepath.Join(env.Destination, studyLabel),
		Tags:           desc.Tags,
		ParametricArgs: desc.ParametricArgs,
		NotebookArgs:   desc.NotebookArgs,
		KwArgs:         desc.KwArgs,
		Compute:        steps.Compute,
		Compare:        steps.Compare,
		Plot:           steps.Plot,
		Report:         steps.Report,
		State:          steps.State,
		Compares:       desc.Compare,
		Scripts:        desc.Scripts,
	}
	if c.RunID == "" {
		c.RunID = DefaultRunID
	}

	rc, err := runconf.Load(runConfigPath(c.RepoCaseDir()))
	if err != nil {
		return nil, err
	}
	c.Subdomains = rc.Subdomains()
	if c.Coupled() {
		c.Resu = ResuCouplingDir
	}

	settings, err := rc.Lookup(env.Resource, c.RunID, c.Tags)
	if err != nil {
		return nil, err
	}

	switch {
	case desc.NProcs != nil:
		if *desc.NProcs < 1 {
			return nil, fmt.Errorf("case %s: n_procs must be positive, got %d", c.Title(), *desc.NProcs)
		}
		c.NProcs = *desc.NProcs
		c.ExplicitNProcs = true
	case settings.NProcs > 0:
		c.NProcs = settings.NProcs
	case env.Resource.NProcs > 0:
		c.NProcs = env.Resource.NProcs
	default:
		c.NProcs = runconf.DefaultNProcs
	}

	switch {
	case desc.ExpectedTime != "":
		if c.ExpectedTime, err = runconf.ParseMinutes(desc.ExpectedTime); err != nil {
			return nil, fmt.Errorf("case %s: expected_time: %w", c.Title(), err)
		}
	case settings.ExpectedTime > 0:
		c.ExpectedTime = settings.ExpectedTime
	case env.Resource.ExpectedTime > 0:
		c.ExpectedTime = env.Resource.ExpectedTime
	default:
		c.ExpectedTime = runconf.DefaultExpectedTime
	}

	if desc.Depends != "" {
		k, err := ParseKey(desc.Depends)
		if err != nil {
			return nil, fmt.Errorf("case %s: %w", c.Title(), err)
		}
		c.Depends = &k
		return c, nil
	}

	if err := InferDependency(c, env); err != nil {
		return nil, err
	}
	return c, nil
}

// runConfigPath locates the run.cfg of a reference case: DATA/run.cfg for
// a single domain, run.cfg at the case root for coupled cases.
func runConfigPath(caseDir string) string {
	p := filepath.Join(caseDir, "DATA", runconf.FileName)
	if isFile(p) {
		return p
	}
	return filepath.Join(caseDir, runconf.FileName)
}

// SortByDependency returns the cases reordered so that every case comes
// after the case it depends on, keeping the original order otherwise.
// Unknown dependencies and cycles leave a case where it was.
func SortByDependency(cases []*Case) []*Case {
	byKey := make(map[Key]*Case, len(cases))
	for _, c := range cases {
		byKey[c.Key()] = c
	}

	sorted := make([]*Case, 0, len(cases))
	placed := make(map[Key]bool, len(cases))
	visiting := make(map[Key]bool)

	var place func(c *Case)
	place = func(c *Case) {
		k := c.Key()
		if placed[k] || visiting[k] {
			return
		}
		visiting[k] = true
		if c.Depends != nil {
			if parent, ok := byKey[*c.Depends]; ok {
				place(parent)
			}
		}
		delete(visiting, k)
		placed[k] = true
		sorted = append(sorted, c)
	}
	for _, c := range cases {
		place(c)
	}
	return sorted
}
