// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package study

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/vk/casegrid/internal/config"
)

// Results directory names.
const (
	ResuDir         = "RESU"
	ResuCouplingDir = "RESU_COUPLING"
	DefaultRunID    = "run1"
)

// Case is one schedulable simulation run. Cases are owned by the graph that
// holds them; other components borrow and mutate them in place.
type Case struct {
	Study string
	Label string
	Resu  string
	RunID string

	// RepoDir and DestDir are the study directories in the repository and
	// in the destination.
	RepoDir string
	DestDir string

	NProcs         int
	ExpectedTime   int // minutes
	ExplicitNProcs bool

	Depends *Key
	Level   int
	JobID   string

	Compute   bool
	Compare   bool
	Plot      bool
	Report    bool
	State     bool
	NoRestart bool

	Tags           []string
	ParametricArgs string
	NotebookArgs   string
	KwArgs         string

	// Subdomains lists the staged domains of a coupled case.
	Subdomains []string

	Compares []*config.Compare
	Scripts  []*config.Script
}

// Key returns the composite identity of the case.
func (c *Case) Key() Key {
	return Key{Study: c.Study, Label: c.Label, Resu: c.Resu, RunID: c.RunID}
}

// Title is the human-readable name used in reports.
func (c *Case) Title() string {
	return c.Key().String()
}

// Coupled reports whether the case is a multi-domain coupled run.
func (c *Case) Coupled() bool {
	return len(c.Subdomains) > 0
}

// RepoCaseDir is the reference case directory.
func (c *Case) RepoCaseDir() string {
	return filepath.Join(c.RepoDir, c.Label)
}

// CaseDir is the case directory in the destination.
func (c *Case) CaseDir() string {
	return filepath.Join(c.DestDir, c.Label)
}

// RunDir is the directory holding the results of this run.
func (c *Case) RunDir() string {
	return filepath.Join(c.DestDir, c.Label, c.Resu, c.RunID)
}

// MatchTags reports whether the case carries every tag of with and none of
// without.
func (c *Case) MatchTags(with, without []string) bool {
	has := func(tag string) bool {
		return slices.ContainsFunc(c.Tags, func(t string) bool { return strings.EqualFold(t, tag) })
	}
	for _, t := range with {
		if !has(t) {
			return false
		}
	}
	for _, t := range without {
		if has(t) {
			return false
		}
	}
	return true
}

// Disable clears every downstream step of the case.
func (c *Case) Disable() {
	c.Compute = false
	c.Compare = false
	c.Plot = false
}
