// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package study

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/vk/casegrid/internal/config"
)

// IsCase reports whether dir looks like a case directory: a DATA
// subdirectory holding a solver setup file.
func IsCase(dir string) bool {
	matches, _ := filepath.Glob(filepath.Join(dir, "DATA", "*.xml"))
	return len(matches) > 0
}

// Scan builds a model listing every case found in repository. Every
// subdirectory holding at least one case becomes a study; all studies and
// cases are enabled and sorted by label.
func Scan(repository string) (*config.Model, error) {
	entries, err := os.ReadDir(repository)
	if err != nil {
		return nil, fmt.Errorf("failed to scan repository: %w", err)
	}
	model := &config.Model{Repository: repository}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		cases, err := scanStudy(filepath.Join(repository, e.Name()))
		if err != nil {
			return nil, err
		}
		if len(cases) == 0 {
			continue
		}
		model.Studies = append(model.Studies, &config.Study{Label: e.Name(), Enabled: true, Cases: cases})
	}
	sort.Slice(model.Studies, func(i, j int) bool { return model.Studies[i].Label < model.Studies[j].Label })
	return model, nil
}

func scanStudy(dir string) ([]*config.Case, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var cases []*config.Case
	for _, e := range entries {
		if e.IsDir() && IsCase(filepath.Join(dir, e.Name())) {
			cases = append(cases, &config.Case{Label: e.Name(), Enabled: true})
		}
	}
	sort.Slice(cases, func(i, j int) bool { return cases[i].Label < cases[j].Label })
	return cases, nil
}
