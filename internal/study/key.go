// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package study

import (
	"fmt"
	"path"
	"strings"
)

// Key is the composite identity of a case run.
type Key struct {
	Study string
	Label string
	Resu  string
	RunID string
}

// String renders the key as study/label/resu/run_id.
func (k Key) String() string {
	return k.Study + "/" + k.Label + "/" + k.Resu + "/" + k.RunID
}

// ParseKey parses a study/label/resu/run_id reference. The path is cleaned
// first, so relative forms such as S/A/RESU/../RESU/run1 are accepted.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(path.Clean(strings.TrimSpace(s)), "/")
	if len(parts) != 4 {
		return Key{}, fmt.Errorf("invalid case reference %q: want study/label/resu/run_id", s)
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return Key{}, fmt.Errorf("invalid case reference %q: want study/label/resu/run_id", s)
		}
	}
	return Key{Study: parts[0], Label: parts[1], Resu: parts[2], RunID: parts[3]}, nil
}
