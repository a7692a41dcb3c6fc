// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package study

import "errors"

var (
	// ErrDanglingDependency marks a case whose dependency is not in the
	// graph. It is a warning: the case joins the graph at level 0.
	ErrDanglingDependency = errors.New("dependency not found in graph")
	// ErrDependencyExists is returned when a second dependency is added to
	// a case.
	ErrDependencyExists = errors.New("case already has a dependency")
	// ErrNodeNotFound is returned when an operation references a case that
	// is not in the graph.
	ErrNodeNotFound = errors.New("case not found in graph")
	// ErrCycle is returned when an edge would close a dependency cycle.
	ErrCycle = errors.New("dependency cycle")
)
