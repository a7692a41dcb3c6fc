// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package study holds the in-memory model of an orchestration run: case
// records resolved from the study file and the dependency graph that orders
// them.
//
// A case is identified by the composite key study/label/resu/run_id. Each
// case has at most one dependency; its level is the length of the
// dependency chain above it. Graphs are built and mutated by a single
// controlling goroutine and are not safe for concurrent use.
package study
