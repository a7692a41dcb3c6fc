package batch

import "github.com/vk/casegrid/internal/study"

const (
	// DefaultWallTime is the wall-clock budget of a batch, in minutes.
	DefaultWallTime = 8 * 60
	// AutoBatchSize is the batch size used for large sweeps of short jobs.
	AutoBatchSize = 50

	shortJobMinutes   = 5
	autoTuneThreshold = 50
)

// EffectiveBatchSize returns the number of cases per batch. A configured
// size above 1 is kept. Otherwise, when more than 50 cases of the graph
// are expected to last under 5 minutes, 50 is used.
func EffectiveBatchSize(g *study.Graph, configured int) int {
	if configured > 1 {
		return configured
	}
	short := 0
	for _, c := range g.Nodes() {
		if c.ExpectedTime < shortJobMinutes {
			short++
		}
	}
	if short > autoTuneThreshold {
		return AutoBatchSize
	}
	return 1
}

// Pack groups cases, in order, into batches of at most size cases whose
// expected times sum to at most wallTime minutes. A case longer than the
// budget gets a batch of its own.
func Pack(cases []*study.Case, size, wallTime int) [][]*study.Case {
	size = max(size, 1)
	var batches [][]*study.Case
	var current []*study.Case
	total := 0
	for _, c := range cases {
		if len(current) > 0 && (len(current) >= size || total+c.ExpectedTime > wallTime) {
			batches = append(batches, current)
			current, total = nil, 0
		}
		current = append(current, c)
		total += c.ExpectedTime
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// parentTokens returns the distinct job tokens of the parents of cases.
func parentTokens(g *study.Graph, cases []*study.Case) []string {
	var tokens []string
	seen := make(map[string]bool)
	for _, c := range cases {
		p := g.Dependency(c)
		if p == nil || p.JobID == "" || seen[p.JobID] {
			continue
		}
		seen[p.JobID] = true
		tokens = append(tokens, p.JobID)
	}
	return tokens
}
