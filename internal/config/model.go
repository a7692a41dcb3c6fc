package config

// Model is the unified, format-agnostic representation of a study file:
// where the reference cases live, where they run, and which cases to run.
type Model struct {
	Repository  string
	Destination string
	Studies     []*Study
}

// Study is the format-agnostic representation of a `study` block.
type Study struct {
	Label   string
	Enabled bool
	Tags    []string
	Cases   []*Case
	PostPro []*Script
}

// Case is the format-agnostic representation of a `case` block. Optional
// values are nil or empty when the study file leaves them out.
type Case struct {
	Label string
	RunID string

	NProcs       *int
	ExpectedTime string // "MM" or "HH:MM"
	Depends      string // study/label/resu/run_id

	ParametricArgs string
	NotebookArgs   string
	KwArgs         string
	Tags           []string
	Enabled        bool

	Compare []*Compare
	Scripts []*Script
}

// Compare is the format-agnostic representation of a `compare` block.
type Compare struct {
	Repo      string
	Dest      string
	Threshold string
	Args      string
}

// Script is the format-agnostic representation of a `script` or `postpro`
// block.
type Script struct {
	Label   string
	Args    string
	Dest    string
	Enabled bool
}

// CaseCount returns the number of enabled cases of enabled studies.
func (m *Model) CaseCount() int {
	n := 0
	for _, s := range m.Studies {
		if !s.Enabled {
			continue
		}
		for _, c := range s.Cases {
			if c.Enabled {
				n++
			}
		}
	}
	return n
}
