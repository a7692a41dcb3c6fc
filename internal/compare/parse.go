// Package compare checks the results of a run against the reference
// results of the repository with an external checkpoint diff tool.
package compare

import "strings"

// Outcome summarizes a comparison.
type Outcome int

const (
	NoDifferences Outcome = iota
	Differences
	MeshSizeMismatch
)

func (o Outcome) String() string {
	switch o {
	case Differences:
		return "DIFFERENCES FOUND"
	case MeshSizeMismatch:
		return "DIFFERENT MESH SIZES FOUND"
	}
	return "NO DIFFERENCES FOUND"
}

// FieldDiff is the difference found on one real-valued field.
type FieldDiff struct {
	Field     string `yaml:"field"`
	Max       string `yaml:"max"`
	Mean      string `yaml:"mean"`
	Threshold string `yaml:"threshold"`
}

// Result is the parsed output of the diff tool.
type Result struct {
	Diffs        []FieldDiff `yaml:"diffs,omitempty"`
	SameMeshSize bool        `yaml:"same_mesh_size"`
}

// Outcome classifies the result.
func (r Result) Outcome() Outcome {
	switch {
	case !r.SameMeshSize:
		return MeshSizeMismatch
	case len(r.Diffs) > 0:
		return Differences
	}
	return NoDifferences
}

// Parse reads the diff tool report. Section headers are lines holding
// "Type" and ';', e.g.
//
//	"velocity" ; Location: cells ; Type: r8 ; Size: 3
//	  Diff : 3 values ; Max : 1.2e-3 ; Mean : 4.1e-4
//
// Only real sections (r4/r8) are kept. A size line following a header
// means the meshes differ, and parsing stops there.
func Parse(output, threshold string) Result {
	res := Result{SameMeshSize: true}
	lines := strings.Split(output, "\n")
	for i, line := range lines {
		if !strings.Contains(line, "Type") || !strings.Contains(line, ";") {
			continue
		}
		fields := strings.Split(line, ";")
		name := strings.TrimSpace(strings.ReplaceAll(fields[0], `"`, " "))
		info := pairs(fields[1:])
		if len(info) < 2 || (info[1][1] != "r4" && info[1][1] != "r8") {
			continue
		}
		if i+1 >= len(lines) {
			break
		}
		next := lines[i+1]
		if strings.Contains(next, "Taille") || strings.Contains(next, "Size") {
			res.SameMeshSize = false
			break
		}
		vals := pairs(strings.Split(next, ";"))
		if len(vals) < 3 {
			continue
		}
		res.Diffs = append(res.Diffs, FieldDiff{
			Field:     name,
			Max:       vals[1][1],
			Mean:      vals[2][1],
			Threshold: threshold,
		})
	}
	return res
}

// pairs splits "key: value" items. Items without a colon get an empty
// value.
func pairs(items []string) [][2]string {
	out := make([][2]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(strings.ReplaceAll(item, `"`, " "))
		k, v, _ := strings.Cut(item, ":")
		out = append(out, [2]string{strings.TrimSpace(k), strings.TrimSpace(v)})
	}
	return out
}
