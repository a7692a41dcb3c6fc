package integration_tests

import "github.com/vk/casegrid/internal/study"

func keyOf(label string) study.Key {
	return study.Key{Study: "S", Label: label, Resu: study.ResuDir, RunID: study.DefaultRunID}
}
