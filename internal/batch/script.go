package batch

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

// ScriptDir is the directory of the destination holding batch scripts.
const ScriptDir = "slurm_files"

// exclusiveThreshold is the process count above which a job takes whole
// nodes.
const exclusiveThreshold = 5

var scriptTemplate = template.Must(template.New("slurm").Parse(`#!/bin/sh
#SBATCH --ntasks={{.NProcs}}
#SBATCH --time={{.Hours}}:{{printf "%02d" .Minutes}}:00
#SBATCH --output=vnv_{{.ID}}
#SBATCH --error=vnv_{{.ID}}
#SBATCH --job-name={{.JobName}}_{{.ID}}
{{- if .Exclusive}}
#SBATCH --exclusive
{{- else if .SingleNode}}
#SBATCH --nodes=1
#SBATCH --ntasks-per-core=1
{{- end}}
{{- range .ExtraArgs}}
#SBATCH {{.}}
{{- end}}

{{.Body}}`))

// script is one batch submission file.
type script struct {
	ID        int
	JobName   string
	NProcs    int
	Minutes   int
	Hours     int
	ExtraArgs []string
	// Exclusive and SingleNode select node placement of compute batches.
	Exclusive  bool
	SingleNode bool
	Body       string
}

func newScript(id int, jobName string, nProcs, minutes int, extra []string, compute bool) *script {
	s := &script{
		ID:        id,
		JobName:   jobName,
		NProcs:    nProcs,
		Hours:     minutes / 60,
		Minutes:   minutes % 60,
		ExtraArgs: extra,
	}
	if compute {
		s.Exclusive = nProcs > exclusiveThreshold
		s.SingleNode = !s.Exclusive
	}
	return s
}

func (s *script) render() ([]byte, error) {
	var buf bytes.Buffer
	if err := scriptTemplate.Execute(&buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// write stores the script as <dir>/slurm_batch_file_<id>.sh.
func (s *script) write(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	content, err := s.render()
	if err != nil {
		return "", fmt.Errorf("failed to render batch script %d: %w", s.ID, err)
	}
	p := filepath.Join(dir, fmt.Sprintf("slurm_batch_file_%d.sh", s.ID))
	if err := os.WriteFile(p, content, 0755); err != nil {
		return "", fmt.Errorf("failed to write batch script: %w", err)
	}
	return p, nil
}
