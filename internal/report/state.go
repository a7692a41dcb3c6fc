package report

import (
	"fmt"
	"html/template"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/vk/casegrid/internal/casestate"
	"gopkg.in/yaml.v3"
)

// StateRow is the inspected state of one case.
type StateRow struct {
	Study string          `yaml:"study"`
	Case  string          `yaml:"case"`
	RunID string          `yaml:"run_id"`
	State casestate.State `yaml:"state"`
	Info  casestate.Info  `yaml:"info"`
}

var stateColors = map[casestate.State]string{
	casestate.Unknown:           "rgb(227,218,201)",
	casestate.Staging:           "rgb(255,191,0)",
	casestate.Staged:            "rgb(176,196,222)",
	casestate.Preprocessed:      "rgb(216,191,216)",
	casestate.Running:           "rgb(65,105,225)",
	casestate.Computed:          "rgb(120,213,124)",
	casestate.Finalizing:        "rgb(127,255,0)",
	casestate.Finalized:         "rgb(120,213,124)",
	casestate.ExceededTimeLimit: "rgb(0,255,255)",
	casestate.Failed:            "rgb(250,128,114)",
}

// Darker shades flag finished runs that leaked memory.
var leakColors = map[casestate.State]string{
	casestate.Computed:   "rgb(0,106,62)",
	casestate.Finalizing: "rgb(4,128,0)",
	casestate.Finalized:  "rgb(0,106,62)",
}

var stateMessages = map[casestate.State]string{
	casestate.Unknown:           "Unknown",
	casestate.Staging:           "Staging",
	casestate.Staged:            "Staged",
	casestate.Preprocessed:      "Preprocessed",
	casestate.Running:           "Running",
	casestate.Computed:          "OK",
	casestate.Finalizing:        "Finalizing",
	casestate.Finalized:         "OK",
	casestate.ExceededTimeLimit: "Time limit",
	casestate.Failed:            "FAILED",
}

type htmlRow struct {
	Study, Case, RunID  string
	Color, Message      string
	Time, CPU, Prepro   string
	Mem, Ranks, Threads string
	NewStudy            bool
}

var stateTemplate = template.Must(template.New("state").Funcs(template.FuncMap{"css": css}).Parse(`<html>
<head></head>
<body>
<br><i><u>Destination folder:</u></i> {{.Destination}}</br> </br>Case states:

<table width=100% cellspacing="2">
<tr class="top"><td width=18%>Study</td><td width=12%>Case</td><td width=11%>Run id</td><td width=12%>State</td><td width=8% align="right">Time (s)</td><td width=9% align="right">CPU (s)</td><td width=8% align="right">Prepro (s)</td><td width=10% align="right">Mem max (Mb)</td><td width=6% align="right">N ranks</td><td width=6% align="right">N threads</td></tr>
{{- range .Rows}}
{{if .NewStudy}}<tr class="top">{{else}}<tr>{{end}}<td>{{.Study}}</td><td>{{.Case}}</td><td>{{.RunID}}</td><td style="background-color:{{.Color | css}}">{{.Message}}</td><td align="right">{{.Time}}</td><td align="right">{{.CPU}}</td><td align="right">{{.Prepro}}</td><td align="right">{{.Mem}}</td><td align="right">{{.Ranks}}</td><td align="right">{{.Threads}}</td></tr>
{{- end}}
</table>
</br>
</body>
</html>
`))

// css marks a colour from the fixed palette as safe for a style attribute.
func css(s string) template.CSS { return template.CSS(s) }

func toHTMLRows(rows []StateRow) []htmlRow {
	out := make([]htmlRow, 0, len(rows))
	prevStudy, prevCase := "", ""
	for _, r := range rows {
		color := stateColors[r.State]
		msg := r.Info.Message
		if msg == "" {
			msg = stateMessages[r.State]
		}
		if r.Info.Leaks() > 0 {
			msg += " (memory leaks)"
			if c, ok := leakColors[r.State]; ok {
				color = c
			}
		}

		h := htmlRow{
			RunID:   r.RunID,
			Color:   color,
			Message: msg,
			Time:    r.Info.ComputeTime,
			CPU:     r.Info.ComputeTimeUsage,
			Ranks:   r.Info.MPIRanks,
			Threads: r.Info.OMPThreads,
		}
		if v, err := strconv.ParseFloat(r.Info.PreprocessTime, 64); err == nil {
			h.Prepro = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if kb, ok := r.Info.MaxMemory(); ok {
			h.Mem = humanize.Comma(int64(math.Round(kb / 1024)))
		}

		if r.Study != prevStudy {
			h.NewStudy = true
			h.Study, h.Case = r.Study, r.Case
		} else if r.Case != prevCase {
			h.Case = r.Case
		}
		prevStudy, prevCase = r.Study, r.Case
		out = append(out, h)
	}
	return out
}

// RenderStateHTML writes the state table of rows. Consecutive rows of the
// same study or case leave those cells blank.
func RenderStateHTML(w io.Writer, destination string, rows []StateRow) error {
	return stateTemplate.Execute(w, struct {
		Destination string
		Rows        []htmlRow
	}{destination, toHTMLRows(rows)})
}

// StateDocument is the YAML export of a state report.
type StateDocument struct {
	Destination string     `yaml:"destination"`
	Cases       []StateRow `yaml:"cases"`
}

// RenderStateYAML writes rows as YAML.
func RenderStateYAML(w io.Writer, destination string, rows []StateRow) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(StateDocument{Destination: destination, Cases: rows}); err != nil {
		return err
	}
	return enc.Close()
}

// WriteState writes the HTML table to htmlPath and its YAML export next
// to it, with the extension replaced by .yaml. When htmlPath already ends
// in .yaml or .yml, the export goes to <name>.state.yaml.
func WriteState(htmlPath, destination string, rows []StateRow) error {
	if err := writeFile(htmlPath, func(w io.Writer) error {
		return RenderStateHTML(w, destination, rows)
	}); err != nil {
		return err
	}
	return writeFile(yamlPath(htmlPath), func(w io.Writer) error {
		return RenderStateYAML(w, destination, rows)
	})
}

func yamlPath(p string) string {
	ext := filepath.Ext(p)
	base := strings.TrimSuffix(p, ext)
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		return base + ".state.yaml"
	}
	return base + ".yaml"
}

func writeFile(path string, render func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return render(f)
}
