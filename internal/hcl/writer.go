package hcl

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/vk/casegrid/internal/config"
	"github.com/vk/casegrid/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
)

// Writer is the HCL-specific implementation of the config.Writer
// interface.
type Writer struct{}

// NewWriter creates a new HCL study file writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Write renders model as a study file at path. It refuses to overwrite an
// existing file.
func (w *Writer) Write(ctx context.Context, path string, model *config.Model) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create study file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(Render(model)); err != nil {
		return fmt.Errorf("failed to write study file %s: %w", path, err)
	}
	ctxlog.FromContext(ctx).Debug("Study file written.", "path", path, "studies", len(model.Studies))
	return f.Close()
}

func stringList(items []string) cty.Value {
	if len(items) == 0 {
		return cty.ListValEmpty(cty.String)
	}
	vals := make([]cty.Value, len(items))
	for i, s := range items {
		vals[i] = cty.StringVal(s)
	}
	return cty.ListVal(vals)
}

func setString(body *hclwrite.Body, name, v string) {
	if v != "" {
		body.SetAttributeValue(name, cty.StringVal(v))
	}
}

// Render formats model as HCL. Only values that differ from the loader's
// defaults are written, except `enabled`, which is always spelled out so
// the file is easy to edit.
func Render(model *config.Model) []byte {
	f := hclwrite.NewEmptyFile()
	root := f.Body()
	root.SetAttributeValue("repository", cty.StringVal(model.Repository))
	root.SetAttributeValue("destination", cty.StringVal(model.Destination))

	for _, s := range model.Studies {
		root.AppendNewline()
		sb := root.AppendNewBlock("study", []string{s.Label}).Body()
		sb.SetAttributeValue("enabled", cty.BoolVal(s.Enabled))
		if len(s.Tags) > 0 {
			sb.SetAttributeValue("tags", stringList(s.Tags))
		}

		for _, c := range s.Cases {
			sb.AppendNewline()
			cb := sb.AppendNewBlock("case", []string{c.Label}).Body()
			cb.SetAttributeValue("enabled", cty.BoolVal(c.Enabled))
			setString(cb, "run_id", c.RunID)
			if c.NProcs != nil {
				cb.SetAttributeValue("n_procs", cty.NumberIntVal(int64(*c.NProcs)))
			}
			setString(cb, "expected_time", c.ExpectedTime)
			setString(cb, "depends", c.Depends)
			setString(cb, "parametric_args", c.ParametricArgs)
			setString(cb, "notebook_args", c.NotebookArgs)
			setString(cb, "kw_args", c.KwArgs)
			if len(c.Tags) > 0 {
				cb.SetAttributeValue("tags", stringList(c.Tags))
			}
			for _, cmp := range c.Compare {
				b := cb.AppendNewBlock("compare", nil).Body()
				setString(b, "repo", cmp.Repo)
				setString(b, "dest", cmp.Dest)
				setString(b, "threshold", cmp.Threshold)
				setString(b, "args", cmp.Args)
			}
			for _, sc := range c.Scripts {
				writeScript(cb, "script", sc)
			}
		}
		for _, p := range s.PostPro {
			sb.AppendNewline()
			writeScript(sb, "postpro", p)
		}
	}
	return hclwrite.Format(f.Bytes())
}

func writeScript(body *hclwrite.Body, kind string, s *config.Script) {
	b := body.AppendNewBlock(kind, []string{s.Label}).Body()
	if !s.Enabled {
		b.SetAttributeValue("enabled", cty.False)
	}
	setString(b, "args", s.Args)
	setString(b, "dest", s.Dest)
}
