package hcl

import (
	"fmt"

	"github.com/vk/casegrid/internal/config"
)

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// enabled defaults to true when the attribute is left out.
func enabled(p *bool) bool {
	return p == nil || *p
}

func translateStudy(s *studyBlock) (*config.Study, error) {
	out := &config.Study{
		Label:   s.Label,
		Enabled: enabled(s.Enabled),
		Tags:    s.Tags,
	}
	seen := make(map[string]struct{})
	for _, c := range s.Cases {
		tc, err := translateCase(c)
		if err != nil {
			return nil, fmt.Errorf("study %q: %w", s.Label, err)
		}
		id := tc.Label + "/" + tc.RunID
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("study %q: case %q with run id %q is defined more than once", s.Label, tc.Label, tc.RunID)
		}
		seen[id] = struct{}{}
		out.Cases = append(out.Cases, tc)
	}
	for _, p := range s.PostPro {
		out.PostPro = append(out.PostPro, translateScript(p))
	}
	return out, nil
}

func translateCase(c *caseBlock) (*config.Case, error) {
	if c.NProcs != nil && *c.NProcs < 1 {
		return nil, fmt.Errorf("case %q: n_procs must be at least 1, got %d", c.Label, *c.NProcs)
	}
	out := &config.Case{
		Label:          c.Label,
		RunID:          str(c.RunID),
		NProcs:         c.NProcs,
		ExpectedTime:   str(c.ExpectedTime),
		Depends:        str(c.Depends),
		ParametricArgs: str(c.ParametricArgs),
		NotebookArgs:   str(c.NotebookArgs),
		KwArgs:         str(c.KwArgs),
		Tags:           c.Tags,
		Enabled:        enabled(c.Enabled),
	}
	for _, cmp := range c.Compare {
		out.Compare = append(out.Compare, &config.Compare{
			Repo:      str(cmp.Repo),
			Dest:      str(cmp.Dest),
			Threshold: str(cmp.Threshold),
			Args:      str(cmp.Args),
		})
	}
	for _, s := range c.Scripts {
		out.Scripts = append(out.Scripts, translateScript(s))
	}
	return out, nil
}

func translateScript(s *scriptBlock) *config.Script {
	return &config.Script{
		Label:   s.Label,
		Args:    str(s.Args),
		Dest:    str(s.Dest),
		Enabled: enabled(s.Enabled),
	}
}
