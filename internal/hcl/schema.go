package hcl

import "github.com/hashicorp/hcl/v2"

// fileRoot decodes the top-level content of any study file.
type fileRoot struct {
	Repository  *string       `hcl:"repository,optional"`
	Destination *string       `hcl:"destination,optional"`
	Studies     []*studyBlock `hcl:"study,block"`
	Remain      hcl.Body      `hcl:",remain"`
}

type studyBlock struct {
	Label   string         `hcl:"label,label"`
	Enabled *bool          `hcl:"enabled,optional"`
	Tags    []string       `hcl:"tags,optional"`
	Cases   []*caseBlock   `hcl:"case,block"`
	PostPro []*scriptBlock `hcl:"postpro,block"`
}

type caseBlock struct {
	Label          string          `hcl:"label,label"`
	RunID          *string         `hcl:"run_id,optional"`
	NProcs         *int            `hcl:"n_procs,optional"`
	ExpectedTime   *string         `hcl:"expected_time,optional"`
	Depends        *string         `hcl:"depends,optional"`
	ParametricArgs *string         `hcl:"parametric_args,optional"`
	NotebookArgs   *string         `hcl:"notebook_args,optional"`
	KwArgs         *string         `hcl:"kw_args,optional"`
	Tags           []string        `hcl:"tags,optional"`
	Enabled        *bool           `hcl:"enabled,optional"`
	Compare        []*compareBlock `hcl:"compare,block"`
	Scripts        []*scriptBlock  `hcl:"script,block"`
}

type compareBlock struct {
	Repo      *string `hcl:"repo,optional"`
	Dest      *string `hcl:"dest,optional"`
	Threshold *string `hcl:"threshold,optional"`
	Args      *string `hcl:"args,optional"`
}

// scriptBlock backs both `script` and `postpro` blocks.
type scriptBlock struct {
	Label   string  `hcl:"label,label"`
	Args    *string `hcl:"args,optional"`
	Dest    *string `hcl:"dest,optional"`
	Enabled *bool   `hcl:"enabled,optional"`
}
