package config

import (
	"context"
)

// Loader is the interface for a format-specific study file loader.
type Loader interface {
	// Load reads the study files at the given paths and translates them
	// into the format-agnostic model.
	Load(ctx context.Context, paths ...string) (*Model, error)
}

// Writer is the interface for producing a study file skeleton from a
// model, the inverse of Loader.
type Writer interface {
	Write(ctx context.Context, path string, model *Model) error
}
