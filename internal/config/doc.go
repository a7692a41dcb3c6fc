// Package config defines the format-agnostic model of a study file along
// with the Loader and Writer interfaces used to read and produce it.
//
// The `config.Model` is the single source of truth from which the `study`
// package builds case records. Concrete implementations of the interfaces,
// such as for HCL, are provided in separate packages.
package config
