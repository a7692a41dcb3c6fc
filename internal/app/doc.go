// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the orchestration of one invocation:
// loading the study file, resolving cases into the dependency graph, then
// staging, running or submitting, comparing, post-processing and reporting
// state, decoupled from any specific entrypoint like a CLI.
package app
