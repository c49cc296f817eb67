// Package config resolves the gateway's server fleet. Loaders are plain
// values composed by the caller, so which sources apply is explicit at
// the call site: environment loaders for the well-known backends, a
// YAML file loader for arbitrary fleets. Loading has no side effects
// and a loader that finds nothing contributes nothing.
package config
