//go:build !debug

// Package debug exposes build-time flags used to adjust logging and assertions.
package debug

// Debug is true when the debug build tag is set.
const Debug = false
