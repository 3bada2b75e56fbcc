// Package buildinfo carries version identity stamped at link time.
package buildinfo

// Version is overridden via -ldflags "-X triton/internal/buildinfo.Version=...".
var Version = "dev"
