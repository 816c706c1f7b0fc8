// Package buildinfo holds the version string every process binary prints
// for its "version" subcommand, overridable at link time with
// -ldflags "-X .../internal/buildinfo.Version=...".
package buildinfo

var Version = "dev"
