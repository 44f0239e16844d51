// Package version holds the build-time version string, overridden via
// -ldflags at build time (the teacher's own convention).
package version

// Version is set via -ldflags "-X .../pkg/version.Version=..." at build
// time; it defaults to "dev" for unreleased builds.
var Version = "dev"
