// Package version holds the build-time version string, stamped by
// scripts/version/main.go and surfaced through ts --version.
package version

var Version = "0.0.0"
