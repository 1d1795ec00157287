// Package version carries the release version stamped into both
// binaries.
package version

// Version is the semantic version of this build.
const Version = "0.1.0"
