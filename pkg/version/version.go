// Package version holds the build version string, set via -ldflags at
// release build time and defaulting to a development marker otherwise.
package version

// Version is the running binary's version, overridden at build time with
// -ldflags "-X terraind/pkg/version.Version=v1.2.3".
var Version = "v0.0.0-dev"
