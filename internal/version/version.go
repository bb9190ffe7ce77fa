// Package version holds the build version of fm-serve.
package version

// Version is the current release version. Overridden at build time via
// -ldflags "-X fm-serve/internal/version.Version=x.y.z".
var Version = "1.0.0"
