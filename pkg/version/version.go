// Package version carries the build version, overridable at link time with
// -ldflags "-X github.com/finsight-ai/finsight/pkg/version.Version=v1.2.3".
package version

// Version is the service version string.
var Version = "dev"
