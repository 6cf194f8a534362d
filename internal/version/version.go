// Package version holds the build-time version string, stamped by
// magefile.go's ldflags and surfaced by the harness's `version` command.
package version

// version is overwritten at build time with -ldflags
// "-X github.com/relay-ci/revpipe/internal/version.version=...".
var version = "dev"

// String returns the stamped version, or "dev" for an unstamped build.
func String() string {
	return version
}
