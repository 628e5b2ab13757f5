// Package buildconfig carries release metadata stamped at link time via
// -ldflags "-X github.com/synaptiq/synapse/internal/buildconfig.version=...".
package buildconfig

var (
	version = "dev"
	commit  = "unknown"
)

// Version returns the stamped release version; "dev" for local builds.
func Version() string {
	return version
}

// Commit returns the stamped git commit hash.
func Commit() string {
	return commit
}

// VersionInfo bundles the stamped fields for status endpoints.
func VersionInfo() map[string]string {
	return map[string]string{
		"version": version,
		"commit":  commit,
	}
}
