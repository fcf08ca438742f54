package version

import "fmt"

// Set at build time with -ldflags "-X".
var (
	version   string
	commit    string
	buildTime string
)

// Version returns the bridge version.
func Version() string {
	if version == "" {
		version = "dev"
	}

	return version
}

// Commit returns the git commit the binary was built from.
func Commit() string {
	if commit == "" {
		return "unknown"
	}
	return commit
}

// BuildTime returns when the binary was built.
func BuildTime() string {
	if buildTime == "" {
		return "unknown"
	}
	return buildTime
}

// String describes the build in one line.
func String() string {
	return fmt.Sprintf("version: %s, commit: %s, built: %s", Version(), Commit(), BuildTime())
}
