package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersion(t *testing.T) {
	assert.Equal(t, "dev", Version())
	assert.Contains(t, String(), "version: dev,")
}

func TestBuildInfo(t *testing.T) {
	defer func(c, b string) { commit, buildTime = c, b }(commit, buildTime)

	commit, buildTime = "", ""
	assert.Equal(t, "unknown", Commit())
	assert.Equal(t, "unknown", BuildTime())

	commit, buildTime = "abc123", "2021-01-01T00:00:00Z"
	assert.Equal(t, "version: dev, commit: abc123, built: 2021-01-01T00:00:00Z", String())
}
