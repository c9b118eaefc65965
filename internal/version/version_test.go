package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	info := Get()
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}

func TestInfoString(t *testing.T) {
	info := Info{Version: "v1.0.0", GitCommit: "abc123", BuildDate: "2025-01-02", GoVersion: "go1.25.0"}
	assert.Equal(t, "v1.0.0 (commit: abc123, built: 2025-01-02, go1.25.0)", info.String())
}
