package sysinfo

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectFillsRuntimeFields(t *testing.T) {
	info := Collect()
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.NotEmpty(t, info.Arch)
	assert.NotContains(t, info.IPAddress, "/")
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, isLoopback([]string{"up", "loopback"}))
	assert.False(t, isLoopback([]string{"up", "broadcast"}))
}
