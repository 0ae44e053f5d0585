package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultDataDirXDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	assert.Equal(t, "/custom/data/tether", DefaultDataDir())
}

func TestDefaultDataDirWithoutHome(t *testing.T) {
	t.Setenv("HOME", "")
	t.Setenv("XDG_DATA_HOME", "")
	assert.Equal(t, "./data", DefaultDataDir())
}

func TestDefaultDataDirShape(t *testing.T) {
	got := DefaultDataDir()
	assert.NotEmpty(t, got)
	assert.True(t, filepath.IsAbs(got) || got == "./data", "got %s", got)
	base := filepath.Base(got)
	assert.Contains(t, []string{"tether", "Tether", ".tether", "data"}, base)
	assert.Equal(t, got, DefaultDataDir())
}

func TestIsDir(t *testing.T) {
	assert.True(t, isDir("."))
	assert.False(t, isDir("/non/existent/path/that/does/not/exist"))
	assert.False(t, isDir(os.Args[0]))
}
