package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDataDirs(t *testing.T) {
	cam2 := t.TempDir()
	assert.Equal(t, []string{"a/cam1", "b/cam1"}, dataDirs(" a/cam1, ,b/cam1", ""))
	assert.Equal(t, []string{"a/cam1", cam2}, dataDirs("a/cam1", cam2))
	assert.Equal(t, []string{"a/cam1"}, dataDirs("a/cam1", filepath.Join(cam2, "missing")))
	assert.Empty(t, dataDirs("", ""))
}
