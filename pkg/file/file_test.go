package file_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/benmeehan/iothub-agent/pkg/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name" yaml:"name"`
	Count int    `json:"count" yaml:"count"`
}

func TestFileService_ReadJsonFile(t *testing.T) {
	fs := file.NewFileService()
	path := filepath.Join(t.TempDir(), "identity.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"dev1","count":2}`), 0600))

	var got sample
	require.NoError(t, fs.ReadJsonFile(path, &got))
	assert.Equal(t, sample{Name: "dev1", Count: 2}, got)
}

func TestFileService_ReadYamlFile(t *testing.T) {
	fs := file.NewFileService()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: hub\ncount: 3\n"), 0600))

	var got sample
	require.NoError(t, fs.ReadYamlFile(path, &got))
	assert.Equal(t, sample{Name: "hub", Count: 3}, got)
}

func TestFileService_ReadTrimmed(t *testing.T) {
	fs := file.NewFileService()
	path := filepath.Join(t.TempDir(), "device.key")
	require.NoError(t, os.WriteFile(path, []byte("  c2VjcmV0\n"), 0600))

	key, err := fs.ReadTrimmed(path)
	require.NoError(t, err)
	assert.Equal(t, "c2VjcmV0", key)
}

func TestFileService_MissingFile(t *testing.T) {
	fs := file.NewFileService()
	path := filepath.Join(t.TempDir(), "missing.json")

	var got sample
	err := fs.ReadJsonFile(path, &got)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = fs.ReadFileRaw(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
