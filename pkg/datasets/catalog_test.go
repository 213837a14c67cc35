package datasets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pipeforge/controller/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0644))
}

func TestRefreshAndSizeOnDisk(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "mnist", "a.bin"), 1024)
	writeFile(t, filepath.Join(root, "mnist", "b.bin"), 1024)
	writeFile(t, filepath.Join(root, ".hidden", "c.bin"), 2048)

	cat := New(root)
	require.NoError(t, cat.Refresh())

	size := cat.SizeOnDisk("mnist")
	require.NotNil(t, size)
	assert.Equal(t, int64(2), *size)

	assert.Nil(t, cat.SizeOnDisk(".hidden"))
	assert.Nil(t, cat.SizeOnDisk("missing"))
}

func TestSizeInMemoryImage(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "cifar", "a.bin"), 1000)
	cat := New(root)
	require.NoError(t, cat.Refresh())

	desc := types.DatasetDescriptor{Name: "cifar", Type: "image"}

	notNormalized := types.DatasetVersionDescriptor{Normalized: false}
	assert.Equal(t, int64(0)+ (*cat.SizeOnDisk("cifar"))*8, cat.SizeInMemory(desc, notNormalized))

	normalized := types.DatasetVersionDescriptor{Normalized: true}
	assert.Equal(t, *cat.SizeOnDisk("cifar"), cat.SizeInMemory(desc, normalized))
}

func TestSizeInMemoryTabular(t *testing.T) {
	cat := New(t.TempDir())
	desc := types.DatasetDescriptor{Name: "iris", Type: "tabular"}
	version := types.DatasetVersionDescriptor{
		NSamples:  100,
		DataTypes: map[string]int{"float64": 4},
	}
	// 4 float64 columns * 8 bytes * 100 samples / 1024
	assert.Equal(t, int64(4*8*100)/1024, cat.SizeInMemory(desc, version))
}

func TestSizeInMemoryUnknownType(t *testing.T) {
	cat := New(t.TempDir())
	desc := types.DatasetDescriptor{Name: "mystery", Type: "graph"}
	assert.Equal(t, int64(0), cat.SizeInMemory(desc, types.DatasetVersionDescriptor{}))
}

func TestZeroSamplesIsLegalAndZero(t *testing.T) {
	cat := New(t.TempDir())
	desc := types.DatasetDescriptor{Name: "empty", Type: "tabular"}
	version := types.DatasetVersionDescriptor{NSamples: 0, DataTypes: map[string]int{"float64": 4}}
	assert.Equal(t, int64(0), cat.SizeInMemory(desc, version))
}
