// Package datasets implements the Dataset Catalog: on-disk size
// tracking and in-memory footprint estimation for dataset folders.
package datasets

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pipeforge/controller/pkg/log"
	"github.com/pipeforge/controller/pkg/types"
	"github.com/rs/zerolog"
)

// dtypeSize is the itemsize (bytes) of each schema dtype the catalog
// understands for tabular footprint estimation.
var dtypeSize = map[string]int64{
	"int8":    1,
	"uint8":   1,
	"int16":   2,
	"uint16":  2,
	"int32":   4,
	"uint32":  4,
	"int64":   8,
	"uint64":  8,
	"float32": 4,
	"float64": 8,
	"bool":    1,
}

// Catalog tracks dataset folders under a root directory.
type Catalog struct {
	root string

	mu       sync.RWMutex
	datasets map[string]*types.Dataset

	logger zerolog.Logger
}

// New creates a Catalog rooted at the given datasets directory.
func New(root string) *Catalog {
	return &Catalog{
		root:     root,
		datasets: make(map[string]*types.Dataset),
		logger:   log.WithComponent("dataset-catalog"),
	}
}

// Refresh walks the datasets root (single level). For each entry not
// starting with "." it checks modification time; if new or changed, it
// recomputes the folder's on-disk size in KB by summing file sizes
// recursively. A failed listing leaves the prior catalog intact.
func (c *Catalog) Refresh() error {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		c.logger.Error().Err(err).Str("root", c.root).Msg("failed to list datasets root")
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !entry.IsDir() {
			continue
		}

		path := filepath.Join(c.root, name)
		info, err := os.Stat(path)
		if err != nil {
			c.logger.Warn().Err(err).Str("dataset", name).Msg("failed to stat dataset folder")
			continue
		}
		modTime := info.ModTime()

		existing, known := c.datasets[name]
		if known && !modTime.After(existing.ModifiedAt) {
			continue
		}

		size, err := folderSizeKB(path)
		if err != nil {
			c.logger.Warn().Err(err).Str("dataset", name).Msg("failed to size dataset folder")
			continue
		}

		c.datasets[name] = &types.Dataset{
			Name:         name,
			SizeOnDiskKB: size,
			ModifiedAt:   modTime,
		}
	}

	return nil
}

func folderSizeKB(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total / 1024, nil
}

// SizeOnDisk returns the dataset's on-disk size in KB, or nil if unknown.
func (c *Catalog) SizeOnDisk(name string) *int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.datasets[name]
	if !ok {
		return nil
	}
	kb := d.SizeOnDiskKB
	return &kb
}

// SizeInMemory estimates a dataset's in-memory footprint (KB) from its
// descriptor. version selects which schema (original or preprocessed)
// to use.
func (c *Catalog) SizeInMemory(desc types.DatasetDescriptor, version types.DatasetVersionDescriptor) int64 {
	switch desc.Type {
	case "image":
		onDisk := c.SizeOnDisk(desc.Name)
		var base int64
		if onDisk != nil {
			base = *onDisk
		}
		if !version.Normalized {
			// uint8 -> float64 expansion.
			base *= 8
		}
		return base
	case "tabular":
		var perSample int64
		for dtype, count := range version.DataTypes {
			perSample += dtypeSize[dtype] * int64(count)
		}
		return (perSample * int64(version.NSamples)) / 1024
	default:
		c.logger.Warn().Str("dataset", desc.Name).Str("type", desc.Type).Msg("unknown dataset type")
		return 0
	}
}

// List returns every dataset currently known to the catalog.
func (c *Catalog) List() []*types.Dataset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*types.Dataset, 0, len(c.datasets))
	for _, d := range c.datasets {
		cp := *d
		out = append(out, &cp)
	}
	return out
}
