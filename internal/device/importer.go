package device

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// deviceFile is the on-disk device definition format.
//
//	devices:
//	  - id: fan1
//	    name: Ceiling fan
//	    protocol: mqtt
//	    address:
//	      topic: fan1
type deviceFile struct {
	Devices []deviceEntry `yaml:"devices"`
}

type deviceEntry struct {
	ID       string         `yaml:"id"`
	Name     string         `yaml:"name"`
	Protocol string         `yaml:"protocol"`
	Address  map[string]any `yaml:"address"`
	Enabled  *bool          `yaml:"enabled"`
}

// ImportResult summarises an import run.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// ImportFile loads a YAML device file and upserts every entry.
//
// Entries that fail validation are logged and skipped; the rest are
// stored. A file that cannot be read or parsed returns ErrInvalidFile.
// Devices absent from the file are left in place.
func (r *Registry) ImportFile(ctx context.Context, path string) (ImportResult, error) {
	var result ImportResult

	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return result, fmt.Errorf("%w: reading %s: %w", ErrInvalidFile, path, err)
	}

	var file deviceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return result, fmt.Errorf("%w: parsing %s: %w", ErrInvalidFile, path, err)
	}

	for _, entry := range file.Devices {
		d := entry.toDevice()
		if err := r.Upsert(ctx, d); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			r.logger.Warn("skipping device", "id", entry.ID, "error", err)
			result.Skipped++
			continue
		}
		result.Imported++
	}

	r.logger.Info("devices imported", "file", path, "imported", result.Imported, "skipped", result.Skipped)
	return result, nil
}

func (e deviceEntry) toDevice() *Device {
	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}
	name := e.Name
	if name == "" {
		name = e.ID
	}
	return &Device{
		ID:       e.ID,
		Name:     name,
		Protocol: e.Protocol,
		Address:  Address(e.Address),
		Enabled:  enabled,
	}
}
