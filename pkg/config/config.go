// Package config loads and validates the TOML configuration that
// describes the server's L2 interface, log level, and exported targets
// (spec.md §6).
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// File is the root of a parsed configuration file.
type File struct {
	Server Server   `toml:"server"`
	Target []Target `toml:"target"`
}

// Server holds process-wide settings.
type Server struct {
	Interface string `toml:"interface"`
	LogLevel  string `toml:"log_level"`
}

// Target describes one exported (shelf, slot) address and its backend.
type Target struct {
	Shelf        uint16    `toml:"shelf"`
	Slot         uint8     `toml:"slot"`
	Backend      string    `toml:"backend"` // "file" | "cas"
	ConfigString string    `toml:"config_string"`
	File         *FileSpec `toml:"file"`
	CAS          *CASSpec  `toml:"cas"`

	// NBDAddr, if set, also exports this target over NBD (spec.md §4.8)
	// on the given "host:port" address, independently of its AoE
	// (shelf, slot) address.
	NBDAddr string `toml:"nbd_addr"`
}

// FileSpec configures a target.file = { path, size } backend.
type FileSpec struct {
	Path string `toml:"path"`
	Size uint64 `toml:"size"`
}

// CASSpec configures a target.cas = { total_sectors, block_size,
// blob_store } backend.
type CASSpec struct {
	TotalSectors uint64        `toml:"total_sectors"`
	BlockSize    uint32        `toml:"block_size"`
	BlobStore    BlobStoreSpec `toml:"blob_store"`
}

// BlobStoreSpec configures the blob store backing a CAS target.
type BlobStoreSpec struct {
	Type string `toml:"type"` // only "file" is currently supported
	Path string `toml:"path"`
}

// Load reads and parses the TOML file at path, then validates it.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	f.applyDefaults()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) applyDefaults() {
	if f.Server.LogLevel == "" {
		f.Server.LogLevel = "info"
	}
	for i := range f.Target {
		if f.Target[i].CAS != nil && f.Target[i].CAS.BlockSize == 0 {
			f.Target[i].CAS.BlockSize = 4096
		}
	}
}

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true, "off": true,
}

// Validate checks the structural and semantic rules from spec.md §6:
// a required interface name, a recognized log level, unique (shelf,
// slot) pairs, and a populated backend subsection matching each target's
// declared kind. A subsection for the other kind is not checked.
func (f *File) Validate() error {
	if f.Server.Interface == "" {
		return fmt.Errorf("config: server.interface is required")
	}
	if !validLogLevels[f.Server.LogLevel] {
		return fmt.Errorf("config: server.log_level %q is not recognized", f.Server.LogLevel)
	}

	seen := make(map[[2]uint64]bool, len(f.Target))
	for i, t := range f.Target {
		if t.Slot > 0xFE {
			return fmt.Errorf("config: target[%d]: slot %d exceeds maximum 254", i, t.Slot)
		}
		if t.Shelf > 0xFFFE {
			return fmt.Errorf("config: target[%d]: shelf %d exceeds maximum 65534", i, t.Shelf)
		}
		key := [2]uint64{uint64(t.Shelf), uint64(t.Slot)}
		if seen[key] {
			return fmt.Errorf("config: duplicate target shelf=%d slot=%d", t.Shelf, t.Slot)
		}
		seen[key] = true

		switch t.Backend {
		case "file":
			if t.File == nil {
				return fmt.Errorf("config: target[%d]: backend \"file\" requires [target.file]", i)
			}
			if t.File.Path == "" {
				return fmt.Errorf("config: target[%d]: target.file.path is required", i)
			}
		case "cas":
			if t.CAS == nil {
				return fmt.Errorf("config: target[%d]: backend \"cas\" requires [target.cas]", i)
			}
			if t.CAS.TotalSectors == 0 {
				return fmt.Errorf("config: target[%d]: target.cas.total_sectors is required", i)
			}
			if t.CAS.BlobStore.Type != "file" {
				return fmt.Errorf("config: target[%d]: target.cas.blob_store.type must be \"file\"", i)
			}
			if t.CAS.BlobStore.Path == "" {
				return fmt.Errorf("config: target[%d]: target.cas.blob_store.path is required", i)
			}
		default:
			return fmt.Errorf("config: target[%d]: backend must be \"file\" or \"cas\", got %q", i, t.Backend)
		}
	}
	return nil
}
