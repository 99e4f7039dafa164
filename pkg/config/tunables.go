package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// Tunables mirrors spec.md §6.4's compile-time tunable table, made
// runtime-configurable via an optional hujson file.
type Tunables struct {
	// NBDLevel is the max number of BD levels (pkg/bdesc.NewArena's
	// levels argument).
	NBDLevel int `json:"nbdlevel"` //nolint:tagliatelle // matches spec.md's tunable names

	// NBDIndex is the max number of graph indices (pkg/bdesc.NewArena's
	// indices argument). Must be >= NBDLevel.
	NBDIndex int `json:"nbdindex"` //nolint:tagliatelle

	// PatchNRB enables the non-rollbackable patch optimization.
	PatchNRB bool `json:"patch_nrb"`

	// BdescExternAfterCount is loaded from the file but not passed on:
	// pkg/depgraph has no matching setting and always tracks cross-block
	// after-edges per bdesc, disqualifying a block from hosting a new NRB
	// patch while any such edge is outstanding. Setting it false changes
	// nothing.
	BdescExternAfterCount bool `json:"bdesc_extern_after_count"`

	// NOverlap1 is the overlap-hash bucket count per bdesc.
	NOverlap1 int `json:"noverlap1"`
}

// DefaultTunables returns spec.md §6.4's defaults.
func DefaultTunables() Tunables {
	return Tunables{
		NBDLevel:              4,
		NBDIndex:              4,
		PatchNRB:              true,
		BdescExternAfterCount: true,
		NOverlap1:             32,
	}
}

// rawTunables overlays DefaultTunables: a field left absent from the file
// (nil pointer) keeps its default instead of zeroing out, a "defaults,
// then file" precedence applied to individual scalar fields since
// Tunables has no nested per-source Config values to merge.
type rawTunables struct {
	NBDLevel              *int  `json:"nbdlevel"`                 //nolint:tagliatelle
	NBDIndex              *int  `json:"nbdindex"`                 //nolint:tagliatelle
	PatchNRB              *bool `json:"patch_nrb"`
	BdescExternAfterCount *bool `json:"bdesc_extern_after_count"`
	NOverlap1             *int  `json:"noverlap1"`
}

// Load reads Tunables from path, a hujson (JSON with comments and
// trailing commas) file, overlaid on DefaultTunables. An empty path
// returns the defaults unchanged. A non-empty path that does not exist
// is an error: a tunables path named explicitly on the command line is
// expected to exist.
func Load(path string) (Tunables, error) {
	cfg := DefaultTunables()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is operator-controlled, not request input
	if err != nil {
		if os.IsNotExist(err) {
			return Tunables{}, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}

		return Tunables{}, fmt.Errorf("%w: %s: %w", ErrFileRead, path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Tunables{}, fmt.Errorf("%w %s: %w", ErrInvalid, path, err)
	}

	var raw rawTunables

	if err := json.Unmarshal(standardized, &raw); err != nil {
		return Tunables{}, fmt.Errorf("%w %s: %w", ErrInvalid, path, err)
	}

	overlay(&cfg, raw)

	if err := cfg.Validate(); err != nil {
		return Tunables{}, fmt.Errorf("%w %s: %w", ErrInvalid, path, err)
	}

	return cfg, nil
}

func overlay(cfg *Tunables, raw rawTunables) {
	if raw.NBDLevel != nil {
		cfg.NBDLevel = *raw.NBDLevel
	}

	if raw.NBDIndex != nil {
		cfg.NBDIndex = *raw.NBDIndex
	}

	if raw.PatchNRB != nil {
		cfg.PatchNRB = *raw.PatchNRB
	}

	if raw.BdescExternAfterCount != nil {
		cfg.BdescExternAfterCount = *raw.BdescExternAfterCount
	}

	if raw.NOverlap1 != nil {
		cfg.NOverlap1 = *raw.NOverlap1
	}
}

// Validate checks the tunable constraints spec.md §6.4 implies: at least
// one BD level, at least as many graph indices as levels, and a positive
// overlap-hash size.
func (t Tunables) Validate() error {
	if t.NBDLevel < 1 {
		return fmt.Errorf("nbdlevel %d: must be >= 1: %w", t.NBDLevel, ErrInvalid)
	}

	if t.NBDIndex < t.NBDLevel {
		return fmt.Errorf("nbdindex %d: must be >= nbdlevel %d: %w", t.NBDIndex, t.NBDLevel, ErrInvalid)
	}

	if t.NOverlap1 < 1 {
		return fmt.Errorf("noverlap1 %d: must be >= 1: %w", t.NOverlap1, ErrInvalid)
	}

	return nil
}
