package aether

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"aether-ca/internal/grid"
)

// Config controls an Aether model.
type Config struct {
	// Dimension of the lattice, 1 to 4. Zero accepts whatever a restored
	// backup recorded.
	Dimension int
	// Seed is the value placed at the origin, in the notation of the
	// numeric kind.
	Seed string
	// Storage selects the grid strategy. Empty accepts whatever a restored
	// backup recorded.
	Storage grid.Strategy
	// Dir is the root under which disk-backed stores keep their working files.
	Dir string
	// BlockCells bounds the cells of one paged block.
	BlockCells int
	// Compliance records, for every cell, whether it toppled exactly when
	// its parity said it should.
	Compliance bool

	Log logrus.FieldLogger
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() Config {
	return Config{
		Dimension:  2,
		Seed:       "1000",
		Storage:    grid.Memory,
		Dir:        "data",
		BlockCells: grid.DefaultBlockCells,
	}
}

// FromMap populates the config from a string map (flag-style key/value pairs).
// Values that do not parse keep their default.
func FromMap(cfg map[string]string) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	if v, ok := cfg["dimension"]; ok {
		if parsed, err := cast.ToIntE(v); err == nil {
			c.Dimension = parsed
		}
	}
	if v, ok := cfg["seed"]; ok && v != "" {
		c.Seed = v
	}
	if v, ok := cfg["storage"]; ok {
		for _, s := range grid.Strategies() {
			if string(s) == v {
				c.Storage = s
			}
		}
	}
	if v, ok := cfg["dir"]; ok && v != "" {
		c.Dir = v
	}
	if v, ok := cfg["compliance"]; ok {
		if parsed, err := cast.ToBoolE(v); err == nil {
			c.Compliance = parsed
		}
	}
	if v, ok := cfg["block_cells"]; ok {
		if parsed, err := cast.ToIntE(v); err == nil && parsed > 0 {
			c.BlockCells = parsed
		}
	}
	return c
}
