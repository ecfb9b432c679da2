package aether

import (
	"math/big"

	"aether-ca/internal/core"
	"aether-ca/internal/number"
)

func init() {
	core.Register(string(number.KindInt32), factory[int32](number.Int32))
	core.Register(string(number.KindInt64), factory[int64](number.Int64))
	core.Register(string(number.KindBigInt), factory[*big.Int](number.BigInt{}))
	core.Register(string(number.KindRational), factory[*big.Rat](number.Rational{}))
}

// factory adapts New and Restore to the core registry. When restoring, a
// dimension or storage missing from the map accepts the recorded value.
func factory[T any](a number.Arith[T]) core.Factory {
	return func(opts core.Options) (core.Model, error) {
		cfg := FromMap(opts.Config)
		cfg.Log = opts.Log
		if opts.Restore != "" {
			if _, ok := opts.Config["dimension"]; !ok {
				cfg.Dimension = 0
			}
			if _, ok := opts.Config["storage"]; !ok {
				cfg.Storage = ""
			}
			m, err := Restore(a, opts.Restore, cfg)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
		m, err := New(a, cfg)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}
