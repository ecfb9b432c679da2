package core

import (
	"sort"

	"github.com/sirupsen/logrus"

	"aether-ca/internal/lattice"
)

// Model defines the contract a lattice automaton exposes to tools.
type Model interface {
	Name() string
	SubfolderPath() string
	Dimension() int
	Step() int64
	// NextStep advances one generation and reports whether any cell changed.
	NextStep() (bool, error)
	// IsChanged reports the result of the last step; ok is false before the
	// first step of a fresh model.
	IsChanged() (changed, ok bool)
	// AsymmetricMax is the largest coordinate along axis that may hold a
	// non-zero value in the canonical domain.
	AsymmetricMax(axis int) int
	ValueString(c lattice.Coord) (string, error)
	// MassString is the sum of every cell of the lattice.
	MassString() (string, error)
	Parameters() ParameterSnapshot
	BackUp(path, name string) error
	Close() error
}

// Options carries what a Factory needs to build a model.
type Options struct {
	Config map[string]string
	// Restore is a backup folder to resume from; empty starts a fresh model.
	Restore string
	Log     logrus.FieldLogger
}

// Factory constructs a Model.
type Factory func(opts Options) (Model, error)

var models = map[string]Factory{}

// Register adds a model factory under the provided name.
func Register(name string, f Factory) {
	if name == "" || f == nil {
		return
	}
	models[name] = f
}

// Models exposes the registry of available model factories.
func Models() map[string]Factory {
	return models
}

// Names lists the registered factories in sorted order.
func Names() []string {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
