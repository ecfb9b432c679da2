package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/sugawarayuuta/sonnet"

	"aether-ca/internal/core"
	"aether-ca/internal/lattice"
)

// Report summarises a model for the inspect command.
type Report struct {
	Name       string            `json:"name"`
	Subfolder  string            `json:"subfolder"`
	Parameters map[string]string `json:"parameters"`
	Mass       string            `json:"mass"`
	AxisMax    []int             `json:"axis_max"`
	Plane      [][]string        `json:"plane,omitempty"`
	// Compliance marks the cells of Plane that toppled when due with "+"
	// and the others with "-".
	Compliance [][]string `json:"compliance,omitempty"`
}

// complianceTracker is implemented by models that can record toppling
// alternation compliance.
type complianceTracker interface {
	TracksCompliance() bool
	Compliance(c lattice.Coord) (bool, error)
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Describe a backup.",
	Long: `inspect restores the backup in --restore and prints its parameters and total
mass. With --plane it also prints the cells of the canonical domain whose
coordinates past the second are zero, and their toppling alternation
compliance when the model tracks it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// the restored store may open scratch files for a next generation
		scratch, err := os.MkdirTemp("", "aether-inspect")
		if err != nil {
			return err
		}
		defer os.RemoveAll(scratch)
		m, err := restore(Cfg.GetString("restore"), map[string]string{"dir": scratch})
		if err != nil {
			return err
		}
		defer m.Close()
		r, err := report(m, Cfg.GetBool("plane"))
		if err != nil {
			return err
		}
		if Cfg.GetBool("json") {
			b, err := sonnet.MarshalIndent(r, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", b)
			return err
		}
		return r.write(cmd.OutOrStdout())
	},
	DisableAutoGenTag: true,
}

func report(m core.Model, withPlane bool) (*Report, error) {
	mass, err := m.MassString()
	if err != nil {
		return nil, err
	}
	r := &Report{
		Name:       m.Name(),
		Subfolder:  m.SubfolderPath(),
		Parameters: m.Parameters().Values(),
		Mass:       mass,
	}
	for axis := 0; axis < m.Dimension(); axis++ {
		r.AxisMax = append(r.AxisMax, m.AsymmetricMax(axis))
	}
	if !withPlane {
		return r, nil
	}
	p, err := plane(m, m.ValueString)
	if err != nil {
		return nil, err
	}
	r.Plane = p.Rows()
	if ct, ok := m.(complianceTracker); ok && ct.TracksCompliance() && m.Step() > 0 {
		p, err := plane(m, func(c lattice.Coord) (string, error) {
			compliant, err := ct.Compliance(c)
			if compliant {
				return "+", err
			}
			return "-", err
		})
		if err != nil {
			return nil, err
		}
		r.Compliance = p.Rows()
	}
	return r, nil
}

// plane lays out cell(x, y, 0, ...) for the canonical cells with x down the
// rows.
func plane(m core.Model, cell func(lattice.Coord) (string, error)) (*core.TextPlane, error) {
	n := m.AsymmetricMax(0) + 1
	w := 1
	if m.Dimension() > 1 {
		w = m.AsymmetricMax(1) + 1
	}
	p := core.NewTextPlane(w, n)
	for x := 0; x < n; x++ {
		for y := 0; y < w; y++ {
			if y > x {
				p.Set(y, x, "")
				continue
			}
			v, err := cell(lattice.Coord{x, y})
			if err != nil {
				return nil, err
			}
			p.Set(y, x, v)
		}
	}
	return p, nil
}

func (r *Report) write(w io.Writer) error {
	fmt.Fprintf(w, "%s (%s)\n", r.Name, r.Subfolder)
	for _, g := range []string{"dimension", "numeric", "storage", "seed", "step", "max_w", "changed"} {
		fmt.Fprintf(w, "  %-10s %s\n", g, r.Parameters[g])
	}
	fmt.Fprintf(w, "  %-10s %s\n", "mass", r.Mass)
	fmt.Fprintf(w, "  %-10s %v\n", "axis max", r.AxisMax)
	if r.Plane == nil {
		return nil
	}
	if err := writeRows(w, r.Plane); err != nil {
		return err
	}
	if r.Compliance == nil {
		return nil
	}
	fmt.Fprintln(w, "  compliance")
	return writeRows(w, r.Compliance)
}

func writeRows(w io.Writer, rows [][]string) error {
	p := core.NewTextPlane(len(rows[0]), len(rows))
	for y, row := range rows {
		for x, s := range row {
			p.Set(x, y, s)
		}
	}
	_, err := p.WriteTo(w)
	return err
}
