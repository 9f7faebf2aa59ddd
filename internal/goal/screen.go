package goal

import (
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/floats"
)

// screenEnergy returns the negated energy deposited on a screen diagnostic
// by the end of the simulation.
type screenEnergy struct {
	opts   Options
	logger *slog.Logger
}

func (g *screenEnergy) Name() string { return ScreenDepositedEnergy }

func (g *screenEnergy) Reduce(dir string) (float64, error) {
	d, err := LoadDiagnostic(dir, "Screen", g.opts.Diagnostic)
	if err != nil {
		return 0, err
	}

	data, ok := d.At(g.opts.Timestep)
	if !ok {
		return 0, &MissingDataError{Dir: dir, Reason: fmt.Sprintf("timestep %d not recorded", g.opts.Timestep)}
	}
	deposited := floats.Sum(data)
	if deposited == 0 {
		return 0, &MissingDataError{Dir: dir, Reason: "no energy deposited on screen"}
	}
	g.logger.Debug("Screen energy read", "dir", dir, "energy", deposited)
	return -deposited, nil
}
