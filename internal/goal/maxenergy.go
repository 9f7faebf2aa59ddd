package goal

import (
	"fmt"
	"log/slog"
)

// maxEnergy returns the negated center of the highest occupied energy bin.
type maxEnergy struct {
	opts   Options
	logger *slog.Logger
}

func (g *maxEnergy) Name() string { return MaxEnergy }

func (g *maxEnergy) Reduce(dir string) (float64, error) {
	d, err := LoadDiagnostic(dir, "ParticleBinning", g.opts.Diagnostic)
	if err != nil {
		return 0, err
	}
	g.logger.Debug("Simulation results opened", "dir", dir)

	data, ok := d.At(g.opts.Timestep)
	if !ok {
		return 0, &MissingDataError{Dir: dir, Reason: fmt.Sprintf("timestep %d not recorded", g.opts.Timestep)}
	}
	if len(data) != len(d.Centers) {
		return 0, &MissingDataError{
			Dir:    dir,
			Reason: fmt.Sprintf("%d bins but %d centers", len(data), len(d.Centers)),
		}
	}

	last := -1
	for i, v := range data {
		if v != 0 {
			last = i
		}
	}
	if last < 0 {
		return 0, &MissingDataError{Dir: dir, Reason: "energy spectrum is empty"}
	}
	if last == len(data)-1 {
		g.logger.Warn("Final energy bin not empty, data loss may have occurred", "dir", dir)
	}
	return -d.Centers[last], nil
}
