package goal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Diagnostic is a diagnostic exported by the simulation as JSON: bin centers
// and the data recorded at each output timestep.
type Diagnostic struct {
	Centers   []float64  `json:"centers"`
	Timesteps []Timestep `json:"timesteps"`
}

// Timestep is one recorded output of a diagnostic.
type Timestep struct {
	Timestep int       `json:"timestep"`
	Data     []float64 `json:"data"`
}

// DiagnosticPath is where a diagnostic of the given kind and number lives,
// e.g. ParticleBinning0.json.
func DiagnosticPath(dir, kind string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d.json", kind, n))
}

// LoadDiagnostic reads a JSON diagnostic export.
func LoadDiagnostic(dir, kind string, n int) (*Diagnostic, error) {
	path := DiagnosticPath(dir, kind, n)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &MissingDataError{Dir: dir, Reason: filepath.Base(path) + " not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("read diagnostic: %w", err)
	}

	var d Diagnostic
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, &MissingDataError{Dir: dir, Reason: fmt.Sprintf("%s is malformed: %v", filepath.Base(path), err)}
	}
	if len(d.Timesteps) == 0 {
		return nil, &MissingDataError{Dir: dir, Reason: filepath.Base(path) + " has no recorded timesteps"}
	}
	return &d, nil
}

// At returns the data recorded at timestep t, or the last recorded data when
// t is negative.
func (d *Diagnostic) At(t int) ([]float64, bool) {
	if t < 0 {
		return d.Timesteps[len(d.Timesteps)-1].Data, true
	}
	for _, ts := range d.Timesteps {
		if ts.Timestep == t {
			return ts.Data, true
		}
	}
	return nil, false
}
