package sim

import (
	"runtime"
	"strconv"
)

// Environment variables that carry the MPI rank and universe size, in the
// order they are consulted.
var (
	rankVars     = []string{"OMPI_COMM_WORLD_RANK", "PMI_RANK", "PMIX_RANK", "SLURM_PROCID"}
	universeVars = []string{"OMPI_UNIVERSE_SIZE", "MPI_UNIVERSE_SIZE", "SLURM_NTASKS"}
)

// Topology is what the launcher environment says about this process.
type Topology struct {
	Rank        int
	Universe    int
	RankVar     string
	UniverseVar string
}

// DetectTopology reads rank and universe size from the environment. Missing
// or unparsable values leave Rank at 0 and Universe at 0 (unknown).
func DetectTopology(getenv func(string) string) Topology {
	var t Topology
	for _, name := range rankVars {
		if v, err := strconv.Atoi(getenv(name)); err == nil {
			t.Rank, t.RankVar = v, name
			break
		}
	}
	for _, name := range universeVars {
		if v, err := strconv.Atoi(getenv(name)); err == nil && v > 0 {
			t.Universe, t.UniverseVar = v, name
			break
		}
	}
	return t
}

// IsRoot reports whether this process should run the optimiser.
func (t Topology) IsRoot() bool {
	return t.Rank == 0
}

// Worker sources returned by Workers.
const (
	WorkersFromUniverse = "universe"
	WorkersFromUsize    = "usize"
	WorkersFromCPU      = "cpu"
)

// Workers derives the worker count: one less than the universe size (the
// supervisor occupies one slot), else usize, else the number of CPUs.
func (t Topology) Workers(usize int) (int, string) {
	if t.Universe > 1 {
		return t.Universe - 1, WorkersFromUniverse
	}
	if usize > 1 {
		return usize - 1, WorkersFromUsize
	}
	return max(1, runtime.NumCPU()), WorkersFromCPU
}
