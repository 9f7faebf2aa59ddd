package store

import (
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cwbudde/picevolve/internal/logging"
)

const (
	initName   = "solverinit.ckpt"
	namePrefix = "solver"
	nameSuffix = ".ckpt"
)

// Name returns the checkpoint file name for a generation:
// solverinit.ckpt for the initial population, solverNNN.ckpt otherwise.
func Name(gen int) string {
	if gen == InitGeneration {
		return initName
	}
	return fmt.Sprintf("%s%03d%s", namePrefix, gen, nameSuffix)
}

// ParseName is the inverse of Name.
func ParseName(name string) (int, bool) {
	if name == initName {
		return InitGeneration, true
	}
	if !strings.HasPrefix(name, namePrefix) || !strings.HasSuffix(name, nameSuffix) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, namePrefix), nameSuffix)
	gen, err := strconv.Atoi(digits)
	if err != nil || gen < 0 || len(digits) < 3 {
		return 0, false
	}
	return gen, true
}

// FSStore implements Store with one gob file per generation in a single
// run directory. Writes go to a temp file that is renamed into place, so a
// checkpoint is either complete or absent.
type FSStore struct {
	dir    string
	logger *slog.Logger
}

// NewFSStore creates a store in dir, creating the directory if needed.
func NewFSStore(dir string, logger *slog.Logger) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &FSStore{dir: dir, logger: logger}, nil
}

// Dir returns the directory holding the checkpoints.
func (fs *FSStore) Dir() string { return fs.dir }

// Path returns the checkpoint path of a generation.
func (fs *FSStore) Path(gen int) string {
	return filepath.Join(fs.dir, Name(gen))
}

// Save atomically writes the checkpoint of cp's generation.
func (fs *FSStore) Save(cp *Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}

	finalPath := fs.Path(cp.Generation())
	tmp, err := os.CreateTemp(fs.dir, Name(cp.Generation())+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint file: %w", err)
	}
	tempPath := tmp.Name()

	if err := gob.NewEncoder(tmp).Encode(cp); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}

	fs.logger.Debug("Checkpoint saved", "generation", cp.Generation(), "path", finalPath)
	return nil
}

// Load reads and validates the checkpoint at path.
func (fs *FSStore) Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &NotFoundError{Path: path}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer f.Close()

	var cp Checkpoint
	if err := gob.NewDecoder(f).Decode(&cp); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint %s: %w", path, err)
	}
	if err := cp.Validate(); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}

	fs.logger.Debug("Checkpoint loaded", "generation", cp.Generation(), "path", path)
	return &cp, nil
}

// LoadGeneration reads the checkpoint of a generation.
func (fs *FSStore) LoadGeneration(gen int) (*Checkpoint, error) {
	return fs.Load(fs.Path(gen))
}

// generations returns the generations that have a checkpoint, ascending,
// with InitGeneration first when present.
func (fs *FSStore) generations() ([]int, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}
	var gens []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if gen, ok := ParseName(e.Name()); ok {
			gens = append(gens, gen)
		}
	}
	sort.Ints(gens)
	return gens, nil
}

// Latest returns the path of the highest generation checkpoint, or the
// initial checkpoint if no generation has completed.
func (fs *FSStore) Latest() (string, error) {
	gens, err := fs.generations()
	if err != nil {
		return "", err
	}
	if len(gens) == 0 {
		return "", &NotFoundError{Path: fs.dir}
	}
	return fs.Path(gens[len(gens)-1]), nil
}

// List returns metadata for all checkpoints, skipping unreadable ones.
func (fs *FSStore) List() ([]CheckpointInfo, error) {
	gens, err := fs.generations()
	if err != nil {
		return nil, err
	}

	infos := []CheckpointInfo{}
	for _, gen := range gens {
		path := fs.Path(gen)
		cp, err := fs.Load(path)
		if err != nil {
			fs.logger.Warn("Failed to load checkpoint for listing", "path", path, "error", err)
			continue
		}
		var size int64
		if st, err := os.Stat(path); err == nil {
			size = st.Size()
		}
		infos = append(infos, cp.ToInfo(path, size))
	}

	fs.logger.Debug("Listed checkpoints", "count", len(infos))
	return infos, nil
}

// Delete removes the checkpoint of a generation.
func (fs *FSStore) Delete(gen int) error {
	path := fs.Path(gen)
	if err := os.Remove(path); errors.Is(err, os.ErrNotExist) {
		return &NotFoundError{Path: path}
	} else if err != nil {
		return fmt.Errorf("failed to remove checkpoint: %w", err)
	}
	fs.logger.Debug("Checkpoint deleted", "generation", gen, "path", path)
	return nil
}

var _ Store = (*FSStore)(nil)
