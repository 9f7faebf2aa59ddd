package goal

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// loadFile reads a fitness the simulation computed itself. The value in the
// file is already negated.
type loadFile struct {
	opts   Options
	logger *slog.Logger
}

func (g *loadFile) Name() string { return LoadFromFile }

func (g *loadFile) Reduce(dir string) (float64, error) {
	// output files can lag behind process exit on shared filesystems
	if g.opts.SettleDelay > 0 {
		g.opts.sleep(g.opts.SettleDelay)
	}

	path := filepath.Join(dir, g.opts.ResultFile)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, &MissingDataError{Dir: dir, Reason: g.opts.ResultFile + " not found"}
	}
	if err != nil {
		return 0, fmt.Errorf("read result: %w", err)
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		return 0, &MissingDataError{Dir: dir, Reason: g.opts.ResultFile + " is empty"}
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, &MissingDataError{Dir: dir, Reason: fmt.Sprintf("%s does not hold a number: %q", g.opts.ResultFile, text)}
	}
	if math.IsNaN(v) {
		return 0, &MissingDataError{Dir: dir, Reason: g.opts.ResultFile + " holds NaN"}
	}
	g.logger.Debug("Result loaded", "path", path, "fitness", v)
	return v, nil
}
