package genlog

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Init is the generation number used for the initial population.
const Init = -1

var genFilePattern = regexp.MustCompile(`^gen(\d+)\.csv$`)

// Entry is one evaluated member: its parameters and the logged energy.
// The energy is the negated fitness, i.e. the physical quantity being maximised.
type Entry struct {
	Params []float64
	Energy float64
}

// Log writes one CSV file per generation. Each line is
// value_1,...,value_D,energy and is written with a single append so
// concurrent evaluations never interleave within a line.
type Log struct {
	mu  sync.Mutex
	dir string
}

// Open creates the log directory if needed.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create generation log directory: %w", err)
	}
	return &Log{dir: dir}, nil
}

// Dir returns the directory holding the generation files.
func (l *Log) Dir() string {
	return l.dir
}

// Name returns the file name for a generation.
func Name(gen int) string {
	if gen == Init {
		return "geninit.csv"
	}
	return fmt.Sprintf("gen%03d.csv", gen)
}

// Path returns the full path of a generation's log file.
func (l *Log) Path(gen int) string {
	return filepath.Join(l.dir, Name(gen))
}

// Exists reports whether a log file for gen is present.
func (l *Log) Exists(gen int) bool {
	_, err := os.Stat(l.Path(gen))
	return err == nil
}

// Append writes one line for an evaluated vector.
func (l *Log) Append(gen int, params []float64, energy float64) error {
	line := FormatLine(params, energy)

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.Path(gen), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open generation log: %w", err)
	}

	if _, err := f.Write([]byte(line)); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to generation log: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close generation log: %w", err)
	}
	return nil
}

// FormatLine renders a log line including the trailing newline.
func FormatLine(params []float64, energy float64) string {
	var b strings.Builder
	for _, v := range params {
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		b.WriteByte(',')
	}
	b.WriteString(strconv.FormatFloat(energy, 'g', -1, 64))
	b.WriteByte('\n')
	return b.String()
}

// ParseLine is the inverse of FormatLine (without the newline).
func ParseLine(line string) (Entry, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) < 2 {
		return Entry{}, fmt.Errorf("malformed log line %q", line)
	}

	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Entry{}, fmt.Errorf("malformed value %q: %w", f, err)
		}
		values[i] = v
	}

	return Entry{Params: values[:len(values)-1], Energy: values[len(values)-1]}, nil
}

// Read returns every entry recorded for a generation.
func (l *Log) Read(gen int) ([]Entry, error) {
	f, err := os.Open(l.Path(gen))
	if err != nil {
		return nil, fmt.Errorf("failed to open generation log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		entry, err := ParseLine(scanner.Text())
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan generation log: %w", err)
	}
	return entries, nil
}

// Generations lists the numbered generations that have a log file, ascending.
// The init log is reported as Init when present.
func (l *Log) Generations() ([]int, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read generation log directory: %w", err)
	}

	var gens []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if e.Name() == Name(Init) {
			gens = append(gens, Init)
			continue
		}
		m := genFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		gens = append(gens, n)
	}
	sort.Ints(gens)
	return gens, nil
}

// Archive renames a generation's log to name.partial-<suffix> so a fresh file
// can be started. It returns the new path.
func (l *Log) Archive(gen int, suffix string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	dst := l.Path(gen) + ".partial-" + suffix
	if err := os.Rename(l.Path(gen), dst); err != nil {
		return "", fmt.Errorf("failed to archive generation log: %w", err)
	}
	return dst, nil
}
