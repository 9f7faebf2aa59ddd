package sim

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// Output files written into the scratch directory of every simulation.
const (
	StdoutFile = "stdout.log"
	StderrFile = "stderr.log"
)

// LaunchSpec describes one simulation process.
type LaunchSpec struct {
	Command string
	Args    []string
	Dir     string
}

// Launcher starts simulation processes. Launch must return as soon as the
// process exists; it is called with the launch lock held.
type Launcher interface {
	Launch(spec LaunchSpec) (Process, error)
}

// Process is a running simulation.
type Process interface {
	// Exited reports without blocking whether the process has finished and,
	// once it has, the error from waiting on it (nil for a zero exit status).
	Exited() (bool, error)
}

// ExecLauncher runs simulations as local child processes.
type ExecLauncher struct {
	// Env is appended to the environment of every child.
	Env []string
}

// Launch starts spec.Command in spec.Dir with stdout and stderr captured to
// files in the same directory.
func (l *ExecLauncher) Launch(spec LaunchSpec) (Process, error) {
	stdout, err := os.Create(filepath.Join(spec.Dir, StdoutFile))
	if err != nil {
		return nil, fmt.Errorf("create stdout log: %w", err)
	}
	stderr, err := os.Create(filepath.Join(spec.Dir, StderrFile))
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("create stderr log: %w", err)
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if len(l.Env) > 0 {
		cmd.Env = append(os.Environ(), l.Env...)
	}

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("start %s: %w", spec.Command, err)
	}

	p := &execProcess{done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		stdout.Close()
		stderr.Close()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func (p *execProcess) Exited() (bool, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return true, p.err
	default:
		return false, nil
	}
}
