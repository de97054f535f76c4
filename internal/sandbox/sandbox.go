// Package sandbox defines the disposable execution environment a run is
// mounted into, and a local implementation backed by a temp directory
// and OS processes.
package sandbox

import (
	"context"

	"github.com/kartikbazzad/bunbase/collab/internal/filetree"
)

// Ready reports that a process in the sandbox is serving on Port.
type Ready struct {
	Port int
	URL  string
}

// Process is a command running inside a sandbox.
type Process interface {
	// Output yields merged stdout/stderr lines and is closed when the
	// process has exited and its output is drained.
	Output() <-chan string
	// Wait blocks until exit and returns the exit code. A process that
	// was killed reports a non-zero code.
	Wait() (int, error)
	// Kill terminates the process and its children. Killing an exited
	// process is a no-op.
	Kill() error
}

// Sandbox is one booted environment. It is used by a single run.
type Sandbox interface {
	Mount(ctx context.Context, tree filetree.Tree) error
	Spawn(ctx context.Context, name string, args ...string) (Process, error)
	// Ready yields at most one value, when a server starts listening.
	Ready() <-chan Ready
	// Close kills remaining processes and releases the environment.
	Close() error
}

// Provider boots fresh sandboxes.
type Provider interface {
	Boot(ctx context.Context) (Sandbox, error)
}
