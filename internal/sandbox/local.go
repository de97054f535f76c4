package sandbox

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kartikbazzad/bunbase/collab/internal/filetree"
)

const outputBuffer = 256

// LocalConfig configures LocalProvider.
type LocalConfig struct {
	// WorkDir is the parent of the per-sandbox temp dirs; empty means
	// the OS temp dir.
	WorkDir       string
	PreviewHost   string
	ReadyTimeout  time.Duration
	ProbeInterval time.Duration
	Env           []string
}

// LocalProvider boots sandboxes as temp directories on this host.
type LocalProvider struct {
	cfg LocalConfig
	log *slog.Logger
}

// NewLocalProvider creates a LocalProvider.
func NewLocalProvider(cfg LocalConfig, log *slog.Logger) *LocalProvider {
	if cfg.PreviewHost == "" {
		cfg.PreviewHost = "localhost"
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 250 * time.Millisecond
	}
	return &LocalProvider{cfg: cfg, log: log}
}

// Boot creates a fresh directory and reserves a port for it.
func (p *LocalProvider) Boot(ctx context.Context) (Sandbox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(p.cfg.WorkDir, "collab-run-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox dir: %w", err)
	}
	port, err := freePort()
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to reserve port: %w", err)
	}

	sbCtx, cancel := context.WithCancel(context.Background())
	sb := &Local{
		dir:    dir,
		port:   port,
		cfg:    p.cfg,
		log:    p.log.With("sandbox", filepath.Base(dir), "port", port),
		ready:  make(chan Ready, 1),
		ctx:    sbCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	sb.touch()
	go sb.probe()
	return sb, nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Local is a sandbox rooted at a temp directory. Processes get the
// reserved port in $PORT; the first successful dial of that port fires
// Ready.
type Local struct {
	dir  string
	port int
	cfg  LocalConfig
	log  *slog.Logger

	ready    chan Ready
	deadline atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	procs  []*localProcess
	closed bool
}

// Dir returns the sandbox root.
func (s *Local) Dir() string { return s.dir }

// Port returns the port handed to processes.
func (s *Local) Port() int { return s.port }

func (s *Local) Ready() <-chan Ready { return s.ready }

// touch restarts the readiness deadline.
func (s *Local) touch() {
	if s.cfg.ReadyTimeout > 0 {
		s.deadline.Store(time.Now().Add(s.cfg.ReadyTimeout).UnixNano())
	}
}

func (s *Local) probe() {
	defer close(s.done)
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(s.port))
	ticker := time.NewTicker(s.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		if d := s.deadline.Load(); d != 0 && time.Now().UnixNano() > d {
			continue
		}
		conn, err := net.DialTimeout("tcp", addr, s.cfg.ProbeInterval)
		if err != nil {
			continue
		}
		conn.Close()
		s.ready <- Ready{Port: s.port, URL: fmt.Sprintf("http://%s:%d", s.cfg.PreviewHost, s.port)}
		s.log.Debug("Sandbox server is ready")
		return
	}
}

// Mount writes every tree entry below the sandbox root. Directory nodes
// become directories; parents of files are created as needed.
func (s *Local) Mount(ctx context.Context, tree filetree.Tree) error {
	for _, key := range tree.Paths() {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, err := filetree.LocalPath(s.dir, key)
		if err != nil {
			return err
		}
		node := tree[key]
		if node.IsDirectory() {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", key, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create parent of %s: %w", key, err)
		}
		if err := os.WriteFile(path, []byte(node.File.Contents), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", key, err)
		}
	}
	return nil
}

// Spawn starts name in the sandbox root with stdout and stderr merged.
func (s *Local) Spawn(ctx context.Context, name string, args ...string) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("sandbox is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(name, args...)
	cmd.Dir = s.dir
	cmd.Env = append(os.Environ(), "PORT="+strconv.Itoa(s.port))
	cmd.Env = append(cmd.Env, s.cfg.Env...)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}
	s.log.Debug("Spawned process", "cmd", name, "args", args, "pid", cmd.Process.Pid)
	s.touch()

	p := &localProcess{
		cmd:    cmd,
		output: make(chan string, outputBuffer),
		exited: make(chan struct{}),
	}
	go p.pump(s.ctx, stdout, stderr)
	s.procs = append(s.procs, p)
	return p, nil
}

// Close kills every process, waits for them and removes the directory.
func (s *Local) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	procs := s.procs
	s.procs = nil
	s.mu.Unlock()

	s.cancel()
	for _, p := range procs {
		p.Kill()
		p.Wait()
	}
	<-s.done
	return os.RemoveAll(s.dir)
}

type localProcess struct {
	cmd    *exec.Cmd
	output chan string
	exited chan struct{}

	code int
	err  error
}

func (p *localProcess) Output() <-chan string { return p.output }

// pump streams both pipes line by line, then reaps the process. Pipes
// must be drained before cmd.Wait closes them.
func (p *localProcess) pump(ctx context.Context, stdout, stderr io.Reader) {
	var g errgroup.Group
	forward := func(r io.Reader) func() error {
		return func() error {
			scanner := bufio.NewScanner(r)
			scanner.Buffer(make([]byte, 64*1024), 1024*1024)
			for scanner.Scan() {
				select {
				case p.output <- scanner.Text():
				case <-ctx.Done():
					// Nobody is reading any more; keep draining.
				}
			}
			if err := scanner.Err(); err != nil {
				// The scanner gave up (e.g. an over-long line); keep the
				// pipe empty so the child never blocks on write.
				io.Copy(io.Discard, r)
				return err
			}
			return nil
		}
	}
	g.Go(forward(stdout))
	g.Go(forward(stderr))
	readErr := g.Wait()

	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		p.code = 0
	case errors.As(err, &exitErr):
		p.code = exitErr.ExitCode()
	default:
		p.code = -1
		p.err = err
	}
	if p.err == nil && readErr != nil && !errors.Is(readErr, os.ErrClosed) {
		p.err = readErr
	}
	close(p.output)
	close(p.exited)
}

func (p *localProcess) Wait() (int, error) {
	<-p.exited
	return p.code, p.err
}

func (p *localProcess) Kill() error {
	select {
	case <-p.exited:
		return nil
	default:
	}
	return killProcessGroup(p.cmd)
}
