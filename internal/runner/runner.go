// Package runner drives one session's sandbox runs: install, start,
// stream output, report the preview URL, stop.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kartikbazzad/bunbase/collab/internal/bus"
	"github.com/kartikbazzad/bunbase/collab/internal/filetree"
	"github.com/kartikbazzad/bunbase/collab/internal/metrics"
	"github.com/kartikbazzad/bunbase/collab/internal/sandbox"
	apperrors "github.com/kartikbazzad/bunbase/collab/pkg/errors"
)

// Phase is the run lifecycle state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseInstalling Phase = "installing"
	PhaseRunning    Phase = "running"
	PhaseError      Phase = "error"
)

// Log line kinds; each is rendered as a bracketed tag.
const (
	KindInfo    = "info"
	KindInstall = "install"
	KindRun     = "run"
	KindError   = "error"
	KindSuccess = "success"
	KindStop    = "stop"
)

var tags = map[string]string{
	KindInfo:    "[Info]",
	KindInstall: "[Install]",
	KindRun:     "[Run]",
	KindError:   "[Error]",
	KindSuccess: "[Success]",
	KindStop:    "[Stop]",
}

// LogLine is one line of run output.
type LogLine struct {
	Kind string    `json:"kind"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// StatusPayload is the data of a run-status event.
type StatusPayload struct {
	Phase Phase `json:"phase"`
}

// PreviewPayload is the data of a run-preview event. An empty URL clears
// the preview.
type PreviewPayload struct {
	URL string `json:"url"`
}

// Config holds the commands a run executes.
type Config struct {
	Install []string
	Start   []string
}

// State is a snapshot of the orchestrator.
type State struct {
	Phase   Phase
	Preview string
	Logs    []LogLine
}

type run struct {
	id     int
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// guarded by Orchestrator.mu
	halted bool
	proc   sandbox.Process
}

// Orchestrator runs at most one start process at a time. Events are
// passed to emit while the orchestrator lock is held, so emit must not
// block or call back into the orchestrator.
type Orchestrator struct {
	provider sandbox.Provider
	cfg      Config
	emit     func(bus.Event)
	log      *slog.Logger

	runMu sync.Mutex

	mu      sync.Mutex
	seq     int
	current *run
	phase   Phase
	preview string
	logs    []LogLine
}

// New creates an idle orchestrator.
func New(provider sandbox.Provider, cfg Config, emit func(bus.Event), log *slog.Logger) *Orchestrator {
	if len(cfg.Install) == 0 {
		cfg.Install = []string{"npm", "install"}
	}
	if len(cfg.Start) == 0 {
		cfg.Start = []string{"npm", "start"}
	}
	if emit == nil {
		emit = func(bus.Event) {}
	}
	return &Orchestrator{
		provider: provider,
		cfg:      cfg,
		emit:     emit,
		log:      log,
		phase:    PhaseIdle,
	}
}

// State returns a snapshot of the phase, preview URL and the current
// run's log.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return State{
		Phase:   o.phase,
		Preview: o.preview,
		Logs:    append([]LogLine(nil), o.logs...),
	}
}

// Run starts a fresh run of tree. Any previous run is killed and its
// process reaped before the new one boots. Run returns once the new run
// has been started; progress is reported through emit.
func (o *Orchestrator) Run(ctx context.Context, tree filetree.Tree) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	o.mu.Lock()
	prev := o.current
	o.current = nil
	o.mu.Unlock()
	if prev != nil {
		o.halt(prev)
		<-prev.done
	}

	o.mu.Lock()
	o.seq++
	runCtx, cancel := context.WithCancel(ctx)
	r := &run{id: o.seq, ctx: runCtx, cancel: cancel, done: make(chan struct{})}
	o.current = r
	o.logs = nil
	o.mu.Unlock()

	go o.execute(r, tree.Clone())
}

// Stop kills the live run. Without one it does nothing and logs nothing.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	r := o.current
	if r == nil {
		o.mu.Unlock()
		return
	}
	o.current = nil
	o.setPreviewLocked("")
	o.appendLocked(KindStop, "Application stopped")
	o.setPhaseLocked(PhaseIdle)
	o.mu.Unlock()

	metrics.IncRun("stopped")
	o.halt(r)
	<-r.done
}

// Close stops the live run without reporting it. Used when the session ends.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	r := o.current
	o.current = nil
	o.mu.Unlock()
	if r != nil {
		o.halt(r)
		<-r.done
	}
}

func (o *Orchestrator) halt(r *run) {
	o.mu.Lock()
	r.halted = true
	proc := r.proc
	o.mu.Unlock()

	r.cancel()
	if proc != nil {
		if err := proc.Kill(); err != nil {
			o.log.Warn("Failed to kill process", "run", r.id, "error", err)
		}
	}
}

func (o *Orchestrator) execute(r *run, tree filetree.Tree) {
	var wg sync.WaitGroup
	defer close(r.done)
	defer wg.Wait()
	defer r.cancel()

	o.transition(r, PhaseInstalling)
	o.append(r, KindInfo, "Mounting fresh file tree...")

	sb, err := o.provider.Boot(r.ctx)
	if err != nil {
		o.fail(r, apperrors.Sandbox("failed to boot sandbox", err))
		return
	}
	defer func() {
		if err := sb.Close(); err != nil {
			o.log.Warn("Failed to close sandbox", "run", r.id, "error", err)
		}
	}()

	if err := sb.Mount(r.ctx, tree); err != nil {
		o.fail(r, apperrors.Sandbox("failed to mount file tree", err))
		return
	}

	o.append(r, KindInfo, "Installing dependencies...")
	install, ok := o.spawn(r, sb, o.cfg.Install)
	if !ok {
		return
	}
	o.stream(r, install, KindInstall)
	code, err := install.Wait()
	o.detach(r)
	if err != nil || code != 0 {
		if o.active(r) {
			o.log.Info("Install failed", "run", r.id, "code", code, "error", err)
		}
		o.finish(r, KindError, "Installation failed", PhaseError, "install_failed")
		return
	}

	if !o.transition(r, PhaseRunning) {
		return
	}
	o.append(r, KindInfo, "Starting application...")
	start, ok := o.spawn(r, sb, o.cfg.Start)
	if !ok {
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case ready := <-sb.Ready():
			o.mu.Lock()
			if o.current == r {
				o.appendLocked(KindSuccess, "Server running on "+ready.URL)
				o.setPreviewLocked(ready.URL)
			}
			o.mu.Unlock()
		case <-r.ctx.Done():
		}
	}()

	o.stream(r, start, KindRun)
	code, err = start.Wait()
	o.detach(r)
	if err != nil {
		o.log.Warn("Start process wait failed", "run", r.id, "error", err)
	}

	phase, outcome := PhaseIdle, "exited"
	if code != 0 {
		phase, outcome = PhaseError, "crashed"
	}
	o.finish(r, KindInfo, fmt.Sprintf("Process exited with code %d", code), phase, outcome)
}

func (o *Orchestrator) spawn(r *run, sb sandbox.Sandbox, command []string) (sandbox.Process, bool) {
	proc, err := sb.Spawn(r.ctx, command[0], command[1:]...)
	if err != nil {
		o.fail(r, apperrors.Sandbox("failed to start "+command[0], err))
		return nil, false
	}

	o.mu.Lock()
	if r.halted {
		o.mu.Unlock()
		proc.Kill()
		return nil, false
	}
	r.proc = proc
	o.mu.Unlock()
	return proc, true
}

func (o *Orchestrator) detach(r *run) {
	o.mu.Lock()
	r.proc = nil
	o.mu.Unlock()
}

func (o *Orchestrator) stream(r *run, proc sandbox.Process, kind string) {
	for line := range proc.Output() {
		o.append(r, kind, line)
	}
}

func (o *Orchestrator) active(r *run) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current == r
}

// fail reports err and ends the run in the error phase.
func (o *Orchestrator) fail(r *run, err error) {
	if !o.active(r) {
		return
	}
	o.log.Error("Run failed", "run", r.id, "error", err)
	o.finish(r, KindError, err.Error(), PhaseError, "error")
}

// finish writes the final line and phase if r is still current, then
// releases it.
func (o *Orchestrator) finish(r *run, kind, text string, phase Phase, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != r {
		return
	}
	o.current = nil
	o.appendLocked(kind, text)
	o.setPreviewLocked("")
	o.setPhaseLocked(phase)
	metrics.IncRun(outcome)
}

func (o *Orchestrator) transition(r *run, phase Phase) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != r {
		return false
	}
	o.setPhaseLocked(phase)
	return true
}

func (o *Orchestrator) append(r *run, kind, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != r {
		return
	}
	o.appendLocked(kind, text)
}

func (o *Orchestrator) appendLocked(kind, text string) {
	line := LogLine{Kind: kind, Text: tags[kind] + " " + text, At: time.Now().UTC()}
	o.logs = append(o.logs, line)
	o.emit(bus.Event{Type: bus.TypeRunLog, Data: line})
}

func (o *Orchestrator) setPhaseLocked(phase Phase) {
	if o.phase == phase {
		return
	}
	o.phase = phase
	o.emit(bus.Event{Type: bus.TypeRunStatus, Data: StatusPayload{Phase: phase}})
}

func (o *Orchestrator) setPreviewLocked(url string) {
	if o.preview == url {
		return
	}
	o.preview = url
	o.emit(bus.Event{Type: bus.TypeRunPreview, Data: PreviewPayload{URL: url}})
}
