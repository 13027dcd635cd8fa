// Package build runs the dependency fetch and web build of a workspace and
// republishes their combined output, line by line, to a single consumer.
package build

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/fslongjin/flutterbox/internal/config"
	"github.com/fslongjin/flutterbox/internal/metrics"
	"github.com/fslongjin/flutterbox/internal/workspace"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const (
	// exitNotStarted is reported when a step's command could not be spawned.
	exitNotStarted = 127
	// exitTimedOut is reported when the build exceeded its configured timeout.
	exitTimedOut = 124
)

var (
	// ErrBusy is returned by Prepare when another build holds the workspace.
	ErrBusy = errors.New("build already running")
	// ErrConsumerGone is returned by Stream when the sink stopped accepting events.
	ErrConsumerGone = errors.New("build log consumer gone")
)

// Workspaces is what the orchestrator needs from the workspace store.
type Workspaces interface {
	Resolve(id string) (string, error)
	Env(root string) []string
}

type Orchestrator struct {
	workspaces Workspaces
	fetch      []string
	build      []string
	timeout    time.Duration
	exclusive  bool
	recorder   metrics.Recorder
	logger     *slog.Logger
}

func NewOrchestrator(ws Workspaces, cfg config.BuildConfig, recorder metrics.Recorder) *Orchestrator {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Orchestrator{
		workspaces: ws,
		fetch:      cfg.Fetch,
		build:      cfg.Build,
		timeout:    cfg.Timeout,
		exclusive:  cfg.IsExclusive(),
		recorder:   recorder,
		logger:     slog.Default().With("component", "build_orchestrator"),
	}
}

// Run is one build of one workspace. It is created by Prepare, driven once by
// Stream and must be released with Close.
type Run struct {
	o       *Orchestrator
	id      string
	root    string
	buildID string
	lock    *flock.Flock
}

// Prepare resolves the workspace and, when builds are exclusive, takes the
// workspace build lock. No process is spawned here, so lookup failures reach
// the caller before any output is produced.
func (o *Orchestrator) Prepare(id string) (*Run, error) {
	root, err := o.workspaces.Resolve(id)
	if err != nil {
		return nil, err
	}

	run := &Run{o: o, id: id, root: root, buildID: uuid.NewString()}
	if o.exclusive {
		lock := flock.New(filepath.Join(root, workspace.LockFileName))
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("lock workspace %s: %w", id, err)
		}
		if !locked {
			return nil, fmt.Errorf("%w: workspace %s", ErrBusy, id)
		}
		run.lock = lock
	}
	return run, nil
}

func (r *Run) ID() string { return r.buildID }

func (r *Run) WorkspaceID() string { return r.id }

// Close releases the workspace build lock.
func (r *Run) Close() error {
	if r.lock == nil {
		return nil
	}
	err := r.lock.Unlock()
	r.lock = nil
	return err
}

// Stream runs the fetch step and then the build step, sending every output line
// to sink, and finishes with the exit marker of the build step. A failing fetch
// is reported in the stream but does not stop the build.
//
// Cancelling ctx, or sink failing, kills the running process; Stream then
// returns an error and sends nothing further. A non-zero build exit is not an
// error: it is carried by the terminal event and the returned code.
func (r *Run) Stream(ctx context.Context, sink Sink) (int, error) {
	o := r.o
	started := time.Now()
	logger := o.logger.With("workspace_id", r.id, "build_id", r.buildID)

	o.recorder.IncBuildsStarted()
	o.recorder.AddActiveBuilds(1)
	defer o.recorder.AddActiveBuilds(-1)

	var runCtx context.Context
	var cancel context.CancelFunc
	if o.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, o.timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	send := func(ev Event) error {
		if err := sink.Send(ev); err != nil {
			cancel()
			return fmt.Errorf("%w: %v", ErrConsumerGone, err)
		}
		return nil
	}
	// fail classifies an interrupted run. A timeout still ends the stream with an
	// exit marker; a lost consumer or cancelled request does not.
	fail := func(err error) (int, error) {
		if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrConsumerGone) {
			logger.Warn("build timed out", "timeout", o.timeout.String())
			o.recorder.IncBuildOutcome(metrics.OutcomeTimeout)
			o.recorder.ObserveBuildDuration(time.Since(started))
			if err := send(Event{Phase: PhaseDone, Line: fmt.Sprintf("Build timed out after %s.", o.timeout)}); err != nil {
				return 0, err
			}
			if err := send(Event{Phase: PhaseDone, Exit: true, ExitCode: exitTimedOut}); err != nil {
				return 0, err
			}
			return exitTimedOut, nil
		}
		logger.Info("build cancelled", "error", err)
		o.recorder.IncBuildOutcome(metrics.OutcomeCanceled)
		return 0, err
	}

	env := o.workspaces.Env(r.root)
	logger.Info("build started")

	if err := send(Event{Phase: PhaseFetch, Line: "Running " + strings.Join(o.fetch, " ") + "..."}); err != nil {
		return fail(err)
	}
	fetchCode, err := r.step(runCtx, PhaseFetch, o.fetch, env, send)
	if err != nil {
		return fail(err)
	}
	if fetchCode != 0 {
		logger.Warn("dependency fetch failed, continuing with build", "exit_code", fetchCode)
		if err := send(Event{Phase: PhaseFetch, Line: fmt.Sprintf("%s exited with code %d", o.fetch[0], fetchCode)}); err != nil {
			return fail(err)
		}
	}

	if err := send(Event{Phase: PhaseBuild, Line: "Building web..."}); err != nil {
		return fail(err)
	}
	code, err := r.step(runCtx, PhaseBuild, o.build, env, send)
	if err != nil {
		return fail(err)
	}

	if err := send(Event{Phase: PhaseDone, Exit: true, ExitCode: code}); err != nil {
		return fail(err)
	}

	o.recorder.IncBuildOutcome(metrics.OutcomeForExit(code))
	o.recorder.ObserveBuildDuration(time.Since(started))
	logger.Info("build finished", "exit_code", code, "duration_ms", time.Since(started).Milliseconds())
	return code, nil
}

// step runs one command with stdout and stderr sharing a single pipe, so the
// lines arrive in the order the process wrote them.
func (r *Run) step(ctx context.Context, phase Phase, argv []string, env []string, send func(Event) error) (int, error) {
	start := time.Now()
	defer func() { r.o.recorder.ObserveStepDuration(string(phase), time.Since(start)) }()

	pr, pw, err := os.Pipe()
	if err != nil {
		return 0, fmt.Errorf("create output pipe: %w", err)
	}
	defer pr.Close()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.root
	cmd.Env = env
	cmd.Stdout = pw
	cmd.Stderr = pw
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		pw.Close()
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if err := send(Event{Phase: phase, Line: fmt.Sprintf("failed to start %s: %v", argv[0], err)}); err != nil {
			return 0, err
		}
		return exitNotStarted, nil
	}
	// The child holds its own copy of the write end.
	pw.Close()

	// Unblock the reader if the run is cancelled while descendants keep the
	// pipe open.
	stop := context.AfterFunc(ctx, func() { pr.Close() })
	defer stop()

	var sendErr error
	reader := bufio.NewReaderSize(pr, 64*1024)
	for {
		line, readErr := reader.ReadString('\n')
		if line != "" && sendErr == nil {
			sendErr = send(Event{Phase: phase, Line: cleanLine(line)})
		}
		if readErr != nil {
			break
		}
	}

	waitErr := cmd.Wait()
	if sendErr != nil {
		return 0, sendErr
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if cmd.ProcessState == nil {
		return 0, fmt.Errorf("wait %s: %w", argv[0], waitErr)
	}
	code, signal := exitStatus(cmd.ProcessState)
	if signal != "" {
		r.o.logger.Warn("build step killed by signal",
			"workspace_id", r.id,
			"build_id", r.buildID,
			"phase", string(phase),
			"signal", signal,
			"exit_code", code,
		)
	}
	return code, nil
}

func cleanLine(line string) string {
	return strings.TrimRightFunc(strings.ToValidUTF8(line, ""), unicode.IsSpace)
}
