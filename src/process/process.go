// Package process supervises a launched Minecraft child process: tails
// its stdio, classifies and persists every line, detects the
// initialization sentinels, and drives the Idle→Spawning→Running→
// (Exited|Killed|Crashed) state machine of §4.5.
package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/embercore/launcher-core/src/config"
	"github.com/embercore/launcher-core/src/events"
	"github.com/embercore/launcher-core/src/launchererr"
)

// State is the supervisor's own lifecycle state for a running instance.
type State string

const (
	Idle     State = "idle"
	Spawning State = "spawning"
	Running  State = "running"
	Exited   State = "exited"
	Killed   State = "killed"
	Crashed  State = "crashed"
)

// InstanceState is the UI-visible readiness state, distinct from the
// supervisor's own State: it only ever moves Initializing->Initialized.
type InstanceState string

const (
	Initializing InstanceState = "initializing"
	Initialized  InstanceState = "initialized"
)

// LineKind classifies a tailed stdio line.
type LineKind string

const (
	LineInfo  LineKind = "info"
	LineWarn  LineKind = "warn"
	LineError LineKind = "error"
)

// TaggedLine is one classified, timestamped stdio line.
type TaggedLine struct {
	Timestamp time.Time
	Kind      LineKind
	Text      string
}

// ClassifyLine applies the §4.5 classification rule: "/ERROR]:" marks
// an error line, "/WARN]:" a warning, everything else info.
func ClassifyLine(text string) LineKind {
	switch {
	case strings.Contains(text, "/ERROR]:"):
		return LineError
	case strings.Contains(text, "/WARN]:"):
		return LineWarn
	default:
		return LineInfo
	}
}

// isSentinel reports whether a line flips the reported instance state
// to Initialized.
func isSentinel(text string) bool {
	return strings.Contains(text, "Setting user:") || strings.Contains(text, "Initializing LWJGL OpenAL")
}

// LoggingEvent is the payload of events.InstanceLogging: one or more
// lines batched together to respect the ≤50Hz emission cap.
type LoggingEvent struct {
	InstanceName string
	Lines        []TaggedLine
}

// StateEvent is the payload of events.InstanceState.
type StateEvent struct {
	InstanceName string
	State        InstanceState
}

// ExitEvent is the payload of events.InstanceExited.
type ExitEvent struct {
	InstanceName string
	Code         int
	Kind         State
}

const emitInterval = time.Second / time.Duration(config.LogEventHz)

// instance tracks one supervised child process.
type instance struct {
	mu            sync.Mutex
	state         State
	instanceState InstanceState
	cmd           *exec.Cmd
	buffer        []TaggedLine
	killRequested bool
	done          chan struct{}
}

// Supervisor runs and tails child processes for instances, one at a
// time per instance name.
type Supervisor struct {
	emitter *events.EventEmitter
	log     *zap.SugaredLogger

	mu        sync.Mutex
	instances map[string]*instance
}

// New builds a Supervisor.
func New(emitter *events.EventEmitter, log *zap.SugaredLogger) *Supervisor {
	return &Supervisor{emitter: emitter, log: log, instances: make(map[string]*instance)}
}

// Launch spawns javaPath with args in workDir, returning once the
// process has been started (not once it exits). Tailing, persistence,
// and exit handling continue in background goroutines. Returns
// AlreadyRunning if the named instance already has a live supervisor.
func (s *Supervisor) Launch(instanceName, javaPath string, args []string, workDir, logsDir string) error {
	s.mu.Lock()
	if existing, ok := s.instances[instanceName]; ok {
		existing.mu.Lock()
		live := existing.state == Spawning || existing.state == Running
		existing.mu.Unlock()
		if live {
			s.mu.Unlock()
			return launchererr.New(launchererr.AlreadyRunning, fmt.Sprintf("instance %q is already running", instanceName))
		}
	}
	inst := &instance{state: Spawning, instanceState: Initializing, done: make(chan struct{})}
	s.instances[instanceName] = inst
	s.mu.Unlock()

	s.emitState(instanceName, inst)

	if err := config.EnsureDir(logsDir); err != nil {
		return launchererr.Wrap(launchererr.Filesystem, "create logs directory", err)
	}

	cmd := exec.Command(javaPath, args...)
	cmd.Dir = workDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return launchererr.Wrap(launchererr.Child, "attach stdout", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return launchererr.Wrap(launchererr.Child, "attach stderr", err)
	}

	if err := cmd.Start(); err != nil {
		inst.mu.Lock()
		inst.state = Crashed
		inst.mu.Unlock()
		return launchererr.Wrap(launchererr.Child, "start child process", err)
	}

	inst.mu.Lock()
	inst.cmd = cmd
	inst.state = Running
	inst.mu.Unlock()
	s.emitState(instanceName, inst)

	logWriter := &lumberjack.Logger{
		Filename: filepath.Join(logsDir, config.LatestLogFile),
		MaxSize:  64, // MB; lumberjack rolls the file over past this size, while the timestamped rotation happens on process exit
	}

	lines := make(chan TaggedLine, 256)
	var tailWG sync.WaitGroup
	tailWG.Add(2)
	go s.tail(stdout, lines, &tailWG)
	go s.tail(stderr, lines, &tailWG)

	batchDone := make(chan struct{})
	go s.batchEmit(instanceName, inst, lines, logWriter, batchDone)

	go func() {
		tailWG.Wait()
		close(lines)
		<-batchDone
		logWriter.Close()

		waitErr := cmd.Wait()
		code := 0
		kind := Exited
		inst.mu.Lock()
		killed := inst.killRequested
		inst.mu.Unlock()
		if waitErr != nil {
			if exitErr, ok := waitErr.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			} else {
				code = -1
			}
		}
		switch {
		case killed:
			kind = Killed
		case code != 0:
			kind = Crashed
		default:
			kind = Exited
		}

		inst.mu.Lock()
		inst.state = kind
		inst.mu.Unlock()

		s.rotateLog(logsDir)
		s.emitter.Emit(events.InstanceExited, ExitEvent{InstanceName: instanceName, Code: code, Kind: kind})
		close(inst.done)
	}()

	return nil
}

// tail reads newline-framed lines from r (carriage returns stripped by
// bufio.ScanLines) and forwards them for classification/emission.
func (s *Supervisor) tail(r io.Reader, out chan<- TaggedLine, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		text := scanner.Text()
		out <- TaggedLine{Timestamp: time.Now(), Kind: ClassifyLine(text), Text: text}
	}
}

// batchEmit drains lines, appends each to the instance buffer and log
// file, flips instance state on a sentinel match, and emits batched
// instance-logging events at no more than config.LogEventHz per second.
func (s *Supervisor) batchEmit(instanceName string, inst *instance, lines <-chan TaggedLine, logWriter io.Writer, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(emitInterval)
	defer ticker.Stop()

	var pending []TaggedLine
	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending = nil
		s.emitter.Emit(events.InstanceLogging, LoggingEvent{InstanceName: instanceName, Lines: batch})
	}

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				flush()
				return
			}
			inst.mu.Lock()
			inst.buffer = append(inst.buffer, line)
			becameInitialized := inst.instanceState == Initializing && isSentinel(line.Text)
			if becameInitialized {
				inst.instanceState = Initialized
			}
			inst.mu.Unlock()
			fmt.Fprintln(logWriter, line.Text)
			pending = append(pending, line)
			if becameInitialized {
				s.emitter.Emit(events.InstanceState, StateEvent{InstanceName: instanceName, State: Initialized})
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *Supervisor) emitState(instanceName string, inst *instance) {
	inst.mu.Lock()
	st := inst.instanceState
	inst.mu.Unlock()
	s.emitter.Emit(events.InstanceState, StateEvent{InstanceName: instanceName, State: st})
}

// rotateLog renames latest.log to logs/<rfc3339-ish>.log. Colons in
// RFC3339 are replaced with dashes so the name is valid on Windows.
func (s *Supervisor) rotateLog(logsDir string) {
	latest := filepath.Join(logsDir, config.LatestLogFile)
	if _, err := os.Stat(latest); err != nil {
		return
	}
	stamp := strings.ReplaceAll(time.Now().UTC().Format(time.RFC3339), ":", "-")
	rotated := filepath.Join(logsDir, stamp+".log")
	if err := os.Rename(latest, rotated); err != nil {
		s.log.Warnw("failed to rotate instance log", "err", err)
	}
}

// Shutdown sends SIGTERM to the named instance's process, waits up to
// config.ChildTermGrace seconds, then SIGKILLs it. No-op if the
// instance isn't running.
func (s *Supervisor) Shutdown(instanceName string) error {
	s.mu.Lock()
	inst, ok := s.instances[instanceName]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	inst.mu.Lock()
	if inst.state != Running && inst.state != Spawning {
		inst.mu.Unlock()
		return nil
	}
	inst.killRequested = true
	cmd := inst.cmd
	inst.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return cmd.Process.Kill()
	}

	select {
	case <-inst.done:
		return nil
	case <-time.After(config.ChildTermGrace * time.Second):
		return cmd.Process.Kill()
	}
}

// ShutdownAll terminates every live instance, used on launcher exit.
func (s *Supervisor) ShutdownAll(ctx context.Context) {
	s.mu.Lock()
	names := make([]string, 0, len(s.instances))
	for name := range s.instances {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		if err := s.Shutdown(name); err != nil {
			s.log.Warnw("error shutting down instance", "instance", name, "err", err)
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// RunningBuffer returns a copy of the live in-memory line buffer for an
// instance, for the "running" log_id view.
func (s *Supervisor) RunningBuffer(instanceName string) ([]TaggedLine, bool) {
	s.mu.Lock()
	inst, ok := s.instances[instanceName]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	out := make([]TaggedLine, len(inst.buffer))
	copy(out, inst.buffer)
	return out, true
}

// State returns the current supervisor state for an instance.
func (s *Supervisor) State(instanceName string) (State, bool) {
	s.mu.Lock()
	inst, ok := s.instances[instanceName]
	s.mu.Unlock()
	if !ok {
		return Idle, false
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.state, true
}

// ReadSealedLog reads a rotated log file from disk and reclassifies
// every line with the same rules the live supervisor applies.
func ReadSealedLog(path string) ([]TaggedLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, launchererr.Wrap(launchererr.Filesystem, "open sealed log", err)
	}
	defer f.Close()

	var out []TaggedLine
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		text := scanner.Text()
		out = append(out, TaggedLine{Kind: ClassifyLine(text), Text: text})
	}
	if err := scanner.Err(); err != nil {
		return nil, launchererr.Wrap(launchererr.Filesystem, "scan sealed log", err)
	}
	return out, nil
}
