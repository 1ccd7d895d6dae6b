package supervisor

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/drewfead/parley/internal/logging"
	"github.com/drewfead/parley/internal/protocol"
)

// Mode selects how a session's process is wired up.
type Mode string

const (
	// ModePTY runs the agent on a pseudo-terminal (interactive CLIs).
	ModePTY Mode = "pty"
	// ModePipe runs the agent with plain stdin/stdout/stderr pipes
	// (one-shot and stream-json invocations).
	ModePipe Mode = "pipe"
)

// State is a session's lifecycle phase.
type State string

const (
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateRecovering State = "recovering"
	StateExited     State = "exited"
)

// session owns one live agent process. Process handles never leave this
// struct; collaborators go through the Supervisor's control surface.
type session struct {
	id      string
	agent   string
	mode    Mode
	dir     string
	parser  protocol.Parser
	started time.Time

	cmd   *exec.Cmd
	ptmx  *os.File       // pty mode only
	stdin io.WriteCloser // pipe mode only

	notify  *notifier
	onExit  func(id string)
	readers sync.WaitGroup

	done     chan struct{}
	killed   chan struct{}
	killOnce sync.Once

	wmu sync.Mutex // serializes input writes, separate from the state lock

	mu       sync.Mutex
	state    State
	exitCode int
	nativeID string

	// Tails of recent output, kept for exit classification.
	stdoutTail tail
	stderrTail tail
}

// Handle is the caller-facing view of a spawned session.
type Handle struct {
	s *session
}

// ID returns the caller-assigned session id.
func (h *Handle) ID() string { return h.s.id }

// Agent returns the agent identifier the session runs.
func (h *Handle) Agent() string { return h.s.agent }

// PID returns the native process id.
func (h *Handle) PID() int {
	if h.s.cmd != nil && h.s.cmd.Process != nil {
		return h.s.cmd.Process.Pid
	}
	return 0
}

// Done closes when the process has exited.
func (h *Handle) Done() <-chan struct{} { return h.s.done }

// ExitCode is valid once Done is closed.
func (h *Handle) ExitCode() int {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.s.exitCode
}

// State reports the session's lifecycle phase.
func (h *Handle) State() State {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.s.state
}

// NativeID returns the agent-native session id once discovered, else "".
func (h *Handle) NativeID() string {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.s.nativeID
}

func (s *session) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateRunning || s.state == StateStarting
}

// readLoop line-buffers stdout (or the pty) and pushes each line through the
// session's parser for annotation. Chunk boundaries never split records: the
// scanner hands over complete lines only.
func (s *session) readLoop(r io.Reader) {
	defer s.readers.Done()
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxLineBytes)

	for scanner.Scan() {
		line := scanner.Text()
		s.stdoutTail.add(line)
		s.notify.publish(Event{Type: EventData, SessionID: s.id, Line: line})
		s.annotate(line)
	}

	if err := scanner.Err(); err != nil && !isClosedErr(err) {
		logging.Debug("session read loop ended", "session_id", s.id, "error", err)
	}
}

// annotate runs protocol extraction over one line and publishes derived
// events. The supervisor stays agent-agnostic; all vocabulary knowledge is
// behind the Parser interface.
func (s *session) annotate(line string) {
	ev := s.parser.ParseLine(line)
	if ev == nil {
		return
	}

	if native := s.parser.ExtractSessionID(ev); native != "" {
		s.mu.Lock()
		first := s.nativeID == ""
		if first {
			s.nativeID = native
		}
		s.mu.Unlock()
		if first {
			s.notify.publish(Event{Type: EventSessionID, SessionID: s.id, NativeID: native})
		}
	}

	if usage := s.parser.ExtractUsage(ev); usage != nil {
		s.notify.publish(Event{Type: EventUsage, SessionID: s.id, Usage: usage})
	}

	if agentErr := s.parser.DetectErrorFromLine(line); agentErr != nil {
		s.notify.publish(Event{Type: EventAgentError, SessionID: s.id, Err: agentErr})
	}
}

func (s *session) stderrLoop(r io.Reader) {
	defer s.readers.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		s.stderrTail.add(line)
		s.notify.publish(Event{Type: EventStderr, SessionID: s.id, Line: line})
	}
}

// waitLoop reaps the process, classifies the exit, and publishes the
// session's single exit event.
func (s *session) waitLoop() {
	// Drain the output pipes before reaping; Wait closes them and would
	// otherwise race the scanners out of trailing lines. After a kill the
	// drain is bounded: an orphan still holding the pipe write ends must
	// not stall the exit event.
	drained := make(chan struct{})
	go func() {
		s.readers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-s.killed:
		select {
		case <-drained:
		case <-time.After(killDrainTimeout):
		}
	}
	err := s.cmd.Wait()

	code := 0
	if s.cmd.ProcessState != nil {
		code = s.cmd.ProcessState.ExitCode()
	} else if err != nil {
		code = -1
	}

	s.mu.Lock()
	s.state = StateExited
	s.exitCode = code
	s.mu.Unlock()

	if s.ptmx != nil {
		s.ptmx.Close()
	}

	// Free the id before announcing the exit so a subscriber reacting to
	// the exit event can respawn under the same id immediately.
	if s.onExit != nil {
		s.onExit(s.id)
	}

	if agentErr := s.parser.DetectErrorFromExit(code, s.exitOutput()); agentErr != nil {
		s.notify.publish(Event{Type: EventAgentError, SessionID: s.id, Err: agentErr})
	}

	s.notify.publish(Event{Type: EventExit, SessionID: s.id, ExitCode: code})
	close(s.done)
}

// exitOutput is the stderr+stdout tail handed to exit classification.
func (s *session) exitOutput() string {
	parts := make([]string, 0, 2)
	if t := s.stderrTail.String(); t != "" {
		parts = append(parts, t)
	}
	if t := s.stdoutTail.String(); t != "" {
		parts = append(parts, t)
	}
	return strings.Join(parts, "\n")
}

// write is best-effort input delivery. The state lock is released before the
// write itself: a process that stops reading stdin stalls the writer on the
// full pipe, and that stall must never block Kill, Interrupt, or State.
func (s *session) write(data []byte) {
	s.mu.Lock()
	var w io.Writer
	if s.state != StateExited {
		switch {
		case s.ptmx != nil:
			w = s.ptmx
		case s.stdin != nil:
			w = s.stdin
		}
	}
	s.mu.Unlock()

	if w == nil {
		return
	}
	// Separate writer lock so concurrent writes cannot interleave mid-line.
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := w.Write(data); err != nil {
		logging.Debug("session write failed", "session_id", s.id, "error", err)
	}
}

// kill terminates the session's whole process group. Pty sessions lead their
// own group already; pipe sessions are placed in one at spawn. A group kill
// reaches grandchildren that inherited the output pipes and would otherwise
// keep the pipes open past the direct child's death.
func (s *session) kill() {
	if s.cmd.Process == nil {
		return
	}
	if err := killProcessGroup(s.cmd.Process.Pid); err != nil {
		if err := s.cmd.Process.Kill(); err != nil && !strings.Contains(err.Error(), "already finished") {
			logging.Debug("kill failed", "session_id", s.id, "error", err)
		}
	}
	s.killOnce.Do(func() { close(s.killed) })
}

const tailLines = 40

// maxLineBytes caps a single protocol line; agents can emit large tool
// results in one record.
const maxLineBytes = 1024 * 1024

// killDrainTimeout bounds how long a killed session waits for its output
// pipes to reach EOF before reaping anyway.
const killDrainTimeout = 2 * time.Second

// tail keeps the most recent output lines for exit diagnostics.
type tail struct {
	mu    sync.Mutex
	lines []string
}

func (t *tail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > tailLines {
		t.lines = t.lines[len(t.lines)-tailLines:]
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}

// isClosedErr reports reads that failed only because the fd was closed, the
// normal way a pty read ends on process exit.
func isClosedErr(err error) bool {
	return strings.Contains(err.Error(), "file already closed") ||
		strings.Contains(err.Error(), "input/output error")
}
