// Package supervisor owns every live agent process: spawn, write, interrupt,
// kill, resize, and short-lived auxiliary commands. It multiplexes process
// output into a push-based event stream and knows nothing about any agent's
// protocol beyond the Parser interface injected at spawn.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/drewfead/parley/internal/executil"
	"github.com/drewfead/parley/internal/logging"
	"github.com/drewfead/parley/internal/protocol"
)

// DuplicateSessionError reports a spawn against an id that is already live.
type DuplicateSessionError struct {
	ID string
}

func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("session already running: %s", e.ID)
}

// SpawnConfig describes one session to start. The caller assigns the session
// id and supplies the binary, arguments, and environment (typically from the
// configuration store); the supervisor never fetches configuration itself.
type SpawnConfig struct {
	SessionID string
	Agent     string // parser selection: claude, codex, gemini
	Command   string
	Args      []string
	Dir       string
	Env       map[string]string
	Mode      Mode
	Prompt    string // written to the process after start, newline-terminated
	Cols      uint16 // initial pty size; zero means 80x24
	Rows      uint16
}

// Supervisor tracks all live sessions. One instance per orchestrator;
// independent instances are isolated, which keeps tests hermetic.
type Supervisor struct {
	mu       sync.RWMutex
	sessions map[string]*session
	notify   *notifier
	closed   bool
}

// New creates an empty supervisor.
func New() *Supervisor {
	return &Supervisor{
		sessions: make(map[string]*session),
		notify:   newNotifier(),
	}
}

// Subscribe returns an event feed for one session. Events are delivered in
// production order per session.
func (sv *Supervisor) Subscribe(sessionID string) *Subscription {
	return sv.notify.subscribe(sessionID, 256)
}

// SubscribeAll returns a feed of every session's events. No cross-session
// ordering is guaranteed.
func (sv *Supervisor) SubscribeAll() *Subscription {
	return sv.notify.subscribe("", 1024)
}

// Spawn starts a new session and returns its handle immediately; it never
// blocks waiting for output. Spawn failures (missing binary, permission
// denied, duplicate id) surface synchronously; everything after a successful
// start surfaces only through events.
func (sv *Supervisor) Spawn(ctx context.Context, cfg SpawnConfig) (*Handle, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("spawn: session id required")
	}
	if cfg.Command == "" {
		return nil, fmt.Errorf("spawn: command required")
	}

	parser, err := protocol.ForAgent(cfg.Agent)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", cfg.SessionID, err)
	}

	sv.mu.Lock()
	if sv.closed {
		sv.mu.Unlock()
		return nil, fmt.Errorf("supervisor closed")
	}
	if _, live := sv.sessions[cfg.SessionID]; live {
		sv.mu.Unlock()
		return nil, &DuplicateSessionError{ID: cfg.SessionID}
	}
	// Reserve the id before releasing the lock so concurrent spawns on the
	// same id cannot race past the duplicate check.
	sv.sessions[cfg.SessionID] = nil
	sv.mu.Unlock()

	s, err := sv.startSession(ctx, cfg, parser)
	if err != nil {
		sv.mu.Lock()
		delete(sv.sessions, cfg.SessionID)
		sv.mu.Unlock()
		return nil, err
	}

	sv.mu.Lock()
	sv.sessions[cfg.SessionID] = s
	sv.mu.Unlock()

	logging.Info("session spawned",
		"session_id", cfg.SessionID,
		"agent", cfg.Agent,
		"mode", string(s.mode),
		"pid", s.cmd.Process.Pid)

	return &Handle{s: s}, nil
}

func (sv *Supervisor) startSession(ctx context.Context, cfg SpawnConfig, parser protocol.Parser) (*session, error) {
	cmd, err := executil.CommandContext(ctx, cfg.Command, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", cfg.SessionID, err)
	}
	cmd.Dir = cfg.Dir
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	mode := cfg.Mode
	if mode == "" {
		mode = ModePipe
	}

	s := &session{
		id:      cfg.SessionID,
		agent:   parser.Agent(),
		mode:    mode,
		dir:     cfg.Dir,
		parser:  parser,
		started: time.Now(),
		cmd:     cmd,
		notify:  sv.notify,
		onExit:  sv.remove,
		done:    make(chan struct{}),
		killed:  make(chan struct{}),
		state:   StateStarting,
	}

	switch mode {
	case ModePTY:
		ptmx, err := startPTY(cmd, cfg.Cols, cfg.Rows)
		if err != nil {
			return nil, fmt.Errorf("spawn %s: start pty: %w", cfg.SessionID, err)
		}
		s.ptmx = ptmx
		s.readers.Add(1)
		go s.readLoop(ptmx)

	case ModePipe:
		// Own process group so Kill reaches forked grandchildren that
		// inherited the output pipes. Pty sessions get this from setsid.
		setProcessGroup(cmd)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("spawn %s: stdin pipe: %w", cfg.SessionID, err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			stdin.Close()
			return nil, fmt.Errorf("spawn %s: stdout pipe: %w", cfg.SessionID, err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			stdin.Close()
			return nil, fmt.Errorf("spawn %s: stderr pipe: %w", cfg.SessionID, err)
		}
		if err := cmd.Start(); err != nil {
			stdin.Close()
			return nil, fmt.Errorf("spawn %s: %w", cfg.SessionID, err)
		}
		s.stdin = stdin
		s.readers.Add(2)
		go s.readLoop(stdout)
		go s.stderrLoop(stderr)

	default:
		return nil, fmt.Errorf("spawn %s: unknown mode %q", cfg.SessionID, mode)
	}

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()

	go s.waitLoop()

	if cfg.Prompt != "" {
		s.write(append([]byte(cfg.Prompt), '\n'))
	}

	return s, nil
}

// Write sends data to a session's input. Best effort: unknown or exited
// sessions are a no-op.
func (sv *Supervisor) Write(sessionID string, data []byte) {
	if s := sv.get(sessionID); s != nil {
		s.write(data)
	}
}

// Interrupt sends a best-effort cancellation signal appropriate to the
// session's mode: ETX down the pty for interactive sessions, SIGINT for pipe
// sessions. The process is not guaranteed to stop.
func (sv *Supervisor) Interrupt(sessionID string) {
	s := sv.get(sessionID)
	if s == nil || !s.isRunning() {
		return
	}

	if s.ptmx != nil {
		s.write([]byte{0x03})
		return
	}
	if s.cmd.Process != nil {
		if err := s.cmd.Process.Signal(interruptSignal()); err != nil {
			logging.Debug("interrupt failed", "session_id", sessionID, "error", err)
		}
	}
}

// Kill forcibly terminates a session and everything it spawned. Idempotent:
// killing an unknown or already-exited session is a no-op.
func (sv *Supervisor) Kill(sessionID string) {
	s := sv.get(sessionID)
	if s == nil || !s.isRunning() {
		return
	}
	s.kill()
}

// Resize adjusts a pty session's terminal size. No-op for pipe sessions.
func (sv *Supervisor) Resize(sessionID string, cols, rows uint16) {
	s := sv.get(sessionID)
	if s == nil || s.ptmx == nil {
		return
	}
	if err := resizePTY(s.ptmx, cols, rows); err != nil {
		logging.Debug("resize failed", "session_id", sessionID, "error", err)
	}
}

// Get returns the handle for a live session, or nil.
func (sv *Supervisor) Get(sessionID string) *Handle {
	if s := sv.get(sessionID); s != nil {
		return &Handle{s: s}
	}
	return nil
}

// List returns the ids of all live sessions.
func (sv *Supervisor) List() []string {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	ids := make([]string, 0, len(sv.sessions))
	for id, s := range sv.sessions {
		if s != nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// RunCommand executes a short-lived, non-interactive command attributed to a
// session. Its output travels on stderr/command-exit events only, so it never
// mixes with the session's interactive stream. Completion is observed via the
// command-exit event; the returned error covers spawn failure only.
func (sv *Supervisor) RunCommand(ctx context.Context, sessionID, command, cwd, shell string) error {
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd, err := executil.CommandContext(ctx, shell, "-c", command)
	if err != nil {
		return fmt.Errorf("run command: %w", err)
	}
	cmd.Dir = cwd

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("run command: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("run command: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("run command: %w", err)
	}

	go func() {
		var out tail
		var wg sync.WaitGroup
		wg.Add(2)

		go func() {
			defer wg.Done()
			scanLines(stdout, func(line string) { out.add(line) })
		}()
		go func() {
			defer wg.Done()
			scanLines(stderr, func(line string) {
				sv.notify.publish(Event{Type: EventStderr, SessionID: sessionID, Line: line})
			})
		}()

		wg.Wait()
		err := cmd.Wait()
		code := 0
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		} else if err != nil {
			code = -1
		}
		sv.notify.publish(Event{
			Type:      EventCommandExit,
			SessionID: sessionID,
			ExitCode:  code,
			Command:   command,
			Output:    out.String(),
		})
	}()

	return nil
}

// Close kills every live session and rejects further spawns.
func (sv *Supervisor) Close() {
	sv.mu.Lock()
	sv.closed = true
	live := make([]*session, 0, len(sv.sessions))
	for _, s := range sv.sessions {
		if s != nil {
			live = append(live, s)
		}
	}
	sv.mu.Unlock()

	for _, s := range live {
		if s.isRunning() {
			s.kill()
		}
	}
}

func (sv *Supervisor) get(sessionID string) *session {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	return sv.sessions[sessionID]
}

// remove drops an exited session from the live map. Exit code capture happens
// before this runs, in the session's wait loop.
func (sv *Supervisor) remove(sessionID string) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	delete(sv.sessions, sessionID)
}

func scanLines(r io.Reader, fn func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		fn(scanner.Text())
	}
}
