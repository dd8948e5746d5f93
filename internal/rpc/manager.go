package rpc

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/untoldecay/rho/internal/debug"
)

// Manager defaults.
const (
	DefaultConnectTimeout = 60 * time.Second
	DefaultIdleTimeout    = 10 * time.Minute
	DefaultKillDelay      = 2 * time.Second
)

// Handler receives session events. Handlers must not block for long; a
// panicking handler is swallowed and never propagates into the manager.
type Handler func(Event)

// ManagerConfig describes how sessions are spawned and supervised.
type ManagerConfig struct {
	// AgentCommand is the argv of the child process (the coding agent).
	AgentCommand []string
	// EnvUnset names inherited variables to drop; EnvOverrides are
	// KEY=VALUE pairs appended after inheritance. By default RHO_SUBAGENT
	// is unset so the child does not believe it is a subagent.
	EnvUnset     []string
	EnvOverrides []string

	ConnectTimeout time.Duration // child must emit a parseable line within this
	IdleTimeout    time.Duration // no command writes for this long stops the session
	KillDelay      time.Duration // SIGTERM -> SIGKILL escalation delay

	// Reliability, when set, sequences and buffers every emitted event.
	Reliability *Reliability
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if len(c.EnvUnset) == 0 {
		c.EnvUnset = []string{"RHO_SUBAGENT"}
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.KillDelay <= 0 {
		c.KillDelay = DefaultKillDelay
	}
	return c
}

// Session is one live child process and its subscriber set.
type Session struct {
	ID   string
	File string // backing session file handed to the child

	mu           sync.Mutex
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	writeMu      sync.Mutex // serializes stdin writes; blocking write is the backpressure
	emitMu       sync.Mutex // serializes event delivery across emitters
	subscribers  map[int]Handler
	nextSub      int
	connected    bool
	stopRequest  bool // we initiated shutdown
	finished     bool // final event emitted, no more may follow
	startedAt    time.Time
	lastActivity time.Time
	connectTimer *time.Timer
	idleTimer    *time.Timer
	killTimer    *time.Timer
}

// Manager spawns, supervises, and routes line-delimited JSON to and from
// agent child processes. Treat it as a process-wide singleton with
// explicit Dispose semantics at exit.
type Manager struct {
	mu       sync.Mutex
	cfg      ManagerConfig
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{cfg: cfg.withDefaults(), sessions: make(map[string]*Session)}
}

// StartSession spawns the agent child bound to sessionFile and returns
// the new session id. The child immediately receives switch_session and
// get_state commands.
func (m *Manager) StartSession(sessionFile string) (string, error) {
	if len(m.cfg.AgentCommand) == 0 {
		return "", fmt.Errorf("no agent command configured")
	}

	cmd := exec.Command(m.cfg.AgentCommand[0], m.cfg.AgentCommand[1:]...) // #nosec G204
	cmd.Env = filteredEnv(m.cfg.EnvUnset, m.cfg.EnvOverrides)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("spawning agent: %w", err)
	}

	now := time.Now()
	s := &Session{
		ID:           uuid.NewString(),
		File:         sessionFile,
		cmd:          cmd,
		stdin:        stdin,
		subscribers:  make(map[int]Handler),
		startedAt:    now,
		lastActivity: now,
	}
	s.connectTimer = time.AfterFunc(m.cfg.ConnectTimeout, func() { m.onConnectTimeout(s) })
	s.idleTimer = time.AfterFunc(m.cfg.IdleTimeout, func() { m.onIdleTimeout(s) })

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	go m.pumpStdout(s, stdout)
	go m.pumpStderr(s, stderr)
	go m.awaitExit(s)

	debug.Logf("rpc: started session %s (pid=%d, file=%s)", s.ID, cmd.Process.Pid, sessionFile)

	// Point the child at its session file and ask for current state.
	if err := m.SendCommand(s.ID, Command{"type": CmdSwitchSession, "path": sessionFile}); err != nil {
		return s.ID, err
	}
	if err := m.SendCommand(s.ID, Command{"type": CmdGetState}); err != nil {
		return s.ID, err
	}
	return s.ID, nil
}

// SendCommand serializes the command as one JSON line and writes it to
// the child's stdin. Writes are serialized and blocking (backpressure).
// A failed write emits rpc_error{phase:"write"} and stops the session.
func (m *Manager) SendCommand(sessionID string, cmd Command) error {
	data, err := cmd.Encode()
	if err != nil {
		return err
	}
	s := m.lookup(sessionID)
	if s == nil {
		return fmt.Errorf("no session %s", sessionID)
	}

	s.writeMu.Lock()
	_, werr := s.stdin.Write(data)
	s.writeMu.Unlock()
	if werr != nil {
		m.emit(s, errorEvent(PhaseWrite, map[string]interface{}{"error": werr.Error()}))
		_ = m.StopSession(sessionID)
		return fmt.Errorf("writing command: %w", werr)
	}

	s.mu.Lock()
	s.lastActivity = time.Now()
	if s.idleTimer != nil {
		s.idleTimer.Reset(m.cfg.IdleTimeout)
	}
	s.mu.Unlock()
	return nil
}

// OnEvent subscribes to a session's events; the returned function
// unsubscribes. Subscribing cancels a pending orphan window; the last
// unsubscribe schedules one (when a reliability layer is attached).
func (m *Manager) OnEvent(sessionID string, h Handler) (func(), error) {
	s := m.lookup(sessionID)
	if s == nil {
		return nil, fmt.Errorf("no session %s", sessionID)
	}

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = h
	s.mu.Unlock()

	if m.cfg.Reliability != nil {
		m.cfg.Reliability.CancelOrphan(sessionID)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			empty := len(s.subscribers) == 0
			s.mu.Unlock()
			if empty && m.cfg.Reliability != nil {
				m.cfg.Reliability.ScheduleOrphan(sessionID)
			}
		})
	}, nil
}

// StopSession initiates graceful shutdown: SIGTERM now, SIGKILL after the
// kill delay if the child has not exited. Idempotent; unknown ids are a
// no-op.
func (m *Manager) StopSession(sessionID string) error {
	s := m.lookup(sessionID)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.stopRequest {
		s.mu.Unlock()
		return nil
	}
	s.stopRequest = true
	proc := s.cmd.Process
	s.killTimer = time.AfterFunc(m.cfg.KillDelay, func() {
		debug.Logf("rpc: session %s did not exit, killing", s.ID)
		_ = proc.Kill()
	})
	s.mu.Unlock()

	_ = terminate(proc)
	return nil
}

// FindSessionByFile returns the live session bound to the given file.
func (m *Manager) FindSessionByFile(sessionFile string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.File == sessionFile {
			return id, true
		}
	}
	return "", false
}

// ActiveSessions lists live session ids.
func (m *Manager) ActiveSessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasSubscribers reports whether anyone is listening to the session.
func (m *Manager) HasSubscribers(sessionID string) bool {
	s := m.lookup(sessionID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers) > 0
}

// Dispose stops every session. Call at process exit.
func (m *Manager) Dispose() {
	for _, id := range m.ActiveSessions() {
		_ = m.StopSession(id)
	}
}

func (m *Manager) lookup(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionID]
}

// emit fans an event out to subscribers in subscription order. Once a
// stop has been requested, only the final lifecycle event may follow;
// lines the child writes between SIGTERM and exit are dropped.
func (m *Manager) emit(s *Session, ev Event) {
	m.deliver(s, ev, false)
}

// emitFinal delivers the session's terminal lifecycle event.
func (m *Manager) emitFinal(s *Session, ev Event) {
	m.deliver(s, ev, true)
}

// deliver holds the session's delivery lock across sequencing and the
// handler loop, so concurrent emitters cannot interleave: every
// subscriber observes the same order, matching the replay buffer's.
func (m *Manager) deliver(s *Session, ev Event, final bool) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.finished || (s.stopRequest && !final) {
		s.mu.Unlock()
		return
	}
	keys := make([]int, 0, len(s.subscribers))
	for k := range s.subscribers {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	handlers := make([]Handler, 0, len(keys))
	for _, k := range keys {
		handlers = append(handlers, s.subscribers[k])
	}
	s.mu.Unlock()

	if m.cfg.Reliability != nil {
		m.cfg.Reliability.RecordEvent(s.ID, ev)
	}
	for _, h := range handlers {
		safeCall(h, ev)
	}
}

func safeCall(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			debug.Logf("rpc: subscriber panic swallowed: %v", r)
		}
	}()
	h(ev)
}

// pumpStdout frames child stdout into lines, parses each as JSON, and
// emits the result. Partial lines are preserved across reads; a JSON
// object is never split across two emissions.
func (m *Manager) pumpStdout(s *Session, r io.Reader) {
	reader := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := reader.ReadString('\n')
		if line != "" && err == nil {
			m.handleStdoutLine(s, strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			// EOF with a partial buffered line: the child died mid-write;
			// the fragment is not a frame, drop it.
			return
		}
	}
}

func (m *Manager) handleStdoutLine(s *Session, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	ev, err := parseEvent(line)
	if err != nil {
		m.emit(s, errorEvent(PhaseParse, map[string]interface{}{"line": line}))
		return
	}

	s.mu.Lock()
	if !s.connected {
		s.connected = true
		if s.connectTimer != nil {
			s.connectTimer.Stop()
			s.connectTimer = nil
		}
		debug.Logf("rpc: session %s connected", s.ID)
	}
	s.mu.Unlock()

	m.emit(s, ev)
}

func (m *Manager) pumpStderr(s *Session, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		m.emit(s, Event{"type": EventStderr, "message": text})
	}
}

// awaitExit reaps the child and emits the final lifecycle event:
// rpc_session_stopped when we initiated the shutdown, or
// rpc_process_crashed when the child died on its own.
func (m *Manager) awaitExit(s *Session) {
	err := s.cmd.Wait()

	s.mu.Lock()
	initiated := s.stopRequest
	s.cancelTimersLocked()
	s.mu.Unlock()

	final := Event{"type": EventSessionStopped}
	if !initiated {
		final = Event{"type": EventProcessCrashed}
		if err != nil {
			final["error"] = err.Error()
		}
	}
	m.emitFinal(s, final)

	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()

	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()
	debug.Logf("rpc: session %s exited (initiated=%v, err=%v)", s.ID, initiated, err)
}

func (m *Manager) onConnectTimeout(s *Session) {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if connected {
		return
	}
	m.emit(s, errorEvent(PhaseConnect, map[string]interface{}{"timeout": m.cfg.ConnectTimeout.String()}))
	_ = m.StopSession(s.ID)
}

func (m *Manager) onIdleTimeout(s *Session) {
	m.emit(s, Event{"type": EventIdleTimeout})
	_ = m.StopSession(s.ID)
}

func (s *Session) cancelTimersLocked() {
	for _, t := range []*time.Timer{s.connectTimer, s.idleTimer, s.killTimer} {
		if t != nil {
			t.Stop()
		}
	}
	s.connectTimer, s.idleTimer, s.killTimer = nil, nil, nil
}

// filteredEnv inherits the parent environment minus unset names, plus
// explicit overrides.
func filteredEnv(unset, overrides []string) []string {
	drop := make(map[string]bool, len(unset))
	for _, name := range unset {
		drop[name] = true
	}
	var env []string
	for _, kv := range os.Environ() {
		name := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			name = kv[:i]
		}
		if drop[name] {
			continue
		}
		env = append(env, kv)
	}
	return append(env, overrides...)
}
