package rpc

import (
	"sync"
	"time"
)

// Reliability defaults.
const (
	DefaultEventBuffer      = 800
	DefaultCommandRetention = 5 * time.Minute
	DefaultOrphanGrace      = 60 * time.Second
	DefaultOrphanAbortDelay = 5 * time.Second
)

// BufferedEvent is one sequenced entry in a session's replay ring.
type BufferedEvent struct {
	Seq       int64     `json:"seq"`
	Event     Event     `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

// Replay is what a reconnecting client receives. Gap means events the
// client never saw have been evicted from the ring; application state
// must be resynced rather than patched.
type Replay struct {
	Events []BufferedEvent `json:"events"`
	Gap    bool            `json:"gap"`
}

// RegisterResult reports whether a command id has been seen before and,
// when its response is already cached, hands it back so the caller can
// re-emit the prior completion instead of re-running the command.
type RegisterResult struct {
	Duplicate         bool
	CachedResponse    Event
	CachedResponseSeq int64
}

// ReliabilityConfig tunes the per-session reliability state.
type ReliabilityConfig struct {
	EventBuffer      int
	CommandRetention time.Duration
	OrphanGrace      time.Duration
	OrphanAbortDelay time.Duration
	// OnAbort is called when a session has had no subscribers for the
	// grace period (e.g. tell the child to cancel its current turn).
	OnAbort func(sessionID string)
	// OnStop is called when the abort delay also elapses; the session's
	// reliability state is dropped right after.
	OnStop func(sessionID string)
}

func (c ReliabilityConfig) withDefaults() ReliabilityConfig {
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	if c.CommandRetention <= 0 {
		c.CommandRetention = DefaultCommandRetention
	}
	if c.OrphanGrace <= 0 {
		c.OrphanGrace = DefaultOrphanGrace
	}
	if c.OrphanAbortDelay <= 0 {
		c.OrphanAbortDelay = DefaultOrphanAbortDelay
	}
	return c
}

// cachedResponse pairs a response event with the seq it was recorded at.
type cachedResponse struct {
	event Event
	seq   int64
}

// sessionState is the reliability state of one session.
type sessionState struct {
	nextSeq    int64
	ring       []BufferedEvent // ordered, len <= cap
	seen       map[string]time.Time
	responses  map[string]cachedResponse
	abortTimer *time.Timer
	stopTimer  *time.Timer
	orphanGen  int // bumped on every schedule/cancel; stale callbacks bail
}

// Reliability wraps sessions with monotonic event sequencing, bounded
// replay, command deduplication, and orphan abort/stop timers. All state
// is in-process; methods are safe for concurrent use.
type Reliability struct {
	mu       sync.Mutex
	cfg      ReliabilityConfig
	sessions map[string]*sessionState
	now      func() time.Time // test hook
}

// NewReliability creates the layer with the given config.
func NewReliability(cfg ReliabilityConfig) *Reliability {
	return &Reliability{
		cfg:      cfg.withDefaults(),
		sessions: make(map[string]*sessionState),
		now:      time.Now,
	}
}

func (r *Reliability) state(sessionID string) *sessionState {
	st, ok := r.sessions[sessionID]
	if !ok {
		st = &sessionState{
			nextSeq:   1,
			seen:      make(map[string]time.Time),
			responses: make(map[string]cachedResponse),
		}
		r.sessions[sessionID] = st
	}
	return st
}

// RecordEvent assigns the next sequence number to the event, stores it in
// the bounded ring (evicting the oldest entry when full), and indexes
// response events by command id. Returns the assigned seq.
func (r *Reliability) RecordEvent(sessionID string, ev Event) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(sessionID)
	seq := st.nextSeq
	st.nextSeq++

	entry := BufferedEvent{Seq: seq, Event: ev, Timestamp: r.now()}
	st.ring = append(st.ring, entry)
	if len(st.ring) > r.cfg.EventBuffer {
		st.ring = st.ring[len(st.ring)-r.cfg.EventBuffer:]
	}

	if ev.IsResponse() {
		st.responses[ev.ID()] = cachedResponse{event: ev, seq: seq}
	}
	r.pruneLocked(st)
	return seq
}

// GetReplay returns the events a client with lastSeenSeq is missing.
// When the buffer has evicted events the client never saw, the whole
// current buffer is returned with Gap set.
func (r *Reliability) GetReplay(sessionID string, lastSeenSeq int64) Replay {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.sessions[sessionID]
	if !ok || len(st.ring) == 0 {
		return Replay{}
	}
	oldest := st.ring[0].Seq
	if lastSeenSeq < oldest-1 {
		out := make([]BufferedEvent, len(st.ring))
		copy(out, st.ring)
		return Replay{Events: out, Gap: true}
	}
	var out []BufferedEvent
	for _, e := range st.ring {
		if e.Seq > lastSeenSeq {
			out = append(out, e)
		}
	}
	return Replay{Events: out}
}

// RegisterCommand dedups a client command id. Empty ids are unmanaged.
func (r *Reliability) RegisterCommand(sessionID, commandID string) RegisterResult {
	if commandID == "" {
		return RegisterResult{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(sessionID)
	r.pruneLocked(st)

	if cached, ok := st.responses[commandID]; ok {
		return RegisterResult{Duplicate: true, CachedResponse: cached.event, CachedResponseSeq: cached.seq}
	}
	if _, ok := st.seen[commandID]; ok {
		// Seen but not yet answered: the caller must not re-send.
		return RegisterResult{Duplicate: true}
	}
	st.seen[commandID] = r.now()
	return RegisterResult{}
}

// pruneLocked drops seen-command and cached-response state older than the
// retention window. Caller holds r.mu.
func (r *Reliability) pruneLocked(st *sessionState) {
	cutoff := r.now().Add(-r.cfg.CommandRetention)
	for id, seenAt := range st.seen {
		if seenAt.Before(cutoff) {
			delete(st.seen, id)
			delete(st.responses, id)
		}
	}
}

// ScheduleOrphan starts the orphan lifecycle for a session whose last
// subscriber disconnected: after the grace period OnAbort fires, and
// after the further abort delay OnStop fires and the state is dropped.
// A re-subscription must call CancelOrphan within the grace.
func (r *Reliability) ScheduleOrphan(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(sessionID)
	r.cancelOrphanLocked(st)
	gen := st.orphanGen

	// A timer callback can race a CancelOrphan that landed after the timer
	// fired but before the callback ran; each stage re-checks the
	// generation so a cancelled cycle never advances.
	current := func() bool {
		st, ok := r.sessions[sessionID]
		return ok && st.orphanGen == gen
	}
	st.abortTimer = time.AfterFunc(r.cfg.OrphanGrace, func() {
		r.mu.Lock()
		if !current() {
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()

		if r.cfg.OnAbort != nil {
			r.cfg.OnAbort(sessionID)
		}

		r.mu.Lock()
		if !current() {
			r.mu.Unlock()
			return
		}
		r.sessions[sessionID].stopTimer = time.AfterFunc(r.cfg.OrphanAbortDelay, func() {
			r.mu.Lock()
			live := current()
			r.mu.Unlock()
			if !live {
				return
			}
			if r.cfg.OnStop != nil {
				r.cfg.OnStop(sessionID)
			}
			r.Drop(sessionID)
		})
		r.mu.Unlock()
	})
}

// CancelOrphan aborts any pending orphan timers (a subscriber came back).
func (r *Reliability) CancelOrphan(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.sessions[sessionID]; ok {
		r.cancelOrphanLocked(st)
	}
}

func (r *Reliability) cancelOrphanLocked(st *sessionState) {
	st.orphanGen++
	if st.abortTimer != nil {
		st.abortTimer.Stop()
		st.abortTimer = nil
	}
	if st.stopTimer != nil {
		st.stopTimer.Stop()
		st.stopTimer = nil
	}
}

// Drop removes all reliability state for a session, cancelling timers.
func (r *Reliability) Drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.sessions[sessionID]; ok {
		r.cancelOrphanLocked(st)
		delete(r.sessions, sessionID)
	}
}
