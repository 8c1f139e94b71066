// Package session provides session lifecycle management for memoryd: the
// in-memory registry of sessions currently being driven by an SDK query,
// their per-session pending-message queues, and token accounting.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// SessionTimeout is the idle duration after which CleanupInterval's sweep
// considers an active session abandoned.
const SessionTimeout = 30 * time.Minute

// CleanupInterval is how often the idle sweep runs.
const CleanupInterval = 5 * time.Minute

// MessageType distinguishes the two kinds of work an active session's SDK
// query loop can be asked to fold in.
type MessageType int

const (
	MessageTypeObservation MessageType = 0
	MessageTypeSummarize   MessageType = 1
)

// ObservationData carries one tool-use event queued for enrichment.
// ToolInput/ToolResponse are carried as opaque interface{} because the
// ingest handler decodes them straight off the wire without knowing the
// originating tool's shape in advance.
type ObservationData struct {
	ToolName     string
	ToolInput    interface{}
	ToolResponse interface{}
	PromptNumber int
	CWD          string
}

// SummarizeData carries the turn-boundary context needed to synthesize a
// SessionSummary.
type SummarizeData struct {
	LastUserMessage      string
	LastAssistantMessage string
}

// PendingMessage is one item in an ActiveSession's queue. Exactly one of
// Observation/Summarize is set, selected by Type.
type PendingMessage struct {
	Type        MessageType
	Observation *ObservationData
	Summarize   *SummarizeData
}

// ActiveSession is a session currently tracked in memory: its queue of
// unprocessed messages, its SDK query lifecycle context, and running token
// totals. All fields accessed from more than one goroutine are guarded by
// messageMu (the queue) or are atomics (generatorActive).
type ActiveSession struct {
	SessionDBID     int64
	ClaudeSessionID string
	SDKSessionID    string
	Project         string
	UserPrompt      string
	StartTime       time.Time

	pendingMessages []PendingMessage
	notify          chan struct{}
	messageMu       sync.Mutex
	lastActivity    time.Time

	generatorActive atomic.Bool
	processStarted  atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	CumulativeInputTokens  int64
	CumulativeOutputTokens int64
	LastPromptNumber       int
}

// enqueue appends msg to the session's pending queue, records the activity,
// and pings notify so a parked consumer wakes without polling.
func (a *ActiveSession) enqueue(msg PendingMessage) {
	a.messageMu.Lock()
	a.pendingMessages = append(a.pendingMessages, msg)
	a.lastActivity = time.Now()
	a.messageMu.Unlock()

	if a.notify != nil {
		select {
		case a.notify <- struct{}{}:
		default:
		}
	}
}

// idleSince returns the time the session last had a message enqueued (or
// was created), read under the same mutex enqueue uses to write it.
func (a *ActiveSession) idleSince() time.Time {
	a.messageMu.Lock()
	defer a.messageMu.Unlock()
	return a.lastActivity
}

// drain removes and returns every queued message, oldest first.
func (a *ActiveSession) drain() []PendingMessage {
	a.messageMu.Lock()
	defer a.messageMu.Unlock()
	if len(a.pendingMessages) == 0 {
		return nil
	}
	drained := a.pendingMessages
	a.pendingMessages = nil
	return drained
}

func (a *ActiveSession) queueDepth() int {
	a.messageMu.Lock()
	defer a.messageMu.Unlock()
	return len(a.pendingMessages)
}

func (a *ActiveSession) isProcessing() bool {
	return a.generatorActive.Load() || a.queueDepth() > 0
}

// Manager is the process-wide registry of ActiveSessions. ProcessNotify is
// pinged (non-blocking, buffer 1) whenever a message is queued for any
// session, so a single dispatcher goroutine can wake on "something
// changed" instead of polling every session.
type Manager struct {
	mu       sync.RWMutex
	sessions map[int64]*ActiveSession

	ProcessNotify chan struct{}

	onCreated func(sessionDBID int64)
	onDeleted func(sessionDBID int64)

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Manager bound to ctx; cancelling ctx (or calling
// ShutdownAll) tears down every active session's own context.
func New(ctx context.Context) *Manager {
	childCtx, cancel := context.WithCancel(ctx)
	return &Manager{
		sessions:      make(map[int64]*ActiveSession),
		ProcessNotify: make(chan struct{}, 1),
		ctx:           childCtx,
		cancel:        cancel,
	}
}

// CreateSession registers a new ActiveSession and fires onCreated.
func (m *Manager) CreateSession(sessionDBID int64, claudeSessionID, project, userPrompt string) *ActiveSession {
	ctx, cancel := context.WithCancel(m.ctx)
	session := &ActiveSession{
		SessionDBID:     sessionDBID,
		ClaudeSessionID: claudeSessionID,
		Project:         project,
		UserPrompt:      userPrompt,
		StartTime:       time.Now(),
		lastActivity:    time.Now(),
		pendingMessages: make([]PendingMessage, 0),
		notify:          make(chan struct{}, 1),
		ctx:             ctx,
		cancel:          cancel,
	}

	m.mu.Lock()
	m.sessions[sessionDBID] = session
	m.mu.Unlock()

	if m.onCreated != nil {
		m.onCreated(sessionDBID)
	}
	return session
}

// Enqueue queues msg for sessionDBID and pings ProcessNotify. A no-op if
// the session is not active.
func (m *Manager) Enqueue(sessionDBID int64, msg PendingMessage) {
	m.mu.RLock()
	session, ok := m.sessions[sessionDBID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	session.enqueue(msg)

	select {
	case m.ProcessNotify <- struct{}{}:
	default:
	}
}

// DrainMessages removes and returns every pending message for sessionDBID,
// or nil if the session is not active.
func (m *Manager) DrainMessages(sessionDBID int64) []PendingMessage {
	m.mu.RLock()
	session, ok := m.sessions[sessionDBID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return session.drain()
}

// GetActiveSessionCount returns the number of sessions currently tracked.
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetTotalQueueDepth sums pending-message counts across every session.
func (m *Manager) GetTotalQueueDepth() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, session := range m.sessions {
		total += session.queueDepth()
	}
	return total
}

// IsAnySessionProcessing reports whether any session has a non-empty
// queue or an active generator.
func (m *Manager) IsAnySessionProcessing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, session := range m.sessions {
		if session.isProcessing() {
			return true
		}
	}
	return false
}

// GetAllSessions returns a snapshot slice of every active session.
func (m *Manager) GetAllSessions() []*ActiveSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ActiveSession, 0, len(m.sessions))
	for _, session := range m.sessions {
		out = append(out, session)
	}
	return out
}

// GetSession returns the active session for sessionDBID, if any.
func (m *Manager) GetSession(sessionDBID int64) (*ActiveSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[sessionDBID]
	return session, ok
}

// DeleteSession cancels the session's context, removes it from the
// registry, and fires onDeleted. Safe to call on a session that doesn't
// exist or was already deleted.
func (m *Manager) DeleteSession(sessionDBID int64) {
	m.mu.Lock()
	session, ok := m.sessions[sessionDBID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, sessionDBID)
	m.mu.Unlock()

	if session.cancel != nil {
		session.cancel()
	}
	if m.onDeleted != nil {
		m.onDeleted(sessionDBID)
	}
}

// ShutdownAll deletes every active session. ctx is accepted for symmetry
// with other shutdown hooks (a future drain-before-delete could honor its
// deadline) but deletion itself is synchronous and unconditional.
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]int64, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.DeleteSession(id)
	}
	m.cancel()
}

// SetOnSessionCreated registers a callback fired (synchronously, from
// CreateSession's caller goroutine) whenever a session is created.
func (m *Manager) SetOnSessionCreated(fn func(sessionDBID int64)) {
	m.onCreated = fn
}

// SetOnSessionDeleted registers a callback fired (synchronously, from
// DeleteSession's caller goroutine) whenever a session is deleted.
func (m *Manager) SetOnSessionDeleted(fn func(sessionDBID int64)) {
	m.onDeleted = fn
}

// StartProcessorOnce runs fn in a new goroutine, passing the session's own
// cancellable context, the first time it's called for sessionDBID. Later
// calls for the same still-active session are no-ops, so a handler can call
// this unconditionally on every ingest without spawning duplicate
// processing loops.
func (m *Manager) StartProcessorOnce(sessionDBID int64, fn func(ctx context.Context)) {
	m.mu.RLock()
	session, ok := m.sessions[sessionDBID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if session.processStarted.CompareAndSwap(false, true) {
		go fn(session.ctx)
	}
}

// SweepIdle deletes every session that has had no message enqueued for
// longer than SessionTimeout. Intended to be called every CleanupInterval
// by the daemon's background loop. A session under continuous activity is
// never swept no matter how long it has been open, since that would cancel
// its in-flight SessionQueueProcessor mid-stream.
func (m *Manager) SweepIdle() {
	cutoff := time.Now().Add(-SessionTimeout)

	m.mu.RLock()
	var idle []int64
	for id, session := range m.sessions {
		if session.idleSince().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range idle {
		m.DeleteSession(id)
	}
}
