package diagnostics

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowscope/flowscope/src/chatapi"
)

// Config holds the anomaly thresholds. Each rule is independently
// toggleable.
type Config struct {
	// MaxNodeExecutions is the per-node execution budget; exceeding it
	// raises an infinite_loop issue.
	MaxNodeExecutions int `json:"max_node_executions"`
	// MaxSessionDuration bounds how long a session may stay active before a
	// timeout issue is raised.
	MaxSessionDuration time.Duration `json:"max_session_duration"`
	// MaxEventInterval is how long a node may sit in running state before a
	// repeated start raises a stuck_node issue.
	MaxEventInterval time.Duration `json:"max_event_interval"`
	// MemoryGrowthThreshold is the RSS growth (bytes) over a session's
	// lifetime that raises a memory_leak issue.
	MemoryGrowthThreshold uint64 `json:"memory_growth_threshold"`
	// MemorySampleEvery is how many events pass between RSS samples.
	MemorySampleEvery int `json:"memory_sample_every"`

	DetectInfiniteLoops bool `json:"detect_infinite_loops"`
	DetectTimeouts      bool `json:"detect_timeouts"`
	DetectStuckNodes    bool `json:"detect_stuck_nodes"`
	DetectMemoryLeaks   bool `json:"detect_memory_leaks"`

	// IssueHistorySize bounds the global issue ring buffer.
	IssueHistorySize int `json:"issue_history_size"`
	// ComparisonHistorySize bounds the parameter comparison ring buffer.
	ComparisonHistorySize int `json:"comparison_history_size"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MaxNodeExecutions:     3,
		MaxSessionDuration:    5 * time.Minute,
		MaxEventInterval:      30 * time.Second,
		MemoryGrowthThreshold: 256 * 1024 * 1024,
		MemorySampleEvery:     25,
		DetectInfiniteLoops:   true,
		DetectTimeouts:        true,
		DetectStuckNodes:      true,
		DetectMemoryLeaks:     false,
		IssueHistorySize:      200,
		ComparisonHistorySize: 100,
	}
}

// Engine maintains one WorkflowSession per conversation and evaluates the
// anomaly rules incrementally on every event, so detection latency equals
// event arrival latency. All state is guarded by a single mutex: unlike a
// cooperative single-threaded runtime, callers here may run on different
// goroutines.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	active     map[string]*WorkflowSession
	terminated []*WorkflowSession

	// nodeTimers tracks pending node_started timestamps keyed by
	// (sessionID, nodeID); cleared on node_finished.
	nodeTimers map[string]time.Time

	issueHistory []*DiagnosticIssue

	auditor *ParameterAuditor

	sampler         MemorySampler
	sessionStartRSS map[string]uint64

	store Store
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithStore attaches a best-effort persistence store. State is loaded on
// construction and flushed after every mutating operation; failures are
// logged, never fatal.
func WithStore(store Store) EngineOption {
	return func(e *Engine) { e.store = store }
}

// WithMemorySampler attaches an RSS sampler for the memory_leak rule.
func WithMemorySampler(s MemorySampler) EngineOption {
	return func(e *Engine) { e.sampler = s }
}

// NewEngine creates an Engine.
func NewEngine(cfg Config, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:             cfg,
		logger:          logger.With("component", "diagnostics"),
		now:             time.Now,
		active:          make(map[string]*WorkflowSession),
		nodeTimers:      make(map[string]time.Time),
		sessionStartRSS: make(map[string]uint64),
	}
	e.auditor = newParameterAuditor(cfg.ComparisonHistorySize)
	for _, opt := range opts {
		opt(e)
	}
	if e.store != nil {
		if err := e.restore(); err != nil {
			e.logger.Warn("failed to restore diagnostics state", "error", err)
		}
	}
	return e
}

// RecordEvent applies one decoded stream event to the session state and
// re-evaluates the anomaly rules. Events from a single stream must be
// delivered in arrival order; cross-conversation ordering is not required.
func (e *Engine) RecordEvent(ev *chatapi.WorkflowEvent) {
	if ev == nil || ev.ConversationID == "" {
		return
	}

	e.mu.Lock()
	sess := e.apply(ev)
	if sess != nil {
		e.detect(sess, ev)
	}
	snapshot := e.snapshotLocked()
	e.mu.Unlock()

	e.flush(snapshot)
}

// apply mutates session state for one event and returns the affected
// session.
func (e *Engine) apply(ev *chatapi.WorkflowEvent) *WorkflowSession {
	sess, ok := e.active[ev.ConversationID]
	if !ok {
		// Sessions are created on workflow_started, but a stream that opens
		// mid-run still gets its events recorded rather than dropped.
		sess = e.startSession(ev)
	} else if ev.Kind == chatapi.EventWorkflowStarted {
		// One active session per conversation: an unexpected restart
		// abandons the previous run.
		e.finalize(sess, SessionError, ev.Timestamp)
		sess = e.startSession(ev)
	}

	sess.Events = append(sess.Events, ev)

	switch ev.Kind {
	case chatapi.EventNodeStarted:
		exec := sess.node(ev.NodeID, ev.NodeName)
		exec.ExecutionCount++
		exec.Status = NodeRunning
		exec.LastExecuted = ev.Timestamp

	case chatapi.EventNodeFinished:
		exec := sess.node(ev.NodeID, ev.NodeName)
		exec.Status = NodeCompleted
		exec.LastExecuted = ev.Timestamp
		if ev.ExecutionTime != nil && exec.ExecutionCount > 0 {
			exec.TotalExecutionTime += *ev.ExecutionTime
			exec.AverageExecutionTime = exec.TotalExecutionTime / float64(exec.ExecutionCount)
		}
		delete(e.nodeTimers, timerKey(sess.ID, ev.NodeID))

	case chatapi.EventMessageEnd:
		sess.MessageCount++
		// The stream's terminal frame: a run whose stream ends here without
		// reporting workflow_finished still completed.
		e.finalize(sess, SessionCompleted, ev.Timestamp)

	case chatapi.EventError:
		if ev.NodeID != "" {
			exec := sess.node(ev.NodeID, ev.NodeName)
			exec.Status = NodeError
			exec.Errors = append(exec.Errors, errorMessage(ev))
		}
		e.finalize(sess, SessionError, ev.Timestamp)

	case chatapi.EventWorkflowFinished:
		e.finalize(sess, SessionCompleted, ev.Timestamp)
	}

	return sess
}

func (e *Engine) startSession(ev *chatapi.WorkflowEvent) *WorkflowSession {
	sess := &WorkflowSession{
		ID:             uuid.New().String(),
		ConversationID: ev.ConversationID,
		StartTime:      ev.Timestamp,
		Status:         SessionActive,
		NodeExecutions: make(map[string]*NodeExecution),
	}
	e.active[ev.ConversationID] = sess
	if e.sampler != nil && e.cfg.DetectMemoryLeaks {
		if rss, err := e.sampler.RSS(); err == nil {
			e.sessionStartRSS[sess.ID] = rss
		}
	}
	e.logger.Debug("workflow session started",
		"session_id", sess.ID, "conversation_id", sess.ConversationID)
	return sess
}

// finalize moves a session to a terminal status. Terminal sessions never
// transition again.
func (e *Engine) finalize(sess *WorkflowSession, status SessionStatus, at time.Time) {
	if sess.terminal() {
		return
	}
	sess.Status = status
	end := at
	sess.EndTime = &end
	delete(e.active, sess.ConversationID)
	delete(e.sessionStartRSS, sess.ID)
	for nodeID := range sess.NodeExecutions {
		delete(e.nodeTimers, timerKey(sess.ID, nodeID))
	}
	e.terminated = append(e.terminated, sess)
	e.logger.Info("workflow session finished",
		"session_id", sess.ID, "conversation_id", sess.ConversationID,
		"status", string(status), "events", len(sess.Events))
}

// CompareParameters diffs the outgoing request parameters against the last
// snapshot for the conversation and records the comparison. Silent removal
// of previously sent keys is surfaced as a parameter_anomaly issue.
func (e *Engine) CompareParameters(conversationID string, params map[string]any, messageIndex int) *ParameterComparison {
	e.mu.Lock()

	cmp := e.auditor.compare(conversationID, params, messageIndex, e.now())

	var removed []string
	for _, ch := range cmp.Changes {
		if ch.Kind == ChangeRemoved {
			removed = append(removed, ch.Key)
		}
	}
	if len(removed) > 0 {
		if sess, ok := e.active[conversationID]; ok {
			e.raise(sess, &DiagnosticIssue{
				Type:     IssueParameterAnomaly,
				Severity: SeverityLow,
				Message:  fmt.Sprintf("request parameters silently dropped: %v", removed),
				NodeID:   "",
				Details:  map[string]any{"removed_keys": removed, "message_index": messageIndex},
			})
		}
	}
	if sess, ok := e.active[conversationID]; ok && sess.Parameters == nil {
		sess.Parameters = params
	}

	snapshot := e.snapshotLocked()
	e.mu.Unlock()

	e.flush(snapshot)
	return cmp
}

// ResolveIssue marks an issue resolved. This is the only mutation issues
// ever receive after creation.
func (e *Engine) ResolveIssue(issueID string) bool {
	e.mu.Lock()
	resolved := false
	for _, issue := range e.issueHistory {
		if issue.ID == issueID {
			issue.Resolved = true
			resolved = true
		}
	}
	snapshot := e.snapshotLocked()
	e.mu.Unlock()

	if resolved {
		e.flush(snapshot)
	}
	return resolved
}

// Session returns the active session for a conversation, or nil.
func (e *Engine) Session(conversationID string) *WorkflowSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active[conversationID]
}

// Sessions returns every session (active and terminated) for a
// conversation, oldest first. Pass "" for all conversations.
func (e *Engine) Sessions(conversationID string) []*WorkflowSession {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*WorkflowSession
	for _, sess := range e.terminated {
		if conversationID == "" || sess.ConversationID == conversationID {
			out = append(out, sess)
		}
	}
	for _, sess := range e.active {
		if conversationID == "" || sess.ConversationID == conversationID {
			out = append(out, sess)
		}
	}
	return out
}

// Issues returns the global issue history, oldest first.
func (e *Engine) Issues() []*DiagnosticIssue {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*DiagnosticIssue, len(e.issueHistory))
	copy(out, e.issueHistory)
	return out
}

// ClearSession drops all state for one conversation.
func (e *Engine) ClearSession(conversationID string) {
	e.mu.Lock()
	if sess, ok := e.active[conversationID]; ok {
		for nodeID := range sess.NodeExecutions {
			delete(e.nodeTimers, timerKey(sess.ID, nodeID))
		}
		delete(e.sessionStartRSS, sess.ID)
		delete(e.active, conversationID)
	}
	kept := e.terminated[:0]
	for _, sess := range e.terminated {
		if sess.ConversationID != conversationID {
			kept = append(kept, sess)
		}
	}
	e.terminated = kept
	e.auditor.clear(conversationID)
	snapshot := e.snapshotLocked()
	e.mu.Unlock()

	e.flush(snapshot)
}

// ClearAll drops every session, comparison, and issue.
func (e *Engine) ClearAll() {
	e.mu.Lock()
	e.active = make(map[string]*WorkflowSession)
	e.terminated = nil
	e.nodeTimers = make(map[string]time.Time)
	e.issueHistory = nil
	e.sessionStartRSS = make(map[string]uint64)
	e.auditor.clearAll()
	snapshot := e.snapshotLocked()
	e.mu.Unlock()

	e.flush(snapshot)
}

// raise records a new issue on the session and in the bounded global
// history. Callers hold the mutex.
func (e *Engine) raise(sess *WorkflowSession, issue *DiagnosticIssue) {
	issue.ID = uuid.New().String()
	if issue.Timestamp.IsZero() {
		issue.Timestamp = e.now()
	}
	issue.AutoDetected = true

	sess.DetectedIssues = append(sess.DetectedIssues, issue)
	e.issueHistory = append(e.issueHistory, issue)
	if e.cfg.IssueHistorySize > 0 && len(e.issueHistory) > e.cfg.IssueHistorySize {
		e.issueHistory = e.issueHistory[len(e.issueHistory)-e.cfg.IssueHistorySize:]
	}

	e.logger.Warn("diagnostic issue detected",
		"type", string(issue.Type), "severity", string(issue.Severity),
		"session_id", sess.ID, "node_id", issue.NodeID, "message", issue.Message)
}

func timerKey(sessionID, nodeID string) string {
	return sessionID + "\x00" + nodeID
}

func errorMessage(ev *chatapi.WorkflowEvent) string {
	var payload struct {
		Message string `json:"message"`
	}
	if len(ev.Payload) > 0 {
		if err := json.Unmarshal(ev.Payload, &payload); err == nil && payload.Message != "" {
			return payload.Message
		}
	}
	return "workflow error"
}
