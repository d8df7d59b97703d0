package diagnostics

import (
	"fmt"

	"github.com/flowscope/flowscope/src/chatapi"
)

// detect re-evaluates the anomaly rules after one event has been applied.
// Rules run incrementally on each event rather than via a background sweep,
// which means a session that goes silent forever raises nothing; that is an
// accepted limitation. Callers hold the mutex.
func (e *Engine) detect(sess *WorkflowSession, ev *chatapi.WorkflowEvent) {
	if ev.Kind == chatapi.EventNodeStarted && ev.NodeID != "" {
		key := timerKey(sess.ID, ev.NodeID)
		if started, ok := e.nodeTimers[key]; ok && e.cfg.DetectStuckNodes {
			// A repeated start without an intervening completion: the node
			// has been running since the previous start.
			if ev.Timestamp.Sub(started) > e.cfg.MaxEventInterval && !e.hasIssue(sess, IssueStuckNode, ev.NodeID) {
				e.raise(sess, &DiagnosticIssue{
					Type:      IssueStuckNode,
					Severity:  SeverityHigh,
					NodeID:    ev.NodeID,
					Timestamp: ev.Timestamp,
					Message: fmt.Sprintf("node %q has been running for %v without completing",
						nodeLabel(sess, ev.NodeID), ev.Timestamp.Sub(started)),
					Details: map[string]any{
						"node_id":      ev.NodeID,
						"running_for":  ev.Timestamp.Sub(started).String(),
						"max_interval": e.cfg.MaxEventInterval.String(),
					},
				})
			}
		}
		e.nodeTimers[key] = ev.Timestamp
	}

	if e.cfg.DetectInfiniteLoops && ev.NodeID != "" {
		if exec, ok := sess.NodeExecutions[ev.NodeID]; ok &&
			exec.ExecutionCount > e.cfg.MaxNodeExecutions &&
			!e.hasIssue(sess, IssueInfiniteLoop, ev.NodeID) {
			e.raise(sess, &DiagnosticIssue{
				Type:      IssueInfiniteLoop,
				Severity:  SeverityCritical,
				NodeID:    ev.NodeID,
				Timestamp: ev.Timestamp,
				Message: fmt.Sprintf("node %q executed %d times, exceeding the budget of %d",
					nodeLabel(sess, ev.NodeID), exec.ExecutionCount, e.cfg.MaxNodeExecutions),
				Details: map[string]any{
					"node_id":         ev.NodeID,
					"execution_count": exec.ExecutionCount,
					"max_executions":  e.cfg.MaxNodeExecutions,
				},
			})
		}
	}

	if e.cfg.DetectTimeouts && sess.Status == SessionActive {
		// Business-level staleness over the whole session, judged against
		// event timestamps; independent of transport timeouts.
		elapsed := ev.Timestamp.Sub(sess.StartTime)
		if elapsed > e.cfg.MaxSessionDuration && !e.hasIssue(sess, IssueTimeout, "") {
			e.raise(sess, &DiagnosticIssue{
				Type:      IssueTimeout,
				Severity:  SeverityHigh,
				Timestamp: ev.Timestamp,
				Message: fmt.Sprintf("session still active after %v (limit %v)",
					elapsed, e.cfg.MaxSessionDuration),
				Details: map[string]any{
					"elapsed":      elapsed.String(),
					"max_duration": e.cfg.MaxSessionDuration.String(),
				},
			})
		}
	}

	e.checkMemory(sess, ev)
}

// hasIssue reports whether the session already carries an unresolved issue
// of the given type for the node. Keeps a repeating condition from flooding
// the history.
func (e *Engine) hasIssue(sess *WorkflowSession, typ IssueType, nodeID string) bool {
	for _, issue := range sess.DetectedIssues {
		if issue.Type == typ && issue.NodeID == nodeID && !issue.Resolved {
			return true
		}
	}
	return false
}

func nodeLabel(sess *WorkflowSession, nodeID string) string {
	if exec, ok := sess.NodeExecutions[nodeID]; ok && exec.NodeName != "" {
		return exec.NodeName
	}
	return nodeID
}
