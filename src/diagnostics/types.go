// Package diagnostics ingests the workflow event stream and maintains
// per-session execution statistics, raising structured anomaly reports
// without operator intervention.
package diagnostics

import (
	"time"

	"github.com/flowscope/flowscope/src/chatapi"
)

// SessionStatus is the lifecycle state of a workflow session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionError     SessionStatus = "error"
)

// NodeStatus is the last observed state of a workflow node.
type NodeStatus string

const (
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeError     NodeStatus = "error"
)

// IssueType classifies a detected anomaly.
type IssueType string

const (
	IssueInfiniteLoop     IssueType = "infinite_loop"
	IssueStuckNode        IssueType = "stuck_node"
	IssueTimeout          IssueType = "timeout"
	IssueParameterAnomaly IssueType = "parameter_anomaly"
	IssueMemoryLeak       IssueType = "memory_leak"
)

// Severity grades an issue.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// NodeExecution aggregates execution statistics for one node within a
// session. Counters are monotonically non-decreasing for the session's
// lifetime.
type NodeExecution struct {
	NodeID         string `json:"node_id"`
	NodeName       string `json:"node_name,omitempty"`
	ExecutionCount int    `json:"execution_count"`
	// Execution times are in milliseconds.
	TotalExecutionTime   float64    `json:"total_execution_time"`
	AverageExecutionTime float64    `json:"average_execution_time"`
	LastExecuted         time.Time  `json:"last_executed"`
	Status               NodeStatus `json:"status"`
	Errors               []string   `json:"errors,omitempty"`
}

// WorkflowSession tracks one workflow run for a conversation. At most one
// session per conversation id is active at a time; a new workflow run after
// termination gets a fresh session object.
type WorkflowSession struct {
	ID             string                    `json:"id"`
	ConversationID string                    `json:"conversation_id"`
	StartTime      time.Time                 `json:"start_time"`
	EndTime        *time.Time                `json:"end_time,omitempty"`
	Status         SessionStatus             `json:"status"`
	Events         []*chatapi.WorkflowEvent  `json:"events"`
	NodeExecutions map[string]*NodeExecution `json:"node_executions"`
	Parameters     map[string]any            `json:"parameters,omitempty"`
	MessageCount   int                       `json:"message_count"`
	DetectedIssues []*DiagnosticIssue        `json:"detected_issues"`
}

// terminal reports whether the session has reached a terminal status.
func (s *WorkflowSession) terminal() bool {
	return s.Status == SessionCompleted || s.Status == SessionError
}

// node returns the lazily created execution record for nodeID.
func (s *WorkflowSession) node(nodeID, nodeName string) *NodeExecution {
	if exec, ok := s.NodeExecutions[nodeID]; ok {
		if exec.NodeName == "" {
			exec.NodeName = nodeName
		}
		return exec
	}
	exec := &NodeExecution{NodeID: nodeID, NodeName: nodeName}
	s.NodeExecutions[nodeID] = exec
	return exec
}

// DiagnosticIssue is a structured anomaly report. Issues are never thrown;
// they are data, surfaced through the report interface, and mutated only by
// an explicit operator resolve action.
type DiagnosticIssue struct {
	ID           string         `json:"id"`
	Type         IssueType      `json:"type"`
	Severity     Severity       `json:"severity"`
	Message      string         `json:"message"`
	Details      map[string]any `json:"details,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	NodeID       string         `json:"node_id,omitempty"`
	Resolved     bool           `json:"resolved"`
	AutoDetected bool           `json:"auto_detected"`
}
