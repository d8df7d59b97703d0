package diagnostics

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/afero"

	"github.com/flowscope/flowscope/src/chatapi"
)

// Report is a self-contained JSON document describing one conversation's
// workflow behavior.
type Report struct {
	ConversationID  string                   `json:"conversation_id"`
	SessionID       string                   `json:"session_id"`
	GeneratedAt     time.Time                `json:"generated_at"`
	Summary         ReportSummary            `json:"summary"`
	Timeline        []*chatapi.WorkflowEvent `json:"timeline"`
	Nodes           []*NodeExecution         `json:"nodes"`
	Parameters      []*ParameterComparison   `json:"parameter_changes"`
	Issues          []*DiagnosticIssue       `json:"issues"`
	Recommendations []string                 `json:"recommendations"`
}

// ReportSummary carries the headline counters.
type ReportSummary struct {
	Status          SessionStatus `json:"status"`
	EventCount      int           `json:"event_count"`
	UniqueNodeCount int           `json:"unique_node_count"`
	// ElapsedTime is in milliseconds, from session start to its end or to
	// the last observed event.
	ElapsedTime  float64 `json:"elapsed_time"`
	IssueCount   int     `json:"issue_count"`
	MessageCount int     `json:"message_count"`
}

// Fixed recommendation strings, keyed by which issue types are present.
// Derivation is mechanical: the same issue type always yields the same
// strings.
var recommendationsByType = map[IssueType][]string{
	IssueInfiniteLoop: {
		"Add an exit condition or iteration guard to the looping node.",
		"Review the workflow's branching logic so repeated node entries are bounded.",
	},
	IssueStuckNode: {
		"Check the stuck node's upstream dependencies and external calls for hangs.",
		"Set a per-node execution timeout on the backend workflow.",
	},
	IssueTimeout: {
		"Break long workflows into smaller runs or raise the session duration budget.",
	},
	IssueParameterAnomaly: {
		"Pin request parameters explicitly per conversation to avoid silent drift.",
	},
	IssueMemoryLeak: {
		"Profile the process heap; long sessions should not accumulate memory.",
	},
}

// GenerateReport exports the analysis for a conversation's most recent
// session.
func (e *Engine) GenerateReport(conversationID string) (*Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.active[conversationID]
	if sess == nil {
		for i := len(e.terminated) - 1; i >= 0; i-- {
			if e.terminated[i].ConversationID == conversationID {
				sess = e.terminated[i]
				break
			}
		}
	}
	if sess == nil {
		return nil, fmt.Errorf("no workflow session recorded for conversation %s", conversationID)
	}

	nodes := make([]*NodeExecution, 0, len(sess.NodeExecutions))
	for _, exec := range sess.NodeExecutions {
		nodes = append(nodes, exec)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })

	report := &Report{
		ConversationID:  conversationID,
		SessionID:       sess.ID,
		GeneratedAt:     e.now(),
		Timeline:        sess.Events,
		Nodes:           nodes,
		Parameters:      e.auditor.forConversation(conversationID),
		Issues:          sess.DetectedIssues,
		Recommendations: recommend(sess.DetectedIssues),
		Summary: ReportSummary{
			Status:          sess.Status,
			EventCount:      len(sess.Events),
			UniqueNodeCount: len(sess.NodeExecutions),
			ElapsedTime:     elapsedMillis(sess),
			IssueCount:      len(sess.DetectedIssues),
			MessageCount:    sess.MessageCount,
		},
	}
	return report, nil
}

// WriteReport serializes the report as indented JSON to path.
func WriteReport(fs afero.Fs, path string, report *Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// recommend maps the set of issue types present to their fixed
// recommendation strings, deduplicated, in a stable order.
func recommend(issues []*DiagnosticIssue) []string {
	seen := make(map[IssueType]bool)
	var out []string
	for _, typ := range []IssueType{IssueInfiniteLoop, IssueStuckNode, IssueTimeout, IssueParameterAnomaly, IssueMemoryLeak} {
		for _, issue := range issues {
			if issue.Type == typ && !seen[typ] {
				seen[typ] = true
				out = append(out, recommendationsByType[typ]...)
			}
		}
	}
	return out
}

func elapsedMillis(sess *WorkflowSession) float64 {
	end := sess.StartTime
	if sess.EndTime != nil {
		end = *sess.EndTime
	} else if n := len(sess.Events); n > 0 {
		end = sess.Events[n-1].Timestamp
	}
	return float64(end.Sub(sess.StartTime)) / float64(time.Millisecond)
}
