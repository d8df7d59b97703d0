package diagnostics

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ChangeKind classifies how one parameter key changed between requests.
type ChangeKind string

const (
	ChangeAdded     ChangeKind = "added"
	ChangeRemoved   ChangeKind = "removed"
	ChangeModified  ChangeKind = "modified"
	ChangeUnchanged ChangeKind = "unchanged"
)

// ParameterChange describes one key in a comparison.
type ParameterChange struct {
	Key      string     `json:"key"`
	Kind     ChangeKind `json:"kind"`
	OldValue any        `json:"old_value,omitempty"`
	NewValue any        `json:"new_value,omitempty"`
	// ValueDiff is a textual patch between the JSON encodings of the old
	// and new values, set for modified keys.
	ValueDiff string `json:"value_diff,omitempty"`
}

// ParameterComparison is the immutable result of diffing one outgoing
// request's parameters against the previous snapshot for the conversation.
type ParameterComparison struct {
	ConversationID string            `json:"conversation_id"`
	MessageIndex   int               `json:"message_index"`
	Timestamp      time.Time         `json:"timestamp"`
	Parameters     map[string]any    `json:"parameters"`
	Changes        []ParameterChange `json:"changes"`
	IsFirstMessage bool              `json:"is_first_message"`
}

// ParameterAuditor diffs successive request-parameter snapshots per
// conversation to surface silent configuration drift. Pure over its inputs
// plus the stored history; results go into a bounded ring buffer.
type ParameterAuditor struct {
	limit   int
	history []*ParameterComparison
	differ  *diffmatchpatch.DiffMatchPatch
}

func newParameterAuditor(limit int) *ParameterAuditor {
	return &ParameterAuditor{
		limit:  limit,
		differ: diffmatchpatch.New(),
	}
}

// compare builds the comparison for one outgoing request. The previous
// snapshot is the stored comparison with the highest message index for the
// same conversation.
func (a *ParameterAuditor) compare(conversationID string, params map[string]any, messageIndex int, now time.Time) *ParameterComparison {
	cmp := &ParameterComparison{
		ConversationID: conversationID,
		MessageIndex:   messageIndex,
		Timestamp:      now,
		Parameters:     params,
	}

	prev := a.latest(conversationID)
	if prev == nil {
		cmp.IsFirstMessage = true
	} else {
		cmp.Changes = a.diff(prev.Parameters, params)
	}

	a.history = append(a.history, cmp)
	if a.limit > 0 && len(a.history) > a.limit {
		a.history = a.history[len(a.history)-a.limit:]
	}
	return cmp
}

// diff compares key sets. Values are compared structurally through their
// JSON encodings, not by reference.
func (a *ParameterAuditor) diff(old, new map[string]any) []ParameterChange {
	keys := make(map[string]struct{}, len(old)+len(new))
	for k := range old {
		keys[k] = struct{}{}
	}
	for k := range new {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	changes := make([]ParameterChange, 0, len(sorted))
	for _, k := range sorted {
		oldVal, inOld := old[k]
		newVal, inNew := new[k]
		switch {
		case !inOld:
			changes = append(changes, ParameterChange{Key: k, Kind: ChangeAdded, NewValue: newVal})
		case !inNew:
			changes = append(changes, ParameterChange{Key: k, Kind: ChangeRemoved, OldValue: oldVal})
		default:
			oldJSON := encodeValue(oldVal)
			newJSON := encodeValue(newVal)
			if oldJSON == newJSON {
				changes = append(changes, ParameterChange{Key: k, Kind: ChangeUnchanged, NewValue: newVal})
			} else {
				patches := a.differ.PatchMake(oldJSON, newJSON)
				changes = append(changes, ParameterChange{
					Key:       k,
					Kind:      ChangeModified,
					OldValue:  oldVal,
					NewValue:  newVal,
					ValueDiff: a.differ.PatchToText(patches),
				})
			}
		}
	}
	return changes
}

// latest returns the stored comparison with the highest message index for
// the conversation, or nil.
func (a *ParameterAuditor) latest(conversationID string) *ParameterComparison {
	var best *ParameterComparison
	for _, cmp := range a.history {
		if cmp.ConversationID != conversationID {
			continue
		}
		if best == nil || cmp.MessageIndex > best.MessageIndex {
			best = cmp
		}
	}
	return best
}

// forConversation returns all stored comparisons for a conversation, in
// insertion order.
func (a *ParameterAuditor) forConversation(conversationID string) []*ParameterComparison {
	var out []*ParameterComparison
	for _, cmp := range a.history {
		if cmp.ConversationID == conversationID {
			out = append(out, cmp)
		}
	}
	return out
}

func (a *ParameterAuditor) clear(conversationID string) {
	kept := a.history[:0]
	for _, cmp := range a.history {
		if cmp.ConversationID != conversationID {
			kept = append(kept, cmp)
		}
	}
	a.history = kept
}

func (a *ParameterAuditor) clearAll() {
	a.history = nil
}

func encodeValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
