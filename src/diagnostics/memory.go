package diagnostics

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/flowscope/flowscope/src/chatapi"
)

// MemorySampler reports the current resident set size of the process.
type MemorySampler interface {
	RSS() (uint64, error)
}

// processSampler samples the running process through gopsutil.
type processSampler struct {
	proc *process.Process
}

// NewProcessSampler creates a sampler for the current process.
func NewProcessSampler() (MemorySampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to open process handle: %w", err)
	}
	return &processSampler{proc: proc}, nil
}

func (s *processSampler) RSS() (uint64, error) {
	info, err := s.proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}

// checkMemory samples process memory every few events and raises a
// memory_leak issue when RSS has grown past the threshold since the session
// started. Callers hold the mutex.
func (e *Engine) checkMemory(sess *WorkflowSession, ev *chatapi.WorkflowEvent) {
	if !e.cfg.DetectMemoryLeaks || e.sampler == nil || sess.Status != SessionActive {
		return
	}
	every := e.cfg.MemorySampleEvery
	if every <= 0 {
		every = 1
	}
	if len(sess.Events)%every != 0 {
		return
	}
	start, ok := e.sessionStartRSS[sess.ID]
	if !ok {
		return
	}

	rss, err := e.sampler.RSS()
	if err != nil {
		e.logger.Debug("memory sample failed", "error", err)
		return
	}
	if rss <= start || rss-start < e.cfg.MemoryGrowthThreshold {
		return
	}
	if e.hasIssue(sess, IssueMemoryLeak, "") {
		return
	}
	e.raise(sess, &DiagnosticIssue{
		Type:      IssueMemoryLeak,
		Severity:  SeverityMedium,
		Timestamp: ev.Timestamp,
		Message: fmt.Sprintf("process memory grew %d bytes since the session started",
			rss-start),
		Details: map[string]any{
			"start_rss":        start,
			"current_rss":      rss,
			"growth_threshold": e.cfg.MemoryGrowthThreshold,
		},
	})
}
