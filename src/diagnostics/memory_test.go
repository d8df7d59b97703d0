package diagnostics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowscope/flowscope/src/chatapi"
)

type fakeSampler struct {
	rss uint64
}

func (s *fakeSampler) RSS() (uint64, error) {
	return s.rss, nil
}

func TestMemoryLeakDetection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DetectMemoryLeaks = true
	cfg.MemoryGrowthThreshold = 1024
	cfg.MemorySampleEvery = 1

	sampler := &fakeSampler{rss: 10_000}
	e := NewEngine(cfg, nil,
		WithClock(func() time.Time { return baseTime }),
		WithMemorySampler(sampler))

	e.RecordEvent(event("c1", chatapi.EventWorkflowStarted, baseTime))
	sampler.rss = 10_000 + 2048
	e.RecordEvent(event("c1", chatapi.EventMessage, baseTime.Add(time.Second)))

	var leak *DiagnosticIssue
	for _, issue := range e.Issues() {
		if issue.Type == IssueMemoryLeak {
			leak = issue
		}
	}
	require.NotNil(t, leak)
	assert.Equal(t, SeverityMedium, leak.Severity)
}

func TestMemoryLeakBelowThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DetectMemoryLeaks = true
	cfg.MemoryGrowthThreshold = 1024 * 1024
	cfg.MemorySampleEvery = 1

	sampler := &fakeSampler{rss: 10_000}
	e := NewEngine(cfg, nil, WithMemorySampler(sampler))

	e.RecordEvent(event("c1", chatapi.EventWorkflowStarted, baseTime))
	sampler.rss = 10_000 + 512
	e.RecordEvent(event("c1", chatapi.EventMessage, baseTime.Add(time.Second)))

	assert.Empty(t, e.Issues())
}

func TestMemoryLeakDisabledByDefault(t *testing.T) {
	sampler := &fakeSampler{rss: 10_000}
	e := NewEngine(DefaultConfig(), nil, WithMemorySampler(sampler))

	e.RecordEvent(event("c1", chatapi.EventWorkflowStarted, baseTime))
	sampler.rss = 1 << 40
	e.RecordEvent(event("c1", chatapi.EventMessage, baseTime.Add(time.Second)))

	assert.Empty(t, e.Issues())
}
