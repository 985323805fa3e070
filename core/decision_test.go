package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecisionKeySortsCapabilities(t *testing.T) {
	a := NewTask("one")
	a.Type = "analysis"
	a.RequiredCapabilities = []string{"web_search", "file_operations"}

	b := NewTask("two")
	b.Type = "analysis"
	b.RequiredCapabilities = []string{"file_operations", "web_search"}

	assert.Equal(t, DecisionKey(a), DecisionKey(b))

	// Sorting must not mutate the task's declared order.
	assert.Equal(t, []string{"web_search", "file_operations"}, a.RequiredCapabilities)
}

func TestDecisionKeyDistinguishesPriority(t *testing.T) {
	a := NewTask("one")
	b := NewTask("two")
	b.Priority = PriorityUrgent
	assert.NotEqual(t, DecisionKey(a), DecisionKey(b))
}

func TestCapabilitySuperset(t *testing.T) {
	declared := []string{"file_operations", "web_search", "code_analysis"}

	assert.True(t, CapabilitySuperset(declared, nil))
	assert.True(t, CapabilitySuperset(declared, []string{"web_search"}))
	assert.True(t, CapabilitySuperset(declared, []string{"file_operations", "code_analysis"}))
	assert.False(t, CapabilitySuperset(declared, []string{"image_generation"}))
	assert.False(t, CapabilitySuperset(nil, []string{"web_search"}))
}

func TestCapabilityOverlap(t *testing.T) {
	declared := []string{"a", "b"}

	assert.Equal(t, 1.0, CapabilityOverlap(declared, nil))
	assert.Equal(t, 1.0, CapabilityOverlap(declared, []string{"a", "b"}))
	assert.Equal(t, 0.5, CapabilityOverlap(declared, []string{"a", "c"}))
	assert.Equal(t, 0.0, CapabilityOverlap(declared, []string{"c", "d"}))
}

func TestTargetCandidateHasCapabilities(t *testing.T) {
	c := TargetCandidate{
		Name:         "files",
		Type:         TargetMCP,
		Capabilities: []string{"file_operations"},
	}
	assert.True(t, c.HasCapabilities([]string{"file_operations"}))
	assert.False(t, c.HasCapabilities([]string{"web_search"}))
}
