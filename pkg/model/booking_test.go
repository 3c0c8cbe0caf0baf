package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to string }{
		{StatusPending, StatusApproved},
		{StatusPending, StatusDeclined},
		{StatusPending, StatusCancelled},
		{StatusApproved, StatusCompleted},
		{StatusApproved, StatusCancelled},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr.from, tr.to), "%s -> %s should be allowed", tr.from, tr.to)
	}

	denied := []struct{ from, to string }{
		{StatusPending, StatusCompleted},
		{StatusApproved, StatusDeclined},
		{StatusApproved, StatusPending},
		{StatusDeclined, StatusApproved},
		{StatusCancelled, StatusCompleted},
		{StatusCompleted, StatusCancelled},
		{StatusCompleted, StatusPending},
	}
	for _, tr := range denied {
		assert.False(t, CanTransition(tr.from, tr.to), "%s -> %s should be denied", tr.from, tr.to)
	}
}

func TestIsTerminalStatus(t *testing.T) {
	assert.False(t, IsTerminalStatus(StatusPending))
	assert.False(t, IsTerminalStatus(StatusApproved))
	assert.True(t, IsTerminalStatus(StatusDeclined))
	assert.True(t, IsTerminalStatus(StatusCancelled))
	assert.True(t, IsTerminalStatus(StatusCompleted))
}

func TestPoolCounters_Consistent(t *testing.T) {
	ok := PoolCounters{Total: 10, Available: 4, Occupied: 3, Reserved: 2, Maintenance: 1}
	assert.True(t, ok.Consistent())

	drifted := PoolCounters{Total: 10, Available: 5, Occupied: 3, Reserved: 2, Maintenance: 1}
	assert.False(t, drifted.Consistent())

	negative := PoolCounters{Total: 1, Available: -1, Occupied: 2}
	assert.False(t, negative.Consistent())
}

func TestIsValidResourceType(t *testing.T) {
	assert.True(t, IsValidResourceType(ResourceBeds))
	assert.True(t, IsValidResourceType(ResourceICU))
	assert.True(t, IsValidResourceType(ResourceOperationTheatres))
	assert.False(t, IsValidResourceType("ventilators"))
	assert.False(t, IsValidResourceType(""))
}
