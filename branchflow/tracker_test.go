package branchflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flowcanvas/scheduler"
)

func TestFlowTracker_Update(t *testing.T) {
	clock := scheduler.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	tr := NewFlowTracker(clock, nil)

	first := tr.Update("n1", FlowFlowing, map[string]any{"branchId": "b1"})
	assert.Equal(t, FlowState(""), first.From)

	clock.Advance(time.Second)
	second := tr.Update("n1", FlowIdle, nil)
	assert.Equal(t, FlowFlowing, second.From)

	state, ok := tr.State("n1")
	require.True(t, ok)
	assert.Equal(t, FlowIdle, state)

	_, ok = tr.State("n2")
	assert.False(t, ok)

	m, ok := tr.Metrics("n1")
	require.True(t, ok)
	assert.Equal(t, 2, m.TotalStateChanges)
	assert.Equal(t, 1, m.StateDistribution[FlowFlowing])
	assert.Equal(t, clock.Now(), m.LastStateChange)
}

func TestFlowTracker_HistoryLimits(t *testing.T) {
	tr := NewFlowTracker(nil, nil)
	for i := 0; i < 150; i++ {
		state := FlowFlowing
		if i%2 == 1 {
			state = FlowIdle
		}
		tr.Update("n1", state, nil)
	}

	assert.Len(t, tr.History("n1", 0), 10)
	assert.Len(t, tr.History("n1", 500), 100)

	last := tr.History("n1", 1)
	require.Len(t, last, 1)
	assert.Equal(t, FlowIdle, last[0].To)

	assert.Empty(t, tr.History("unknown", 5))
}

func TestFlowTracker_Listeners(t *testing.T) {
	tr := NewFlowTracker(nil, nil)

	var got []FlowTransition
	remove := tr.OnChange(func(ft FlowTransition) { got = append(got, ft) })
	tr.OnChange(func(FlowTransition) { panic("listener bug") })

	tr.Update("n1", FlowReceiving, nil)
	require.Len(t, got, 1)
	assert.Equal(t, "n1", got[0].NodeID)

	remove()
	tr.Update("n1", FlowIdle, nil)
	assert.Len(t, got, 1)
}

func TestFlowTracker_Clear(t *testing.T) {
	tr := NewFlowTracker(nil, nil)
	tr.Update("n1", FlowFlowing, nil)
	tr.Update("n2", FlowReceiving, nil)

	assert.Equal(t, TrackerSummary{TrackedNodes: 2, TotalStateChanges: 2}, tr.Summary())

	tr.ClearNode("n1")
	_, ok := tr.State("n1")
	assert.False(t, ok)
	assert.Equal(t, 1, tr.Summary().TrackedNodes)

	tr.ClearAll()
	assert.Equal(t, TrackerSummary{}, tr.Summary())
}
