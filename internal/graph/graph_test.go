package graph

import (
	"testing"

	"github.com/rendis/stepflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// diamond: 1 -> 2 -(true)-> 3 -> 5 -> 6
//                 -(false)-> 4 -> 5
func diamond() *schema.WorkflowRevision {
	return &schema.WorkflowRevision{
		ID:          "rev-1",
		StartStepNo: 1,
		Steps: []schema.WorkflowStep{
			{StepNo: 1, StepType: "set"},
			{StepNo: 2, StepType: "condition"},
			{StepNo: 3, StepType: "add"},
			{StepNo: 4, StepType: "add"},
			{StepNo: 5, StepType: "log"},
			{StepNo: 6, StepType: "end"},
		},
		Links: []schema.WorkflowLink{
			schema.Link(1, 2),
			schema.ConditionalLink(2, 3, "true"),
			schema.ConditionalLink(2, 4, "false"),
			schema.Link(3, 5),
			schema.Link(4, 5),
			schema.Link(5, 6),
		},
	}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, code), "got %v", err)
}

func TestBuild_Indexes(t *testing.T) {
	g, err := Build(diamond())
	require.NoError(t, err)

	assert.Equal(t, 1, g.Start)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, g.StepNos())
	assert.Len(t, g.Outbound(2), 2)
	assert.ElementsMatch(t, []int{3, 4}, g.Inbound(5))

	step, ok := g.Step(3)
	require.True(t, ok)
	assert.Equal(t, "add", step.StepType)

	_, ok = g.Step(99)
	assert.False(t, ok)
}

func TestBuild_Malformed(t *testing.T) {
	_, err := Build(nil)
	requireCode(t, err, schema.ErrCodeMalformedGraph)

	_, err = Build(&schema.WorkflowRevision{StartStepNo: 1})
	requireCode(t, err, schema.ErrCodeMalformedGraph)

	rev := diamond()
	rev.StartStepNo = 42
	_, err = Build(rev)
	requireCode(t, err, schema.ErrCodeMalformedGraph)

	rev = diamond()
	rev.Steps = append(rev.Steps, schema.WorkflowStep{StepNo: 3, StepType: "dup"})
	_, err = Build(rev)
	requireCode(t, err, schema.ErrCodeMalformedGraph)

	rev = diamond()
	rev.Links = append(rev.Links, schema.Link(6, 7))
	_, err = Build(rev)
	requireCode(t, err, schema.ErrCodeMalformedGraph)

	rev = diamond()
	rev.Steps = append(rev.Steps, schema.WorkflowStep{StepNo: 0, StepType: "zero"})
	_, err = Build(rev)
	requireCode(t, err, schema.ErrCodeMalformedGraph)
	assert.Contains(t, err.Error(), "step number 0 must be positive")
}

func TestNext_ByLinkMode(t *testing.T) {
	g, err := Build(diamond())
	require.NoError(t, err)

	next, ok, err := g.Next(1, schema.LinkModeOne, "anything")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, next)

	next, ok, err = g.Next(2, schema.LinkModeTwo, "false")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, next)

	// No matching condition ends normally.
	_, ok, err = g.Next(2, schema.LinkModeTwo, "maybe")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = g.Next(6, schema.LinkModeZero, "")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = g.Next(6, schema.LinkModeOne, "")
	requireCode(t, err, schema.ErrCodeMalformedGraph)
}

func TestNext_Container(t *testing.T) {
	g, err := Build(diamond())
	require.NoError(t, err)

	next, ok, err := g.Next(5, schema.LinkModeContainer, "ignored")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 6, next)

	_, ok, err = g.Next(6, schema.LinkModeContainer, "")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = g.Next(2, schema.LinkModeContainer, "")
	requireCode(t, err, schema.ErrCodeMalformedGraph)
}

func TestReachable(t *testing.T) {
	rev := diamond()
	rev.Steps = append(rev.Steps, schema.WorkflowStep{StepNo: 7, StepType: "log"})
	g, err := Build(rev)
	require.NoError(t, err)

	reach := g.Reachable()
	assert.Len(t, reach, 6)
	assert.False(t, reach[7])
}
