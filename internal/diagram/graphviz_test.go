package diagram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/pkg/schema"
)

func assertPNG(t *testing.T, png []byte) {
	t.Helper()
	require.True(t, len(png) > 8, "PNG should be larger than header")
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestRenderImage(t *testing.T) {
	model, err := Build("Branching", branchRevision(), testTypes(t), nil)
	require.NoError(t, err)

	png, err := RenderImage(context.Background(), model)
	require.NoError(t, err)
	assertPNG(t, png)
}

func TestRenderImage_Overlay(t *testing.T) {
	runLog := &schema.WorkflowRunLog{
		Steps: []*schema.WorkflowRunLogStep{{StepNo: 1}, {StepNo: 2}},
		Error: schema.NewError(schema.ErrCodeStepFailed, "boom").WithStep(2),
	}
	model, err := Build("", branchRevision(), testTypes(t), runLog)
	require.NoError(t, err)

	png, err := RenderImage(context.Background(), model)
	require.NoError(t, err)
	assertPNG(t, png)
}
