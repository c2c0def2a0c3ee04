package main

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/internal/registry"
)

func TestNewApp_SharesDefaultRegistry(t *testing.T) {
	t.Setenv("STEPFLOW_DB_PATH", memoryDB)
	cfg, err := loadConfig(newViper(), "")
	require.NoError(t, err)

	first, err := newApp(context.Background(), cfg, io.Discard)
	require.NoError(t, err)
	defer first.Close()
	second, err := newApp(context.Background(), cfg, io.Discard)
	require.NoError(t, err, "built-ins register once per process")
	defer second.Close()

	assert.Same(t, registry.Default(), first.registry)
	assert.Same(t, first.registry, second.registry)
	stepTypes, workflowTypes := first.registry.Count()
	assert.Equal(t, 10, stepTypes)
	assert.Equal(t, 2, workflowTypes)
}
