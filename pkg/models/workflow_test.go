package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflow_CloneSkipsNullEntries(t *testing.T) {
	workflow := &Workflow{
		Name:        "orders",
		Nodes:       []*WorkflowNode{nil, {Name: "Incoming", Type: NodeTypeTriggerWebhook, Parameters: map[string]any{"path": "/orders"}}},
		Connections: []*Connection{nil, {SourceNode: "Incoming", TargetNode: "Notify"}},
	}

	var clone *Workflow

	require.NotPanics(t, func() { clone = workflow.Clone() })
	require.Len(t, clone.Nodes, 1)
	require.Len(t, clone.Connections, 1)

	clone.Nodes[0].Parameters["path"] = "/changed"
	assert.Equal(t, "/orders", workflow.Nodes[1].Parameters["path"])
}
