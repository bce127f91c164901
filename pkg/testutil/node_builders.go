// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/google/uuid"
	"github.com/tidewire/tidewire/pkg/models"
)

// CreateTestNode creates a test WorkflowNode with default values that can be overridden.
func CreateTestNode(overrides ...func(*models.WorkflowNode)) *models.WorkflowNode {
	node := &models.WorkflowNode{
		ID:          uuid.New().String(),
		Name:        "Test Node",
		Type:        "tidewire.set",
		TypeVersion: 1,
		Position:    [2]int{100, 200},
		Parameters:  map[string]any{},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithWebhookTrigger configures the node as a webhook trigger listening on
// POST path.
func WithWebhookTrigger(path string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Type = models.NodeTypeTriggerWebhook
		n.Parameters = map[string]any{
			"path":   path,
			"method": "POST",
		}
	}
}

// WithScheduleTrigger configures the node as a schedule trigger.
func WithScheduleTrigger(cron string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Type = models.NodeTypeTriggerSchedule
		n.Parameters = map[string]any{"cron": cron}
	}
}

// WithParameters sets the node parameters.
func WithParameters(parameters map[string]any) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Parameters = parameters
	}
}

// WithCredential references a credential by name, the way older exports did.
func WithCredential(credentialType, name string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		if n.Credentials == nil {
			n.Credentials = make(map[string]models.CredentialRef)
		}

		n.Credentials[credentialType] = models.CredentialRef{Name: name}
	}
}

// WithName sets the node name.
func WithName(name string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Name = name
	}
}

// WithType sets the node type.
func WithType(nodeType string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Type = nodeType
	}
}

// WithDisabled marks the node disabled.
func WithDisabled() func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Disabled = true
	}
}

// WithoutID clears the node ID so the service assigns one.
func WithoutID() func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.ID = ""
	}
}

// CreateTestWorkflow creates an unsaved workflow whose nodes are chained in order.
func CreateTestWorkflow(name string, nodes ...*models.WorkflowNode) *models.Workflow {
	workflow := &models.Workflow{
		Name:        name,
		Nodes:       nodes,
		Connections: []*models.Connection{},
	}

	for i := 1; i < len(nodes); i++ {
		workflow.Connections = append(workflow.Connections, CreateTestConnection(nodes[i-1].Name, nodes[i].Name))
	}

	return workflow
}

// CreateWebhookWorkflow creates a workflow triggered by POST requests on path
// that forwards to a Slack node.
func CreateWebhookWorkflow(name, path string) *models.Workflow {
	return CreateTestWorkflow(name,
		CreateTestNode(WithName("Incoming"), WithWebhookTrigger(path)),
		CreateTestNode(WithName("Notify"), WithType("tidewire.slack"), WithParameters(map[string]any{"channel": "#ops"})),
	)
}

// CreateManualWorkflow creates a workflow without trigger nodes.
func CreateManualWorkflow(name string) *models.Workflow {
	return CreateTestWorkflow(name, CreateTestNode(WithName("Transform")))
}

// CreateTestConnection creates a test connection between two nodes.
func CreateTestConnection(sourceNode, targetNode string) *models.Connection {
	return &models.Connection{
		SourceNode: sourceNode,
		TargetNode: targetNode,
	}
}
