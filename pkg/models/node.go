package models

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Built-in node types.
const (
	NodeTypeStart           = "tidewire.start"
	NodeTypeTriggerWebhook  = "tidewire.trigger.webhook"
	NodeTypeTriggerSchedule = "tidewire.trigger.schedule"
	NodeTypeTriggerKafka    = "tidewire.trigger.kafka"
	NodeTypeTriggerQueue    = "tidewire.trigger.queue"

	triggerTypePrefix = "tidewire.trigger."
)

// WorkflowNode is a typed node configuration inside a workflow graph.
type WorkflowNode struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"                  validate:"required,min=1"`
	Type        string                   `json:"type"                  validate:"required"`
	TypeVersion int                      `json:"type_version"`
	Position    [2]int                   `json:"position"`
	Parameters  map[string]any           `json:"parameters"`
	Credentials map[string]CredentialRef `json:"credentials,omitempty"`
	Disabled    bool                     `json:"disabled,omitempty"`
}

// CredentialRef points a node at a stored credential. Legacy payloads carry
// only the name; repaired references carry the ID as well.
type CredentialRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// UnmarshalJSON accepts the legacy form where the reference is the bare
// credential name.
func (c *CredentialRef) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*c = CredentialRef{Name: name}

		return nil
	}

	type plain CredentialRef

	var ref plain
	if err := json.Unmarshal(data, &ref); err != nil {
		return err
	}

	*c = CredentialRef(ref)

	return nil
}

// IsTrigger reports whether the node wires the workflow to an external event source.
func (n *WorkflowNode) IsTrigger() bool {
	return strings.HasPrefix(n.Type, triggerTypePrefix)
}

// TriggerType returns the trigger kind ("webhook", "schedule", ...) or "" for non-trigger nodes.
func (n *WorkflowNode) TriggerType() string {
	if !n.IsTrigger() {
		return ""
	}

	return strings.TrimPrefix(n.Type, triggerTypePrefix)
}

// Clone returns a copy of the node with its own parameter and credential maps.
func (n *WorkflowNode) Clone() *WorkflowNode {
	clone := *n
	clone.Parameters = copyMap(n.Parameters)

	if n.Credentials != nil {
		clone.Credentials = make(map[string]CredentialRef, len(n.Credentials))
		for k, v := range n.Credentials {
			clone.Credentials[k] = v
		}
	}

	return &clone
}

// HasStartNode reports whether the workflow contains a start node.
func HasStartNode(workflow *Workflow) bool {
	for _, node := range workflow.Nodes {
		if node.Type == NodeTypeStart {
			return true
		}
	}

	return false
}

// NewStartNode builds the default start node appended to workflows that lack one.
func NewStartNode() *WorkflowNode {
	return &WorkflowNode{
		ID:          uuid.NewString(),
		Name:        "Start",
		Type:        NodeTypeStart,
		TypeVersion: 1,
		Position:    [2]int{240, 300},
		Parameters:  map[string]any{},
	}
}

// EnsureStartNode appends a start node when the workflow has none.
// It reports whether a node was added.
func EnsureStartNode(workflow *Workflow) bool {
	if HasStartNode(workflow) {
		return false
	}

	workflow.Nodes = append(workflow.Nodes, NewStartNode())

	return true
}
