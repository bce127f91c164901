// Package models defines the core domain models for workflow lifecycle management.
package models

import "time"

// Workflow is a persisted graph of nodes plus the active flag that mirrors
// whether its triggers are registered in the live runtime.
type Workflow struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"                   validate:"required,min=1,max=128"`
	Active      bool            `json:"active"`
	Nodes       []*WorkflowNode `json:"nodes"                  validate:"dive,required"`
	Connections []*Connection   `json:"connections"            validate:"dive,required"`
	Settings    map[string]any  `json:"settings,omitempty"`
	StaticData  map[string]any  `json:"static_data,omitempty"`
	Tags        []*Tag          `json:"tags,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Tag labels workflows for grouping in listings.
type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Connection links the output of one node to the input of another.
type Connection struct {
	SourceNode  string `json:"source_node"  validate:"required"`
	SourceIndex int    `json:"source_index"`
	TargetNode  string `json:"target_node"  validate:"required"`
	TargetIndex int    `json:"target_index"`
}

// TriggerNodes returns the enabled nodes whose type is a registered trigger type.
func (w *Workflow) TriggerNodes() []*WorkflowNode {
	nodes := make([]*WorkflowNode, 0)

	for _, node := range w.Nodes {
		if node.Disabled || !node.IsTrigger() {
			continue
		}

		nodes = append(nodes, node)
	}

	return nodes
}

// Clone returns a deep copy of the workflow graph. Parameter maps are copied
// one level deep, which is enough for callers that only replace values.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}

	clone := *w

	clone.Nodes = make([]*WorkflowNode, 0, len(w.Nodes))
	for _, node := range w.Nodes {
		if node == nil {
			continue
		}

		clone.Nodes = append(clone.Nodes, node.Clone())
	}

	clone.Connections = make([]*Connection, 0, len(w.Connections))
	for _, connection := range w.Connections {
		if connection == nil {
			continue
		}

		c := *connection
		clone.Connections = append(clone.Connections, &c)
	}

	clone.Tags = make([]*Tag, 0, len(w.Tags))
	for _, tag := range w.Tags {
		t := *tag
		clone.Tags = append(clone.Tags, &t)
	}

	clone.Settings = copyMap(w.Settings)
	clone.StaticData = copyMap(w.StaticData)

	return &clone
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}

	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}

	return out
}
