//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/canopyai/canopy/knowledge"
)

// NodeType identifies a workflow node variant.
type NodeType string

// Node types.
const (
	NodeTypeStart             NodeType = "start"
	NodeTypeEnd               NodeType = "end"
	NodeTypeLLM               NodeType = "llm"
	NodeTypeTemplateTransform NodeType = "template_transform"
	NodeTypeDatasetRetrieval  NodeType = "dataset_retrieval"
	NodeTypeCode              NodeType = "code"
	NodeTypeTool              NodeType = "tool"
	NodeTypeHTTPRequest       NodeType = "http_request"
)

// Default generated output names per node type.
const (
	defaultLLMOutput       = "output"
	defaultTemplateOutput  = "output"
	defaultToolOutput      = "text"
	defaultRetrievalOutput = "combine_documents"
	defaultHTTPBodyOutput  = "text"
	defaultHTTPStatusOut   = "status_code"
)

// NodeData is the typed configuration of one workflow node.
type NodeData interface {
	Base() *BaseNodeData
	validate() error
}

// BaseNodeData carries the fields every node variant shares.
type BaseNodeData struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Type        NodeType          `json:"node_type"`
	Inputs      []*VariableEntity `json:"inputs"`
	Outputs     []*VariableEntity `json:"outputs"`
}

// Base returns the shared fields.
func (b *BaseNodeData) Base() *BaseNodeData { return b }

// validateCommon checks the shared fields and every declared variable.
func (b *BaseNodeData) validateCommon() error {
	if b.ID == "" {
		return fmt.Errorf("node id cannot be empty")
	}
	if b.Title == "" {
		return fmt.Errorf("node %s: title cannot be empty", b.ID)
	}
	for _, v := range b.Inputs {
		if err := v.validate(); err != nil {
			return fmt.Errorf("node %s: input: %w", b.ID, err)
		}
	}
	for _, v := range b.Outputs {
		if err := v.validate(); err != nil {
			return fmt.Errorf("node %s: output: %w", b.ID, err)
		}
	}
	return nil
}

// ensureOutputs installs generated default outputs when none are declared.
func (b *BaseNodeData) ensureOutputs(names ...string) {
	if len(b.Outputs) > 0 {
		return
	}
	for _, name := range names {
		b.Outputs = append(b.Outputs, &VariableEntity{
			Name:  name,
			Type:  VariableTypeString,
			Value: VariableValue{Kind: ValueGenerated},
		})
	}
}

// output returns the declared output with the given name, if any.
func (b *BaseNodeData) output(name string) *VariableEntity {
	for _, v := range b.Outputs {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// StartNodeData is the single entry node; it maps the run's raw inputs onto
// its declared inputs.
type StartNodeData struct {
	BaseNodeData
}

func (d *StartNodeData) validate() error {
	return d.validateCommon()
}

// EndNodeData is the single exit node; its outputs become the run's final
// outputs.
type EndNodeData struct {
	BaseNodeData
}

func (d *EndNodeData) validate() error {
	return d.validateCommon()
}

// LLMNodeData renders a prompt template from its inputs and calls the model.
type LLMNodeData struct {
	BaseNodeData
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

func (d *LLMNodeData) validate() error {
	if err := d.validateCommon(); err != nil {
		return err
	}
	if d.Prompt == "" {
		return fmt.Errorf("node %s: llm prompt cannot be empty", d.ID)
	}
	d.ensureOutputs(defaultLLMOutput)
	return nil
}

// TemplateTransformNodeData renders a template from its inputs.
type TemplateTransformNodeData struct {
	BaseNodeData
	Template string `json:"template"`
}

func (d *TemplateTransformNodeData) validate() error {
	if err := d.validateCommon(); err != nil {
		return err
	}
	if d.Template == "" {
		return fmt.Errorf("node %s: template cannot be empty", d.ID)
	}
	d.ensureOutputs(defaultTemplateOutput)
	return nil
}

// DatasetRetrievalNodeData searches the configured datasets with its single
// query input.
type DatasetRetrievalNodeData struct {
	BaseNodeData
	DatasetIDs      []string                  `json:"dataset_ids"`
	RetrievalConfig knowledge.RetrievalConfig `json:"retrieval_config"`
}

func (d *DatasetRetrievalNodeData) validate() error {
	if err := d.validateCommon(); err != nil {
		return err
	}
	if len(d.Inputs) != 1 {
		return fmt.Errorf("node %s: dataset retrieval requires exactly one input, got %d", d.ID, len(d.Inputs))
	}
	in := d.Inputs[0]
	if in.Name != "query" || in.Type != VariableTypeString || !in.Required {
		return fmt.Errorf("node %s: dataset retrieval input must be a required string named query", d.ID)
	}
	if d.RetrievalConfig.Strategy == "" {
		d.RetrievalConfig = knowledge.DefaultRetrievalConfig()
	}
	d.ensureOutputs(defaultRetrievalOutput)
	return nil
}

// CodeNodeData executes user code in a sandbox. The code must define exactly
// one function main(params) returning a dict.
type CodeNodeData struct {
	BaseNodeData
	Code string `json:"code"`
}

func (d *CodeNodeData) validate() error {
	if err := d.validateCommon(); err != nil {
		return err
	}
	if d.Code == "" {
		return fmt.Errorf("node %s: code cannot be empty", d.ID)
	}
	return nil
}

// ToolNodeData invokes a registered built-in or custom tool.
type ToolNodeData struct {
	BaseNodeData
	Provider string         `json:"provider_id"`
	ToolID   string         `json:"tool_id"`
	Params   map[string]any `json:"params,omitempty"`
}

func (d *ToolNodeData) validate() error {
	if err := d.validateCommon(); err != nil {
		return err
	}
	if d.Provider == "" || d.ToolID == "" {
		return fmt.Errorf("node %s: tool provider and id cannot be empty", d.ID)
	}
	d.ensureOutputs(defaultToolOutput)
	return nil
}

// HTTPMethod is a supported request method.
type HTTPMethod string

// Request methods.
const (
	MethodGet     HTTPMethod = "get"
	MethodPost    HTTPMethod = "post"
	MethodPut     HTTPMethod = "put"
	MethodPatch   HTTPMethod = "patch"
	MethodDelete  HTTPMethod = "delete"
	MethodHead    HTTPMethod = "head"
	MethodOptions HTTPMethod = "options"
)

var httpMethods = map[HTTPMethod]struct{}{
	MethodGet: {}, MethodPost: {}, MethodPut: {}, MethodPatch: {},
	MethodDelete: {}, MethodHead: {}, MethodOptions: {},
}

// HTTPRequestNodeData performs an HTTP request assembled from its inputs.
// Each input's meta "type" assigns it to the params, headers or body bucket.
type HTTPRequestNodeData struct {
	BaseNodeData
	URL    string     `json:"url"`
	Method HTTPMethod `json:"method"`
}

func (d *HTTPRequestNodeData) validate() error {
	if err := d.validateCommon(); err != nil {
		return err
	}
	if d.URL == "" {
		return fmt.Errorf("node %s: http url cannot be empty", d.ID)
	}
	if d.Method == "" {
		d.Method = MethodGet
	}
	if _, ok := httpMethods[d.Method]; !ok {
		return fmt.Errorf("node %s: unknown http method %q", d.ID, d.Method)
	}
	d.ensureOutputs(defaultHTTPBodyOutput, defaultHTTPStatusOut)
	if out := d.output(defaultHTTPStatusOut); out != nil && out.Value.Kind == ValueGenerated {
		out.Type = VariableTypeInt
	}
	return nil
}

// ParseNode decodes a raw node configuration into its typed variant.
func ParseNode(raw json.RawMessage) (NodeData, error) {
	var probe struct {
		Type NodeType `json:"node_type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("parse node: %w", err)
	}

	var data NodeData
	switch probe.Type {
	case NodeTypeStart:
		data = &StartNodeData{}
	case NodeTypeEnd:
		data = &EndNodeData{}
	case NodeTypeLLM:
		data = &LLMNodeData{}
	case NodeTypeTemplateTransform:
		data = &TemplateTransformNodeData{}
	case NodeTypeDatasetRetrieval:
		data = &DatasetRetrievalNodeData{}
	case NodeTypeCode:
		data = &CodeNodeData{}
	case NodeTypeTool:
		data = &ToolNodeData{}
	case NodeTypeHTTPRequest:
		data = &HTTPRequestNodeData{}
	default:
		return nil, fmt.Errorf("unknown node type %q", probe.Type)
	}
	if err := json.Unmarshal(raw, data); err != nil {
		return nil, fmt.Errorf("parse %s node: %w", probe.Type, err)
	}
	if err := data.validate(); err != nil {
		return nil, err
	}
	return data, nil
}

// NodeStatus is the state of one node invocation.
type NodeStatus string

// Node statuses.
const (
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusSucceeded NodeStatus = "succeeded"
	NodeStatusFailed    NodeStatus = "failed"
)

// NodeResult records one node invocation: its resolved inputs, produced
// outputs, status and latency. The ordered list of results is the run's
// execution trace.
type NodeResult struct {
	NodeData NodeData       `json:"node_data"`
	Status   NodeStatus     `json:"status"`
	Inputs   map[string]any `json:"inputs"`
	Outputs  map[string]any `json:"outputs"`
	Error    string         `json:"error,omitempty"`
	Latency  float64        `json:"latency"`
}
