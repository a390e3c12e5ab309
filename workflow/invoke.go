//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/flosch/pongo2/v6"
	"github.com/tidwall/gjson"

	"github.com/canopyai/canopy/codeexecutor"
	"github.com/canopyai/canopy/model"
)

// extractVariables resolves the declared entities against the accumulated
// state: literals are cast to their declared type, refs read the named output
// from the first matching NodeResult (the referenced node's inputs, for start
// refs), and an absent referenced variable falls back to the type default.
func extractVariables(snapshot *State, entities []*VariableEntity) (map[string]any, error) {
	resolved := make(map[string]any, len(entities))
	for _, entity := range entities {
		switch entity.Value.Kind {
		case ValueLiteral:
			v, err := entity.Type.Cast(entity.Value.Literal)
			if err != nil {
				return nil, fmt.Errorf("variable %s: %w", entity.Name, err)
			}
			resolved[entity.Name] = v
		case ValueRef:
			result := snapshot.resultFor(entity.Value.RefNodeID)
			if result == nil {
				resolved[entity.Name] = entity.Type.Default()
				continue
			}
			raw, ok := result.Outputs[entity.Value.RefVarName]
			if !ok {
				resolved[entity.Name] = entity.Type.Default()
				continue
			}
			v, err := entity.Type.Cast(raw)
			if err != nil {
				return nil, fmt.Errorf("variable %s: %w", entity.Name, err)
			}
			resolved[entity.Name] = v
		case ValueGenerated:
			// Produced by the node itself, nothing to resolve.
		}
	}
	return resolved, nil
}

// renderTemplate renders a jinja-style template against the resolved inputs.
func renderTemplate(template string, inputs map[string]any) (string, error) {
	tpl, err := pongo2.FromString(template)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	rendered, err := tpl.Execute(pongo2.Context(inputs))
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return rendered, nil
}

// invokeStart copies the run's raw inputs onto the declared inputs, applying
// literal or type defaults for missing optional ones and failing on a
// missing required one.
func (e *Executor) invokeStart(d *StartNodeData, snapshot *State) (map[string]any, map[string]any, error) {
	outputs := make(map[string]any, len(d.Inputs))
	for _, in := range d.Inputs {
		raw, ok := snapshot.Inputs[in.Name]
		if !ok {
			if in.Required {
				return snapshot.Inputs, nil, fmt.Errorf("required input %s is missing", in.Name)
			}
			if in.Value.Kind == ValueLiteral {
				raw = in.Value.Literal
			}
		}
		v, err := in.Type.Cast(raw)
		if err != nil {
			return snapshot.Inputs, nil, fmt.Errorf("input %s: %w", in.Name, err)
		}
		outputs[in.Name] = v
	}
	return snapshot.Inputs, outputs, nil
}

// invokeEnd resolves the configured outputs into the run's final outputs.
func (e *Executor) invokeEnd(d *EndNodeData, snapshot *State) (map[string]any, map[string]any, error) {
	outputs, err := extractVariables(snapshot, d.Outputs)
	if err != nil {
		return nil, nil, err
	}
	return nil, outputs, nil
}

// invokeLLM renders the prompt from the resolved inputs and calls the model.
func (e *Executor) invokeLLM(ctx context.Context, d *LLMNodeData, snapshot *State) (map[string]any, map[string]any, error) {
	if e.model == nil {
		return nil, nil, fmt.Errorf("no model configured")
	}
	inputs, err := extractVariables(snapshot, d.Inputs)
	if err != nil {
		return nil, nil, err
	}
	prompt, err := renderTemplate(d.Prompt, inputs)
	if err != nil {
		return inputs, nil, err
	}
	text, err := e.generate(ctx, prompt)
	if err != nil {
		return inputs, nil, err
	}
	return inputs, map[string]any{d.Outputs[0].Name: text}, nil
}

// generate performs one non-streaming model call and returns the text.
func (e *Executor) generate(ctx context.Context, prompt string) (string, error) {
	stream, err := e.model.GenerateContent(ctx, &model.Request{
		Messages: []model.Message{model.NewUserMessage(prompt)},
	})
	if err != nil {
		return "", fmt.Errorf("model call: %w", err)
	}
	var text string
	for rsp := range stream {
		if rsp.Error != nil {
			return "", fmt.Errorf("model call: %s", rsp.Error.Message)
		}
		if len(rsp.Choices) > 0 && rsp.Done {
			text = rsp.Choices[0].Message.Content
		}
	}
	return text, nil
}

// invokeTemplateTransform renders the template from the resolved inputs.
func (e *Executor) invokeTemplateTransform(d *TemplateTransformNodeData, snapshot *State) (map[string]any, map[string]any, error) {
	inputs, err := extractVariables(snapshot, d.Inputs)
	if err != nil {
		return nil, nil, err
	}
	rendered, err := renderTemplate(d.Template, inputs)
	if err != nil {
		return inputs, nil, err
	}
	return inputs, map[string]any{d.Outputs[0].Name: rendered}, nil
}

// invokeDatasetRetrieval searches the configured datasets with the resolved
// query.
func (e *Executor) invokeDatasetRetrieval(ctx context.Context, d *DatasetRetrievalNodeData, snapshot *State) (map[string]any, map[string]any, error) {
	if e.retrieval == nil {
		return nil, nil, fmt.Errorf("no retrieval service configured")
	}
	inputs, err := extractVariables(snapshot, d.Inputs)
	if err != nil {
		return nil, nil, err
	}
	query, _ := inputs["query"].(string)
	config := d.RetrievalConfig
	if len(d.DatasetIDs) > 0 {
		config.DatasetIDs = d.DatasetIDs
	}
	combined, err := e.retrieval.Search(ctx, query, config)
	if err != nil {
		return inputs, nil, fmt.Errorf("retrieval: %w", err)
	}
	return inputs, map[string]any{d.Outputs[0].Name: combined}, nil
}

// invokeCode runs the user code in the sandbox and maps the returned object
// onto the declared outputs, substituting type defaults for missing keys.
func (e *Executor) invokeCode(ctx context.Context, d *CodeNodeData, snapshot *State) (map[string]any, map[string]any, error) {
	if e.codeExecutor == nil {
		return nil, nil, fmt.Errorf("no code executor configured")
	}
	inputs, err := extractVariables(snapshot, d.Inputs)
	if err != nil {
		return nil, nil, err
	}
	result, err := e.codeExecutor.ExecuteCode(ctx, codeexecutor.Input{
		Code:   d.Code,
		Params: inputs,
	})
	if err != nil {
		return inputs, nil, fmt.Errorf("code execution: %w", err)
	}

	outputs := make(map[string]any, len(d.Outputs))
	for _, out := range d.Outputs {
		field := gjson.GetBytes(result.Output, out.Name)
		if !field.Exists() {
			outputs[out.Name] = out.Type.Default()
			continue
		}
		v, err := out.Type.Cast(field.Value())
		if err != nil {
			return inputs, nil, fmt.Errorf("output %s: %w", out.Name, err)
		}
		outputs[out.Name] = v
	}
	return inputs, outputs, nil
}

// invokeTool resolves the registered tool and calls it with the merged
// configured params and resolved inputs. Non-string results are serialized
// to JSON text.
func (e *Executor) invokeTool(ctx context.Context, d *ToolNodeData, snapshot *State) (map[string]any, map[string]any, error) {
	if e.tools == nil {
		return nil, nil, fmt.Errorf("no tool registry configured")
	}
	t, ok := e.tools.Get(d.Provider, d.ToolID)
	if !ok {
		return nil, nil, fmt.Errorf("tool %s/%s is not registered", d.Provider, d.ToolID)
	}
	inputs, err := extractVariables(snapshot, d.Inputs)
	if err != nil {
		return nil, nil, err
	}

	args := make(map[string]any, len(d.Params)+len(inputs))
	for k, v := range d.Params {
		args[k] = v
	}
	for k, v := range inputs {
		args[k] = v
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return inputs, nil, fmt.Errorf("encode tool arguments: %w", err)
	}
	result, err := t.Call(ctx, encoded)
	if err != nil {
		return inputs, nil, fmt.Errorf("tool %s/%s: %w", d.Provider, d.ToolID, err)
	}

	var text string
	switch v := result.(type) {
	case string:
		text = v
	default:
		serialized, err := json.Marshal(v)
		if err != nil {
			return inputs, nil, fmt.Errorf("encode tool result: %w", err)
		}
		text = string(serialized)
	}
	return inputs, map[string]any{d.Outputs[0].Name: text}, nil
}

// invokeHTTPRequest assembles and performs the request. Each input's meta
// "type" routes it into the params, headers or body bucket; GET-like methods
// send no body.
func (e *Executor) invokeHTTPRequest(ctx context.Context, d *HTTPRequestNodeData, snapshot *State) (map[string]any, map[string]any, error) {
	inputs, err := extractVariables(snapshot, d.Inputs)
	if err != nil {
		return nil, nil, err
	}

	params := url.Values{}
	headers := http.Header{}
	body := make(map[string]any)
	for _, in := range d.Inputs {
		v, ok := inputs[in.Name]
		if !ok {
			continue
		}
		switch in.Meta["type"] {
		case "headers":
			headers.Set(in.Name, fmt.Sprintf("%v", v))
		case "body":
			body[in.Name] = v
		default:
			params.Set(in.Name, fmt.Sprintf("%v", v))
		}
	}

	target, err := url.Parse(d.URL)
	if err != nil {
		return inputs, nil, fmt.Errorf("parse url: %w", err)
	}
	query := target.Query()
	for k, vs := range params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	target.RawQuery = query.Encode()

	var reqBody io.Reader
	sendsBody := d.Method != MethodGet && d.Method != MethodHead && d.Method != MethodOptions
	if sendsBody && len(body) > 0 {
		encoded, err := json.Marshal(body)
		if err != nil {
			return inputs, nil, fmt.Errorf("encode body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
		if headers.Get("Content-Type") == "" {
			headers.Set("Content-Type", "application/json")
		}
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(string(d.Method)), target.String(), reqBody)
	if err != nil {
		return inputs, nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range headers {
		req.Header[k] = vs
	}

	rsp, err := e.httpClient.Do(req)
	if err != nil {
		return inputs, nil, fmt.Errorf("http request: %w", err)
	}
	defer rsp.Body.Close()
	text, err := io.ReadAll(rsp.Body)
	if err != nil {
		return inputs, nil, fmt.Errorf("read response: %w", err)
	}

	return inputs, map[string]any{
		defaultHTTPBodyOutput: string(text),
		defaultHTTPStatusOut:  int64(rsp.StatusCode),
	}, nil
}
