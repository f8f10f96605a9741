// Package graph holds the workflow template submitted to the engine.
//
// A template is an API-format workflow: a JSON object keyed by node id whose
// values carry an "inputs" object. The template is parsed once and every job
// works on its own deep copy, so concurrent jobs never share mutable state.
package graph

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

var (
	ErrNodeNotFound = errors.New("node not found in workflow")
	ErrNoInputs     = errors.New("node has no inputs object")
)

// Graph is a mutable, per-job copy of the template
type Graph map[string]any

// Template is the immutable workflow loaded at start-up
type Template struct {
	raw   []byte
	nodes map[string]struct{}
}

// Load reads and parses the template at path
func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow template: %w", err)
	}
	return Parse(data)
}

// Parse validates data as an API-format workflow
func Parse(data []byte) (*Template, error) {
	g, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse workflow template: %w", err)
	}
	if len(g) == 0 {
		return nil, errors.New("workflow template has no nodes")
	}

	nodes := make(map[string]struct{}, len(g))
	for id := range g {
		nodes[id] = struct{}{}
	}

	// Keep the canonical encoding so Instantiate never observes caller mutations
	raw, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow template: %w", err)
	}

	return &Template{raw: raw, nodes: nodes}, nil
}

// Validate checks that every given node id exists in the template
func (t *Template) Validate(nodeIDs ...string) error {
	for _, id := range nodeIDs {
		if _, ok := t.nodes[id]; !ok {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
	}
	return nil
}

// Len returns the number of nodes
func (t *Template) Len() int {
	return len(t.nodes)
}

// Instantiate returns a deep copy of the template
func (t *Template) Instantiate() (Graph, error) {
	g, err := decode(t.raw)
	if err != nil {
		return nil, fmt.Errorf("failed to copy workflow template: %w", err)
	}
	return g, nil
}

// decode keeps numbers as json.Number so seeds above 2^53 survive unchanged
func decode(data []byte) (Graph, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var g Graph
	if err := dec.Decode(&g); err != nil {
		return nil, err
	}
	return g, nil
}

// HasNode reports whether the graph contains nodeID
func (g Graph) HasNode(nodeID string) bool {
	_, ok := g[nodeID]
	return ok
}

// SetInput overwrites inputs.<field> of the given node
func (g Graph) SetInput(nodeID, field string, value any) error {
	node, ok := g[nodeID].(map[string]any)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	inputs, ok := node["inputs"].(map[string]any)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoInputs, nodeID)
	}
	inputs[field] = value
	return nil
}

// Input returns inputs.<field> of the given node
func (g Graph) Input(nodeID, field string) (any, bool) {
	node, ok := g[nodeID].(map[string]any)
	if !ok {
		return nil, false
	}
	inputs, ok := node["inputs"].(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := inputs[field]
	return v, ok
}
