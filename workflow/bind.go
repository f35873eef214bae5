package workflow

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/reelsmith/reelsmith-api/failure"
)

// Graph is a workflow graph as stored on disk: node id -> node definition.
// Node inputs may contain injectable markers shaped "$.<param>.<field>!"
// (trailing "!" marks the parameter as required).
type Graph map[string]*Node

type Node struct {
	ClassType string                 `json:"class_type"`
	Inputs    map[string]interface{} `json:"inputs"`
}

// NodeBinding records one resolved marker, for backends that submit bound
// values as a node-info list instead of the whole graph.
type NodeBinding struct {
	NodeID    string `json:"nodeId"`
	FieldName string `json:"fieldName"`
	Value     string `json:"fieldValue"`
}

var markerRe = regexp.MustCompile(`^\$\.([A-Za-z0-9_]+)\.([A-Za-z0-9_]+)(!?)$`)

// LoadGraph reads a workflow graph from dir/name.
func LoadGraph(dir, name string) (Graph, error) {
	// Workflow names come from caller input; keep them inside the dir.
	if strings.Contains(name, "..") {
		return nil, failure.Fatalf(failure.Submission, "invalid workflow name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, failure.Fatalf(failure.Submission, "workflow %q not found", name)
		}
		return nil, failure.Wrap(failure.Submission, err, "read workflow %q", name)
	}
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, failure.WrapFatal(failure.Submission, err, "workflow %q is malformed", name)
	}
	return g, nil
}

// Bind substitutes params into every marker in the graph, returning the
// bindings it applied. A required marker with no matching param is a
// structural error, fatal on first occurrence. Optional markers with no
// param are bound to the empty string.
func Bind(g Graph, params map[string]string) ([]NodeBinding, error) {
	var bindings []NodeBinding
	for nodeID, node := range g {
		for field, raw := range node.Inputs {
			s, ok := raw.(string)
			if !ok {
				continue
			}
			m := markerRe.FindStringSubmatch(s)
			if m == nil {
				continue
			}
			param, required := m[1], m[3] == "!"
			value, present := params[param]
			if !present && required {
				return nil, failure.Fatalf(failure.Submission, "workflow requires parameter %q (node %s, field %s)", param, nodeID, field)
			}
			node.Inputs[field] = value
			bindings = append(bindings, NodeBinding{NodeID: nodeID, FieldName: field, Value: value})
		}
	}
	return bindings, nil
}
