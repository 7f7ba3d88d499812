package manifest

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

type NodeKind int

const (
	ScalarNode NodeKind = iota
	SequenceNode
	MappingNode
)

// Node is a tagged representation of the raw workload-template document.
// The template is the one genuinely dynamic surface of the system, so it is
// kept as a generic tree; everything derived from it is typed.
type Node struct {
	Kind   NodeKind
	Value  interface{}
	Items  []*Node
	Fields []Field
}

type Field struct {
	Key   string
	Value *Node
}

// Parse decodes a single-document YAML template into a Node tree. Multiple
// documents are rejected: one template describes exactly one workload.
func Parse(data []byte) (*Node, error) {
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))

	var documents []yaml.MapSlice
	for {
		var doc yaml.MapSlice
		err := decoder.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse workload template")
		}
		if doc != nil {
			documents = append(documents, doc)
		}
	}
	if len(documents) != 1 {
		return nil, errors.Errorf("workload template must contain exactly one YAML document, found %d", len(documents))
	}

	return fromValue(documents[0])
}

func fromValue(value interface{}) (*Node, error) {
	switch v := value.(type) {
	case yaml.MapSlice:
		fields := make([]Field, 0, len(v))
		for _, item := range v {
			child, err := fromValue(item.Value)
			if err != nil {
				return nil, err
			}
			fields = append(fields, Field{Key: fmt.Sprintf("%v", item.Key), Value: child})
		}
		return &Node{Kind: MappingNode, Fields: fields}, nil
	case map[interface{}]interface{}:
		fields := make([]Field, 0, len(v))
		for key, value := range v {
			child, err := fromValue(value)
			if err != nil {
				return nil, err
			}
			fields = append(fields, Field{Key: fmt.Sprintf("%v", key), Value: child})
		}
		return &Node{Kind: MappingNode, Fields: fields}, nil
	case []interface{}:
		items := make([]*Node, 0, len(v))
		for _, elem := range v {
			child, err := fromValue(elem)
			if err != nil {
				return nil, err
			}
			items = append(items, child)
		}
		return &Node{Kind: SequenceNode, Items: items}, nil
	default:
		return &Node{Kind: ScalarNode, Value: v}, nil
	}
}

// Substitute replaces every occurrence of placeholder inside string scalars,
// including those nested in sequences and mappings. Non-string scalars are
// left untouched. The receiver is not modified; a new tree is returned.
func (n *Node) Substitute(placeholder string, replacement string) *Node {
	switch n.Kind {
	case ScalarNode:
		if s, ok := n.Value.(string); ok {
			return &Node{Kind: ScalarNode, Value: strings.ReplaceAll(s, placeholder, replacement)}
		}
		return &Node{Kind: ScalarNode, Value: n.Value}
	case SequenceNode:
		items := make([]*Node, len(n.Items))
		for i, item := range n.Items {
			items[i] = item.Substitute(placeholder, replacement)
		}
		return &Node{Kind: SequenceNode, Items: items}
	case MappingNode:
		fields := make([]Field, len(n.Fields))
		for i, field := range n.Fields {
			fields[i] = Field{Key: field.Key, Value: field.Value.Substitute(placeholder, replacement)}
		}
		return &Node{Kind: MappingNode, Fields: fields}
	}
	return n
}

// Lookup walks a mapping path like "metadata", "name". Returns nil when any
// segment is missing or not a mapping.
func (n *Node) Lookup(path ...string) *Node {
	current := n
	for _, segment := range path {
		if current == nil || current.Kind != MappingNode {
			return nil
		}
		var next *Node
		for _, field := range current.Fields {
			if field.Key == segment {
				next = field.Value
				break
			}
		}
		current = next
	}
	return current
}

func (n *Node) StringValue() (string, bool) {
	if n == nil || n.Kind != ScalarNode {
		return "", false
	}
	s, ok := n.Value.(string)
	return s, ok
}

// Interface converts the tree back to plain Go values with string keys,
// suitable for JSON encoding into typed Kubernetes objects.
func (n *Node) Interface() interface{} {
	switch n.Kind {
	case ScalarNode:
		return n.Value
	case SequenceNode:
		items := make([]interface{}, len(n.Items))
		for i, item := range n.Items {
			items[i] = item.Interface()
		}
		return items
	case MappingNode:
		fields := make(map[string]interface{}, len(n.Fields))
		for _, field := range n.Fields {
			fields[field.Key] = field.Value.Interface()
		}
		return fields
	}
	return nil
}
