package predicate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ValentinKolb/dCache/lib/index"
)

// Spec is the JSON representation of a predicate tree, e.g.
//
//	{"op":"and","children":[
//	  {"op":"gt","attr":"Salary","value":50000},
//	  {"op":"tags","tags":["remote"]}]}
//
// Operators: all, and, or, not, eq, ne, lt, gt, le, ge, like, notlike, in, between,
// null, tags, namedtag. Leaf operands are given as value or, for parameters, as param.
type Spec struct {
	Op       string   `json:"op"`
	Attr     string   `json:"attr,omitempty"`
	Value    any      `json:"value,omitempty"`
	Values   []any    `json:"values,omitempty"`
	Param    string   `json:"param,omitempty"`
	Cmp      string   `json:"cmp,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	MatchAll bool     `json:"matchAll,omitempty"`
	Children []Spec   `json:"children,omitempty"`
}

// Parse decodes a JSON spec and builds the predicate.
func Parse(data []byte) (Predicate, error) {
	spec, err := ParseSpec(data)
	if err != nil {
		return nil, err
	}
	return spec.Build()
}

// ParseSpec decodes a JSON spec. Numbers are kept exact so integer operands stay integers.
func ParseSpec(data []byte) (Spec, error) {
	var spec Spec
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&spec); err != nil {
		return Spec{}, fmt.Errorf("invalid predicate: %w", err)
	}
	return spec, nil
}

// JSON encodes the spec.
func (s Spec) JSON() []byte {
	data, _ := json.Marshal(s)
	return data
}

func (s Spec) operand() Operand {
	if s.Param != "" {
		return Param(s.Param)
	}
	return Const(s.Value)
}

// Build constructs the predicate tree.
func (s Spec) Build() (Predicate, error) {
	op := strings.ToLower(strings.TrimSpace(s.Op))

	switch op {
	case "all", "*":
		return NewAll(), nil
	case "and", "or":
		if len(s.Children) == 0 {
			return nil, fmt.Errorf("%s needs at least one child", op)
		}
		children := make([]Predicate, len(s.Children))
		for i, c := range s.Children {
			p, err := c.Build()
			if err != nil {
				return nil, err
			}
			children[i] = p
		}
		if op == "and" {
			return NewAnd(children...), nil
		}
		return NewOr(children...), nil
	case "not":
		if len(s.Children) != 1 {
			return nil, fmt.Errorf("not needs exactly one child")
		}
		p, err := s.Children[0].Build()
		if err != nil {
			return nil, err
		}
		p.Invert()
		return p, nil
	case "tags":
		if len(s.Tags) == 0 {
			return nil, fmt.Errorf("tags needs at least one tag")
		}
		return NewHasTags(s.MatchAll, s.Tags...), nil
	}

	if s.Attr == "" {
		return nil, fmt.Errorf("%q needs an attribute", s.Op)
	}

	switch op {
	case "null":
		return NewIsNull(s.Attr), nil
	case "in":
		operands := make([]Operand, len(s.Values))
		for i, v := range s.Values {
			operands[i] = Const(v)
		}
		return NewIn(s.Attr, operands...), nil
	case "between":
		if len(s.Values) != 2 {
			return nil, fmt.Errorf("between needs exactly two values")
		}
		return NewBetween(s.Attr, Const(s.Values[0]), Const(s.Values[1])), nil
	case "namedtag":
		cmp, err := index.ParseComparison(s.Cmp)
		if err != nil {
			return nil, err
		}
		return NewNamedTag(s.Attr, cmp, s.operand()), nil
	}

	cmp, err := index.ParseComparison(op)
	if err != nil {
		return nil, fmt.Errorf("unknown predicate operator %q", s.Op)
	}
	return NewCompare(s.Attr, cmp, s.operand()), nil
}
