package predicate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ValentinKolb/dCache/lib/index"
)

// ErrUnboundParameter is returned when a parameterized operand has no binding.
var ErrUnboundParameter = errors.New("unbound query parameter")

// KeySet is a set of cache keys.
type KeySet = map[string]struct{}

// Bindings maps query parameter names to values.
type Bindings = map[string]index.Value

// Source is what predicates are evaluated against.
type Source interface {
	GetData(attr string, value index.Value, op index.ComparisonType) (map[string]struct{}, error)
	AttributeType(attr string) (index.DataType, bool)
	Keys() map[string]struct{}
}

// Predicate is a node of a parsed query.
type Predicate interface {
	// ReEvaluate returns the keys of src matching the predicate.
	ReEvaluate(src Source, bindings Bindings) (KeySet, error)

	// Invert toggles negation of the node.
	Invert()

	// Inverse reports whether the node is negated.
	Inverse() bool

	String() string
}

// --------------------------------------------------------------------------
// Operands
// --------------------------------------------------------------------------

// Operand is a constant or a named parameter resolved from the bindings.
type Operand struct {
	Value any
	Param string
}

// Const creates a constant operand.
func Const(v any) Operand { return Operand{Value: v} }

// Param creates a parameter operand.
func Param(name string) Operand { return Operand{Param: name} }

func (o Operand) resolve(src Source, attr string, bindings Bindings) (index.Value, error) {
	raw := o.Value
	if o.Param != "" {
		v, ok := bindings[o.Param]
		if !ok {
			return index.Null(), fmt.Errorf("%w: %s", ErrUnboundParameter, o.Param)
		}
		raw = v
	}
	if dt, ok := src.AttributeType(attr); ok {
		return index.Coerce(raw, dt)
	}
	return index.ValueOf(raw)
}

func (o Operand) String() string {
	if o.Param != "" {
		return "?" + o.Param
	}
	if s, ok := o.Value.(string); ok {
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	}
	if v, ok := o.Value.(index.Value); ok && v.Kind() == index.TypeString {
		return "'" + v.String() + "'"
	}
	return fmt.Sprint(o.Value)
}

// --------------------------------------------------------------------------
// Shared helpers
// --------------------------------------------------------------------------

type negatable struct {
	inverse bool
}

func (n *negatable) Invert() { n.inverse = !n.inverse }
func (n *negatable) Inverse() bool { return n.inverse }

// finish applies negation by complementing the result against all keys of src.
func (n *negatable) finish(src Source, result KeySet) KeySet {
	if !n.inverse {
		return result
	}
	out := make(KeySet)
	for k := range src.Keys() {
		if _, ok := result[k]; !ok {
			out[k] = struct{}{}
		}
	}
	return out
}

func (n *negatable) wrap(s string) string {
	if n.inverse {
		return "NOT (" + s + ")"
	}
	return s
}

func union(dst, src KeySet) {
	for k := range src {
		dst[k] = struct{}{}
	}
}

// Sorted returns the keys of a set in ascending order.
func Sorted(keys KeySet) []string {
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// --------------------------------------------------------------------------
// All
// --------------------------------------------------------------------------

// All matches every entry of the type.
type All struct{ negatable }

func NewAll() *All { return &All{} }

func (p *All) ReEvaluate(src Source, _ Bindings) (KeySet, error) {
	return p.finish(src, src.Keys()), nil
}

func (p *All) String() string { return p.wrap("*") }

// --------------------------------------------------------------------------
// Compare
// --------------------------------------------------------------------------

// Compare matches entries whose attribute satisfies Op against Operand.
type Compare struct {
	negatable
	Attribute string
	Op        index.ComparisonType
	Operand   Operand
}

func NewCompare(attr string, op index.ComparisonType, operand Operand) *Compare {
	return &Compare{Attribute: attr, Op: op, Operand: operand}
}

// NewNamedTag compares the value of a named tag.
func NewNamedTag(name string, op index.ComparisonType, operand Operand) *Compare {
	return NewCompare(index.NamedTagPrefix+name, op, operand)
}

func (p *Compare) ReEvaluate(src Source, bindings Bindings) (KeySet, error) {
	v, err := p.Operand.resolve(src, p.Attribute, bindings)
	if err != nil {
		return nil, err
	}
	keys, err := src.GetData(p.Attribute, v, p.Op)
	if err != nil {
		if !errors.Is(err, index.ErrAttributeNotDefined) || !strings.HasPrefix(p.Attribute, index.NamedTagPrefix) {
			return nil, err
		}
		// no entry carries this named tag
		keys = make(KeySet)
	}
	return p.finish(src, keys), nil
}

func (p *Compare) String() string {
	attr := p.Attribute
	if name, ok := strings.CutPrefix(attr, index.NamedTagPrefix); ok {
		attr = "$" + name
	}
	return p.wrap(attr + " " + p.Op.String() + " " + p.Operand.String())
}

// --------------------------------------------------------------------------
// IsNull
// --------------------------------------------------------------------------

// IsNull matches entries whose attribute is null or missing.
type IsNull struct {
	negatable
	Attribute string
}

func NewIsNull(attr string) *IsNull { return &IsNull{Attribute: attr} }

func (p *IsNull) ReEvaluate(src Source, _ Bindings) (KeySet, error) {
	keys, err := src.GetData(p.Attribute, index.Null(), index.Equals)
	if err != nil {
		return nil, err
	}
	return p.finish(src, keys), nil
}

func (p *IsNull) String() string { return p.wrap(p.Attribute + " IS NULL") }

// --------------------------------------------------------------------------
// In / Between
// --------------------------------------------------------------------------

// In matches entries whose attribute equals any of the operands.
type In struct {
	negatable
	Attribute string
	Values    []Operand
}

func NewIn(attr string, values ...Operand) *In { return &In{Attribute: attr, Values: values} }

func (p *In) ReEvaluate(src Source, bindings Bindings) (KeySet, error) {
	result := make(KeySet)
	for _, o := range p.Values {
		v, err := o.resolve(src, p.Attribute, bindings)
		if err != nil {
			return nil, err
		}
		keys, err := src.GetData(p.Attribute, v, index.Equals)
		if err != nil {
			return nil, err
		}
		union(result, keys)
	}
	return p.finish(src, result), nil
}

func (p *In) String() string {
	parts := make([]string, len(p.Values))
	for i, o := range p.Values {
		parts[i] = o.String()
	}
	return p.wrap(p.Attribute + " IN (" + strings.Join(parts, ", ") + ")")
}

// Between matches entries whose attribute lies in [Low, High].
type Between struct {
	negatable
	Attribute string
	Low, High Operand
}

func NewBetween(attr string, low, high Operand) *Between {
	return &Between{Attribute: attr, Low: low, High: high}
}

func (p *Between) ReEvaluate(src Source, bindings Bindings) (KeySet, error) {
	lo, err := p.Low.resolve(src, p.Attribute, bindings)
	if err != nil {
		return nil, err
	}
	hi, err := p.High.resolve(src, p.Attribute, bindings)
	if err != nil {
		return nil, err
	}
	above, err := src.GetData(p.Attribute, lo, index.GreaterEquals)
	if err != nil {
		return nil, err
	}
	below, err := src.GetData(p.Attribute, hi, index.LessEquals)
	if err != nil {
		return nil, err
	}
	result := make(KeySet)
	for k := range above {
		if _, ok := below[k]; ok {
			result[k] = struct{}{}
		}
	}
	return p.finish(src, result), nil
}

func (p *Between) String() string {
	return p.wrap(p.Attribute + " BETWEEN " + p.Low.String() + " AND " + p.High.String())
}

// --------------------------------------------------------------------------
// And / Or
// --------------------------------------------------------------------------

// And matches entries matched by every child.
type And struct {
	negatable
	Children []Predicate
}

func NewAnd(children ...Predicate) *And { return &And{Children: children} }

func (p *And) ReEvaluate(src Source, bindings Bindings) (KeySet, error) {
	var result KeySet
	for _, c := range p.Children {
		keys, err := c.ReEvaluate(src, bindings)
		if err != nil {
			return nil, err
		}
		if result == nil {
			result = keys
		} else {
			for k := range result {
				if _, ok := keys[k]; !ok {
					delete(result, k)
				}
			}
		}
		if len(result) == 0 {
			break
		}
	}
	if result == nil {
		result = make(KeySet)
	}
	return p.finish(src, result), nil
}

func (p *And) String() string { return p.wrap(join(p.Children, " AND ")) }

// Or matches entries matched by any child.
type Or struct {
	negatable
	Children []Predicate
}

func NewOr(children ...Predicate) *Or { return &Or{Children: children} }

func (p *Or) ReEvaluate(src Source, bindings Bindings) (KeySet, error) {
	result := make(KeySet)
	for _, c := range p.Children {
		keys, err := c.ReEvaluate(src, bindings)
		if err != nil {
			return nil, err
		}
		union(result, keys)
	}
	return p.finish(src, result), nil
}

func (p *Or) String() string { return p.wrap(join(p.Children, " OR ")) }

func join(children []Predicate, sep string) string {
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// --------------------------------------------------------------------------
// HasTags
// --------------------------------------------------------------------------

// HasTags matches entries tagged with any (or, with MatchAll, every) of Tags.
type HasTags struct {
	negatable
	Tags     []string
	MatchAll bool
}

func NewHasTags(matchAll bool, tags ...string) *HasTags {
	return &HasTags{Tags: tags, MatchAll: matchAll}
}

func (p *HasTags) ReEvaluate(src Source, _ Bindings) (KeySet, error) {
	var result KeySet
	for _, tag := range p.Tags {
		keys, err := src.GetData(index.TagStoreName, index.String(tag), index.Equals)
		if errors.Is(err, index.ErrAttributeNotDefined) {
			// no entry of the type carries tags yet
			keys = make(KeySet)
		} else if err != nil {
			return nil, err
		}

		switch {
		case result == nil:
			result = keys
		case p.MatchAll:
			for k := range result {
				if _, ok := keys[k]; !ok {
					delete(result, k)
				}
			}
		default:
			union(result, keys)
		}
	}
	if result == nil {
		result = make(KeySet)
	}
	return p.finish(src, result), nil
}

func (p *HasTags) String() string {
	mode := "ANY"
	if p.MatchAll {
		mode = "ALL"
	}
	return p.wrap("$Tag$ " + mode + " (" + strings.Join(p.Tags, ", ") + ")")
}
