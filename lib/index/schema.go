package index

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// AttributeInfo declares one queryable attribute of a type.
type AttributeInfo struct {
	Name string   `json:"name"`
	Type DataType `json:"type"`
}

// TypeInfo declares an indexed type. Handles are assigned by the TypeInfoMap and are
// stable for the lifetime of the map.
type TypeInfo struct {
	Handle     int             `json:"handle"`
	Name       string          `json:"name"`
	Attributes []AttributeInfo `json:"attributes"`

	byName map[string]int
}

// Attribute returns the declaration of the named attribute.
func (t *TypeInfo) Attribute(name string) (AttributeInfo, bool) {
	i, ok := t.byName[name]
	if !ok {
		return AttributeInfo{}, false
	}
	return t.Attributes[i], true
}

// HasAttributes reports whether the type declares any attributes. Types without attributes
// are indexed by key only.
func (t *TypeInfo) HasAttributes() bool {
	return len(t.Attributes) > 0
}

// TypeInfoMap is the schema of all indexed types. Aliases map additional type names onto
// a canonical type so structurally identical types share one index.
//
// A TypeInfoMap is populated once during startup and is read-only afterwards.
type TypeInfoMap struct {
	types   []*TypeInfo
	byName  map[string]*TypeInfo
	aliases map[string]string
}

// NewTypeInfoMap creates an empty schema.
func NewTypeInfoMap() *TypeInfoMap {
	return &TypeInfoMap{
		byName:  make(map[string]*TypeInfo),
		aliases: make(map[string]string),
	}
}

// Register declares a type and assigns the next handle.
func (m *TypeInfoMap) Register(name string, attrs ...AttributeInfo) (*TypeInfo, error) {
	if name == "" {
		return nil, fmt.Errorf("type name must not be empty")
	}
	if _, ok := m.byName[name]; ok {
		return nil, fmt.Errorf("type %q already registered", name)
	}
	if _, ok := m.aliases[name]; ok {
		return nil, fmt.Errorf("type %q already registered as alias", name)
	}

	ti := &TypeInfo{
		Handle:     len(m.types) + 1,
		Name:       name,
		Attributes: append([]AttributeInfo(nil), attrs...),
		byName:     make(map[string]int, len(attrs)),
	}
	for i, a := range ti.Attributes {
		if _, dup := ti.byName[a.Name]; dup {
			return nil, fmt.Errorf("type %q declares attribute %q twice", name, a.Name)
		}
		ti.byName[a.Name] = i
	}

	m.types = append(m.types, ti)
	m.byName[name] = ti
	return ti, nil
}

// Alias declares alias as a shared name of the registered type canonical.
func (m *TypeInfoMap) Alias(alias, canonical string) error {
	if _, ok := m.byName[canonical]; !ok {
		return fmt.Errorf("alias %q refers to unknown type %q", alias, canonical)
	}
	if _, ok := m.byName[alias]; ok {
		return fmt.Errorf("alias %q is already a type", alias)
	}
	m.aliases[alias] = canonical
	return nil
}

// Canonical resolves an alias to its canonical type name. Other names are returned as is.
func (m *TypeInfoMap) Canonical(name string) string {
	if c, ok := m.aliases[name]; ok {
		return c
	}
	return name
}

// ByName looks up a type by name or alias.
func (m *TypeInfoMap) ByName(name string) (*TypeInfo, bool) {
	ti, ok := m.byName[m.Canonical(name)]
	return ti, ok
}

// ByHandle looks up a type by its numeric handle.
func (m *TypeInfoMap) ByHandle(handle int) (*TypeInfo, bool) {
	if handle <= 0 || handle > len(m.types) {
		return nil, false
	}
	return m.types[handle-1], true
}

// Handle returns the handle of a type or alias, 0 if unknown.
func (m *TypeInfoMap) Handle(name string) int {
	if ti, ok := m.ByName(name); ok {
		return ti.Handle
	}
	return 0
}

// Types returns all registered types ordered by handle.
func (m *TypeInfoMap) Types() []*TypeInfo {
	return append([]*TypeInfo(nil), m.types...)
}

// Len returns the number of registered types.
func (m *TypeInfoMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.types)
}

// ParseTypeInfoMap parses a schema definition of the form
//
//	Employee(Name:string,Salary:int,Hired:datetime);Department;Worker=Employee
//
// Entries are separated by ';'. A type without parentheses is indexed by key only,
// `Alias=Type` declares a shared type.
func ParseTypeInfoMap(def string) (*TypeInfoMap, error) {
	m := NewTypeInfoMap()
	var aliases [][2]string

	for _, entry := range strings.Split(def, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if alias, canonical, ok := strings.Cut(entry, "="); ok {
			aliases = append(aliases, [2]string{strings.TrimSpace(alias), strings.TrimSpace(canonical)})
			continue
		}

		name, rest, hasAttrs := strings.Cut(entry, "(")
		name = strings.TrimSpace(name)
		var attrs []AttributeInfo

		if hasAttrs {
			body, ok := strings.CutSuffix(strings.TrimSpace(rest), ")")
			if !ok {
				return nil, fmt.Errorf("type %q: missing ')'", name)
			}
			for _, field := range strings.Split(body, ",") {
				field = strings.TrimSpace(field)
				if field == "" {
					continue
				}
				attrName, kind, ok := strings.Cut(field, ":")
				if !ok {
					return nil, fmt.Errorf("type %q: attribute %q has no data type", name, field)
				}
				dt, err := ParseDataType(kind)
				if err != nil {
					return nil, fmt.Errorf("type %q: attribute %q: %w", name, attrName, err)
				}
				attrs = append(attrs, AttributeInfo{Name: strings.TrimSpace(attrName), Type: dt})
			}
		}

		if _, err := m.Register(name, attrs...); err != nil {
			return nil, err
		}
	}

	for _, a := range aliases {
		if err := m.Alias(a[0], a[1]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// String renders the map in the format accepted by ParseTypeInfoMap.
func (m *TypeInfoMap) String() string {
	var parts []string
	for _, ti := range m.types {
		if !ti.HasAttributes() {
			parts = append(parts, ti.Name)
			continue
		}
		fields := make([]string, len(ti.Attributes))
		for i, a := range ti.Attributes {
			fields[i] = a.Name + ":" + a.Type.String()
		}
		parts = append(parts, ti.Name+"("+strings.Join(fields, ",")+")")
	}

	aliasNames := make([]string, 0, len(m.aliases))
	for a := range m.aliases {
		aliasNames = append(aliasNames, a)
	}
	sort.Strings(aliasNames)
	for _, a := range aliasNames {
		parts = append(parts, a+"="+m.aliases[a])
	}
	return strings.Join(parts, ";")
}

// --------------------------------------------------------------------------
// MetaInfo
// --------------------------------------------------------------------------

// MetaInfo is the query-relevant metadata of a cache entry. Attribute and named tag values
// are raw and get coerced to the declared data types when indexed.
type MetaInfo struct {
	TypeName   string         `json:"type,omitempty"`
	TypeHandle int            `json:"handle,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	NamedTags  map[string]any `json:"namedTags,omitempty"`
}

// resolveType finds the type declaration of meta, preferring the numeric handle.
func (m *TypeInfoMap) resolveType(meta *MetaInfo) (*TypeInfo, bool) {
	if m == nil || meta == nil {
		return nil, false
	}
	if meta.TypeHandle > 0 {
		if ti, ok := m.ByHandle(meta.TypeHandle); ok {
			return ti, true
		}
	}
	return m.ByName(meta.TypeName)
}

// TypeOf returns the canonical type name of meta.
func (m *TypeInfoMap) TypeOf(meta *MetaInfo) string {
	if meta == nil {
		return ""
	}
	if ti, ok := m.resolveType(meta); ok {
		return ti.Name
	}
	if m == nil {
		return meta.TypeName
	}
	return m.Canonical(meta.TypeName)
}

// Values coerces the attributes of meta to the declared types of ti. Missing attributes
// become Null.
func (ti *TypeInfo) Values(meta *MetaInfo) (map[string]Value, error) {
	values := make(map[string]Value, len(ti.Attributes))
	for _, a := range ti.Attributes {
		raw, ok := meta.Attributes[a.Name]
		if !ok {
			values[a.Name] = Null()
			continue
		}
		v, err := Coerce(raw, a.Type)
		if err != nil {
			var ce *ConversionError
			if errors.As(err, &ce) {
				ce.TypeName, ce.Attribute = ti.Name, a.Name
			}
			return nil, err
		}
		values[a.Name] = v
	}
	return values, nil
}

// NamedTagValues converts the named tags of meta into values by inferring their kind.
func NamedTagValues(meta *MetaInfo) (map[string]Value, error) {
	if meta == nil || len(meta.NamedTags) == 0 {
		return nil, nil
	}
	values := make(map[string]Value, len(meta.NamedTags))
	for name, raw := range meta.NamedTags {
		v, err := ValueOf(raw)
		if err != nil {
			var ce *ConversionError
			if errors.As(err, &ce) {
				ce.Attribute = NamedTagPrefix + name
			}
			return nil, err
		}
		values[name] = v
	}
	return values, nil
}
