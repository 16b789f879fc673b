package metaform

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldType is the declared kind of a schema field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeNull    FieldType = "null"
	TypeObject  FieldType = "object"
	TypeArray   FieldType = "array"
	TypeEnum    FieldType = "enum"
	TypeUnion   FieldType = "union" // anyOf / oneOf / allOf
)

// Field is one named node of a parsed schema.
type Field struct {
	Name     string
	Path     string // dotted path from the root, "[]" marks array items
	Type     FieldType
	Fields   []*Field // object properties in source order
	Items    *Field   // array item definition
	Enum     []any
	Required bool
	Singular bool   // x-singular: arrays under this path are replaced, not concatenated
	Cyclic   bool   // $ref already on the traversal path; not expanded
	Ref      string // $ref this field was resolved through
	Depth    int    // edges from the root

	def    *object
	parent *Field
}

// IsLeaf reports whether the field has no nested properties to descend into.
func (f *Field) IsLeaf() bool {
	if f.Type == TypeObject && len(f.Fields) > 0 {
		return false
	}
	if f.Type == TypeArray && f.Items != nil && f.Items.Type == TypeObject && len(f.Items.Fields) > 0 {
		return false
	}
	return true
}

// Child returns the direct property with the given name.
func (f *Field) Child(name string) *Field {
	for _, c := range f.Fields {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Schema is a parsed schema document. It is read-only once parsed.
type Schema struct {
	Root *Field
	doc  *object
}

// ParseSchema parses a JSON (or YAML) schema document into a field tree.
func ParseSchema(data []byte) (*Schema, error) {
	v, err := decodeDocument(data)
	if err != nil {
		return nil, &SchemaParseError{Reason: "malformed schema document", Err: err}
	}
	doc, ok := v.(*object)
	if !ok {
		return nil, &SchemaParseError{Reason: "top-level value must be an object"}
	}

	// the root is on the path, so "#" inside it is a cycle
	p := &schemaParser{doc: doc, onPath: map[string]bool{"#": true}}
	root, err := p.field("", "", doc, 0, nil)
	if err != nil {
		return nil, err
	}
	if root.Type != TypeObject {
		return nil, &SchemaParseError{Reason: fmt.Sprintf("root must be an object, got %s", root.Type)}
	}
	if len(root.Fields) == 0 {
		return nil, &SchemaParseError{Reason: "root object defines no properties"}
	}
	return &Schema{Root: root, doc: doc}, nil
}

// MustParseSchema is like ParseSchema but panics on error.
func MustParseSchema(data []byte) *Schema {
	s, err := ParseSchema(data)
	if err != nil {
		panic(err)
	}
	return s
}

// JSON returns the full schema serialized as indented JSON in source order.
func (s *Schema) JSON() string {
	return marshalIndent(s.doc)
}

// Lookup returns the field at a dotted path, or nil.
func (s *Schema) Lookup(path string) *Field {
	if path == "" {
		return s.Root
	}
	f := s.Root
	for _, seg := range strings.Split(path, ".") {
		arrays := 0
		for strings.HasSuffix(seg, "[]") {
			seg = strings.TrimSuffix(seg, "[]")
			arrays++
		}
		if seg != "" {
			if f = f.Child(seg); f == nil {
				return nil
			}
		}
		for ; arrays > 0; arrays-- {
			if f.Items == nil {
				return nil
			}
			f = f.Items
		}
	}
	return f
}

// TopLevel returns the names of the root properties in source order.
func (s *Schema) TopLevel() []string {
	names := make([]string, 0, len(s.Root.Fields))
	for _, f := range s.Root.Fields {
		names = append(names, f.Name)
	}
	return names
}

// fragment returns a schema document restricted to fields, which must all be
// direct children of the same object parent reached through objects only. The
// path from the root down to that parent is kept so a result for the fragment
// merges back by schema path.
func (s *Schema) fragment(fields []*Field) *object {
	if len(fields) == 0 {
		return restrict(s.Root.def, nil)
	}
	parent := fields[0].parent
	members := make([]member, 0, len(fields))
	for _, f := range fields {
		members = append(members, member{name: f.Name, def: f.def, required: f.Required})
	}
	out := restrict(parent.def, members)
	for p := parent; p.parent != nil; p = p.parent {
		if p.parent.Items == p {
			out = withItems(p.parent.def, out)
			continue
		}
		out = restrict(p.parent.def, []member{{name: p.Name, def: out, required: p.Required}})
	}
	return out
}

// withItems copies an array definition replacing its item schema.
func withItems(array, items *object) *object {
	out := newObject()
	for _, k := range array.keys {
		if k == "items" || k == "$ref" {
			continue
		}
		out.set(k, array.values[k])
	}
	if _, ok := out.get("type"); !ok {
		out.set("type", "array")
	}
	out.set("items", items)
	return out
}

type member struct {
	name     string
	def      *object
	required bool
}

// restrict copies an object definition keeping only the given properties.
func restrict(parent *object, members []member) *object {
	out := newObject()
	for _, k := range parent.keys {
		switch k {
		case "properties", "required", "$ref":
			continue
		}
		out.set(k, parent.values[k])
	}
	if _, ok := out.get("type"); !ok {
		out.set("type", "object")
	}
	props := newObject()
	var required []any
	for _, m := range members {
		props.set(m.name, m.def)
		if m.required {
			required = append(required, m.name)
		}
	}
	out.set("properties", props)
	if len(required) > 0 {
		out.set("required", required)
	}
	return out
}

type schemaParser struct {
	doc    *object
	onPath map[string]bool
}

func (p *schemaParser) field(name, path string, v any, depth int, parent *Field) (*Field, error) {
	def, ok := v.(*object)
	if !ok {
		return nil, &SchemaParseError{Path: path, Reason: "field definition must be an object"}
	}
	f := &Field{Name: name, Path: path, Depth: depth, def: def, parent: parent}

	if ref, ok := def.get("$ref"); ok {
		target, _ := ref.(string)
		f.Ref = target
		key := refKey(target)
		if p.onPath[key] {
			f.Type = TypeObject
			f.Cyclic = true
			return f, nil
		}
		resolved, err := p.resolve(target)
		if err != nil {
			return nil, &SchemaParseError{Path: path, Reason: fmt.Sprintf("unresolvable $ref %q", target), Err: err}
		}
		p.onPath[key] = true
		defer delete(p.onPath, key)
		rf, err := p.field(name, path, resolved, depth, parent)
		if err != nil {
			return nil, err
		}
		rf.Ref = target
		return rf, nil
	}

	typ, err := declaredType(def)
	if err != nil {
		return nil, &SchemaParseError{Path: path, Reason: err.Error()}
	}
	f.Type = typ
	if enum, ok := def.get("enum"); ok {
		values, _ := enum.([]any)
		f.Enum = values
		f.Type = TypeEnum
	}
	if b, ok := def.get("x-singular"); ok {
		f.Singular, _ = b.(bool)
	}

	switch f.Type {
	case TypeObject:
		required := map[string]bool{}
		if r, ok := def.get("required"); ok {
			list, _ := r.([]any)
			for _, item := range list {
				if s, ok := item.(string); ok {
					required[s] = true
				}
			}
		}
		if props, ok := def.get("properties"); ok {
			obj, ok := props.(*object)
			if !ok {
				return nil, &SchemaParseError{Path: path, Reason: "properties must be an object"}
			}
			for _, key := range obj.keys {
				child, err := p.field(key, joinPath(path, key), obj.values[key], depth+1, f)
				if err != nil {
					return nil, err
				}
				child.Required = required[key]
				f.Fields = append(f.Fields, child)
			}
		}
	case TypeArray:
		items, ok := def.get("items")
		if tuple, isTuple := items.([]any); isTuple && len(tuple) > 0 {
			items = tuple[0]
		}
		if itemDef, isObj := items.(*object); ok && isObj {
			item, err := p.field("[]", path+"[]", itemDef, depth, f)
			if err != nil {
				return nil, err
			}
			f.Items = item
		}
	}
	return f, nil
}

// refKey normalises a local ref so "#" and "#/" name the same target.
func refKey(ref string) string {
	if ref == "#/" {
		return "#"
	}
	return strings.TrimSuffix(ref, "/")
}

func (p *schemaParser) resolve(ref string) (*object, error) {
	if !strings.HasPrefix(ref, "#") {
		return nil, errors.New("only local references are supported")
	}
	var cur any = p.doc
	for _, seg := range strings.Split(strings.TrimPrefix(ref, "#"), "/") {
		if seg == "" {
			continue
		}
		seg = strings.ReplaceAll(strings.ReplaceAll(seg, "~1", "/"), "~0", "~")
		obj, ok := cur.(*object)
		if !ok {
			return nil, fmt.Errorf("segment %q is not an object", seg)
		}
		if cur, ok = obj.get(seg); !ok {
			return nil, fmt.Errorf("segment %q not found", seg)
		}
	}
	obj, ok := cur.(*object)
	if !ok {
		return nil, errors.New("reference target is not an object")
	}
	return obj, nil
}

// declaredType reads "type", inferring it from other keywords when absent.
func declaredType(def *object) (FieldType, error) {
	if t, ok := def.get("type"); ok {
		switch tv := t.(type) {
		case string:
			return checkType(tv)
		case []any:
			for _, item := range tv {
				if s, ok := item.(string); ok && s != "null" {
					return checkType(s)
				}
			}
			return TypeNull, nil
		default:
			return "", fmt.Errorf("type must be a string or list, got %T", t)
		}
	}
	switch {
	case def.has("enum"), def.has("const"):
		return TypeEnum, nil
	case def.has("properties"):
		return TypeObject, nil
	case def.has("items"):
		return TypeArray, nil
	case def.has("anyOf"), def.has("oneOf"), def.has("allOf"):
		return TypeUnion, nil
	}
	return "", errors.New("missing type declaration")
}

func checkType(s string) (FieldType, error) {
	switch t := FieldType(s); t {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeNull, TypeObject, TypeArray, TypeEnum:
		return t, nil
	}
	return "", fmt.Errorf("unknown type %q", s)
}

func joinPath(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "." + child
}

// object is a JSON object that remembers key order.
type object struct {
	keys   []string
	values map[string]any
}

func newObject() *object {
	return &object{values: map[string]any{}}
}

func (o *object) get(key string) (any, bool) {
	v, ok := o.values[key]
	return v, ok
}

func (o *object) has(key string) bool {
	_, ok := o.values[key]
	return ok
}

func (o *object) set(key string, v any) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

func (o *object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalIndent(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		// only reachable for values that were not decoded from a document
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// decodeDocument decodes JSON when the input looks like JSON and YAML otherwise.
func decodeDocument(data []byte) (any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty document")
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return decodeJSON(trimmed)
	}
	var n yaml.Node
	if err := yaml.Unmarshal(trimmed, &n); err != nil {
		return nil, err
	}
	return fromYAML(&n)
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after top-level value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		obj := newObject()
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := kt.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected object key %v", kt)
			}
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			obj.set(key, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		arr := []any{}
		for dec.More() {
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	}
	return nil, fmt.Errorf("unexpected delimiter %v", delim)
}

func fromYAML(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, errors.New("empty document")
		}
		return fromYAML(n.Content[0])
	case yaml.AliasNode:
		return fromYAML(n.Alias)
	case yaml.MappingNode:
		obj := newObject()
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := fromYAML(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			obj.set(n.Content[i].Value, v)
		}
		return obj, nil
	case yaml.SequenceNode:
		arr := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := fromYAML(c)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, nil
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, fmt.Errorf("unsupported YAML node kind %d", n.Kind)
}
