package shape

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/bitwire/bitio"
)

// Schema documents describe named types and message sets:
//
// meta:
//   id: <name>
//   bit_order: msb | lsb
//
// types:
//   <type>:
//     seq:                       # struct
//       - id: <field>
//         type: u8 | s16 | bool | <type> | <elem>[N]
//   <type>:
//     tag_bits: <N>              # union; omit to size from the largest tag
//     variants:
//       - id: <variant>
//         tag: <N>               # defaults to the variant's index
//         type: <type>           # omit for a unit variant
//         seq: [...]             # or an inline struct payload
//
// protocols:
//   <set>:
//     id_bits: <N>
//     out:                       # this side to peer
//       - id: <message>
//         code: <N>              # defaults to the message's index
//         type: <type>
//         depth: <N>             # > 0 makes the message a FIFO channel
//     in:                        # peer to this side
//       - id: <message>
//         type: <type>
//         apply: replace | accumulate

// Format selects the document syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath picks a format from a file extension, YAML by default.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML
	default:
		return FormatYAML
	}
}

// ValueError is a schema error tied to a document line. Line is 0 when the
// source format does not report positions.
type ValueError struct {
	Line int
	Err  error
}

func (v ValueError) Unwrap() error { return v.Err }

func (v ValueError) Error() string {
	if v.Line == 0 {
		return v.Err.Error()
	}
	return fmt.Sprintf("%d: %s", v.Line, v.Err)
}

func valueErrorf(line int, format string, a ...any) ValueError {
	return ValueError{Line: line, Err: fmt.Errorf(format, a...)}
}

var typeExprRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)((?:\[[0-9]+\])*)$`)

// TypeExpr is a type reference as written in a document: a primitive name,
// a named type, and zero or more [N] array suffixes.
type TypeExpr struct {
	Str  string
	Line int
}

func (e *TypeExpr) parse() error {
	e.Str = strings.TrimSpace(e.Str)
	if !typeExprRe.MatchString(e.Str) {
		return fmt.Errorf("invalid type expression %q", e.Str)
	}
	return nil
}

func (e *TypeExpr) UnmarshalYAML(value *yaml.Node) error {
	if err := value.Decode(&e.Str); err != nil {
		return err
	}
	e.Line = value.Line
	if err := e.parse(); err != nil {
		return ValueError{Line: value.Line, Err: err}
	}
	return nil
}

// UnmarshalText is used by the TOML decoder.
func (e *TypeExpr) UnmarshalText(text []byte) error {
	e.Str = string(text)
	return e.parse()
}

type metaDoc struct {
	ID       string `yaml:"id" toml:"id"`
	BitOrder string `yaml:"bit_order" toml:"bit_order"`
}

type fieldDoc struct {
	ID   string   `yaml:"id" toml:"id"`
	Type TypeExpr `yaml:"type" toml:"type"`
}

type variantDoc struct {
	ID   string     `yaml:"id" toml:"id"`
	Tag  *uint64    `yaml:"tag" toml:"tag"`
	Type *TypeExpr  `yaml:"type" toml:"type"`
	Seq  []fieldDoc `yaml:"seq" toml:"seq"`
}

type typeDoc struct {
	Seq      []fieldDoc   `yaml:"seq" toml:"seq"`
	TagBits  int          `yaml:"tag_bits" toml:"tag_bits"`
	Variants []variantDoc `yaml:"variants" toml:"variants"`
}

type messageDoc struct {
	ID    string   `yaml:"id" toml:"id"`
	Code  *uint64  `yaml:"code" toml:"code"`
	Type  TypeExpr `yaml:"type" toml:"type"`
	Apply string   `yaml:"apply" toml:"apply"`
	Depth int      `yaml:"depth" toml:"depth"`
}

type protocolDoc struct {
	IDBits int          `yaml:"id_bits" toml:"id_bits"`
	Out    []messageDoc `yaml:"out" toml:"out"`
	In     []messageDoc `yaml:"in" toml:"in"`
}

type document struct {
	Meta      metaDoc                `yaml:"meta" toml:"meta"`
	Types     map[string]typeDoc     `yaml:"types" toml:"types"`
	Protocols map[string]protocolDoc `yaml:"protocols" toml:"protocols"`

	// lines holds YAML positions of type and protocol keys.
	lines map[string]int
}

// LoadFile reads a schema document, choosing the format from the extension.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	reg, err := LoadBytes(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// Load reads a schema document from r.
func Load(r io.Reader, format Format) (*Registry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	return LoadBytes(data, format)
}

// LoadBytes parses and resolves a schema document.
func LoadBytes(data []byte, format Format) (*Registry, error) {
	var doc document
	switch format {
	case FormatTOML:
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to parse schema: %w", err)
		}
	case FormatYAML, "":
		var root yaml.Node
		if err := yaml.Unmarshal(data, &root); err != nil {
			return nil, fmt.Errorf("failed to parse schema: %w", err)
		}
		if err := root.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to parse schema: %w", err)
		}
		doc.lines = keyLines(&root)
	default:
		return nil, fmt.Errorf("unknown schema format %q", format)
	}
	return resolve(&doc)
}

// keyLines maps "types.<name>" and "protocols.<name>" to their YAML lines.
func keyLines(root *yaml.Node) map[string]int {
	lines := make(map[string]int)
	n := root
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		n = n.Content[0]
	}
	if n.Kind != yaml.MappingNode {
		return lines
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		section := n.Content[i].Value
		body := n.Content[i+1]
		if body.Kind != yaml.MappingNode {
			continue
		}
		for j := 0; j+1 < len(body.Content); j += 2 {
			lines[section+"."+body.Content[j].Value] = body.Content[j].Line
		}
	}
	return lines
}

type resolver struct {
	doc      *document
	resolved map[string]Shape
	active   map[string]bool
}

func resolve(doc *document) (*Registry, error) {
	order, err := bitio.ParseOrder(doc.Meta.BitOrder)
	if err != nil {
		return nil, err
	}
	reg := NewRegistry()
	reg.ID = doc.Meta.ID
	reg.BitOrder = order

	rv := &resolver{doc: doc, resolved: map[string]Shape{}, active: map[string]bool{}}
	for _, name := range sortedKeys(doc.Types) {
		s, err := rv.named(name, doc.lines["types."+name])
		if err != nil {
			return nil, err
		}
		if err := reg.Define(name, s); err != nil {
			return nil, ValueError{Line: doc.lines["types."+name], Err: err}
		}
	}
	for _, name := range sortedKeys(doc.Protocols) {
		decl, err := rv.protocol(name, doc.Protocols[name])
		if err != nil {
			return nil, err
		}
		if err := reg.DefineProtocol(decl); err != nil {
			return nil, ValueError{Line: doc.lines["protocols."+name], Err: err}
		}
	}
	return reg, nil
}

func (rv *resolver) named(name string, line int) (Shape, error) {
	if s, ok := rv.resolved[name]; ok {
		return s, nil
	}
	td, ok := rv.doc.Types[name]
	if !ok {
		return nil, valueErrorf(line, "unknown type %q", name)
	}
	if rv.active[name] {
		return nil, valueErrorf(line, "type %q refers to itself", name)
	}
	rv.active[name] = true
	defer delete(rv.active, name)

	defLine := rv.doc.lines["types."+name]
	var s Shape
	switch {
	case len(td.Seq) > 0 && len(td.Variants) > 0:
		return nil, valueErrorf(defLine, "type %q has both seq and variants", name)
	case len(td.Seq) > 0:
		st, err := rv.structOf(name, td.Seq)
		if err != nil {
			return nil, err
		}
		s = st
	case len(td.Variants) > 0:
		u, err := rv.unionOf(name, td)
		if err != nil {
			return nil, err
		}
		s = u
	default:
		return nil, valueErrorf(defLine, "type %q has neither seq nor variants", name)
	}
	rv.resolved[name] = s
	return s, nil
}

func (rv *resolver) structOf(name string, seq []fieldDoc) (*Struct, error) {
	st := &Struct{Name: name}
	for _, fd := range seq {
		fs, err := rv.expr(fd.Type)
		if err != nil {
			return nil, err
		}
		st.Fields = append(st.Fields, Field{Name: fd.ID, Shape: fs})
	}
	return st, nil
}

func (rv *resolver) unionOf(name string, td typeDoc) (*Union, error) {
	u := &Union{Name: name}
	for i, vd := range td.Variants {
		v := Variant{Name: vd.ID, Tag: uint64(i)}
		if vd.Tag != nil {
			v.Tag = *vd.Tag
		}
		switch {
		case vd.Type != nil && len(vd.Seq) > 0:
			return nil, valueErrorf(vd.Type.Line, "variant %s.%s has both type and seq", name, vd.ID)
		case vd.Type != nil:
			ps, err := rv.expr(*vd.Type)
			if err != nil {
				return nil, err
			}
			v.Payload = ps
		case len(vd.Seq) > 0:
			ps, err := rv.structOf(vd.ID, vd.Seq)
			if err != nil {
				return nil, err
			}
			v.Payload = ps
		}
		u.Variants = append(u.Variants, v)
	}
	u.TagWidth = td.TagBits
	if u.TagWidth == 0 {
		u.TagWidth = TagWidthFor(u.Variants)
	}
	return u, nil
}

// expr resolves a type expression such as "u8", "Thing" or "s8[2][3]".
// Array suffixes nest outward: "s8[2][3]" is three arrays of two.
func (rv *resolver) expr(e TypeExpr) (Shape, error) {
	m := typeExprRe.FindStringSubmatch(e.Str)
	if m == nil {
		return nil, valueErrorf(e.Line, "invalid type expression %q", e.Str)
	}
	var s Shape
	if p, ok := parsePrimitive(m[1]); ok {
		s = p
	} else {
		named, err := rv.named(m[1], e.Line)
		if err != nil {
			return nil, err
		}
		s = named
	}
	for _, dim := range strings.Split(m[2], "]") {
		dim = strings.TrimPrefix(dim, "[")
		if dim == "" {
			continue
		}
		n, err := strconv.Atoi(dim)
		if err != nil || n < 1 {
			return nil, valueErrorf(e.Line, "invalid array count in %q", e.Str)
		}
		s = Array{Elem: s, Count: n}
	}
	return s, nil
}

// parsePrimitive recognises uN, sN and bool.
func parsePrimitive(name string) (Primitive, bool) {
	if name == "bool" {
		return Bool(), true
	}
	if len(name) < 2 || (name[0] != 'u' && name[0] != 's') {
		return Primitive{}, false
	}
	width, err := strconv.Atoi(name[1:])
	if err != nil || width < 1 || width > MaxWidth {
		return Primitive{}, false
	}
	return Primitive{Width: width, Signed: name[0] == 's'}, true
}

func (rv *resolver) protocol(name string, pd protocolDoc) (ProtocolDecl, error) {
	decl := ProtocolDecl{Name: name, IDWidth: pd.IDBits}
	var err error
	if decl.Out, err = rv.messages(pd.Out); err != nil {
		return ProtocolDecl{}, err
	}
	if decl.In, err = rv.messages(pd.In); err != nil {
		return ProtocolDecl{}, err
	}
	if decl.IDWidth == 0 {
		decl.IDWidth = idWidthFor(decl.Out, decl.In)
	}
	return decl, nil
}

func (rv *resolver) messages(docs []messageDoc) ([]MessageDecl, error) {
	out := make([]MessageDecl, 0, len(docs))
	for i, md := range docs {
		s, err := rv.expr(md.Type)
		if err != nil {
			return nil, err
		}
		if md.Depth < 0 {
			return nil, valueErrorf(md.Type.Line, "message %s: negative depth", md.ID)
		}
		apply, err := ParseApply(md.Apply)
		if err != nil {
			return nil, ValueError{Line: md.Type.Line, Err: fmt.Errorf("message %s: %w", md.ID, err)}
		}
		m := MessageDecl{Name: md.ID, ID: uint64(i), Shape: s, Apply: apply, Depth: md.Depth}
		if md.Code != nil {
			m.ID = *md.Code
		}
		out = append(out, m)
	}
	return out, nil
}

func idWidthFor(sets ...[]MessageDecl) int {
	var variants []Variant
	for _, set := range sets {
		for _, m := range set {
			variants = append(variants, Variant{Tag: m.ID})
		}
	}
	return TagWidthFor(variants)
}

// ErrUnknownApply is returned for apply policy names other than replace and
// accumulate.
var ErrUnknownApply = errors.New("unknown apply policy")

// ParseApply normalises an apply policy name. The empty string is "replace".
func ParseApply(s string) (string, error) {
	switch s {
	case "", ApplyReplace:
		return ApplyReplace, nil
	case ApplyAccumulate:
		return ApplyAccumulate, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownApply, s)
	}
}
