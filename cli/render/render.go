// Package render writes CLI results as JSON, YAML or aligned tables.
//
// Without --format, a terminal on stdout gets a table and anything else gets
// JSON. --no-color only affects tables; the TUI keeps its own styling.
//
// Tables:
//   - a slice renders one row per element, columns from the first element
//   - a bit layout ([]shape.Slot) renders bit and byte ranges per slot
//   - anything else renders one "path: value" line per leaf, where decoded
//     values (codec.Record, codec.Variant, []any) are walked to dotted paths
//     such as value.Op.src_a or pair[1]
package render

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pithecene-io/bitwire/cli/tui"
	"github.com/pithecene-io/bitwire/codec"
	"github.com/pithecene-io/bitwire/shape"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Format represents an output format.
type Format string

const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format name. The empty string is returned as is so
// the caller can pick a default.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatTable, FormatYAML, "":
		return f, nil
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Renderer writes results in one format.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer creates a renderer from the --format and --no-color flags,
// writing to stdout.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = FormatJSON
		if term.IsTerminal(int(os.Stdout.Fd())) {
			format = FormatTable
		}
	}
	return NewRendererWithWriter(format, c.Bool("no-color"), os.Stdout), nil
}

// NewRendererWithWriter creates a renderer writing to out.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

// Format returns the selected output format.
func (r *Renderer) Format() Format { return r.format }

// Render writes data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		return r.renderTable(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

// RenderTUI hands data to the TUI view registered as viewType.
func (r *Renderer) RenderTUI(viewType string, data any) error {
	if !tui.IsTUISupported(viewType) {
		return fmt.Errorf("--tui is not supported for %s", viewType)
	}
	return tui.Run(viewType, data)
}

func (r *Renderer) renderTable(data any) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)

	var err error
	switch x := data.(type) {
	case []shape.Slot:
		err = writeRows(w, slotHeader, slotRows(x))
	default:
		v := deref(reflect.ValueOf(data))
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() != reflect.Uint8 {
			header, rows := sliceRows(v)
			err = writeRows(w, header, rows)
		} else {
			walk("", v, func(path, val string) {
				if path == "" {
					fmt.Fprintln(w, val)
					return
				}
				fmt.Fprintf(w, "%s:\t%s\n", path, val)
			})
		}
	}
	if err != nil {
		return err
	}
	return w.Flush()
}

func writeRows(w io.Writer, header []string, rows [][]string) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "(no results)")
		return err
	}
	if _, err := fmt.Fprintln(w, strings.Join(header, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(w, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return nil
}

var slotHeader = []string{"bits", "bytes", "path", "kind", "width", "variant"}

// slotRows lays out each slot with its inclusive bit and byte ranges.
func slotRows(slots []shape.Slot) [][]string {
	rows := make([][]string, 0, len(slots))
	for _, s := range slots {
		kind := string(s.Kind)
		if s.Signed {
			kind += " (signed)"
		}
		rows = append(rows, []string{
			span(s.Offset, s.End()-1),
			span(s.Offset/8, (s.End()-1)/8),
			s.Path,
			kind,
			strconv.Itoa(s.Width),
			s.Variant,
		})
	}
	return rows
}

func span(first, last int) string {
	if last <= first {
		return strconv.Itoa(first)
	}
	return fmt.Sprintf("%d-%d", first, last)
}

// sliceRows builds one row per element. Columns come from the first
// element: json field names for structs, sorted keys for maps.
func sliceRows(v reflect.Value) ([]string, [][]string) {
	if v.Len() == 0 {
		return nil, nil
	}
	first := deref(v.Index(0))

	var (
		header []string
		keys   []reflect.Value
	)
	switch first.Kind() {
	case reflect.Struct:
		for _, f := range fields(first.Type()) {
			header = append(header, f.name)
		}
	case reflect.Map:
		keys = sortedKeys(first)
		for _, k := range keys {
			header = append(header, fmt.Sprint(k.Interface()))
		}
	default:
		header = []string{"value"}
	}

	rows := make([][]string, 0, v.Len())
	for i := range v.Len() {
		el := deref(v.Index(i))
		var row []string
		switch el.Kind() {
		case reflect.Struct:
			for _, f := range fields(el.Type()) {
				row = append(row, cell(el.Field(f.index)))
			}
		case reflect.Map:
			for _, k := range keys {
				row = append(row, cell(el.MapIndex(k)))
			}
		default:
			row = []string{cell(el)}
		}
		rows = append(rows, row)
	}
	return header, rows
}

// cell renders v on one line: leaves as is, composites as path=value pairs.
func cell(v reflect.Value) string {
	var parts []string
	walk("", v, func(path, val string) {
		if path == "" {
			parts = append(parts, val)
			return
		}
		parts = append(parts, path+"="+val)
	})
	return strings.Join(parts, " ")
}

var (
	variantType = reflect.TypeOf(codec.Variant{})
	timeType    = reflect.TypeOf(time.Time{})
)

// walk emits one (path, value) pair per leaf of v.
func walk(path string, v reflect.Value, emit func(path, val string)) {
	v = deref(v)
	if !v.IsValid() {
		emit(path, "")
		return
	}

	switch {
	case v.Type() == variantType:
		sel := v.Interface().(codec.Variant)
		emit(path, sel.Name)
		if sel.Value != nil {
			walk(join(path, sel.Name), reflect.ValueOf(sel.Value), emit)
		}
		return
	case v.Type() == timeType:
		emit(path, v.Interface().(time.Time).Format(time.RFC3339Nano))
		return
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, v.Len())
			reflect.Copy(reflect.ValueOf(b), v)
			emit(path, hex.EncodeToString(b))
			return
		}
		if v.Len() == 0 {
			emit(path, "[]")
			return
		}
		for i := range v.Len() {
			walk(path+"["+strconv.Itoa(i)+"]", v.Index(i), emit)
		}
	case reflect.Map:
		if v.Len() == 0 {
			emit(path, "{}")
			return
		}
		for _, k := range sortedKeys(v) {
			walk(join(path, fmt.Sprint(k.Interface())), v.MapIndex(k), emit)
		}
	case reflect.Struct:
		for _, f := range fields(v.Type()) {
			walk(join(path, f.name), v.Field(f.index), emit)
		}
	default:
		emit(path, fmt.Sprint(v.Interface()))
	}
}

type field struct {
	name  string
	index int
}

// fields lists the exported fields of t by their json names.
func fields(t reflect.Type) []field {
	var out []field
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			continue
		case "":
			name = strings.ToLower(f.Name)
		}
		out = append(out, field{name: name, index: i})
	}
	return out
}

func deref(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

// sortedKeys returns map keys ordered by their printed form.
func sortedKeys(v reflect.Value) []reflect.Value {
	keys := v.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
	})
	return keys
}
