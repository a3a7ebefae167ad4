package cmd

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/bitwire/bitio"
	"github.com/pithecene-io/bitwire/codec"
	"github.com/pithecene-io/bitwire/protocol"
	"github.com/pithecene-io/bitwire/schemas/calculator"
	"github.com/pithecene-io/bitwire/schemas/counter"
	"github.com/pithecene-io/bitwire/schemas/thing"
	"github.com/pithecene-io/bitwire/shape"
)

// builtinSchemas are addressable by name wherever a schema path is accepted.
var builtinSchemas = map[string]func() *shape.Registry{
	"calculator": calculator.Registry,
	"counter":    counter.Registry,
	"thing":      thing.Registry,
}

func builtinNames() []string {
	names := make([]string, 0, len(builtinSchemas))
	for name := range builtinSchemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// loadSchema resolves ref as a built-in schema name or a schema file path.
func loadSchema(ref string) (*shape.Registry, error) {
	if ref == "" {
		return nil, fmt.Errorf("schema is required: a .yaml/.toml path or one of %s",
			strings.Join(builtinNames(), ", "))
	}
	if load, ok := builtinSchemas[ref]; ok {
		return load(), nil
	}
	reg, err := shape.LoadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", ref, err)
	}
	return reg, nil
}

// codecOptions derives codec options from the schema and the --bit-order
// and --strict flags.
func codecOptions(c *cli.Context, reg *shape.Registry) ([]codec.Option, error) {
	order := reg.BitOrder
	if s := c.String("bit-order"); s != "" {
		var err error
		if order, err = bitio.ParseOrder(s); err != nil {
			return nil, err
		}
	}
	opts := []codec.Option{codec.WithOrder(order)}
	if c.Bool("strict") {
		opts = append(opts, codec.WithStrict())
	}
	return opts, nil
}

// loadMessageSet builds the named message set. With peer set the directions
// are swapped, giving the other end of the link.
func loadMessageSet(reg *shape.Registry, name string, peer bool, opts ...codec.Option) (*protocol.MessageSet, error) {
	if name == "" {
		names := reg.ProtocolNames()
		if len(names) != 1 {
			return nil, fmt.Errorf("protocol is required (schema declares %d: %s)",
				len(names), strings.Join(names, ", "))
		}
		name = names[0]
	}
	decl, ok := reg.Protocol(name)
	if !ok {
		return nil, fmt.Errorf("unknown protocol %q", name)
	}
	set, err := protocol.FromDecl(decl, opts...)
	if err != nil {
		return nil, err
	}
	if peer {
		set = set.Mirror()
	}
	return set, nil
}

// parseValue decodes a value given on the command line as YAML or JSON.
func parseValue(text string) (any, error) {
	var v any
	if err := yaml.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("invalid value %q: %w", text, err)
	}
	return v, nil
}

// parseHex decodes hex bytes, ignoring a 0x prefix, spaces and colons.
func parseHex(text string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "_", "").Replace(strings.TrimSpace(text))
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	buf, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", text, err)
	}
	return buf, nil
}
