package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/bitwire/cli/render"
	"github.com/pithecene-io/bitwire/cli/tui"
	"github.com/pithecene-io/bitwire/protocol"
	"github.com/pithecene-io/bitwire/shape"
)

// SchemaView lists what a schema declares.
type SchemaView struct {
	ID        string         `json:"id" yaml:"id"`
	BitOrder  string         `json:"bit_order" yaml:"bit_order"`
	Types     []TypeRow      `json:"types" yaml:"types"`
	Protocols []ProtocolView `json:"protocols" yaml:"protocols"`
}

// TypeRow summarizes one named type.
type TypeRow struct {
	Name string `json:"name" yaml:"name"`
	Kind string `json:"kind" yaml:"kind"`
	Bits int    `json:"bits" yaml:"bits"`
	Size int    `json:"size" yaml:"size"`
}

// ProtocolView describes one message set and its frame sizes.
type ProtocolView struct {
	Name     string       `json:"name" yaml:"name"`
	IDWidth  int          `json:"id_bits" yaml:"id_bits"`
	SizeOut  int          `json:"size_out" yaml:"size_out"`
	SizeIn   int          `json:"size_in" yaml:"size_in"`
	Messages []MessageRow `json:"messages" yaml:"messages"`
}

// MessageRow describes one message of a set.
type MessageRow struct {
	Name      string `json:"name" yaml:"name"`
	Direction string `json:"direction" yaml:"direction"`
	ID        uint64 `json:"id" yaml:"id"`
	Shape     string `json:"shape" yaml:"shape"`
	Size      int    `json:"size" yaml:"size"`
	Apply     string `json:"apply" yaml:"apply"`
	Depth     int    `json:"depth,omitempty" yaml:"depth,omitempty"`
}

// InspectCommand returns the inspect command.
// Without a name it lists the schema; with one it shows a type's bit layout
// or a protocol's messages.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show the bit layout of a schema type or protocol",
		ArgsUsage: "<schema> [type|protocol]",
		Flags:     CodecFlags(),
		Action:    inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("schema required", 1)
	}
	reg, err := loadSchema(c.Args().Get(0))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	name := c.Args().Get(1)
	if name == "" {
		if c.Bool("tui") {
			return cli.Exit("--tui requires a type name", 1)
		}
		view, err := describeSchema(c, reg)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		if r.Format() == render.FormatTable {
			if err := r.Render(view.Types); err != nil {
				return err
			}
			for _, p := range view.Protocols {
				if err := r.Render(p.Messages); err != nil {
					return err
				}
			}
			return nil
		}
		return r.Render(view)
	}

	if s, ok := reg.Lookup(name); ok {
		view := tui.NewShapeView(name, s)
		if c.Bool("tui") {
			return r.RenderTUI(tui.ViewInspectShape, view)
		}
		if r.Format() == render.FormatTable {
			return r.Render(view.Slots)
		}
		return r.Render(view)
	}

	if _, ok := reg.Protocol(name); ok {
		if c.Bool("tui") {
			return cli.Exit("--tui is not supported for protocols", 1)
		}
		view, err := describeProtocol(c, reg, name)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		if r.Format() == render.FormatTable {
			return r.Render(view.Messages)
		}
		return r.Render(view)
	}

	return cli.Exit(fmt.Sprintf("schema has no type or protocol named %q", name), 1)
}

func describeSchema(c *cli.Context, reg *shape.Registry) (*SchemaView, error) {
	view := &SchemaView{ID: reg.ID, BitOrder: reg.BitOrder.String()}
	for _, name := range reg.Names() {
		s := reg.MustLookup(name)
		view.Types = append(view.Types, TypeRow{
			Name: name,
			Kind: s.Kind().String(),
			Bits: s.Bits(),
			Size: shape.Size(s),
		})
	}
	for _, name := range reg.ProtocolNames() {
		p, err := describeProtocol(c, reg, name)
		if err != nil {
			return nil, err
		}
		view.Protocols = append(view.Protocols, *p)
	}
	return view, nil
}

func describeProtocol(c *cli.Context, reg *shape.Registry, name string) (*ProtocolView, error) {
	opts, err := codecOptions(c, reg)
	if err != nil {
		return nil, err
	}
	set, err := loadMessageSet(reg, name, false, opts...)
	if err != nil {
		return nil, err
	}
	view := &ProtocolView{
		Name:    set.Name,
		IDWidth: set.IDWidth,
		SizeOut: set.SizeOut(),
		SizeIn:  set.SizeIn(),
	}
	for _, dir := range []protocol.Direction{protocol.Out, protocol.In} {
		for _, m := range set.Messages(dir) {
			size, _ := set.MessageSize(m.Name)
			view.Messages = append(view.Messages, MessageRow{
				Name:      m.Name,
				Direction: dir.String(),
				ID:        m.ID,
				Shape:     m.Shape.String(),
				Size:      size,
				Apply:     m.Apply.String(),
				Depth:     m.Depth,
			})
		}
	}
	return view, nil
}
