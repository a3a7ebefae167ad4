package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/bitwire/cli/render"
	"github.com/pithecene-io/bitwire/codec"
)

// PackResponse is the response for the pack command.
type PackResponse struct {
	Type string `json:"type" yaml:"type"`
	Bits int    `json:"bits" yaml:"bits"`
	Size int    `json:"size" yaml:"size"`
	Hex  string `json:"hex" yaml:"hex"`
}

// UnpackResponse is the response for the unpack command.
type UnpackResponse struct {
	Type  string `json:"type" yaml:"type"`
	Value any    `json:"value" yaml:"value"`
}

// PackCommand returns the pack command.
func PackCommand() *cli.Command {
	return &cli.Command{
		Name:      "pack",
		Usage:     "Pack a JSON or YAML value into bytes",
		ArgsUsage: "<schema> <type> <value>",
		Flags:     CodecFlags(),
		Action:    packAction,
	}
}

// UnpackCommand returns the unpack command.
func UnpackCommand() *cli.Command {
	return &cli.Command{
		Name:      "unpack",
		Usage:     "Unpack hex bytes into a value",
		ArgsUsage: "<schema> <type> <hex>",
		Flags:     CodecFlags(),
		Action:    unpackAction,
	}
}

// typeCodec compiles the type named by the first two arguments.
func typeCodec(c *cli.Context) (string, *codec.Codec, error) {
	reg, err := loadSchema(c.Args().Get(0))
	if err != nil {
		return "", nil, err
	}
	name := c.Args().Get(1)
	s, ok := reg.Lookup(name)
	if !ok {
		return "", nil, fmt.Errorf("schema has no type named %q", name)
	}
	opts, err := codecOptions(c, reg)
	if err != nil {
		return "", nil, err
	}
	cd, err := codec.Compile(s, opts...)
	if err != nil {
		return "", nil, err
	}
	return name, cd, nil
}

func packAction(c *cli.Context) error {
	if c.NArg() < 3 {
		return cli.Exit("schema, type and value required", 1)
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for pack command", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	name, cd, err := typeCodec(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	v, err := parseValue(c.Args().Get(2))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	buf, err := cd.Pack(v)
	if err != nil {
		return cli.Exit(fmt.Sprintf("pack %s: %v", name, err), 1)
	}

	return r.Render(PackResponse{
		Type: name,
		Bits: cd.Bits(),
		Size: cd.Size(),
		Hex:  hex.EncodeToString(buf),
	})
}

func unpackAction(c *cli.Context) error {
	if c.NArg() < 3 {
		return cli.Exit("schema, type and hex required", 1)
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for unpack command", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	name, cd, err := typeCodec(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	buf, err := parseHex(c.Args().Get(2))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if len(buf) != cd.Size() {
		return cli.Exit(fmt.Sprintf("%s is %d bytes, got %d", name, cd.Size(), len(buf)), 1)
	}
	v, err := cd.Unpack(buf)
	if err != nil {
		return cli.Exit(fmt.Sprintf("unpack %s: %v", name, err), 1)
	}

	return r.Render(UnpackResponse{Type: name, Value: v})
}
