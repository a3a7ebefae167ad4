package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/bitwire/cli/render"
	"github.com/pithecene-io/bitwire/codec"
	"github.com/pithecene-io/bitwire/iox"
	"github.com/pithecene-io/bitwire/ipc"
	"github.com/pithecene-io/bitwire/protocol"
)

// FrameResponse is the response for debug frame.
type FrameResponse struct {
	Direction string `json:"direction" yaml:"direction"`
	Status    string `json:"status" yaml:"status"`
	ID        uint64 `json:"id" yaml:"id"`
	Message   string `json:"message,omitempty" yaml:"message,omitempty"`
	Value     any    `json:"value,omitempty" yaml:"value,omitempty"`
}

// IPCFrameRow is one frame listed by debug ipc.
type IPCFrameRow struct {
	Index int    `json:"index" yaml:"index"`
	Type  string `json:"type" yaml:"type"`
	Seq   uint64 `json:"seq" yaml:"seq"`
	Size  int    `json:"size" yaml:"size"`
	Data  string `json:"data,omitempty" yaml:"data,omitempty"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// DiffResponse is the response for debug diff.
type DiffResponse struct {
	Type  string `json:"type" yaml:"type"`
	Equal bool   `json:"equal" yaml:"equal"`
	Diff  string `json:"diff,omitempty" yaml:"diff,omitempty"`
}

// DebugCommand returns the debug command with subcommands.
// Debug commands are offline diagnostic tools; they never open a transport.
func DebugCommand() *cli.Command {
	return &cli.Command{
		Name:  "debug",
		Usage: "Diagnostic tools (decode frames, diff values, list ipc dumps)",
		Subcommands: []*cli.Command{
			debugFrameCommand(),
			debugDiffCommand(),
			debugIPCCommand(),
		},
	}
}

func debugFrameCommand() *cli.Command {
	return &cli.Command{
		Name:      "frame",
		Usage:     "Decode one protocol frame (id plus payload)",
		ArgsUsage: "<schema> <hex>",
		Flags: append(CodecFlags(),
			&cli.StringFlag{
				Name:  "protocol",
				Usage: "Message set name (optional when the schema declares one)",
			},
			&cli.StringFlag{
				Name:  "direction",
				Usage: "Frame direction relative to the declaring side: in or out",
				Value: "in",
			},
		),
		Action: debugFrameAction,
	}
}

func debugFrameAction(c *cli.Context) error {
	if c.NArg() < 2 {
		return cli.Exit("schema and hex required", 1)
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for debug commands", 1)
	}
	dir := c.String("direction")
	if dir != "in" && dir != "out" {
		return cli.Exit(fmt.Sprintf("invalid direction: %q (must be in or out)", dir), 1)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	reg, err := loadSchema(c.Args().Get(0))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	frame, err := parseHex(c.Args().Get(1))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	opts, err := codecOptions(c, reg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	// An out frame is decoded by the peer, so decode it with the mirror.
	set, err := loadMessageSet(reg, c.String("protocol"), dir == "out", opts...)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	resp, err := decodeFrame(set, frame)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	resp.Direction = dir
	return r.Render(resp)
}

// decodeFrame applies frame to a fresh state of set and reports the
// decoded message.
func decodeFrame(set *protocol.MessageSet, frame []byte) (*FrameResponse, error) {
	st := protocol.NewState(set)
	if err := st.Init(); err != nil {
		return nil, err
	}
	status, err := st.DecodeApply(frame)
	resp := &FrameResponse{Status: status.Code.String(), ID: status.ID, Message: status.Message}
	if errors.Is(err, protocol.ErrUnrecognized) {
		return resp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	switch status.Code {
	case protocol.StatusApplied:
		resp.Value, err = st.Value(status.Message)
	case protocol.StatusQueued:
		resp.Value, _, err = st.Dequeue(status.Message)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func debugDiffCommand() *cli.Command {
	return &cli.Command{
		Name:      "diff",
		Usage:     "Compare two packed values of one type field by field",
		ArgsUsage: "<schema> <type> <hex-a> <hex-b>",
		Flags:     CodecFlags(),
		Action:    debugDiffAction,
	}
}

func debugDiffAction(c *cli.Context) error {
	if c.NArg() < 4 {
		return cli.Exit("schema, type and two hex values required", 1)
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for debug commands", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	name, cd, err := typeCodec(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	a, err := parseHex(c.Args().Get(2))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	b, err := parseHex(c.Args().Get(3))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	diff, err := diffValues(cd, a, b)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return r.Render(DiffResponse{Type: name, Equal: diff == "", Diff: diff})
}

// diffValues unpacks a and b with cd and returns a unified diff of their
// YAML renderings, empty when the decoded values are equal.
func diffValues(cd *codec.Codec, a, b []byte) (string, error) {
	var docs [2][]string
	for i, buf := range [][]byte{a, b} {
		if len(buf) != cd.Size() {
			return "", fmt.Errorf("value %d is %d bytes, want %d", i+1, len(buf), cd.Size())
		}
		v, err := cd.Unpack(buf)
		if err != nil {
			return "", fmt.Errorf("unpack value %d: %w", i+1, err)
		}
		out, err := yaml.Marshal(v)
		if err != nil {
			return "", err
		}
		docs[i] = difflib.SplitLines(string(out))
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        docs[0],
		B:        docs[1],
		FromFile: hex.EncodeToString(a),
		ToFile:   hex.EncodeToString(b),
		Context:  2,
	})
}

func debugIPCCommand() *cli.Command {
	return &cli.Command{
		Name:      "ipc",
		Usage:     "List the frames of an engine ipc stream dump",
		ArgsUsage: "<file|->",
		Flags: append(ReadOnlyFlags(),
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Include payload bytes",
			},
		),
		Action: debugIPCAction,
	}
}

func debugIPCAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("dump file required (- for stdin)", 1)
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for debug commands", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if path := c.Args().First(); path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		defer iox.DiscardClose(f)
		in = f
	}

	rows, err := listIPCFrames(in, c.Bool("verbose"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return r.Render(rows)
}

// listIPCFrames decodes every frame of a dump. Undecodable frames are listed
// with their error; a truncated or oversized frame ends the listing.
func listIPCFrames(in io.Reader, verbose bool) ([]IPCFrameRow, error) {
	dec := ipc.NewFrameDecoder(in)
	var rows []IPCFrameRow
	for i := 0; ; i++ {
		f, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return rows, nil
			}
			if ipc.IsFatalFrameError(err) {
				return rows, err
			}
			rows = append(rows, IPCFrameRow{Index: i, Error: err.Error()})
			continue
		}
		row := IPCFrameRow{Index: i, Type: f.Type, Seq: f.Seq, Size: len(f.Data)}
		if verbose {
			row.Data = hex.EncodeToString(f.Data)
		}
		rows = append(rows, row)
	}
}
