// Package cmd provides CLI commands for the bitwire binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for inspect and session.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (inspect, session only)",
	}

	// OrderFlag overrides the schema's bit order.
	OrderFlag = &cli.StringFlag{
		Name:  "bit-order",
		Usage: "Bit order override: msb or lsb (default: from schema)",
	}

	// StrictFlag rejects out-of-range values instead of truncating them.
	StrictFlag = &cli.BoolFlag{
		Name:  "strict",
		Usage: "Reject values that do not fit their field",
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// CodecFlags returns ReadOnlyFlags plus the codec option flags.
func CodecFlags() []cli.Flag {
	return append(ReadOnlyFlags(), OrderFlag, StrictFlag)
}
