package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/pithecene-io/bitwire/capture"
	"github.com/pithecene-io/bitwire/cli/config"
	"github.com/pithecene-io/bitwire/cli/render"
	"github.com/pithecene-io/bitwire/types"
)

// showWarningThreshold is the number of frames above which capture show
// suggests --limit.
const showWarningThreshold = 500

// isStderrTTY returns true if stderr is a terminal.
func isStderrTTY() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// CaptureSessionRow is one row of capture list.
type CaptureSessionRow struct {
	SessionID string `json:"session_id" yaml:"session_id"`
}

// CaptureSummaryResponse is the response for capture show --summary.
type CaptureSummaryResponse struct {
	SessionID string         `json:"session_id" yaml:"session_id"`
	Summary   map[string]any `json:"summary" yaml:"summary"`
}

// CaptureCommand returns the capture command with subcommands.
func CaptureCommand() *cli.Command {
	return &cli.Command{
		Name:  "capture",
		Usage: "Read frames captured by bitwire session",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List captured sessions",
				Flags:  append(captureFlags(), ReadOnlyFlags()...),
				Action: captureListAction,
			},
			{
				Name:      "show",
				Usage:     "Show the frames of a captured session",
				ArgsUsage: "<session-id>",
				Flags: append(captureFlags(),
					append(ReadOnlyFlags(),
						&cli.StringFlag{
							Name:  "direction",
							Usage: "Only frames sent (tx) or received (rx)",
						},
						&cli.BoolFlag{
							Name:  "summary",
							Usage: "Show the session summary instead of frames",
						},
						&cli.IntFlag{
							Name:  "limit",
							Usage: "Maximum number of frames to show (0 = no limit)",
						},
					)...),
				Action: captureShowAction,
			},
		},
	}
}

func captureFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to bitwire.yaml (capture block)",
		},
		&cli.StringFlag{
			Name:  "backend",
			Usage: "Capture backend: fs or s3",
		},
		&cli.StringFlag{
			Name:  "path",
			Usage: "Capture location (fs: directory, s3: bucket/prefix)",
		},
		&cli.StringFlag{
			Name:  "dataset",
			Usage: "Capture dataset name",
		},
		&cli.StringFlag{
			Name:  "region",
			Usage: "AWS region for the s3 backend",
		},
		&cli.StringFlag{
			Name:  "endpoint",
			Usage: "Custom S3 endpoint",
		},
		&cli.BoolFlag{
			Name:  "s3-path-style",
			Usage: "Force path-style S3 addressing",
		},
	}
}

// openCaptureDataset resolves the capture block from --config and flags.
func openCaptureDataset(c *cli.Context) (lode.Dataset, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cc := &cfg.Capture
	overrideString(c, "backend", &cc.Backend)
	overrideString(c, "path", &cc.Path)
	overrideString(c, "dataset", &cc.Dataset)
	overrideString(c, "region", &cc.Region)
	overrideString(c, "endpoint", &cc.Endpoint)
	if c.IsSet("s3-path-style") {
		cc.S3PathStyle = c.Bool("s3-path-style")
	}
	if cc.Backend == "" {
		cc.Backend = "fs"
	}
	if cc.Path == "" {
		return nil, errors.New("capture path is required (--path or capture.path)")
	}

	switch cc.Backend {
	case "fs":
		return capture.OpenFS(cc.Dataset, cc.Path)
	case "s3":
		bucket, prefix := capture.ParseS3Path(cc.Path)
		return capture.OpenS3(c.Context, cc.Dataset, capture.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cc.Region,
			Endpoint:     cc.Endpoint,
			UsePathStyle: cc.S3PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown capture backend: %s (must be fs or s3)", cc.Backend)
	}
}

func captureListAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for capture list", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	ds, err := openCaptureDataset(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	ids, err := capture.Sessions(c.Context, ds)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	rows := make([]CaptureSessionRow, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, CaptureSessionRow{SessionID: id})
	}
	return r.Render(rows)
}

func captureShowAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("session-id required", 1)
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for capture show", 1)
	}
	sessionID := c.Args().First()

	var dir types.Direction
	switch d := c.String("direction"); d {
	case "":
	case string(types.DirectionTx), string(types.DirectionRx):
		dir = types.Direction(d)
	default:
		return cli.Exit(fmt.Sprintf("invalid direction: %q (must be tx or rx)", d), 1)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	ds, err := openCaptureDataset(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if c.Bool("summary") {
		summary, err := capture.LatestSummary(c.Context, ds, sessionID)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		return r.Render(CaptureSummaryResponse{SessionID: sessionID, Summary: summary})
	}

	records, err := capture.Query(c.Context, ds, sessionID, dir)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if len(records) == 0 {
		return cli.Exit(fmt.Sprintf("no frames captured for session %s", sessionID), 1)
	}

	limit := c.Int("limit")
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	// Warn only on a TTY to keep pipelines quiet.
	if limit == 0 && len(records) > showWarningThreshold && isStderrTTY() {
		fmt.Fprintf(os.Stderr, "Warning: returning %d frames. Consider using --limit to reduce output.\n\n", len(records))
	}
	return r.Render(records)
}
