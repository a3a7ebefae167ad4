package cmd

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/bitwire/cli/config"
	"github.com/pithecene-io/bitwire/cli/render"
	"github.com/pithecene-io/bitwire/engine"
	"github.com/pithecene-io/bitwire/iox"
	"github.com/pithecene-io/bitwire/ipc"
	"github.com/pithecene-io/bitwire/log"
	"github.com/pithecene-io/bitwire/schemas/calculator"
	"github.com/pithecene-io/bitwire/types"
)

// ResultRow is one engine result.
type ResultRow struct {
	ID     string `json:"id" yaml:"id"`
	Result int32  `json:"result" yaml:"result"`
}

// EngineServeResponse is the response for engine serve.
type EngineServeResponse struct {
	Issued  int         `json:"issued" yaml:"issued"`
	Program int         `json:"program" yaml:"program"`
	Results []ResultRow `json:"results" yaml:"results"`
}

// EngineExecResponse is the response for engine exec.
type EngineExecResponse struct {
	Steps     int     `json:"steps" yaml:"steps"`
	Halted    bool    `json:"halted" yaml:"halted"`
	Registers []int32 `json:"registers" yaml:"registers"`
}

// EngineCommand returns the engine command with subcommands: serve feeds a
// calculator program to an engine, exec is a software engine.
func EngineCommand() *cli.Command {
	addrFlag := &cli.StringFlag{
		Name:  "addr",
		Usage: "TCP address of the instruction server",
	}
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to bitwire.yaml (engine block)",
	}
	logFlag := &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn, error",
		Value: "info",
	}
	return &cli.Command{
		Name:  "engine",
		Usage: "Exchange calculator instructions and results with an engine",
		Subcommands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Serve a calculator program to one engine and print its results",
				Flags: append([]cli.Flag{
					addrFlag, configFlag, logFlag,
					&cli.StringFlag{
						Name:  "program",
						Usage: "YAML list of instructions (default: the built-in demo)",
					},
				}, FormatFlag, NoColorFlag),
				Action: engineServeAction,
			},
			{
				Name:   "exec",
				Usage:  "Run a software calculator engine against an instruction server",
				Flags:  []cli.Flag{addrFlag, configFlag, logFlag, FormatFlag, NoColorFlag},
				Action: engineExecAction,
			},
		},
	}
}

func engineAddr(c *cli.Context) (string, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return "", err
		}
		cfg = loaded
	}
	overrideString(c, "addr", &cfg.Engine.Addr)
	return cfg.Engine.Addr, nil
}

func engineLogger(c *cli.Context) *log.Logger {
	meta := types.NewSessionMeta(calculator.Registry().ID, "tcp", "ipc")
	return log.NewLoggerWithWriter(meta, os.Stderr, log.ParseLevel(c.String("log-level")))
}

// loadProgram reads instructions from a YAML file in the codec's dynamic
// form, e.g. {name: Put, value: {reg: 0, value: 10}}.
func loadProgram(path string) ([]any, error) {
	if path == "" {
		return calculator.DemoValues(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read program: %w", err)
	}
	var steps []any
	if err := yaml.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("invalid program %s: %w", path, err)
	}
	return steps, nil
}

func engineServeAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	addr, err := engineAddr(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	steps, err := loadProgram(c.String("program"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	prog, err := engine.NewProgram(calculator.InstrCodec(), steps, calculator.NoOpInstr().Value())
	if err != nil {
		return cli.Exit(fmt.Sprintf("program: %v", err), 1)
	}

	logger := engineLogger(c)
	defer func() { _ = logger.Sync() }()

	var rows []ResultRow
	results := engine.NewResultLog(calculator.ResultCodec(), func(v any) {
		res, err := calculator.ResultFromValue(v)
		if err != nil {
			logger.Warn("undecodable result", map[string]any{"error": err.Error()})
			return
		}
		logger.Info("result", map[string]any{"id": fmt.Sprintf("%#x", res.ID), "result": res.Result})
		rows = append(rows, ResultRow{ID: fmt.Sprintf("%#x", res.ID), Result: res.Result})
	})

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := connectTCP(ctx, addr, true, logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer iox.DiscardClose(conn)
	stopClose := iox.CloseOnDone(ctx, conn)
	defer stopClose()

	if err := ipc.Serve(ctx, conn, prog, results, ipc.WithLogger(logger)); err != nil {
		return cli.Exit(fmt.Sprintf("serve: %v", err), 1)
	}

	return r.Render(EngineServeResponse{Issued: prog.Issued(), Program: prog.Len(), Results: rows})
}

func engineExecAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	addr, err := engineAddr(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	logger := engineLogger(c)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return cli.Exit(fmt.Sprintf("dial %s: %v", addr, err), 1)
	}
	defer iox.DiscardClose(conn)
	stopClose := iox.CloseOnDone(ctx, conn)
	defer stopClose()

	remote := ipc.NewRemote(conn)
	var m calculator.Machine
	if err := m.Run(ctx, remote, remote); err != nil {
		return cli.Exit(fmt.Sprintf("engine: %v", err), 1)
	}
	if err := remote.Halt(); err != nil {
		logger.Warn("halt not delivered", map[string]any{"error": err.Error()})
	}
	logger.Info("engine halted", map[string]any{"steps": m.Steps})

	return r.Render(EngineExecResponse{Steps: m.Steps, Halted: m.Halted(), Registers: m.Regs[:]})
}
