package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/fairvm/go-fairvm/src/config"
	"github.com/fairvm/go-fairvm/src/core"
	"github.com/fairvm/go-fairvm/src/executor"
	"github.com/fairvm/go-fairvm/src/rpc"
	"github.com/fairvm/go-fairvm/src/storage"
	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"
)

// Version information
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
)

const configKey = "config"

var (
	ConfigFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
		Value: "fairvm.toml",
	}
	DataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "LevelDB state directory (selects the leveldb backend)",
	}

	CodeFlag = &cli.StringFlag{
		Name:  "code",
		Usage: "hex bytecode",
	}
	CodeFileFlag = &cli.StringFlag{
		Name:  "codefile",
		Usage: "file containing hex bytecode",
	}
	InputFlag = &cli.StringFlag{
		Name:  "input",
		Usage: "hex call data",
	}
	GasFlag = &cli.Uint64Flag{
		Name:  "gas",
		Usage: "gas limit (defaults to the configured limit)",
	}
	ValueFlag = &cli.StringFlag{
		Name:  "value",
		Usage: "value in wei, decimal",
		Value: "0",
	}
	CallerFlag = &cli.StringFlag{
		Name:  "caller",
		Usage: "caller address",
		Value: "0x0000000000000000000000000000000000000001",
	}
	AddressFlag = &cli.StringFlag{
		Name:  "address",
		Usage: "address of the executing code",
		Value: "0x0000000000000000000000000000000000000100",
	}
	StaticFlag = &cli.BoolFlag{
		Name:  "static",
		Usage: "forbid state modification",
	}
	TraceFlag = &cli.BoolFlag{
		Name:  "trace",
		Usage: "log every instruction at trace level",
	}
	FairnessFlag = &cli.BoolFlag{
		Name:  "fairness",
		Usage: "report the fairness score of the run",
	}
	PrestateFlag = &cli.StringFlag{
		Name:  "prestate",
		Usage: "state snapshot imported before execution",
	}
	DumpFlag = &cli.StringFlag{
		Name:  "dump",
		Usage: "write a state snapshot to this file after execution",
	}
)

var app = &cli.App{
	Name:    "fairvm",
	Usage:   "run and serve EVM bytecode",
	Version: Version + "-" + GitCommit,
	Flags:   []cli.Flag{ConfigFlag, DataDirFlag},
	Before:  setup,
	Commands: []*cli.Command{
		{
			Name:      "init",
			Usage:     "Write the default configuration",
			ArgsUsage: "[path]",
			Action:    initConfig,
		},
		{
			Name:   "run",
			Usage:  "Execute bytecode",
			Action: runCode,
			Flags: []cli.Flag{
				CodeFlag, CodeFileFlag, InputFlag, GasFlag, ValueFlag,
				CallerFlag, AddressFlag, StaticFlag, TraceFlag, FairnessFlag,
				PrestateFlag, DumpFlag,
			},
		},
		{
			Name:   "deploy",
			Usage:  "Deploy a contract from init code",
			Action: deployCode,
			Flags: []cli.Flag{
				CodeFlag, CodeFileFlag, GasFlag, ValueFlag, PrestateFlag, DumpFlag,
				&cli.StringFlag{Name: "creator", Usage: "creator address", Value: CallerFlag.Value},
			},
		},
		{
			Name:   "precompile",
			Usage:  "Run a precompiled contract",
			Action: runPrecompile,
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "address", Usage: "precompile address", Value: "0x02"},
				InputFlag, GasFlag,
			},
		},
		{
			Name:      "dump",
			Usage:     "Export the state database as a snapshot",
			ArgsUsage: "[file]",
			Action:    dumpState,
		},
		{
			Name:   "serve",
			Usage:  "Start the gRPC execution service",
			Action: serve,
			Flags:  []cli.Flag{PrestateFlag},
		},
		{
			Name:  "version",
			Usage: "Print version information",
			Action: func(ctx *cli.Context) error {
				fmt.Printf("fairvm %s (commit %s)\n", Version, GitCommit)
				return nil
			},
		},
	},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the config, falling back to defaults when the file is
// missing, and installs the logger
func setup(ctx *cli.Context) error {
	cfg := config.DefaultConfig()
	path := ctx.String(ConfigFlag.Name)
	if _, err := os.Stat(path); err == nil {
		if cfg, err = config.LoadConfig(path); err != nil {
			return err
		}
	} else if ctx.IsSet(ConfigFlag.Name) && ctx.Args().First() != "init" {
		return fmt.Errorf("config file %s not found", path)
	}

	if dir := ctx.String(DataDirFlag.Name); dir != "" {
		cfg.Storage.Backend = config.BackendLevelDB
		cfg.Storage.DataDir = dir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	log.SetDefault(logger)
	if cfg.Metrics.Enabled {
		metrics.Enable()
	}

	ctx.App.Metadata = map[string]interface{}{configKey: cfg}
	return nil
}

func loadedConfig(ctx *cli.Context) *config.Config {
	return ctx.App.Metadata[configKey].(*config.Config)
}

func initConfig(ctx *cli.Context) error {
	path := ctx.String(ConfigFlag.Name)
	if ctx.Args().Present() {
		path = ctx.Args().First()
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}

	if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s\n", path)
	return nil
}

// stateBackend is a StateStore that can also be snapshotted
type stateBackend interface {
	storage.StateImporter
	storage.StateIterator
}

// openStore opens the configured state backend and applies --prestate
func openStore(ctx *cli.Context, cfg *config.Config) (stateBackend, func(), error) {
	store, closeStore, err := openBackend(cfg)
	if err != nil {
		return nil, nil, err
	}
	if path := ctx.String(PrestateFlag.Name); path != "" {
		snap, err := storage.ReadSnapshot(path)
		if err == nil {
			err = storage.ImportSnapshot(store, snap)
		}
		if err != nil {
			closeStore()
			return nil, nil, fmt.Errorf("failed to load prestate: %w", err)
		}
		log.Debug("Imported prestate", "file", path, "entries", snap.EntriesCount, "hash", snap.Hash)
	}
	return store, closeStore, nil
}

func openBackend(cfg *config.Config) (stateBackend, func(), error) {
	if cfg.Storage.Backend != config.BackendLevelDB {
		return storage.NewMemoryStore(), func() {}, nil
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.NewLevelDBStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, nil, err
	}
	log.Debug("Opened state database", "path", store.Path())
	return store, func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close state database", "err", err)
		}
	}, nil
}

// newEVM builds an EVM over store with the configured VM settings
func newEVM(cfg *config.Config, store core.StateStore, opts ...executor.Option) *executor.EVM {
	block := &executor.BlockContext{
		Number:     1,
		Time:       uint64(time.Now().Unix()),
		GasLimit:   cfg.VM.GasLimit,
		ChainID:    uint256.NewInt(cfg.VM.ChainID),
		BaseFee:    new(uint256.Int),
		Difficulty: new(uint256.Int),
	}
	opts = append([]executor.Option{
		executor.WithBlockContext(block),
		executor.WithMaxStackDepth(cfg.VM.MaxStackDepth),
		executor.WithJournaling(cfg.VM.Journaling),
		executor.WithLogger(log.Root()),
	}, opts...)
	return executor.NewEVM(store, opts...)
}

func readCode(ctx *cli.Context) ([]byte, error) {
	hexCode := ctx.String(CodeFlag.Name)
	if file := ctx.String(CodeFileFlag.Name); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read code file: %w", err)
		}
		hexCode = strings.TrimSpace(string(data))
	}
	if hexCode == "" {
		return nil, fmt.Errorf("one of --%s or --%s is required", CodeFlag.Name, CodeFileFlag.Name)
	}
	code, err := core.DecodeHex(hexCode)
	if err != nil {
		return nil, fmt.Errorf("invalid code: %w", err)
	}
	return code, nil
}

func gasLimit(ctx *cli.Context, cfg *config.Config) uint64 {
	if ctx.IsSet(GasFlag.Name) {
		return ctx.Uint64(GasFlag.Name)
	}
	return cfg.VM.GasLimit
}

func parseAddress(ctx *cli.Context, name string) (core.Address, error) {
	b, err := core.DecodeHex(ctx.String(name))
	if err != nil || len(b) > core.AddressLength {
		return core.Address{}, fmt.Errorf("invalid --%s %q", name, ctx.String(name))
	}
	return core.AddressFromBytes(b), nil
}

func runCode(ctx *cli.Context) error {
	cfg := loadedConfig(ctx)
	code, err := readCode(ctx)
	if err != nil {
		return err
	}
	input, err := core.DecodeHex(ctx.String(InputFlag.Name))
	if err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	value, err := uint256.FromDecimal(ctx.String(ValueFlag.Name))
	if err != nil {
		return fmt.Errorf("invalid value: %w", err)
	}
	caller, err := parseAddress(ctx, CallerFlag.Name)
	if err != nil {
		return err
	}
	address, err := parseAddress(ctx, AddressFlag.Name)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var observers executor.Observers
	if ctx.Bool(TraceFlag.Name) {
		observers = append(observers, executor.NewTraceObserver(log.Root()))
	}
	meter := executor.NewFairnessMeter()
	if ctx.Bool(FairnessFlag.Name) {
		observers = append(observers, meter)
	}
	var opts []executor.Option
	if len(observers) > 0 {
		opts = append(opts, executor.WithObserver(observers))
	}

	evm := newEVM(cfg, store)
	result := evm.Execute(&executor.ExecutionContext{
		Caller:   caller,
		Address:  address,
		Value:    value,
		Input:    input,
		GasLimit: gasLimit(ctx, cfg),
		GasPrice: uint256.NewInt(1),
		IsStatic: ctx.Bool(StaticFlag.Name),
	}, code, opts...)

	printResult(result)
	if ctx.Bool(FairnessFlag.Name) {
		fmt.Printf("Fairness:    %d over %d steps\n", meter.Score(), meter.Steps())
	}
	if err := dumpAfter(ctx, store); err != nil {
		return err
	}
	if !result.Success {
		return cli.Exit("", 1)
	}
	return nil
}

func deployCode(ctx *cli.Context) error {
	cfg := loadedConfig(ctx)
	code, err := readCode(ctx)
	if err != nil {
		return err
	}
	value, err := uint256.FromDecimal(ctx.String(ValueFlag.Name))
	if err != nil {
		return fmt.Errorf("invalid value: %w", err)
	}
	creator, err := parseAddress(ctx, "creator")
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	addr, result, err := newEVM(cfg, store).Deploy(creator, code, value, gasLimit(ctx, cfg), uint256.NewInt(1))
	if result != nil {
		printResult(result)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Address:     %s\n", addr.Hex())
	return dumpAfter(ctx, store)
}

// dumpAfter writes the post-execution state when --dump is set
func dumpAfter(ctx *cli.Context, store storage.StateIterator) error {
	path := ctx.String(DumpFlag.Name)
	if path == "" {
		return nil
	}
	snap, err := storage.ExportSnapshot(store)
	if err != nil {
		return err
	}
	if err := storage.WriteSnapshot(path, snap); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	fmt.Printf("State:       %s (%d entries, %s)\n", path, snap.EntriesCount, snap.Hash)
	return nil
}

func dumpState(ctx *cli.Context) error {
	cfg := loadedConfig(ctx)
	if cfg.Storage.Backend != config.BackendLevelDB {
		return fmt.Errorf("dump needs a leveldb backend, set --%s", DataDirFlag.Name)
	}
	store, closeStore, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	snap, err := storage.ExportSnapshot(store)
	if err != nil {
		return err
	}
	if ctx.Args().Present() {
		if err := storage.WriteSnapshot(ctx.Args().First(), snap); err != nil {
			return err
		}
		log.Info("Snapshot written", "file", ctx.Args().First(), "entries", snap.EntriesCount, "hash", snap.Hash)
		return nil
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runPrecompile(ctx *cli.Context) error {
	cfg := loadedConfig(ctx)
	addr, err := parseAddress(ctx, "address")
	if err != nil {
		return err
	}
	p, ok := executor.LookupPrecompile(addr)
	if !ok {
		return fmt.Errorf("no precompiled contract at %s", addr.Hex())
	}
	input, err := core.DecodeHex(ctx.String(InputFlag.Name))
	if err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}

	out, used, err := executor.RunPrecompiledContract(p, input, gasLimit(ctx, cfg))
	if err != nil {
		return fmt.Errorf("%s: %w", p.Name(), err)
	}
	fmt.Printf("Contract:    %s\n", p.Name())
	fmt.Printf("Gas used:    %d\n", used)
	fmt.Printf("Output:      %s\n", core.EncodeHex(out))
	return nil
}

func serve(ctx *cli.Context) error {
	cfg := loadedConfig(ctx)
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	server, err := rpc.NewServer(newEVM(cfg, store), cfg, log.Root())
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}
	log.Info("Serving execution requests", "addr", cfg.GetServerAddress(), "backend", cfg.Storage.Backend)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down...")
	server.Stop()
	return nil
}

func printResult(result *executor.ExecutionResult) {
	fmt.Printf("Success:     %t\n", result.Success)
	fmt.Printf("Gas used:    %d\n", result.GasUsed)
	fmt.Printf("Return data: %s\n", core.EncodeHex(result.ReturnData))
	if result.Err != nil {
		fmt.Printf("Error:       %v\n", result.Err)
	}
	for i, l := range result.Logs {
		fmt.Printf("Log %d:       address=%s topics=%d data=%s\n", i, l.Address.Hex(), len(l.Topics), core.EncodeHex(l.Data))
	}
}
