package executor

import (
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/fairvm/go-fairvm/src/core"
	"github.com/fairvm/go-fairvm/src/storage"
)

var (
	executionCounter  = metrics.NewRegisteredCounter("fairvm/evm/executions", nil)
	failureCounter    = metrics.NewRegisteredCounter("fairvm/evm/failures", nil)
	gasCounter        = metrics.NewRegisteredCounter("fairvm/evm/gas", nil)
	lastGasGauge      = metrics.NewRegisteredGauge("fairvm/evm/gas/last", nil)
	deploymentCounter = metrics.NewRegisteredCounter("fairvm/evm/deployments", nil)
	precompileCounter = metrics.NewRegisteredCounter("fairvm/evm/precompile/calls", nil)
)

// EVM runs code and deployments against a StateStore. It holds no per-run
// state, so one EVM may serve concurrent runs if the store allows it.
type EVM struct {
	state  core.StateStore
	opts   []Option
	cfg    vmConfig
	logger log.Logger
}

// NewEVM creates an EVM over state. Options apply to every run.
func NewEVM(state core.StateStore, opts ...Option) *EVM {
	cfg := newVMConfig(opts)
	return &EVM{
		state:  state,
		opts:   opts,
		cfg:    cfg,
		logger: cfg.logger,
	}
}

// State returns the underlying store
func (evm *EVM) State() core.StateStore {
	return evm.state
}

// Execute runs code in ctx. Extra options apply to this run only.
func (evm *EVM) Execute(ctx *ExecutionContext, code []byte, opts ...Option) *ExecutionResult {
	state, finish := evm.begin()
	result := evm.run(state, ctx, code, opts)
	if err := finish(result.Success); err != nil {
		result.Success = false
		result.Err = storageError(err)
	}
	evm.record(ctx, result)
	return result
}

// Call runs the code stored at ctx.Address. Calls to a precompile address
// run the native contract with ctx.Input and ctx.GasLimit.
func (evm *EVM) Call(ctx *ExecutionContext, opts ...Option) *ExecutionResult {
	if p, ok := evm.cfg.precompiles[ctx.Address]; ok {
		return evm.callPrecompile(p, ctx)
	}
	code, err := evm.state.GetCode(ctx.Address)
	if err != nil {
		return &ExecutionResult{Err: storageError(err)}
	}
	return evm.Execute(ctx, code, opts...)
}

func (evm *EVM) callPrecompile(p PrecompiledContract, ctx *ExecutionContext) *ExecutionResult {
	precompileCounter.Inc(1)

	out, used, err := RunPrecompiledContract(p, ctx.Input, ctx.GasLimit)
	result := &ExecutionResult{
		Success:    err == nil,
		GasUsed:    used,
		ReturnData: out,
		Err:        err,
	}
	if err != nil {
		result.GasUsed = ctx.GasLimit
	}
	evm.record(ctx, result)
	return result
}

func (evm *EVM) run(state core.StateStore, ctx *ExecutionContext, code []byte, extra []Option) *ExecutionResult {
	opts := evm.opts
	if len(extra) > 0 {
		opts = append(append([]Option(nil), evm.opts...), extra...)
	}
	return NewExecutor(state, ctx, opts...).Execute(code)
}

// begin returns the store a run writes to and a function that ends the run.
// Without journaling, writes go straight to the backing store.
func (evm *EVM) begin() (core.StateStore, func(commit bool) error) {
	if !evm.cfg.journaling {
		return evm.state, func(bool) error { return nil }
	}
	db := storage.NewStateDB(evm.state)
	return db, func(commit bool) error {
		if !commit {
			db.Discard()
			return nil
		}
		return db.Commit()
	}
}

func (evm *EVM) record(ctx *ExecutionContext, result *ExecutionResult) {
	executionCounter.Inc(1)
	gasCounter.Inc(int64(result.GasUsed))
	lastGasGauge.Update(int64(result.GasUsed))

	if !result.Success {
		failureCounter.Inc(1)
		evm.logger.Debug("Execution failed", "address", ctx.Address, "gas", result.GasUsed,
			"reverted", result.Reverted, "err", result.Err)
		return
	}
	evm.logger.Trace("Execution finished", "address", ctx.Address, "gas", result.GasUsed,
		"return", len(result.ReturnData), "logs", len(result.Logs))
}

// traceObserver logs every step at trace level
type traceObserver struct {
	logger log.Logger
}

// NewTraceObserver returns an Observer that logs each instruction
func NewTraceObserver(logger log.Logger) Observer {
	return &traceObserver{logger: logger}
}

func (t *traceObserver) OnStep(pc uint64, op *Opcode, gasRemaining uint64) {
	t.logger.Trace("Step", "pc", pc, "op", op.Name, "gas", gasRemaining)
}
