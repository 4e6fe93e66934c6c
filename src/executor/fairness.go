package executor

// Fairness weights by instruction category
const (
	WeightFree    uint64 = 0
	WeightBasic   uint64 = 1
	WeightMemory  uint64 = 2
	WeightCompute uint64 = 3
	WeightLog     uint64 = 5
	WeightCall    uint64 = 8
	WeightStorage uint64 = 10
)

// FairnessMeter is an Observer that sums a per-opcode weight over a run.
// The score lets callers compare how heavily different contracts lean on
// shared resources, independent of the gas price they pay.
type FairnessMeter struct {
	weights [256]uint64
	score   uint64
	steps   uint64
}

// NewFairnessMeter returns a meter with the default category weights
func NewFairnessMeter() *FairnessMeter {
	m := &FairnessMeter{}
	for i := range m.weights {
		m.weights[i] = WeightBasic
	}
	for _, op := range []byte{STOP, JUMPDEST, INVALID} {
		m.weights[op] = WeightFree
	}
	for _, op := range []byte{MLOAD, MSTORE, MSTORE8, MCOPY, CALLDATACOPY, CODECOPY, EXTCODECOPY, RETURNDATACOPY, RETURN, REVERT} {
		m.weights[op] = WeightMemory
	}
	for _, op := range []byte{EXP, KECCAK256, ADDMOD, MULMOD} {
		m.weights[op] = WeightCompute
	}
	for op := LOG0; op <= LOG4; op++ {
		m.weights[op] = WeightLog
	}
	for _, op := range []byte{CALL, CALLCODE, DELEGATECALL, STATICCALL, CREATE, CREATE2, SELFDESTRUCT} {
		m.weights[op] = WeightCall
	}
	for _, op := range []byte{SLOAD, SSTORE, BALANCE, SELFBALANCE, EXTCODESIZE, EXTCODEHASH} {
		m.weights[op] = WeightStorage
	}
	return m
}

// SetWeight overrides the weight of one opcode
func (m *FairnessMeter) SetWeight(op byte, weight uint64) {
	m.weights[op] = weight
}

// Weight returns the weight of op
func (m *FairnessMeter) Weight(op byte) uint64 {
	return m.weights[op]
}

// OnStep implements Observer
func (m *FairnessMeter) OnStep(pc uint64, op *Opcode, gasRemaining uint64) {
	m.score += m.weights[op.Code]
	m.steps++
}

// Score returns the accumulated weight
func (m *FairnessMeter) Score() uint64 {
	return m.score
}

// Steps returns the number of instructions observed
func (m *FairnessMeter) Steps() uint64 {
	return m.steps
}

// Reset clears the score, keeping the weights
func (m *FairnessMeter) Reset() {
	m.score = 0
	m.steps = 0
}

// Observers fans a step out to several observers in order
type Observers []Observer

// OnStep implements Observer
func (o Observers) OnStep(pc uint64, op *Opcode, gasRemaining uint64) {
	for _, obs := range o {
		obs.OnStep(pc, op, gasRemaining)
	}
}
