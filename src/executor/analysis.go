package executor

// bitvec marks valid jump destinations, one bit per code byte
type bitvec []byte

func (bits bitvec) set(pos uint64) {
	bits[pos/8] |= 1 << (pos % 8)
}

func (bits bitvec) isSet(pos uint64) bool {
	return bits[pos/8]&(1<<(pos%8)) != 0
}

// jumpDestAnalysis scans code once and marks every JUMPDEST that is an
// instruction. PUSH operands are skipped, so a data byte equal to 0x5b
// is never a destination.
func jumpDestAnalysis(code []byte) bitvec {
	bits := make(bitvec, len(code)/8+1)
	for pc := uint64(0); pc < uint64(len(code)); {
		op := code[pc]
		switch {
		case op == JUMPDEST:
			bits.set(pc)
			pc++
		case IsPush(op):
			pc += uint64(op-PUSH1) + 2
		default:
			pc++
		}
	}
	return bits
}

// validJumpdest reports whether dest is a marked JUMPDEST inside code
func validJumpdest(bits bitvec, codeLen uint64, dest uint64) bool {
	return dest < codeLen && bits.isSet(dest)
}
