package linelog

import "fmt"

type opcode uint8

const (
	opEOF opcode = iota
	opJGE
	opJL
	opJump
	opLine
)

// instruction is one step of the program. arg is a jump target for JGE, JL
// and JUMP, and a line index for LINE.
type instruction struct {
	op  opcode
	rev uint32
	arg int
}

func eofInst() instruction {
	return instruction{op: opEOF}
}

func jgeInst(rev uint32, target int) instruction {
	return instruction{op: opJGE, rev: rev, arg: target}
}

func jlInst(rev uint32, target int) instruction {
	return instruction{op: opJL, rev: rev, arg: target}
}

func jumpInst(target int) instruction {
	return instruction{op: opJump, arg: target}
}

func lineInst(rev uint32, index int) instruction {
	return instruction{op: opLine, rev: rev, arg: index}
}

func (i instruction) String() string {
	switch i.op {
	case opEOF:
		return "EOF"
	case opJGE:
		return fmt.Sprintf("JGE %d %d", i.rev, i.arg)
	case opJL:
		return fmt.Sprintf("JL %d %d", i.rev, i.arg)
	case opJump:
		return fmt.Sprintf("JUMP %d", i.arg)
	case opLine:
		return fmt.Sprintf("LINE %d %d", i.rev, i.arg)
	default:
		return fmt.Sprintf("op(%d)", i.op)
	}
}
