package brainfuck

import "fmt"

// Location identifies a position in program source. Line and column are
// 1-indexed; the column counts every byte of the line including the one that
// ends it.
type Location struct {
	Line int
	Col  int
}

func (l Location) String() string {
	return fmt.Sprintf("line %d, column %d", l.Line, l.Col)
}

// Instruction is one of the eight commands of the language.
type Instruction int

const (
	MovePointerForward  Instruction = iota // > move the data pointer right
	MovePointerBackward                    // < move the data pointer left
	IncrementCell                          // + increment the current cell
	DecrementCell                          // - decrement the current cell
	Output                                 // . write the current cell as one byte
	Input                                  // , read one byte into the current cell
	JumpIfZero                             // [ jump past the matching ] if the cell is zero
	JumpIfNonZero                          // ] jump back to the matching [ if the cell is non-zero
)

var instructionSymbols = map[Instruction]byte{
	MovePointerForward:  '>',
	MovePointerBackward: '<',
	IncrementCell:       '+',
	DecrementCell:       '-',
	Output:              '.',
	Input:               ',',
	JumpIfZero:          '[',
	JumpIfNonZero:       ']',
}

// Symbol returns the source character the instruction is written as.
func (i Instruction) Symbol() byte {
	return instructionSymbols[i]
}

func (i Instruction) String() string {
	switch i {
	case MovePointerForward:
		return "move pointer forward"
	case MovePointerBackward:
		return "move pointer backward"
	case IncrementCell:
		return "increment cell"
	case DecrementCell:
		return "decrement cell"
	case Output:
		return "output"
	case Input:
		return "input"
	case JumpIfZero:
		return "jump if zero"
	case JumpIfNonZero:
		return "jump if non-zero"
	default:
		return fmt.Sprintf("instruction(%d)", int(i))
	}
}

// instructionFor maps a source byte to its instruction. The second return
// value is false for every byte outside the eight command characters.
func instructionFor(c byte) (Instruction, bool) {
	switch c {
	case '>':
		return MovePointerForward, true
	case '<':
		return MovePointerBackward, true
	case '+':
		return IncrementCell, true
	case '-':
		return DecrementCell, true
	case '.':
		return Output, true
	case ',':
		return Input, true
	case '[':
		return JumpIfZero, true
	case ']':
		return JumpIfNonZero, true
	default:
		return 0, false
	}
}

// Token pairs an instruction with the source location it was read from. The
// location is carried through to interpreter errors for diagnostics.
type Token struct {
	Instruction Instruction
	Location    Location
}

// Program is an executable sequence of tokens in source order.
type Program []Token
