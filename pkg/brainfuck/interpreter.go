package brainfuck

import (
	"fmt"
	"io"
	"os"
)

// Interpreter executes a lexed program against a growable byte tape. The
// input and output streams are injected so programs can be driven from a
// terminal session, a file, or a test without touching the real console.
//
// An instance is reusable: every Eval call starts from a fresh tape, pointer
// and program counter and resolves the jump table for the supplied program
// from scratch. The input stream is external state and is deliberately not
// rewound between calls. An instance must not be used from more than one
// goroutine at a time.
type Interpreter struct {
	pointer int
	pc      int
	tape    []byte
	program Program
	jumps   map[int]int

	input  io.Reader
	output io.Writer
	buf    [1]byte // scratch for single-byte reads and writes
}

// NewInterpreter returns an interpreter that reads program input from input
// and writes program output to output. A nil input defaults to os.Stdin and a
// nil output to os.Stdout.
func NewInterpreter(input io.Reader, output io.Writer) *Interpreter {
	if input == nil {
		input = os.Stdin
	}
	if output == nil {
		output = os.Stdout
	}
	return &Interpreter{
		tape:   []byte{0},
		input:  input,
		output: output,
	}
}

// SetInput replaces the program input stream for subsequent Eval calls.
func (in *Interpreter) SetInput(r io.Reader) {
	in.input = r
}

// SetOutput replaces the program output stream for subsequent Eval calls.
func (in *Interpreter) SetOutput(w io.Writer) {
	in.output = w
}

// Tape returns a copy of the current tape contents. The interpreter owns the
// tape exclusively, so callers never receive an aliased slice.
func (in *Interpreter) Tape() []byte {
	return append([]byte(nil), in.tape...)
}

// Pointer returns the current data pointer.
func (in *Interpreter) Pointer() int {
	return in.pointer
}

// ResolveJumps validates the bracket structure of a program and returns the
// jump table: a map holding both directions of every matched pair, so that
// for a pair (f, b) both table[f] == b and table[b] == f. An unmatched ']'
// fails with UnmatchedJumpBackward at its own location; after the scan any
// still-open '[' fails with UnmatchedJumpForward at the earliest such
// bracket. No table is returned for a malformed program.
func ResolveJumps(program Program) (map[int]int, error) {
	jumps := make(map[int]int)
	var open []int // positions of pending forward jumps

	for i, token := range program {
		switch token.Instruction {
		case JumpIfZero:
			open = append(open, i)
		case JumpIfNonZero:
			if len(open) == 0 {
				return nil, &Error{Kind: UnmatchedJumpBackward, Location: token.Location}
			}
			forward := open[len(open)-1]
			open = open[:len(open)-1]
			jumps[forward] = i
			jumps[i] = forward
		}
	}
	if len(open) > 0 {
		return nil, &Error{Kind: UnmatchedJumpForward, Location: program[open[0]].Location}
	}

	return jumps, nil
}

// Eval runs a program to completion or to its first error. The program is
// validated before execution: a malformed bracket structure is rejected
// up front, so a program that fails to resolve has no side effects at all.
// Program errors are returned as *Error; failures of the input or output
// stream abort the run with the underlying error wrapped. Output already
// written stays written, there is no rollback.
//
// Eval blocks until the program terminates. The engine itself has no step
// limit and no cancellation; a non-terminating program that performs I/O can
// be stopped from outside by closing its input or output stream.
func (in *Interpreter) Eval(program Program) error {
	in.program = append(Program(nil), program...)

	jumps, err := ResolveJumps(in.program)
	if err != nil {
		return err
	}
	in.jumps = jumps

	in.tape = in.tape[:0]
	in.tape = append(in.tape, 0)
	in.pointer = 0
	in.pc = 0

	for in.pc < len(in.program) {
		if err := in.step(); err != nil {
			return err
		}
	}
	return nil
}

// step dispatches the instruction under the program counter.
func (in *Interpreter) step() error {
	token := in.program[in.pc]

	switch token.Instruction {
	case MovePointerForward:
		in.pointer++
		// Grow on demand, one zero cell at a time.
		if in.pointer >= len(in.tape) {
			in.tape = append(in.tape, 0)
		}
		in.pc++

	case MovePointerBackward:
		if in.pointer == 0 {
			return &Error{Kind: PointerUnderflow, Location: token.Location}
		}
		in.pointer--
		in.pc++

	case IncrementCell:
		// Byte arithmetic wraps modulo 256 on its own.
		in.tape[in.pointer]++
		in.pc++

	case DecrementCell:
		in.tape[in.pointer]--
		in.pc++

	case Output:
		in.buf[0] = in.tape[in.pointer]
		if _, err := in.output.Write(in.buf[:]); err != nil {
			return fmt.Errorf("output at %s: %w", token.Location, err)
		}
		in.pc++

	case Input:
		// Exactly one raw byte per instruction. The read blocks until the
		// stream delivers a byte or fails; an exhausted stream is an error,
		// not a value.
		if _, err := io.ReadFull(in.input, in.buf[:]); err != nil {
			return fmt.Errorf("input at %s: %w", token.Location, err)
		}
		in.tape[in.pointer] = in.buf[0]
		in.pc++

	case JumpIfZero:
		if in.tape[in.pointer] != 0 {
			in.pc++
		} else {
			// Land on the matching ] itself; its own check then falls
			// through, so the extra step is a guaranteed no-op.
			in.pc = in.jumps[in.pc]
		}

	case JumpIfNonZero:
		if in.tape[in.pointer] == 0 {
			in.pc++
		} else {
			in.pc = in.jumps[in.pc]
		}
	}

	return nil
}
