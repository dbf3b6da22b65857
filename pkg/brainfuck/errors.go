package brainfuck

import "fmt"

// ErrorKind classifies the program errors the interpreter reports. I/O
// failures on the input or output stream are not program errors and are
// returned as wrapped errors instead.
type ErrorKind int

const (
	// UnmatchedJumpForward is a '[' with no matching ']'.
	UnmatchedJumpForward ErrorKind = iota
	// UnmatchedJumpBackward is a ']' with no matching '['.
	UnmatchedJumpBackward
	// PointerUnderflow is an attempt to move the data pointer below cell 0.
	// The tape only grows to the right; there is no wraparound.
	PointerUnderflow
)

var errorKindText = []string{
	"unmatched jump forward",
	"unmatched jump backward",
	"pointer underflow",
}

func (k ErrorKind) String() string {
	if int(k) < len(errorKindText) {
		return errorKindText[k]
	}
	return fmt.Sprintf("error(%d)", int(k))
}

// Error is a program error tagged with the source location that caused it.
type Error struct {
	Kind     ErrorKind
	Location Location
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s at %s", e.Kind, e.Location)
}
