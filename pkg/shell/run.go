package shell

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antibyte/brainterm/pkg/brainfuck"
	"github.com/antibyte/brainterm/pkg/configuration"
	"github.com/antibyte/brainterm/pkg/logger"
	"github.com/antibyte/brainterm/pkg/shared"
)

var (
	errInterrupted = errors.New("program interrupted")
	errOutputLimit = errors.New("output limit exceeded")
)

// feedQueueSize limits how many input lines may pile up while the program
// is busy. Anything beyond that is dropped rather than blocking the reader.
const feedQueueSize = 64

// runState holds everything belonging to one program run. The input pipe is
// the only preemption point: closing it aborts a program blocked on input,
// pure computation is never interrupted.
type runState struct {
	id       string
	reader   *io.PipeReader
	writer   *io.PipeWriter
	out      *runWriter
	feedChan chan []byte
	done     chan struct{}
}

func (b *Shell) cmdRun(args []string) []shared.Message {
	var source string
	if len(args) > 0 {
		name := strings.ToLower(args[0])
		src, ok, msgs := b.resolveSource(name)
		if !ok {
			return msgs
		}
		source = src
	} else {
		b.mu.Lock()
		source = strings.Join(b.buffer, "\n")
		b.mu.Unlock()
	}

	program := brainfuck.Lex(source)

	reader, writer := io.Pipe()
	run := &runState{
		id:       uuid.NewString(),
		reader:   reader,
		writer:   writer,
		out:      newRunWriter(b),
		feedChan: make(chan []byte, feedQueueSize),
		done:     make(chan struct{}),
	}

	b.mu.Lock()
	if b.run != nil {
		b.mu.Unlock()
		reader.Close()
		writer.Close()
		return textMessages("?ALREADY RUNNING")
	}
	b.run = run
	b.mode = InputModeProgram
	b.mu.Unlock()

	logger.Info(logger.AreaBrainfuck, "Run %s started in session %s (%d instructions)", run.id, b.sessionID, len(program))

	// The mode switch goes through the output channel so that everything a
	// run produces arrives in order.
	b.sendMessage(shared.Message{Type: shared.MessageTypeMode, Mode: "run"})

	go b.feedLoop(run)
	go b.flushLoop(run)
	go b.runProgram(run, program)
	return nil
}

// FeedProgramInput queues terminal input for the running program. Without a
// running program the input is discarded.
func (b *Shell) FeedProgramInput(data string) {
	b.mu.Lock()
	run := b.run
	b.mu.Unlock()
	if run == nil || data == "" {
		return
	}
	select {
	case run.feedChan <- []byte(data):
	default:
		logger.ShellWarn("Input dropped for session %s: feed queue full", b.sessionID)
	}
}

// Break aborts the running program at its next input or output operation.
func (b *Shell) Break() {
	b.mu.Lock()
	run := b.run
	b.mu.Unlock()
	if run == nil {
		return
	}
	logger.Info(logger.AreaBrainfuck, "Run %s interrupted in session %s", run.id, b.sessionID)
	// Closing the write half makes a blocked read return errInterrupted
	run.writer.CloseWithError(errInterrupted)
	run.out.fail(errInterrupted)
}

// feedLoop moves queued input into the pipe. Pipe writes block until the
// program reads, so this must not run on the Execute path.
func (b *Shell) feedLoop(run *runState) {
	for {
		select {
		case data := <-run.feedChan:
			if _, err := run.writer.Write(data); err != nil {
				return
			}
		case <-run.done:
			return
		}
	}
}

// flushLoop pushes buffered output to the terminal so that programs which
// print without newlines still appear promptly.
func (b *Shell) flushLoop(run *runState) {
	window := configuration.GetDuration("Interpreter", "output_flush_window", 20*time.Millisecond)
	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			run.out.Flush()
		case <-run.done:
			return
		}
	}
}

func (b *Shell) runProgram(run *runState, program brainfuck.Program) {
	start := time.Now()
	interp := brainfuck.NewInterpreter(run.reader, run.out)
	err := interp.Eval(program)

	close(run.done)
	// Unblock a feeder stuck in a pipe write, then drain remaining output
	run.reader.CloseWithError(errInterrupted)
	run.writer.Close()
	run.out.Flush()

	b.mu.Lock()
	b.lastTape = interp.Tape()
	b.lastPointer = interp.Pointer()
	b.hasRun = true
	b.run = nil
	if b.mode == InputModeProgram {
		b.mode = InputModeCommand
	}
	b.mu.Unlock()

	if err != nil {
		logger.Info(logger.AreaBrainfuck, "Run %s ended after %v: %v", run.id, time.Since(start), err)
		b.sendMessage(shared.Message{Type: shared.MessageTypeText, Content: runDiagnostic(err)})
	} else {
		logger.Info(logger.AreaBrainfuck, "Run %s finished in %v (%d bytes output)", run.id, time.Since(start), run.out.Written())
	}
	b.sendMessage(shared.Message{Type: shared.MessageTypeMode, Mode: "shell"})
	b.sendMessage(shared.Message{Type: shared.MessageTypeText, Content: "READY."})
}

// runDiagnostic turns an interpreter error into a terminal diagnostic.
func runDiagnostic(err error) string {
	var perr *brainfuck.Error
	if errors.As(err, &perr) {
		loc := fmt.Sprintf("AT LINE %d, COLUMN %d", perr.Location.Line, perr.Location.Col)
		switch perr.Kind {
		case brainfuck.UnmatchedJumpForward:
			return "?UNMATCHED JUMP FORWARD " + loc
		case brainfuck.UnmatchedJumpBackward:
			return "?UNMATCHED JUMP BACKWARD " + loc
		case brainfuck.PointerUnderflow:
			return "?POINTER UNDERFLOW " + loc
		}
	}
	switch {
	case errors.Is(err, errInterrupted):
		return "?BREAK"
	case errors.Is(err, errOutputLimit):
		return "?OUTPUT LIMIT EXCEEDED"
	case errors.Is(err, io.EOF):
		return "?OUT OF INPUT"
	}
	return "?PROGRAM I/O INTERRUPTED"
}

// runWriter buffers program output and forwards it to the output channel.
// Flushing happens on every newline, when the buffer grows past a threshold,
// and periodically from the flush loop.
type runWriter struct {
	shell   *Shell
	mu      sync.Mutex
	buf     bytes.Buffer
	written int
	limit   int
	failed  error
}

const flushThreshold = 512

func newRunWriter(b *Shell) *runWriter {
	return &runWriter{
		shell: b,
		limit: configuration.GetInt("Interpreter", "max_output_bytes", 262144),
	}
}

func (w *runWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failed != nil {
		return 0, w.failed
	}
	if w.limit > 0 && w.written+len(p) > w.limit {
		w.failed = errOutputLimit
		return 0, w.failed
	}
	w.written += len(p)
	w.buf.Write(p)
	if bytes.IndexByte(p, '\n') >= 0 || w.buf.Len() >= flushThreshold {
		if err := w.flushLocked(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (w *runWriter) flushLocked() error {
	if w.buf.Len() == 0 {
		return nil
	}
	content := w.buf.String()
	w.buf.Reset()
	if !w.shell.sendMessage(shared.Message{Type: shared.MessageTypeText, Content: content, NoNewline: true}) {
		w.failed = errInterrupted
		return w.failed
	}
	return nil
}

// Flush pushes whatever is buffered to the terminal.
func (w *runWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.flushLocked()
}

// fail makes every further write return err. Pending buffered output is kept
// and still flushed.
func (w *runWriter) fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failed == nil {
		w.failed = err
	}
}

// Written returns the number of bytes the program has produced so far.
func (w *runWriter) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}
