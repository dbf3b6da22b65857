package shell

import (
	"strings"
	"sync"

	"github.com/antibyte/brainterm/pkg/auth"
	"github.com/antibyte/brainterm/pkg/catalog"
	"github.com/antibyte/brainterm/pkg/configuration"
	"github.com/antibyte/brainterm/pkg/logger"
	"github.com/antibyte/brainterm/pkg/shared"
	"github.com/antibyte/brainterm/pkg/store"
)

// InputMode defines the authoritative input mode for a session.
// Input is always routed based on the current mode to avoid races between
// shell commands and a running program.
type InputMode int

const (
	InputModeCommand  InputMode = 0
	InputModeLogin    InputMode = 1
	InputModeRegister InputMode = 2
	InputModeProgram  InputMode = 3
)

// Shell is the per-session command interpreter. One Shell exists per
// connected terminal session; it owns the program buffer and the run state.
type Shell struct {
	sessionID string
	store     *store.Store     // nil disables persistence commands
	catalog   *catalog.Catalog // nil disables the example commands

	outputChan chan shared.Message
	closed     chan struct{}
	closeOnce  sync.Once

	mu          sync.Mutex
	username    string
	mode        InputMode
	programName string
	buffer      []string
	authState   *authState
	run         *runState

	// Final state of the last completed run, for DUMP
	lastTape    []byte
	lastPointer int
	hasRun      bool
}

// authState tracks a multi-step LOGIN or REGISTER flow.
type authState struct {
	register bool
	stage    string // "password", "confirm"
	username string
	password string
}

// New creates a Shell for a session. The store and catalog may be nil.
func New(sessionID string, st *store.Store, cat *catalog.Catalog) *Shell {
	bufSize := configuration.GetInt("Network", "max_channel_buffer", 1024)
	return &Shell{
		sessionID:  sessionID,
		store:      st,
		catalog:    cat,
		outputChan: make(chan shared.Message, bufSize),
		closed:     make(chan struct{}),
	}
}

// OutputChannel returns the read-only channel carrying program output and
// other asynchronous messages.
func (b *Shell) OutputChannel() <-chan shared.Message {
	return b.outputChan
}

// SessionID returns the session this shell belongs to.
func (b *Shell) SessionID() string {
	return b.sessionID
}

// Username returns the logged-in username, or an empty string for guests.
func (b *Shell) Username() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.username
}

// Mode returns the current input mode.
func (b *Shell) Mode() InputMode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

// RestoreUser marks the session as logged in without a password check. Only
// called when a connection presents a valid signed user token.
func (b *Shell) RestoreUser(username string) {
	b.mu.Lock()
	b.username = username
	b.mu.Unlock()
	logger.ShellInfo("Session %s restored login for %q from token", b.sessionID, username)
}

// Close shuts the shell down: a running program is interrupted and all
// later output is discarded. Safe to call more than once.
func (b *Shell) Close() {
	b.closeOnce.Do(func() {
		close(b.closed)
	})
	b.Break()
	logger.Info(logger.AreaSession, "Shell closed for session %s", b.sessionID)
}

// sendMessage delivers a message to the output channel. It blocks when the
// channel is full (backpressure on the run goroutine) and reports false once
// the shell is closed.
func (b *Shell) sendMessage(msg shared.Message) bool {
	select {
	case <-b.closed:
		return false
	default:
	}
	select {
	case b.outputChan <- msg:
		return true
	case <-b.closed:
		return false
	}
}

// Greeting returns the banner shown when a terminal connects.
func (b *Shell) Greeting() []shared.Message {
	msgs := []shared.Message{
		{Type: shared.MessageTypeClear},
		{Type: shared.MessageTypeText, Content: "*** BRAINTERM V1.0 ***"},
		{Type: shared.MessageTypeText, Content: "EIGHT INSTRUCTIONS OUGHT TO BE ENOUGH FOR ANYBODY"},
		{Type: shared.MessageTypeText, Content: ""},
		{Type: shared.MessageTypeText, Content: "TYPE HELP FOR COMMANDS"},
		{Type: shared.MessageTypeText, Content: "READY."},
	}
	return msgs
}

// Execute processes one line of terminal input and returns the immediate
// replies. Program output during RUN is streamed via the output channel.
func (b *Shell) Execute(input string) []shared.Message {
	b.mu.Lock()
	mode := b.mode
	b.mu.Unlock()

	logger.ShellDebug("Execute: session %s, mode %d, input %q", b.sessionID, mode, input)

	switch mode {
	case InputModeProgram:
		// All input feeds the running program
		b.FeedProgramInput(input + "\n")
		return nil
	case InputModeLogin, InputModeRegister:
		return b.handleAuthInput(input)
	}

	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil
	}

	fields := strings.Fields(trimmed)
	command := strings.ToUpper(fields[0])
	args := fields[1:]
	// Keep the raw remainder for commands that take source text
	rest := strings.TrimSpace(trimmed[len(fields[0]):])

	switch command {
	case "HELP":
		return b.cmdHelp()
	case "ABOUT":
		return b.cmdAbout()
	case "NEW":
		return b.cmdNew(args)
	case "LIST":
		return b.cmdList()
	case "TYPE", "APPEND":
		return b.cmdType(rest)
	case "RUN":
		return b.cmdRun(args)
	case "DUMP":
		return b.cmdDump()
	case "EXAMPLES":
		return b.cmdExamples()
	case "LOAD":
		return b.cmdLoad(args)
	case "SAVE":
		return b.cmdSave(args)
	case "DIR":
		return b.cmdDir()
	case "DEL":
		return b.cmdDel(args)
	case "LOGIN":
		return b.cmdLogin(args)
	case "REGISTER":
		return b.cmdRegister(args)
	case "LOGOUT":
		return b.cmdLogout()
	case "WHOAMI":
		return b.cmdWhoAmI()
	case "CLEAR":
		return []shared.Message{{Type: shared.MessageTypeClear}}
	case "EXIT", "BYE":
		return b.cmdExit()
	default:
		logger.ShellDebug("Unknown command %q in session %s", command, b.sessionID)
		return textMessages("?SYNTAX ERROR")
	}
}

// handleAuthInput advances a multi-step LOGIN or REGISTER flow with the
// next input line.
func (b *Shell) handleAuthInput(input string) []shared.Message {
	b.mu.Lock()
	state := b.authState
	if state == nil {
		// Inconsistent state, fall back to the command mode
		b.mode = InputModeCommand
		b.mu.Unlock()
		return textMessages("?SYNTAX ERROR")
	}

	input = strings.TrimSpace(input)
	if input == "" {
		b.authState = nil
		b.mode = InputModeCommand
		b.mu.Unlock()
		return textMessages("?CANCELLED", "READY.")
	}

	switch state.stage {
	case "password":
		if !state.register {
			// LOGIN: verify against the store
			username := state.username
			b.authState = nil
			b.mode = InputModeCommand
			b.mu.Unlock()

			if err := b.store.Authenticate(username, input); err != nil {
				logger.ShellInfo("Login failed for %q in session %s", username, b.sessionID)
				return textMessages("?LOGIN FAILED", "READY.")
			}
			b.mu.Lock()
			b.username = username
			b.mu.Unlock()
			logger.ShellInfo("Session %s logged in as %q", b.sessionID, username)
			return textMessages("WELCOME, "+strings.ToUpper(username), "READY.")
		}
		// REGISTER: validate first, then ask again to confirm
		if msg := auth.ValidateCredentials(state.username, input); msg != "" {
			b.authState = nil
			b.mode = InputModeCommand
			b.mu.Unlock()
			return textMessages("?"+strings.ToUpper(msg), "READY.")
		}
		state.password = input
		state.stage = "confirm"
		b.mu.Unlock()
		return promptMessages("CONFIRM PASSWORD: ")

	case "confirm":
		username := state.username
		password := state.password
		b.authState = nil
		b.mode = InputModeCommand
		b.mu.Unlock()

		if input != password {
			return textMessages("?PASSWORDS DO NOT MATCH", "READY.")
		}
		if err := b.store.CreateUser(username, password, ""); err != nil {
			if err == store.ErrUserExists {
				return textMessages("?USERNAME ALREADY TAKEN", "READY.")
			}
			logger.ShellWarn("Registration failed for %q in session %s: %v", username, b.sessionID, err)
			return textMessages("?REGISTRATION FAILED", "READY.")
		}
		b.mu.Lock()
		b.username = username
		b.mu.Unlock()
		logger.ShellInfo("Session %s registered and logged in as %q", b.sessionID, username)
		return textMessages("ACCOUNT CREATED. WELCOME, "+strings.ToUpper(username), "READY.")
	}

	// Unknown stage, reset
	b.authState = nil
	b.mode = InputModeCommand
	b.mu.Unlock()
	return textMessages("?SYNTAX ERROR")
}

// textMessages wraps plain lines as text messages.
func textMessages(lines ...string) []shared.Message {
	msgs := make([]shared.Message, 0, len(lines))
	for _, line := range lines {
		msgs = append(msgs, shared.Message{Type: shared.MessageTypeText, Content: line})
	}
	return msgs
}

// promptMessages builds a prompt request for the frontend input line.
func promptMessages(prompt string) []shared.Message {
	return []shared.Message{{Type: shared.MessageTypePrompt, Content: prompt, PromptSymbol: prompt}}
}
