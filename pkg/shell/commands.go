package shell

import (
	"fmt"
	"strings"

	"github.com/antibyte/brainterm/pkg/configuration"
	"github.com/antibyte/brainterm/pkg/logger"
	"github.com/antibyte/brainterm/pkg/shared"
	"github.com/antibyte/brainterm/pkg/store"
)

func (b *Shell) cmdHelp() []shared.Message {
	return textMessages(
		"BRAINTERM COMMANDS:",
		"  NEW [name]      - start a new program",
		"  TYPE <code>     - append a line of code to the program",
		"  LIST            - show the program",
		"  RUN [name]      - run the program (or a named one)",
		"  DUMP            - show the tape after the last run",
		"  EXAMPLES        - list the built-in example programs",
		"  LOAD <name>     - load an example or saved program",
		"  SAVE [name]     - save the program (login required)",
		"  DIR             - list your saved programs (login required)",
		"  DEL <name>      - delete a saved program (login required)",
		"  LOGIN <user>    - log in",
		"  REGISTER <user> - create an account",
		"  LOGOUT          - log out",
		"  WHOAMI          - show who you are",
		"  CLEAR           - clear the screen",
		"  ABOUT           - about brainterm",
		"  EXIT            - close the session",
		"",
		"CODE: > < + - . , [ ]  EVERYTHING ELSE IS A COMMENT.",
	)
}

func (b *Shell) cmdAbout() []shared.Message {
	return textMessages(
		"*** BRAINTERM V1.0 ***",
		"",
		"A TERMINAL FOR AN EIGHT-INSTRUCTION MACHINE:",
		"A TAPE OF BYTE CELLS, A POINTER, AND NOTHING ELSE.",
		"",
		"  >  MOVE THE POINTER RIGHT    <  MOVE THE POINTER LEFT",
		"  +  INCREMENT THE CELL        -  DECREMENT THE CELL",
		"  .  OUTPUT THE CELL           ,  READ ONE BYTE OF INPUT",
		"  [  JUMP PAST ] IF ZERO       ]  JUMP BACK TO [ IF NONZERO",
		"",
		"TYPE EXAMPLES TO SEE SOME PROGRAMS.",
	)
}

func (b *Shell) cmdNew(args []string) []shared.Message {
	name := ""
	if len(args) > 0 {
		name = strings.ToLower(args[0])
		if msg := validateProgramName(name); msg != "" {
			return textMessages(msg)
		}
	}

	b.mu.Lock()
	b.buffer = nil
	b.programName = name
	b.mu.Unlock()

	if name != "" {
		return textMessages("NEW PROGRAM: " + strings.ToUpper(name))
	}
	return textMessages("NEW PROGRAM.")
}

func (b *Shell) cmdList() []shared.Message {
	b.mu.Lock()
	buffer := make([]string, len(b.buffer))
	copy(buffer, b.buffer)
	name := b.programName
	b.mu.Unlock()

	if len(buffer) == 0 {
		return textMessages("NO PROGRAM.")
	}

	msgs := make([]shared.Message, 0, len(buffer)+1)
	if name != "" {
		msgs = append(msgs, shared.Message{Type: shared.MessageTypeText, Content: "PROGRAM: " + strings.ToUpper(name)})
	}
	for i, line := range buffer {
		msgs = append(msgs, shared.Message{
			Type:    shared.MessageTypeText,
			Content: fmt.Sprintf("%4d  %s", i+1, line),
		})
	}
	return msgs
}

func (b *Shell) cmdType(code string) []shared.Message {
	maxLines := configuration.GetInt("Interpreter", "max_program_lines", 5000)
	maxBytes := configuration.GetInt("Interpreter", "max_program_bytes", 65536)

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.buffer) >= maxLines {
		return textMessages("?PROGRAM TOO LARGE")
	}
	size := len(code)
	for _, line := range b.buffer {
		size += len(line) + 1
	}
	if size > maxBytes {
		return textMessages("?PROGRAM TOO LARGE")
	}
	b.buffer = append(b.buffer, code)
	return nil
}

func (b *Shell) cmdDump() []shared.Message {
	b.mu.Lock()
	hasRun := b.hasRun
	tape := make([]byte, len(b.lastTape))
	copy(tape, b.lastTape)
	pointer := b.lastPointer
	b.mu.Unlock()

	if !hasRun {
		return textMessages("?NOTHING RUN YET")
	}

	maxCells := configuration.GetInt("Interpreter", "dump_cells", 16)
	shown := len(tape)
	if shown > maxCells {
		shown = maxCells
	}

	var sb strings.Builder
	sb.WriteString("TAPE:")
	for i := 0; i < shown; i++ {
		if i == pointer {
			sb.WriteString(fmt.Sprintf(" [%d]", tape[i]))
		} else {
			sb.WriteString(fmt.Sprintf(" %d", tape[i]))
		}
	}
	if len(tape) > shown {
		sb.WriteString(fmt.Sprintf(" ... (%d cells)", len(tape)))
	}

	return textMessages(
		sb.String(),
		fmt.Sprintf("POINTER: %d  CELLS: %d", pointer, len(tape)),
	)
}

func (b *Shell) cmdExamples() []shared.Message {
	if b.catalog == nil || b.catalog.Len() == 0 {
		return textMessages("?NO EXAMPLES INSTALLED")
	}

	msgs := textMessages("EXAMPLE PROGRAMS:")
	for _, entry := range b.catalog.List() {
		msgs = append(msgs, shared.Message{
			Type:    shared.MessageTypeText,
			Content: fmt.Sprintf("  %-10s %s", strings.ToUpper(entry.Name), entry.Synopsis),
		})
	}
	msgs = append(msgs, shared.Message{Type: shared.MessageTypeText, Content: "LOAD <NAME> TO FETCH ONE."})
	return msgs
}

func (b *Shell) cmdLoad(args []string) []shared.Message {
	if len(args) != 1 {
		return textMessages("?LOAD NEEDS A NAME")
	}
	name := strings.ToLower(args[0])

	source, ok, msgs := b.resolveSource(name)
	if !ok {
		return msgs
	}

	lines := strings.Split(strings.TrimRight(source, "\n"), "\n")

	b.mu.Lock()
	b.buffer = lines
	b.programName = name
	b.mu.Unlock()

	logger.ShellInfo("Session %s loaded program %q (%d lines)", b.sessionID, name, len(lines))
	return textMessages(fmt.Sprintf("LOADED %s (%d LINES). TYPE RUN TO START.", strings.ToUpper(name), len(lines)))
}

// resolveSource finds program source by name: the example catalog wins,
// then the user's saved programs.
func (b *Shell) resolveSource(name string) (string, bool, []shared.Message) {
	if b.catalog != nil {
		if _, ok := b.catalog.Lookup(name); ok {
			source, err := b.catalog.Source(name)
			if err != nil {
				logger.ShellWarn("Example %q unreadable: %v", name, err)
				return "", false, textMessages("?EXAMPLE UNREADABLE")
			}
			return source, true, nil
		}
	}

	b.mu.Lock()
	username := b.username
	b.mu.Unlock()

	if username != "" && b.store != nil {
		source, err := b.store.LoadProgram(username, name)
		if err == nil {
			return source, true, nil
		}
		if err != store.ErrProgramNotFound {
			logger.ShellWarn("Loading %q for %q failed: %v", name, username, err)
			return "", false, textMessages("?LOAD FAILED")
		}
	}

	return "", false, textMessages("?FILE NOT FOUND")
}

func (b *Shell) cmdSave(args []string) []shared.Message {
	b.mu.Lock()
	username := b.username
	name := b.programName
	source := strings.Join(b.buffer, "\n")
	empty := len(b.buffer) == 0
	b.mu.Unlock()

	if username == "" {
		return textMessages("?LOGIN REQUIRED")
	}
	if b.store == nil {
		return textMessages("?STORAGE UNAVAILABLE")
	}
	if len(args) > 0 {
		name = strings.ToLower(args[0])
	}
	if name == "" {
		return textMessages("?SAVE NEEDS A NAME")
	}
	if msg := validateProgramName(name); msg != "" {
		return textMessages(msg)
	}
	if empty {
		return textMessages("?NO PROGRAM.")
	}

	if err := b.store.SaveProgram(username, name, source); err != nil {
		switch err {
		case store.ErrQuotaExceeded:
			return textMessages("?STORAGE FULL")
		case store.ErrNameTooLong:
			return textMessages("?NAME TOO LONG")
		case store.ErrProgramTooLarge:
			return textMessages("?PROGRAM TOO LARGE")
		}
		logger.ShellWarn("Saving %q for %q failed: %v", name, username, err)
		return textMessages("?SAVE FAILED")
	}

	b.mu.Lock()
	b.programName = name
	b.mu.Unlock()

	logger.ShellInfo("Session %s saved program %q for %q", b.sessionID, name, username)
	return textMessages("SAVED " + strings.ToUpper(name) + ".")
}

func (b *Shell) cmdDir() []shared.Message {
	b.mu.Lock()
	username := b.username
	b.mu.Unlock()

	if username == "" {
		return textMessages("?LOGIN REQUIRED")
	}
	if b.store == nil {
		return textMessages("?STORAGE UNAVAILABLE")
	}

	programs, err := b.store.ListPrograms(username)
	if err != nil {
		logger.ShellWarn("Listing programs for %q failed: %v", username, err)
		return textMessages("?DIR FAILED")
	}
	if len(programs) == 0 {
		return textMessages("NO SAVED PROGRAMS.")
	}

	maxPrograms := configuration.GetInt("Interpreter", "max_saved_programs", 50)
	msgs := textMessages("SAVED PROGRAMS:")
	for _, info := range programs {
		msgs = append(msgs, shared.Message{
			Type:    shared.MessageTypeText,
			Content: fmt.Sprintf("  %-32s %6d BYTES  %s", strings.ToUpper(info.Name), info.Size, info.UpdatedAt.Format("2006-01-02 15:04")),
		})
	}
	msgs = append(msgs, shared.Message{
		Type:    shared.MessageTypeText,
		Content: fmt.Sprintf("%d OF %d SLOTS USED.", len(programs), maxPrograms),
	})
	return msgs
}

func (b *Shell) cmdDel(args []string) []shared.Message {
	b.mu.Lock()
	username := b.username
	b.mu.Unlock()

	if username == "" {
		return textMessages("?LOGIN REQUIRED")
	}
	if b.store == nil {
		return textMessages("?STORAGE UNAVAILABLE")
	}
	if len(args) != 1 {
		return textMessages("?DEL NEEDS A NAME")
	}
	name := strings.ToLower(args[0])

	if err := b.store.DeleteProgram(username, name); err != nil {
		if err == store.ErrProgramNotFound {
			return textMessages("?FILE NOT FOUND")
		}
		logger.ShellWarn("Deleting %q for %q failed: %v", name, username, err)
		return textMessages("?DEL FAILED")
	}

	logger.ShellInfo("Session %s deleted program %q for %q", b.sessionID, name, username)
	return textMessages("DELETED " + strings.ToUpper(name) + ".")
}

func (b *Shell) cmdLogin(args []string) []shared.Message {
	if b.store == nil {
		return textMessages("?LOGIN UNAVAILABLE")
	}

	b.mu.Lock()
	loggedIn := b.username != ""
	b.mu.Unlock()

	if loggedIn {
		return textMessages("?ALREADY LOGGED IN. LOGOUT FIRST.")
	}
	if len(args) != 1 {
		return textMessages("?LOGIN NEEDS A USERNAME")
	}
	username := strings.ToLower(args[0])

	b.mu.Lock()
	b.authState = &authState{register: false, stage: "password", username: username}
	b.mode = InputModeLogin
	b.mu.Unlock()

	return promptMessages("PASSWORD: ")
}

func (b *Shell) cmdRegister(args []string) []shared.Message {
	if !configuration.GetBool("Authentication", "enable_registration", true) {
		return textMessages("?REGISTRATION IS DISABLED")
	}
	if b.store == nil {
		return textMessages("?REGISTRATION UNAVAILABLE")
	}

	b.mu.Lock()
	loggedIn := b.username != ""
	b.mu.Unlock()

	if loggedIn {
		return textMessages("?ALREADY LOGGED IN. LOGOUT FIRST.")
	}
	if len(args) != 1 {
		return textMessages("?REGISTER NEEDS A USERNAME")
	}
	username := strings.ToLower(args[0])

	exists, err := b.store.UserExists(username)
	if err != nil {
		logger.ShellWarn("Checking username %q failed: %v", username, err)
		return textMessages("?REGISTRATION FAILED")
	}
	if exists {
		return textMessages("?USERNAME ALREADY TAKEN")
	}

	b.mu.Lock()
	b.authState = &authState{register: true, stage: "password", username: username}
	b.mode = InputModeRegister
	b.mu.Unlock()

	return promptMessages("CHOOSE A PASSWORD: ")
}

func (b *Shell) cmdLogout() []shared.Message {
	b.mu.Lock()
	username := b.username
	b.username = ""
	b.mu.Unlock()

	if username == "" {
		return textMessages("?NOT LOGGED IN")
	}
	logger.ShellInfo("Session %s logged out from %q", b.sessionID, username)
	return textMessages("GOODBYE, " + strings.ToUpper(username) + ".")
}

func (b *Shell) cmdWhoAmI() []shared.Message {
	b.mu.Lock()
	username := b.username
	b.mu.Unlock()

	if username == "" {
		return textMessages("YOU ARE A GUEST. REGISTER <USER> TO SAVE PROGRAMS.")
	}
	return textMessages("YOU ARE " + strings.ToUpper(username) + ".")
}

func (b *Shell) cmdExit() []shared.Message {
	return []shared.Message{
		{Type: shared.MessageTypeText, Content: "GOODBYE."},
		{Type: shared.MessageTypeMode, Mode: "exit"},
	}
}

// validateProgramName checks a program name against the configured limits.
// An empty return means the name is fine.
func validateProgramName(name string) string {
	maxName := configuration.GetInt("Interpreter", "max_program_name", 32)
	if name == "" || len(name) > maxName {
		return "?NAME TOO LONG"
	}
	for _, r := range name {
		isLower := r >= 'a' && r <= 'z'
		isDigit := r >= '0' && r <= '9'
		if !isLower && !isDigit && r != '-' && r != '_' {
			return "?BAD NAME (USE LETTERS, DIGITS, - AND _)"
		}
	}
	return ""
}
