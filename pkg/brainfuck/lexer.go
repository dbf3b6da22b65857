package brainfuck

// Lex converts source text into a program. Lexing never fails: any byte that
// is not one of the eight command characters is comment text and is skipped,
// as is traditional for this language family. Skipped bytes still advance the
// column counter, and a newline advances the line, so every token carries the
// exact position it was read from.
func Lex(source string) Program {
	var program Program
	line, col := 1, 1

	for i := 0; i < len(source); i++ {
		c := source[i]
		if instruction, ok := instructionFor(c); ok {
			program = append(program, Token{
				Instruction: instruction,
				Location:    Location{Line: line, Col: col},
			})
		} else if c == '\n' {
			// The unconditional advance below moves the byte after the
			// newline to column 1.
			line++
			col = 0
		}
		col++
	}

	return program
}
