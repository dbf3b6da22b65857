package brainfuck

import (
	"reflect"
	"testing"
)

func TestLex(t *testing.T) {
	program := Lex("+[.+]\n>,-.<")

	expected := Program{
		{IncrementCell, Location{1, 1}},
		{JumpIfZero, Location{1, 2}},
		{Output, Location{1, 3}},
		{IncrementCell, Location{1, 4}},
		{JumpIfNonZero, Location{1, 5}},
		{MovePointerForward, Location{2, 1}},
		{Input, Location{2, 2}},
		{DecrementCell, Location{2, 3}},
		{Output, Location{2, 4}},
		{MovePointerBackward, Location{2, 5}},
	}

	if !reflect.DeepEqual(program, expected) {
		t.Errorf("Lex: expected %v, got %v", expected, program)
	}
}

func TestLexSkipsCommentText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Program
	}{
		{
			name:     "Empty",
			input:    "",
			expected: nil,
		},
		{
			name:     "Only comments",
			input:    "no commands here\njust prose",
			expected: nil,
		},
		{
			name:  "Comment bytes advance the column",
			input: "a+b\nc-d",
			expected: Program{
				{IncrementCell, Location{1, 2}},
				{DecrementCell, Location{2, 2}},
			},
		},
		{
			name:  "Carriage return counts as a column",
			input: "+\r\n+",
			expected: Program{
				{IncrementCell, Location{1, 1}},
				{IncrementCell, Location{2, 1}},
			},
		},
		{
			name:  "Trailing newline",
			input: ".\n",
			expected: Program{
				{Output, Location{1, 1}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			program := Lex(tt.input)
			if !reflect.DeepEqual(program, tt.expected) {
				t.Errorf("Lex(%q): expected %v, got %v", tt.input, tt.expected, program)
			}
		})
	}
}

func TestLexIsDeterministic(t *testing.T) {
	source := "++[>+<-]."
	first := Lex(source)
	second := Lex(source)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Lex is not deterministic: %v vs %v", first, second)
	}
}

func TestInstructionSymbolRoundTrip(t *testing.T) {
	instructions := []Instruction{
		MovePointerForward, MovePointerBackward,
		IncrementCell, DecrementCell,
		Output, Input,
		JumpIfZero, JumpIfNonZero,
	}
	for _, instruction := range instructions {
		mapped, ok := instructionFor(instruction.Symbol())
		if !ok {
			t.Errorf("instructionFor(%q): not recognized", instruction.Symbol())
			continue
		}
		if mapped != instruction {
			t.Errorf("instructionFor(%q): expected %v, got %v", instruction.Symbol(), instruction, mapped)
		}
	}
}
