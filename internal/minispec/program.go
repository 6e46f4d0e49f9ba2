package minispec

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ArgKind tags a literal or reference argument.
type ArgKind int

const (
	ArgNumber ArgKind = iota + 1
	ArgString
	ArgRef
)

// Arg is one argument as written in the program.
type Arg struct {
	Kind ArgKind
	Num  float64
	Str  string // string literal, or the bound name for ArgRef
}

// Number returns a numeric literal argument.
func Number(v float64) Arg { return Arg{Kind: ArgNumber, Num: v} }

// String returns a string literal argument.
func String(s string) Arg { return Arg{Kind: ArgString, Str: s} }

// Ref returns a reference to a previously bound name.
func Ref(name string) Arg { return Arg{Kind: ArgRef, Str: name} }

func (a Arg) String() string {
	switch a.Kind {
	case ArgNumber:
		return strconv.FormatFloat(a.Num, 'f', -1, 64)
	case ArgString:
		return strconv.Quote(a.Str)
	default:
		return a.Str
	}
}

// Instruction is one parsed statement.
type Instruction struct {
	Prim Primitive
	Args []Arg
	Bind string // empty unless the statement is "name = opcode(...)"
}

// Op returns the opcode name.
func (in Instruction) Op() string { return in.Prim.Name }

func (in Instruction) String() string {
	args := make([]string, len(in.Args))
	for i, a := range in.Args {
		args[i] = a.String()
	}
	call := fmt.Sprintf("%s(%s)", in.Prim.Name, strings.Join(args, ", "))
	if in.Bind != "" {
		return in.Bind + " = " + call
	}
	return call
}

// Program is the ordered instruction list produced by one planning call.
// It is never modified after Parse returns.
type Program struct {
	source string
	instrs []Instruction
}

// Len returns the number of instructions.
func (p *Program) Len() int { return len(p.instrs) }

// At returns a copy of the i-th instruction.
func (p *Program) At(i int) Instruction {
	in := p.instrs[i]
	in.Args = slices.Clone(in.Args)
	return in
}

// Instructions returns a copy of all instructions.
func (p *Program) Instructions() []Instruction {
	out := make([]Instruction, len(p.instrs))
	for i := range p.instrs {
		out[i] = p.At(i)
	}
	return out
}

// Last returns the final instruction; ok is false for an empty program.
func (p *Program) Last() (Instruction, bool) {
	if len(p.instrs) == 0 {
		return Instruction{}, false
	}
	return p.At(len(p.instrs) - 1), true
}

// Source returns the text the program was parsed from.
func (p *Program) Source() string { return p.source }

// String renders the program in canonical form, one statement per ';'.
func (p *Program) String() string {
	parts := make([]string, len(p.instrs))
	for i, in := range p.instrs {
		parts[i] = in.String()
	}
	return strings.Join(parts, "; ")
}
