// Package minispec defines the small instruction language the planner emits
// and parses program text into typed, ordered instructions.
//
// A program is a list of statements separated by ';' or newlines. Each
// statement is either a call, opcode(arg, ...), or a binding,
// name = opcode(arg, ...), for primitives that return a value. The language
// has no control flow: all adaptive behavior lives in the replanning loop.
package minispec

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind is the closed set of primitive categories. Every consumer that
// dispatches on a Kind must handle all three.
type Kind int

const (
	// KindMotion primitives are forwarded to the robot.
	KindMotion Kind = iota + 1
	// KindQuery primitives read the scene snapshot and bind a value.
	KindQuery
	// KindGoal primitives signal goal completion.
	KindGoal
)

func (k Kind) String() string {
	switch k {
	case KindMotion:
		return "motion"
	case KindQuery:
		return "query"
	case KindGoal:
		return "goal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Type describes argument and result types.
type Type int

const (
	TypeNone Type = iota
	TypeNumber
	TypeString
	TypeObject
)

func (t Type) String() string {
	switch t {
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeObject:
		return "object"
	default:
		return "none"
	}
}

// ParseType maps a configuration type name to a Type.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "number", "float", "int":
		return TypeNumber, nil
	case "string", "text":
		return TypeString, nil
	case "object", "ref":
		return TypeObject, nil
	default:
		return TypeNone, fmt.Errorf("unknown parameter type %q", s)
	}
}

// Param is one declared parameter of a primitive.
type Param struct {
	Name string
	Type Type
}

// Primitive is the declared signature of an opcode.
type Primitive struct {
	Name    string
	Kind    Kind
	Params  []Param
	MinArgs int // trailing params beyond MinArgs are optional
	Returns Type
	Doc     string
}

// Signature renders the primitive the way it is shown to the planner,
// e.g. "find(class: string, [index: number]) -> object".
func (p Primitive) Signature() string {
	var sb strings.Builder
	sb.WriteString(p.Name)
	sb.WriteByte('(')
	for i, param := range p.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		if i >= p.MinArgs {
			fmt.Fprintf(&sb, "[%s: %s]", param.Name, param.Type)
		} else {
			fmt.Fprintf(&sb, "%s: %s", param.Name, param.Type)
		}
	}
	sb.WriteByte(')')
	if p.Returns != TypeNone {
		sb.WriteString(" -> " + p.Returns.String())
	}
	return sb.String()
}

// Built-in opcode names.
const (
	OpTakeoff = "takeoff"
	OpLand    = "land"
	OpHover   = "hover"
	OpMove    = "move"
	OpRotate  = "rotate"
	OpMoveTo  = "move_to"
	OpFind    = "find"
	OpCount   = "count"
	OpReport  = "report"
	OpDone    = "done"
)

func builtins() []Primitive {
	return []Primitive{
		{Name: OpTakeoff, Kind: KindMotion, Doc: "take off and hover at the default height"},
		{Name: OpLand, Kind: KindMotion, Doc: "land at the current position"},
		{Name: OpHover, Kind: KindMotion, Doc: "stop and hold the current position"},
		{
			Name: OpMove, Kind: KindMotion, MinArgs: 3,
			Params: []Param{{"dx", TypeNumber}, {"dy", TypeNumber}, {"dz", TypeNumber}},
			Doc:    "move relative to the current pose in centimeters (forward, left, up)",
		},
		{
			Name: OpRotate, Kind: KindMotion, MinArgs: 1,
			Params: []Param{{"deg", TypeNumber}},
			Doc:    "rotate in place, positive is counter-clockwise",
		},
		{
			Name: OpMoveTo, Kind: KindMotion, MinArgs: 1,
			Params: []Param{{"target", TypeObject}},
			Doc:    "fly to and hover in front of an object returned by find",
		},
		{
			Name: OpFind, Kind: KindQuery, MinArgs: 1, Returns: TypeObject,
			Params: []Param{{"class", TypeString}, {"index", TypeNumber}},
			Doc:    "look up a visible object by class label; index selects among several",
		},
		{
			Name: OpCount, Kind: KindQuery, MinArgs: 1, Returns: TypeNumber,
			Params: []Param{{"class", TypeString}},
			Doc:    "number of visible objects with the class label",
		},
		{
			Name: OpReport, Kind: KindGoal, MinArgs: 1,
			Params: []Param{{"text", TypeString}},
			Doc:    "tell the operator the answer and finish the task",
		},
		{Name: OpDone, Kind: KindGoal, Doc: "finish the task"},
	}
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Registry is the set of primitives a parser accepts.
type Registry struct {
	byName map[string]Primitive
	order  []string
}

// NewRegistry returns the built-in primitives plus any extra ones. Extra
// primitives may not shadow a built-in and may only be motion primitives
// returning nothing.
func NewRegistry(extra ...Primitive) (*Registry, error) {
	r := &Registry{byName: make(map[string]Primitive)}
	for _, p := range builtins() {
		r.add(p)
	}
	for _, p := range extra {
		if !identRe.MatchString(p.Name) {
			return nil, fmt.Errorf("primitive name %q is not an identifier", p.Name)
		}
		if _, ok := r.byName[p.Name]; ok {
			return nil, fmt.Errorf("primitive %q already registered", p.Name)
		}
		if p.Kind != KindMotion || p.Returns != TypeNone {
			return nil, fmt.Errorf("primitive %q: only motion primitives without results can be added", p.Name)
		}
		if p.MinArgs < 0 || p.MinArgs > len(p.Params) {
			return nil, fmt.Errorf("primitive %q: min args %d out of range", p.Name, p.MinArgs)
		}
		for _, param := range p.Params {
			if param.Type == TypeObject {
				return nil, fmt.Errorf("primitive %q: object parameters are reserved for move_to", p.Name)
			}
		}
		r.add(p)
	}
	return r, nil
}

// DefaultRegistry returns a registry with only the built-in primitives.
func DefaultRegistry() *Registry {
	r, _ := NewRegistry()
	return r
}

func (r *Registry) add(p Primitive) {
	r.byName[p.Name] = p
	r.order = append(r.order, p.Name)
}

// Lookup returns the primitive registered under name.
func (r *Registry) Lookup(name string) (Primitive, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Primitives returns every registered primitive in registration order.
func (r *Registry) Primitives() []Primitive {
	out := make([]Primitive, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}
