package minispec

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ops(p *Program) []string {
	var out []string
	for _, in := range p.Instructions() {
		out = append(out, in.Op())
	}
	return out
}

func TestParse_FindThenMoveTo(t *testing.T) {
	p, err := Parse(`c = find("cup"); move_to(c); done()`)
	require.NoError(t, err)
	require.Equal(t, 3, p.Len())

	type view struct {
		Op   string
		Bind string
		Args []Arg
	}
	var got []view
	for _, in := range p.Instructions() {
		got = append(got, view{in.Op(), in.Bind, in.Args})
	}
	want := []view{
		{Op: "find", Bind: "c", Args: []Arg{String("cup")}},
		{Op: "move_to", Args: []Arg{Ref("c")}},
		{Op: "done"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("program mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_SeparatorsAndComments(t *testing.T) {
	src := `
// lift off first
takeoff();;
move(50, -20.5, +10)
rotate(-90) // turn right
n = count('chair')
report("seen chairs")
`
	p, err := Parse(src)
	require.NoError(t, err)
	assert.Equal(t, []string{"takeoff", "move", "rotate", "count", "report"}, ops(p))

	mv := p.At(1)
	assert.Equal(t, []Arg{Number(50), Number(-20.5), Number(10)}, mv.Args)
	assert.Equal(t, src, p.Source())
}

func TestParse_MultilineArgumentList(t *testing.T) {
	p, err := Parse("move(\n  10,\n  0,\n  0\n); land()")
	require.NoError(t, err)
	assert.Equal(t, []string{"move", "land"}, ops(p))
}

func TestParse_StringEscapes(t *testing.T) {
	p, err := Parse(`report("a \"red\" cup\tnear\\wall")`)
	require.NoError(t, err)
	assert.Equal(t, "a \"red\" cup\tnear\\wall", p.At(0).Args[0].Str)
}

func TestParse_OptionalArguments(t *testing.T) {
	p, err := Parse(`a = find("chair"); b = find("chair", 1); move_to(b)`)
	require.NoError(t, err)
	assert.Len(t, p.At(0).Args, 1)
	assert.Len(t, p.At(1).Args, 2)
}

func TestParse_Errors(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"empty", "  ;\n ; "},
		{"missing paren", "takeoff"},
		{"unclosed call", "move(1, 2, 3"},
		{"unterminated string", `find("cup)`},
		{"dangling comma", "move(1, 2,)"},
		{"trailing tokens", "land() land()"},
		{"too few args", "move(1, 2)"},
		{"too many args", "rotate(1, 2)"},
		{"undefined name", "move_to(cup)"},
		{"bind without result", "x = land()"},
		{"bind to opcode name", `find = find("cup")`},
		{"malformed number", "rotate(12abc)"},
		{"bad character", "rotate(#1)"},
		{"unknown escape", `report("\q")`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.src)
			var se *SyntaxError
			require.True(t, errors.As(err, &se), "want SyntaxError, got %v", err)
		})
	}
}

func TestParse_UnknownOpcode(t *testing.T) {
	_, err := Parse(`takeoff(); fly_to("kitchen")`)
	var ue *UnknownOpcodeError
	require.True(t, errors.As(err, &ue), "want UnknownOpcodeError, got %v", err)
	assert.Equal(t, "fly_to", ue.Opcode)
	assert.Equal(t, 2, ue.Statement)
}

func TestParse_ReferenceMustPrecedeUse(t *testing.T) {
	_, err := Parse(`move_to(c); c = find("cup")`)
	var se *SyntaxError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 1, se.Statement)
}

func TestParse_StatementCountMatches(t *testing.T) {
	srcs := map[string]int{
		"takeoff()":                                   1,
		"takeoff(); land()":                           2,
		"takeoff();\nhover()\n\nland();":              3,
		`x = count("cup"); report("done"); done()`:     3,
		"takeoff() // comment ; not a separator\nland()": 2,
	}
	for src, n := range srcs {
		p, err := Parse(src)
		require.NoError(t, err, src)
		assert.Equal(t, n, p.Len(), src)
	}
}

func TestParse_Deterministic(t *testing.T) {
	src := `t = find("tv", 0); move_to(t); rotate(45); report("facing the tv")`
	a, err := Parse(src)
	require.NoError(t, err)
	b, err := Parse(src)
	require.NoError(t, err)
	if diff := cmp.Diff(a.Instructions(), b.Instructions()); diff != "" {
		t.Errorf("parse is not deterministic:\n%s", diff)
	}
}

func TestProgram_StringRoundTrips(t *testing.T) {
	p, err := Parse(`c = find('cup', 1)
move(10, 0, -5.5); report("it's here")`)
	require.NoError(t, err)
	canon := p.String()
	assert.Equal(t, `c = find("cup", 1); move(10, 0, -5.5); report("it's here")`, canon)

	again, err := Parse(canon)
	require.NoError(t, err)
	assert.Equal(t, canon, again.String())
}

func TestProgram_AtReturnsCopy(t *testing.T) {
	p, err := Parse("move(1, 2, 3)")
	require.NoError(t, err)
	in := p.At(0)
	in.Args[0] = Number(99)
	assert.Equal(t, float64(1), p.At(0).Args[0].Num)
}

func TestRegistry_ExtraPrimitives(t *testing.T) {
	r, err := NewRegistry(Primitive{
		Name: "flip", Kind: KindMotion, MinArgs: 1,
		Params: []Param{{"direction", TypeString}},
	})
	require.NoError(t, err)

	p, err := r.Parse(`takeoff(); flip("left"); land()`)
	require.NoError(t, err)
	assert.Equal(t, KindMotion, p.At(1).Prim.Kind)

	_, err = Parse(`flip("left")`)
	var ue *UnknownOpcodeError
	assert.True(t, errors.As(err, &ue), "default registry must not know flip")
}

func TestRegistry_RejectsInvalidExtras(t *testing.T) {
	cases := []Primitive{
		{Name: "land", Kind: KindMotion},
		{Name: "2fast", Kind: KindMotion},
		{Name: "peek", Kind: KindQuery, Returns: TypeNumber},
		{Name: "grab", Kind: KindMotion, MinArgs: 2, Params: []Param{{"x", TypeNumber}}},
		{Name: "chase", Kind: KindMotion, MinArgs: 1, Params: []Param{{"target", TypeObject}}},
	}
	for _, p := range cases {
		_, err := NewRegistry(p)
		assert.Error(t, err, p.Name)
	}
}

func TestPrimitive_Signature(t *testing.T) {
	r := DefaultRegistry()
	find, ok := r.Lookup(OpFind)
	require.True(t, ok)
	assert.Equal(t, "find(class: string, [index: number]) -> object", find.Signature())

	done, _ := r.Lookup(OpDone)
	assert.Equal(t, "done()", done.Signature())
}
