package planner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuangela/AutoDrone/internal/minispec"
)

func TestCleanProgram(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"plain", "takeoff()\nland()", "takeoff()\nland()"},
		{"fenced", "```\ntakeoff()\n```", "takeoff()"},
		{"fenced with language", "```python\nc = find(\"cup\")\ndone()\n```\n", "c = find(\"cup\")\ndone()"},
		{"think block", "<think>the cup is left</think>\nrotate(90)", "rotate(90)"},
		{"unclosed think", "done()<think>wait", "done()"},
		{"think then fence", "<think>x</think>```\nland()\n```", "land()"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CleanProgram(tc.in))
		})
	}
}

func TestBuildSystemPrompt_ListsEveryPrimitive(t *testing.T) {
	reg, err := minispec.NewRegistry(minispec.Primitive{
		Name:    "flip",
		Kind:    minispec.KindMotion,
		Params:  []minispec.Param{{Name: "direction", Type: minispec.TypeString}},
		MinArgs: 1,
		Doc:     "flip in place",
	})
	require.NoError(t, err)

	prompt := BuildSystemPrompt(reg)
	for _, p := range reg.Primitives() {
		assert.Contains(t, prompt, p.Signature())
	}
	assert.Contains(t, prompt, "flip in place")
	assert.Contains(t, prompt, "done()")
}

func TestUserPrompt(t *testing.T) {
	assert.Equal(t, "request: land", UserPrompt(PlanRequest{Goal: "land"}))

	got := UserPrompt(PlanRequest{Goal: "find the cup", Context: "Attempt 1 failed"})
	assert.True(t, strings.HasPrefix(got, "request: find the cup\n\n"))
	assert.True(t, strings.HasSuffix(got, "Attempt 1 failed"))
}

func TestNormalizeLanguage(t *testing.T) {
	assert.Equal(t, "en", NormalizeLanguage("English"))
	assert.Equal(t, "fr", NormalizeLanguage("FR"))
	assert.Equal(t, "klingon", NormalizeLanguage("Klingon"))
}

func TestExtFromContentType(t *testing.T) {
	assert.Equal(t, ".ogg", ExtFromContentType("audio/ogg; codecs=opus"))
	assert.Equal(t, ".mp3", ExtFromContentType("audio/mpeg"))
	assert.Equal(t, ".wav", ExtFromContentType("application/octet-stream"))
}
