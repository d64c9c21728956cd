package redirect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fp(path string) Fingerprint {
	return Fingerprint{Scheme: "http", Host: "example.test", Port: 80, Path: path, Method: "GET"}
}

func TestHistory_AddAndLen(t *testing.T) {
	h := New()
	assert.Equal(t, 0, h.Len())

	h.Add(Hop{Request: fp("/a"), Status: 301, Location: "/b"})
	assert.Equal(t, 1, h.Len())
}

func TestHistory_FindReturnsTerminalOnMatch(t *testing.T) {
	h := New()
	terminal := TerminalRequest{Scheme: "http", Host: "example.test", Port: 80, Path: "/b"}
	h.Add(Hop{Request: fp("/a"), Status: 301, Location: "/b", Terminal: terminal})

	got, ok := h.Find(fp("/a"))
	assert.True(t, ok)
	assert.Equal(t, terminal, got)
}

func TestHistory_FindMissReturnsFalse(t *testing.T) {
	h := New()
	h.Add(Hop{Request: fp("/a"), Status: 301, Location: "/b"})

	_, ok := h.Find(fp("/other"))
	assert.False(t, ok)
}

func TestHistory_FindIgnoresHopWithoutTerminal(t *testing.T) {
	h := New()
	h.Add(Hop{Request: fp("/a"), Status: 301, Location: "/b"})

	_, ok := h.Find(fp("/a"))
	assert.False(t, ok, "a chain that hasn't resolved yet must not be reported as a cache hit")
}

func TestHistory_SetTerminalBackfillsEveryRecordedHop(t *testing.T) {
	h := New()
	h.Add(Hop{Request: fp("/a"), Status: 301, Location: "/b"})
	h.Add(Hop{Request: fp("/b"), Status: 302, Location: "/c"})

	terminal := TerminalRequest{Scheme: "http", Host: "example.test", Port: 80, Path: "/c"}
	h.SetTerminal(terminal)

	gotA, okA := h.Find(fp("/a"))
	require.True(t, okA)
	assert.Equal(t, terminal, gotA)

	gotB, okB := h.Find(fp("/b"))
	require.True(t, okB)
	assert.Equal(t, terminal, gotB)
}

func TestHistory_SetTerminalOnNilIsSafe(t *testing.T) {
	var h *History
	h.SetTerminal(TerminalRequest{Path: "/c"})
}

func TestHistory_NilReceiverIsSafe(t *testing.T) {
	var h *History
	assert.Equal(t, 0, h.Len())

	_, ok := h.Find(fp("/a"))
	assert.False(t, ok)
}

func TestHistory_CloneIsIndependent(t *testing.T) {
	h := New()
	h.Add(Hop{Request: fp("/a"), Status: 301})

	clone := h.Clone()
	clone.Add(Hop{Request: fp("/b"), Status: 302})

	assert.Equal(t, 1, h.Len())
	assert.Equal(t, 2, clone.Len())
}

func TestHistory_CloneOfNilReturnsEmpty(t *testing.T) {
	var h *History
	clone := h.Clone()
	assert.Equal(t, 0, clone.Len())
}
