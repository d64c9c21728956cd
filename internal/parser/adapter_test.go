package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapter_StatusLineThenHeaders(t *testing.T) {
	var status StatusLine
	var fields []string
	var values [][2]string
	var declared int
	var done bool

	a := New(Callbacks{
		OnStatus: func(sl StatusLine) { status = sl },
		OnHeaderField: func(name string) { fields = append(fields, name) },
		OnHeaderValue: func(name, value string) {
			values = append(values, [2]string{name, value})
		},
		OnHeadersComplete: func(contentLength int) {
			declared = contentLength
			done = true
		},
	})

	statusLine := []byte("HTTP/1.1 200 OK\r\n")
	consumed, err := a.Execute(statusLine)
	require.NoError(t, err)
	assert.Equal(t, len(statusLine), consumed)
	assert.Equal(t, StatusLine{Major: 1, Minor: 1, Code: 200, Reason: "OK"}, status)
	assert.False(t, done)

	a.Unpause()

	headerLines := [][]byte{
		[]byte("Content-Type: text/plain\r\n"),
		[]byte("Content-Length: 5\r\n"),
		[]byte("\r\n"),
	}
	for _, line := range headerLines {
		_, err := a.Execute(line)
		require.NoError(t, err)
	}

	require.True(t, done)
	assert.Equal(t, 5, declared)
	assert.Equal(t, []string{"Content-Type", "Content-Length"}, fields)
	assert.Equal(t, [][2]string{{"Content-Type", "text/plain"}, {"Content-Length", "5"}}, values)
}

// TestAdapter_ContentLengthTakesPriorityOverChunked covers a
// non-conforming response declaring both headers: Content-Length wins the
// body-framing dispatch, matching mainstream HTTP/1.1 client behavior.
func TestAdapter_ContentLengthTakesPriorityOverChunked(t *testing.T) {
	var declared int

	a := New(Callbacks{
		OnHeadersComplete: func(contentLength int) { declared = contentLength },
	})

	_, err := a.Execute([]byte("HTTP/1.1 200 OK\r\n"))
	require.NoError(t, err)
	a.Unpause()

	lines := []string{
		"Content-Length: 5\r\n",
		"Transfer-Encoding: chunked\r\n",
		"\r\n",
	}
	for _, l := range lines {
		_, err := a.Execute([]byte(l))
		require.NoError(t, err)
	}

	assert.Equal(t, 5, declared)
	assert.True(t, a.ChunkedTransferEncoding())
}

func TestAdapter_NoContentLengthNoChunked(t *testing.T) {
	var declared int
	a := New(Callbacks{OnHeadersComplete: func(cl int) { declared = cl }})

	_, err := a.Execute([]byte("HTTP/1.0 200 OK\r\n"))
	require.NoError(t, err)
	a.Unpause()

	_, err = a.Execute([]byte("\r\n"))
	require.NoError(t, err)

	assert.Equal(t, -1, declared)
	assert.False(t, a.ChunkedTransferEncoding())
}

func TestAdapter_MalformedStatusLine(t *testing.T) {
	a := New(Callbacks{})

	_, err := a.Execute([]byte("not a status line\r\n"))
	assert.Error(t, err)
}

func TestAdapter_ResetAllowsReuse(t *testing.T) {
	var status StatusLine
	a := New(Callbacks{OnStatus: func(sl StatusLine) { status = sl }})

	_, err := a.Execute([]byte("HTTP/1.1 404 Not Found\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 404, status.Code)

	a.Reset()
	status = StatusLine{}

	_, err = a.Execute([]byte("HTTP/1.1 200 OK\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 200, status.Code)
}

func TestAdapter_HeaderKeyTerminatedByCRLFImmediately(t *testing.T) {
	var done bool
	a := New(Callbacks{OnHeadersComplete: func(int) { done = true }})

	_, err := a.Execute([]byte("HTTP/1.1 204 No Content\r\n"))
	require.NoError(t, err)
	a.Unpause()

	_, err = a.Execute([]byte("\r\n"))
	require.NoError(t, err)
	assert.True(t, done)
}
