package stream

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetStream_ReadUntilAndReadAtLeast(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	s := Adopt(client)

	go func() {
		_, _ = server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"))
	}()

	line, err := s.ReadUntil([]byte("\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n", string(line))

	line, err = s.ReadUntil([]byte("\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "Content-Length: 5\r\n", string(line))

	line, err = s.ReadUntil([]byte("\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "\r\n", string(line))

	body, err := s.ReadAtLeast(5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestNetStream_ReadSomeThenUnread(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	s := Adopt(client)

	go func() {
		_, _ = server.Write([]byte("abcdef"))
	}()

	chunk, err := s.ReadSome()
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(chunk))

	s.Unread([]byte("cdef"))

	next, err := s.ReadAtLeast(4)
	require.NoError(t, err)
	assert.Equal(t, "cdef", string(next))
}

func TestNetStream_WriteOnUnconnectedFails(t *testing.T) {
	s := New()
	err := s.Write([]byte("x"))
	assert.Error(t, err)
}

func TestNetStream_CloseThenReadFails(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	s := Adopt(client)
	require.NoError(t, s.Close())

	_, err := s.ReadSome()
	assert.Error(t, err)
}

func TestNetStream_CancelUnblocksInFlightRead(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	defer client.Close()

	s := Adopt(client)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.ReadAtLeast(1)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	s.Cancel()

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Cancel did not unblock the in-flight read")
	}
}

func TestIsSocketClosed(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"reset", syscall.ECONNRESET, true},
		{"aborted", syscall.ECONNABORTED, true},
		{"broken pipe", syscall.EPIPE, true},
		{"closed", net.ErrClosed, true},
		{"other", errors.New("boom"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsSocketClosed(tc.err))
		})
	}
}

func TestIsAborted_ContextCanceled(t *testing.T) {
	assert.True(t, IsAborted(context.Canceled))
	assert.False(t, IsAborted(nil))
	assert.False(t, IsAborted(errors.New("boom")))
}
