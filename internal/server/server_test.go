package server

import (
	"bufio"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	e, _ := setupEngine(t)
	srv := NewServer(e, zaptest.NewLogger(t))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()
	t.Cleanup(func() {
		assert.NoError(t, srv.Shutdown(time.Second))
		assert.True(t, errors.Is(<-served, ErrServerClosed))
	})
	return srv, ln.Addr().String()
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() }) //nolint:errcheck
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return conn, bufio.NewReader(conn)
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return line
}

func TestServer_PipelineAndInline(t *testing.T) {
	_, addr := startServer(t)
	conn, r := dial(t, addr)

	_, err := conn.Write([]byte("*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n*2\r\n$3\r\nGET\r\n$1\r\nk\r\nPING\r\n"))
	require.NoError(t, err)

	assert.Equal(t, "+OK\r\n", readLine(t, r))
	assert.Equal(t, "$1\r\n", readLine(t, r))
	assert.Equal(t, "v\r\n", readLine(t, r))
	assert.Equal(t, "+PONG\r\n", readLine(t, r))
}

func TestServer_ProtocolErrorClosesConnection(t *testing.T) {
	_, addr := startServer(t)
	conn, r := dial(t, addr)

	_, err := conn.Write([]byte("*1\r\n$abc\r\n"))
	require.NoError(t, err)

	line := readLine(t, r)
	assert.Contains(t, line, "-ERR Protocol error")

	_, err = r.ReadString('\n')
	assert.Error(t, err, "connection must be closed after a protocol error")
}

func TestServer_NonBulkArgumentClosesConnection(t *testing.T) {
	_, addr := startServer(t)
	conn, r := dial(t, addr)

	_, err := conn.Write([]byte("*2\r\n$3\r\nGET\r\n*1\r\n:5\r\n"))
	require.NoError(t, err)

	assert.Equal(t, "-ERR Protocol error: expected '$', got '*'\r\n", readLine(t, r))
	_, err = r.ReadString('\n')
	assert.Error(t, err)
}

func TestServer_Quit(t *testing.T) {
	_, addr := startServer(t)
	conn, r := dial(t, addr)

	_, err := conn.Write([]byte("QUIT\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "+OK\r\n", readLine(t, r))

	_, err = r.ReadString('\n')
	assert.Error(t, err)
}

func TestServer_ShutdownWakesIdleClients(t *testing.T) {
	e, _ := setupEngine(t)
	srv := NewServer(e, zaptest.NewLogger(t))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln) //nolint:errcheck

	conn, r := dial(t, ln.Addr().String())
	_, err = conn.Write([]byte("PING\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "+PONG\r\n", readLine(t, r))

	require.NoError(t, srv.Shutdown(2*time.Second))

	_, err = r.ReadString('\n')
	assert.Error(t, err)
	assert.ErrorIs(t, srv.Serve(ln), ErrServerClosed)
}
