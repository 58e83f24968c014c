package apertus_test

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/infinitio/oracles/internal/apertus"
	"github.com/infinitio/oracles/internal/metaclient"
	"github.com/infinitio/oracles/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.MustRegister("apertus")
	os.Exit(m.Run())
}

type fakeMeta struct {
	mu    sync.Mutex
	calls []string
	srv   *httptest.Server
}

func newFakeMeta(t *testing.T) *fakeMeta {
	f := &fakeMeta{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
		f.mu.Unlock()
		fmt.Fprint(w, `{"success":true}`)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeMeta) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func startRelay(t *testing.T, meta *fakeMeta, interval time.Duration) *apertus.Server {
	t.Helper()
	s := apertus.New(apertus.Config{
		UID:               "relay-test",
		Host:              "localhost",
		PlainAddr:         "127.0.0.1:0",
		PortFile:          filepath.Join(t.TempDir(), "portfile"),
		HeartbeatInterval: interval,
	}, metaclient.New(meta.srv.URL), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Close() })
	return s
}

func dial(t *testing.T, s *apertus.Server) net.Conn {
	t.Helper()
	port, _ := s.Ports()
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func handshake(t *testing.T, conn net.Conn, tid string) {
	t.Helper()
	msg := append([]byte{1, byte(len(tid))}, tid...)
	_, err := conn.Write(msg)
	require.NoError(t, err)
}

func TestPairAndForward(t *testing.T) {
	meta := newFakeMeta(t)
	s := startRelay(t, meta, time.Hour)

	a := dial(t, s)
	b := dial(t, s)
	handshake(t, a, "tid-1")
	handshake(t, b, "tid-1")

	_, err := a.Write([]byte("hello from a"))
	require.NoError(t, err)
	buf := make([]byte, 64)
	b.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := b.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello from a", string(buf[:n]))

	_, err = b.Write([]byte("hello from b"))
	require.NoError(t, err)
	a.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err = a.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello from b", string(buf[:n]))
}

func TestCloseOneSideClosesBoth(t *testing.T) {
	meta := newFakeMeta(t)
	s := startRelay(t, meta, time.Hour)

	a := dial(t, s)
	b := dial(t, s)
	handshake(t, a, "tid-close")
	handshake(t, b, "tid-close")

	// Let the pairing settle before closing.
	_, err := a.Write([]byte("x"))
	require.NoError(t, err)
	buf := make([]byte, 8)
	b.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = b.Read(buf)
	require.NoError(t, err)

	a.Close()
	b.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = b.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestDistinctTransactionsDoNotPair(t *testing.T) {
	meta := newFakeMeta(t)
	s := startRelay(t, meta, time.Hour)

	a := dial(t, s)
	b := dial(t, s)
	handshake(t, a, "tid-a")
	handshake(t, b, "tid-b")

	_, err := a.Write([]byte("lost"))
	require.NoError(t, err)
	buf := make([]byte, 8)
	b.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, err = b.Read(buf)
	require.Error(t, err)
}

func TestRegistersAndReportsBandwidth(t *testing.T) {
	meta := newFakeMeta(t)
	startRelay(t, meta, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		var seenPut, seenBandwidth bool
		for _, c := range meta.recorded() {
			if c == "PUT /apertus/relay-test" {
				seenPut = true
			}
			if c == "POST /apertus/relay-test/bandwidth" {
				seenBandwidth = true
			}
		}
		return seenPut && seenBandwidth
	}, 2*time.Second, 20*time.Millisecond)
}

func TestPortFile(t *testing.T) {
	meta := newFakeMeta(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "portfile")
	s := apertus.New(apertus.Config{
		UID:               "relay-portfile",
		PlainAddr:         "127.0.0.1:0",
		PortFile:          path,
		HeartbeatInterval: time.Hour,
	}, metaclient.New(meta.srv.URL), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, s.Start())
	defer s.Close()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	plainPort, sslPort := s.Ports()
	require.Equal(t, fmt.Sprintf("port:%d\nport:%d\n", plainPort, sslPort), string(raw))
}
