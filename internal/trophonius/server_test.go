package trophonius_test

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/infinitio/oracles/internal/metaclient"
	"github.com/infinitio/oracles/internal/metrics"
	"github.com/infinitio/oracles/internal/notification"
	"github.com/infinitio/oracles/internal/trophonius"
)

func TestMain(m *testing.M) {
	metrics.MustRegister("trophonius")
	os.Exit(m.Run())
}

// fakeMeta plays the coordinator: one valid token, and it records every
// registration call the gateway makes.
type fakeMeta struct {
	mu     sync.Mutex
	token  string
	userID uuid.UUID
	calls  []string

	srv *httptest.Server
}

func newFakeMeta(t *testing.T) *fakeMeta {
	f := &fakeMeta{token: "good-token", userID: uuid.New()}
	mux := http.NewServeMux()
	catchAll := func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
		f.mu.Unlock()
		fmt.Fprint(w, `{"success":true}`)
	}
	// Method-prefixed patterns ("GET /self") need Go 1.22+; dispatch on
	// r.Method instead so the fake works on the Go 1.21 toolchain.
	mux.HandleFunc("/self", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			catchAll(w, r)
			return
		}
		cookie, err := r.Cookie("session-id")
		if err != nil || cookie.Value != f.token {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"success":false,"error_code":-101,"error_details":""}`)
			return
		}
		fmt.Fprintf(w, `{"success":true,"id":%q}`, f.userID)
	})
	mux.HandleFunc("/", catchAll)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeMeta) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func startGateway(t *testing.T, meta *fakeMeta) *trophonius.Server {
	t.Helper()
	s := trophonius.New(trophonius.Config{
		UID:               "gw-test",
		Hostname:          "localhost",
		ClientAddr:        "127.0.0.1:0",
		ControlAddr:       "127.0.0.1:0",
		PortFile:          filepath.Join(t.TempDir(), "portfile"),
		PingTimeout:       2 * time.Second,
		HeartbeatInterval: time.Hour,
	}, metaclient.New(meta.srv.URL), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Close() })
	return s
}

func dialClient(t *testing.T, s *trophonius.Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	port, _, _ := s.Ports()
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

func authenticate(t *testing.T, conn net.Conn, r *bufio.Reader, meta *fakeMeta, device uuid.UUID) {
	t.Helper()
	auth := map[string]any{"token": meta.token, "user_id": meta.userID, "device_id": device}
	raw, err := json.Marshal(auth)
	require.NoError(t, err)
	_, err = conn.Write(append(raw, '\n'))
	require.NoError(t, err)

	line, err := r.ReadBytes('\n')
	require.NoError(t, err)
	var resp struct {
		NotificationType int `json:"notification_type"`
		ResponseCode     int `json:"response_code"`
	}
	require.NoError(t, json.Unmarshal(line, &resp))
	require.Equal(t, int(notification.ConnectionOK), resp.NotificationType)
	require.Equal(t, 200, resp.ResponseCode)
}

func TestAuthAndRegistration(t *testing.T) {
	meta := newFakeMeta(t)
	s := startGateway(t, meta)

	device := uuid.New()
	conn, r := dialClient(t, s)
	authenticate(t, conn, r, meta, device)

	bind := fmt.Sprintf("PUT /trophonius/gw-test/users/%s/%s", meta.userID, device)
	require.Eventually(t, func() bool {
		for _, c := range meta.recorded() {
			if c == bind {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	conn.Close()
	unbind := fmt.Sprintf("DELETE /trophonius/gw-test/users/%s/%s", meta.userID, device)
	require.Eventually(t, func() bool {
		for _, c := range meta.recorded() {
			if c == unbind {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestAuthRejectsBadToken(t *testing.T) {
	meta := newFakeMeta(t)
	s := startGateway(t, meta)

	conn, r := dialClient(t, s)
	auth := map[string]any{"token": "wrong", "user_id": meta.userID, "device_id": uuid.New()}
	raw, _ := json.Marshal(auth)
	_, err := conn.Write(append(raw, '\n'))
	require.NoError(t, err)

	line, err := r.ReadBytes('\n')
	require.NoError(t, err)
	var resp struct {
		ResponseCode int `json:"response_code"`
	}
	require.NoError(t, json.Unmarshal(line, &resp))
	require.Equal(t, 400, resp.ResponseCode)

	// The gateway closes after a rejection.
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = r.ReadBytes('\n')
	require.Error(t, err)
}

func TestControlFanOut(t *testing.T) {
	meta := newFakeMeta(t)
	s := startGateway(t, meta)

	device := uuid.New()
	conn, r := dialClient(t, s)
	authenticate(t, conn, r, meta, device)

	_, _, controlPort := s.Ports()
	control, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", controlPort))
	require.NoError(t, err)
	defer control.Close()

	env := notification.Envelope{
		Notification: notification.Stamp(notification.PeerTransaction,
			notification.Payload{"transaction_id": uuid.NewString()}),
		// One connected device, one unknown; the unknown one is skipped.
		ToDevices: []uuid.UUID{device, uuid.New()},
	}
	line, err := env.Line()
	require.NoError(t, err)
	_, err = control.Write(line)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, err := r.ReadBytes('\n')
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(got, &payload))
	require.EqualValues(t, int(notification.PeerTransaction), payload["notification_type"])
}

func TestPingKeepsConnectionAlive(t *testing.T) {
	meta := newFakeMeta(t)
	s := startGateway(t, meta)

	device := uuid.New()
	conn, r := dialClient(t, s)
	authenticate(t, conn, r, meta, device)

	// Echo pings for a few rounds; the connection must survive past the
	// timeout.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline.Add(time.Second))
		line, err := r.ReadBytes('\n')
		if err != nil {
			t.Fatalf("connection dropped while echoing pings: %v", err)
		}
		var msg struct {
			Type notification.Type `json:"notification_type"`
		}
		require.NoError(t, json.Unmarshal(line, &msg))
		if msg.Type == notification.Ping {
			pong, _ := json.Marshal(map[string]int{"notification_type": int(notification.Ping)})
			_, err = conn.Write(append(pong, '\n'))
			require.NoError(t, err)
		}
	}
}

func TestIdleConnectionDropped(t *testing.T) {
	meta := newFakeMeta(t)
	s := startGateway(t, meta)

	device := uuid.New()
	conn, r := dialClient(t, s)
	authenticate(t, conn, r, meta, device)

	// Never echo; the gateway must drop us after the ping timeout.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, err := r.ReadBytes('\n'); err != nil {
			if os.IsTimeout(err) {
				t.Fatal("gateway kept an idle connection alive")
			}
			return
		}
	}
}

func TestPortFile(t *testing.T) {
	meta := newFakeMeta(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "portfile")
	s := trophonius.New(trophonius.Config{
		UID:               "gw-portfile",
		ClientAddr:        "127.0.0.1:0",
		ControlAddr:       "127.0.0.1:0",
		PortFile:          path,
		HeartbeatInterval: time.Hour,
	}, metaclient.New(meta.srv.URL), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, s.Start())
	defer s.Close()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	clientPort, sslPort, controlPort := s.Ports()
	want := fmt.Sprintf("port:%d\nport:%d\nport:%d\n", clientPort, sslPort, controlPort)
	require.Equal(t, want, string(raw))
	require.True(t, strings.HasPrefix(string(raw), "port:"))
}
