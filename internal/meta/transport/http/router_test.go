package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/infinitio/oracles/internal/mailer"
	"github.com/infinitio/oracles/internal/meta/service"
	"github.com/infinitio/oracles/internal/metrics"
	metahttp "github.com/infinitio/oracles/internal/meta/transport/http"
	"github.com/infinitio/oracles/internal/notification"
	"github.com/infinitio/oracles/internal/notifier"
	"github.com/infinitio/oracles/internal/store"
)

func TestMain(m *testing.M) {
	metrics.MustRegister("meta")
	os.Exit(m.Run())
}

type nullNotifier struct{}

func (nullNotifier) Notify(context.Context, notification.Type, notification.Payload, notifier.Options) error {
	return nil
}

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.New(store.New(db), nullNotifier{}, &mailer.Recorder{}, nil,
		service.Config{SigningKey: []byte("test-signing-key")}, log)
	srv := httptest.NewServer(metahttp.NewRouter(svc, metahttp.Config{}))
	t.Cleanup(srv.Close)
	return srv
}

// apiClient is one logged-in device talking to the coordinator.
type apiClient struct {
	t    *testing.T
	base string
	http *http.Client
}

func newClient(t *testing.T, srv *httptest.Server) *apiClient {
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &apiClient{t: t, base: srv.URL, http: &http.Client{Jar: jar}}
}

func (c *apiClient) do(method, path string, body any) (int, map[string]any) {
	c.t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, buf)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.t.Fatalf("%s %s: decode: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func (c *apiClient) must(method, path string, body any) map[string]any {
	c.t.Helper()
	status, out := c.do(method, path, body)
	if status != http.StatusOK || out["success"] != true {
		c.t.Fatalf("%s %s: status %d, body %v", method, path, status, out)
	}
	return out
}

func (c *apiClient) signup(email string) uuid.UUID {
	c.t.Helper()
	c.must("POST", "/user/register", map[string]any{
		"email": email, "password": "secret", "fullname": "User " + email, "handle": email,
	})
	device := uuid.New()
	c.must("POST", "/login", map[string]any{
		"email": email, "password": "secret", "device_id": device,
	})
	return device
}

func TestLoginAndSelf(t *testing.T) {
	srv := startServer(t)
	c := newClient(t, srv)
	c.signup("alice@example.com")

	out := c.must("GET", "/self", nil)
	if out["email"] != "alice@example.com" {
		t.Fatalf("self email = %v", out["email"])
	}
}

func TestFailureEnvelope(t *testing.T) {
	srv := startServer(t)
	c := newClient(t, srv)

	status, out := c.do("GET", "/self", nil)
	if status != http.StatusForbidden {
		t.Fatalf("status = %d", status)
	}
	if out["success"] != false {
		t.Fatalf("success = %v", out["success"])
	}
	if out["error_code"] != float64(-101) {
		t.Fatalf("error_code = %v", out["error_code"])
	}
}

func TestTransactionOverHTTP(t *testing.T) {
	srv := startServer(t)
	alice := newClient(t, srv)
	bob := newClient(t, srv)
	aliceDevice := alice.signup("alice@example.com")
	bobDevice := bob.signup("bob@example.com")

	out := alice.must("POST", "/transaction/create", map[string]any{
		"id_or_email": "bob@example.com",
		"files":       []string{"report.pdf"},
		"files_count": 1,
		"total_size":  1024,
		"device_id":   aliceDevice,
	})
	id := out["created_transaction_id"].(string)
	if out["recipient_is_ghost"] != false {
		t.Fatalf("recipient_is_ghost = %v", out["recipient_is_ghost"])
	}

	alice.must("POST", "/transaction/update", map[string]any{
		"transaction_id": id, "status": 1,
	})
	bob.must("POST", "/transaction/update", map[string]any{
		"transaction_id": id, "status": 2, "device_id": bobDevice,
	})

	got := bob.must("GET", "/transaction/"+id, nil)
	if got["status"] != float64(2) {
		t.Fatalf("status = %v", got["status"])
	}

	// Finalized transactions refuse further updates with a 409.
	bob.must("POST", "/transaction/update", map[string]any{
		"transaction_id": id, "status": 4,
	})
	status, out := bob.do("POST", "/transaction/update", map[string]any{
		"transaction_id": id, "status": 6,
	})
	if status != http.StatusConflict {
		t.Fatalf("status = %d, body %v", status, out)
	}

	list := bob.must("GET", "/transactions?filter=4", nil)
	txs := list["transactions"].([]any)
	if len(txs) != 1 {
		t.Fatalf("expected 1 finished transaction, got %d", len(txs))
	}
}

func TestPeerEndpointsQueryOverHTTP(t *testing.T) {
	srv := startServer(t)
	alice := newClient(t, srv)
	bob := newClient(t, srv)
	aliceDevice := alice.signup("alice@example.com")
	bobDevice := bob.signup("bob@example.com")

	out := alice.must("POST", "/transaction/create", map[string]any{
		"id_or_email": "bob@example.com",
		"files":       []string{"report.pdf"},
		"device_id":   aliceDevice,
	})
	id := out["created_transaction_id"].(string)

	alice.must("POST", "/transaction/update", map[string]any{
		"transaction_id": id, "status": 1,
	})
	bob.must("POST", "/transaction/update", map[string]any{
		"transaction_id": id, "status": 2, "device_id": bobDevice,
	})

	alice.must("PUT", "/transaction/"+id+"/endpoints", map[string]any{
		"device": aliceDevice,
		"locals": []map[string]any{{"ip": "10.0.0.1", "port": 1000}},
	})
	bob.must("PUT", "/transaction/"+id+"/endpoints", map[string]any{
		"device": bobDevice,
		"locals": []map[string]any{{"ip": "10.0.0.2", "port": 2000}},
	})

	got := alice.must("POST", "/transaction/"+id+"/endpoints?device_id="+bobDevice.String(), nil)
	locals := got["locals"].([]any)
	if len(locals) != 1 || locals[0] != "10.0.0.2:2000" {
		t.Fatalf("locals = %v", locals)
	}

	// Asking about a device that never published is a 404.
	status, _ := alice.do("POST", "/transaction/"+id+"/endpoints?device_id="+uuid.NewString(), nil)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d", status)
	}
}

func TestGatewayDirectoryOverHTTP(t *testing.T) {
	srv := startServer(t)
	c := newClient(t, srv)
	c.signup("alice@example.com")

	infra := newClient(t, srv)
	infra.must("PUT", "/trophonius/gw-1", map[string]any{
		"hostname": "gw1.example.com", "port_client": 9000, "port": 9001,
	})

	out := c.must("GET", "/trophonius", nil)
	if out["hostname"] != "gw1.example.com" {
		t.Fatalf("hostname = %v", out["hostname"])
	}

	infra.must("DELETE", "/trophonius/gw-1", nil)
	status, _ := c.do("GET", "/trophonius", nil)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", status)
	}
}
