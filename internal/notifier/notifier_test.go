package notifier_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"github.com/infinitio/oracles/internal/domain"
	"github.com/infinitio/oracles/internal/metrics"
	"github.com/infinitio/oracles/internal/notification"
	"github.com/infinitio/oracles/internal/notifier"
	"github.com/infinitio/oracles/internal/store"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	metrics.MustRegister("meta")
	os.Exit(m.Run())
}

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return store.New(db)
}

// fakeGateway accepts control-port connections and returns received lines.
func fakeGateway(t *testing.T) (int, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	lines := make(chan string, 16)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				sc := bufio.NewScanner(c)
				for sc.Scan() {
					lines <- sc.Text()
				}
			}(conn)
		}
	}()
	port := ln.Addr().(*net.TCPAddr).Port
	return port, lines
}

func TestNotifyDeliversToGateway(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	port, lines := fakeGateway(t)

	gw := "portal-test"
	err := s.Trophonius().Upsert(ctx, &domain.TrophoniusRecord{
		ID: gw, Hostname: "127.0.0.1", PortControl: port,
	})
	if err != nil {
		t.Fatalf("upsert gateway: %v", err)
	}

	user := &domain.User{Email: "n@example.com", Fullname: "n", Handle: "n", RegisterStatus: domain.RegisterOK}
	if err := s.Users().Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	dev := &domain.Device{ID: uuid.New(), Owner: user.ID, Name: "d", Trophonius: &gw}
	if err := s.Devices().Upsert(ctx, dev); err != nil {
		t.Fatalf("create device: %v", err)
	}
	if err := s.Devices().SetTrophonius(ctx, user.ID, dev.ID, &gw); err != nil {
		t.Fatalf("register device: %v", err)
	}

	n := notifier.New(s, nil, slog.Default())
	err = n.Notify(ctx, notification.PeerTransaction,
		notification.Payload{"status": int(domain.StatusInitialized)},
		notifier.Options{Users: []domain.UserID{user.ID}})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	select {
	case line := <-lines:
		var env struct {
			Notification map[string]any `json:"notification"`
			ToDevices    []string       `json:"to_devices"`
		}
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			t.Fatalf("bad envelope %q: %v", line, err)
		}
		if got := env.Notification["notification_type"]; got != float64(notification.PeerTransaction) {
			t.Fatalf("expected type %d, got %v", notification.PeerTransaction, got)
		}
		if len(env.ToDevices) != 1 || env.ToDevices[0] != dev.ID.String() {
			t.Fatalf("expected device %s, got %v", dev.ID, env.ToDevices)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no control-port line received")
	}
}

func TestNotifyQueuesForOfflineUser(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	user := &domain.User{Email: "off@example.com", Fullname: "off", Handle: "off", RegisterStatus: domain.RegisterGhost}
	if err := s.Users().Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	n := notifier.New(s, nil, slog.Default())
	err := n.Notify(ctx, notification.PeerTransaction,
		notification.Payload{"status": int(domain.StatusCreated)},
		notifier.Options{Users: []domain.UserID{user.ID}})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	pending, err := s.Users().TakePendingNotifications(ctx, user.ID)
	if err != nil {
		t.Fatalf("take pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 queued notification, got %d", len(pending))
	}
	var payload map[string]any
	if err := json.Unmarshal(pending[0], &payload); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if payload["notification_type"] != float64(notification.PeerTransaction) {
		t.Fatalf("unexpected type: %v", payload["notification_type"])
	}

	// A second take must come back empty.
	pending, err = s.Users().TakePendingNotifications(ctx, user.ID)
	if err != nil {
		t.Fatalf("take again: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected queue drained, got %d", len(pending))
	}
}
