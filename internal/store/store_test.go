package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/infinitio/oracles/internal/domain"
	"github.com/infinitio/oracles/internal/store"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

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

func makeUser(t *testing.T, s *store.Store, email string) *domain.User {
	t.Helper()
	u := &domain.User{
		Email:          email,
		Fullname:       "User " + email,
		Handle:         email,
		RegisterStatus: domain.RegisterOK,
	}
	if err := s.Users().Create(context.Background(), u); err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

func TestUserLookupIsCaseInsensitive(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	u := makeUser(t, s, "Alice@Example.COM")

	got, err := s.Users().GetByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("expected user %s, got %s", u.ID, got.ID)
	}
	if got.Email != "alice@example.com" {
		t.Fatalf("email not lowered: %s", got.Email)
	}

	got, err = s.Users().GetByHandle(ctx, "ALICE@EXAMPLE.COM")
	if err != nil {
		t.Fatalf("get by handle: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("expected user %s, got %s", u.ID, got.ID)
	}
}

func TestGhostPromotionKeepsID(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	ghost := &domain.User{
		Email:          "ghost@example.com",
		Fullname:       "ghost",
		Handle:         "ghost@example.com",
		RegisterStatus: domain.RegisterGhost,
	}
	if err := s.Users().Create(ctx, ghost); err != nil {
		t.Fatalf("create ghost: %v", err)
	}

	err := s.Users().Promote(ctx, ghost.ID, map[string]any{
		"fullname":   "Real Name",
		"handle":     "realname",
		"lw_handle":  "realname",
		"public_key": "pk",
	})
	if err != nil {
		t.Fatalf("promote: %v", err)
	}

	got, err := s.Users().GetByID(ctx, ghost.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RegisterStatus != domain.RegisterOK {
		t.Fatalf("expected register_status ok, got %s", got.RegisterStatus)
	}
	if got.Fullname != "Real Name" {
		t.Fatalf("fullname not updated: %s", got.Fullname)
	}
}

func TestUserSearchSkipsGhosts(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	makeUser(t, s, "bob@example.com")
	ghost := &domain.User{
		Email:          "bobghost@example.com",
		Fullname:       "bobghost",
		Handle:         "bobghost@example.com",
		RegisterStatus: domain.RegisterGhost,
	}
	if err := s.Users().Create(ctx, ghost); err != nil {
		t.Fatalf("create ghost: %v", err)
	}

	users, err := s.Users().Search(ctx, "bob", 10, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 match, got %d", len(users))
	}
	if users[0].Email != "bob@example.com" {
		t.Fatalf("unexpected match: %s", users[0].Email)
	}
}

func TestDeviceGatewayRegistration(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	u := makeUser(t, s, "carol@example.com")
	dev := &domain.Device{ID: uuid.New(), Owner: u.ID, Name: "laptop"}
	if err := s.Devices().Upsert(ctx, dev); err != nil {
		t.Fatalf("upsert device: %v", err)
	}

	gw := "portal-1"
	if err := s.Devices().SetTrophonius(ctx, u.ID, dev.ID, &gw); err != nil {
		t.Fatalf("set trophonius: %v", err)
	}

	online, err := s.Devices().OnlineForUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("online: %v", err)
	}
	if len(online) != 1 || *online[0].Trophonius != gw {
		t.Fatalf("expected device registered on %s, got %+v", gw, online)
	}

	owners, err := s.Devices().ClearGateway(ctx, gw)
	if err != nil {
		t.Fatalf("clear gateway: %v", err)
	}
	if len(owners) != 1 || owners[0] != u.ID {
		t.Fatalf("expected owner %s, got %v", u.ID, owners)
	}

	online, err = s.Devices().OnlineForUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("online after clear: %v", err)
	}
	if len(online) != 0 {
		t.Fatalf("expected no online devices, got %d", len(online))
	}
}

func TestSwaggerIncrementIsMutual(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a := makeUser(t, s, "a@example.com")
	b := makeUser(t, s, "b@example.com")

	n, err := s.Swaggers().Increment(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected first increment to return 1, got %d", n)
	}

	n, err = s.Swaggers().Increment(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}

	peers, err := s.Swaggers().PeerIDs(ctx, b.ID)
	if err != nil {
		t.Fatalf("peers: %v", err)
	}
	if len(peers) != 1 || peers[0] != a.ID {
		t.Fatalf("expected mutual swagger for %s, got %v", a.ID, peers)
	}
}

func makeTransaction(t *testing.T, s *store.Store, sender, recipient *domain.User) *domain.Transaction {
	t.Helper()
	tr := &domain.Transaction{
		SenderID:       sender.ID,
		SenderDeviceID: uuid.New(),
		RecipientID:    recipient.ID,
		Files:          []string{"photo.jpg"},
		FilesCount:     1,
		TotalSize:      1024,
		Status:         domain.StatusCreated,
	}
	if err := s.Transactions().Create(context.Background(), tr); err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return tr
}

func TestTransactionStatusCAS(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a := makeUser(t, s, "sender@example.com")
	b := makeUser(t, s, "recipient@example.com")
	tr := makeTransaction(t, s, a, b)

	ok, err := s.Transactions().UpdateStatusCAS(ctx, tr.ID, domain.StatusCreated, domain.StatusInitialized, nil)
	if err != nil {
		t.Fatalf("cas: %v", err)
	}
	if !ok {
		t.Fatalf("expected cas to win")
	}

	// A second update from the stale status must lose.
	ok, err = s.Transactions().UpdateStatusCAS(ctx, tr.ID, domain.StatusCreated, domain.StatusCanceled, nil)
	if err != nil {
		t.Fatalf("cas: %v", err)
	}
	if ok {
		t.Fatalf("expected stale cas to lose")
	}

	got, err := s.Transactions().Get(ctx, tr.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusInitialized {
		t.Fatalf("expected status initialized, got %s", got.Status)
	}
}

func TestTransactionNodes(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a := makeUser(t, s, "na@example.com")
	b := makeUser(t, s, "nb@example.com")
	tr := makeTransaction(t, s, a, b)

	devA := uuid.New()
	keyA := domain.NodeKey(a.ID, devA)
	nodes, err := s.Transactions().SetNode(ctx, tr.ID, keyA, &domain.Node{
		Locals:    []domain.Endpoint{{IP: "192.168.0.2", Port: 4000}},
		Externals: []domain.Endpoint{{IP: "93.184.0.1", Port: 4000}},
	})
	if err != nil {
		t.Fatalf("set node: %v", err)
	}
	if nodes[keyA] == nil || len(nodes[keyA].Locals) != 1 {
		t.Fatalf("node not recorded: %+v", nodes)
	}

	devB := uuid.New()
	keyB := domain.NodeKey(b.ID, devB)
	nodes, err = s.Transactions().SetNode(ctx, tr.ID, keyB, &domain.Node{
		Externals: []domain.Endpoint{{IP: "93.184.0.2", Port: 4001}},
	})
	if err != nil {
		t.Fatalf("set second node: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected both nodes present, got %d", len(nodes))
	}

	touched, err := s.Transactions().ClearNodesForDevice(ctx, a.ID, devA)
	if err != nil {
		t.Fatalf("clear nodes: %v", err)
	}
	if len(touched) != 1 {
		t.Fatalf("expected 1 touched transaction, got %d", len(touched))
	}
	if touched[0].Nodes.Data()[keyA] != nil {
		t.Fatalf("expected node nulled")
	}
	if touched[0].Nodes.Data()[keyB] == nil {
		t.Fatalf("peer node must survive")
	}
}

func TestTransactionFallbackIsSetOnce(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a := makeUser(t, s, "fa@example.com")
	b := makeUser(t, s, "fb@example.com")
	tr := makeTransaction(t, s, a, b)

	first := &domain.ApertusRecord{ID: "relay-1", Host: "relay1.example.com", PortTCP: 6565, PortSSL: 6566}
	got, err := s.Transactions().SetFallback(ctx, tr.ID, first)
	if err != nil {
		t.Fatalf("set fallback: %v", err)
	}
	if got.FallbackHost == nil || *got.FallbackHost != first.Host {
		t.Fatalf("fallback not set: %+v", got)
	}

	second := &domain.ApertusRecord{ID: "relay-2", Host: "relay2.example.com", PortTCP: 6565, PortSSL: 6566}
	got, err = s.Transactions().SetFallback(ctx, tr.ID, second)
	if err != nil {
		t.Fatalf("set fallback again: %v", err)
	}
	if *got.FallbackHost != first.Host {
		t.Fatalf("fallback must stick to the first relay, got %s", *got.FallbackHost)
	}
}

func TestTransactionListFilters(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a := makeUser(t, s, "la@example.com")
	b := makeUser(t, s, "lb@example.com")

	t1 := makeTransaction(t, s, a, b)
	t2 := makeTransaction(t, s, b, a)
	if _, err := s.Transactions().UpdateStatusCAS(ctx, t2.ID, domain.StatusCreated, domain.StatusCanceled, nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	trs, err := s.Transactions().List(ctx, a.ID, store.ListFilter{
		Statuses: domain.FinalStatuses,
		Negate:   true,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(trs) != 1 || trs[0].ID != t1.ID {
		t.Fatalf("expected only the pending transaction, got %d", len(trs))
	}

	trs, err = s.Transactions().List(ctx, a.ID, store.ListFilter{
		Statuses: []domain.Status{domain.StatusCanceled},
	})
	if err != nil {
		t.Fatalf("list canceled: %v", err)
	}
	if len(trs) != 1 || trs[0].ID != t2.ID {
		t.Fatalf("expected the canceled transaction, got %d", len(trs))
	}
}

func TestTrophoniusPickPrefersLeastUsers(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	busy := &domain.TrophoniusRecord{ID: "t-busy", Hostname: "busy", PortClient: 1, Users: 500}
	idle := &domain.TrophoniusRecord{ID: "t-idle", Hostname: "idle", PortClient: 1, Users: 3}
	draining := &domain.TrophoniusRecord{ID: "t-drain", Hostname: "drain", PortClient: 1, Users: 0, ShuttingDown: true}
	for _, rec := range []*domain.TrophoniusRecord{busy, idle, draining} {
		if err := s.Trophonius().Upsert(ctx, rec); err != nil {
			t.Fatalf("upsert %s: %v", rec.ID, err)
		}
	}

	picked, err := s.Trophonius().Pick(ctx, "", time.Minute)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if picked.ID != "t-idle" {
		t.Fatalf("expected t-idle, got %s", picked.ID)
	}
}

func TestTrophoniusSweepStale(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	stale := &domain.TrophoniusRecord{ID: "t-stale", Time: time.Now().UTC().Add(-time.Hour)}
	fresh := &domain.TrophoniusRecord{ID: "t-fresh"}
	for _, rec := range []*domain.TrophoniusRecord{stale, fresh} {
		if err := s.Trophonius().Upsert(ctx, rec); err != nil {
			t.Fatalf("upsert %s: %v", rec.ID, err)
		}
	}

	ids, err := s.Trophonius().SweepStale(ctx, time.Minute)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(ids) != 1 || ids[0] != "t-stale" {
		t.Fatalf("expected only t-stale swept, got %v", ids)
	}
	if _, err := s.Trophonius().Get(ctx, "t-fresh"); err != nil {
		t.Fatalf("fresh gateway must survive: %v", err)
	}
}

func TestApertusBandwidthAndPick(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	loaded := &domain.ApertusRecord{ID: "a-loaded", Host: "h1", PortTCP: 6565}
	quiet := &domain.ApertusRecord{ID: "a-quiet", Host: "h2", PortTCP: 6565}
	for _, rec := range []*domain.ApertusRecord{loaded, quiet} {
		if err := s.Apertus().Upsert(ctx, rec); err != nil {
			t.Fatalf("upsert %s: %v", rec.ID, err)
		}
	}
	if err := s.Apertus().UpdateBandwidth(ctx, "a-loaded", 1<<20, 12); err != nil {
		t.Fatalf("bandwidth: %v", err)
	}
	if err := s.Apertus().UpdateBandwidth(ctx, "a-quiet", 1024, 1); err != nil {
		t.Fatalf("bandwidth: %v", err)
	}

	picked, err := s.Apertus().PickLeastLoaded(ctx, time.Minute)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if picked.ID != "a-quiet" {
		t.Fatalf("expected a-quiet, got %s", picked.ID)
	}

	if err := s.Apertus().UpdateBandwidth(ctx, "a-missing", 1, 1); err != store.ErrRecordNotFound {
		t.Fatalf("expected not found for unknown relay, got %v", err)
	}
}

func TestSessionsOnePerDevice(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	u := makeUser(t, s, "sess@example.com")
	devID := uuid.New()

	old := &domain.Session{UserID: u.ID, DeviceID: &devID, Email: u.Email, ExpiresAt: time.Now().Add(time.Hour)}
	if err := s.Sessions().Create(ctx, old); err != nil {
		t.Fatalf("create session: %v", err)
	}

	if err := s.Sessions().DeleteForDevice(ctx, u.ID, devID); err != nil {
		t.Fatalf("delete for device: %v", err)
	}
	if _, err := s.Sessions().Get(ctx, old.ID); err != store.ErrRecordNotFound {
		t.Fatalf("expected old session gone, got %v", err)
	}

	fresh := &domain.Session{UserID: u.ID, DeviceID: &devID, Email: u.Email, ExpiresAt: time.Now().Add(time.Hour)}
	if err := s.Sessions().Create(ctx, fresh); err != nil {
		t.Fatalf("create fresh session: %v", err)
	}
	got, err := s.Sessions().Get(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != u.ID {
		t.Fatalf("wrong session user: %s", got.UserID)
	}
}

func TestMailMarkClaim(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	won, err := s.MailMarks().Claim(ctx, "daily-summary", 24*time.Hour)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !won {
		t.Fatalf("first claim must win")
	}

	won, err = s.MailMarks().Claim(ctx, "daily-summary", 24*time.Hour)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if won {
		t.Fatalf("second claim within the period must lose")
	}
}
