package goLinkAuth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/goLinkAuth/internal/sqlstore"
	"github.com/MrEthical07/goLinkAuth/internal/totp"
)

// testEpoch sits exactly on a TOTP step boundary.
var testEpoch = time.Unix(1_700_000_010, 0).UTC()

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testDirectory struct {
	mu         sync.Mutex
	principals map[string]*Principal
	resolveErr error
}

func newTestDirectory(ps ...*Principal) *testDirectory {
	d := &testDirectory{principals: make(map[string]*Principal)}
	for _, p := range ps {
		d.Add(p)
	}
	return d
}

func (d *testDirectory) Add(p *Principal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *p
	d.principals[p.ID] = &cp
}

func (d *testDirectory) ResolvePrincipal(_ context.Context, identifier string) (*Principal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resolveErr != nil {
		return nil, d.resolveErr
	}
	for _, p := range d.principals {
		if (p.Email != "" && strings.EqualFold(p.Email, identifier)) || (p.Username != "" && p.Username == identifier) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrUnknownPrincipal
}

func (d *testDirectory) PrincipalByID(_ context.Context, id string) (*Principal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.principals[id]
	if !ok {
		return nil, ErrUnknownPrincipal
	}
	cp := *p
	return &cp, nil
}

func (d *testDirectory) UpdatePasswordHash(_ context.Context, id, hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.principals[id]
	if !ok {
		return ErrUnknownPrincipal
	}
	p.PasswordHash = hash
	return nil
}

func (d *testDirectory) CountAdministrators(context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, p := range d.principals {
		for _, r := range p.Roles {
			if r == "admin" {
				n++
				break
			}
		}
	}
	return n, nil
}

type testDeliverer struct {
	mu      sync.Mutex
	links   map[string][]string
	notices map[string]int
	fail    error
}

func newTestDeliverer() *testDeliverer {
	return &testDeliverer{
		links:   make(map[string][]string),
		notices: make(map[string]int),
	}
}

func (d *testDeliverer) DeliverMagicLink(_ context.Context, p Principal, link string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.links[p.ID] = append(d.links[p.ID], link)
	return nil
}

func (d *testDeliverer) NotifyGracePeriod(_ context.Context, p Principal, _ time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notices[p.ID]++
	return nil
}

func (d *testDeliverer) linkCount(principalID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.links[principalID])
}

func (d *testDeliverer) noticeCount(principalID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.notices[principalID]
}

// lastLink returns the raw token and pid carried by the newest link.
func (d *testDeliverer) lastLink(t *testing.T, principalID string) (string, string) {
	t.Helper()
	d.mu.Lock()
	links := d.links[principalID]
	d.mu.Unlock()
	if len(links) == 0 {
		t.Fatalf("no link delivered to %s", principalID)
	}
	u, err := url.Parse(links[len(links)-1])
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	return u.Query().Get("token"), u.Query().Get("pid")
}

type recordingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *recordingSink) Emit(_ context.Context, e AuditEvent) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) count(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

type harness struct {
	engine    *Engine
	clock     *testClock
	dir       *testDirectory
	deliverer *testDeliverer
	sink      *recordingSink
	store     *sqlstore.Store
	redis     *miniredis.Miniredis
}

var (
	alice = &Principal{ID: "u-alice", Email: "alice@example.com", Username: "alice", Roles: []string{"member"}}
	bob   = &Principal{ID: "u-bob", Email: "bob@example.com", Username: "bob", Roles: []string{"admin"}}
	erin  = &Principal{ID: "u-erin", Email: "erin@example.com", Username: "erin", Roles: []string{"finance"}}
)

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store, err := sqlstore.Open(sqlstore.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.MigrateUp(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	cfg := DefaultConfig()
	cfg.MagicLink.BaseURL = "https://app.example.com/auth/consume"
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.Password.Enabled = false
	cfg.Policy.RequiredRoles = []string{"admin", "finance"}
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	cfg.Metrics.Enabled = true
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &harness{
		clock:     &testClock{now: testEpoch},
		dir:       newTestDirectory(alice, bob, erin),
		deliverer: newTestDeliverer(),
		sink:      &recordingSink{},
		store:     store,
		redis:     mr,
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithStore(store).
		WithDirectory(h.dir).
		WithDeliverer(h.deliverer).
		WithAuditSink(h.sink).
		WithLogger(zap.NewNop()).
		WithClock(h.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	h.engine = engine
	return h
}

// drainAudit stops the dispatcher so every emitted event is visible.
func (h *harness) drainAudit() *recordingSink {
	h.engine.Close()
	return h.sink
}

func (h *harness) requestLink(t *testing.T, p *Principal, redirect string) string {
	t.Helper()
	if err := h.engine.RequestMagicLink(context.Background(), p.Email, redirect); err != nil {
		t.Fatalf("request magic link for %s: %v", p.ID, err)
	}
	token, pid := h.deliverer.lastLink(t, p.ID)
	if pid != p.ID {
		t.Fatalf("expected pid %s in link, got %s", p.ID, pid)
	}
	return token
}

func (h *harness) login(t *testing.T, p *Principal) *LoginResult {
	t.Helper()
	token := h.requestLink(t, p, "")
	res, err := h.engine.ConsumeMagicLink(context.Background(), token, p.ID)
	if err != nil {
		t.Fatalf("consume magic link for %s: %v", p.ID, err)
	}
	return res
}

func (h *harness) pendingLogin(t *testing.T, p *Principal) string {
	t.Helper()
	res := h.login(t, p)
	if res.State != StateSecondFactorPending || res.PendingID == "" {
		t.Fatalf("expected second factor pending for %s, got %s", p.ID, res.State)
	}
	return res.PendingID
}

// enroll enables a second factor for p and moves the clock to the next step
// so later codes never collide with the confirming one.
func (h *harness) enroll(t *testing.T, p *Principal) (string, []string) {
	t.Helper()
	ctx := context.Background()
	setup, err := h.engine.BeginSecondFactorSetup(ctx, p.ID)
	if err != nil {
		t.Fatalf("begin setup: %v", err)
	}
	codes, err := h.engine.SetupSecondFactor(ctx, p.ID, setup.Secret, h.code(t, setup.Secret, 0))
	if err != nil {
		t.Fatalf("setup second factor: %v", err)
	}
	h.clock.Advance(totp.Period)
	return setup.Secret, codes
}

func (h *harness) code(t *testing.T, secret string, offset int64) string {
	t.Helper()
	step := int64(totp.Step(h.clock.Now())) + offset
	code, err := totp.DeriveCode(secret, uint64(step))
	if err != nil {
		t.Fatalf("derive code: %v", err)
	}
	return code
}

func (h *harness) metric(id MetricID) uint64 {
	return h.engine.MetricsSnapshot().Counters[id]
}

var errDeliveryDown = errors.New("smtp unavailable")
