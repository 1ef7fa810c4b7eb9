package goLinkAuth

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/goLinkAuth/internal/rate"
	"github.com/MrEthical07/goLinkAuth/internal/sqlstore"
	"github.com/MrEthical07/goLinkAuth/internal/stores"
	"github.com/MrEthical07/goLinkAuth/jwt"
	"github.com/MrEthical07/goLinkAuth/password"
	"github.com/MrEthical07/goLinkAuth/session"
)

// Builder assembles an [Engine]. A Builder can be used once.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  *sqlstore.Store

	directory Directory
	deliverer Deliverer
	auditSink AuditSink
	logger    *zap.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client for pending markers, sessions and throttles.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore sets the durable credential store. Migrations must already be
// applied.
func (b *Builder) WithStore(store *sqlstore.Store) *Builder {
	b.store = store
	return b
}

func (b *Builder) WithDirectory(d Directory) *Builder {
	b.directory = d
	return b
}

// WithDeliverer sets the magic-link transport. If it also implements
// GraceNotifier, grace-period notices are sent through it.
func (b *Builder) WithDeliverer(d Deliverer) *Builder {
	b.deliverer = d
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the engine logger. The default discards everything.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces time.Now. Tests use it to step across TOTP windows
// and token expiry.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every store and flow.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.store == nil {
		return nil, errors.New("credential store required")
	}
	if b.directory == nil {
		return nil, errors.New("directory required")
	}
	if b.deliverer == nil {
		return nil, errors.New("deliverer required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	engine := &Engine{
		config:        cfg,
		logger:        logger,
		now:           now,
		store:         b.store,
		sessionStore:  session.NewStore(b.redis, cfg.Session.RedisPrefix),
		pendingStore:  stores.NewPendingStore(b.redis, cfg.SecondFactor.RedisPrefix),
		directory:     b.directory,
		deliverer:     b.deliverer,
		metrics:       NewMetrics(cfg.Metrics),
		requiredRoles: roleSet(cfg.Policy.RequiredRoles),
		adminRoles:    roleSet(cfg.Policy.AdminRoles),
	}
	if n, ok := b.deliverer.(GraceNotifier); ok {
		engine.notifier = n
	}

	engine.rateLimiter = rate.New(b.redis, rate.Config{
		EnableIPThrottle:       cfg.RateLimit.EnableIPThrottle,
		MaxMagicLinkRequests:   cfg.RateLimit.MaxMagicLinkRequests,
		MaxMagicLinkRequestsIP: cfg.RateLimit.MaxMagicLinkRequestsIP,
		MagicLinkWindow:        cfg.RateLimit.MagicLinkWindow,
		MaxLoginAttempts:       cfg.RateLimit.MaxLoginAttempts,
		LoginCooldownDuration:  cfg.RateLimit.LoginCooldownDuration,
	})

	if cfg.Password.Enabled {
		ph, err := password.NewHasher(cfg.Password.HasherParams())
		if err != nil {
			return nil, err
		}
		dummy, err := ph.Hash("linkauth-timing-equalizer")
		if err != nil {
			return nil, err
		}
		engine.passwordHash = ph
		engine.dummyHash = dummy
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink, logger)
	engine.initFlowDeps()

	if cfg.Policy.EmergencyDisable {
		logger.Warn("emergency override enabled by deployment configuration; second factor is not enforced",
			zap.Strings("required_roles", cfg.Policy.RequiredRoles))
	}

	b.built = true
	return engine, nil
}

func roleSet(roles []string) map[string]struct{} {
	out := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		out[r] = struct{}{}
	}
	return out
}
