package directory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	goLinkAuth "github.com/MrEthical07/goLinkAuth"
)

// LogDeliverer logs magic links instead of sending them. It is meant for
// development; the link is a bearer credential.
type LogDeliverer struct {
	logger *zap.Logger
}

func NewLogDeliverer(logger *zap.Logger) *LogDeliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogDeliverer{logger: logger.Named("deliverer")}
}

func (d *LogDeliverer) DeliverMagicLink(_ context.Context, p goLinkAuth.Principal, link string) error {
	d.logger.Info("magic link issued",
		zap.String("principal_id", p.ID),
		zap.String("email", p.Email),
		zap.String("link", link),
	)
	return nil
}

func (d *LogDeliverer) NotifyGracePeriod(_ context.Context, p goLinkAuth.Principal, deadline time.Time) error {
	d.logger.Info("second factor required before deadline",
		zap.String("principal_id", p.ID),
		zap.Time("deadline", deadline),
	)
	return nil
}

// Outbox records delivered links in memory, keyed by principal ID, and
// optionally forwards to another deliverer.
type Outbox struct {
	mu      sync.Mutex
	next    goLinkAuth.Deliverer
	links   map[string][]string
	notices map[string]time.Time
}

func NewOutbox(next goLinkAuth.Deliverer) *Outbox {
	return &Outbox{
		next:    next,
		links:   make(map[string][]string),
		notices: make(map[string]time.Time),
	}
}

func (o *Outbox) DeliverMagicLink(ctx context.Context, p goLinkAuth.Principal, link string) error {
	if o.next != nil {
		if err := o.next.DeliverMagicLink(ctx, p, link); err != nil {
			return err
		}
	}
	o.mu.Lock()
	o.links[p.ID] = append(o.links[p.ID], link)
	o.mu.Unlock()
	return nil
}

func (o *Outbox) NotifyGracePeriod(ctx context.Context, p goLinkAuth.Principal, deadline time.Time) error {
	if n, ok := o.next.(goLinkAuth.GraceNotifier); ok {
		if err := n.NotifyGracePeriod(ctx, p, deadline); err != nil {
			return err
		}
	}
	o.mu.Lock()
	o.notices[p.ID] = deadline
	o.mu.Unlock()
	return nil
}

// Last returns the newest link delivered to principalID.
func (o *Outbox) Last(principalID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	links := o.links[principalID]
	if len(links) == 0 {
		return "", false
	}
	return links[len(links)-1], true
}

func (o *Outbox) Count(principalID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.links[principalID])
}

// Notice returns the grace deadline sent to principalID, if any.
func (o *Outbox) Notice(principalID string) (time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	d, ok := o.notices[principalID]
	return d, ok
}
