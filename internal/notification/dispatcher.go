// Package notification sends every outbound message of the membership
// lifecycle through one dispatcher with uniform retry, logging and metrics.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/trialgate/internal/config"
	"github.com/smallbiznis/trialgate/internal/observability/logger"
	"github.com/smallbiznis/trialgate/internal/observability/metrics"
	"github.com/smallbiznis/trialgate/internal/platform"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Kind string

const (
	KindWelcome      Kind = "welcome"
	KindTrialInvite  Kind = "trial_invite"
	KindPaidInvite   Kind = "paid_invite"
	KindTrialWarning Kind = "trial_warning"
	KindRemoval      Kind = "removal"
	KindPaidReminder Kind = "paid_reminder"
	KindPaidRemoval  Kind = "paid_removal"
	KindAdminAlert   Kind = "admin_alert"
)

var ErrInvalidNotice = errors.New("invalid_notice")

type Notice struct {
	ChatID int64
	Kind   Kind
	Text   string
}

type RetryConfig struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxTries == 0 {
		c.MaxTries = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 200 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 2 * time.Second
	}
	return c
}

// Sender is what the lifecycle components depend on.
type Sender interface {
	Send(ctx context.Context, notice Notice) error
	AlertAdmin(ctx context.Context, text string)
}

type Params struct {
	fx.In

	Platform platform.Platform
	Config   config.Config
	Log      *zap.Logger
	Metrics  *metrics.Metrics `optional:"true"`
}

type Dispatcher struct {
	platform    platform.Platform
	adminChatID int64
	retry       RetryConfig
	log         *zap.Logger
	metrics     *metrics.Metrics
}

func NewDispatcher(p Params) *Dispatcher {
	return New(p.Platform, p.Config.Telegram.AdminChatID, RetryConfig{}, p.Log, p.Metrics)
}

func New(pf platform.Platform, adminChatID int64, retry RetryConfig, log *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		platform:    pf,
		adminChatID: adminChatID,
		retry:       retry.withDefaults(),
		log:         log.Named("notification.dispatcher"),
		metrics:     m,
	}
}

// Send delivers the notice, retrying transient platform failures with
// exponential backoff. Permission and not-found failures are returned at once.
func (d *Dispatcher) Send(ctx context.Context, notice Notice) error {
	if notice.ChatID == 0 || notice.Text == "" {
		return ErrInvalidNotice
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.retry.InitialInterval
	b.MaxInterval = d.retry.MaxInterval

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := d.platform.SendMessage(ctx, notice.ChatID, notice.Text, platform.MessageOptions{DisablePreview: true})
		if err != nil && !platform.IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(d.retry.MaxTries))

	log := logger.WithContext(ctx, d.log).With(
		zap.String("kind", string(notice.Kind)),
		zap.Int64("chat_id", notice.ChatID),
		zap.Int("attempts", attempts),
	)
	if err != nil {
		d.metrics.RecordNotice(ctx, string(notice.Kind), platform.Kind(err))
		log.Warn("notice not delivered", zap.String("error_kind", platform.Kind(err)), zap.Error(err))
		return fmt.Errorf("send %s notice: %w", notice.Kind, err)
	}

	d.metrics.RecordNotice(ctx, string(notice.Kind), "sent")
	log.Debug("notice delivered")
	return nil
}

// AlertAdmin posts an operator alert to the admin chat. Failures are logged only.
func (d *Dispatcher) AlertAdmin(ctx context.Context, text string) {
	if d.adminChatID == 0 {
		d.log.Warn("admin alert dropped, no admin chat configured", zap.String("alert", text))
		return
	}
	if err := d.Send(ctx, Notice{ChatID: d.adminChatID, Kind: KindAdminAlert, Text: text}); err != nil {
		d.log.Error("admin alert failed", zap.Error(err))
	}
}

var _ Sender = (*Dispatcher)(nil)
