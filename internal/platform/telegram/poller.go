package telegram

import (
	"context"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/smallbiznis/trialgate/internal/platform"
	"github.com/smallbiznis/trialgate/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

// EventHandler consumes membership changes read from the update stream.
type EventHandler interface {
	HandleEvent(ctx context.Context, event platform.MembershipEvent) error
}

// Poller long-polls chat_member updates and forwards them to an EventHandler.
type Poller struct {
	client      *Client
	handler     EventHandler
	pollTimeout int
	log         *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPoller(client *Client, handler EventHandler, pollTimeout int, log *zap.Logger) *Poller {
	if pollTimeout <= 0 {
		pollTimeout = 30
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		client:      client,
		handler:     handler,
		pollTimeout: pollTimeout,
		log:         log.Named("platform.telegram.poller"),
	}
}

func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = p.pollTimeout
	u.AllowedUpdates = []string{"chat_member"}
	updates := p.client.bot.GetUpdatesChan(u)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.log.Info("update poller started")
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				event, ok := membershipEvent(update)
				if !ok {
					continue
				}
				p.dispatch(ctx, event)
			}
		}
	}()
}

func (p *Poller) Stop() {
	p.client.bot.StopReceivingUpdates()
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.log.Info("update poller stopped")
}

func (p *Poller) dispatch(ctx context.Context, event platform.MembershipEvent) {
	ctx, cid := correlation.EnsureCorrelationID(ctx, correlation.ScopeJoin)
	if err := p.handler.HandleEvent(ctx, event); err != nil {
		p.log.Warn("membership event failed",
			zap.String("correlation_id", cid),
			zap.Int64("group_id", event.GroupID),
			zap.Int64("subject_id", event.SubjectID),
			zap.String("old_status", event.OldStatus),
			zap.String("new_status", event.NewStatus),
			zap.Error(err),
		)
	}
}

func membershipEvent(update tgbotapi.Update) (platform.MembershipEvent, bool) {
	changed := update.ChatMember
	if changed == nil || changed.NewChatMember.User == nil {
		return platform.MembershipEvent{}, false
	}

	user := changed.NewChatMember.User
	event := platform.MembershipEvent{
		GroupID:     changed.Chat.ID,
		SubjectID:   user.ID,
		DisplayName: strings.TrimSpace(strings.TrimSpace(user.FirstName) + " " + strings.TrimSpace(user.LastName)),
		Username:    user.UserName,
		OldStatus:   changed.OldChatMember.Status,
		NewStatus:   changed.NewChatMember.Status,
		At:          time.Unix(int64(changed.Date), 0).UTC(),
	}
	if changed.InviteLink != nil {
		event.InviteLink = changed.InviteLink.InviteLink
	}
	return event, true
}
