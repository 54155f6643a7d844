// Package telegram adapts the Telegram Bot API to platform.Platform.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/smallbiznis/trialgate/internal/observability/metrics"
	"github.com/smallbiznis/trialgate/internal/observability/tracing"
	"github.com/smallbiznis/trialgate/internal/platform"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	opGetMe            = "getMe"
	opCreateInviteLink = "createChatInviteLink"
	opRevokeInviteLink = "revokeChatInviteLink"
	opGetChat          = "getChat"
	opGetChatMember    = "getChatMember"
	opBanChatMember    = "banChatMember"
	opUnbanChatMember  = "unbanChatMember"
	opSendMessage      = "sendMessage"
)

type Config struct {
	Token       string
	APIEndpoint string
	CallTimeout time.Duration
}

// Client is a platform.Platform backed by the Bot API. Every call is bounded
// by CallTimeout; a call that overruns it fails with platform.ErrTransient.
type Client struct {
	bot         *tgbotapi.BotAPI
	callTimeout time.Duration
	log         *zap.Logger
	metrics     *metrics.MembershipMetrics
	tracer      trace.Tracer
}

func New(cfg Config, log *zap.Logger, m *metrics.MembershipMetrics) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	endpoint := strings.TrimSpace(cfg.APIEndpoint)
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: cfg.CallTimeout})
	if err != nil {
		return nil, classify(opGetMe, err)
	}

	return &Client{
		bot:         bot,
		callTimeout: cfg.CallTimeout,
		log:         log.Named("platform.telegram"),
		metrics:     m,
		tracer:      otel.Tracer("trialgate/platform"),
	}, nil
}

func (c *Client) PrincipalID() int64 { return c.bot.Self.ID }

func (c *Client) CreateInviteLink(ctx context.Context, groupID int64, opts platform.InviteLinkOptions) (platform.InviteLink, error) {
	req := tgbotapi.CreateChatInviteLinkConfig{
		ChatConfig:  tgbotapi.ChatConfig{ChatID: groupID},
		Name:        opts.Name,
		MemberLimit: opts.MemberLimit,
	}
	if opts.ExpireAt != nil {
		req.ExpireDate = int(opts.ExpireAt.Unix())
	}

	var created tgbotapi.ChatInviteLink
	err := c.call(ctx, opCreateInviteLink, func() error {
		resp, err := c.bot.Request(req)
		if err != nil {
			return err
		}
		return decodeResult(resp, &created)
	})
	if err != nil {
		return platform.InviteLink{}, err
	}
	if strings.TrimSpace(created.InviteLink) == "" {
		return platform.InviteLink{}, platform.NewError(opCreateInviteLink, platform.ErrTransient, 0, "empty invite link in response")
	}

	out := platform.InviteLink{Link: created.InviteLink}
	if created.ExpireDate > 0 {
		expireAt := time.Unix(int64(created.ExpireDate), 0).UTC()
		out.ExpireAt = &expireAt
	}
	return out, nil
}

func (c *Client) RevokeInviteLink(ctx context.Context, groupID int64, link string) error {
	return c.call(ctx, opRevokeInviteLink, func() error {
		_, err := c.bot.Request(tgbotapi.RevokeChatInviteLinkConfig{
			ChatConfig: tgbotapi.ChatConfig{ChatID: groupID},
			InviteLink: link,
		})
		return err
	})
}

func (c *Client) GetChatInfo(ctx context.Context, chatID int64) (platform.ChatInfo, error) {
	var chat tgbotapi.Chat
	err := c.call(ctx, opGetChat, func() error {
		var err error
		chat, err = c.bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
		return err
	})
	if err != nil {
		return platform.ChatInfo{}, err
	}
	return platform.ChatInfo{Type: chat.Type, Title: chat.Title}, nil
}

func (c *Client) GetChatMember(ctx context.Context, chatID, subjectID int64) (platform.ChatMember, error) {
	var member tgbotapi.ChatMember
	err := c.call(ctx, opGetChatMember, func() error {
		var err error
		member, err = c.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
			ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: subjectID},
		})
		return err
	})
	if err != nil {
		return platform.ChatMember{}, err
	}
	return platform.ChatMember{Status: member.Status, CanInviteUsers: member.CanInviteUsers}, nil
}

func (c *Client) BanChatMember(ctx context.Context, groupID, subjectID int64, until time.Time) error {
	req := tgbotapi.BanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: groupID, UserID: subjectID},
	}
	if !until.IsZero() {
		req.UntilDate = until.Unix()
	}
	return c.call(ctx, opBanChatMember, func() error {
		_, err := c.bot.Request(req)
		return err
	})
}

func (c *Client) UnbanChatMember(ctx context.Context, groupID, subjectID int64) error {
	return c.call(ctx, opUnbanChatMember, func() error {
		_, err := c.bot.Request(tgbotapi.UnbanChatMemberConfig{
			ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: groupID, UserID: subjectID},
			OnlyIfBanned:     true,
		})
		return err
	})
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts platform.MessageOptions) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = opts.DisablePreview
	return c.call(ctx, opSendMessage, func() error {
		_, err := c.bot.Request(msg)
		return err
	})
}

// call runs fn under the call timeout. The bot library is not context aware,
// so an overrunning request is abandoned and its result discarded.
func (c *Client) call(ctx context.Context, op string, fn func() error) error {
	ctx, span := c.tracer.Start(ctx, "platform."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("platform.op", op)),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn() }()

	var err error
	select {
	case err = <-done:
		err = classify(op, err)
	case <-ctx.Done():
		err = platform.NewError(op, platform.ErrTransient, 0, ctx.Err().Error())
	}

	c.metrics.IncPlatformCall(op, err)
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, platform.Kind(err))
		c.log.Debug("platform call failed",
			zap.String("op", op),
			zap.String("kind", platform.Kind(err)),
			zap.Error(tracing.SafeError(err)),
		)
	}
	return err
}

func decodeResult(resp *tgbotapi.APIResponse, out any) error {
	if resp == nil || len(resp.Result) == 0 {
		return errors.New("empty response")
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// classify maps Bot API failures onto the platform error kinds. Rate limits,
// server errors and network failures are transient; missing rights are
// permission errors; unknown users and chats are not-found.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var perr *platform.Error
	if errors.As(err, &perr) {
		return err
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(apiErr.Message)
		switch {
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError || apiErr.RetryAfter > 0:
			return platform.NewError(op, platform.ErrTransient, apiErr.Code, apiErr.Message)
		case apiErr.Code == http.StatusForbidden,
			strings.Contains(msg, "not enough rights"),
			strings.Contains(msg, "need administrator rights"),
			strings.Contains(msg, "chat_admin_required"),
			strings.Contains(msg, "can't remove chat owner"):
			return platform.NewError(op, platform.ErrPermissionDenied, apiErr.Code, apiErr.Message)
		case strings.Contains(msg, "not found"),
			strings.Contains(msg, "user_not_participant"),
			strings.Contains(msg, "participant_id_invalid"),
			strings.Contains(msg, "invite_hash_expired"):
			return platform.NewError(op, platform.ErrNotFound, apiErr.Code, apiErr.Message)
		case apiErr.Code == 0:
			return platform.NewError(op, platform.ErrTransient, 0, apiErr.Message)
		default:
			return platform.NewError(op, platform.ErrRejected, apiErr.Code, apiErr.Message)
		}
	}

	// network failures, timeouts and undecodable responses
	return platform.NewError(op, platform.ErrTransient, 0, err.Error())
}

var _ platform.Platform = (*Client)(nil)
