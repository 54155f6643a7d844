// Package platformtest provides an in-memory platform for tests.
package platformtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smallbiznis/trialgate/internal/platform"
)

// Operation names used for call recording and failure injection.
const (
	OpCreateInviteLink = "createChatInviteLink"
	OpRevokeInviteLink = "revokeChatInviteLink"
	OpGetChatInfo      = "getChat"
	OpGetChatMember    = "getChatMember"
	OpBanChatMember    = "banChatMember"
	OpUnbanChatMember  = "unbanChatMember"
	OpSendMessage      = "sendMessage"
)

type Call struct {
	Op        string
	ChatID    int64
	SubjectID int64
	Link      string
	Text      string
	Until     time.Time
	Options   platform.InviteLinkOptions
}

// Fake is a goroutine-safe platform.Platform. The principal starts as an
// administrator with invite rights in every group.
type Fake struct {
	mu sync.Mutex

	principal int64
	chatType  string
	members   map[int64]platform.ChatMember
	failures  map[string][]error
	calls     []Call
	seq       int
}

func New(principal int64) *Fake {
	return &Fake{
		principal: principal,
		chatType:  platform.ChatTypeSupergroup,
		members: map[int64]platform.ChatMember{
			principal: {Status: platform.MemberStatusAdministrator, CanInviteUsers: true},
		},
		failures: map[string][]error{},
	}
}

func (f *Fake) PrincipalID() int64 { return f.principal }

// SetChatType changes what GetChatInfo reports.
func (f *Fake) SetChatType(chatType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatType = chatType
}

// SetMember sets the status GetChatMember reports for a subject.
func (f *Fake) SetMember(subjectID int64, member platform.ChatMember) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[subjectID] = member
}

// FailNext queues err for the next call of op. Queued errors are consumed in order.
func (f *Fake) FailNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

// Calls returns the recorded calls of op, or every call when op is empty.
func (f *Fake) Calls(op string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, 0, len(f.calls))
	for _, c := range f.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears recorded calls.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *Fake) record(ctx context.Context, call Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return platform.NewError(call.Op, platform.ErrTransient, 0, err.Error())
	}
	f.calls = append(f.calls, call)
	if queued := f.failures[call.Op]; len(queued) > 0 {
		f.failures[call.Op] = queued[1:]
		return queued[0]
	}
	return nil
}

func (f *Fake) CreateInviteLink(ctx context.Context, groupID int64, opts platform.InviteLinkOptions) (platform.InviteLink, error) {
	if err := f.record(ctx, Call{Op: OpCreateInviteLink, ChatID: groupID, Options: opts}); err != nil {
		return platform.InviteLink{}, err
	}
	f.mu.Lock()
	f.seq++
	link := fmt.Sprintf("https://t.me/+fake%06d", f.seq)
	f.mu.Unlock()
	return platform.InviteLink{Link: link, ExpireAt: opts.ExpireAt}, nil
}

func (f *Fake) RevokeInviteLink(ctx context.Context, groupID int64, link string) error {
	return f.record(ctx, Call{Op: OpRevokeInviteLink, ChatID: groupID, Link: link})
}

func (f *Fake) GetChatInfo(ctx context.Context, chatID int64) (platform.ChatInfo, error) {
	if err := f.record(ctx, Call{Op: OpGetChatInfo, ChatID: chatID}); err != nil {
		return platform.ChatInfo{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return platform.ChatInfo{Type: f.chatType, Title: "test group"}, nil
}

func (f *Fake) GetChatMember(ctx context.Context, chatID, subjectID int64) (platform.ChatMember, error) {
	if err := f.record(ctx, Call{Op: OpGetChatMember, ChatID: chatID, SubjectID: subjectID}); err != nil {
		return platform.ChatMember{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	member, ok := f.members[subjectID]
	if !ok {
		return platform.ChatMember{Status: platform.MemberStatusLeft}, nil
	}
	return member, nil
}

func (f *Fake) BanChatMember(ctx context.Context, groupID, subjectID int64, until time.Time) error {
	if err := f.record(ctx, Call{Op: OpBanChatMember, ChatID: groupID, SubjectID: subjectID, Until: until}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[subjectID] = platform.ChatMember{Status: platform.MemberStatusKicked}
	return nil
}

func (f *Fake) UnbanChatMember(ctx context.Context, groupID, subjectID int64) error {
	if err := f.record(ctx, Call{Op: OpUnbanChatMember, ChatID: groupID, SubjectID: subjectID}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[subjectID].Status == platform.MemberStatusKicked {
		f.members[subjectID] = platform.ChatMember{Status: platform.MemberStatusLeft}
	}
	return nil
}

func (f *Fake) SendMessage(ctx context.Context, chatID int64, text string, _ platform.MessageOptions) error {
	return f.record(ctx, Call{Op: OpSendMessage, ChatID: chatID, Text: text})
}

var _ platform.Platform = (*Fake)(nil)
