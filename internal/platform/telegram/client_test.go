package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/smallbiznis/trialgate/internal/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAPI struct {
	mu       sync.Mutex
	handlers map[string]func(r *http.Request) (int, string)
	requests map[string][]map[string]string
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	api := &fakeAPI{
		handlers: map[string]func(r *http.Request) (int, string){
			"getMe": func(*http.Request) (int, string) {
				return http.StatusOK, `{"ok":true,"result":{"id":99,"is_bot":true,"first_name":"gate","username":"gate_bot"}}`
			},
		},
		requests: map[string][]map[string]string{},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		_ = r.ParseForm()
		params := map[string]string{}
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}

		api.mu.Lock()
		api.requests[method] = append(api.requests[method], params)
		handler, ok := api.handlers[method]
		api.mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found: method not found"}`))
			return
		}
		status, body := handler(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return api, srv
}

func (a *fakeAPI) on(method string, status int, body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[method] = func(*http.Request) (int, string) { return status, body }
}

func (a *fakeAPI) last(method string) map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	reqs := a.requests[method]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

func newTestClient(t *testing.T, srv *httptest.Server, timeout time.Duration) *Client {
	t.Helper()
	client, err := New(Config{
		Token:       "test-token",
		APIEndpoint: srv.URL + "/bot%s/%s",
		CallTimeout: timeout,
	}, zap.NewNop(), nil)
	require.NoError(t, err)
	return client
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{}, zap.NewNop(), nil)
	require.Error(t, err)
}

func TestPrincipalIDFromGetMe(t *testing.T) {
	_, srv := newFakeAPI(t)
	client := newTestClient(t, srv, time.Second)
	assert.Equal(t, int64(99), client.PrincipalID())
}

func TestCreateInviteLink(t *testing.T) {
	api, srv := newFakeAPI(t)
	client := newTestClient(t, srv, time.Second)
	api.on("createChatInviteLink", http.StatusOK,
		`{"ok":true,"result":{"invite_link":"https://t.me/+abc","creator":{"id":99,"is_bot":true,"first_name":"gate"},"creates_join_request":false,"is_primary":false,"is_revoked":false,"expire_date":1700000000,"member_limit":1}}`)

	expireAt := time.Unix(1700000000, 0).UTC()
	link, err := client.CreateInviteLink(context.Background(), -100123, platform.InviteLinkOptions{
		Name:        "trial-alice",
		ExpireAt:    &expireAt,
		MemberLimit: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://t.me/+abc", link.Link)
	require.NotNil(t, link.ExpireAt)
	assert.True(t, expireAt.Equal(*link.ExpireAt))

	params := api.last("createChatInviteLink")
	assert.Equal(t, "-100123", params["chat_id"])
	assert.Equal(t, "trial-alice", params["name"])
	assert.Equal(t, "1", params["member_limit"])
	assert.Equal(t, "1700000000", params["expire_date"])
}

func TestGetChatMember(t *testing.T) {
	api, srv := newFakeAPI(t)
	client := newTestClient(t, srv, time.Second)
	api.on("getChatMember", http.StatusOK,
		`{"ok":true,"result":{"user":{"id":99,"is_bot":true,"first_name":"gate"},"status":"administrator","can_invite_users":true}}`)

	member, err := client.GetChatMember(context.Background(), -100123, 99)
	require.NoError(t, err)
	assert.True(t, member.CanInvite())
	assert.Equal(t, "99", api.last("getChatMember")["user_id"])
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name string
		body string
		want error
	}{
		{"rate limited", `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 5","parameters":{"retry_after":5}}`, platform.ErrTransient},
		{"server error", `{"ok":false,"error_code":502,"description":"Bad Gateway"}`, platform.ErrTransient},
		{"forbidden", `{"ok":false,"error_code":403,"description":"Forbidden: bot was kicked from the supergroup chat"}`, platform.ErrPermissionDenied},
		{"not enough rights", `{"ok":false,"error_code":400,"description":"Bad Request: not enough rights to restrict/unrestrict chat member"}`, platform.ErrPermissionDenied},
		{"user not found", `{"ok":false,"error_code":400,"description":"Bad Request: user not found"}`, platform.ErrNotFound},
		{"participant", `{"ok":false,"error_code":400,"description":"Bad Request: USER_NOT_PARTICIPANT"}`, platform.ErrNotFound},
		{"other bad request", `{"ok":false,"error_code":400,"description":"Bad Request: invalid user_id specified"}`, platform.ErrRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api, srv := newFakeAPI(t)
			client := newTestClient(t, srv, time.Second)
			api.on("banChatMember", http.StatusOK, tc.body)

			err := client.BanChatMember(context.Background(), -100123, 42, time.Now().Add(time.Minute))
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)

			var perr *platform.Error
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, opBanChatMember, perr.Op)
		})
	}
}

func TestCallTimeoutIsTransient(t *testing.T) {
	api, srv := newFakeAPI(t)
	client := newTestClient(t, srv, 50*time.Millisecond)

	api.mu.Lock()
	api.handlers["unbanChatMember"] = func(r *http.Request) (int, string) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
		return http.StatusOK, `{"ok":true,"result":true}`
	}
	api.mu.Unlock()

	start := time.Now()
	err := client.UnbanChatMember(context.Background(), -100123, 42)
	require.Error(t, err)
	assert.True(t, platform.IsTransient(err))
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestSendMessage(t *testing.T) {
	api, srv := newFakeAPI(t)
	client := newTestClient(t, srv, time.Second)
	api.on("sendMessage", http.StatusOK,
		`{"ok":true,"result":{"message_id":1,"date":1700000000,"chat":{"id":42,"type":"private"},"text":"hi"}}`)

	require.NoError(t, client.SendMessage(context.Background(), 42, "hi", platform.MessageOptions{DisablePreview: true}))
	params := api.last("sendMessage")
	assert.Equal(t, "42", params["chat_id"])
	assert.Equal(t, "hi", params["text"])
	assert.Equal(t, "true", params["disable_web_page_preview"])
}

func TestMembershipEventFromUpdate(t *testing.T) {
	update := tgbotapi.Update{
		ChatMember: &tgbotapi.ChatMemberUpdated{
			Chat:          tgbotapi.Chat{ID: -100123, Type: "supergroup"},
			Date:          1700000000,
			OldChatMember: tgbotapi.ChatMember{User: &tgbotapi.User{ID: 42}, Status: "left"},
			NewChatMember: tgbotapi.ChatMember{User: &tgbotapi.User{ID: 42, FirstName: "Ada", LastName: "L", UserName: "ada"}, Status: "member"},
			InviteLink:    &tgbotapi.ChatInviteLink{InviteLink: "https://t.me/+abc"},
		},
	}

	event, ok := membershipEvent(update)
	require.True(t, ok)
	assert.Equal(t, int64(-100123), event.GroupID)
	assert.Equal(t, int64(42), event.SubjectID)
	assert.Equal(t, "Ada L", event.DisplayName)
	assert.Equal(t, "https://t.me/+abc", event.InviteLink)
	assert.True(t, event.Joined())

	_, ok = membershipEvent(tgbotapi.Update{})
	assert.False(t, ok)
}

type recordingHandler struct {
	events chan platform.MembershipEvent
}

func (h *recordingHandler) HandleEvent(_ context.Context, event platform.MembershipEvent) error {
	h.events <- event
	return nil
}

func TestPollerForwardsChatMemberUpdates(t *testing.T) {
	api, srv := newFakeAPI(t)
	client := newTestClient(t, srv, time.Second)

	var served bool
	api.mu.Lock()
	api.handlers["getUpdates"] = func(r *http.Request) (int, string) {
		api.mu.Lock()
		first := !served
		served = true
		api.mu.Unlock()
		if !first {
			select {
			case <-time.After(200 * time.Millisecond):
			case <-r.Context().Done():
			}
			return http.StatusOK, `{"ok":true,"result":[]}`
		}
		return http.StatusOK, fmt.Sprintf(`{"ok":true,"result":[{"update_id":1,"chat_member":{"chat":{"id":-100123,"type":"supergroup"},"from":{"id":1,"is_bot":false,"first_name":"x"},"date":1700000000,"old_chat_member":{"user":{"id":%d,"is_bot":false,"first_name":"Ada"},"status":"left"},"new_chat_member":{"user":{"id":%d,"is_bot":false,"first_name":"Ada"},"status":"member"}}}]}`, 42, 42)
	}
	api.mu.Unlock()

	handler := &recordingHandler{events: make(chan platform.MembershipEvent, 1)}
	poller := NewPoller(client, handler, 1, zap.NewNop())
	poller.Start(context.Background())
	defer poller.Stop()

	select {
	case event := <-handler.events:
		assert.Equal(t, int64(42), event.SubjectID)
		assert.True(t, event.Joined())
	case <-time.After(3 * time.Second):
		t.Fatal("no event forwarded")
	}
}

