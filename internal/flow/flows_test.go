package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"anonpost/internal/gate"
	"anonpost/internal/moderation"
	"anonpost/internal/registry"
	"anonpost/internal/services/broadcast"
	"anonpost/internal/storage"
	kit "anonpost/internal/transport"
	"anonpost/pkg/logx"
)

const (
	channelID   = int64(-100500)
	adminChatID = int64(900)
	adminID     = int64(900)
	userA       = int64(42)
)

type sentMsg struct {
	chatID    int64
	text      string
	hasMarkup bool
}

type fakeGateway struct {
	kit.Gateway

	nextID int
	sends  []sentMsg
	edits  []string

	memberStatus map[int64]string
	memberErr    error
	blocked      map[int64]bool
}

func (g *fakeGateway) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if g.blocked[to.ChatID] {
		return kit.MessageRef{}, fmt.Errorf("%w: 403", kit.ErrBlocked)
	}
	g.nextID++
	g.sends = append(g.sends, sentMsg{
		chatID:    to.ChatID,
		text:      text,
		hasMarkup: opt != nil && opt.ReplyMarkupAdapter != nil,
	})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: g.nextID}, nil
}

func (g *fakeGateway) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	g.edits = append(g.edits, text)
	return nil
}

func (g *fakeGateway) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return nil
}

func (g *fakeGateway) MemberStatus(ctx context.Context, chatID, userID int64) (string, error) {
	if g.memberErr != nil {
		return "", g.memberErr
	}
	if st, ok := g.memberStatus[userID]; ok {
		return st, nil
	}
	return kit.MemberLeft, nil
}

func (g *fakeGateway) sentTo(chatID int64) []sentMsg {
	var out []sentMsg
	for _, s := range g.sends {
		if s.chatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

func (g *fakeGateway) lastTo(t *testing.T, chatID int64) sentMsg {
	t.Helper()
	msgs := g.sentTo(chatID)
	if len(msgs) == 0 {
		t.Fatalf("no messages sent to chat %d", chatID)
	}
	return msgs[len(msgs)-1]
}

type fixture struct {
	gw       *fakeGateway
	flows    *Flows
	sessions *Sessions
	users    *registry.Users
	pending  *registry.Pending
	mod      *moderation.Workflow
}

func newFixture(t *testing.T, gw *fakeGateway, withGate bool) *fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	users := registry.NewUsers(st, logx.Nop())
	pending := registry.NewPending(st, logx.Nop())
	mod := moderation.New(gw, pending,
		kit.ChatTarget{ChatID: channelID}, kit.ChatTarget{ChatID: adminChatID},
		moderation.ModeReview, logx.Nop())
	engine := broadcast.New(gw, 100000, logx.Nop())
	sessions := NewSessions()

	var g *gate.Gate
	if withGate {
		g = gate.New(gw, channelID, logx.Nop())
	}
	flows := New(gw, sessions, users, g, mod, engine,
		func(id int64) bool { return id == adminID }, logx.Nop())
	return &fixture{gw: gw, flows: flows, sessions: sessions, users: users, pending: pending, mod: mod}
}

func msgFrom(userID int64, text string) *kit.Message {
	return &kit.Message{ID: 1, ChatID: userID, FromID: userID, FromUsername: "u", Text: text, Private: true}
}

func cbFrom(userID int64, msgID int, data string) *kit.Callback {
	return &kit.Callback{ID: "cb", FromID: userID, ChatID: userID, MessageID: msgID, Data: data}
}

func TestStartDeniedWhenGateFails(t *testing.T) {
	gw := &fakeGateway{memberErr: errors.New("network down")}
	fx := newFixture(t, gw, true)
	ctx := context.Background()

	fx.flows.HandleStart(ctx, msgFrom(userA, "/start"))

	if got := fx.sessions.Get(userA).State; got != StateIdle {
		t.Fatalf("state = %v, want idle after gate failure", got)
	}
	if !strings.Contains(gw.lastTo(t, userA).text, "join") {
		t.Fatalf("expected join prompt, got %q", gw.lastTo(t, userA).text)
	}
	if snap, _ := fx.users.Snapshot(ctx); len(snap) != 0 {
		t.Fatal("gated-out user must not be registered")
	}
}

func TestStartRegistersOnceAndAdvances(t *testing.T) {
	gw := &fakeGateway{memberStatus: map[int64]string{userA: kit.MemberMember}}
	fx := newFixture(t, gw, true)
	ctx := context.Background()

	fx.flows.HandleStart(ctx, msgFrom(userA, "/start"))
	fx.flows.HandleStart(ctx, msgFrom(userA, "/start"))

	snap, err := fx.users.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap) != 1 || snap[0].ID != userA {
		t.Fatalf("registry = %+v, want exactly one entry for user A", snap)
	}
	if got := fx.sessions.Get(userA).State; got != StateSubmitting {
		t.Fatalf("state = %v, want submitting", got)
	}
}

func TestTextAdvancesToConfirmation(t *testing.T) {
	gw := &fakeGateway{}
	fx := newFixture(t, gw, false)
	ctx := context.Background()

	fx.flows.HandleStart(ctx, msgFrom(userA, "/start"))
	fx.flows.HandleText(ctx, msgFrom(userA, "hello"))

	sess := fx.sessions.Get(userA)
	if sess.State != StateAwaitingConfirm || sess.Draft != "hello" {
		t.Fatalf("session = %+v", sess)
	}
	last := gw.lastTo(t, userA)
	if !last.hasMarkup || !strings.Contains(last.text, "hello") {
		t.Fatalf("confirmation message = %+v", last)
	}
}

func TestCommandTextIsNeverStoredAsContent(t *testing.T) {
	gw := &fakeGateway{}
	fx := newFixture(t, gw, false)
	ctx := context.Background()

	fx.flows.HandleStart(ctx, msgFrom(userA, "/start"))
	fx.flows.HandleText(ctx, msgFrom(userA, "/whoami"))

	sess := fx.sessions.Get(userA)
	if sess.State != StateSubmitting || sess.Draft != "" {
		t.Fatalf("command input must not advance the flow: %+v", sess)
	}
}

func TestCancelClearsDraft(t *testing.T) {
	gw := &fakeGateway{}
	fx := newFixture(t, gw, false)
	ctx := context.Background()

	fx.flows.HandleStart(ctx, msgFrom(userA, "/start"))
	fx.flows.HandleText(ctx, msgFrom(userA, "stale draft"))
	fx.flows.HandleCancel(ctx, msgFrom(userA, "/cancel"))

	if sess := fx.sessions.Get(userA); sess.State != StateIdle || sess.Draft != "" {
		t.Fatalf("session after cancel = %+v", sess)
	}

	// A fresh flow must not resurface the stale draft.
	fx.flows.HandleStart(ctx, msgFrom(userA, "/start"))
	fx.flows.HandleText(ctx, msgFrom(userA, "fresh"))
	fx.flows.HandleCallback(ctx, cbFrom(userA, 10, "flow:confirm"), "confirm")

	subs, err := fx.pending.List(ctx)
	if err != nil || len(subs) != 1 {
		t.Fatalf("pending = %d entries (err=%v), want 1", len(subs), err)
	}
	if subs[0].Text != "fresh" {
		t.Fatalf("submitted text = %q, want the fresh draft", subs[0].Text)
	}
}

func TestConfirmOutOfStateIsNoOp(t *testing.T) {
	gw := &fakeGateway{}
	fx := newFixture(t, gw, false)
	ctx := context.Background()

	fx.flows.HandleCallback(ctx, cbFrom(userA, 10, "flow:confirm"), "confirm")

	if subs, _ := fx.pending.List(ctx); len(subs) != 0 {
		t.Fatal("confirm in idle state must not create a submission")
	}
	if len(gw.edits) != 0 {
		t.Fatalf("unexpected edits: %v", gw.edits)
	}
}

func TestFullApprovalScenario(t *testing.T) {
	gw := &fakeGateway{memberStatus: map[int64]string{userA: kit.MemberMember}}
	fx := newFixture(t, gw, true)
	ctx := context.Background()

	fx.flows.HandleStart(ctx, msgFrom(userA, "/start"))
	fx.flows.HandleText(ctx, msgFrom(userA, "hello"))
	fx.flows.HandleCallback(ctx, cbFrom(userA, 10, "flow:confirm"), "confirm")

	subs, err := fx.pending.List(ctx)
	if err != nil || len(subs) != 1 {
		t.Fatalf("pending = %d entries (err=%v), want 1", len(subs), err)
	}
	key := subs[0].Key
	if subs[0].UserID != userA || subs[0].Text != "hello" {
		t.Fatalf("record = %+v", subs[0])
	}

	action := moderation.Action{Kind: moderation.KindApprove, Ref: key}
	adminCb := &kit.Callback{ID: "acb", FromID: adminID, ChatID: adminChatID, MessageID: subs[0].AdminMessageID, Data: action.Data()}

	// Approve twice in quick succession: the channel gets "hello" once.
	fx.mod.HandleAction(ctx, action, adminCb)
	fx.mod.HandleAction(ctx, action, adminCb)

	if got := gw.sentTo(channelID); len(got) != 1 || got[0].text != "hello" {
		t.Fatalf("channel sends = %+v, want exactly one hello", got)
	}
	if got := gw.lastTo(t, userA); !strings.Contains(got.text, "approved") {
		t.Fatalf("submitter notice = %q", got.text)
	}
	foundApproved := false
	for _, e := range gw.edits {
		if strings.Contains(e, "Approved") {
			foundApproved = true
		}
	}
	if !foundApproved {
		t.Fatalf("admin notification never edited to approved state: %v", gw.edits)
	}
	if subs, _ := fx.pending.List(ctx); len(subs) != 0 {
		t.Fatal("record must be gone after approval")
	}
}

func TestBroadcastDeniedForNonAdmin(t *testing.T) {
	gw := &fakeGateway{}
	fx := newFixture(t, gw, false)
	ctx := context.Background()

	fx.flows.HandleBroadcast(ctx, msgFrom(userA, "/broadcast"))

	if got := fx.sessions.Get(userA).State; got != StateIdle {
		t.Fatalf("state = %v, non-admin must not enter broadcast flow", got)
	}
	if !strings.Contains(gw.lastTo(t, userA).text, "not allowed") {
		t.Fatalf("expected generic denial, got %q", gw.lastTo(t, userA).text)
	}
}

func TestBroadcastReportsTally(t *testing.T) {
	gw := &fakeGateway{blocked: map[int64]bool{2: true}}
	fx := newFixture(t, gw, false)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		if err := fx.users.Upsert(ctx, registry.User{ID: id}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	fx.flows.HandleBroadcast(ctx, &kit.Message{FromID: adminID, ChatID: adminID, Text: "/broadcast", Private: true})
	if got := fx.sessions.Get(adminID).State; got != StateBroadcasting {
		t.Fatalf("state = %v, want broadcasting", got)
	}
	fx.flows.HandleText(ctx, &kit.Message{FromID: adminID, ChatID: adminID, Text: "big news", Private: true})

	for _, id := range []int64{1, 3} {
		if got := gw.lastTo(t, id); got.text != "big news" {
			t.Fatalf("user %d got %q", id, got.text)
		}
	}
	tally := gw.lastTo(t, adminID)
	if !strings.Contains(tally.text, "attempted 3") ||
		!strings.Contains(tally.text, "delivered 2") ||
		!strings.Contains(tally.text, "failed 1") {
		t.Fatalf("tally = %q", tally.text)
	}
	if got := fx.sessions.Get(adminID).State; got != StateIdle {
		t.Fatalf("state = %v, want idle after broadcast", got)
	}
}
