package flow

import (
	"context"
	"fmt"
	"strings"

	"anonpost/internal/gate"
	"anonpost/internal/moderation"
	"anonpost/internal/registry"
	"anonpost/internal/services/broadcast"
	kit "anonpost/internal/transport"
	"anonpost/pkg/logx"
	"anonpost/pkg/tgui"
)

// Namespace tags conversation callback data ("flow:<action>").
const Namespace = "flow"

const (
	actionConfirm = "confirm"
	actionDiscard = "discard"
)

// Flows routes conversation events through the per-user state machine.
// Each handler takes the inbound event plus the shared session map; the
// only cross-user shared state lives in the registries underneath.
type Flows struct {
	log      logx.Logger
	gw       kit.Gateway
	sessions *Sessions
	users    *registry.Users
	gate     *gate.Gate // nil when membership checks are disabled
	mod      *moderation.Workflow
	engine   *broadcast.Engine
	isAdmin  func(int64) bool
}

func New(
	gw kit.Gateway,
	sessions *Sessions,
	users *registry.Users,
	g *gate.Gate,
	mod *moderation.Workflow,
	engine *broadcast.Engine,
	isAdmin func(int64) bool,
	log logx.Logger,
) *Flows {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Flows{
		log:      log,
		gw:       gw,
		sessions: sessions,
		users:    users,
		gate:     g,
		mod:      mod,
		engine:   engine,
		isAdmin:  isAdmin,
	}
}

// HandleStart enters the submission flow.
func (f *Flows) HandleStart(ctx context.Context, m *kit.Message) {
	if f.gate != nil && !f.gate.IsMember(ctx, m.FromID) {
		f.sessions.Clear(m.FromID)
		f.send(ctx, m.FromID,
			"You need to be a member of the channel to submit messages.\n"+
				"Please join first, then send /start again.")
		return
	}

	err := f.users.Upsert(ctx, registry.User{
		ID:        m.FromID,
		Username:  m.FromUsername,
		FirstName: m.FromFirstName,
	})
	if err != nil {
		// Registration is best-effort; the submission flow still works,
		// the user just misses future broadcasts until the next /start.
		f.log.Error("user registration failed", logx.Int64("user_id", m.FromID), logx.Err(err))
	}

	f.sessions.Clear(m.FromID)
	f.sessions.SetState(m.FromID, StateSubmitting)
	f.send(ctx, m.FromID,
		"Welcome! I can help you post a message anonymously to the channel.\n\n"+
			"Please send me the message you want to post. To cancel, type /cancel.")
}

// HandleCancel aborts whatever flow is in progress.
func (f *Flows) HandleCancel(ctx context.Context, m *kit.Message) {
	f.sessions.Clear(m.FromID)
	f.send(ctx, m.FromID, "Operation cancelled. Have a great day!")
}

// HandleBroadcast enters the admin broadcast flow.
func (f *Flows) HandleBroadcast(ctx context.Context, m *kit.Message) {
	if f.isAdmin == nil || !f.isAdmin(m.FromID) {
		f.send(ctx, m.FromID, "Sorry, you are not allowed to do that.")
		return
	}
	f.sessions.Clear(m.FromID)
	f.sessions.SetState(m.FromID, StateBroadcasting)
	f.send(ctx, m.FromID,
		"Send me the message to broadcast to all known users. To cancel, type /cancel.")
}

// HandleText routes a plain text message by the sender's current state.
func (f *Flows) HandleText(ctx context.Context, m *kit.Message) {
	// Commands never count as content, whatever the state.
	if strings.HasPrefix(m.Text, "/") {
		f.send(ctx, m.FromID, "I did not recognize that command. Use /start or /cancel.")
		return
	}

	switch f.sessions.Get(m.FromID).State {
	case StateSubmitting:
		f.sessions.SetDraft(m.FromID, m.Text)
		f.sessions.SetState(m.FromID, StateAwaitingConfirm)

		markup := tgui.ConfirmInline(
			tgui.Btn("Yes, send it for review", tgui.Data(Namespace, actionConfirm, "")),
			tgui.Btn("No, cancel", tgui.Data(Namespace, actionDiscard, "")),
		).Markup()
		f.sendOpt(ctx, m.FromID,
			"Your message:\n\n---\n"+m.Text+"\n---\n\nDo you want to submit this for approval?",
			&kit.SendOptions{ReplyMarkupAdapter: markup})

	case StateBroadcasting:
		f.sessions.Clear(m.FromID)
		f.runBroadcast(ctx, m.FromID, m.Text)

	case StateAwaitingConfirm:
		f.send(ctx, m.FromID, "Please use the buttons above, or type /cancel to abort.")

	default:
		f.send(ctx, m.FromID, "Use /start to submit a message to the channel.")
	}
}

// HandleCallback applies a conversation button press ("flow" namespace).
func (f *Flows) HandleCallback(ctx context.Context, cb *kit.Callback, action string) {
	state := f.sessions.Get(cb.FromID).State

	switch action {
	case actionConfirm:
		if state != StateAwaitingConfirm {
			f.answer(ctx, cb, "Nothing to confirm.")
			return
		}
		draft := f.sessions.Get(cb.FromID).Draft
		f.sessions.Clear(cb.FromID)
		if strings.TrimSpace(draft) == "" {
			f.edit(ctx, cb, "Sorry, something went wrong. Please start over with /start.")
			f.answer(ctx, cb, "")
			return
		}

		if err := f.mod.Intake(ctx, cb.FromID, cb.MessageID, draft); err != nil {
			f.log.Error("submission intake failed", logx.Int64("user_id", cb.FromID), logx.Err(err))
			f.edit(ctx, cb, "Sorry, something went wrong while submitting. Please try again later.")
			f.answer(ctx, cb, "")
			return
		}
		if f.mod.Mode() == moderation.ModeInstant {
			f.edit(ctx, cb, "Your message has been published anonymously!")
		} else {
			f.edit(ctx, cb, "Thank you! Your message has been sent for review.")
		}
		f.answer(ctx, cb, "")

	case actionDiscard:
		if state != StateAwaitingConfirm {
			f.answer(ctx, cb, "Nothing to cancel.")
			return
		}
		f.sessions.Clear(cb.FromID)
		f.edit(ctx, cb, "Submission cancelled. You can start over with /start.")
		f.answer(ctx, cb, "")

	default:
		f.answer(ctx, cb, "This button is no longer active.")
	}
}

func (f *Flows) runBroadcast(ctx context.Context, adminID int64, text string) {
	snap, err := f.users.Snapshot(ctx)
	if err != nil {
		f.log.Error("user snapshot failed", logx.Err(err))
		f.send(ctx, adminID, "Sorry, could not load the user registry. Broadcast aborted.")
		return
	}
	rep := f.engine.Run(ctx, text, snap)
	f.send(ctx, adminID, fmt.Sprintf(
		"Broadcast finished: attempted %d, delivered %d, failed %d.",
		rep.Attempted, rep.Sent, rep.Blocked+rep.Failed))
}

func (f *Flows) send(ctx context.Context, chatID int64, text string) {
	f.sendOpt(ctx, chatID, text, nil)
}

func (f *Flows) sendOpt(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) {
	if _, err := f.gw.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, opt); err != nil {
		f.log.Warn("reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

func (f *Flows) edit(ctx context.Context, cb *kit.Callback, text string) {
	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	if err := f.gw.EditText(ctx, ref, text, nil); err != nil {
		f.log.Warn("message edit failed", logx.Int64("chat_id", cb.ChatID), logx.Err(err))
	}
}

func (f *Flows) answer(ctx context.Context, cb *kit.Callback, text string) {
	if err := f.gw.AnswerCallback(ctx, cb.ID, text); err != nil {
		f.log.Debug("callback answer failed", logx.Err(err))
	}
}
