package app

import (
	"context"
	"runtime/debug"
	"strings"

	"anonpost/internal/flow"
	"anonpost/internal/moderation"
	kit "anonpost/internal/transport"
	"anonpost/pkg/logx"
	"anonpost/pkg/tgui"
)

// dispatchLoop processes inbound events one at a time. Handlers for
// different users only share the store underneath, whose Update method
// serializes mutations, so this single loop is the one place event
// ordering is decided.
func (a *App) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-a.updates:
			a.dispatch(ctx, up)
		}
	}
}

func (a *App) dispatch(ctx context.Context, up kit.Update) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("handler panic recovered",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	switch up.Kind {
	case kit.UpdateMessage:
		a.handleMessage(ctx, up.Message)
	case kit.UpdateCallback:
		a.handleCallback(ctx, up.Callback)
	}
}

func (a *App) handleMessage(ctx context.Context, m *kit.Message) {
	if m == nil {
		return
	}
	// Conversations live in direct chats; group chatter is not ours.
	if !m.Private {
		return
	}

	if strings.HasPrefix(m.Text, "/") {
		switch commandOf(m.Text) {
		case "/start":
			a.flows.HandleStart(ctx, m)
		case "/cancel":
			a.flows.HandleCancel(ctx, m)
		case "/broadcast":
			a.flows.HandleBroadcast(ctx, m)
		default:
			a.flows.HandleText(ctx, m) // unknown command hint
		}
		return
	}
	a.flows.HandleText(ctx, m)
}

func (a *App) handleCallback(ctx context.Context, cb *kit.Callback) {
	if cb == nil {
		return
	}
	ns, action, _, ok := tgui.Parse(cb.Data)
	if !ok {
		a.answer(ctx, cb, "This button is no longer active.")
		return
	}

	switch ns {
	case moderation.Namespace:
		act, ok := moderation.ParseAction(cb.Data)
		if !ok {
			a.answer(ctx, cb, "This button is no longer active.")
			return
		}
		// Decision controls only exist in the admin chat; anything
		// else gets a generic denial with no detail.
		cfg := a.cfgm.Get()
		if cb.ChatID != cfg.Telegram.AdminChatID && !cfg.IsAdmin(cb.FromID) {
			a.answer(ctx, cb, "Sorry, you are not allowed to do that.")
			return
		}
		a.mod.HandleAction(ctx, act, cb)

	case flow.Namespace:
		a.flows.HandleCallback(ctx, cb, action)

	default:
		a.answer(ctx, cb, "This button is no longer active.")
	}
}

func (a *App) answer(ctx context.Context, cb *kit.Callback, text string) {
	if err := a.gw.AnswerCallback(ctx, cb.ID, text); err != nil {
		a.log.Debug("callback answer failed", logx.Err(err))
	}
}

// commandOf extracts the command token: first word, lowercased, with
// any @botname suffix stripped.
func commandOf(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	cmd := fields[0]
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd)
}
