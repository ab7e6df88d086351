package moderation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"anonpost/internal/registry"
	kit "anonpost/internal/transport"
	"anonpost/pkg/logx"
	"anonpost/pkg/tgui"
)

// Mode selects the outcome shape of the workflow.
type Mode string

const (
	// ModeReview holds submissions until an admin approves or declines.
	ModeReview Mode = "review"
	// ModeInstant publishes immediately and offers the admin a delete
	// control instead of an approval gate.
	ModeInstant Mode = "instant"
)

// Workflow owns the moderation side of a submission: notifying the
// admin, applying exactly one outcome per submission, and keeping
// replayed decisions harmless.
type Workflow struct {
	log     logx.Logger
	gw      kit.Gateway
	pending *registry.Pending

	channel   kit.ChatTarget
	adminChat kit.ChatTarget
	mode      Mode

	now func() time.Time
}

func New(gw kit.Gateway, pending *registry.Pending, channel, adminChat kit.ChatTarget, mode Mode, log logx.Logger) *Workflow {
	if mode != ModeInstant {
		mode = ModeReview
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Workflow{
		log:       log,
		gw:        gw,
		pending:   pending,
		channel:   channel,
		adminChat: adminChat,
		mode:      mode,
		now:       time.Now,
	}
}

func (w *Workflow) Mode() Mode { return w.mode }

// Intake processes a confirmed submission. In review mode it notifies
// the admin and persists the pending record; in instant mode it
// publishes right away and hands the admin a delete control. The
// returned error means the submitter should see an apology.
func (w *Workflow) Intake(ctx context.Context, userID int64, messageID int, text string) error {
	if w.mode == ModeInstant {
		return w.intakeInstant(ctx, userID, text)
	}
	return w.intakeReview(ctx, userID, messageID, text)
}

func (w *Workflow) intakeReview(ctx context.Context, userID int64, messageID int, text string) error {
	key := registry.SubmissionKey(userID, messageID)

	markup := tgui.ConfirmInline(
		tgui.Btn("Approve", Action{Kind: KindApprove, Ref: key}.Data()),
		tgui.Btn("Decline", Action{Kind: KindDecline, Ref: key}.Data()),
	).Markup()

	ref, err := w.gw.SendText(ctx, w.adminChat, reviewText(userID, text),
		&kit.SendOptions{ReplyMarkupAdapter: markup})
	if err != nil {
		return fmt.Errorf("notify admin: %w", err)
	}

	err = w.pending.Put(ctx, registry.Submission{
		Key:            key,
		UserID:         userID,
		Text:           text,
		AdminMessageID: ref.MessageID,
	})
	if err != nil {
		// The admin already has the decision controls; a lost record
		// means the decision will report "expired". Log it, do not
		// fail the submitter.
		w.log.Error("pending record write failed", logx.String("key", key), logx.Err(err))
	}
	return nil
}

func (w *Workflow) intakeInstant(ctx context.Context, userID int64, text string) error {
	pub, err := w.gw.SendText(ctx, w.channel, text, nil)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	markup := tgui.NewInline().Row(
		tgui.Btn("Delete", Action{Kind: KindDelete, Ref: strconv.Itoa(pub.MessageID)}.Data()),
	).Markup()

	_, err = w.gw.SendText(ctx, w.adminChat, instantText(userID, text, w.now()),
		&kit.SendOptions{ReplyMarkupAdapter: markup})
	if err != nil {
		// Already published; the admin just missed the notification.
		w.log.Warn("admin notification failed", logx.Int64("user_id", userID), logx.Err(err))
	}
	return nil
}

// HandleAction applies one admin decision. Invoking the same action
// twice is safe: approve/decline consume the pending record on first
// application, and delete tolerates an already-gone message.
func (w *Workflow) HandleAction(ctx context.Context, a Action, cb *kit.Callback) {
	switch a.Kind {
	case KindApprove, KindDecline:
		w.resolve(ctx, a, cb)
	case KindDelete:
		w.retract(ctx, a, cb)
	}
}

func (w *Workflow) resolve(ctx context.Context, a Action, cb *kit.Callback) {
	sub, ok, err := w.pending.Take(ctx, a.Ref)
	if err != nil {
		w.log.Error("pending lookup failed", logx.String("key", a.Ref), logx.Err(err))
		w.answer(ctx, cb, "Storage error, please try again.")
		return
	}
	if !ok {
		// Double-click or replay: the record is gone, so is the decision.
		w.answer(ctx, cb, "")
		w.edit(ctx, kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID},
			"This action has already been processed or the submission expired.")
		return
	}

	adminRef := kit.MessageRef{ChatID: w.adminChat.ChatID, MessageID: sub.AdminMessageID}
	submitter := kit.ChatTarget{ChatID: sub.UserID}

	if a.Kind == KindDecline {
		w.notify(ctx, submitter, "Sorry, your message was not approved.")
		w.edit(ctx, adminRef, "❌ Declined\n\n---\n"+sub.Text+"\n---")
		w.answer(ctx, cb, "")
		return
	}

	if _, err := w.gw.SendText(ctx, w.channel, sub.Text, nil); err != nil {
		// The decision is consumed regardless: the record stays gone.
		w.log.Error("publishing approved submission failed", logx.String("key", a.Ref), logx.Err(err))
		w.notify(ctx, submitter, "Sorry, an error occurred while trying to post your approved message.")
		w.edit(ctx, adminRef, "⚠️ Approved, but publishing failed\n\n---\n"+sub.Text+"\n---")
		w.answer(ctx, cb, "Publishing failed.")
		return
	}
	w.notify(ctx, submitter, "Your message has been approved and posted!")
	w.edit(ctx, adminRef, "✅ Approved\n\n---\n"+sub.Text+"\n---")
	w.answer(ctx, cb, "")
}

func (w *Workflow) retract(ctx context.Context, a Action, cb *kit.Callback) {
	msgID, err := strconv.Atoi(a.Ref)
	if err != nil {
		w.answer(ctx, cb, "Malformed delete action.")
		return
	}
	adminRef := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}

	err = w.gw.DeleteMessage(ctx, kit.MessageRef{ChatID: w.channel.ChatID, MessageID: msgID})
	switch {
	case err == nil:
		w.edit(ctx, adminRef, "🗑 Deleted from the channel.")
		w.answer(ctx, cb, "")
	case errors.Is(err, kit.ErrMessageGone):
		w.edit(ctx, adminRef, "Message was already removed.")
		w.answer(ctx, cb, "")
	default:
		w.log.Warn("delete failed", logx.Int("message_id", msgID), logx.Err(err))
		// Keep the control so the admin can retry.
		w.answer(ctx, cb, "Delete failed, please try again.")
	}
}

func (w *Workflow) notify(ctx context.Context, to kit.ChatTarget, text string) {
	if _, err := w.gw.SendText(ctx, to, text, nil); err != nil {
		w.log.Warn("submitter notification failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

// edit rewrites a moderator notification in place. Sending no markup
// strips the decision controls.
func (w *Workflow) edit(ctx context.Context, ref kit.MessageRef, text string) {
	if err := w.gw.EditText(ctx, ref, text, nil); err != nil {
		w.log.Warn("moderator message edit failed", logx.Int("message_id", ref.MessageID), logx.Err(err))
	}
}

func (w *Workflow) answer(ctx context.Context, cb *kit.Callback, text string) {
	if cb == nil {
		return
	}
	if err := w.gw.AnswerCallback(ctx, cb.ID, text); err != nil {
		w.log.Debug("callback answer failed", logx.Err(err))
	}
}

func reviewText(userID int64, text string) string {
	return fmt.Sprintf("New message for approval from user %d:\n\n---\n%s\n---", userID, text)
}

func instantText(userID int64, text string, at time.Time) string {
	return fmt.Sprintf("Published anonymously at %s (from user %d):\n\n---\n%s\n---",
		at.UTC().Format("2006-01-02 15:04:05 UTC"), userID, text)
}
