package conversation

import (
	"context"

	"github.com/roelfdiedericks/reportbot/internal/access"
	. "github.com/roelfdiedericks/reportbot/internal/logging"
	"github.com/roelfdiedericks/reportbot/internal/messaging"
	"github.com/roelfdiedericks/reportbot/internal/session"
)

func (e *Engine) startBroadcast(ctx context.Context, t *turn) error {
	if err := e.patch(t, session.Patch{}.WithStep(session.StepBroadcastAskMessage).WithDraft("")); err != nil {
		return err
	}
	L_info("conversation: broadcast started", "by", t.key)
	e.text(ctx, t, textBroadcastAsk)
	return nil
}

func (e *Engine) exitBroadcast(t *turn) error {
	return e.patch(t, session.Patch{}.WithStep(broadcastExitStep(t.sess)).WithDraft(""))
}

// handleBroadcastFlow handles an event of an admin inside the broadcast
// sub-flow. It returns false when the event should continue through the
// regular handlers.
func (e *Engine) handleBroadcastFlow(ctx context.Context, t *turn) (bool, error) {
	in := t.in

	if in.IsChoice() && in.ChoiceID == ChoiceAdminClose {
		if err := e.exitBroadcast(t); err != nil {
			return true, err
		}
		e.text(ctx, t, textBroadcastMenuCancel)
		// the admin handler answers the close itself
		return false, nil
	}
	if in.Kind == messaging.InboundText && e.cancel.match(in.Text) {
		return true, e.cancelBroadcast(ctx, t)
	}

	switch t.sess.Step {
	case session.StepBroadcastAskMessage:
		if in.Kind != messaging.InboundText || in.Text == "" {
			e.text(ctx, t, textBroadcastWaiting)
			return true, nil
		}
		if err := e.patch(t, session.Patch{}.WithStep(session.StepBroadcastConfirm).WithDraft(in.Text)); err != nil {
			return true, err
		}
		e.sendBroadcastConfirm(ctx, t)
		return true, nil

	case session.StepBroadcastConfirm:
		if in.IsChoice() {
			switch in.ChoiceID {
			case ChoiceBroadcastYes:
				draft := t.sess.BroadcastDraft
				if err := e.exitBroadcast(t); err != nil {
					return true, err
				}
				e.broadcast(ctx, t, draft)
				return true, nil
			case ChoiceBroadcastNo:
				return true, e.cancelBroadcast(ctx, t)
			}
		}
		e.sendBroadcastConfirm(ctx, t)
		return true, nil
	}
	return false, nil
}

func (e *Engine) sendBroadcastConfirm(ctx context.Context, t *turn) {
	e.deps.Sender.SendButtons(ctx, t.addr, textBroadcastConfirm(t.sess.BroadcastDraft),
		messaging.Button{ID: ChoiceBroadcastYes, Title: "✅ Sí, Enviar"},
		messaging.Button{ID: ChoiceBroadcastNo, Title: "❌ Cancelar"},
	)
}

func (e *Engine) cancelBroadcast(ctx context.Context, t *turn) error {
	if err := e.exitBroadcast(t); err != nil {
		return err
	}
	L_info("conversation: broadcast cancelled", "by", t.key)
	e.text(ctx, t, textBroadcastCancelled)
	e.showAdminPanel(ctx, t)
	return nil
}

// broadcastTally counts a fan-out. Blocked users are in neither count.
type broadcastTally struct {
	OK     int
	Failed int
}

// broadcast sends draft to every known, non-blocked address, one at a time.
// A failed recipient never stops the fan-out.
func (e *Engine) broadcast(ctx context.Context, t *turn, draft string) broadcastTally {
	var tally broadcastTally
	if draft == "" {
		return tally
	}
	e.text(ctx, t, textBroadcastStarting)

	users, err := e.deps.Gateway.ListAll(ctx)
	if err != nil {
		L_error("conversation: broadcast recipients lookup failed", "error", err)
		e.text(ctx, t, textAdminUnavailable)
		return tally
	}

	pacer := messaging.Pacer(e.cfg.SendDelay)
	body := textAnnouncement(draft)
	for _, u := range users {
		if u.Role == access.RoleBlocked {
			continue
		}
		if err := pacer.Wait(ctx); err != nil {
			L_warn("conversation: broadcast interrupted", "error", err, "sent", tally.OK)
			break
		}
		if res := e.deps.Sender.SendText(ctx, messaging.ParseAddress(u.Address), body); res.OK {
			tally.OK++
		} else {
			tally.Failed++
			L_warn("conversation: broadcast delivery failed", "to", u.Address, "error", res.Diagnostic)
		}
	}

	L_info("conversation: broadcast finished", "by", t.key, "ok", tally.OK, "failed", tally.Failed)
	e.text(ctx, t, textBroadcastDone(tally.OK, tally.Failed))
	return tally
}
