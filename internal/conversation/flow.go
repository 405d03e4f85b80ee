package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/roelfdiedericks/reportbot/internal/consent"
	. "github.com/roelfdiedericks/reportbot/internal/logging"
	"github.com/roelfdiedericks/reportbot/internal/messaging"
	"github.com/roelfdiedericks/reportbot/internal/session"
)

func (e *Engine) dispatch(ctx context.Context, t *turn) error {
	switch t.sess.Step {
	case session.StepNew:
		return e.onNew(ctx, t)
	case session.StepAskConsent:
		return e.onAskConsent(ctx, t)
	case session.StepBlocked:
		return e.onBlocked(ctx, t)
	case session.StepReady:
		return e.onReady(ctx, t)
	case session.StepClosed:
		return e.onClosed(ctx, t)
	default:
		L_warn("conversation: unexpected step, restarting consent", "from", t.key, "step", t.sess.Step)
		return e.askConsent(ctx, t)
	}
}

func (e *Engine) askConsent(ctx context.Context, t *turn) error {
	if err := e.patch(t, session.Patch{}.WithStep(session.StepAskConsent)); err != nil {
		return err
	}
	e.deps.Sender.SendButtons(ctx, t.addr, textConsentPrompt(t.name()),
		messaging.Button{ID: ChoiceConsentAccept, Title: "✅ Acepto"},
		messaging.Button{ID: ChoiceConsentDecline, Title: "❌ No acepto"},
	)
	return nil
}

func (e *Engine) onNew(ctx context.Context, t *turn) error {
	if t.sess.Consent == session.ConsentAccepted {
		if err := e.patch(t, session.Patch{}.WithStep(session.StepReady)); err != nil {
			return err
		}
		e.idle.Arm(t.key)
		return e.showMenu(ctx, t)
	}
	return e.askConsent(ctx, t)
}

func (e *Engine) onAskConsent(ctx context.Context, t *turn) error {
	if !t.in.IsChoice() {
		e.text(ctx, t, textConsentUseButtons)
		return nil
	}

	switch t.in.ChoiceID {
	case ChoiceConsentAccept:
		if err := e.patch(t, session.Patch{}.WithConsent(session.ConsentAccepted).WithStep(session.StepReady)); err != nil {
			return err
		}
		e.recordConsent(ctx, t, consent.Accepted)
		L_info("conversation: consent accepted", "from", t.key)
		e.idle.Arm(t.key)
		return e.showMenu(ctx, t)

	case ChoiceConsentDecline:
		if err := e.patch(t, session.Patch{}.WithConsent(session.ConsentDeclined).WithStep(session.StepBlocked)); err != nil {
			return err
		}
		e.recordConsent(ctx, t, consent.Declined)
		L_info("conversation: consent declined", "from", t.key)
		e.text(ctx, t, textConsentDeclined)
		return nil
	}

	e.text(ctx, t, textConsentInvalid)
	return nil
}

// recordConsent appends to the ledger. Failures are logged only, the
// conversation has already moved on.
func (e *Engine) recordConsent(ctx context.Context, t *turn, d consent.Decision) {
	err := e.deps.Ledger.Append(ctx, consent.Record{
		Timestamp: e.now().UTC(),
		Address:   t.key,
		Name:      t.name(),
		Decision:  d,
		Version:   e.cfg.ConsentVersion,
		Channel:   string(t.addr.Kind),
	})
	if err != nil {
		L_error("conversation: failed to record consent", "from", t.key, "decision", d, "error", err)
	}
}

func (e *Engine) onBlocked(ctx context.Context, t *turn) error {
	if t.in.Kind == messaging.InboundText && e.greeting.match(t.in.Text) {
		if err := e.patch(t, session.Patch{}.WithConsent(session.ConsentNone).WithStep(session.StepAskConsent)); err != nil {
			return err
		}
		return e.askConsent(ctx, t)
	}
	e.text(ctx, t, textBlockedRefusal)
	return nil
}

func (e *Engine) onReady(ctx context.Context, t *turn) error {
	e.idle.Arm(t.key)

	if t.in.IsChoice() {
		return e.handleReportChoice(ctx, t, t.in.ChoiceID)
	}
	if t.in.Kind == messaging.InboundText {
		if e.menu.match(t.in.Text) {
			return e.showMenu(ctx, t)
		}
		e.text(ctx, t, textGreetingReminder(t.name()))
		return nil
	}
	e.text(ctx, t, textMenuReminder)
	return nil
}

func (e *Engine) onClosed(ctx context.Context, t *turn) error {
	if t.in.IsChoice() {
		switch t.in.ChoiceID {
		case ChoiceReopen:
			err := e.patch(t, session.Patch{}.WithStep(session.StepReady))
			if errors.Is(err, session.ErrInvariant) {
				// closed without consent, start over
				L_warn("conversation: reopen without consent", "from", t.key, "consent", t.sess.Consent)
				return e.askConsent(ctx, t)
			}
			if err != nil {
				return err
			}
			e.idle.Arm(t.key)
			return e.showMenu(ctx, t)

		case ChoiceClose:
			e.idle.Disarm(t.key)
			e.text(ctx, t, textGoodbye)
			return nil
		}
	}
	e.sendReopenPrompt(ctx, t.addr)
	return nil
}

// forceClose ends the conversation after a report, whatever its outcome.
func (e *Engine) forceClose(ctx context.Context, t *turn) error {
	e.idle.Disarm(t.key)
	if err := e.patch(t, session.Patch{}.WithStep(session.StepClosed)); err != nil {
		return err
	}
	e.sendReopenPrompt(ctx, t.addr)
	return nil
}

// Uptime is the time since the engine was created.
func (e *Engine) Uptime() time.Duration {
	return e.now().Sub(e.started)
}
