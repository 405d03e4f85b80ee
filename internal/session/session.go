// Package session holds per-address conversation state in memory.
//
// State is process local. Eviction and restarts revert a conversation to
// StepNew; the consent ledger lets an accepted address skip consent again.
package session

import (
	"errors"
	"fmt"
	"time"
)

// Step is the conversation state of one address.
type Step string

const (
	StepNew                 Step = "NEW"
	StepAskConsent          Step = "ASK_CONSENT"
	StepReady               Step = "READY"
	StepClosed              Step = "CLOSED"
	StepBlocked             Step = "BLOCKED"
	StepBroadcastAskMessage Step = "BROADCAST_ASK_MESSAGE"
	StepBroadcastConfirm    Step = "BROADCAST_CONFIRM"
)

// IsBroadcast reports whether the step belongs to the admin broadcast sub-flow.
func (s Step) IsBroadcast() bool {
	return s == StepBroadcastAskMessage || s == StepBroadcastConfirm
}

// Consent is the recorded consent decision. The zero value means no decision.
type Consent string

const (
	ConsentNone     Consent = ""
	ConsentAccepted Consent = "ACCEPTED"
	ConsentDeclined Consent = "DECLINED"
)

// ErrInvariant is returned when a patch would leave a session inconsistent.
var ErrInvariant = errors.New("session invariant violated")

// Session is a snapshot of one address's conversation.
type Session struct {
	Step           Step
	Consent        Consent
	Name           string
	BroadcastDraft string
	UpdatedAt      time.Time
}

// Validate checks READY => ACCEPTED and BLOCKED => DECLINED.
func (s Session) Validate() error {
	switch {
	case s.Step == StepReady && s.Consent != ConsentAccepted:
		return fmt.Errorf("%w: step %s requires consent %s, have %q", ErrInvariant, s.Step, ConsentAccepted, s.Consent)
	case s.Step == StepBlocked && s.Consent != ConsentDeclined:
		return fmt.Errorf("%w: step %s requires consent %s, have %q", ErrInvariant, s.Step, ConsentDeclined, s.Consent)
	}
	return nil
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	Step           *Step
	Consent        *Consent
	Name           *string
	BroadcastDraft *string
}

func (p Patch) WithStep(s Step) Patch {
	p.Step = &s
	return p
}

func (p Patch) WithConsent(c Consent) Patch {
	p.Consent = &c
	return p
}

func (p Patch) WithName(name string) Patch {
	p.Name = &name
	return p
}

func (p Patch) WithDraft(draft string) Patch {
	p.BroadcastDraft = &draft
	return p
}

// apply returns s with the patch merged in.
func (p Patch) apply(s Session) Session {
	if p.Step != nil {
		s.Step = *p.Step
	}
	if p.Consent != nil {
		s.Consent = *p.Consent
	}
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.BroadcastDraft != nil {
		s.BroadcastDraft = *p.BroadcastDraft
	}
	return s
}
