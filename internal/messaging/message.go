// Package messaging is the channel-agnostic message layer: outbound message
// variants, the router that dispatches them to a channel backend, and the
// normalized inbound event.
package messaging

import "context"

// MaxButtons is the most reply buttons a message may carry.
const MaxButtons = 3

// MaxButtonTitle is the longest button title, in runes, accepted by every channel.
const MaxButtonTitle = 20

// Message is one of Text, Buttons, List or Photo.
type Message interface {
	messageKind() string
}

// Text is a plain text message. *bold* and _italic_ markers are passed through.
type Text struct {
	Body string
}

// Button is a reply affordance; ID comes back as the choice id.
type Button struct {
	ID    string
	Title string
}

// Buttons is a text body with up to MaxButtons reply buttons.
type Buttons struct {
	Body    string
	Buttons []Button
}

// Row is a selectable entry of a List.
type Row struct {
	ID          string
	Title       string
	Description string
}

type Section struct {
	Title string
	Rows  []Row
}

// List is a text body with a menu of rows grouped in sections.
type List struct {
	Body     string
	Label    string
	Sections []Section
}

// Photo is an image read from a local file.
type Photo struct {
	Path    string
	Caption string
}

func (Text) messageKind() string    { return "text" }
func (Buttons) messageKind() string { return "buttons" }
func (List) messageKind() string    { return "list" }
func (Photo) messageKind() string   { return "photo" }

// KindOf returns a short name for msg, for logs and the interaction log.
func KindOf(msg Message) string {
	if msg == nil {
		return "none"
	}
	return msg.messageKind()
}

// Summary returns the human-readable text of msg.
func Summary(msg Message) string {
	switch m := msg.(type) {
	case Text:
		return m.Body
	case Buttons:
		return m.Body
	case List:
		return m.Body
	case Photo:
		if m.Caption != "" {
			return m.Caption
		}
		return m.Path
	}
	return ""
}

// Backend delivers messages on one channel. Deliver translates the message
// variant to the provider's wire format.
type Backend interface {
	Kind() ChannelKind
	Deliver(ctx context.Context, raw string, msg Message) error
}

// Result is the outcome of a send. Failures are values, not errors, so
// callers decide whether to stop a sequence.
type Result struct {
	OK         bool
	Diagnostic string
}

func ok() Result {
	return Result{OK: true}
}

func failed(diag string) Result {
	return Result{OK: false, Diagnostic: diag}
}
