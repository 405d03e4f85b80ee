package messaging

// InboundKind classifies a normalized inbound event.
type InboundKind string

const (
	InboundText        InboundKind = "text"
	InboundButtonReply InboundKind = "button_reply"
	InboundListReply   InboundKind = "list_reply"
	InboundUnknown     InboundKind = "unknown"
)

// Inbound is an event from a channel, already authenticated and normalized.
type Inbound struct {
	Address    Address
	SenderName string
	Kind       InboundKind
	Text       string
	ChoiceID   string
	// MessageID is the provider id used to drop redeliveries. May be empty.
	MessageID string
}

// IsChoice reports whether the event selects a button or list row.
func (in Inbound) IsChoice() bool {
	return (in.Kind == InboundButtonReply || in.Kind == InboundListReply) && in.ChoiceID != ""
}

// Content returns what the user sent, for logs.
func (in Inbound) Content() string {
	if in.IsChoice() {
		return in.ChoiceID
	}
	if in.Text != "" {
		return in.Text
	}
	return string(in.Kind)
}
