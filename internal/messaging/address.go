package messaging

import "strings"

// ChannelKind names a channel provider.
type ChannelKind string

const (
	WhatsApp ChannelKind = "whatsapp"
	Telegram ChannelKind = "telegram"
)

// DefaultChannel receives addresses that carry no channel prefix.
const DefaultChannel = WhatsApp

// telegramKeyPrefix marks Telegram chat ids in channel-qualified keys.
const telegramKeyPrefix = "tg_"

// Address is a recipient on a specific channel.
type Address struct {
	Kind ChannelKind
	Raw  string
}

// Key returns the channel-qualified identifier used for sessions, the
// consent ledger and the access store.
func (a Address) Key() string {
	if a.Kind == Telegram {
		return telegramKeyPrefix + a.Raw
	}
	return a.Raw
}

func (a Address) String() string {
	return a.Key()
}

func (a Address) IsZero() bool {
	return a.Raw == ""
}

// ParseAddress turns a channel-qualified key back into an Address.
// WhatsApp numbers keep digits only.
func ParseAddress(key string) Address {
	key = strings.TrimSpace(key)
	if raw, ok := strings.CutPrefix(key, telegramKeyPrefix); ok {
		return Address{Kind: Telegram, Raw: raw}
	}
	return Address{Kind: DefaultChannel, Raw: digitsOnly(key)}
}

// NormalizeKey canonicalizes a key as typed in config or admin input.
func NormalizeKey(key string) string {
	return ParseAddress(key).Key()
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
