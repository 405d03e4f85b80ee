package telegram

import (
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/roelfdiedericks/reportbot/internal/messaging"
)

// CaptionLimit is Telegram's maximum caption length
const CaptionLimit = 1024

// inlineKeyboard turns buttons or list rows into an inline keyboard, one
// button per row. Callback data carries the choice id unchanged.
func inlineKeyboard(msg messaging.Message) *tele.ReplyMarkup {
	var rows [][]tele.InlineButton
	switch m := msg.(type) {
	case messaging.Buttons:
		for _, b := range m.Buttons {
			rows = append(rows, []tele.InlineButton{{Text: b.Title, Data: b.ID}})
		}
	case messaging.List:
		for _, s := range m.Sections {
			for _, r := range s.Rows {
				rows = append(rows, []tele.InlineButton{{Text: r.Title, Data: r.ID}})
			}
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return &tele.ReplyMarkup{InlineKeyboard: rows}
}

// listBody renders a list body with the row descriptions, which inline
// keyboards cannot show.
func listBody(m messaging.List) string {
	var b strings.Builder
	b.WriteString(m.Body)
	for _, s := range m.Sections {
		described := false
		for _, r := range s.Rows {
			if r.Description == "" {
				continue
			}
			if !described {
				b.WriteString("\n")
				if s.Title != "" {
					b.WriteString("\n*" + s.Title + "*")
				}
				described = true
			}
			b.WriteString("\n• " + r.Title + ": " + r.Description)
		}
	}
	return b.String()
}

func address(chat *tele.Chat) messaging.Address {
	return messaging.Address{Kind: messaging.Telegram, Raw: strconv.FormatInt(chat.ID, 10)}
}

func senderName(u *tele.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return name
}

// isPrivate drops groups and channels; the bot only serves direct chats.
func isPrivate(chat *tele.Chat) bool {
	return chat != nil && chat.Type == tele.ChatPrivate
}

// inboundFromMessage normalizes a text message.
func inboundFromMessage(m *tele.Message) (messaging.Inbound, bool) {
	if m == nil || !isPrivate(m.Chat) {
		return messaging.Inbound{}, false
	}
	return messaging.Inbound{
		Address:    address(m.Chat),
		SenderName: senderName(m.Sender),
		Kind:       messaging.InboundText,
		Text:       m.Text,
		MessageID:  strconv.Itoa(m.ID),
	}, true
}

// inboundFromCallback normalizes an inline keyboard press. Presses on list
// keyboards and button keyboards are indistinguishable, both map to a
// button reply.
func inboundFromCallback(cb *tele.Callback) (messaging.Inbound, bool) {
	if cb == nil || cb.Message == nil || !isPrivate(cb.Message.Chat) {
		return messaging.Inbound{}, false
	}
	data := strings.TrimSpace(cb.Data)
	if data == "" {
		return messaging.Inbound{}, false
	}
	return messaging.Inbound{
		Address:    address(cb.Message.Chat),
		SenderName: senderName(cb.Sender),
		Kind:       messaging.InboundButtonReply,
		ChoiceID:   data,
		MessageID:  "cb:" + cb.ID,
	}, true
}

// parseChatID converts a router raw address to a chat recipient.
func parseChatID(raw string) (tele.ChatID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	return tele.ChatID(id), nil
}
