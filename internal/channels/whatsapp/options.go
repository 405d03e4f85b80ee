package whatsapp

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/roelfdiedericks/reportbot/internal/messaging"
)

// optionsHint closes every message that offers numbered options.
const optionsHint = "_Responde con el número de la opción._"

type option struct {
	id    string
	title string
}

type chatOptions struct {
	options []option
	// sealed is set once the user replied; the next offer starts at 1 again.
	sealed bool
}

// optionBook remembers the numbered options offered to each chat so a
// plain text reply can be mapped back to a choice id. Consecutive offers
// without a reply in between continue the numbering, which keeps several
// admin cards sent in a row unambiguous.
type optionBook struct {
	mu    sync.Mutex
	chats map[string]*chatOptions
}

func newOptionBook() *optionBook {
	return &optionBook{chats: make(map[string]*chatOptions)}
}

// offer records opts for chat and returns the number of the first one.
func (b *optionBook) offer(chat string, opts []option) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.chats[chat]
	if !ok || entry.sealed {
		entry = &chatOptions{}
		b.chats[chat] = entry
	}
	first := len(entry.options) + 1
	entry.options = append(entry.options, opts...)
	return first
}

// resolve maps a reply to a choice id. A reply matches by number, or by
// title when exactly one offered option carries it. Any reply seals the
// current offers.
func (b *optionBook) resolve(chat, reply string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.chats[chat]
	if !ok || entry.sealed {
		return "", false
	}
	entry.sealed = true

	reply = strings.TrimSpace(reply)
	if n, err := strconv.Atoi(strings.TrimSuffix(reply, ".")); err == nil {
		if n >= 1 && n <= len(entry.options) {
			return entry.options[n-1].id, true
		}
		return "", false
	}

	match := ""
	for _, o := range entry.options {
		if strings.EqualFold(o.title, reply) {
			if match != "" {
				return "", false
			}
			match = o.id
		}
	}
	return match, match != ""
}

// forget drops the offers of chat.
func (b *optionBook) forget(chat string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.chats, chat)
}

// renderButtons writes a buttons message as text with numbered options and
// records them in the book.
func (b *optionBook) renderButtons(chat string, m messaging.Buttons) string {
	opts := make([]option, len(m.Buttons))
	for i, btn := range m.Buttons {
		opts[i] = option{id: btn.ID, title: btn.Title}
	}
	first := b.offer(chat, opts)

	var sb strings.Builder
	sb.WriteString(m.Body)
	sb.WriteString("\n")
	for i, o := range opts {
		fmt.Fprintf(&sb, "\n*%d.* %s", first+i, o.title)
	}
	sb.WriteString("\n\n")
	sb.WriteString(optionsHint)
	return sb.String()
}

// renderList writes a list message as text grouped by section.
func (b *optionBook) renderList(chat string, m messaging.List) string {
	var opts []option
	for _, s := range m.Sections {
		for _, r := range s.Rows {
			opts = append(opts, option{id: r.ID, title: r.Title})
		}
	}
	n := b.offer(chat, opts)

	var sb strings.Builder
	sb.WriteString(m.Body)
	for _, s := range m.Sections {
		sb.WriteString("\n")
		if s.Title != "" {
			sb.WriteString("\n*" + s.Title + "*")
		}
		for _, r := range s.Rows {
			fmt.Fprintf(&sb, "\n*%d.* %s", n, r.Title)
			if r.Description != "" {
				sb.WriteString(" - _" + r.Description + "_")
			}
			n++
		}
	}
	sb.WriteString("\n\n")
	sb.WriteString(optionsHint)
	return sb.String()
}
