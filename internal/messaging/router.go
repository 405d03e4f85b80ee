package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	. "github.com/roelfdiedericks/reportbot/internal/logging"
)

// maxDiagnostic bounds the diagnostic carried by a failed Result.
const maxDiagnostic = 300

// DiagEmptyMessages is the diagnostic of a SendMany call with nothing to send.
const DiagEmptyMessages = "empty_messages"

// SendObserver sees every send after it completes.
type SendObserver func(addr Address, msg Message, res Result)

// Router dispatches messages to the backend selected by the address channel.
type Router struct {
	mu       sync.RWMutex
	backends map[ChannelKind]Backend
	observer SendObserver
}

func NewRouter() *Router {
	return &Router{backends: make(map[ChannelKind]Backend)}
}

// Register installs b for its channel, replacing any previous backend.
func (r *Router) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Kind()] = b
	L_debug("messaging: backend registered", "channel", b.Kind())
}

// Unregister removes the backend for kind.
func (r *Router) Unregister(kind ChannelKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.backends, kind)
}

// Observe sets the observer called after every send.
func (r *Router) Observe(fn SendObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = fn
}

func (r *Router) backend(kind ChannelKind) (Backend, SendObserver) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if kind != WhatsApp && kind != Telegram {
		kind = DefaultChannel
	}
	return r.backends[kind], r.observer
}

// Send delivers msg to addr. It never panics and never returns an error;
// failures come back as a Result with a diagnostic.
func (r *Router) Send(ctx context.Context, addr Address, msg Message) (res Result) {
	b, observer := r.backend(addr.Kind)
	defer func() {
		if observer != nil {
			observer(addr, msg, res)
		}
	}()

	if addr.IsZero() {
		return failed("empty address")
	}
	if b == nil {
		return failed(fmt.Sprintf("no backend for channel %q", addr.Kind))
	}

	norm, diag := normalize(msg)
	if diag != "" {
		return failed(diag)
	}

	defer func() {
		if p := recover(); p != nil {
			L_error("messaging: backend panicked", "channel", addr.Kind, "to", addr.Key(), "panic", p)
			res = failed(fmt.Sprintf("backend panic: %v", p))
		}
	}()

	if err := b.Deliver(ctx, addr.Raw, norm); err != nil {
		L_warn("messaging: send failed", "channel", addr.Kind, "to", addr.Key(), "kind", KindOf(msg), "error", err)
		return failed(truncate(err.Error(), maxDiagnostic))
	}
	L_trace("messaging: sent", "channel", addr.Kind, "to", addr.Key(), "kind", KindOf(msg))
	return ok()
}

// normalize enforces the limits every channel shares.
func normalize(msg Message) (Message, string) {
	switch m := msg.(type) {
	case nil:
		return nil, "nil message"
	case Text:
		if strings.TrimSpace(m.Body) == "" {
			return nil, "empty text"
		}
	case Buttons:
		if len(m.Buttons) == 0 {
			return nil, "buttons message without buttons"
		}
		if len(m.Buttons) > MaxButtons {
			L_warn("messaging: dropping extra buttons", "count", len(m.Buttons), "max", MaxButtons)
		}
		n := min(len(m.Buttons), MaxButtons)
		buttons := make([]Button, n)
		for i := 0; i < n; i++ {
			buttons[i] = Button{ID: m.Buttons[i].ID, Title: clipRunes(m.Buttons[i].Title, MaxButtonTitle)}
		}
		m.Buttons = buttons
		return m, ""
	case List:
		rows := 0
		for _, s := range m.Sections {
			rows += len(s.Rows)
		}
		if rows == 0 {
			return nil, "list message without rows"
		}
	case Photo:
		if m.Path == "" {
			return nil, "photo without path"
		}
	}
	return msg, ""
}

func (r *Router) SendText(ctx context.Context, addr Address, text string) Result {
	return r.Send(ctx, addr, Text{Body: text})
}

func (r *Router) SendButtons(ctx context.Context, addr Address, body string, buttons ...Button) Result {
	return r.Send(ctx, addr, Buttons{Body: body, Buttons: buttons})
}

func (r *Router) SendList(ctx context.Context, addr Address, body, label string, sections ...Section) Result {
	return r.Send(ctx, addr, List{Body: body, Label: label, Sections: sections})
}

func (r *Router) SendPhoto(ctx context.Context, addr Address, path, caption string) Result {
	return r.Send(ctx, addr, Photo{Path: path, Caption: caption})
}

// ManyOptions controls SendMany.
type ManyOptions struct {
	// Delay is the minimum spacing between consecutive sends.
	Delay      time.Duration
	StopOnFail bool
}

// ManyResult is the outcome of a sequence of sends.
type ManyResult struct {
	OK     bool
	Sent   int
	Failed int
	// Last is the result of the last attempted send.
	Last Result
}

// Pacer returns a limiter allowing one send per delay.
func Pacer(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// SendMany sends texts in order, skipping blanks. With StopOnFail it stops
// at the first failure and reports what was sent so far. A list with nothing
// to send is a failure.
func (r *Router) SendMany(ctx context.Context, addr Address, texts []string, opts ManyOptions) ManyResult {
	pending := make([]string, 0, len(texts))
	for _, text := range texts {
		if strings.TrimSpace(text) != "" {
			pending = append(pending, text)
		}
	}
	if len(pending) == 0 {
		return ManyResult{Last: failed(DiagEmptyMessages)}
	}

	pacer := Pacer(opts.Delay)
	out := ManyResult{OK: true, Last: ok()}

	for _, text := range pending {
		if err := pacer.Wait(ctx); err != nil {
			out.OK = false
			out.Last = failed(fmt.Sprintf("interrupted: %v", err))
			return out
		}
		res := r.SendText(ctx, addr, text)
		out.Last = res
		if !res.OK {
			out.OK = false
			out.Failed++
			if opts.StopOnFail {
				return out
			}
			continue
		}
		out.Sent++
	}
	return out
}

// SendChunked splits text into parts of at most maxLen bytes and sends them
// in order, numbering the parts when there is more than one.
func (r *Router) SendChunked(ctx context.Context, addr Address, text string, maxLen int, delay time.Duration) ManyResult {
	parts := Chunk(text, maxLen)
	if len(parts) > 1 {
		for i := range parts {
			parts[i] = fmt.Sprintf("📄 Parte %d/%d\n\n%s", i+1, len(parts), parts[i])
		}
	}
	return r.SendMany(ctx, addr, parts, ManyOptions{Delay: delay, StopOnFail: true})
}

// chunkNewlineSlack is how far past the chunk start a newline must be for
// the chunk to end there instead of at the hard limit.
const chunkNewlineSlack = 500

// Chunk splits text into pieces of at most maxLen bytes, preferring to end a
// piece just after a newline. Pieces never split a UTF-8 sequence.
func Chunk(text string, maxLen int) []string {
	if maxLen <= 0 || len(text) <= maxLen {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := min(start+maxLen, len(text))
		if end < len(text) {
			if nl := strings.LastIndexByte(text[start:end], '\n'); nl > chunkNewlineSlack {
				end = start + nl + 1
			} else {
				for end > start+1 && !utf8.RuneStart(text[end]) {
					end--
				}
			}
		}
		chunks = append(chunks, text[start:end])
		start = end
	}
	return chunks
}

// truncate cuts s to at most maxLen bytes on a rune boundary.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	end := maxLen
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end] + "..."
}

func clipRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
