package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	raw string
	msg Message
	at  time.Time
}

type fakeBackend struct {
	kind   ChannelKind
	mu     sync.Mutex
	sent   []sent
	failOn func(msg Message) error
}

func (f *fakeBackend) Kind() ChannelKind { return f.kind }

func (f *fakeBackend) Deliver(_ context.Context, raw string, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{raw: raw, msg: msg, at: time.Now()})
	if f.failOn != nil {
		return f.failOn(msg)
	}
	return nil
}

func (f *fakeBackend) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		out = append(out, Summary(s.msg))
	}
	return out
}

func newRouter(backends ...*fakeBackend) *Router {
	r := NewRouter()
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

func TestParseAddress(t *testing.T) {
	assert.Equal(t, Address{Kind: Telegram, Raw: "12345"}, ParseAddress("tg_12345"))
	assert.Equal(t, Address{Kind: WhatsApp, Raw: "573001112233"}, ParseAddress(" +57 300 111 2233 "))
	assert.Equal(t, "tg_12345", Address{Kind: Telegram, Raw: "12345"}.Key())
	assert.Equal(t, "573001112233", NormalizeKey("+573001112233"))
}

func TestRouteByChannel(t *testing.T) {
	wa := &fakeBackend{kind: WhatsApp}
	tg := &fakeBackend{kind: Telegram}
	r := newRouter(wa, tg)
	ctx := context.Background()

	assert.True(t, r.SendText(ctx, ParseAddress("tg_9"), "hola tg").OK)
	assert.True(t, r.SendText(ctx, ParseAddress("573001112233"), "hola wa").OK)
	assert.True(t, r.SendText(ctx, Address{Raw: "5730"}, "default").OK)

	assert.Equal(t, []string{"hola tg"}, tg.texts())
	assert.Equal(t, []string{"hola wa", "default"}, wa.texts())
	assert.Equal(t, "9", tg.sent[0].raw)
}

func TestSendFailureIsAResult(t *testing.T) {
	wa := &fakeBackend{kind: WhatsApp, failOn: func(Message) error { return errors.New("boom") }}
	r := newRouter(wa)

	res := r.SendText(context.Background(), ParseAddress("1"), "x")
	assert.False(t, res.OK)
	assert.Contains(t, res.Diagnostic, "boom")

	res = r.SendText(context.Background(), ParseAddress("tg_1"), "x")
	assert.False(t, res.OK, "no telegram backend registered")
}

func TestButtonLimitEnforced(t *testing.T) {
	wa := &fakeBackend{kind: WhatsApp}
	r := newRouter(wa)

	res := r.SendButtons(context.Background(), ParseAddress("1"), "pick",
		Button{ID: "A", Title: "a"}, Button{ID: "B", Title: "b"},
		Button{ID: "C", Title: "c"}, Button{ID: "D", Title: "this title is far too long for a button"})
	require.True(t, res.OK)

	got := wa.sent[0].msg.(Buttons)
	assert.Len(t, got.Buttons, MaxButtons)
	assert.Equal(t, "C", got.Buttons[2].ID)

	res = r.SendButtons(context.Background(), ParseAddress("1"), "none")
	assert.False(t, res.OK)
}

func TestSendManyOrderAndDelay(t *testing.T) {
	wa := &fakeBackend{kind: WhatsApp}
	r := newRouter(wa)

	res := r.SendMany(context.Background(), ParseAddress("1"), []string{"A", "", "B", "C"},
		ManyOptions{Delay: 20 * time.Millisecond, StopOnFail: true})

	assert.True(t, res.OK)
	assert.Equal(t, 3, res.Sent)
	assert.Equal(t, []string{"A", "B", "C"}, wa.texts())
	for i := 1; i < len(wa.sent); i++ {
		gap := wa.sent[i].at.Sub(wa.sent[i-1].at)
		assert.GreaterOrEqual(t, gap, 15*time.Millisecond)
	}
}

func TestSendManyStopOnFail(t *testing.T) {
	wa := &fakeBackend{kind: WhatsApp, failOn: func(m Message) error {
		if Summary(m) == "B" {
			return errors.New("rate limited")
		}
		return nil
	}}
	r := newRouter(wa)

	res := r.SendMany(context.Background(), ParseAddress("1"), []string{"A", "B", "C"},
		ManyOptions{StopOnFail: true})
	assert.False(t, res.OK)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"A", "B"}, wa.texts(), "C is never attempted")

	wa.sent = nil
	res = r.SendMany(context.Background(), ParseAddress("1"), []string{"A", "B", "C"},
		ManyOptions{StopOnFail: false})
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, []string{"A", "B", "C"}, wa.texts())
}

func TestSendManyNothingToSend(t *testing.T) {
	wa := &fakeBackend{kind: WhatsApp}
	r := newRouter(wa)

	for _, texts := range [][]string{nil, {}, {"", "  ", "\n\t"}} {
		res := r.SendMany(context.Background(), ParseAddress("1"), texts, ManyOptions{})
		assert.False(t, res.OK)
		assert.Zero(t, res.Sent)
		assert.Equal(t, DiagEmptyMessages, res.Last.Diagnostic)
	}
	assert.Empty(t, wa.texts())
}

func TestTruncateKeepsRunes(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))

	// "ñ" is two bytes; a cut at byte 3 would split the second one
	got := truncate("ññññ", 3)
	assert.Equal(t, "ñ...", got)
	assert.True(t, utf8.ValidString(got))

	diag := strings.Repeat("é", maxDiagnostic)
	got = truncate(diag, maxDiagnostic-1)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), maxDiagnostic-1+len("..."))
}

func TestChunkPrefersNewline(t *testing.T) {
	line := strings.Repeat("x", 99) + "\n"
	text := strings.Repeat(line, 30) // 3000 bytes

	chunks := Chunk(text, 1050)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 1050)
		assert.True(t, strings.HasSuffix(c, "\n"))
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestChunkHardCutKeepsRunes(t *testing.T) {
	text := strings.Repeat("ñ", 1000) // 2000 bytes, no newlines
	chunks := Chunk(text, 701)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c))
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestSendChunkedNumbersParts(t *testing.T) {
	wa := &fakeBackend{kind: WhatsApp}
	r := newRouter(wa)

	text := strings.Repeat(strings.Repeat("y", 599)+"\n", 3)
	res := r.SendChunked(context.Background(), ParseAddress("1"), text, 700, 0)
	require.True(t, res.OK)

	got := wa.texts()
	require.Len(t, got, 3)
	assert.True(t, strings.HasPrefix(got[0], "📄 Parte 1/3\n\n"))
	assert.True(t, strings.HasPrefix(got[2], "📄 Parte 3/3\n\n"))

	wa.sent = nil
	r.SendChunked(context.Background(), ParseAddress("1"), "short", 700, 0)
	assert.Equal(t, []string{"short"}, wa.texts())
}

func TestObserverSeesEverySend(t *testing.T) {
	wa := &fakeBackend{kind: WhatsApp}
	r := newRouter(wa)
	var seen []Result
	r.Observe(func(_ Address, _ Message, res Result) { seen = append(seen, res) })

	r.SendText(context.Background(), ParseAddress("1"), "a")
	r.SendText(context.Background(), ParseAddress("1"), " ")
	require.Len(t, seen, 2)
	assert.True(t, seen[0].OK)
	assert.False(t, seen[1].OK)
}

func TestUnknownChannelUsesDefaultBackend(t *testing.T) {
	wa := &fakeBackend{kind: WhatsApp}
	r := newRouter(wa)

	res := r.SendText(context.Background(), Address{Kind: "sms", Raw: "573001112233"}, "hola")
	require.True(t, res.OK)
	assert.Equal(t, []string{"hola"}, wa.texts())

	tgOnly := NewRouter()
	res = tgOnly.SendText(context.Background(), ParseAddress("tg_1"), "hola")
	assert.False(t, res.OK)
}
