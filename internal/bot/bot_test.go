package bot

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/reportbot/internal/config"
	"github.com/roelfdiedericks/reportbot/internal/messaging"
	"github.com/roelfdiedericks/reportbot/internal/store"
)

type recordingBackend struct {
	mu   sync.Mutex
	msgs []messaging.Message
}

func (r *recordingBackend) Kind() messaging.ChannelKind { return messaging.WhatsApp }

func (r *recordingBackend) Deliver(_ context.Context, _ string, msg messaging.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingBackend) last() messaging.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return nil
	}
	return r.msgs[len(r.msgs)-1]
}

const superadmin = "573001110001"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("REPORTBOT_HOME", t.TempDir())
	cfg := config.Default()
	cfg.Access.Superadmins = []string{superadmin}
	cfg.Conversation.IdleCloseMs = 60000
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestWiredBotRunsConsentFlow(t *testing.T) {
	cfg := testConfig(t)
	b, err := New(cfg, "", "test")
	require.NoError(t, err)

	backend := &recordingBackend{}
	b.Router().Register(backend)

	ctx := context.Background()
	from := messaging.Address{Kind: messaging.WhatsApp, Raw: superadmin}

	b.Engine().Handle(ctx, messaging.Inbound{Address: from, Kind: messaging.InboundText, Text: "hola", MessageID: "m1"})
	prompt, ok := backend.last().(messaging.Buttons)
	require.True(t, ok, "consent prompt expected, got %T", backend.last())
	assert.Equal(t, "CONSENT_ACCEPT", prompt.Buttons[0].ID)

	b.Engine().Handle(ctx, messaging.Inbound{Address: from, Kind: messaging.InboundButtonReply, ChoiceID: "CONSENT_ACCEPT", MessageID: "m2"})
	_, isMenu := backend.last().(messaging.List)
	assert.True(t, isMenu, "menu expected after consent, got %T", backend.last())

	accepted, err := b.ledger.HasAccepted(ctx, superadmin)
	require.NoError(t, err)
	assert.True(t, accepted)

	require.NoError(t, b.Close())

	// the audit queue is flushed by Close
	st, err := OpenStore(cfg)
	require.NoError(t, err)
	defer st.Close()
	rows, err := st.RecentInteractions(ctx, superadmin, 20)
	require.NoError(t, err)
	var incoming, outgoing int
	for _, r := range rows {
		switch r.Direction {
		case store.DirectionIncoming:
			incoming++
		case store.DirectionOutgoing:
			outgoing++
		}
	}
	assert.Equal(t, 2, incoming)
	assert.GreaterOrEqual(t, outgoing, 2)
}

func (r *recordingBackend) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.msgs {
		if txt, ok := m.(messaging.Text); ok {
			out = append(out, txt.Body)
		}
	}
	return out
}

func TestCloseWaitsForRunningReport(t *testing.T) {
	cfg := testConfig(t)
	script := filepath.Join(t.TempDir(), "report.sh")
	require.NoError(t, os.WriteFile(script, []byte("sleep 0.3\necho '{\"ok\":true,\"messages\":[\"hecho\"]}'\n"), 0700))
	cfg.Report.Program = "/bin/sh"
	cfg.Report.Script = script
	noDelay := 0
	cfg.Messaging.SendDelayMs = &noDelay

	b, err := New(cfg, "", "test")
	require.NoError(t, err)
	backend := &recordingBackend{}
	b.Router().Register(backend)

	ctx := context.Background()
	from := messaging.Address{Kind: messaging.WhatsApp, Raw: superadmin}
	b.Engine().Enqueue(ctx, messaging.Inbound{Address: from, Kind: messaging.InboundText, Text: "hola", MessageID: "m1"})
	b.Engine().Enqueue(ctx, messaging.Inbound{Address: from, Kind: messaging.InboundButtonReply, ChoiceID: "CONSENT_ACCEPT", MessageID: "m2"})
	b.Engine().Enqueue(ctx, messaging.Inbound{Address: from, Kind: messaging.InboundListReply, ChoiceID: "RP_PALMIRA", MessageID: "m3"})

	require.NoError(t, b.Close())

	// the report finished and the conversation was closed before the store went away
	assert.Contains(t, backend.texts(), "hecho")
	reopen, ok := backend.last().(messaging.Buttons)
	require.True(t, ok, "reopen prompt expected last, got %T", backend.last())
	assert.Equal(t, "REOPEN_FLOW", reopen.Buttons[0].ID)

	st, err := OpenStore(cfg)
	require.NoError(t, err)
	defer st.Close()
	rows, err := st.RecentInteractions(ctx, superadmin, 50)
	require.NoError(t, err)
	var incoming int
	for _, r := range rows {
		if r.Direction == store.DirectionIncoming {
			incoming++
		}
	}
	assert.Equal(t, 3, incoming)
}

func TestRunWithoutChannelsFails(t *testing.T) {
	b, err := New(testConfig(t), "", "test")
	require.NoError(t, err)
	defer b.Close()

	assert.Error(t, b.Run(context.Background()))
}

func TestInvalidSweepScheduleRejected(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sessions.SweepSchedule = "every now and then"
	_, err := New(cfg, "", "test")
	assert.Error(t, err)
}

func TestApplyConfigUpdatesAllowlists(t *testing.T) {
	cfg := testConfig(t)
	b, err := New(cfg, "", "test")
	require.NoError(t, err)
	defer b.Close()

	assert.True(t, b.policy.IsSuperadmin(superadmin))

	next := config.Default()
	next.Access.Superadmins = []string{"573009998888"}
	b.applyConfig(next)

	assert.False(t, b.policy.IsSuperadmin(superadmin))
	assert.True(t, b.policy.IsSuperadmin("573009998888"))
}

func TestRelativeStatePathsLiveUnderHome(t *testing.T) {
	cfg := testConfig(t)
	b, err := New(cfg, "", "test")
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, err = os.Stat(filepath.Join(os.Getenv("REPORTBOT_HOME"), cfg.Store.Path))
	assert.NoError(t, err)
}
