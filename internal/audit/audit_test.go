package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/reportbot/internal/messaging"
	"github.com/roelfdiedericks/reportbot/internal/store"
)

type memSink struct {
	mu      sync.Mutex
	entries []store.Interaction
	block   chan struct{}
	err     error
}

func (m *memSink) AppendInteraction(_ context.Context, e *store.Interaction) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return m.err
}

func TestRecordsIncomingAndOutgoing(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(sink, 10)

	addr := messaging.ParseAddress("tg_5")
	r.Incoming(messaging.Inbound{Address: addr, Kind: messaging.InboundButtonReply, ChoiceID: "CONSENT_ACCEPT"})
	r.Outgoing(addr, messaging.Text{Body: "hola"}, messaging.Result{OK: false, Diagnostic: "timeout"})
	r.Close()

	require.Len(t, sink.entries, 2)
	assert.Equal(t, store.DirectionIncoming, sink.entries[0].Direction)
	assert.Equal(t, "CONSENT_ACCEPT", sink.entries[0].Content)
	assert.Equal(t, "tg_5", sink.entries[0].Address)
	assert.Equal(t, "telegram", sink.entries[0].Channel)

	assert.Equal(t, store.DirectionOutgoing, sink.entries[1].Direction)
	assert.False(t, sink.entries[1].OK)
	assert.Contains(t, sink.entries[1].Content, "timeout")
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	sink := &memSink{block: make(chan struct{})}
	r := NewRecorder(sink, 1)

	addr := messaging.ParseAddress("1")
	for i := 0; i < 5; i++ {
		r.Outgoing(addr, messaging.Text{Body: "x"}, messaging.Result{OK: true})
	}
	assert.GreaterOrEqual(t, r.Dropped(), int64(3))

	close(sink.block)
	r.Close()
}

func TestSinkErrorsAreSwallowed(t *testing.T) {
	sink := &memSink{err: errors.New("disk full")}
	r := NewRecorder(sink, 4)
	r.Incoming(messaging.Inbound{Address: messaging.ParseAddress("1"), Kind: messaging.InboundText, Text: "hola"})
	r.Close()
	assert.Len(t, sink.entries, 1)

	// records after Close are dropped, not panics
	r.Incoming(messaging.Inbound{Address: messaging.ParseAddress("1"), Kind: messaging.InboundText, Text: "late"})
	assert.Equal(t, int64(1), r.Dropped())
}
