package channels

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/reportbot/internal/messaging"
)

type fakeChannel struct {
	kind     messaging.ChannelKind
	handler  InboundHandler
	startErr error

	mu        sync.Mutex
	running   bool
	delivered []string
}

func (f *fakeChannel) Kind() messaging.ChannelKind { return f.kind }
func (f *fakeChannel) Name() string                { return string(f.kind) }

func (f *fakeChannel) Deliver(_ context.Context, raw string, msg messaging.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, raw+":"+messaging.Summary(msg))
	return nil
}

func (f *fakeChannel) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Stop() error {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Status() ChannelStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ChannelStatus{Running: f.running, Connected: f.running}
}

func TestStartAllRegistersBackends(t *testing.T) {
	router := messaging.NewRouter()
	var got []messaging.Inbound
	m := NewManager(router, func(_ context.Context, in messaging.Inbound) {
		got = append(got, in)
	})

	ch := &fakeChannel{kind: messaging.Telegram}
	m.Add("telegram", func(h InboundHandler) (ManagedChannel, error) {
		ch.handler = h
		return ch, nil
	})
	require.NoError(t, m.StartAll(context.Background()))

	res := router.SendText(context.Background(), messaging.Address{Kind: messaging.Telegram, Raw: "42"}, "hola")
	assert.True(t, res.OK)
	assert.Equal(t, []string{"42:hola"}, ch.delivered)

	ch.handler(context.Background(), messaging.Inbound{Text: "menu"})
	require.Len(t, got, 1)
	assert.Equal(t, "menu", got[0].Text)

	assert.True(t, m.Statuses()["telegram"].Running)

	m.StopAll()
	assert.False(t, ch.Status().Running)
	assert.Nil(t, m.Get("telegram"))
	res = router.SendText(context.Background(), messaging.Address{Kind: messaging.Telegram, Raw: "42"}, "adios")
	assert.False(t, res.OK)
}

func TestStartAllWithoutChannels(t *testing.T) {
	m := NewManager(messaging.NewRouter(), nil)
	assert.Error(t, m.StartAll(context.Background()))
}

func TestFailedStartIsRetried(t *testing.T) {
	m := NewManager(messaging.NewRouter(), nil)
	m.retryBackoff = 5 * time.Millisecond
	m.maxBackoff = 10 * time.Millisecond

	var attempts atomic.Int32
	m.Add("whatsapp", func(InboundHandler) (ManagedChannel, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("not paired")
		}
		return &fakeChannel{kind: messaging.WhatsApp}, nil
	})

	require.NoError(t, m.StartAll(context.Background()))
	assert.False(t, m.Statuses()["whatsapp"].Running)

	require.Eventually(t, func() bool {
		return m.Get("whatsapp") != nil
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, attempts.Load(), int32(3))
	m.StopAll()
}

func TestStopAllCancelsRetry(t *testing.T) {
	m := NewManager(messaging.NewRouter(), nil)
	m.retryBackoff = 5 * time.Millisecond
	m.maxBackoff = 5 * time.Millisecond

	var attempts atomic.Int32
	m.Add("telegram", func(InboundHandler) (ManagedChannel, error) {
		attempts.Add(1)
		return nil, errors.New("bad token")
	})
	require.NoError(t, m.StartAll(context.Background()))
	m.StopAll()

	time.Sleep(30 * time.Millisecond)
	settled := attempts.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, attempts.Load())
	assert.Equal(t, []string{"telegram"}, m.Names())
}
