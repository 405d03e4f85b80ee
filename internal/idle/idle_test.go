package idle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/reportbot/internal/session"
)

type closeRecorder struct {
	mu   sync.Mutex
	keys []string
}

func (r *closeRecorder) onClose(_ context.Context, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
}

func (r *closeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

func readySession(t *testing.T, store *session.Store, key string) {
	t.Helper()
	_, err := store.Patch(key, session.Patch{}.WithConsent(session.ConsentAccepted).WithStep(session.StepReady))
	require.NoError(t, err)
}

func TestFireClosesReadySession(t *testing.T) {
	store := session.NewStore(10, 0)
	rec := &closeRecorder{}
	sup := New(20*time.Millisecond, store, session.NewLocker(), rec.onClose)
	defer sup.Stop()

	readySession(t, store, "a")
	sup.Arm("a")

	assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, session.StepClosed, store.Get("a").Step)
	assert.False(t, sup.Armed("a"))
}

func TestArmTwiceLeavesOneTimer(t *testing.T) {
	store := session.NewStore(10, 0)
	rec := &closeRecorder{}
	sup := New(60*time.Millisecond, store, session.NewLocker(), rec.onClose)
	defer sup.Stop()

	readySession(t, store, "a")
	sup.Arm("a")
	time.Sleep(30 * time.Millisecond)
	sup.Arm("a")
	assert.Equal(t, 1, sup.Len())

	// the first deadline passes without a close because the timer was reset
	time.Sleep(45 * time.Millisecond)
	assert.Equal(t, 0, rec.count())

	assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, rec.count(), "fires exactly once")
}

func TestFireIsNoopUnlessReadyAndAccepted(t *testing.T) {
	store := session.NewStore(10, 0)
	rec := &closeRecorder{}
	sup := New(10*time.Millisecond, store, session.NewLocker(), rec.onClose)
	defer sup.Stop()

	_, err := store.Patch("asking", session.Patch{}.WithStep(session.StepAskConsent))
	require.NoError(t, err)
	_, err = store.Patch("blocked", session.Patch{}.WithStep(session.StepBlocked).WithConsent(session.ConsentDeclined))
	require.NoError(t, err)

	sup.Arm("asking")
	sup.Arm("blocked")
	sup.Arm("unknown")

	assert.Eventually(t, func() bool { return sup.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, rec.count())
	assert.Equal(t, session.StepAskConsent, store.Get("asking").Step)
	assert.Equal(t, session.StepBlocked, store.Get("blocked").Step)
	assert.False(t, store.Exists("unknown"))
}

func TestDisarmCancels(t *testing.T) {
	store := session.NewStore(10, 0)
	rec := &closeRecorder{}
	sup := New(20*time.Millisecond, store, session.NewLocker(), rec.onClose)
	defer sup.Stop()

	readySession(t, store, "a")
	sup.Arm("a")
	sup.Disarm("a")

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
	assert.Equal(t, session.StepReady, store.Get("a").Step)
}

func TestFireWaitsForAddressLock(t *testing.T) {
	store := session.NewStore(10, 0)
	locks := session.NewLocker()
	rec := &closeRecorder{}
	sup := New(30*time.Millisecond, store, locks, rec.onClose)
	defer sup.Stop()

	readySession(t, store, "a")
	unlock := locks.Lock("a")
	sup.Arm("a")
	time.Sleep(50 * time.Millisecond)

	// an event handled under the lock re-arms, so the stale fire must not close
	sup.Arm("a")
	unlock()

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, session.StepReady, store.Get("a").Step)
	assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
}
