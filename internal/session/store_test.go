package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCreatesDefaults(t *testing.T) {
	s := NewStore(10, time.Hour)

	assert.False(t, s.Exists("573001112233"))
	got := s.Get("573001112233")
	assert.Equal(t, StepNew, got.Step)
	assert.Equal(t, ConsentNone, got.Consent)
	assert.True(t, s.Exists("573001112233"))
	assert.Equal(t, 1, s.Count())
}

func TestPatchMergesFields(t *testing.T) {
	now := time.Unix(100, 0)
	s := NewStore(10, time.Hour)
	s.now = func() time.Time { return now }

	_, err := s.Patch("tg_42", Patch{}.WithName("Ana"))
	require.NoError(t, err)

	now = now.Add(time.Second)
	got, err := s.Patch("tg_42", Patch{}.WithConsent(ConsentAccepted).WithStep(StepReady))
	require.NoError(t, err)

	assert.Equal(t, "Ana", got.Name, "unpatched fields are kept")
	assert.Equal(t, StepReady, got.Step)
	assert.Equal(t, ConsentAccepted, got.Consent)
	assert.Equal(t, now, got.UpdatedAt)
}

func TestPatchRejectsInvariantViolations(t *testing.T) {
	s := NewStore(10, time.Hour)

	got, err := s.Patch("a", Patch{}.WithStep(StepReady))
	assert.ErrorIs(t, err, ErrInvariant)
	assert.Equal(t, StepNew, got.Step)
	assert.Equal(t, StepNew, s.Get("a").Step)

	_, err = s.Patch("a", Patch{}.WithStep(StepBlocked).WithConsent(ConsentAccepted))
	assert.ErrorIs(t, err, ErrInvariant)

	_, err = s.Patch("a", Patch{}.WithStep(StepBlocked).WithConsent(ConsentDeclined))
	assert.NoError(t, err)
}

func TestLookupDoesNotCreate(t *testing.T) {
	s := NewStore(10, time.Hour)
	_, ok := s.Lookup("missing")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Count())
}

func TestLRUEviction(t *testing.T) {
	s := NewStore(2, time.Hour)
	s.Get("a")
	s.Get("b")
	s.Get("a") // a is now most recent
	s.Get("c")

	assert.True(t, s.Exists("a"))
	assert.False(t, s.Exists("b"))
	assert.True(t, s.Exists("c"))
	assert.Equal(t, 2, s.Count())
}

func TestSweepDropsIdleSessions(t *testing.T) {
	now := time.Unix(0, 0)
	s := NewStore(10, time.Minute)
	s.now = func() time.Time { return now }

	s.Get("old")
	now = now.Add(2 * time.Minute)
	s.Get("fresh")

	assert.Equal(t, 1, s.Sweep())
	assert.False(t, s.Exists("old"))
	assert.True(t, s.Exists("fresh"))
}

func TestLockerSerializesPerKey(t *testing.T) {
	l := NewLocker()
	var mu sync.Mutex
	active, maxActive := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("same")
			defer unlock()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
	assert.Equal(t, 0, l.Len(), "released keys are forgotten")
}

func TestLockerIndependentKeys(t *testing.T) {
	l := NewLocker()
	unlockA := l.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := l.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}
