package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AnarchoFatSats/comercial-mva/pkg/leads"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestManager_DoAndDiscard(t *testing.T) {
	m := NewManager(time.Hour)
	st := m.Start(testFunnel(t), leads.Tracking{})
	assert.Equal(t, "step-1", st.CurrentStepID)
	assert.Equal(t, 1, m.Len())

	err := m.Do(st.ID, func(s *FormSession) error {
		_, err := s.SubmitAnswer("vehicle_type", "unsure", "")
		return err
	})
	require.NoError(t, err)

	err = m.Do(st.ID, func(s *FormSession) error {
		assert.Equal(t, "step-1b", s.State().CurrentStepID)
		m.Discard(s.ID())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())

	err = m.Do(st.ID, func(*FormSession) error { return nil })
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.Do("nope", func(*FormSession) error { return nil }), ErrSessionNotFound)
}

func TestManager_SerializesPerSession(t *testing.T) {
	m := NewManager(time.Hour)
	st := m.Start(testFunnel(t), leads.Tracking{})

	var wg sync.WaitGroup
	ok := make(chan struct{}, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Do(st.ID, func(s *FormSession) error {
				_, err := s.SubmitAnswer("vehicle_type", "delivery", "")
				return err
			})
			if err == nil {
				ok <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(ok)

	// Only the first answer applies; the rest hit the capture step.
	n := 0
	for range ok {
		n++
	}
	assert.Equal(t, 1, n)
	require.NoError(t, m.Do(st.ID, func(s *FormSession) error {
		assert.Len(t, s.State().Answers, 1)
		return nil
	}))
}

func TestManager_Sweep(t *testing.T) {
	clk := &fakeClock{now: fixedNow}
	m := NewManager(30 * time.Minute).WithClock(clk.Now)
	f := testFunnel(t)

	idle := m.Start(f, leads.Tracking{})
	clk.Advance(20 * time.Minute)
	active := m.Start(f, leads.Tracking{})
	clk.Advance(15 * time.Minute)
	require.NoError(t, m.Do(active.ID, func(*FormSession) error { return nil }))

	assert.Equal(t, 1, m.Sweep())
	assert.ErrorIs(t, m.Do(idle.ID, func(*FormSession) error { return nil }), ErrSessionNotFound)
	assert.NoError(t, m.Do(active.ID, func(*FormSession) error { return nil }))
	assert.Equal(t, 0, m.Sweep())
}

func TestManager_RunSweeperStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := NewManager(time.Nanosecond)
	m.Start(testFunnel(t), leads.Tracking{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, time.Millisecond)
	cancel()
	<-done
}
