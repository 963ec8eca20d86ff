package netmon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEdgeFiresOncePerTransition(t *testing.T) {
	m := New(nil, time.Minute)

	m.SetOnline(true)
	select {
	case <-m.Online():
	default:
		t.Fatal("expected latched online signal")
	}

	// Stable connection: repeated online signals must not re-fire.
	m.SetOnline(true)
	m.SetOnline(true)
	select {
	case <-m.Online():
		t.Fatal("unexpected signal for stable connection")
	default:
	}

	m.SetOnline(false)
	m.SetOnline(true)
	select {
	case <-m.Online():
	default:
		t.Fatal("expected signal after offline->online transition")
	}
}

func TestEdgeIsLatchedNotLost(t *testing.T) {
	m := New(nil, time.Minute)

	// Transition happens while the engine is busy; nobody is receiving.
	m.SetOnline(true)
	m.SetOnline(false)
	m.SetOnline(true)

	// The signal is still there when the engine gets around to it.
	select {
	case <-m.Online():
	case <-time.After(time.Second):
		t.Fatal("latched signal was lost")
	}
}

func TestStatusTransitions(t *testing.T) {
	m := New(nil, time.Minute)
	assert.Equal(t, StatusUnknown, m.Status())

	m.SetOnline(false)
	assert.Equal(t, StatusOffline, m.Status())
	assert.False(t, m.IsOnline())

	m.SetOnline(true)
	assert.Equal(t, StatusOnline, m.Status())
	assert.True(t, m.IsOnline())
}

func TestProbeLoopDrivesState(t *testing.T) {
	var healthy atomic.Bool
	probe := func(ctx context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("unreachable")
	}

	m := New(probe, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	require.Eventually(t, func() bool { return m.Status() == StatusOffline },
		time.Second, 5*time.Millisecond)

	healthy.Store(true)
	require.Eventually(t, m.IsOnline, time.Second, 5*time.Millisecond)

	select {
	case <-m.Online():
	case <-time.After(time.Second):
		t.Fatal("probe recovery did not latch the online edge")
	}
}
