package auction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAlarmFiresOnce(t *testing.T) {
	var a Alarm
	fired := make(chan struct{}, 2)

	a.Set(10*time.Millisecond, func() { fired <- struct{}{} })
	require.True(t, a.Armed())

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("alarm did not fire")
	}

	select {
	case <-fired:
		t.Fatal("alarm fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAlarmCancel(t *testing.T) {
	var a Alarm
	fired := make(chan struct{}, 1)

	a.Set(20*time.Millisecond, func() { fired <- struct{}{} })
	a.Cancel()
	require.False(t, a.Armed())

	select {
	case <-fired:
		t.Fatal("cancelled alarm fired")
	case <-time.After(100 * time.Millisecond):
	}

	// Cancelling again is a no-op.
	a.Cancel()
}

func TestAlarmSetReplaces(t *testing.T) {
	var a Alarm
	first := make(chan struct{}, 1)
	second := make(chan struct{}, 1)

	a.Set(time.Hour, func() { first <- struct{}{} })
	a.Set(10*time.Millisecond, func() { second <- struct{}{} })

	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("replacement alarm did not fire")
	}
	select {
	case <-first:
		t.Fatal("replaced alarm fired")
	default:
	}
}
