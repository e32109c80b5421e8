package daemon_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/owlmail/owlmail/pkg/daemon"
)

func TestDebouncerCoalescesBurst(t *testing.T) {
	var fired atomic.Int32
	d := daemon.NewDebouncer(20*time.Millisecond, func() { fired.Add(1) })

	for i := 0; i < 10; i++ {
		d.Trigger()
		time.Sleep(time.Millisecond)
	}
	assert.Eventually(t, func() bool { return fired.Load() == 1 },
		time.Second, 5*time.Millisecond)

	// Stays at one without further triggers.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestDebouncerFiresAgainAfterQuiet(t *testing.T) {
	var fired atomic.Int32
	d := daemon.NewDebouncer(10*time.Millisecond, func() { fired.Add(1) })

	d.Trigger()
	assert.Eventually(t, func() bool { return fired.Load() == 1 },
		time.Second, 5*time.Millisecond)

	d.Trigger()
	assert.Eventually(t, func() bool { return fired.Load() == 2 },
		time.Second, 5*time.Millisecond)
}

func TestDebouncerStop(t *testing.T) {
	var fired atomic.Int32
	d := daemon.NewDebouncer(20*time.Millisecond, func() { fired.Add(1) })
	d.Trigger()
	d.Stop()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	// Triggers after Stop are ignored.
	d.Trigger()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}
