//go:build test

package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/blehid/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventPumpPreservesOrder(t *testing.T) {
	// GOAL: Verify events posted from many goroutines are delivered one at a time in posting order per poster
	//
	// TEST SCENARIO: 4 posters × 100 events → handler sees 400 events, each poster's sequence ascending

	var mu sync.Mutex
	seen := map[int][]int{}
	total := 0
	p := newEventPump(func(ev [2]int) {
		mu.Lock()
		defer mu.Unlock()
		seen[ev[0]] = append(seen[ev[0]], ev[1])
		total++
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.run(ctx)

	var wg sync.WaitGroup
	for poster := 0; poster < 4; poster++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				p.post([2]int{id, i})
			}
		}(poster)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return total == 400
	}, time.Second, time.Millisecond, "every posted event MUST be delivered")

	for id, seq := range seen {
		for i, v := range seq {
			assert.Equal(t, i, v, "poster %d events MUST arrive in order", id)
		}
	}
	assert.Zero(t, p.pending())
}

func TestEventPumpPostDoesNotBlock(t *testing.T) {
	// GOAL: Verify posting never blocks while the handler is busy
	//
	// TEST SCENARIO: handler blocked on first event → 1000 further posts return → all queued

	release := make(chan struct{})
	p := newEventPump(func(int) { <-release })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.run(ctx)

	p.post(0)
	require.Eventually(t, func() bool { return p.pending() == 0 }, time.Second, time.Millisecond)

	for i := 1; i <= 1000; i++ {
		p.post(i)
	}
	assert.Equal(t, 1000, p.pending(), "events MUST queue while the handler is busy")
	close(release)
}

func TestUUIDConversion(t *testing.T) {
	// GOAL: Verify 16-bit UUIDs survive both go-ble encodings and custom UUIDs are rejected
	//
	// TEST SCENARIO: UUID16 form, base-expanded 128-bit form, vendor 128-bit form

	u, ok := fromBLEUUID(toBLEUUID(0x1812))
	require.True(t, ok)
	assert.Equal(t, device.UUID16(0x1812), u)

	u, ok = fromBLEUUID(ble.MustParse("00002a22-0000-1000-8000-00805f9b34fb"))
	require.True(t, ok, "base UUID MUST reduce to 16 bits")
	assert.Equal(t, device.UUID16(0x2A22), u)

	_, ok = fromBLEUUID(ble.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e"))
	assert.False(t, ok, "vendor UUID MUST NOT reduce")
}

func TestPropertyConversion(t *testing.T) {
	// GOAL: Verify property bits map both ways
	//
	// TEST SCENARIO: read|write|notify and write-without-response round trip

	for _, p := range []device.Property{
		device.PropRead | device.PropWrite | device.PropNotify,
		device.PropRead | device.PropWriteNoResponse | device.PropWrite,
		device.PropRead | device.PropNotify,
	} {
		assert.Equal(t, p, fromBLEProperty(toBLEProperty(p)), "property %s MUST round trip", p)
	}
	assert.Equal(t, ble.CharRead|ble.CharNotify, toBLEProperty(device.PropRead|device.PropNotify))
}

func TestNormalizeError(t *testing.T) {
	// GOAL: Verify go-ble errors map to device sentinels
	//
	// TEST SCENARIO: table of platform messages → sentinel, unknown error → unchanged

	tests := []struct {
		msg  string
		want error
	}{
		{"central manager has invalid state: have=4 want=5: is Bluetooth turned on?", device.ErrBluetoothOff},
		{"can't init hci: no devices available: (hci0: can't down device: operation not permitted)", device.ErrBluetoothOff},
		{"device not connected", device.ErrNotConnected},
		{"device already connected", device.ErrAlreadyConnected},
		{"connection is not initialized", device.ErrNotInitialized},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := NormalizeError(errors.New(tt.msg))
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), tt.msg, "original error MUST stay in the message")
		})
	}

	other := errors.New("something else")
	assert.Same(t, other, NormalizeError(other))
	assert.NoError(t, NormalizeError(nil))
}

func TestStatusOf(t *testing.T) {
	// GOAL: Verify blocking go-ble outcomes become ATT statuses
	//
	// TEST SCENARIO: nil → ok, wrapped ATT error → its code, cancelled → connection cancelled, other → error

	assert.Equal(t, device.StatusOK, statusOf(nil))
	assert.Equal(t, device.StatusAttributeNotFound, statusOf(fmt.Errorf("discover: %w", ble.ErrAttrNotFound)))
	assert.Equal(t, device.StatusConnectionCancelled, statusOf(context.DeadlineExceeded))
	assert.Equal(t, device.StatusError, statusOf(errors.New("boom")))
	assert.True(t, isCancelled(fmt.Errorf("scan: %w", context.Canceled)))
}
