package acquisition

import (
	"errors"
	"testing"

	"github.com/roman-kulish/vibrometry/internal/faults"
	"github.com/roman-kulish/vibrometry/internal/vibrometer"
)

var testChannels = []vibrometer.ChannelDescriptor{
	{Type: vibrometer.ChannelVelocity, ID: 1, Unit: "m/s", ScaleFactor: 1e-6},
	{Type: vibrometer.ChannelRSSI, ID: 2, Unit: "dB", ScaleFactor: 0.01},
	{Type: vibrometer.ChannelTrigger, ID: 3, Unit: vibrometer.BooleanUnit, ScaleFactor: 1},
}

func TestAllocate_Shapes(t *testing.T) {
	testCases := []struct {
		name       string
		blockCount int
		blockSize  int
		rate, base float64
		velocity   [2]int
		rssi       [2]int
	}{
		{"rate 200 base 100", 4, 100, 200, 100, [2]int{4, 200}, [2]int{4, 100}},
		{"equal rates", 2, 64, 100, 100, [2]int{2, 64}, [2]int{2, 64}},
		{"factor 8", 1, 10, 800, 100, [2]int{1, 80}, [2]int{1, 10}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := Allocate(testChannels, tc.blockCount, tc.blockSize, vibrometer.FrequencyFactor(tc.rate, tc.base))
			if err != nil {
				t.Fatalf("Allocate: %v", err)
			}

			vel, ok := buf.Channel("Velocity")
			if !ok {
				t.Fatal("missing Velocity channel")
			}
			if rows, cols := vel.Shape(); rows != tc.velocity[0] || cols != tc.velocity[1] {
				t.Errorf("Velocity shape (%d,%d), want %v", rows, cols, tc.velocity)
			}
			if !vel.HasOverrange() || len(vel.Overrange) != tc.blockCount || len(vel.Overrange[0]) != tc.velocity[1] {
				t.Errorf("Velocity overrange not shaped like samples")
			}

			rssi, _ := buf.Channel("RSSI")
			if rows, cols := rssi.Shape(); rows != tc.rssi[0] || cols != tc.rssi[1] {
				t.Errorf("RSSI shape (%d,%d), want %v", rows, cols, tc.rssi)
			}
			if rssi.HasOverrange() {
				t.Error("RSSI must not carry overrange")
			}

			trig, _ := buf.Channel("Trigger")
			if trig.Bools == nil || trig.Int32s != nil {
				t.Error("Trigger should be a boolean buffer")
			}
		})
	}
}

func TestAllocate_Rejects(t *testing.T) {
	ff := vibrometer.FrequencyFactor(200, 100)

	testCases := []struct {
		name       string
		channels   []vibrometer.ChannelDescriptor
		blockCount int
		blockSize  int
		ff         func(vibrometer.ChannelDescriptor) int
	}{
		{"zero block count", testChannels, 0, 100, ff},
		{"negative block size", testChannels, 1, -1, ff},
		{"no channels", nil, 1, 100, ff},
		{"factor below one", testChannels, 1, 100, vibrometer.FrequencyFactor(50, 100)},
		{"duplicate channel", append([]vibrometer.ChannelDescriptor{testChannels[0]}, testChannels[0]), 1, 100, ff},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Allocate(tc.channels, tc.blockCount, tc.blockSize, tc.ff)
			if !errors.Is(err, faults.ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestChannelBuffer_Store(t *testing.T) {
	buf, err := Allocate(testChannels, 2, 4, vibrometer.FrequencyFactor(200, 100))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	vel, _ := buf.Channel("Velocity")
	if err = vel.store(1, 2*vel.FreqFactor, []int32{5, 6, 7, 8}, []bool{false, true, false, false}); err != nil {
		t.Fatalf("store: %v", err)
	}
	want := []int32{0, 0, 0, 0, 5, 6, 7, 8}
	for i, v := range want {
		if vel.Int32s[1][i] != v {
			t.Fatalf("block 1 = %v, want %v", vel.Int32s[1], want)
		}
	}
	if !vel.Overrange[1][5] || vel.Overrange[1][4] {
		t.Errorf("overrange = %v", vel.Overrange[1])
	}
	for _, v := range vel.Int32s[0] {
		if v != 0 {
			t.Fatalf("block 0 modified: %v", vel.Int32s[0])
		}
	}

	trig, _ := buf.Channel("Trigger")
	if err = trig.store(0, 0, []int32{0, 1}, nil); err != nil {
		t.Fatalf("store: %v", err)
	}
	if trig.Bools[0][0] || !trig.Bools[0][1] {
		t.Errorf("trigger = %v", trig.Bools[0])
	}

	if err = vel.store(0, 6, []int32{1, 2, 3}, nil); !errors.Is(err, faults.ErrDataIntegrity) {
		t.Errorf("expected ErrDataIntegrity for overflow, got %v", err)
	}
}

func TestBuffer_SizeBytes(t *testing.T) {
	buf, err := Allocate(testChannels, 4, 100, vibrometer.FrequencyFactor(200, 100))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	// Velocity 4x200 int32 + overrange, RSSI 4x100 int32, Trigger 4x200 bool.
	want := uint64(4*200*4 + 4*200 + 4*100*4 + 4*200)
	if got := buf.SizeBytes(); got != want {
		t.Errorf("SizeBytes = %d, want %d", got, want)
	}
}
