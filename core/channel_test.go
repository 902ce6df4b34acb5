package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/mesh-metering-simulator/model"
)

func TestStaticChannelIsUndirected(t *testing.T) {
	ch := NewStaticChannel()
	ch.Default = 0.05
	ch.Set(4, 2, 0.3)
	if v := ch.Transmission(2, 4, nil); v != 0.3 {
		t.Fatalf("Transmission(2,4) = %v, want 0.3", v)
	}
	if v := ch.Transmission(1, 2, nil); v != 0.05 {
		t.Fatalf("default = %v, want 0.05", v)
	}
}

func TestFrameErrorProbability(t *testing.T) {
	cases := []struct {
		ber  float64
		bits int
		want float64
	}{
		{0, 800, 0},
		{-1, 800, 0},
		{1, 8, 1},
		{0.5, 1, 0.5},
		{0.5, 2, 0.75},
	}
	for _, tc := range cases {
		got := FrameErrorProbability(tc.ber, tc.bits)
		if math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("FrameErrorProbability(%v,%d) = %v, want %v", tc.ber, tc.bits, got, tc.want)
		}
	}
}

func TestBERChannelDeterministicPerSeed(t *testing.T) {
	msg, _ := model.NewRequest([]model.Address{0, 1}, 4)
	draw := func(seed uint64) []float64 {
		c := NewBERChannel(seed)
		c.SetBER(0, 1, 0.002)
		out := make([]float64, 50)
		for i := range out {
			out[i] = c.Transmission(0, 1, msg)
		}
		return out
	}
	a, b := draw(11), draw(11)
	lost := 0
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("draw %d differs between equal seeds: %v vs %v", i, a[i], b[i])
		}
		if a[i] == model.CorruptedSignal {
			lost++
			continue
		}
		if !model.ValidQuality(a[i]) {
			t.Fatalf("draw %d = %v is not a valid estimate", i, a[i])
		}
	}
	if lost == 0 || lost == len(a) {
		t.Fatalf("lost %d of %d frames; expected a mix", lost, len(a))
	}
}

func TestBERChannelUnknownAndPerfectLinks(t *testing.T) {
	c := NewBERChannel(1)
	c.SetBER(0, 1, 0)
	if v := c.Transmission(1, 0, nil); v != 0 {
		t.Fatalf("error-free link = %v, want 0", v)
	}
	if v := c.Transmission(0, 2, nil); v != model.CorruptedSignal {
		t.Fatalf("unknown link = %v, want corrupted", v)
	}
}
