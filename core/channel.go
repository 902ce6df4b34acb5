package core

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/signalsfoundry/mesh-metering-simulator/model"
)

// Channel is the ground-truth radio model. Transmission returns the error
// estimate a receiver derives from a frame sent over src->dst, or
// model.CorruptedSignal when the frame was lost.
type Channel interface {
	Transmission(src, dst model.Address, msg *model.Message) float64
}

type linkKey struct{ a, b model.Address }

func keyOf(a, b model.Address) linkKey {
	if a > b {
		a, b = b, a
	}
	return linkKey{a: a, b: b}
}

// StaticChannel returns a fixed value per link. Links without a value use
// Default.
type StaticChannel struct {
	mu      sync.RWMutex
	values  map[linkKey]float64
	Default float64
}

// NewStaticChannel returns a channel where every link is error free unless
// set otherwise.
func NewStaticChannel() *StaticChannel {
	return &StaticChannel{values: make(map[linkKey]float64)}
}

// Set fixes the value returned for the undirected link a-b.
func (c *StaticChannel) Set(a, b model.Address, v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[keyOf(a, b)] = v
}

func (c *StaticChannel) Transmission(src, dst model.Address, _ *model.Message) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.values[keyOf(src, dst)]; ok {
		return v
	}
	return c.Default
}

// BERChannel draws frame losses from per-link bit error rates. The error
// estimate reported for a decoded frame is its loss probability, rounded so
// that a stable link keeps reporting the same value.
type BERChannel struct {
	mu  sync.Mutex
	ber map[linkKey]float64
	rng *rand.Rand
}

// NewBERChannel seeds a channel model; equal seeds replay equal runs.
func NewBERChannel(seed uint64) *BERChannel {
	return &BERChannel{
		ber: make(map[linkKey]float64),
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// SetBER sets the bit error rate of the undirected link a-b.
func (c *BERChannel) SetBER(a, b model.Address, ber float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ber[keyOf(a, b)] = ber
}

// FrameErrorProbability is the probability that at least one of bits is
// flipped at the given bit error rate.
func FrameErrorProbability(ber float64, bits int) float64 {
	if ber <= 0 {
		return 0
	}
	if ber >= 1 {
		return 1
	}
	return 1 - math.Pow(1-ber, float64(bits))
}

func (c *BERChannel) Transmission(src, dst model.Address, msg *model.Message) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ber, ok := c.ber[keyOf(src, dst)]
	if !ok {
		return model.CorruptedSignal
	}
	bits := 0
	if msg != nil {
		bits = msg.Bits()
	}
	p := FrameErrorProbability(ber, bits)
	if c.rng.Float64() < p {
		return model.CorruptedSignal
	}
	return math.Round(p*1000) / 1000
}
