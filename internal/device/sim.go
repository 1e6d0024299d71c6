package device

import (
	"math"
	"math/rand"

	"rpiweatherd/internal/model"
)

// Sim produces a slow random walk of plausible indoor readings.
type Sim struct {
	rng         *rand.Rand
	temperature float64
	humidity    float64
}

// NewSimulated seeds a Sim; the same seed yields the same sequence.
func NewSimulated(seed int64) *Sim {
	return &Sim{rng: rand.New(rand.NewSource(seed)), temperature: 21, humidity: 45}
}

func (s *Sim) Name() string { return Simulated }
func (s *Sim) Test() bool   { return true }

func (s *Sim) Query() (model.Reading, Status) {
	s.temperature = clamp(s.temperature+s.rng.NormFloat64()*0.2, -20, 45)
	s.humidity = clamp(s.humidity+s.rng.NormFloat64()*0.5, 5, 95)
	return model.NewReading(round1(s.temperature), round1(s.humidity)), Success
}

func clamp(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }
func round1(v float64) float64        { return math.Round(v*10) / 10 }
