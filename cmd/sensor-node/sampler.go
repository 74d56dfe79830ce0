package main

import (
	"math"
	"math/rand"

	"github.com/MisterPeModder/SensorSensei/internal/app"
)

// sampler produces synthetic environment readings. It stands in for the
// BMP280/SDS011 sensor drivers on boards that lack them, drifting slowly
// around plausible sea-level baselines.
type sampler struct {
	phase float64
}

func newSampler() *sampler {
	return &sampler{phase: rand.Float64() * 2 * math.Pi}
}

func (s *sampler) sample(offset int64) []app.Value {
	s.phase += 0.05
	drift := math.Sin(s.phase)
	temperature := float32(21.0 + 3.0*drift + rand.Float64()*0.2)
	pressure := uint32(101325 + int32(120*drift) + int32(rand.Intn(20)))
	altitude := float32(44330 * (1 - math.Pow(float64(pressure)/101325, 0.1903)))
	dust := float32(math.Max(0, 12.0+4.0*drift+rand.NormFloat64()))
	return []app.Value{
		app.FloatValue(app.ValueTemperature, offset, temperature),
		app.PressureValue(offset, pressure),
		app.FloatValue(app.ValueAltitude, offset, altitude),
		app.FloatValue(app.ValueAirQuality, offset, dust),
	}
}
