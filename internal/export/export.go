// Package export pushes sensor readings to external collectors. A Runner
// subscribes to the hub, batches points, and hands each batch to every
// configured exporter. Export failures are logged and counted; points are
// not retried, the next batch carries fresh data.
package export

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/MisterPeModder/SensorSensei/internal/app"
	"github.com/MisterPeModder/SensorSensei/internal/hub"
	"github.com/MisterPeModder/SensorSensei/internal/logging"
	"github.com/MisterPeModder/SensorSensei/internal/metrics"
)

// Exporter delivers one batch of points to a collector.
type Exporter interface {
	Name() string
	Export(ctx context.Context, points []hub.Point) error
}

const (
	defaultBatchSize   = 64
	defaultHTTPTimeout = 10 * time.Second
)

// Runner drains the hub and fans batches out to all exporters.
type Runner struct {
	Hub       *hub.Hub
	Exporters []Exporter
	BatchSize int
}

// Run blocks until ctx is done. It collects at least one point per batch,
// then drains whatever else is already queued, up to BatchSize.
func (r *Runner) Run(ctx context.Context) {
	batch := r.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	cl := r.Hub.Subscribe()
	defer r.Hub.Remove(cl)

	points := make([]hub.Point, 0, batch)
	for {
		points = points[:0]
		select {
		case <-ctx.Done():
			return
		case <-cl.Closed:
			return
		case p := <-cl.Out:
			points = append(points, p)
		}
	drain:
		for len(points) < batch {
			select {
			case p := <-cl.Out:
				points = append(points, p)
			default:
				break drain
			}
		}
		for _, ex := range r.Exporters {
			if err := ex.Export(ctx, points); err != nil {
				metrics.IncError(metrics.ErrExport)
				logging.L().Error("export_error", "exporter", ex.Name(), "points", len(points), "error", err)
				continue
			}
			logging.L().Debug("export_ok", "exporter", ex.Name(), "points", len(points))
		}
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}

// valueTypeName maps a point's type to the collector vocabulary shared by
// both exporters. Air quality readings are published as dust density.
func valueTypeName(p hub.Point) (string, bool) {
	switch p.Type {
	case app.ValueTemperature:
		return "temperature", true
	case app.ValuePressure:
		return "pressure", true
	case app.ValueAltitude:
		return "altitude", true
	case app.ValueAirQuality:
		return "dust_density", true
	default:
		return "", false
	}
}

// pointNumber renders a point's reading as a JSON/line-protocol number.
func pointNumber(p hub.Point) (string, bool) {
	if pa, ok := p.Pressure(); ok {
		return strconv.FormatUint(uint64(pa), 10), true
	}
	if f, ok := p.Float(); ok {
		return strconv.FormatFloat(float64(f), 'g', -1, 32), true
	}
	return "", false
}
