package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MisterPeModder/SensorSensei/internal/app"
	"github.com/MisterPeModder/SensorSensei/internal/hub"
)

// DefaultSensorCommunityURL is the public sensor.community ingest endpoint.
const DefaultSensorCommunityURL = "http://api.sensor.community/v1/push-sensor-data/"

// sensor.community routes readings by a per-sensor "pin" header.
const (
	pinParticulateMatter    = "1"
	pinTemperaturePressure  = "3"
	sensorCommunityAgent    = "NRZ-2021-134-B4-ESP32/4123/4123"
	sensorCommunityIDPrefix = "esp32-"
)

// SensorCommunity pushes readings to a sensor.community compatible API.
type SensorCommunity struct {
	URL      string
	SensorID string
	client   *http.Client
}

// NewSensorCommunity builds an exporter for the given station id.
func NewSensorCommunity(url, sensorID string, timeout time.Duration) *SensorCommunity {
	if url == "" {
		url = DefaultSensorCommunityURL
	}
	return &SensorCommunity{URL: url, SensorID: sensorID, client: newHTTPClient(timeout)}
}

func (*SensorCommunity) Name() string { return "sensor.community" }

type scValue struct {
	Value     json.RawMessage `json:"value"`
	ValueType string          `json:"value_type"`
}

type scPayload struct {
	SensorDataValues []scValue `json:"sensordatavalues"`
}

// Export sends one request per pin, skipping pins with no matching points.
func (e *SensorCommunity) Export(ctx context.Context, points []hub.Point) error {
	if err := e.exportPin(ctx, pinParticulateMatter, points, func(p hub.Point) bool {
		return p.Type == app.ValueAirQuality
	}); err != nil {
		return err
	}
	return e.exportPin(ctx, pinTemperaturePressure, points, func(p hub.Point) bool {
		return p.Type == app.ValueTemperature || p.Type == app.ValuePressure
	})
}

func (e *SensorCommunity) exportPin(ctx context.Context, pin string, points []hub.Point, match func(hub.Point) bool) error {
	payload := scPayload{SensorDataValues: []scValue{}}
	for _, p := range points {
		if !match(p) {
			continue
		}
		name, ok := valueTypeName(p)
		if !ok {
			continue
		}
		num, ok := pointNumber(p)
		if !ok {
			continue
		}
		payload.SensorDataValues = append(payload.SensorDataValues, scValue{
			Value:     json.RawMessage(num),
			ValueType: name,
		})
	}
	if len(payload.SensorDataValues) == 0 {
		// don't send empty requests
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", sensorCommunityAgent)
	req.Header.Set("X-Sensor", sensorCommunityIDPrefix+e.SensorID)
	req.Header.Set("X-Pin", pin)

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sensor.community: pin %s: status %d", pin, resp.StatusCode)
	}
	return nil
}
