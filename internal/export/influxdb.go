package export

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MisterPeModder/SensorSensei/internal/hub"
)

// InfluxConfig holds the InfluxDB v2 write endpoint settings.
type InfluxConfig struct {
	URL    string // base URL, e.g. http://influx.local:8086
	Org    string
	Bucket string
	Token  string
}

// InfluxDB pushes readings to an InfluxDB v2 write API using the line
// protocol with second precision.
type InfluxDB struct {
	cfg    InfluxConfig
	client *http.Client
}

func NewInfluxDB(cfg InfluxConfig, timeout time.Duration) *InfluxDB {
	return &InfluxDB{cfg: cfg, client: newHTTPClient(timeout)}
}

func (*InfluxDB) Name() string { return "influxdb" }

func (e *InfluxDB) writeURL() string {
	return fmt.Sprintf("%s/api/v2/write?org=%s&bucket=%s&precision=s",
		strings.TrimSuffix(e.cfg.URL, "/"),
		url.QueryEscape(e.cfg.Org),
		url.QueryEscape(e.cfg.Bucket))
}

func (e *InfluxDB) Export(ctx context.Context, points []hub.Point) error {
	var b strings.Builder
	for _, p := range points {
		name, ok := valueTypeName(p)
		if !ok {
			continue
		}
		num, ok := pointNumber(p)
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(name)
		b.WriteString(",sensor_id=")
		b.WriteString(strconv.FormatUint(uint64(p.SensorID), 10))
		b.WriteString(" value=")
		b.WriteString(num)
		b.WriteByte(' ')
		b.WriteString(strconv.FormatInt(p.Time.Unix(), 10))
	}
	if b.Len() == 0 {
		// don't send empty requests
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.writeURL(), strings.NewReader(b.String()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Token "+e.cfg.Token)

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("influxdb: status %d", resp.StatusCode)
	}
	return nil
}
