// Command detent_logger records detent state changes in InfluxDB.
package main

import (
	"context"
	"log"
	"os"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/influxdata/influxdb-client-go/api/write"
	"github.com/w1xm/detent_knob/client"
	"github.com/w1xm/detent_knob/detent"
)

type settings struct {
	server, token, org, bucket, address string
}

// settingsFromEnv reads the logger settings, defaulting what is unset.
func settingsFromEnv(getenv func(string) string) settings {
	get := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}
	return settings{
		server:  get("INFLUX_SERVER", "http://localhost:9999"),
		token:   getenv("INFLUX_TOKEN"),
		org:     get("INFLUX_ORG", "w1xm"),
		bucket:  get("INFLUX_BUCKET", "detents.raw"),
		address: get("DETENTS_ADDRESS", "ws://localhost:8765/ws"),
	}
}

func main() {
	cfg := settingsFromEnv(os.Getenv)
	influx := influxdb2.NewClient(cfg.server, cfg.token)
	defer influx.Close()
	// Get non-blocking write client
	writeApi := influx.WriteApi(cfg.org, cfg.bucket)
	defer writeApi.Close()
	go func() {
		for err := range writeApi.Errors() {
			log.Printf("write error: %v", err)
		}
	}()
	log.Printf("logging %s to %s/%s on %s", cfg.address, cfg.org, cfg.bucket, cfg.server)
	for {
		if err := logData(writeApi, cfg.address); err != nil {
			log.Print(err)
		}
		time.Sleep(1 * time.Second)
	}
}

// tracker fills in the detent count for snapshots that carry only a
// position.
type tracker struct {
	detents int
}

func (t *tracker) point(s detent.Snapshot, ts time.Time) *write.Point {
	if s.Detents != nil {
		t.detents = *s.Detents
	}
	fields := map[string]interface{}{
		"pos": s.Pos,
	}
	if t.detents > 0 {
		fields["detents"] = t.detents
		fields["angle"] = float64(s.Pos) / float64(t.detents)
	}
	return influxdb2.NewPoint("detents.state", nil, fields, ts)
}

func logData(writeApi api.WriteApi, url string) error {
	defer writeApi.Flush()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	c, err := client.Dial(ctx, url)
	cancel()
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.GetState(); err != nil {
		return err
	}
	var t tracker
	for {
		s, err := c.Next()
		if err != nil {
			return err
		}
		// write asynchronously
		writeApi.WritePoint(t.point(s, time.Now()))
	}
}
