//go:build e2e

// Package e2e drives the orchestrator against real infrastructure started
// through testcontainers. The suite skips itself when Docker is unavailable.
package e2e

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// influxProbe wraps the official InfluxDB v2 client for read-side checks.
// The orchestrator writes through its own sink; the probe only queries what
// landed in the bucket.
type influxProbe struct {
	client influxdb2.Client
	query  api.QueryAPI
	bucket string
}

func newInfluxProbe(url, token, org, bucket string) *influxProbe {
	c := influxdb2.NewClient(url, token)
	return &influxProbe{client: c, query: c.QueryAPI(org), bucket: bucket}
}

// countRows returns the number of rows stored for a measurement over the
// last five minutes. Flux expands a point into one row per field, so a
// single written point yields several rows.
func (p *influxProbe) countRows(ctx context.Context, measurement string) (int, error) {
	flux := fmt.Sprintf(`from(bucket:%q) |> range(start:-5m) |> filter(fn: (r) => r._measurement == %q)`,
		p.bucket, measurement)
	res, err := p.query.Query(ctx, flux)
	if err != nil {
		return 0, err
	}
	defer res.Close()
	n := 0
	for res.Next() {
		n++
	}
	return n, res.Err()
}

func (p *influxProbe) close() { p.client.Close() }
